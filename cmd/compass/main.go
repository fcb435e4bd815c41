package main

import (
	"fmt"
	"os"

	"github.com/tillberg/autorestart"

	"github.com/soyeahso/compass/internal/cli"
)

func main() {
	// Restart when the binary is rebuilt; handy while iterating on serve.
	if os.Getenv("COMPASS_DEV_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
