package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soyeahso/compass/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get, set or check configuration values",
	}

	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigUnsetCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Example: "  compass config get api.baseUrl\n" +
			"  compass config get render",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, raw, err := loadRawAt(args[0])
			if err != nil {
				return err
			}
			val, ok := config.GetValueAtPath(raw, path)
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}
			return printValue(cmd.OutOrStdout(), val)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := parseValue(args[1])
			err := editRaw(args[0], func(raw map[string]any, path []string) error {
				config.SetValueAtPath(raw, path, value)
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", args[0], value)
			return nil
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := editRaw(args[0], func(raw map[string]any, path []string) error {
				if !config.UnsetValueAtPath(raw, path) {
					return fmt.Errorf("key %q not found", args[0])
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])
			return nil
		},
	}
}

// loadRawAt parses key and loads the config file as a generic map.
func loadRawAt(key string) ([]string, map[string]any, error) {
	path, err := config.ParseConfigPath(key)
	if err != nil {
		return nil, nil, err
	}
	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return nil, nil, err
	}
	return path, raw, nil
}

// editRaw applies fn to the raw config and writes it back when fn succeeds.
// Editing the raw map keeps keys this build does not know about.
func editRaw(key string, fn func(raw map[string]any, path []string) error) error {
	path, raw, err := loadRawAt(key)
	if err != nil {
		return err
	}
	if err := fn(raw, path); err != nil {
		return err
	}
	return config.SaveRaw(paths.Config, raw)
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgErr != nil {
				return cfgErr
			}
			issues := config.Validate(&cfg)
			if len(issues) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Config OK.")
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", issue)
			}
			return fmt.Errorf("%d validation issue(s)", len(issues))
		},
	}
}

// printValue writes scalars on one line and maps or lists as YAML.
func printValue(w io.Writer, v any) error {
	switch val := v.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(val)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		_, err := fmt.Fprintln(w, val)
		return err
	}
}

// parseValue interprets s as a bool or a number when it reads as one.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
