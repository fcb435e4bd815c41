package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/soyeahso/compass/internal/stream"
)

// describe turns err into the text shown in State.Error.
func describe(op string, err error) string {
	return fmt.Sprintf("%s: %s", op, reason(err))
}

func reason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "the request timed out"
	}

	var te *stream.TransportError
	if errors.As(err, &te) {
		switch {
		case te.StatusCode == http.StatusUnauthorized:
			return "not signed in or session expired"
		case te.StatusCode != 0:
			return te.Message
		case te.Err != nil:
			return "could not reach the server (" + te.Err.Error() + ")"
		default:
			return te.Message
		}
	}
	return err.Error()
}
