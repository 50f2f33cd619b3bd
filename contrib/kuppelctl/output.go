package kuppelctl

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

var ValidFormats = []string{FormatText, FormatJSON}

// Exit codes of the kuppelctl process.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the exit code for err; errors that are not an
// ExitError map to ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

type response struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Output writes results as text or as one JSON envelope per result.
type Output struct {
	Format string
	Writer io.Writer
}

// Print writes data; text renders the human form.
func (o Output) Print(data any, text func(w io.Writer)) error {
	if o.Format == FormatJSON {
		return json.NewEncoder(o.Writer).Encode(response{Status: "ok", Data: data})
	}
	text(o.Writer)
	return nil
}

func (o Output) Fail(message, hint string) error {
	if o.Format == FormatJSON {
		return json.NewEncoder(o.Writer).Encode(response{Status: "error", Error: &errorBody{Message: message, Hint: hint}})
	}
	fmt.Fprintln(o.Writer, message)
	if hint != "" {
		fmt.Fprintln(o.Writer, hint)
	}
	return nil
}
