package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Response is the JSON output of every command.
type Response struct {
	Status string `json:"status"` // "ok" or "error"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Success outputs a result: text is used for the text format, data for JSON.
func (f *OutputFormatter) Success(text string, data any) error {
	if f.Format == "json" {
		return f.encode(Response{Status: "ok", Data: data})
	}
	_, err := fmt.Fprint(f.Writer, text)
	return err
}

// Error outputs a failure. In text format it is left to the caller, through the returned error.
func (f *OutputFormatter) Error(err error) error {
	if f.Format == "json" {
		if encErr := f.encode(Response{Status: "error", Error: err.Error()}); encErr != nil {
			return encErr
		}
	}
	return err
}

func (f *OutputFormatter) encode(response Response) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}
