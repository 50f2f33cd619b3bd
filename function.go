package kuppel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
)

// FunctionError is a failed serverless function invocation.
type FunctionError struct {
	Function string
	Status   int
	Message  string
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("function %s failed with status %d: %s", e.Function, e.Status, e.Message)
}

// InvokeFunction POSTs body as JSON to the named function and decodes the
// JSON response into T. The session token, when present, is sent as a
// bearer token.
func InvokeFunction[T any](ctx context.Context, db *DB, name string, body any) (*T, error) {
	if db.functionsURL == "" {
		return nil, fmt.Errorf("invoke %s: functions URL not set", name)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, db.functionsURL+"/functions/v1/"+name, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := db.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := db.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode >= http.StatusBadRequest {
		return nil, &FunctionError{Function: name, Status: res.StatusCode, Message: errorMessage(data, res.Status)}
	}

	var out T
	if len(data) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invoke %s: %w", name, err)
	}
	return &out, nil
}

// errorMessage peeks at the error fields of a function's JSON body
// without decoding the whole document.
func errorMessage(data []byte, fallback string) string {
	for _, key := range []string{"error", "message"} {
		if msg, err := jsonparser.GetString(data, key); err == nil && msg != "" {
			return msg
		}
	}
	if msg, err := jsonparser.GetString(data, "error", "message"); err == nil && msg != "" {
		return msg
	}
	if len(data) > 0 && data[0] != '{' {
		return string(data)
	}
	return fallback
}
