package connection

import (
	"context"
	"fmt"
)

// Send calls method and decodes the result into res.Result.
// res may be nil when the caller only cares about the error.
func Send[Result any](c Connection, ctx context.Context, res *RPCResponse[Result], method string, params ...any) error {
	rawRes, err := c.Send(ctx, method, params...)
	if err != nil {
		return err
	}

	if res == nil {
		return nil
	}

	if rawRes.ID != nil {
		res.ID = rawRes.ID
	}
	res.Error = rawRes.Error

	if rawRes.Result == nil {
		res.Result = nil
		return nil
	}

	var r Result
	if err := c.GetUnmarshaler().Unmarshal(*rawRes.Result, &r); err != nil {
		return fmt.Errorf("Send: error unmarshaling result of %s: %w", method, err)
	}

	res.Result = &r

	return nil
}
