package connection

import "fmt"

// RPCError represents a backend error. Business-rule errors raised by
// remote procedures carry structured Details.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (r *RPCError) Error() string {
	if r.Details != "" {
		return fmt.Sprintf("%s: %s", r.Message, r.Details)
	}
	return r.Message
}

func (r *RPCError) Is(target error) bool {
	if target == nil {
		return r == nil
	}

	_, ok := target.(*RPCError)
	return ok
}

// RPCRequest represents an outgoing RPC request
type RPCRequest struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
}

// RPCResponse represents an incoming RPC response
type RPCResponse[T any] struct {
	// ID is the ID of the request this response corresponds to.
	// Notifications have no ID.
	ID     any       `json:"id"`
	Error  *RPCError `json:"error,omitempty"`
	Result *T        `json:"result,omitempty"`
}

type RPCFunction string

var (
	SignIn       RPCFunction = "signin"
	Authenticate RPCFunction = "authenticate"
	Invalidate   RPCFunction = "invalidate"
	Live         RPCFunction = "live"
	Kill         RPCFunction = "kill"
	Select       RPCFunction = "select"
	Insert       RPCFunction = "insert"
	Update       RPCFunction = "update"
	RPC          RPCFunction = "rpc"
)
