// Package notify carries user-visible messages: toasts for failed
// mutations and business-rule errors, in the operator's language.
package notify

import (
	"errors"
	"sync"
	"unicode/utf8"

	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/kuppel/kuppel.go/pkg/logger"
)

// DetailLimit caps error details shown in a toast.
const DetailLimit = 160

type Variant string

const (
	Default     Variant = "default"
	Destructive Variant = "destructive"
)

type Toast struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}

type Notifier interface {
	Notify(t Toast)
}

type NotifierFunc func(t Toast)

func (f NotifierFunc) Notify(t Toast) { f(t) }

// Discard drops every toast.
var Discard Notifier = NotifierFunc(func(Toast) {})

// LogNotifier writes toasts to a logger, for headless runs.
type LogNotifier struct {
	Logger logger.Logger
}

func (n LogNotifier) Notify(t Toast) {
	if t.Variant == Destructive {
		n.Logger.Error(t.Title, "description", t.Description)
		return
	}
	n.Logger.Info(t.Title, "description", t.Description)
}

// Recorder keeps every toast.
type Recorder struct {
	mu     sync.Mutex
	toasts []Toast
}

func (r *Recorder) Notify(t Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

// Failure builds the destructive toast for a failed action. Backend
// business-rule errors show their message and truncated details.
func Failure(c Catalog, action string, err error) Toast {
	desc := c.T(action)
	if err != nil {
		desc += ": " + Truncate(describe(err), DetailLimit)
	}
	return Toast{Title: c.T(KeyErrorTitle), Description: desc, Variant: Destructive}
}

// Success builds the default toast for a completed action.
func Success(c Catalog, key string, args ...any) Toast {
	return Toast{Title: c.T(KeySuccessTitle), Description: c.T(key, args...), Variant: Default}
}

func describe(err error) string {
	var rpcErr *connection.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Details != "" {
			return rpcErr.Message + " (" + rpcErr.Details + ")"
		}
		return rpcErr.Message
	}
	return err.Error()
}
