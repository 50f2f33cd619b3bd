// Package contrib holds programs and helpers built on the kuppel SDK that
// are not part of the client library itself.
//
// [github.com/kuppel/kuppel.go/contrib/kuppelctl] is the operator CLI: it
// follows the realtime channels, prints the dashboard figures, processes
// invoices and edits the local terminal settings. Run it with
// KUPPEL_USE_MOCK_DATA=true to work against a seeded in-process backend.
//
// Packages under contrib are outside the compatibility guarantees of the
// core SDK.
package contrib
