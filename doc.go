// Package kuppel is the client core of the Kuppel point-of-sale system.
//
// # Connection Engines
//
// There are 2 connection engines. Provide an endpoint URL to [Connect] so
// that it chooses the right one for you:
//
//   - ws:// and wss:// use the WebSocket RPC engine in
//     [github.com/kuppel/kuppel.go/pkg/connection/gorillaws].
//   - postgres:// and postgresql:// talk to the database directly through
//     [github.com/kuppel/kuppel.go/pkg/connection/postgres].
//
// # Data Access
//
// Reads and filtered writes are described with
// [github.com/kuppel/kuppel.go/pkg/query] and run with [Select], [Insert]
// and [Update]. Server-side procedures run with [Call], serverless
// functions with [InvokeFunction].
//
// Realtime changes are opened with [DB.Live] and consumed from
// [DB.LiveNotifications]. Most callers want the typed events of
// [github.com/kuppel/kuppel.go/pkg/realtime] instead.
//
// # Use Send for low-level control
//
// [Send] is used internally by all data manipulation functions.
// Use it directly when you want to create requests yourself.
package kuppel
