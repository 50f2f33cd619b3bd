package kuppel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kuppel/kuppel.go/internal/codec"
	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/kuppel/kuppel.go/pkg/connection/gorillaws"
	"github.com/kuppel/kuppel.go/pkg/connection/postgres"
	"github.com/kuppel/kuppel.go/pkg/constants"
	"github.com/kuppel/kuppel.go/pkg/logger"
)

// DB is a client for the Kuppel backend.
type DB struct {
	con connection.Connection

	logger       logger.Logger
	functionsURL string
	httpClient   *http.Client
	timeout      time.Duration

	tokenLock sync.RWMutex
	token     string
}

// Auth is the email/password pair used by SignIn.
type Auth struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Option func(db *DB)

// WithLogger sets the logger shared by the client and its engine.
func WithLogger(l logger.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithFunctionsURL sets the base URL of the serverless function runtime.
// By default it is derived from the endpoint: ws becomes http, wss https.
func WithFunctionsURL(u string) Option {
	return func(db *DB) { db.functionsURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient sets the client used by InvokeFunction.
func WithHTTPClient(c *http.Client) Option {
	return func(db *DB) { db.httpClient = c }
}

// WithTimeout bounds every RPC round trip.
func WithTimeout(d time.Duration) Option {
	return func(db *DB) { db.timeout = d }
}

func newDB(opts []Option) *DB {
	db := &DB{
		logger:     logger.Nop(),
		httpClient: &http.Client{Timeout: constants.DefaultHTTPTimeout},
	}
	for _, o := range opts {
		o(db)
	}
	return db
}

// Connect picks the connection engine from the endpoint scheme, connects
// and returns the client.
func Connect(ctx context.Context, endpoint string, opts ...Option) (*DB, error) {
	u, err := url.ParseRequestURI(endpoint)
	if err != nil {
		return nil, err
	}

	db := newDB(opts)

	c := codec.NewCBOR()
	conf := &connection.Config{
		BaseURL:     fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, strings.TrimSuffix(u.Path, "/rpc")),
		Marshaler:   c,
		Unmarshaler: c,
		Logger:      db.logger,
	}

	var con connection.Connection
	switch u.Scheme {
	case constants.WebsocketScheme, constants.WebsocketSecureScheme:
		ws := gorillaws.New(conf)
		if db.timeout > 0 {
			ws.Timeout = db.timeout
		}
		con = ws
		if db.functionsURL == "" {
			scheme := constants.HTTPScheme
			if u.Scheme == constants.WebsocketSecureScheme {
				scheme = constants.HTTPSecureScheme
			}
			db.functionsURL = fmt.Sprintf("%s://%s", scheme, u.Host)
		}
	case constants.PostgresScheme, constants.PostgresqlScheme:
		conf.BaseURL = endpoint
		pg := postgres.New(conf)
		if db.timeout > 0 {
			pg.Timeout = db.timeout
		}
		con = pg
	default:
		return nil, fmt.Errorf("%w: %s", constants.ErrUnsupportedScheme, u.Scheme)
	}

	return db.connect(ctx, con)
}

// FromConnection wraps an engine you built yourself and connects it.
func FromConnection(ctx context.Context, con connection.Connection, opts ...Option) (*DB, error) {
	return newDB(opts).connect(ctx, con)
}

func (db *DB) connect(ctx context.Context, con connection.Connection) (*DB, error) {
	if err := con.Connect(ctx); err != nil {
		return nil, err
	}
	db.con = con
	return db, nil
}

// Close closes the underlying connection and every live notification channel.
func (db *DB) Close(ctx context.Context) error {
	return db.con.Close(ctx)
}

// SignIn signs in with email and password. The returned token is kept
// for the rest of the session and sent to serverless functions.
func (db *DB) SignIn(ctx context.Context, authData Auth) (string, error) {
	var token connection.RPCResponse[string]
	if err := connection.Send(db.con, ctx, &token, string(connection.SignIn), authData); err != nil {
		return "", err
	}
	if token.Result == nil {
		return "", fmt.Errorf("%w: signin returned no token", constants.InvalidResponse)
	}

	db.setToken(*token.Result)
	return *token.Result, nil
}

// Authenticate resumes a session from a token obtained earlier.
func (db *DB) Authenticate(ctx context.Context, token string) error {
	if err := connection.Send[any](db.con, ctx, nil, string(connection.Authenticate), token); err != nil {
		return err
	}
	db.setToken(token)
	return nil
}

// Invalidate ends the session.
func (db *DB) Invalidate(ctx context.Context) error {
	if err := connection.Send[any](db.con, ctx, nil, string(connection.Invalidate)); err != nil {
		return err
	}
	db.setToken("")
	return nil
}

// Token returns the current session token, or "" when signed out.
func (db *DB) Token() string {
	db.tokenLock.RLock()
	defer db.tokenLock.RUnlock()
	return db.token
}

func (db *DB) setToken(token string) {
	db.tokenLock.Lock()
	db.token = token
	db.tokenLock.Unlock()
}

// Live opens a change channel on table for the given actions and returns
// its id. Read the changes from LiveNotifications.
func (db *DB) Live(ctx context.Context, table string, actions ...connection.Action) (string, error) {
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a))
	}

	var id connection.RPCResponse[string]
	if err := connection.Send(db.con, ctx, &id, string(connection.Live), table, names); err != nil {
		return "", err
	}
	if id.Result == nil || *id.Result == "" {
		return "", fmt.Errorf("%w: live returned no id", constants.InvalidResponse)
	}
	return *id.Result, nil
}

// Kill stops the live query server-side and releases its local channel.
// The local channel is released even when the server call fails.
func (db *DB) Kill(ctx context.Context, liveQueryID string) error {
	err := connection.Send[any](db.con, ctx, nil, string(connection.Kill), liveQueryID)
	if cerr := db.con.CloseLiveNotifications(liveQueryID); cerr != nil {
		db.logger.Debug("live channel already released", "id", liveQueryID)
	}
	return err
}

// LiveNotifications returns the channel of changes for a live query id.
func (db *DB) LiveNotifications(liveQueryID string) (chan connection.Notification, error) {
	return db.con.LiveNotifications(liveQueryID)
}

// Unmarshaler decodes notification payloads.
func (db *DB) Unmarshaler() codec.Unmarshaler {
	return db.con.GetUnmarshaler()
}

// Logger returns the client's logger.
func (db *DB) Logger() logger.Logger {
	return db.logger
}
