package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/kuppel/kuppel.go/internal/codec"
	"github.com/kuppel/kuppel.go/pkg/constants"
	"github.com/kuppel/kuppel.go/pkg/logger"
)

// Connection is an engine that carries RPC requests to the backend and
// live notifications back.
type Connection interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	// Send issues one RPC call and waits for its response.
	// Use the generic Send function to decode the result into a type.
	Send(ctx context.Context, method string, params ...any) (*RPCResponse[cbor.RawMessage], error)
	// LiveNotifications registers the local channel for a live query id
	// returned by the "live" method.
	LiveNotifications(liveQueryID string) (chan Notification, error)
	// CloseLiveNotifications unregisters and closes that channel.
	CloseLiveNotifications(liveQueryID string) error
	GetUnmarshaler() codec.Unmarshaler
}

// Config is what every engine needs to be constructed.
type Config struct {
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger
}

// NewConfig returns a Config with the CBOR codec and a stdout logger.
func NewConfig(baseURL string) *Config {
	c := codec.NewCBOR()
	return &Config{
		BaseURL:     baseURL,
		Marshaler:   c,
		Unmarshaler: c,
		Logger:      logger.Default(),
	}
}

// Toolkit holds the channel registries shared by the engines.
type Toolkit struct {
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger

	ResponseChannels     map[string]chan RPCResponse[cbor.RawMessage]
	ResponseChannelsLock sync.RWMutex

	NotificationChannels     map[string]chan Notification
	NotificationChannelsLock sync.RWMutex
}

func NewToolkit(p *Config) Toolkit {
	l := p.Logger
	if l == nil {
		l = logger.Nop()
	}
	return Toolkit{
		BaseURL:              p.BaseURL,
		Marshaler:            p.Marshaler,
		Unmarshaler:          p.Unmarshaler,
		Logger:               l,
		ResponseChannels:     make(map[string]chan RPCResponse[cbor.RawMessage]),
		NotificationChannels: make(map[string]chan Notification),
	}
}

func (tk *Toolkit) PreConnectionChecks() error {
	if tk.BaseURL == "" {
		return constants.ErrNoBaseURL
	}

	if tk.Marshaler == nil {
		return constants.ErrNoMarshaler
	}

	if tk.Unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}

	return nil
}

func (tk *Toolkit) GetUnmarshaler() codec.Unmarshaler {
	return tk.Unmarshaler
}

func (tk *Toolkit) CreateResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], error) {
	tk.ResponseChannelsLock.Lock()
	defer tk.ResponseChannelsLock.Unlock()

	if _, ok := tk.ResponseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}

	// buffered so a late response never blocks the read loop
	ch := make(chan RPCResponse[cbor.RawMessage], 1)
	tk.ResponseChannels[id] = ch

	return ch, nil
}

func (tk *Toolkit) GetResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], bool) {
	tk.ResponseChannelsLock.RLock()
	defer tk.ResponseChannelsLock.RUnlock()
	ch, ok := tk.ResponseChannels[id]
	return ch, ok
}

func (tk *Toolkit) RemoveResponseChannel(id string) {
	tk.ResponseChannelsLock.Lock()
	defer tk.ResponseChannelsLock.Unlock()
	delete(tk.ResponseChannels, id)
}

func (tk *Toolkit) LiveNotifications(liveQueryID string) (chan Notification, error) {
	tk.NotificationChannelsLock.Lock()
	defer tk.NotificationChannelsLock.Unlock()

	if _, ok := tk.NotificationChannels[liveQueryID]; ok {
		err := fmt.Errorf("%w: %v", constants.ErrIDInUse, liveQueryID)
		tk.Logger.Error(err.Error())
		return nil, err
	}

	ch := make(chan Notification, constants.NotificationBufferSize)
	tk.NotificationChannels[liveQueryID] = ch

	return ch, nil
}

func (tk *Toolkit) CloseLiveNotifications(liveQueryID string) error {
	tk.NotificationChannelsLock.Lock()
	defer tk.NotificationChannelsLock.Unlock()

	ch, ok := tk.NotificationChannels[liveQueryID]
	if !ok {
		return fmt.Errorf("%w: %v", constants.ErrUnknownLiveQuery, liveQueryID)
	}
	delete(tk.NotificationChannels, liveQueryID)
	close(ch)

	return nil
}

// CloseAllLiveNotifications closes every registered channel, which ends
// the consumers' range loops when the connection goes away.
func (tk *Toolkit) CloseAllLiveNotifications() {
	tk.NotificationChannelsLock.Lock()
	defer tk.NotificationChannelsLock.Unlock()

	for id, ch := range tk.NotificationChannels {
		close(ch)
		delete(tk.NotificationChannels, id)
	}
}

// DeliverNotification hands n to the channel registered for its live id.
// It never blocks: a full channel drops the notification with a warning.
func (tk *Toolkit) DeliverNotification(n Notification) {
	tk.NotificationChannelsLock.RLock()
	defer tk.NotificationChannelsLock.RUnlock()

	ch, ok := tk.NotificationChannels[n.ID]
	if !ok {
		tk.Logger.Warn("notification for unknown live query", "live_id", n.ID, "table", n.Table)
		return
	}

	select {
	case ch <- n:
	default:
		tk.Logger.Warn("dropping notification, channel is full", "live_id", n.ID, "table", n.Table)
	}
}
