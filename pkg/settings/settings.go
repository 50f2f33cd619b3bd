// Package settings holds the terminal's local preferences: layout and the
// selected company and branch. Values are read once when a Manager loads
// and written only on an explicit save. Missing blobs and missing fields
// fall back to defaults.
package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/kuppel/kuppel.go/pkg/logger"
	"github.com/kuppel/kuppel.go/pkg/validation"
)

const (
	KeyLayoutSettings  = "kuppel-layout-settings"
	KeyLayoutConfig    = "kuppel-layout-config"
	KeySelectedCompany = "kuppel_selected_company"
	KeySelectedBranch  = "kuppel_selected_branch"
)

// Keys lists every persisted key.
var Keys = []string{KeyLayoutSettings, KeyLayoutConfig, KeySelectedCompany, KeySelectedBranch}

type ButtonSize string

const (
	ButtonSmall  ButtonSize = "small"
	ButtonMedium ButtonSize = "medium"
	ButtonLarge  ButtonSize = "large"
)

type View string

const (
	ViewGrid View = "grid"
	ViewList View = "list"
)

type LayoutSettings struct {
	ButtonSize     ButtonSize `json:"buttonSize"`
	CompactMode    bool       `json:"compactMode"`
	TouchOptimized bool       `json:"touchOptimized"`
}

func DefaultLayoutSettings() LayoutSettings {
	return LayoutSettings{ButtonSize: ButtonMedium, CompactMode: false, TouchOptimized: true}
}

func (l LayoutSettings) Validate() validation.Result {
	return validation.OneOf("button size", l.ButtonSize, ButtonSmall, ButtonMedium, ButtonLarge)
}

type LayoutConfig struct {
	TablesEnabled     bool `json:"tablesEnabled"`
	DefaultView       View `json:"defaultView"`
	ShowProductImages bool `json:"showProductImages"`
}

func DefaultLayoutConfig() LayoutConfig {
	return LayoutConfig{TablesEnabled: true, DefaultView: ViewGrid, ShowProductImages: true}
}

func (l LayoutConfig) Validate() validation.Result {
	return validation.OneOf("default view", l.DefaultView, ViewGrid, ViewList)
}

// Snapshot is the full set of preferences.
type Snapshot struct {
	Layout          LayoutSettings `json:"layoutSettings"`
	Config          LayoutConfig   `json:"layoutConfig"`
	SelectedCompany string         `json:"selectedCompany"`
	SelectedBranch  string         `json:"selectedBranch"`
}

func Defaults() Snapshot {
	return Snapshot{Layout: DefaultLayoutSettings(), Config: DefaultLayoutConfig()}
}

type Manager struct {
	store  Store
	logger logger.Logger

	mu   sync.RWMutex
	snap Snapshot
}

type Option func(m *Manager)

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Load reads every key from the store. A blob that cannot be decoded is
// logged and replaced by its defaults; only store failures are errors.
func Load(ctx context.Context, store Store, opts ...Option) (*Manager, error) {
	m := &Manager{store: store, logger: logger.Nop(), snap: Defaults()}
	for _, o := range opts {
		o(m)
	}

	if err := m.loadJSON(ctx, KeyLayoutSettings, &m.snap.Layout); err != nil {
		return nil, err
	}
	if err := m.loadJSON(ctx, KeyLayoutConfig, &m.snap.Config); err != nil {
		return nil, err
	}
	var err error
	if m.snap.SelectedCompany, err = m.loadString(ctx, KeySelectedCompany); err != nil {
		return nil, err
	}
	if m.snap.SelectedBranch, err = m.loadString(ctx, KeySelectedBranch); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadJSON(ctx context.Context, key string, dst any) error {
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("settings: read %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	if err := mergeInto(raw, dst); err != nil {
		m.logger.Warn("ignoring unreadable setting", "key", key, "error", err)
	}
	return nil
}

// mergeInto decodes raw over dst, leaving dst untouched on failure.
func mergeInto(raw []byte, dst any) error {
	switch d := dst.(type) {
	case *LayoutSettings:
		v := *d
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		*d = v
	case *LayoutConfig:
		v := *d
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		*d = v
	default:
		return fmt.Errorf("settings: unsupported target %T", dst)
	}
	return nil
}

func (m *Manager) loadString(ctx context.Context, key string) (string, error) {
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("settings: read %s: %w", key, err)
	}
	if !ok {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		// values written before ids were stored as JSON
		return string(raw), nil
	}
	return id, nil
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *Manager) LayoutSettings() LayoutSettings { return m.Snapshot().Layout }

func (m *Manager) LayoutConfig() LayoutConfig { return m.Snapshot().Config }

func (m *Manager) SelectedCompany() string { return m.Snapshot().SelectedCompany }

func (m *Manager) SelectedBranch() string { return m.Snapshot().SelectedBranch }

func (m *Manager) SaveLayoutSettings(ctx context.Context, l LayoutSettings) error {
	if err := l.Validate().Err(); err != nil {
		return err
	}
	if err := m.saveJSON(ctx, KeyLayoutSettings, l); err != nil {
		return err
	}
	m.mu.Lock()
	m.snap.Layout = l
	m.mu.Unlock()
	return nil
}

func (m *Manager) SaveLayoutConfig(ctx context.Context, c LayoutConfig) error {
	if err := c.Validate().Err(); err != nil {
		return err
	}
	if err := m.saveJSON(ctx, KeyLayoutConfig, c); err != nil {
		return err
	}
	m.mu.Lock()
	m.snap.Config = c
	m.mu.Unlock()
	return nil
}

// SelectCompany stores the company and clears the branch, which belongs
// to the previous company.
func (m *Manager) SelectCompany(ctx context.Context, companyID string) error {
	if err := m.saveJSON(ctx, KeySelectedCompany, companyID); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, KeySelectedBranch); err != nil {
		return err
	}
	m.mu.Lock()
	m.snap.SelectedCompany, m.snap.SelectedBranch = companyID, ""
	m.mu.Unlock()
	return nil
}

func (m *Manager) SelectBranch(ctx context.Context, branchID string) error {
	if err := m.saveJSON(ctx, KeySelectedBranch, branchID); err != nil {
		return err
	}
	m.mu.Lock()
	m.snap.SelectedBranch = branchID
	m.mu.Unlock()
	return nil
}

// Raw returns the effective value of key as JSON, defaults applied.
func (m *Manager) Raw(key string) ([]byte, error) {
	s := m.Snapshot()
	switch key {
	case KeyLayoutSettings:
		return json.Marshal(s.Layout)
	case KeyLayoutConfig:
		return json.Marshal(s.Config)
	case KeySelectedCompany:
		return json.Marshal(s.SelectedCompany)
	case KeySelectedBranch:
		return json.Marshal(s.SelectedBranch)
	default:
		return nil, fmt.Errorf("settings: unknown key %q", key)
	}
}

// SetRaw saves a JSON value for key. Layout blobs may be partial; the
// missing fields take their defaults, not their current values.
func (m *Manager) SetRaw(ctx context.Context, key string, value []byte) error {
	switch key {
	case KeyLayoutSettings:
		l := DefaultLayoutSettings()
		if err := mergeInto(value, &l); err != nil {
			return fmt.Errorf("settings: %s: %w", key, err)
		}
		return m.SaveLayoutSettings(ctx, l)
	case KeyLayoutConfig:
		c := DefaultLayoutConfig()
		if err := mergeInto(value, &c); err != nil {
			return fmt.Errorf("settings: %s: %w", key, err)
		}
		return m.SaveLayoutConfig(ctx, c)
	case KeySelectedCompany, KeySelectedBranch:
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			s = string(value)
		}
		if key == KeySelectedCompany {
			return m.SelectCompany(ctx, s)
		}
		return m.SelectBranch(ctx, s)
	default:
		return fmt.Errorf("settings: unknown key %q", key)
	}
}

// Reset removes every key and returns to the defaults.
func (m *Manager) Reset(ctx context.Context) error {
	for _, k := range Keys {
		if err := m.store.Delete(ctx, k); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.snap = Defaults()
	m.mu.Unlock()
	return nil
}

func (m *Manager) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, data)
}
