package settings_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kuppel/kuppel.go/pkg/settings"
	"github.com/kuppel/kuppel.go/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]func() settings.Store {
	dir := t.TempDir()
	sqlite, err := settings.OpenSQLiteStore(filepath.Join(dir, "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	mem := settings.NewMemoryStore()
	file := filepath.Join(dir, "nested", "settings.json")
	return map[string]func() settings.Store{
		"memory": func() settings.Store { return mem },
		"file":   func() settings.Store { return settings.NewFileStore(file) },
		"sqlite": func() settings.Store { return sqlite },
	}
}

func TestDefaultsWhenEmpty(t *testing.T) {
	m, err := settings.Load(context.Background(), settings.NewMemoryStore())
	require.NoError(t, err)
	assert.Equal(t, settings.Defaults(), m.Snapshot())
	assert.Equal(t, settings.ButtonMedium, m.LayoutSettings().ButtonSize)
	assert.True(t, m.LayoutSettings().TouchOptimized)
	assert.True(t, m.LayoutConfig().TablesEnabled)
	assert.Equal(t, settings.ViewGrid, m.LayoutConfig().DefaultView)
}

func TestPartialBlobRoundTrip(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, open().Set(ctx, settings.KeyLayoutConfig, []byte(`{"tablesEnabled":false}`)))

			m, err := settings.Load(ctx, open())
			require.NoError(t, err)
			assert.Equal(t, settings.LayoutConfig{
				TablesEnabled:     false,
				DefaultView:       settings.ViewGrid,
				ShowProductImages: true,
			}, m.LayoutConfig())
			assert.Equal(t, settings.DefaultLayoutSettings(), m.LayoutSettings())
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m, err := settings.Load(ctx, open())
			require.NoError(t, err)
			require.NoError(t, m.Reset(ctx))

			layout := settings.LayoutSettings{ButtonSize: settings.ButtonLarge, CompactMode: true}
			require.NoError(t, m.SaveLayoutSettings(ctx, layout))
			require.NoError(t, m.SelectCompany(ctx, "c1"))
			require.NoError(t, m.SelectBranch(ctx, "b2"))

			again, err := settings.Load(ctx, open())
			require.NoError(t, err)
			assert.Equal(t, layout, again.LayoutSettings())
			assert.Equal(t, "c1", again.SelectedCompany())
			assert.Equal(t, "b2", again.SelectedBranch())
			assert.Equal(t, m.Snapshot(), again.Snapshot())

			require.NoError(t, again.SelectCompany(ctx, "c2"))
			assert.Empty(t, again.SelectedBranch())
			reloaded, err := settings.Load(ctx, open())
			require.NoError(t, err)
			assert.Empty(t, reloaded.SelectedBranch())
		})
	}
}

func TestSelectedIDsAreStoredAsJSON(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, open().Set(ctx, settings.KeySelectedCompany, []byte(`"c1"`)))
			require.NoError(t, open().Set(ctx, settings.KeySelectedBranch, []byte(`b-legacy`)))

			m, err := settings.Load(ctx, open())
			require.NoError(t, err)
			assert.Equal(t, "c1", m.SelectedCompany())
			assert.Equal(t, "b-legacy", m.SelectedBranch())

			require.NoError(t, m.SelectCompany(ctx, "c2"))
			require.NoError(t, m.SelectBranch(ctx, "b7"))
			raw, ok, err := open().Get(ctx, settings.KeySelectedCompany)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, `"c2"`, string(raw))
			raw, _, err = open().Get(ctx, settings.KeySelectedBranch)
			require.NoError(t, err)
			assert.Equal(t, `"b7"`, string(raw))

			again, err := settings.Load(ctx, open())
			require.NoError(t, err)
			assert.Equal(t, "c2", again.SelectedCompany())
			assert.Equal(t, "b7", again.SelectedBranch())
		})
	}
}

func TestSetRawMergesWithDefaults(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore()
	m, err := settings.Load(ctx, store)
	require.NoError(t, err)

	require.NoError(t, m.SaveLayoutConfig(ctx, settings.LayoutConfig{DefaultView: settings.ViewList}))
	require.NoError(t, m.SetRaw(ctx, settings.KeyLayoutConfig, []byte(`{"tablesEnabled":false}`)))
	assert.Equal(t, settings.LayoutConfig{DefaultView: settings.ViewGrid, ShowProductImages: true}, m.LayoutConfig())

	require.NoError(t, m.SetRaw(ctx, settings.KeySelectedCompany, []byte(`"c9"`)))
	assert.Equal(t, "c9", m.SelectedCompany())

	raw, err := m.Raw(settings.KeyLayoutConfig)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tablesEnabled":false,"defaultView":"grid","showProductImages":true}`, string(raw))

	_, err = m.Raw("kuppel-theme")
	require.Error(t, err)
	require.Error(t, m.SetRaw(ctx, "kuppel-theme", []byte(`{}`)))
	require.Error(t, m.SetRaw(ctx, settings.KeyLayoutConfig, []byte(`{`)))
}

func TestInvalidValuesAreRejected(t *testing.T) {
	ctx := context.Background()
	m, err := settings.Load(ctx, settings.NewMemoryStore())
	require.NoError(t, err)

	err = m.SaveLayoutSettings(ctx, settings.LayoutSettings{ButtonSize: "huge"})
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, settings.DefaultLayoutSettings(), m.LayoutSettings())
}

func TestUnreadableBlobFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore()
	require.NoError(t, store.Set(ctx, settings.KeyLayoutSettings, []byte(`not json`)))

	m, err := settings.Load(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, settings.DefaultLayoutSettings(), m.LayoutSettings())
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1,2]`), 0o600))

	_, err := settings.Load(context.Background(), settings.NewFileStore(path))
	require.Error(t, err)
}
