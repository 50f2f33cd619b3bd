package tour_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/kuppel/kuppel.go"
	"github.com/kuppel/kuppel.go/internal/fakebackend"
	"github.com/kuppel/kuppel.go/pkg/constants"
	"github.com/kuppel/kuppel.go/pkg/logger"
	"github.com/kuppel/kuppel.go/pkg/notify"
	"github.com/kuppel/kuppel.go/pkg/querycache"
	"github.com/kuppel/kuppel.go/pkg/tour"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteTour(t *testing.T) {
	server := fakebackend.NewServer("127.0.0.1:0")
	server.Seed(constants.TableUsers, map[string]any{"id": "u1", "email": "ana@cafe.co", "tour_completed": false})
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	ctx := context.Background()
	db, err := kuppel.Connect(ctx, server.URL())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(ctx) })

	rec := &notify.Recorder{}
	svc := tour.NewService(db, querycache.New(querycache.NewMemoryStore()), rec, notify.NewCatalog("en"))

	q := svc.StatusQuery("u1")
	assert.False(t, q.Fetch(ctx).Data)

	require.NoError(t, svc.Complete(ctx, "u1"))
	assert.True(t, q.Fetch(ctx).Data)
	assert.Equal(t, true, server.Rows(constants.TableUsers)[0]["tour_completed"])

	done, err := svc.Status(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, done)

	err = svc.Complete(ctx, "nobody")
	require.ErrorIs(t, err, constants.ErrNoRow)
	require.Len(t, rec.Toasts(), 1)
	assert.Contains(t, rec.Toasts()[0].Description, "Could not save the tour")
}

// brokenStore cannot drop entries.
type brokenStore struct {
	*querycache.MemoryStore
}

func (brokenStore) DeletePrefix(context.Context, string) error {
	return errors.New("cache unreachable")
}

func TestCompleteSurvivesInvalidationFailure(t *testing.T) {
	server := fakebackend.NewServer("127.0.0.1:0")
	server.Seed(constants.TableUsers, map[string]any{"id": "u1", "email": "ana@cafe.co", "tour_completed": false})
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	ctx := context.Background()
	db, err := kuppel.Connect(ctx, server.URL())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(ctx) })

	var buf bytes.Buffer
	log, err := logger.New().FromBuffer(&buf).Level("warn").Make()
	require.NoError(t, err)

	rec := &notify.Recorder{}
	cache := querycache.New(brokenStore{querycache.NewMemoryStore()})
	svc := tour.NewService(db, cache, rec, notify.NewCatalog("en"), tour.WithLogger(log))

	require.NoError(t, svc.Complete(ctx, "u1"))
	assert.Equal(t, true, server.Rows(constants.TableUsers)[0]["tour_completed"])
	assert.Empty(t, rec.Toasts())
	assert.Contains(t, buf.String(), "cache invalidation failed")
}
