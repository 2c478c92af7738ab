package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func intp(v int) *int { return &v }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMigrationsApplied(t *testing.T) {
	s := newTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, s.MigrateUp())

	require.NoError(t, s.MigrateDown())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	require.NoError(t, s.MigrateUp())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestRecordAndListReadings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, r := range []int{300, 850, 851, 120} {
		_, err := s.RecordReading(ctx, Reading{
			Session: "s1",
			SwarmID: i,
			Reading: r,
			LED:     i % 3,
			At:      t0.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	all, err := s.Readings(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, 300, all[0].Reading)
	assert.Equal(t, t0, all[0].At)

	last, err := s.Readings(ctx, 2)
	require.NoError(t, err)
	got := []int{last[0].Reading, last[1].Reading}
	if diff := cmp.Diff([]int{851, 120}, got); diff != "" {
		t.Errorf("Readings(2) mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, last[1].SwarmID)
	assert.Equal(t, 0, last[1].LED)
}

func TestRecordEventsWithOptionalFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RecordEvent(ctx, Event{Session: "s1", Kind: EventMasterSet, SwarmID: intp(4), Reading: intp(850), At: t0})
	require.NoError(t, err)
	_, err = s.RecordEvent(ctx, Event{Session: "s1", Kind: EventMasterChange, SwarmID: intp(1), PrevID: intp(4), Reading: intp(1000), At: t0.Add(time.Second)})
	require.NoError(t, err)
	_, err = s.RecordEvent(ctx, Event{Session: "s1", Kind: EventReset, At: t0.Add(2 * time.Second)})
	require.NoError(t, err)

	events, err := s.Events(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, EventMasterSet, events[0].Kind)
	assert.Nil(t, events[0].PrevID)
	require.NotNil(t, events[1].PrevID)
	assert.Equal(t, 4, *events[1].PrevID)
	assert.Equal(t, 1, *events[1].SwarmID)
	assert.Nil(t, events[2].SwarmID)
	assert.Nil(t, events[2].Reading)
}

func TestTruncateKeepsSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StartSession(ctx, Session{ID: "a", Reason: "startup", Started: t0}))
	_, err := s.RecordReading(ctx, Reading{Session: "a", SwarmID: 2, Reading: 10, At: t0})
	require.NoError(t, err)
	_, err = s.RecordEvent(ctx, Event{Session: "a", Kind: EventMasterSet, SwarmID: intp(2), At: t0})
	require.NoError(t, err)

	require.NoError(t, s.Truncate(ctx))
	require.NoError(t, s.StartSession(ctx, Session{ID: "b", Reason: "reset", Started: t0.Add(time.Minute)}))

	readings, err := s.Readings(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, readings)
	events, err := s.Events(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	want := []Session{
		{ID: "a", Reason: "startup", Started: t0},
		{ID: "b", Reason: "reset", Started: t0.Add(time.Minute)},
	}
	if diff := cmp.Diff(want, sessions); diff != "" {
		t.Errorf("Sessions() mismatch (-want +got):\n%s", diff)
	}
}

func TestInMemoryStore(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.RecordReading(context.Background(), Reading{Session: "m", SwarmID: 1, Reading: 5, At: t0})
	require.NoError(t, err)
	readings, err := s.Readings(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}

func TestAdminBackupRoute(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RecordReading(context.Background(), Reading{Session: "x", SwarmID: 1, Reading: 42, At: t0})
	require.NoError(t, err)

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3\x00")), "backup is not a sqlite file")
}
