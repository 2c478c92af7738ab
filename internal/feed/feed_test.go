package feed

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/lightswarm/internal/collector"
	"github.com/banshee-data/lightswarm/internal/monitoring"
)

type fakeSource struct {
	mu         sync.Mutex
	ch         chan collector.Update
	subscribed chan struct{}
	unsubbed   chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		ch:         make(chan collector.Update, 8),
		subscribed: make(chan struct{}),
		unsubbed:   make(chan struct{}),
	}
}

func (f *fakeSource) Subscribe() (int, <-chan collector.Update) {
	close(f.subscribed)
	return 7, f.ch
}

func (f *fakeSource) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.unsubbed)
}

func dialFeed(t *testing.T, src Source) *grpc.ClientConn {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer()
	NewServer(src).Register(g)
	go g.Serve(lis)
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

var errDone = errors.New("done")

func TestWatchStreamsFilteredUpdates(t *testing.T) {
	src := newFakeSource()
	conn := dialFeed(t, src)

	at := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	got := make(chan collector.Update, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(context.Background(), conn, []string{"master_change", "reset"}, func(u collector.Update) error {
			got <- u
			if u.Kind == collector.UpdateReset {
				return errDone
			}
			return nil
		})
	}()

	select {
	case <-src.subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("server never subscribed")
	}

	src.ch <- collector.Update{Kind: collector.UpdateReading, SwarmID: 4, Reading: 500, At: at}
	src.ch <- collector.Update{Kind: collector.UpdateMasterChange, Session: "s", SwarmID: 1, PrevID: 4, Reading: 1000, LED: 1, Interval: 6 * time.Millisecond, At: at}
	src.ch <- collector.Update{Kind: collector.UpdateReset, Session: "s2", SwarmID: -1, PrevID: -1, LED: -1, At: at}

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errDone)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return")
	}

	require.Len(t, got, 2, "reading update filtered out")
	first := <-got
	assert.Equal(t, collector.Update{Kind: collector.UpdateMasterChange, Session: "s", SwarmID: 1, PrevID: 4, Reading: 1000, LED: 1, Interval: 6 * time.Millisecond, At: at}, first)
	second := <-got
	assert.Equal(t, collector.UpdateReset, second.Kind)
	assert.Equal(t, -1, second.SwarmID)

	select {
	case <-src.unsubbed:
	case <-time.After(5 * time.Second):
		t.Fatal("server never unsubscribed")
	}
}

func TestWatchEndsWhenFeedCloses(t *testing.T) {
	src := newFakeSource()
	conn := dialFeed(t, src)

	done := make(chan error, 1)
	go func() {
		done <- Watch(context.Background(), conn, nil, func(collector.Update) error { return nil })
	}()
	<-src.subscribed
	close(src.ch)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "feed closed")
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return")
	}
}

func TestEncodeDecode(t *testing.T) {
	u := collector.Update{Kind: collector.UpdateMasterSet, Session: "abc", SwarmID: 3, PrevID: -1, Reading: 512, LED: 2, Interval: 1034 * time.Millisecond, At: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	msg, err := Encode(u)
	require.NoError(t, err)
	assert.Equal(t, "master_set", msg.GetFields()["kind"].GetStringValue())
	assert.Equal(t, float64(1034), msg.GetFields()["interval_ms"].GetNumberValue())

	back, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, u, back)
}
