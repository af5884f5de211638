package directory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/casualhall/gameroom/pkg/wire"
)

type fakeConn struct {
	mu       sync.Mutex
	reply    json.RawMessage
	err      error
	requests int
	block    chan struct{} // when set, Request waits on it
	handlers map[string][]func(json.RawMessage)
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string][]func(json.RawMessage))}
}

func (f *fakeConn) Request(ctx context.Context, event string, _, reply any) error {
	f.mu.Lock()
	f.requests++
	block := f.block
	resp := f.reply
	err := f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	if raw, ok := reply.(*json.RawMessage); ok {
		*raw = resp
	}
	return nil
}

func (f *fakeConn) On(event string, fn func(json.RawMessage)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], fn)
	return func() {}
}

func (f *fakeConn) setListing(t *testing.T, rooms []wire.RoomSummary) {
	t.Helper()
	data, err := json.Marshal(rooms)
	require.NoError(t, err)
	f.mu.Lock()
	f.reply = data
	f.mu.Unlock()
}

func (f *fakeConn) fire(event string) {
	f.mu.Lock()
	var handlers []func(json.RawMessage)
	handlers = append(handlers, f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(nil)
	}
}

func (f *fakeConn) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

var listing = []wire.RoomSummary{
	{RoomID: "A1", Players: []wire.PlayerIdentity{{ConnectionID: "c1", DisplayName: "p1"}}},
	{RoomID: "B2", IsFull: true},
}

func TestRefresh_ReplacesListingWholesale(t *testing.T) {
	conn := newFakeConn()
	conn.setListing(t, listing)
	d := New(conn, zap.NewNop())
	defer d.Close()

	rooms, err := d.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, listing, rooms)

	conn.setListing(t, listing[:1])
	rooms, err = d.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, listing[:1], rooms)
	require.Equal(t, listing[:1], d.Rooms())
}

func TestRefresh_IsIdempotent(t *testing.T) {
	conn := newFakeConn()
	conn.setListing(t, listing)
	d := New(conn, zap.NewNop())
	defer d.Close()

	first, err := d.Refresh(context.Background())
	require.NoError(t, err)
	second, err := d.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRefresh_ConcurrentCallersShareOneRequest(t *testing.T) {
	conn := newFakeConn()
	conn.setListing(t, listing)
	release := make(chan struct{})
	conn.block = release
	d := New(conn, zap.NewNop())
	defer d.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := d.Refresh(context.Background())
		require.NoError(t, err)
	}()

	require.Eventually(t, d.Refreshing, time.Second, time.Millisecond)

	// A caller arriving mid-flight waits for the running request and gets
	// its result; no second wire request goes out.
	second := make(chan []wire.RoomSummary, 1)
	go func() {
		rooms, err := d.Refresh(context.Background())
		require.NoError(t, err)
		second <- rooms
	}()

	// Let the second caller park on the in-flight request. Had it issued
	// its own, the request count would already read 2.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, conn.requestCount())

	close(release)
	<-done
	select {
	case rooms := <-second:
		require.Equal(t, listing, rooms)
	case <-time.After(time.Second):
		t.Fatalf("coalesced caller never returned")
	}
	require.Equal(t, 1, conn.requestCount())
}

func TestRefresh_WaitingCallerHonorsContext(t *testing.T) {
	conn := newFakeConn()
	conn.setListing(t, listing)
	release := make(chan struct{})
	defer close(release)
	conn.block = release
	d := New(conn, zap.NewNop())
	defer d.Close()

	go func() {
		_, _ = d.Refresh(context.Background())
	}()
	require.Eventually(t, d.Refreshing, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Refresh(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRefresh_MalformedListingKeepsPrior(t *testing.T) {
	conn := newFakeConn()
	conn.setListing(t, listing)
	d := New(conn, zap.NewNop())
	defer d.Close()

	_, err := d.Refresh(context.Background())
	require.NoError(t, err)

	conn.mu.Lock()
	conn.reply = json.RawMessage(`{"not":"a sequence"}`)
	conn.mu.Unlock()

	rooms, err := d.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, listing, rooms, "prior listing retained on malformed response")
	require.Equal(t, listing, d.Rooms())
}

func TestRefresh_NullListingKeepsPrior(t *testing.T) {
	conn := newFakeConn()
	conn.setListing(t, listing)
	d := New(conn, zap.NewNop())
	defer d.Close()

	_, err := d.Refresh(context.Background())
	require.NoError(t, err)

	// A permissive server answering "no rooms" with a bare null must not
	// wipe the listing; null is not a sequence.
	conn.mu.Lock()
	conn.reply = json.RawMessage(`null`)
	conn.mu.Unlock()

	rooms, err := d.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, listing, rooms)
	require.Equal(t, listing, d.Rooms())
}

func TestRefresh_RequestFailure(t *testing.T) {
	conn := newFakeConn()
	conn.err = errors.New("boom")
	d := New(conn, zap.NewNop())
	defer d.Close()

	_, err := d.Refresh(context.Background())
	require.Error(t, err)
	require.Empty(t, d.Rooms())
}

func TestRoomsUpdated_TriggersRefresh(t *testing.T) {
	conn := newFakeConn()
	conn.setListing(t, listing)
	d := New(conn, zap.NewNop())
	defer d.Close()

	conn.fire(wire.EvtRoomsUpdated)

	require.Eventually(t, func() bool {
		return len(d.Rooms()) == len(listing)
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, conn.requestCount())
}
