package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/casualhall/gameroom/pkg/wire"
)

// testServer records every inbound event name in arrival order, acks
// init-connection and list-rooms, and can kill the active connection to
// simulate a transport drop.
type testServer struct {
	ts *httptest.Server

	mu     sync.Mutex
	events []string
	conn   *websocket.Conn
	nextID int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{}
	s.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			env, err := wire.Decode(data)
			if err != nil {
				continue
			}
			s.mu.Lock()
			s.events = append(s.events, env.T)
			s.mu.Unlock()

			switch env.T {
			case wire.CmdInitConnection:
				s.mu.Lock()
				s.nextID++
				id := s.nextID
				s.mu.Unlock()
				ack, _ := wire.Encode(env.T, env.ID, wire.InitAck{ConnectionID: fmt.Sprintf("conn-%d", id)})
				_ = conn.Write(ctx, websocket.MessageText, ack)
			case wire.CmdListRooms:
				if env.ID != 0 {
					ack, _ := wire.Encode(env.T, env.ID, []wire.RoomSummary{{RoomID: "A1"}})
					_ = conn.Write(ctx, websocket.MessageText, ack)
				}
			}
		}
	}))
	t.Cleanup(s.ts.Close)
	return s
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http")
}

func (s *testServer) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *testServer) kill() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusGoingAway, "drop")
	}
}

func openChannel(t *testing.T, url string) *Channel {
	t.Helper()
	c := New(url, zap.NewNop())
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Open(wire.PlayerIdentity{DisplayName: "tester"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))
	return c
}

func TestOpen_AnnouncesIdentityFirst(t *testing.T) {
	srv := newTestServer(t)
	c := openChannel(t, srv.url())

	require.NoError(t, c.Emit(context.Background(), wire.CmdSetUsername, wire.SetUsername{DisplayName: "x"}))

	require.Eventually(t, func() bool {
		return len(srv.recorded()) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	events := srv.recorded()
	require.Equal(t, wire.CmdInitConnection, events[0],
		"the identity announcement must precede all other traffic")
	require.Equal(t, wire.CmdSetUsername, events[1])
	require.Equal(t, "conn-1", c.Identity().ConnectionID)
}

func TestReconnect_ReannouncesBeforeTraffic(t *testing.T) {
	srv := newTestServer(t)
	c := openChannel(t, srv.url())

	require.NoError(t, c.Emit(context.Background(), wire.CmdSetUsername, wire.SetUsername{DisplayName: "a"}))
	require.Eventually(t, func() bool {
		return len(srv.recorded()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	srv.kill()
	require.Eventually(t, func() bool {
		return c.State() == Connecting
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))
	require.NoError(t, c.Emit(context.Background(), wire.CmdSetUsername, wire.SetUsername{DisplayName: "b"}))

	require.Eventually(t, func() bool {
		return len(srv.recorded()) >= 4
	}, 2*time.Second, 10*time.Millisecond)

	events := srv.recorded()
	require.Equal(t, []string{
		wire.CmdInitConnection, wire.CmdSetUsername,
		wire.CmdInitConnection, wire.CmdSetUsername,
	}, events[:4], "reconnect must re-announce before any later event")
	require.Equal(t, "conn-2", c.Identity().ConnectionID,
		"the remote endpoint assigns a fresh connection id per transport session")
}

func TestRequest_AckRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	c := openChannel(t, srv.url())

	var rooms []wire.RoomSummary
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Request(ctx, wire.CmdListRooms, nil, &rooms))
	require.Equal(t, []wire.RoomSummary{{RoomID: "A1"}}, rooms)
}

func TestEmit_WhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1", zap.NewNop())
	defer c.Close()

	err := c.Emit(context.Background(), wire.CmdSetUsername, wire.SetUsername{DisplayName: "x"})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestUpdateIdentity_DeferredWhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1", zap.NewNop())
	defer c.Close()

	// No transport: the rename is only carried by the next announce.
	c.UpdateIdentity("later")
	require.Equal(t, "later", c.Identity().DisplayName)
}

func TestClose_RejectsFurtherUse(t *testing.T) {
	srv := newTestServer(t)
	c := openChannel(t, srv.url())

	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Emit(context.Background(), wire.CmdSetUsername, nil), ErrClosed)
	require.ErrorIs(t, c.Request(context.Background(), wire.CmdListRooms, nil, nil), ErrClosed)
	require.ErrorIs(t, c.Open(wire.PlayerIdentity{}), ErrClosed)
	require.NoError(t, c.Close(), "close is idempotent")
}

func TestOpen_IsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	c := openChannel(t, srv.url())

	require.NoError(t, c.Open(wire.PlayerIdentity{DisplayName: "again"}))
	require.Equal(t, "tester", c.Identity().DisplayName,
		"a second open must not replace the live identity")
}
