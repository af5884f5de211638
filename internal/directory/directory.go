// Package directory tracks the listing of currently joinable rooms.
// The listing is eventually consistent: stale between refreshes, repaired
// on push invalidation and after failed joins.
package directory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/casualhall/gameroom/pkg/wire"
)

const refreshTimeout = 10 * time.Second

// Conn is the slice of the session channel the directory needs.
type Conn interface {
	Request(ctx context.Context, event string, payload, reply any) error
	On(event string, fn func(json.RawMessage)) func()
}

type Directory struct {
	conn Conn
	log  *zap.Logger
	off  func()

	mu       sync.Mutex
	rooms    []wire.RoomSummary
	inflight chan struct{}
	fetchErr error
}

// New builds a directory client and subscribes it to push invalidation:
// every rooms-updated notification triggers a background refresh.
func New(conn Conn, log *zap.Logger) *Directory {
	d := &Directory{conn: conn, log: log}
	d.off = conn.On(wire.EvtRoomsUpdated, func(json.RawMessage) {
		// Off the dispatch goroutine: the refresh request's ack arrives on
		// the same read loop this handler runs on.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()
			if _, err := d.Refresh(ctx); err != nil {
				d.log.Warn("push refresh failed", zap.Error(err))
			}
		}()
	})
	return d
}

// Refresh requests the open-room listing, which replaces the prior listing
// wholesale. At most one request is in flight: callers arriving while one
// is running wait for it and share its result rather than issuing another.
// A malformed (non-sequence) response is logged and the prior listing is
// retained.
func (d *Directory) Refresh(ctx context.Context) ([]wire.RoomSummary, error) {
	d.mu.Lock()
	if d.inflight != nil {
		wait := d.inflight
		d.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		d.mu.Lock()
		rooms := append([]wire.RoomSummary(nil), d.rooms...)
		err := d.fetchErr
		d.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return rooms, nil
	}
	done := make(chan struct{})
	d.inflight = done
	d.mu.Unlock()

	rooms, err := d.fetch(ctx)

	d.mu.Lock()
	if err == nil {
		d.rooms = rooms
	}
	d.fetchErr = err
	d.inflight = nil
	close(done)
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return rooms, nil
}

// fetch performs the wire request. On a malformed listing it keeps the
// prior rooms; a JSON null (what a permissive server sends for "nothing")
// is malformed too, not an empty sequence.
func (d *Directory) fetch(ctx context.Context) ([]wire.RoomSummary, error) {
	var raw json.RawMessage
	if err := d.conn.Request(ctx, wire.CmdListRooms, nil, &raw); err != nil {
		return nil, err
	}

	if len(raw) == 0 || string(raw) == "null" {
		d.log.Error("missing room listing payload, keeping prior")
		return d.Rooms(), nil
	}
	var rooms []wire.RoomSummary
	if err := json.Unmarshal(raw, &rooms); err != nil {
		d.log.Error("malformed room listing, keeping prior", zap.Error(err))
		return d.Rooms(), nil
	}
	return rooms, nil
}

// Rooms returns the last successfully fetched listing.
func (d *Directory) Rooms() []wire.RoomSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]wire.RoomSummary(nil), d.rooms...)
}

// Refreshing reports whether a listing request is currently in flight.
func (d *Directory) Refreshing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight != nil
}

// Close drops the push-invalidation subscription.
func (d *Directory) Close() {
	if d.off != nil {
		d.off()
	}
}
