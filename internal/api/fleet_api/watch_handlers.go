package fleet_api

import (
	"context"
	"net/http"
	"time"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	watchWriteWait = 5 * time.Second
	watchPingEvery = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the dispatch dashboard is served from another origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// latest holds the newest undelivered value. Subscription callbacks for one
// subscription never overlap, so put never blocks.
type latest chan any

func newLatest() latest { return make(latest, 1) }

func (l latest) put(v any) {
	select {
	case <-l:
	default:
	}
	l <- v
}

// watchTrip streams the trip document on every change and closes normally
// once the trip has ended.
func (a *FleetAPI) watchTrip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.trips.GetTrip(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	updates := newLatest()
	unsub, err := a.trips.SubscribeTrip(ctx, id, func(t *models.Trip, err error) {
		switch {
		case err != nil:
			updates.put(err)
		case t != nil:
			updates.put(t)
		}
	})
	if err != nil {
		closeWatch(conn, websocket.CloseInternalServerErr, err.Error())
		return
	}
	defer unsub()

	a.pump(ctx, conn, updates, func(v any) bool {
		t, ok := v.(*models.Trip)
		return ok && t.Status != models.TripStatusActive
	})
}

// watchDriverLocation streams the driver's live position until the client
// goes away.
func (a *FleetAPI) watchDriverLocation(w http.ResponseWriter, r *http.Request) {
	driverID := chi.URLParam(r, "driverID")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	updates := newLatest()
	unsub, err := a.trips.SubscribeDriverLocation(ctx, driverID, func(loc *models.DriverLocation, err error) {
		switch {
		case err != nil:
			updates.put(err)
		case loc != nil:
			updates.put(loc)
		}
	})
	if err != nil {
		closeWatch(conn, websocket.CloseInternalServerErr, err.Error())
		return
	}
	defer unsub()

	a.pump(ctx, conn, updates, func(any) bool { return false })
}

// pump writes updates to conn until the client disconnects, a subscription
// error arrives, or last reports the final value.
func (a *FleetAPI) pump(ctx context.Context, conn *websocket.Conn, updates latest, last func(any) bool) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Clients only send control frames; reading is what notices them leave.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(watchPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				return
			}
		case v := <-updates:
			if err, ok := v.(error); ok {
				a.log.WithError(err).Warn("watch subscription failed")
				closeWatch(conn, websocket.CloseInternalServerErr, err.Error())
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteJSON(v); err != nil {
				return
			}
			if last(v) {
				closeWatch(conn, websocket.CloseNormalClosure, "trip ended")
				return
			}
		}
	}
}

func closeWatch(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(watchWriteWait))
}
