// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/territory/services/territory/capture"
	"github.com/AleutianAI/territory/services/territory/classify"
	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/stats"
)

func captureAt(user string, lat, lng float64) *capture.Result {
	cell := grid.DefaultIndex().CellForPoint(lat, lng)
	return &capture.Result{
		ID:           user + "-capture",
		User:         user,
		PathType:     classify.SingleHex,
		ClaimedCells: []grid.Cell{cell},
		CapturedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) CaptureApplied(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestMulti_FansOutInOrder(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, nil, Nop{}, b}
	ev := Event{Capture: captureAt("x", 1, 1)}

	m.CaptureApplied(context.Background(), ev)

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.Same(t, ev.Capture, b.events[0].Capture)
}

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	welcome := read(t, conn)
	require.Equal(t, MessageWelcome, welcome.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_BroadcastsCaptureAndStats(t *testing.T) {
	hub := NewHub(HubConfig{}, nil)
	t.Cleanup(hub.Close)
	conn := dial(t, hub)
	require.Equal(t, 1, hub.ClientCount())

	res := captureAt("alice", 10, 10)
	hub.CaptureApplied(context.Background(), Event{
		Capture: res,
		Stats:   &stats.UserStats{UserID: "alice", TotalCells: 1},
	})

	first := read(t, conn)
	assert.Equal(t, EventCaptureApplied, first.Type)
	require.NotNil(t, first.Capture)
	assert.Equal(t, res.ID, first.Capture.ID)
	assert.Equal(t, res.ClaimedCells, first.Capture.ClaimedCells)

	second := read(t, conn)
	assert.Equal(t, EventStatsUpdated, second.Type)
	require.NotNil(t, second.Stats)
	assert.Equal(t, 1, second.Stats.TotalCells)
	assert.Equal(t, first.Seq+1, second.Seq)
}

func TestHub_BBoxSubscription(t *testing.T) {
	hub := NewHub(HubConfig{}, nil)
	t.Cleanup(hub.Close)
	conn := dial(t, hub)

	box := grid.BBox{South: 9, West: 9, North: 11, East: 11}
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe", BBox: &box}))
	ack := read(t, conn)
	require.Equal(t, MessageSubscribed, ack.Type)
	assert.Equal(t, &box, ack.BBox)

	hub.CaptureApplied(context.Background(), Event{Capture: captureAt("far", -40, 100)})
	hub.CaptureApplied(context.Background(), Event{Capture: captureAt("near", 10, 10)})

	msg := read(t, conn)
	require.NotNil(t, msg.Capture)
	assert.Equal(t, "near", msg.Capture.User)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "unsubscribe"}))
	assert.Equal(t, MessageUnsubscribed, read(t, conn).Type)

	hub.CaptureApplied(context.Background(), Event{Capture: captureAt("far", -40, 100)})
	msg = read(t, conn)
	require.NotNil(t, msg.Capture)
	assert.Equal(t, "far", msg.Capture.User)
}

func TestHub_RejectsBadClientMessages(t *testing.T) {
	hub := NewHub(HubConfig{}, nil)
	t.Cleanup(hub.Close)
	conn := dial(t, hub)

	tests := []ClientMessage{
		{Type: "subscribe"},
		{Type: "subscribe", BBox: &grid.BBox{South: 10, North: 5, West: 0, East: 1}},
		{Type: "teleport"},
	}
	for _, m := range tests {
		require.NoError(t, conn.WriteJSON(m))
		msg := read(t, conn)
		assert.Equal(t, MessageError, msg.Type)
		assert.NotEmpty(t, msg.Error)
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(HubConfig{SendBuffer: 1}, nil)
	c := &client{id: "slow", send: make(chan []byte, 1)}
	require.True(t, hub.register(c))

	hub.CaptureApplied(context.Background(), Event{Capture: captureAt("x", 1, 1)})
	assert.Equal(t, 1, hub.ClientCount())

	hub.CaptureApplied(context.Background(), Event{Capture: captureAt("x", 1, 1)})
	assert.Zero(t, hub.ClientCount())
	assert.Equal(t, uint64(1), hub.Dropped())

	_, ok := <-c.send
	assert.True(t, ok, "queued message is still delivered")
	_, ok = <-c.send
	assert.False(t, ok, "queue is closed after the drop")

	// Further broadcasts skip the dropped client.
	hub.CaptureApplied(context.Background(), Event{Capture: captureAt("x", 1, 1)})
	assert.Equal(t, uint64(1), hub.Dropped())
}

func TestHub_CloseRejectsNewClients(t *testing.T) {
	hub := NewHub(HubConfig{}, nil)
	conn := dial(t, hub)
	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	assert.False(t, hub.register(&client{send: make(chan []byte, 1)}))
}

func TestHub_CheckOrigin(t *testing.T) {
	hub := NewHub(HubConfig{AllowedOrigins: []string{"https://map.example"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://map.example")
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, hub.checkOrigin(req))
}

func TestInfluxSink_WritesCapturePoint(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, path = string(b), r.URL.Path+"?"+r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "t", Org: "org", Bucket: "captures"}, nil)
	t.Cleanup(sink.Close)

	res := captureAt("x", 1, 1)
	res.PathType = classify.ClosedLoop
	res.InteriorCount = 1
	res.Conflicts = map[grid.Cell]string{res.ClaimedCells[0]: "y"}
	sink.CaptureApplied(context.Background(), Event{Capture: res})
	sink.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, path, "/api/v2/write")
	assert.Contains(t, path, "bucket=captures")
	assert.True(t, strings.HasPrefix(body, "capture,path_type=closed_loop,user=x "), body)
	assert.Contains(t, body, "claimed=1i")
	assert.Contains(t, body, "conflicts=1i")
	assert.Contains(t, body, "interior=1i")
	assert.Contains(t, body, "1748779200000000000")
}

func TestInfluxSink_FailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "internal error", "message": "down"})
	}))
	t.Cleanup(srv.Close)

	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Org: "org", Bucket: "b", Timeout: time.Second}, nil)
	t.Cleanup(sink.Close)

	assert.NotPanics(t, func() {
		sink.CaptureApplied(context.Background(), Event{Capture: captureAt("x", 1, 1)})
		sink.CaptureApplied(context.Background(), Event{})
		sink.Close()
		sink.CaptureApplied(context.Background(), Event{Capture: captureAt("x", 1, 1)})
	})
}

func TestInfluxSink_StalledServerDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	var writes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writes.Add(1)
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Org: "org", Bucket: "b", Timeout: 5 * time.Second, Queue: 2}, nil)

	start := time.Now()
	for i := range 20 {
		sink.CaptureApplied(context.Background(), Event{Capture: captureAt("x", float64(i), 1)})
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Positive(t, sink.Dropped())

	close(release)
	sink.Close()
	assert.LessOrEqual(t, writes.Load(), int32(3), "one in flight plus the queue")
}
