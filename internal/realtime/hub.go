package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dronesim/internal/domain"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// sendBuffer is how many events a subscriber may lag behind before it
	// is dropped.
	sendBuffer = 32
)

type subscriber struct {
	conn *websocket.Conn
	room string
	send chan []byte

	done chan struct{}
	once sync.Once
}

func newSubscriber(conn *websocket.Conn, room string) *subscriber {
	return &subscriber{
		conn: conn,
		room: room,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue hands data to the subscriber's writer without blocking. It reports
// false when the subscriber is closed or its buffer is full.
func (s *subscriber) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// close stops the writer and closes the connection. Safe to call repeatedly.
func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// Hub pushes simulation events to websocket clients grouped in rooms.
type Hub struct {
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu    sync.RWMutex
	rooms map[string]map[*subscriber]struct{}
}

// NewHub creates an empty Hub.
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:   log,
		rooms: make(map[string]map[*subscriber]struct{}),
	}
}

// ServeRoom upgrades the request and keeps the client subscribed to room
// until the connection closes.
func (h *Hub) ServeRoom(w http.ResponseWriter, r *http.Request, room string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sub := newSubscriber(conn, room)
	h.add(sub)
	h.log.WithField("room", room).Debug("client subscribed")

	go h.writePump(sub)

	defer func() {
		h.drop(sub)
		h.log.WithField("room", room).Debug("client unsubscribed")
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Clients only listen; reading drives pong handling and close detection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

// writePump is the only writer of a subscriber's connection. It sends queued
// events and keepalive pings until the subscriber is closed or a write fails.
func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(messageType int, data []byte) error {
		if err := sub.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return sub.conn.WriteMessage(messageType, data)
	}

	for {
		var err error
		select {
		case <-sub.done:
			return
		case data := <-sub.send:
			err = write(websocket.TextMessage, data)
		case <-ticker.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			h.log.WithError(err).WithField("room", sub.room).Warn("dropping websocket subscriber")
			h.drop(sub)
			return
		}
	}
}

// Publish queues the event for every subscriber of its room and returns
// without waiting for the writes. Subscribers too far behind are dropped.
func (h *Hub) Publish(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	for _, sub := range h.subscribers(evt.Room) {
		if !sub.enqueue(data) {
			h.log.WithField("room", evt.Room).Warn("websocket subscriber too slow, dropping")
			h.drop(sub)
		}
	}
	return nil
}

// Subscribers returns the number of clients in a room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	var subs []*subscriber
	for room, members := range h.rooms {
		for sub := range members {
			subs = append(subs, sub)
		}
		delete(h.rooms, room)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (h *Hub) subscribers(room string) []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]*subscriber, 0, len(h.rooms[room]))
	for sub := range h.rooms[room] {
		subs = append(subs, sub)
	}
	return subs
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[sub.room] == nil {
		h.rooms[sub.room] = make(map[*subscriber]struct{})
	}
	h.rooms[sub.room][sub] = struct{}{}
}

// drop unsubscribes and closes sub.
func (h *Hub) drop(sub *subscriber) {
	h.remove(sub)
	sub.close()
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.rooms[sub.room]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.rooms, sub.room)
	}
}
