package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 30 * time.Second
	feedReadLimit  = 512
	feedOutboxSize = 64
	feedQueueSize  = 64
)

type feedMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type feedFrame struct {
	kind    string
	payload []byte
}

type subscriber struct {
	feed   *statusFeed
	conn   *websocket.Conn
	outbox chan []byte
}

// statusFeed fans control loop snapshots out to websocket subscribers. A
// subscriber that joins late first receives the latest frame of every kind.
// All maps are owned by the run goroutine.
type statusFeed struct {
	logger   *slog.Logger
	join     chan *subscriber
	leave    chan *subscriber
	frames   chan feedFrame
	done     chan struct{}
	stopOnce sync.Once
	size     atomic.Int32

	subs   map[*subscriber]struct{}
	latest map[string][]byte
	kinds  []string
}

func newStatusFeed(logger *slog.Logger) *statusFeed {
	return &statusFeed{
		logger: logger,
		join:   make(chan *subscriber),
		leave:  make(chan *subscriber),
		frames: make(chan feedFrame, feedQueueSize),
		done:   make(chan struct{}),
		subs:   make(map[*subscriber]struct{}),
		latest: make(map[string][]byte),
	}
}

func (f *statusFeed) run() {
	for {
		select {
		case <-f.done:
			f.disconnectAll()
			return
		case sub := <-f.join:
			f.add(sub)
		case sub := <-f.leave:
			f.remove(sub)
		case fr := <-f.frames:
			f.fanOut(fr)
		}
	}
}

func (f *statusFeed) add(sub *subscriber) {
	f.subs[sub] = struct{}{}
	for _, kind := range f.kinds {
		f.deliver(sub, f.latest[kind])
	}
	f.size.Store(int32(len(f.subs)))
	f.logger.Debug("ws subscriber joined", slog.Int("total", len(f.subs)))
}

func (f *statusFeed) remove(sub *subscriber) {
	if f.drop(sub) {
		f.logger.Debug("ws subscriber left", slog.Int("total", len(f.subs)))
	}
}

func (f *statusFeed) fanOut(fr feedFrame) {
	if _, seen := f.latest[fr.kind]; !seen {
		f.kinds = append(f.kinds, fr.kind)
	}
	f.latest[fr.kind] = fr.payload
	for sub := range f.subs {
		f.deliver(sub, fr.payload)
	}
}

// deliver hands payload to sub, dropping sub when its outbox is full.
func (f *statusFeed) deliver(sub *subscriber, payload []byte) {
	if _, ok := f.subs[sub]; !ok {
		return
	}
	select {
	case sub.outbox <- payload:
	default:
		f.drop(sub)
		f.logger.Debug("ws subscriber too slow, dropped")
	}
}

func (f *statusFeed) drop(sub *subscriber) bool {
	if _, ok := f.subs[sub]; !ok {
		return false
	}
	delete(f.subs, sub)
	close(sub.outbox)
	f.size.Store(int32(len(f.subs)))
	return true
}

func (f *statusFeed) disconnectAll() {
	for sub := range f.subs {
		if sub.conn != nil {
			_ = sub.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(2*time.Second),
			)
		}
		f.drop(sub)
	}
	f.logger.Debug("ws feed stopped")
}

// stop disconnects every subscriber. Later publishes are discarded.
func (f *statusFeed) stop() {
	f.stopOnce.Do(func() { close(f.done) })
}

func (f *statusFeed) subscribers() int {
	return int(f.size.Load())
}

// publish queues a typed JSON frame. Frames are dropped while the queue is
// full; the next tick replaces them anyway.
func (f *statusFeed) publish(kind string, data any) {
	payload, err := json.Marshal(feedMessage{Type: kind, Data: data})
	if err != nil {
		f.logger.Error("ws marshal failed", slog.String("type", kind), slog.String("error", err.Error()))
		return
	}
	select {
	case f.frames <- feedFrame{kind: kind, payload: payload}:
	default:
	}
}

// subscribe attaches conn to the feed and starts its pumps. It reports false
// once the feed is stopped.
func (f *statusFeed) subscribe(conn *websocket.Conn) bool {
	sub := &subscriber{feed: f, conn: conn, outbox: make(chan []byte, feedOutboxSize)}
	select {
	case f.join <- sub:
	case <-f.done:
		return false
	}
	go sub.writeLoop()
	go sub.readLoop()
	return true
}

func newUpgrader(origins originPolicy) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origins.allows(origin)
		},
	}
}

func (s *subscriber) writeLoop() {
	ping := time.NewTicker(feedPingPeriod)
	defer ping.Stop()
	defer s.conn.Close()

	for {
		msgType, payload := websocket.PingMessage, []byte(nil)
		select {
		case msg, ok := <-s.outbox:
			if !ok {
				_ = s.write(websocket.CloseMessage, nil)
				return
			}
			msgType, payload = websocket.TextMessage, msg
		case <-ping.C:
		}
		if err := s.write(msgType, payload); err != nil {
			return
		}
	}
}

func (s *subscriber) write(msgType int, payload []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	return s.conn.WriteMessage(msgType, payload)
}

// readLoop discards inbound frames; it exists to process pongs and notice
// the peer going away.
func (s *subscriber) readLoop() {
	defer s.conn.Close()
	defer func() {
		select {
		case s.feed.leave <- s:
		case <-s.feed.done:
		}
	}()

	s.conn.SetReadLimit(feedReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
