package sinks

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/JakeFAU/savecodenow/internal/events"
)

const (
	defaultSubscriberBuffer = 64
	writeTimeout            = 5 * time.Second
)

// Broadcaster streams lifecycle events to websocket clients. Slow clients
// miss events rather than stalling the hub.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool

	originPatterns []string
	logger         *zap.Logger
}

type subscriber struct {
	ch        chan events.Event
	visitType string
	originURL string
}

func (s *subscriber) wants(evt events.Event) bool {
	if s.visitType != "" && s.visitType != evt.VisitType {
		return false
	}
	return s.originURL == "" || s.originURL == evt.OriginURL
}

// NewBroadcaster builds a broadcaster. originPatterns restricts cross-origin
// browser clients; empty means same-origin only.
func NewBroadcaster(logger *zap.Logger, originPatterns ...string) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:           make(map[*subscriber]struct{}),
		originPatterns: originPatterns,
		logger:         logger,
	}
}

// Subscribe registers a listener. Empty filters match everything. The
// returned channel is closed by Unsubscribe or Close.
func (b *Broadcaster) Subscribe(buffer int, visitType, originURL string) (<-chan events.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &subscriber{ch: make(chan events.Event, buffer), visitType: visitType, originURL: originURL}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				close(sub.ch)
			}
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Consume fans the batch out to every matching subscriber without blocking.
func (b *Broadcaster) Consume(_ context.Context, batch []events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, evt := range batch {
		for sub := range b.subs {
			if !sub.wants(evt) {
				continue
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
	return nil
}

// Close disconnects every subscriber.
func (b *Broadcaster) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
	return nil
}

// ServeHTTP upgrades the request and streams events as JSON messages until
// the client disconnects. Query parameters visit_type and origin_url filter
// the stream.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.originPatterns})
	if err != nil {
		b.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	q := r.URL.Query()
	stream, unsubscribe := b.Subscribe(defaultSubscriberBuffer, q.Get("visit_type"), q.Get("origin_url"))
	defer unsubscribe()

	// CloseRead discards client frames and cancels ctx once the peer goes away.
	ctx = conn.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-stream:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}
