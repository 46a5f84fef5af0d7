package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrHubClosed is returned by PublishContext once Run has returned.
var ErrHubClosed = errors.New("engine: hub closed")

// Hub fans records out to subscribers. A subscriber that cannot keep up misses
// records instead of stalling the others.
type Hub struct {
	broadcast  chan Record
	register   chan chan Record
	unregister chan chan Record
	clients    map[chan Record]struct{}
	clientBuf  int
	dropped    atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
}

type Option func(*Hub)

func WithBroadcastBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan Record, size)
		}
	}
}

func WithClientBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		broadcast:  make(chan Record, 256),
		register:   make(chan chan Record),
		unregister: make(chan chan Record),
		clients:    make(map[chan Record]struct{}),
		clientBuf:  100,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run dispatches records until ctx is done, then closes every subscriber
// channel. After Run returns, Subscribe hands out closed channels and the
// other calls return at once.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for ch := range h.clients {
				close(ch)
			}
			h.clients = map[chan Record]struct{}{}
			h.stopOnce.Do(func() { close(h.done) })
			return
		case ch := <-h.register:
			h.clients[ch] = struct{}{}
		case ch := <-h.unregister:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case rec := <-h.broadcast:
			for ch := range h.clients {
				select {
				case ch <- rec:
				default:
					h.dropped.Add(1)
				}
			}
		}
	}
}

func (h *Hub) Subscribe() chan Record {
	return h.SubscribeWithBuffer(h.clientBuf)
}

func (h *Hub) SubscribeWithBuffer(size int) chan Record {
	if size <= 0 {
		size = h.clientBuf
	}
	ch := make(chan Record, size)
	select {
	case h.register <- ch:
	case <-h.done:
		close(ch)
	}
	return ch
}

func (h *Hub) Unsubscribe(ch chan Record) {
	select {
	case h.unregister <- ch:
	case <-h.done:
	}
}

// Publish queues rec for delivery. It drops rec once the hub has stopped.
func (h *Hub) Publish(rec Record) {
	if h.stopped() {
		return
	}
	select {
	case h.broadcast <- rec:
	case <-h.done:
	}
}

// PublishContext is Publish that gives up when ctx is done.
func (h *Hub) PublishContext(ctx context.Context, rec Record) error {
	if h.stopped() {
		return ErrHubClosed
	}
	select {
	case h.broadcast <- rec:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
