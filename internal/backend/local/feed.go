package local

import (
	"context"
	"log/slog"
	"sync"

	"tasksync/internal/service"
)

// subscriptionBuffer is the per-subscriber queue length.
const subscriptionBuffer = 64

// Publisher announces committed changes.
type Publisher interface {
	Publish(ctx context.Context, payload service.ChangePayload) error
}

// Feed is a change feed the store publishes to.
type Feed interface {
	service.ChangeFeed
	Publisher
}

// Hub is an in-process Feed. Subscribers see changes made through the same
// process only.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*hubSub]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[*hubSub]struct{})}
}

// Publish implements Publisher. It blocks while a matching subscriber's
// queue is full.
func (h *Hub) Publish(ctx context.Context, payload service.ChangePayload) error {
	h.mu.Lock()
	subs := make([]*hubSub, 0, len(h.subs))
	for s := range h.subs {
		if matches(s.filter, payload) {
			subs = append(subs, s)
		}
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- payload:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe implements service.ChangeFeed.
func (h *Hub) Subscribe(ctx context.Context, filter service.Filter, handler func(service.ChangeEvent), status func(service.SubscriptionStatus, error)) (service.Subscription, error) {
	s := &hubSub{
		hub:      h,
		filter:   filter,
		ch:       make(chan service.ChangePayload, subscriptionBuffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.run(ctx, handler, status)
	return s, nil
}

type hubSub struct {
	hub    *Hub
	filter service.Filter
	ch     chan service.ChangePayload

	once     sync.Once
	done     chan struct{}
	finished chan struct{}
}

func (s *hubSub) run(ctx context.Context, handler func(service.ChangeEvent), status func(service.SubscriptionStatus, error)) {
	defer close(s.finished)
	defer s.stop()

	report(status, service.StatusSubscribed, nil)
	for {
		select {
		case p := <-s.ch:
			dispatch(s.hub.logger, p, handler)
		case <-s.done:
			report(status, service.StatusClosed, nil)
			return
		case <-ctx.Done():
			report(status, service.StatusClosed, nil)
			return
		}
	}
}

func (s *hubSub) stop() {
	s.once.Do(func() {
		close(s.done)
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
	})
}

// Unsubscribe implements service.Subscription.
func (s *hubSub) Unsubscribe() error {
	s.stop()
	<-s.finished
	return nil
}

func matches(filter service.Filter, p service.ChangePayload) bool {
	return (filter.Schema == "" || filter.Schema == p.Schema) &&
		(filter.Table == "" || filter.Table == p.Table)
}

// dispatch decodes p and hands it to handler. Undecodable and unknown
// changes are logged and dropped.
func dispatch(logger *slog.Logger, p service.ChangePayload, handler func(service.ChangeEvent)) {
	ev, err := p.Event()
	if err != nil {
		logger.Warn("ignoring undecodable change", "type", p.Type, "error", err)
		return
	}
	if ev == nil {
		logger.Debug("ignoring change kind", "type", p.Type)
		return
	}
	handler(ev)
}

func report(status func(service.SubscriptionStatus, error), st service.SubscriptionStatus, err error) {
	if status != nil {
		status(st, err)
	}
}
