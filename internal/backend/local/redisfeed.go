package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/rueidis"

	"tasksync/internal/service"
)

// channelPrefix namespaces change channels on the shared Redis.
const channelPrefix = "tasksync:changes:"

// RedisFeed is a Feed over Redis pub/sub, shared by every process pointed
// at the same Redis.
type RedisFeed struct {
	client rueidis.Client
	logger *slog.Logger
}

// NewRedisClient connects to the Redis at addr.
func NewRedisClient(addr string) (rueidis.Client, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return client, nil
}

// NewRedisFeed creates a feed on client.
func NewRedisFeed(client rueidis.Client, logger *slog.Logger) *RedisFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisFeed{client: client, logger: logger}
}

func changeChannel(schema, table string) string {
	return channelPrefix + schema + "." + table
}

// Publish implements Publisher.
func (f *RedisFeed) Publish(ctx context.Context, payload service.ChangePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	cmd := f.client.B().Publish().Channel(changeChannel(payload.Schema, payload.Table)).Message(string(data)).Build()
	return f.client.Do(ctx, cmd).Error()
}

// Subscribe implements service.ChangeFeed. StatusSubscribed is reported once
// Redis confirms the SUBSCRIBE.
func (f *RedisFeed) Subscribe(ctx context.Context, filter service.Filter, handler func(service.ChangeEvent), status func(service.SubscriptionStatus, error)) (service.Subscription, error) {
	runCtx, cancel := context.WithCancel(ctx)
	s := &redisSub{cancel: cancel, done: make(chan struct{})}
	channel := changeChannel(filter.Schema, filter.Table)
	hookCtx := rueidis.WithOnSubscriptionHook(runCtx, subscribedHook(channel, status))

	go func() {
		defer close(s.done)

		cmd := f.client.B().Subscribe().Channel(channel).Build()
		err := f.client.Receive(hookCtx, cmd, func(msg rueidis.PubSubMessage) {
			var p service.ChangePayload
			if err := json.Unmarshal([]byte(msg.Message), &p); err != nil {
				f.logger.Warn("ignoring malformed change", "channel", msg.Channel, "error", err)
				return
			}
			dispatch(f.logger, p, handler)
		})

		if runCtx.Err() != nil {
			report(status, service.StatusClosed, nil)
			return
		}
		f.logger.Error("change subscription failed", "channel", channel, "error", err)
		report(status, service.StatusChannelError, err)
	}()

	return s, nil
}

// subscribedHook reports StatusSubscribed the first time Redis confirms a
// subscription to channel.
func subscribedHook(channel string, status func(service.SubscriptionStatus, error)) func(rueidis.PubSubSubscription) {
	var once sync.Once
	return func(sub rueidis.PubSubSubscription) {
		if sub.Kind != "subscribe" || sub.Channel != channel {
			return
		}
		once.Do(func() { report(status, service.StatusSubscribed, nil) })
	}
}

type redisSub struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// Unsubscribe implements service.Subscription.
func (s *redisSub) Unsubscribe() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}
