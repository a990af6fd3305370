package syncd

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Notifier wakes long-polling pull handlers when new events land.
// Notifications are fire-and-forget wake signals, not data: a woken
// handler re-reads the stream and may find events from any pusher.
type Notifier interface {
	// Publish signals that the stream advanced.
	Publish(ctx context.Context) error
	// Subscribe returns a wake channel and a release function.
	// The channel receives at-least-once after each Publish.
	Subscribe() (<-chan struct{}, func())
	Close() error
}

// LocalNotifier is the in-process notifier for single-instance
// deployments and tests.
type LocalNotifier struct {
	mu   sync.Mutex
	subs map[int]chan struct{}
	next int
}

// NewLocalNotifier creates an in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[int]chan struct{})}
}

// Publish wakes every subscriber. Coalesces: a subscriber that has not
// consumed the previous wake is not queued a second one.
func (n *LocalNotifier) Publish(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe registers a wake channel.
func (n *LocalNotifier) Subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	id := n.next
	ch := make(chan struct{}, 1)
	n.subs[id] = ch
	return ch, func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Close releases all subscribers.
func (n *LocalNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = make(map[int]chan struct{})
	return nil
}

const redisWakeChannel = "tempolog:stream"

// RedisNotifier fans wake signals across authority instances through
// redis pub/sub, so a replica long-polling one instance wakes on a push
// handled by another.
type RedisNotifier struct {
	client *redis.Client

	mu     sync.Mutex
	local  *LocalNotifier
	cancel context.CancelFunc
}

// NewRedisNotifier starts the pub/sub relay on the given client.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &RedisNotifier{
		client: client,
		local:  NewLocalNotifier(),
		cancel: cancel,
	}
	go n.relay(ctx)
	return n
}

// Publish signals all instances through redis.
func (n *RedisNotifier) Publish(ctx context.Context) error {
	return n.client.Publish(ctx, redisWakeChannel, "1").Err()
}

// Subscribe registers a wake channel on this instance.
func (n *RedisNotifier) Subscribe() (<-chan struct{}, func()) {
	return n.local.Subscribe()
}

// Close stops the relay. The redis client itself belongs to the caller.
func (n *RedisNotifier) Close() error {
	n.cancel()
	return n.local.Close()
}

// relay forwards redis messages to local subscribers until cancelled.
func (n *RedisNotifier) relay(ctx context.Context) {
	sub := n.client.Subscribe(ctx, redisWakeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			_ = n.local.Publish(ctx)
		}
	}
}
