// Package notify carries job status events between processes and forwards
// them to a user's live connections.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrSubscriptionClosed is returned by Receive after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Channel is a fire-and-forget publish/subscribe transport. Messages
// published while nobody is subscribed are lost.
type Channel interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription yields messages for one topic until closed.
type Subscription interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// RedisChannel implements Channel with Redis PUBLISH/SUBSCRIBE.
type RedisChannel struct {
	client *redis.Client
}

func NewRedisChannel(client *redis.Client) *RedisChannel {
	return &RedisChannel{client: client}
}

func (c *RedisChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.client.Publish(ctx, topic, payload).Err()
}

// Subscribe returns once Redis has confirmed the subscription.
func (c *RedisChannel) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := c.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &redisSubscription{ps: ps}, nil
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}

const memoryBuffer = 64

// MemoryChannel is an in-process Channel for single-binary deployments and
// tests. A subscriber whose buffer is full misses the message.
type MemoryChannel struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{}
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (c *MemoryChannel) Publish(_ context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for s := range c.subs[topic] {
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

func (c *MemoryChannel) Subscribe(_ context.Context, topic string) (Subscription, error) {
	s := &memorySubscription{
		ch:     make(chan []byte, memoryBuffer),
		done:   make(chan struct{}),
		parent: c,
		topic:  topic,
	}

	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[*memorySubscription]struct{})
	}
	c.subs[topic][s] = struct{}{}
	c.mu.Unlock()

	return s, nil
}

// CloseTopic ends every subscription on topic. Receivers get ErrSubscriptionClosed.
func (c *MemoryChannel) CloseTopic(topic string) {
	c.mu.RLock()
	subs := make([]*memorySubscription, 0, len(c.subs[topic]))
	for s := range c.subs[topic] {
		subs = append(subs, s)
	}
	c.mu.RUnlock()

	for _, s := range subs {
		s.Close()
	}
}

func (c *MemoryChannel) remove(s *memorySubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs[s.topic], s)
	if len(c.subs[s.topic]) == 0 {
		delete(c.subs, s.topic)
	}
}

type memorySubscription struct {
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
	parent *MemoryChannel
	topic  string
}

func (s *memorySubscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return nil, ErrSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.parent.remove(s)
		close(s.done)
	})
	return nil
}
