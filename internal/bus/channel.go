package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openreturns/kestrel/internal/domain"
)

// ChannelBus is the community-tier in-process event bus. Topics are scoped
// per tenant; a subscriber never sees another tenant's messages.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	subs   map[string][]*chanSub
	closed bool
}

type chanSub struct {
	bus    *ChannelBus
	key    string
	topic  string
	inbox  chan *domain.Message
	ctx    context.Context
	cancel context.CancelFunc
}

// NewChannelBus creates an in-process bus. Each subscriber gets its own
// buffered inbox; when an inbox is full new messages for that subscriber
// are dropped rather than blocking the publisher.
func NewChannelBus(buffer int) *ChannelBus {
	if buffer <= 0 {
		buffer = 1000
	}
	return &ChannelBus{
		buffer: buffer,
		subs:   make(map[string][]*chanSub),
	}
}

func subKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// Publish delivers a message to every subscriber of the tenant's topic.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	subs := b.subs[subKey(tenantID, topic)]
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	for _, sub := range subs {
		select {
		case sub.inbox <- msg:
		default:
			// full inbox, drop for this subscriber
		}
	}
	return nil
}

// Subscribe registers a handler for the tenant's topic. The handler runs
// on a dedicated goroutine until Unsubscribe or Close.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &chanSub{
		bus:    b,
		key:    subKey(tenantID, topic),
		topic:  topic,
		inbox:  make(chan *domain.Message, b.buffer),
		ctx:    subCtx,
		cancel: cancel,
	}
	b.subs[sub.key] = append(b.subs[sub.key], sub)

	go func() {
		for {
			select {
			case <-sub.ctx.Done():
				return
			case msg := <-sub.inbox:
				if msg != nil {
					_ = handler(sub.ctx, msg)
				}
			}
		}
	}()

	return sub, nil
}

// Request publishes and waits for a single reply on a private reply topic.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("request timeout")
	}
}

func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels every subscription and rejects further operations.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subs = make(map[string][]*chanSub)
	return nil
}

// Unsubscribe cancels the handler and removes the subscription from the bus.
func (s *chanSub) Unsubscribe() error {
	s.cancel()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.key]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *chanSub) Topic() string {
	return s.topic
}
