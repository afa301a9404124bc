package relay

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Broker fans a room's wire frames out across every relay process
// serving that room, the generalized form of sumanthd032-CollabText/
// server's single hardcoded `rdb.Subscribe(ctx, docID)` /
// `rdb.Publish(ctx, docID, msg)` pair — one channel per room instead
// of one channel for the whole server.
type Broker interface {
	Publish(ctx context.Context, room string, frame []byte) error
	// Subscribe returns a channel of frames published to room by any
	// process (including this one) and a close func. The caller is
	// responsible for filtering out frames it just published itself if
	// that matters to it; this relay's Hub does not need to, since the
	// subscription is its only path to local delivery (see hub.go).
	Subscribe(ctx context.Context, room string) (<-chan []byte, func(), error)
}

// redisBroker is the default Broker, backed by go-redis pub/sub.
type redisBroker struct {
	client *redis.Client
}

// NewRedisBroker dials addr and pings it once so construction fails
// fast (spec.md's configuration-validation idiom carried server-side)
// rather than deferring the first error to a room's first message.
func NewRedisBroker(ctx context.Context, addr string) (Broker, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &redisBroker{client: c}, nil
}

func (b *redisBroker) Publish(ctx context.Context, room string, frame []byte) error {
	return b.client.Publish(ctx, room, frame).Err()
}

func (b *redisBroker) Subscribe(ctx context.Context, room string) (<-chan []byte, func(), error) {
	sub := b.client.Subscribe(ctx, room)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}
