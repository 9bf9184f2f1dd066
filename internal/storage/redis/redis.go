// Package redis fans room broadcasts out to the other server instances
// through Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AlexMickh/market-chat/internal/router"
	"github.com/AlexMickh/market-chat/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "chat:room:"

type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type envelope struct {
	Instance string `json:"instance"`
	Room     string `json:"room"`
	Frame    []byte `json:"frame"`
	Except   string `json:"except,omitempty"`
}

// Relay is a router.Rooms that delivers to local members right away and
// publishes the frame for every other instance.
type Relay struct {
	*router.Hub
	rdb      Client
	instance string
}

func New(rdb Client, hub *router.Hub) *Relay {
	return &Relay{
		Hub:      hub,
		rdb:      rdb,
		instance: uuid.NewString(),
	}
}

func (r *Relay) Broadcast(ctx context.Context, room string, frame []byte, except string) error {
	const op = "storage.redis.Broadcast"

	r.Deliver(ctx, room, frame, except)

	payload, err := json.Marshal(envelope{
		Instance: r.instance,
		Room:     room,
		Frame:    frame,
		Except:   except,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.rdb.Publish(ctx, channelPrefix+room, payload).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Run consumes broadcasts of other instances until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	const op = "storage.redis.Run"

	ctx = logger.GetFromCtx(ctx).With(ctx, zap.String("op", op), zap.String("instance", r.instance))

	sub := r.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	logger.GetFromCtx(ctx).Info(ctx, "subscribed to room channels")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, msg.Channel, msg.Payload); err != nil {
				logger.GetFromCtx(ctx).Warn(ctx, "bad relay message", zap.Error(err))
			}
		}
	}
}

func (r *Relay) handle(ctx context.Context, channel, payload string) error {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return err
	}
	if env.Instance == r.instance {
		return nil
	}
	if room := strings.TrimPrefix(channel, channelPrefix); room != env.Room {
		return fmt.Errorf("room %q published on channel %q", env.Room, channel)
	}

	r.Deliver(ctx, env.Room, env.Frame, env.Except)
	return nil
}
