package concurrency

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

const syncMessageType = "sync"

// SyncMessage tells other processes that a model's shared count changed.
type SyncMessage struct {
	Type       string `json:"type"`
	ModelID    string `json:"modelId"`
	Count      int    `json:"count"`
	InstanceID string `json:"instanceId"`
}

// Broadcaster publishes counter changes on a Redis Pub/Sub channel.
// Delivery is best effort; there is no request/response.
type Broadcaster struct {
	rdb     redis.UniversalClient
	channel string
}

func NewBroadcaster(rdb redis.UniversalClient, channel string) *Broadcaster {
	return &Broadcaster{rdb: rdb, channel: channel}
}

func (b *Broadcaster) Publish(ctx context.Context, msg SyncMessage) error {
	msg.Type = syncMessageType
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode sync message: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

// Subscribe delivers every decodable sync message to handle until the
// returned PubSub is closed. It waits for the subscription confirmation so
// no message published after it returns is missed.
func (b *Broadcaster) Subscribe(ctx context.Context, handle func(SyncMessage)) (*redis.PubSub, error) {
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	go func() {
		for msg := range ps.Channel() {
			var sync SyncMessage
			if err := json.Unmarshal([]byte(msg.Payload), &sync); err != nil {
				logx.Debug().Err(err).Str("channel", msg.Channel).Msg("ignoring undecodable sync message")
				continue
			}
			if sync.Type != syncMessageType || sync.ModelID == "" {
				continue
			}
			handle(sync)
		}
	}()
	return ps, nil
}
