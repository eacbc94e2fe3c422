package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// InvalidationEvent tells peer gateways to drop their page caches
type InvalidationEvent struct {
	Instance string `json:"instance"`
	Reason   string `json:"reason"`
}

// PublishInvalidation broadcasts ev to every subscribed gateway
func (c *Client) PublishInvalidation(ctx context.Context, ev InvalidationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode invalidation: %w", err)
	}
	if err := c.rdb.Publish(ctx, c.keys.InvalidationChannel(), payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// SubscribeInvalidations calls handler for each received event until ctx is
// cancelled. The subscription is confirmed before this returns.
func (c *Client) SubscribeInvalidations(ctx context.Context, handler func(InvalidationEvent)) error {
	sub := c.rdb.Subscribe(ctx, c.keys.InvalidationChannel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe failed: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev InvalidationEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					c.logger.Warn("Ignoring malformed invalidation", zap.Error(err))
					continue
				}
				handler(ev)
			}
		}
	}()
	return nil
}
