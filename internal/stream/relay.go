package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"clmhub.io/internal/ids"
	"clmhub.io/internal/obs"
)

// Channel is the Redis pub/sub channel shared by every API instance.
const Channel = "clm:events"

const publishTimeout = 2 * time.Second

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Relay delivers events locally and mirrors them to other instances over Redis.
type Relay struct {
	hub     *Hub
	client  *redis.Client
	channel string
	origin  string
}

// OpenRedis parses a redis:// URL and checks the server is reachable.
func OpenRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("redis url is empty")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewRelay wraps hub. A nil client makes the relay purely local.
func NewRelay(hub *Hub, client *redis.Client) *Relay {
	return &Relay{hub: hub, client: client, channel: Channel, origin: ids.New()}
}

// Publish delivers evt to local subscribers and forwards it to Redis.
func (r *Relay) Publish(evt Event) {
	r.hub.Publish(evt)
	if r.client == nil {
		return
	}
	payload, err := r.encode(evt)
	if err != nil {
		obs.Warn("stream_relay_encode_failed", map[string]any{"type": evt.Type, "error": err})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		obs.Warn("stream_relay_publish_failed", map[string]any{"type": evt.Type, "error": err})
	}
}

// Run receives events published by other instances until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	if r.client == nil {
		<-ctx.Done()
		return nil
	}
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.receive(msg.Payload)
		}
	}
}

func (r *Relay) encode(evt Event) ([]byte, error) {
	return json.Marshal(envelope{Origin: r.origin, Event: evt})
}

// receive republishes a remote event locally; our own messages are skipped.
func (r *Relay) receive(payload string) bool {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		obs.Warn("stream_relay_decode_failed", map[string]any{"error": err})
		return false
	}
	if env.Origin == r.origin || env.Event.CompanyID == "" {
		return false
	}
	r.hub.Publish(env.Event)
	return true
}
