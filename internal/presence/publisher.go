package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// UpdateKind distinguishes published presence changes.
type UpdateKind string

const (
	UpdateJoined UpdateKind = "joined"
	UpdateLeft   UpdateKind = "left"
)

// Update is the cross-instance presence change notification. Servers sharing
// a room over multiple instances subscribe to mirror each other's membership.
type Update struct {
	Kind   UpdateKind `json:"kind"`
	RoomID string     `json:"roomId"`
	Record Record     `json:"record"`
}

// Publisher fans presence changes out through redis pub/sub.
type Publisher struct {
	client *redis.Client
}

// NewPublisher wraps an existing redis client.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func channelFor(roomID string) string {
	return fmt.Sprintf("presence:room:%s", roomID)
}

// Publish sends a presence update for a room. Failures are returned, never
// fatal: local membership stays correct regardless.
func (p *Publisher) Publish(ctx context.Context, u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, channelFor(u.RoomID), data).Err()
}

// Subscribe returns the pub/sub subscription for a room's presence channel.
func (p *Publisher) Subscribe(ctx context.Context, roomID string) *redis.PubSub {
	return p.client.Subscribe(ctx, channelFor(roomID))
}
