package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"canvas-backend/internal/model"
)

// boardTTL keeps cached snapshots around long enough to cover rejoin churn
// while an event is live.
const boardTTL = 24 * time.Hour

// Client wraps the Redis client for board snapshot caching.
type Client struct {
	client *redis.Client
}

// NewClient connects to Redis and verifies the connection.
func NewClient(addr, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return &Client{client: client}, nil
}

// Raw exposes the underlying client for pub/sub consumers.
func (c *Client) Raw() *redis.Client {
	return c.client
}

func boardKey(boardID string) string {
	return "board:" + boardID + ":snapshot"
}

// SetBoard caches a board snapshot.
func (c *Client) SetBoard(ctx context.Context, board *model.Board) error {
	data, err := json.Marshal(board)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, boardKey(board.ID), data, boardTTL).Err()
}

// GetBoard returns a cached snapshot, or nil on miss.
func (c *Client) GetBoard(ctx context.Context, boardID string) (*model.Board, error) {
	val, err := c.client.Get(ctx, boardKey(boardID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var board model.Board
	if err := json.Unmarshal([]byte(val), &board); err != nil {
		return nil, err
	}
	return &board, nil
}

// InvalidateBoard drops a cached snapshot (board deletion).
func (c *Client) InvalidateBoard(ctx context.Context, boardID string) error {
	return c.client.Del(ctx, boardKey(boardID)).Err()
}

// Ping checks connectivity for health reporting.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.client.Close()
}
