package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vreid/kessen/internal/pkg/ledger"
)

const DefaultRedisChannel = "kessen:events"

type RedisPublisher struct {
	Client  *redis.Client
	Channel string
}

func NewRedisPublisher(addr string, password string, channel string) (*RedisPublisher, error) {
	//nolint:exhaustruct
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisPublisher{
		Client:  client,
		Channel: channel,
	}, nil
}

func (p *RedisPublisher) Notify(ctx context.Context, event ledger.Event) error {
	message, err := Encode(event)
	if err != nil {
		return err
	}

	err = p.Client.Publish(ctx, p.Channel, message).Err()
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Topic(), err)
	}

	return nil
}

func (p *RedisPublisher) Close() error {
	//nolint:wrapcheck
	return p.Client.Close()
}
