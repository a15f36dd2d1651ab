package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultRedisDialTimeout  = 5 * time.Second
	defaultRedisReadTimeout  = 3 * time.Second
	defaultRedisWriteTimeout = 3 * time.Second
)

// alertEvent is the JSON document published for every fired alert.
type alertEvent struct {
	Location     string  `json:"location"`
	TemperatureC float64 `json:"temperature_c"`
	ThresholdC   float64 `json:"threshold_c"`
	Condition    string  `json:"condition,omitempty"`
	ObservedAt   int64   `json:"observed_at"`
}

// Publisher is the subset of the redis client used for alert fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes alerts as JSON on a Redis pub/sub channel.
type RedisNotifier struct {
	client  Publisher
	channel string
	logger  zerolog.Logger
}

// NewRedisClient returns a go-redis client after validating the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  defaultRedisDialTimeout,
		ReadTimeout:  defaultRedisReadTimeout,
		WriteTimeout: defaultRedisWriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultRedisDialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewRedisNotifier constructs a pub/sub notifier.
func NewRedisNotifier(client Publisher, channel string, logger zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "alert_redis").Logger(),
	}
}

// Notify publishes the alert.
func (n *RedisNotifier) Notify(ctx context.Context, note Notification) error {
	payload, err := encodeAlertEvent(note)
	if err != nil {
		return err
	}
	receivers, err := n.client.Publish(ctx, n.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	n.logger.Debug().Str("location", note.Alert.Location).Int64("receivers", receivers).Msg("alert published")
	return nil
}

func encodeAlertEvent(note Notification) ([]byte, error) {
	body, err := json.Marshal(alertEvent{
		Location:     note.Alert.Location,
		TemperatureC: note.Alert.TemperatureC,
		ThresholdC:   note.ThresholdC,
		Condition:    note.Condition,
		ObservedAt:   note.Alert.ObservedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal alert event: %w", err)
	}
	return body, nil
}

var _ Notifier = (*RedisNotifier)(nil)
