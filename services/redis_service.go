package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/redis/go-redis/v9"

	"sandbox-runner-server/models"
)

const (
	ResultKeyPrefix     = "result:"
	OutputChannelPrefix = "output:"
	ResultTTL           = 10 * time.Minute

	redisIOTimeout = 500 * time.Millisecond
)

type RedisService struct {
	client  *redis.Client
	tracing bool
}

// NewRedisService connects lazily; an unreachable server surfaces on first use.
func NewRedisService(url string, tracing bool) (*RedisService, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = redisIOTimeout
	opts.ReadTimeout = redisIOTimeout
	opts.WriteTimeout = redisIOTimeout
	opts.MaxRetries = 1
	return &RedisService{client: redis.NewClient(opts), tracing: tracing}, nil
}

func (r *RedisService) capture(ctx context.Context, name string, fn func(context.Context) error) error {
	if !r.tracing {
		return fn(ctx)
	}
	return xray.Capture(ctx, name, fn)
}

// GetResult retrieves a cached execution result; a miss returns nil, nil
func (r *RedisService) GetResult(ctx context.Context, key string) (*models.ExecutionResult, error) {
	var result *models.ExecutionResult

	err := r.capture(ctx, "Redis.Get", func(ctx1 context.Context) error {
		jsonData, err := r.client.Get(ctx1, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}

		var execResult models.ExecutionResult
		if err := json.Unmarshal([]byte(jsonData), &execResult); err != nil {
			return fmt.Errorf("decode cached result %s: %w", key, err)
		}
		result = &execResult

		if seg := xray.GetSegment(ctx1); seg != nil {
			seg.AddMetadata("redis.key", key)
			seg.AddMetadata("redis.operation", "GET")
		}
		return nil
	})

	return result, err
}

// SetResult stores an execution result with a TTL
func (r *RedisService) SetResult(ctx context.Context, key string, result *models.ExecutionResult, ttl time.Duration) error {
	return r.capture(ctx, "Redis.Set", func(ctx1 context.Context) error {
		jsonData, err := json.Marshal(result)
		if err != nil {
			return err
		}

		if seg := xray.GetSegment(ctx1); seg != nil {
			seg.AddMetadata("redis.key", key)
			seg.AddMetadata("redis.operation", "SET")
		}

		return r.client.Set(ctx1, key, jsonData, ttl).Err()
	})
}

// PublishOutput forwards a relay chunk to the session's pub/sub channel
func (r *RedisService) PublishOutput(ctx context.Context, chunk models.OutputChunk) error {
	return r.capture(ctx, "Redis.Publish", func(ctx1 context.Context) error {
		jsonData, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		return r.client.Publish(ctx1, OutputChannelPrefix+chunk.SessionID, jsonData).Err()
	})
}

// Ping checks Redis connection
func (r *RedisService) Ping(ctx context.Context) error {
	return r.capture(ctx, "Redis.Ping", func(ctx1 context.Context) error {
		if seg := xray.GetSegment(ctx1); seg != nil {
			seg.AddMetadata("redis.operation", "PING")
		}
		return r.client.Ping(ctx1).Err()
	})
}

func (r *RedisService) Close() error {
	return r.client.Close()
}
