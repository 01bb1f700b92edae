package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jordanhubbard/ensemble/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps results in a Redis list, head = most recent.
type RedisStore struct {
	client *redis.Client
	key    string
	max    int
}

// NewRedisStore connects to url (redis://...) and verifies the connection.
func NewRedisStore(ctx context.Context, url, key string, max int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStoreWithClient(client, key, max), nil
}

func NewRedisStoreWithClient(client *redis.Client, key string, max int) *RedisStore {
	if max <= 0 {
		max = models.MaxResults
	}
	return &RedisStore{client: client, key: key, max: max}
}

// Append pushes results and trims the list in one MULTI/EXEC.
func (s *RedisStore) Append(ctx context.Context, results []models.JobResult) error {
	if len(results) == 0 {
		return nil
	}
	values, err := encodeForPush(results)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, values...)
		pipe.LTrim(ctx, s.key, 0, int64(s.max-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (s *RedisStore) ReadAll(ctx context.Context) []models.JobResult {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		log.Printf("[Results] Warning: redis read failed: %v", err)
		return []models.JobResult{}
	}
	out := make([]models.JobResult, 0, len(raw))
	for _, item := range raw {
		var r models.JobResult
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// encodeForPush orders values so that after LPUSH results[0] is at the head.
func encodeForPush(results []models.JobResult) ([]interface{}, error) {
	values := make([]interface{}, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		b, err := json.Marshal(results[i])
		if err != nil {
			return nil, err
		}
		values = append(values, string(b))
	}
	return values, nil
}
