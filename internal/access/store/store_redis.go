package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"jitaccess/internal/access/models"
	id "jitaccess/pkg/domain"
	"jitaccess/pkg/platform/sentinel"
)

const (
	redisKeyPrefix   = "jit:request:"
	redisOrderKey    = "jit:requests:order"
	redisSequenceKey = "jit:requests:seq"

	// maxWatchRetries bounds optimistic retries when WATCH detects a concurrent write.
	maxWatchRetries = 16
	listBatchSize   = 200
)

// RedisStore keeps one JSON document per request and a sorted set of ids
// scored by an INCR sequence for insertion order. Conditional updates use
// WATCH/MULTI so a concurrent writer aborts the transaction and we re-read.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func requestKey(reqID id.RequestID) string {
	return redisKeyPrefix + reqID.String()
}

// insertScript creates the document, allocates its sequence and indexes it in
// one atomic step. Writes that can fail on a bad key type run before SET, so a
// failed insert leaves no reachable document behind.
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
local seq = redis.call("INCR", KEYS[2])
redis.call("ZADD", KEYS[3], seq, ARGV[2])
redis.call("SET", KEYS[1], ARGV[1])
return 1
`)

func (s *RedisStore) Insert(ctx context.Context, req *models.AccessRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode access request: %w", err)
	}

	created, err := insertScript.Run(ctx, s.client,
		[]string{requestKey(req.ID), redisSequenceKey, redisOrderKey},
		payload, req.ID.String(),
	).Int()
	if err != nil {
		return fmt.Errorf("insert access request: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("request %s: %w", req.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, reqID id.RequestID) (*models.AccessRequest, error) {
	raw, err := s.client.Get(ctx, requestKey(reqID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("request %s: %w", reqID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get access request: %w", err)
	}
	return decodeRequest(raw)
}

func (s *RedisStore) CompareAndTransition(ctx context.Context, reqID id.RequestID, expected models.Status, mutate func(*models.AccessRequest)) (*models.AccessRequest, error) {
	return s.Execute(ctx, reqID, statusGuard(expected), mutate)
}

func (s *RedisStore) Execute(ctx context.Context, reqID id.RequestID, validate func(*models.AccessRequest) error, mutate func(*models.AccessRequest)) (*models.AccessRequest, error) {
	key := requestKey(reqID)
	var result *models.AccessRequest

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("request %s: %w", reqID, sentinel.ErrNotFound)
			}
			return fmt.Errorf("get access request: %w", err)
		}
		req, err := decodeRequest(raw)
		if err != nil {
			return err
		}
		if validate != nil {
			if err := validate(req); err != nil {
				return err
			}
		}
		mutate(req)
		payload, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encode access request: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = req
		return nil
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("update access request %s: %w", reqID, redis.TxFailedErr)
}

func (s *RedisStore) List(ctx context.Context, filter models.Filter) ([]*models.AccessRequest, error) {
	ids, err := s.client.ZRange(ctx, redisOrderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list access request ids: %w", err)
	}

	out := make([]*models.AccessRequest, 0, len(ids))
	for start := 0; start < len(ids); start += listBatchSize {
		end := min(start+listBatchSize, len(ids))
		keys := make([]string, 0, end-start)
		for _, reqID := range ids[start:end] {
			keys = append(keys, redisKeyPrefix+reqID)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("load access requests: %w", err)
		}
		for _, v := range values {
			str, ok := v.(string)
			if !ok {
				continue
			}
			req, err := decodeRequest([]byte(str))
			if err != nil {
				return nil, err
			}
			if filter.Matches(req) {
				out = append(out, req)
			}
		}
	}
	return out, nil
}

func decodeRequest(raw []byte) (*models.AccessRequest, error) {
	var req models.AccessRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode access request: %w", err)
	}
	return &req, nil
}
