package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	settlementQueue      = "settlement_queue"
	settlementDeadLetter = "settlement_dead_letter"
	refundPrefix         = "refund:"
)

// releaseLock deletes the lock only if it still holds the caller's token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisService struct {
	Client *redis.Client
}

func NewRedisService(redisURL string) (*RedisService, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Println("Redis connected successfully")
	return &RedisService{Client: client}, nil
}

func (r *RedisService) Close() error {
	return r.Client.Close()
}

func (r *RedisService) EnqueueSettlement(ctx context.Context, job *api.SettlementJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return r.Client.RPush(ctx, settlementQueue, data).Err()
}

// DequeueSettlement blocks for up to timeout. It returns redis.Nil when the
// queue stayed empty.
func (r *RedisService) DequeueSettlement(ctx context.Context, timeout time.Duration) (*api.SettlementJob, error) {
	result, err := r.Client.BLPop(ctx, timeout, settlementQueue).Result()
	if err != nil {
		return nil, err
	}

	if len(result) < 2 {
		return nil, nil
	}

	var job api.SettlementJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, err
	}

	return &job, nil
}

// DeadLetterSettlement parks a job that kept failing so an operator can
// inspect it and push it back.
func (r *RedisService) DeadLetterSettlement(ctx context.Context, job *api.SettlementJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return r.Client.RPush(ctx, settlementDeadLetter, data).Err()
}

func (r *RedisService) DeadLetterLength(ctx context.Context) (int64, error) {
	return r.Client.LLen(ctx, settlementDeadLetter).Result()
}

func (r *RedisService) QueueLength(ctx context.Context) (int64, error) {
	return r.Client.LLen(ctx, settlementQueue).Result()
}

// AcquireDeviceLock returns the owner token when the lock was taken, or an
// empty token when another holder has it.
func (r *RedisService) AcquireDeviceLock(ctx context.Context, deviceID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, "lock:device:"+deviceID, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func (r *RedisService) ReleaseDeviceLock(ctx context.Context, deviceID, token string) error {
	return releaseLock.Run(ctx, r.Client, []string{"lock:device:" + deviceID}, token).Err()
}

// DispatchedRefund returns the recorded split for key, or nil when no refund
// was recorded.
func (r *RedisService) DispatchedRefund(ctx context.Context, key string) (*api.RefundRecord, error) {
	data, err := r.Client.Get(ctx, refundPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec api.RefundRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisService) RecordRefund(ctx context.Context, rec api.RefundRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.Client.SetEX(ctx, refundPrefix+rec.ID, data, ttl).Err()
}
