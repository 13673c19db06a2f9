package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erain9/batchingo/pkg/core"
)

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

var defaultOptions = &RedisOptions{
	Addr:     "localhost:6379",
	Password: "",
	DB:       0,
}

// SetDefaultRedisOptions sets the default options for Redis connections
func SetDefaultRedisOptions(options *RedisOptions) {
	defaultOptions = options
}

// GetRedisClient creates a new Redis client using the default options
func GetRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     defaultOptions.Addr,
		Password: defaultOptions.Password,
		DB:       defaultOptions.DB,
	})
}

// RedisStore implements Store with Redis storage so order state survives
// process restarts.
type RedisStore struct {
	client     *redis.Client
	orderKey   string // prefix for order record JSON
	refKey     string // hash ref -> order ID
	pendingKey string // hash tx ref -> order ID list JSON
	balanceKey string // prefix for per-account balance hashes
	logger     *zap.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store under a key prefix
func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:     client,
		orderKey:   fmt.Sprintf("%s:order", prefix),
		refKey:     fmt.Sprintf("%s:ref", prefix),
		pendingKey: fmt.Sprintf("%s:pending", prefix),
		balanceKey: fmt.Sprintf("%s:balance", prefix),
		logger:     logger,
	}
}

func (s *RedisStore) orderField(id string) string {
	return fmt.Sprintf("%s:%s", s.orderKey, id)
}

func (s *RedisStore) balanceField(account string) string {
	return fmt.Sprintf("%s:%s", s.balanceKey, account)
}

// SaveOrder stores a new record
func (s *RedisStore) SaveOrder(ctx context.Context, rec *OrderRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	set, err := s.client.SetNX(ctx, s.orderField(rec.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !set {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, rec.ID)
	}

	if rec.Ref != "" {
		if err := s.client.HSet(ctx, s.refKey, rec.Ref, rec.ID).Err(); err != nil {
			return err
		}
	}
	return nil
}

// GetOrder fetches a record by ID
func (s *RedisStore) GetOrder(ctx context.Context, id string) (*OrderRecord, error) {
	data, err := s.client.Get(ctx, s.orderField(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
		}
		return nil, err
	}

	var rec OrderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Error("failed to unmarshal order record",
			zap.String("orderID", id),
			zap.Error(err))
		return nil, err
	}
	return &rec, nil
}

// UpdateOrder replaces an existing record
func (s *RedisStore) UpdateOrder(ctx context.Context, rec *OrderRecord) error {
	key := s.orderField(rec.ID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: order %s", ErrNotFound, rec.ID)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return err
	}
	if rec.Ref != "" {
		return s.client.HSet(ctx, s.refKey, rec.Ref, rec.ID).Err()
	}
	return nil
}

// SetStatus transitions an order's status
func (s *RedisStore) SetStatus(ctx context.Context, id string, status core.OrderStatus) error {
	rec, err := s.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	rec.Status = status
	return s.UpdateOrder(ctx, rec)
}

// BindRef attaches a submission reference to an order
func (s *RedisStore) BindRef(ctx context.Context, id, ref string) error {
	rec, err := s.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	rec.Ref = ref
	return s.UpdateOrder(ctx, rec)
}

// OrderByRef resolves a submission reference to its record
func (s *RedisStore) OrderByRef(ctx context.Context, ref string) (*OrderRecord, error) {
	id, err := s.client.HGet(ctx, s.refKey, ref).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: ref %s", ErrNotFound, ref)
		}
		return nil, err
	}
	return s.GetOrder(ctx, id)
}

// OpenOrders lists an account's non-terminal records. Records are scanned
// by key prefix; accounts hold few enough open orders for this to stay
// cheap.
func (s *RedisStore) OpenOrders(ctx context.Context, account string) ([]*OrderRecord, error) {
	var out []*OrderRecord
	iter := s.client.Scan(ctx, 0, s.orderKey+":*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		var rec OrderRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Error("skipping malformed order record",
				zap.String("key", iter.Val()),
				zap.Error(err))
			continue
		}
		if rec.Account == account && !rec.Status.Terminal() {
			out = append(out, &rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteOrder removes a record and its reference binding
func (s *RedisStore) DeleteOrder(ctx context.Context, id string) error {
	rec, err := s.GetOrder(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.orderField(id))
	if rec.Ref != "" {
		pipe.HDel(ctx, s.refKey, rec.Ref)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// AddPendingTx marks a submission reference as awaiting confirmation
func (s *RedisStore) AddPendingTx(ctx context.Context, ref string, orderIDs []string) error {
	data, err := json.Marshal(orderIDs)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.pendingKey, ref, data).Err()
}

// TakePendingTx removes a pending reference, returning its order IDs
func (s *RedisStore) TakePendingTx(ctx context.Context, ref string) ([]string, error) {
	data, err := s.client.HGet(ctx, s.pendingKey, ref).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: pending tx %s", ErrNotFound, ref)
		}
		return nil, err
	}
	if err := s.client.HDel(ctx, s.pendingKey, ref).Err(); err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// PendingTxs lists references still awaiting confirmation
func (s *RedisStore) PendingTxs(ctx context.Context) ([]string, error) {
	return s.client.HKeys(ctx, s.pendingKey).Result()
}

// SetBalances caches an account's balances as a hash
func (s *RedisStore) SetBalances(ctx context.Context, account string, balances map[string]fpdecimal.Decimal) error {
	key := s.balanceField(account)
	fields := make(map[string]string, len(balances))
	for sym, amount := range balances {
		fields[sym] = amount.String()
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Balances returns cached balances for an account
func (s *RedisStore) Balances(ctx context.Context, account string) (map[string]fpdecimal.Decimal, error) {
	fields, err := s.client.HGetAll(ctx, s.balanceField(account)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: balances for %s", ErrNotFound, account)
	}

	out := make(map[string]fpdecimal.Decimal, len(fields))
	for sym, raw := range fields {
		amount, err := fpdecimal.FromString(raw)
		if err != nil {
			return nil, fmt.Errorf("balance %s amount %q: %w", sym, raw, err)
		}
		out[sym] = amount
	}
	return out, nil
}

// Close closes the underlying Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
