package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions as JSON values with a TTL so abandoned
// bookings age out on their own.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(addr, password string, ttl time.Duration) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: c, ttl: ttl}
}

func (r *RedisStore) Save(ctx context.Context, st *State) error {
	st.UpdatedAt = time.Now()
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sessionKey(st.Account), b, r.ttl).Err()
}

func (r *RedisStore) Load(ctx context.Context, account string) (*State, bool, error) {
	b, err := r.client.Get(ctx, sessionKey(account)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, false, err
	}
	return &st, true, nil
}

func sessionKey(account string) string { return "session:" + account }
