package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "alarmd/pkg/logx"

	"github.com/redis/go-redis/v9"
)

// auditCap bounds the redis audit list.
const auditCap = 10000

// redisStore keeps the snapshot as one JSON string and the audit trail as a
// capped list:
//   - <key>:alarms
//   - <key>:audit
type redisStore struct {
	client *redis.Client
	log    logx.Logger
	prefix string
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return newRedisStore(client, cfg.Key, log), nil
}

func newRedisStore(client *redis.Client, prefix string, log logx.Logger) *redisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "alarmd"
	}
	return &redisStore{client: client, log: log, prefix: prefix}
}

func (s *redisStore) alarmsKey() string { return s.prefix + ":alarms" }
func (s *redisStore) auditKey() string  { return s.prefix + ":audit" }

func (s *redisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *redisStore) LoadAlarms(ctx context.Context) ([]Record, error) {
	if s == nil || s.client == nil {
		return nil, ErrDisabled
	}
	b, err := s.client.Get(ctx, s.alarmsKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alarms: %w", err)
	}
	var out []Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode alarms: %w", err)
	}
	return out, nil
}

func (s *redisStore) SaveAlarms(ctx context.Context, recs []Record) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	if recs == nil {
		recs = []Record{}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.alarmsKey(), b, 0).Err(); err != nil {
		return fmt.Errorf("failed to save alarms: %w", err)
	}
	return nil
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.auditKey(), b)
	pipe.LTrim(ctx, s.auditKey(), -auditCap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append audit: %w", err)
	}
	return nil
}
