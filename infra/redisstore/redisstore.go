// Package redisstore keeps shopfloor heartbeats in Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/store"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "mes:heartbeats"

const (
	fieldLastSeen = "last_seen"
	fieldStatus   = "status"
)

// HeartbeatStore stores one hash per shopfloor under <prefix>:<shopfloor>
// and the set of known shopfloors under <prefix>.
type HeartbeatStore struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ store.HeartbeatStore = (*HeartbeatStore)(nil)

// New wraps an existing client. An empty prefix uses DefaultPrefix.
func New(rdb redis.UniversalClient, prefix string) *HeartbeatStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &HeartbeatStore{rdb: rdb, prefix: prefix}
}

// Dial connects to addr and checks the connection with PING.
func Dial(ctx context.Context, addr string, db int, prefix string) (*HeartbeatStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return New(rdb, prefix), nil
}

func (s *HeartbeatStore) key(shopfloor string) string { return s.prefix + ":" + shopfloor }

func (s *HeartbeatStore) PutHeartbeat(ctx context.Context, hb model.Heartbeat) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key(hb.Shopfloor),
			fieldLastSeen, hb.LastSeen.UnixMilli(),
			fieldStatus, hb.Status,
		)
		p.SAdd(ctx, s.prefix, hb.Shopfloor)
		return nil
	})
	return err
}

func (s *HeartbeatStore) GetHeartbeat(ctx context.Context, shopfloor string) (model.Heartbeat, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key(shopfloor)).Result()
	if err != nil {
		return model.Heartbeat{}, err
	}
	if len(vals) == 0 {
		return model.Heartbeat{}, fmt.Errorf("heartbeat %s: %w", shopfloor, model.ErrNotFound)
	}
	return decode(shopfloor, vals)
}

func (s *HeartbeatStore) ListHeartbeats(ctx context.Context) ([]model.Heartbeat, error) {
	ids, err := s.rdb.SMembers(ctx, s.prefix).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	if _, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.key(id))
		}
		return nil
	}); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	res := make([]model.Heartbeat, 0, len(ids))
	for i, id := range ids {
		vals := cmds[i].Val()
		if len(vals) == 0 {
			continue
		}
		hb, err := decode(id, vals)
		if err != nil {
			return nil, err
		}
		res = append(res, hb)
	}
	return res, nil
}

// Close closes the underlying client.
func (s *HeartbeatStore) Close() error { return s.rdb.Close() }

func decode(shopfloor string, vals map[string]string) (model.Heartbeat, error) {
	ms, err := strconv.ParseInt(vals[fieldLastSeen], 10, 64)
	if err != nil {
		return model.Heartbeat{}, fmt.Errorf("heartbeat %s: bad %s: %w", shopfloor, fieldLastSeen, err)
	}
	return model.Heartbeat{
		Shopfloor: shopfloor,
		LastSeen:  time.UnixMilli(ms).UTC(),
		Status:    vals[fieldStatus],
	}, nil
}
