// Package bansync mirrors ban state into Redis so that every game server in
// a network sees bans issued on any of them.
//
// For each banned identifier a key
//
//	ban:{<identifier>}
//
// holds the latest expiry unix time (0 = permanent) among all bans enforced
// against it, with a matching TTL. The key is deleted only once no enforced
// ban covers the identifier. Every change is also published as JSON on the
// Channel for servers that prefer push over polling.
package bansync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

const (
	BannedKeyPrefix = "ban:{%s}"
	Channel         = "gowarden:bans"
)

// Syncer propagates ban changes to other servers. enforced holds every ban
// currently enforced that shares an identifier with ban.
type Syncer interface {
	Sync(ctx context.Context, ban model.Ban, enforced []model.Ban) error
}

// Checker looks up the shared ban keys for one identifier.
type Checker interface {
	IsBanned(ctx context.Context, identifier string) (bool, error)
}

// Noop discards every change. Used when no Redis address is configured.
type Noop struct{}

func (Noop) Sync(context.Context, model.Ban, []model.Ban) error { return nil }

// Event is the message published on Channel.
type Event struct {
	BanID     int64          `json:"ban_id"`
	Identity  model.Identity `json:"identity"`
	Banned    bool           `json:"banned"`
	ExpiresAt int64          `json:"expires_at"`
	Reason    string         `json:"reason"`
}

// BanKey returns the Redis key for one identifier.
func BanKey(identifier string) string {
	return fmt.Sprintf(BannedKeyPrefix, identifier)
}

// Keys returns the keys a ban is mirrored under.
func Keys(ban model.Ban) []string {
	var keys []string
	for _, id := range []string{ban.License, ban.Steam, ban.Discord} {
		if id != "" {
			keys = append(keys, BanKey(id))
		}
	}
	return keys
}

// KeyState is the value one ban key should hold.
type KeyState struct {
	Key       string
	Banned    bool
	ExpiresAt int64 // 0 = permanent
}

// KeyStates derives the state of each key of ban from the enforced bans
// covering that identifier. A permanent ban beats any expiry, otherwise the
// latest expiry wins.
func KeyStates(ban model.Ban, enforced []model.Ban, now time.Time) []KeyState {
	var states []KeyState
	for _, id := range []string{ban.License, ban.Steam, ban.Discord} {
		if id == "" {
			continue
		}
		st := KeyState{Key: BanKey(id)}
		for _, b := range enforced {
			if !b.Enforced(now) || !covers(b, id) {
				continue
			}
			exp := b.ExpiresAt()
			switch {
			case !st.Banned:
				st.Banned, st.ExpiresAt = true, exp
			case exp == 0 || (st.ExpiresAt != 0 && exp > st.ExpiresAt):
				st.ExpiresAt = exp
			}
		}
		states = append(states, st)
	}
	return states
}

func covers(b model.Ban, identifier string) bool {
	return b.License == identifier || b.Steam == identifier || b.Discord == identifier
}

// NewEvent describes ban as seen at now.
func NewEvent(ban model.Ban, now time.Time) Event {
	return Event{
		BanID:     ban.ID,
		Identity:  ban.Identity(),
		Banned:    ban.Enforced(now),
		ExpiresAt: ban.ExpiresAt(),
		Reason:    ban.Reason,
	}
}

// RedisSyncer writes ban keys and publishes change events.
type RedisSyncer struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisSyncer connects to addr and checks the connection with PING.
func NewRedisSyncer(ctx context.Context, addr, password string, db int) (*RedisSyncer, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("bansync: connect to redis: %w", err)
	}
	return &RedisSyncer{client: rdb, now: time.Now}, nil
}

// Close closes the Redis client connection.
func (s *RedisSyncer) Close() error {
	return s.client.Close()
}

// Sync rewrites the keys of ban from enforced and publishes the change in
// one pipeline.
func (s *RedisSyncer) Sync(ctx context.Context, ban model.Ban, enforced []model.Ban) error {
	now := s.now()
	payload, err := json.Marshal(NewEvent(ban, now))
	if err != nil {
		return fmt.Errorf("bansync: encode event: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, st := range KeyStates(ban, enforced, now) {
		if !st.Banned {
			pipe.Del(ctx, st.Key)
			continue
		}
		var ttl time.Duration
		if st.ExpiresAt > 0 {
			ttl = time.Unix(st.ExpiresAt, 0).Sub(now)
			if ttl <= 0 {
				ttl = time.Millisecond
			}
		}
		pipe.Set(ctx, st.Key, st.ExpiresAt, ttl)
	}
	pipe.Publish(ctx, Channel, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bansync: sync ban %d: %w", ban.ID, err)
	}
	return nil
}

// IsBanned reports whether any server has mirrored a ban for identifier.
// Registry.CheckRemote uses it for GET /api/bans/check.
func (s *RedisSyncer) IsBanned(ctx context.Context, identifier string) (bool, error) {
	val, err := s.client.Get(ctx, BanKey(identifier)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bansync: get ban status for %s: %w", identifier, err)
	}
	expiresAt, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, fmt.Errorf("bansync: ban status for %s: %w", identifier, err)
	}
	return expiresAt == 0 || s.now().Unix() < expiresAt, nil
}

var (
	_ Syncer  = Noop{}
	_ Syncer  = (*RedisSyncer)(nil)
	_ Checker = (*RedisSyncer)(nil)
)
