package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	redisinfra "github.com/skillhubio/shield/internal/infra/redis"
	"github.com/skillhubio/shield/pkg/logger"
)

// Redis key layout. Events live under a per-id key with a retention
// TTL; lookups go through day-bucketed type indices and a per-IP index
// with its own shorter retention.
const (
	keyEventPrefix   = "shield:security:event:"
	keyTypeIndex     = "shield:security:index:type:"
	keyIPIndex       = "shield:security:index:ip:"
	keyIPBlockPrefix = "shield:security:block:ip:"
	keyBlockRegistry = "shield:security:blocks:ips"
	keyUserLock      = "shield:security:lock:user:"
)

// KV is the subset of the shared-store client the event store uses.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	MGet(ctx context.Context, keys ...string) ([]string, error)
}

// RedisStore persists events and mitigation state in the shared store
// so multiple instances see the same history and blocks.
type RedisStore struct {
	kv               KV
	eventRetention   time.Duration
	ipIndexRetention time.Duration
	log              *logger.Logger
	now              func() time.Time
}

// NewRedisStore returns a store writing through the given client.
func NewRedisStore(kv KV, eventRetention, ipIndexRetention time.Duration, log *logger.Logger) (*RedisStore, error) {
	if kv == nil {
		return nil, errors.New("kv client is required")
	}
	if eventRetention <= 0 || ipIndexRetention <= 0 {
		return nil, errors.New("retention durations must be positive")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisStore{
		kv:               kv,
		eventRetention:   eventRetention,
		ipIndexRetention: ipIndexRetention,
		log:              log,
		now:              time.Now,
	}, nil
}

// SaveEvent writes the event record and adds its id to the type-day
// index and, when the event carries a source IP, the per-IP index.
func (s *RedisStore) SaveEvent(ctx context.Context, event *SecurityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	if err := s.kv.Set(ctx, keyEventPrefix+event.ID, string(data), s.eventRetention); err != nil {
		return err
	}

	dayKey := typeIndexKey(event.Type, event.Timestamp)
	if err := s.kv.SAdd(ctx, dayKey, s.eventRetention, event.ID); err != nil {
		return err
	}

	if event.IPAddress != "" {
		if err := s.kv.SAdd(ctx, keyIPIndex+event.IPAddress, s.ipIndexRetention, event.ID); err != nil {
			return err
		}
	}
	return nil
}

// UpdateEvent overwrites the event record, keeping existing indices.
func (s *RedisStore) UpdateEvent(ctx context.Context, event *SecurityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	return s.kv.Set(ctx, keyEventPrefix+event.ID, string(data), s.eventRetention)
}

// GetEvent loads one event by id.
func (s *RedisStore) GetEvent(ctx context.Context, id string) (*SecurityEvent, error) {
	raw, err := s.kv.Get(ctx, keyEventPrefix+id)
	if errors.Is(err, redisinfra.ErrKeyNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}

	var event SecurityEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("unmarshal event %s: %w", id, err)
	}
	return &event, nil
}

// EventsByType walks the day buckets covering [since, now] and returns
// matching events oldest first.
func (s *RedisStore) EventsByType(ctx context.Context, eventType EventType, since time.Time) ([]*SecurityEvent, error) {
	var ids []string
	for _, day := range daysBetween(since, s.now()) {
		members, err := s.kv.SMembers(ctx, typeIndexKey(eventType, day))
		if err != nil {
			return nil, err
		}
		ids = append(ids, members...)
	}
	return s.loadEvents(ctx, ids, since)
}

// EventsByIP returns events from the per-IP index recorded at or after
// since, oldest first.
func (s *RedisStore) EventsByIP(ctx context.Context, ip string, since time.Time) ([]*SecurityEvent, error) {
	ids, err := s.kv.SMembers(ctx, keyIPIndex+ip)
	if err != nil {
		return nil, err
	}
	return s.loadEvents(ctx, ids, since)
}

// loadEvents bulk-fetches events by id, dropping expired records and
// anything before since. Event ids carry a millisecond prefix, so
// sorting ids yields chronological order.
func (s *RedisStore) loadEvents(ctx context.Context, ids []string, since time.Time) ([]*SecurityEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyEventPrefix + id
	}
	values, err := s.kv.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	out := make([]*SecurityEvent, 0, len(values))
	for i, raw := range values {
		if raw == "" {
			continue
		}
		var event SecurityEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			s.log.WithError(err).WithField("event_id", ids[i]).Warn("skipping undecodable event record")
			continue
		}
		if event.Timestamp.Before(since) {
			continue
		}
		out = append(out, &event)
	}
	return out, nil
}

// BlockIP writes an expiring block key and registers the IP for
// listing.
func (s *RedisStore) BlockIP(ctx context.Context, ip string, duration time.Duration, reason string) error {
	if err := s.kv.Set(ctx, keyIPBlockPrefix+ip, reason, duration); err != nil {
		return err
	}
	return s.kv.SAdd(ctx, keyBlockRegistry, 0, ip)
}

// UnblockIP removes the block key and the registry entry.
func (s *RedisStore) UnblockIP(ctx context.Context, ip string) error {
	if err := s.kv.Del(ctx, keyIPBlockPrefix+ip); err != nil {
		return err
	}
	return s.kv.SRem(ctx, keyBlockRegistry, ip)
}

// IsIPBlocked checks for an unexpired block key.
func (s *RedisStore) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	return s.kv.Exists(ctx, keyIPBlockPrefix+ip)
}

// BlockedIPs lists registered IPs whose block keys have not expired,
// pruning registry entries left behind by expiry.
func (s *RedisStore) BlockedIPs(ctx context.Context) ([]string, error) {
	members, err := s.kv.SMembers(ctx, keyBlockRegistry)
	if err != nil {
		return nil, err
	}

	var active, expired []string
	for _, ip := range members {
		blocked, err := s.kv.Exists(ctx, keyIPBlockPrefix+ip)
		if err != nil {
			return nil, err
		}
		if blocked {
			active = append(active, ip)
		} else {
			expired = append(expired, ip)
		}
	}
	if len(expired) > 0 {
		if err := s.kv.SRem(ctx, keyBlockRegistry, expired...); err != nil {
			s.log.WithError(err).Warn("failed to prune expired block registry entries")
		}
	}
	sort.Strings(active)
	return active, nil
}

// LockAccount writes an expiring lock key for the account.
func (s *RedisStore) LockAccount(ctx context.Context, userID string, duration time.Duration, reason string) error {
	return s.kv.Set(ctx, keyUserLock+userID, reason, duration)
}

// UnlockAccount removes the lock key.
func (s *RedisStore) UnlockAccount(ctx context.Context, userID string) error {
	return s.kv.Del(ctx, keyUserLock+userID)
}

// IsAccountLocked checks for an unexpired lock key.
func (s *RedisStore) IsAccountLocked(ctx context.Context, userID string) (bool, error) {
	return s.kv.Exists(ctx, keyUserLock+userID)
}

// typeIndexKey buckets type indices by UTC day.
func typeIndexKey(eventType EventType, at time.Time) string {
	return keyTypeIndex + string(eventType) + ":" + at.UTC().Format("2006-01-02")
}

// daysBetween returns one timestamp per UTC day in [since, until].
func daysBetween(since, until time.Time) []time.Time {
	var days []time.Time
	day := since.UTC().Truncate(24 * time.Hour)
	end := until.UTC().Truncate(24 * time.Hour)
	for !day.After(end) {
		days = append(days, day)
		day = day.Add(24 * time.Hour)
	}
	return days
}
