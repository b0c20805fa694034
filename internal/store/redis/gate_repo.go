package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"amora_backend/internal/domain"
)

// GateRepo stores consent-gate state in Redis so the gate stays correct across
// horizontally scaled service instances sharing one store. The counter is an
// INCR, the crossing and unlock markers use SADD's return value as a
// compare-and-set, and the decline path is a Lua script so "granted is
// terminal" holds under arbitrary races.
type GateRepo struct {
	rdb *redis.Client
}

func NewGateRepo(rdb *redis.Client) *GateRepo {
	return &GateRepo{rdb: rdb}
}

var _ domain.GateRepository = (*GateRepo)(nil)

func countKey(conversationID int64) string {
	return fmt.Sprintf("gate:conv:%d:count", conversationID)
}

func crossedKey(conversationID int64) string {
	return fmt.Sprintf("gate:conv:%d:crossed", conversationID)
}

func unlockedKey(conversationID int64) string {
	return fmt.Sprintf("gate:conv:%d:unlocked", conversationID)
}

func recordKey(conversationID, userID int64, level int) string {
	return fmt.Sprintf("gate:rec:%d:%d:%d", conversationID, userID, level)
}

// declineScript sets declined_temporary only when the record is not granted.
// Returns 1 when the write was applied, 0 when it was a no-op.
var declineScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "consent_state") == "granted" then
	return 0
end
redis.call("HSET", KEYS[1], "consent_state", "declined_temporary", "popup_dismissed", "1", "updated_at", ARGV[1])
return 1
`)

func (r *GateRepo) IncrementMessageCount(ctx context.Context, conversationID int64) (int64, error) {
	count, err := r.rdb.Incr(ctx, countKey(conversationID)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment message count: %w", err)
	}
	return count, nil
}

func (r *GateRepo) MessageCount(ctx context.Context, conversationID int64) (int64, error) {
	count, err := r.rdb.Get(ctx, countKey(conversationID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get message count: %w", err)
	}
	return count, nil
}

func (r *GateRepo) MarkThresholdCrossed(ctx context.Context, conversationID int64, level int) (bool, error) {
	added, err := r.rdb.SAdd(ctx, crossedKey(conversationID), level).Result()
	if err != nil {
		return false, fmt.Errorf("mark threshold crossed: %w", err)
	}
	return added == 1, nil
}

func (r *GateRepo) IsThresholdCrossed(ctx context.Context, conversationID int64, level int) (bool, error) {
	crossed, err := r.rdb.SIsMember(ctx, crossedKey(conversationID), level).Result()
	if err != nil {
		return false, fmt.Errorf("is threshold crossed: %w", err)
	}
	return crossed, nil
}

func (r *GateRepo) EnsureConsentRecord(ctx context.Context, conversationID, userID int64, level int) error {
	key := recordKey(conversationID, userID, level)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	pipe := r.rdb.Pipeline()
	pipe.HSetNX(ctx, key, "consent_state", string(domain.ConsentPending))
	pipe.HSetNX(ctx, key, "profile_complete", "0")
	pipe.HSetNX(ctx, key, "popup_dismissed", "0")
	pipe.HSetNX(ctx, key, "created_at", now)
	pipe.HSetNX(ctx, key, "updated_at", now)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ensure consent record: %w", err)
	}
	return nil
}

func (r *GateRepo) GetConsentRecord(ctx context.Context, conversationID, userID int64, level int) (*domain.LevelConsentRecord, error) {
	fields, err := r.rdb.HGetAll(ctx, recordKey(conversationID, userID, level)).Result()
	if err != nil {
		return nil, fmt.Errorf("get consent record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &domain.LevelConsentRecord{
		ConversationID:  conversationID,
		UserID:          userID,
		Level:           level,
		ProfileComplete: fields["profile_complete"] == "1",
		ConsentState:    domain.ConsentState(fields["consent_state"]),
		PopupDismissed:  fields["popup_dismissed"] == "1",
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

func (r *GateRepo) SetProfileComplete(ctx context.Context, conversationID, userID int64, level int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := r.rdb.HSet(ctx, recordKey(conversationID, userID, level),
		"profile_complete", "1",
		"updated_at", now,
	).Err()
	if err != nil {
		return fmt.Errorf("set profile complete: %w", err)
	}
	return nil
}

func (r *GateRepo) SetConsent(ctx context.Context, conversationID, userID int64, level int, granted bool) error {
	key := recordKey(conversationID, userID, level)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if granted {
		err := r.rdb.HSet(ctx, key,
			"consent_state", string(domain.ConsentGranted),
			"popup_dismissed", "1",
			"updated_at", now,
		).Err()
		if err != nil {
			return fmt.Errorf("set consent granted: %w", err)
		}
		return nil
	}

	if err := declineScript.Run(ctx, r.rdb, []string{key}, now).Err(); err != nil {
		return fmt.Errorf("set consent declined: %w", err)
	}
	return nil
}

func (r *GateRepo) UnlockLevel(ctx context.Context, conversationID int64, level int) (bool, error) {
	added, err := r.rdb.SAdd(ctx, unlockedKey(conversationID), level).Result()
	if err != nil {
		return false, fmt.Errorf("unlock level: %w", err)
	}
	return added == 1, nil
}

func (r *GateRepo) UnlockedLevels(ctx context.Context, conversationID int64) ([]int, error) {
	members, err := r.rdb.SMembers(ctx, unlockedKey(conversationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("unlocked levels: %w", err)
	}

	levels := make([]int, 0, len(members))
	for _, m := range members {
		l, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("parse unlocked level %q: %w", m, err)
		}
		levels = append(levels, l)
	}
	sort.Ints(levels)
	return levels, nil
}
