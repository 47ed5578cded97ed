package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BranchLock is the advisory lock keyed by branch_id that serializes
// append_message against delete_last_message on the same branch; forks
// do not take it. It is advisory, not transactional: callers
// still wrap the actual mutation in a database transaction.
type BranchLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewBranchLock(rdb *redis.Client) *BranchLock {
	return &BranchLock{rdb: rdb, ttl: 30 * time.Second}
}

func lockKey(branchID string) string {
	return fmt.Sprintf("worldline:branchlock:%s", branchID)
}

// TryLock attempts to acquire the branch lock without blocking. It
// returns false if another holder currently has it.
func (l *BranchLock) TryLock(ctx context.Context, branchID, holder string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockKey(branchID), holder, l.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Unlock releases the lock only if holder still owns it.
func (l *BranchLock) Unlock(ctx context.Context, branchID, holder string) error {
	val, err := l.rdb.Get(ctx, lockKey(branchID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val != holder {
		return nil
	}
	return l.rdb.Del(ctx, lockKey(branchID)).Err()
}
