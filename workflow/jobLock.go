package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/sirupsen/logrus"
)

const (
	DetectJobLockKey   = "lock:job:detect-discrepancies"
	EscalateJobLockKey = "lock:job:escalate-overdue-discrepancies"
	ImportJobLockKey   = "lock:job:import:%d"
)

// ErrJobLocked means another instance holds the job lock.
var ErrJobLocked = errors.New("job is already running")

// JobLocker serializes batch jobs across instances.
type JobLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

type RedisJobLocker struct {
	client *redislock.Client
}

func NewRedisJobLocker(client *redislock.Client) *RedisJobLocker {
	return &RedisJobLocker{client: client}
}

func (l *RedisJobLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrJobLocked
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}

// NoopJobLocker always succeeds. Used when Redis is not configured and in tests.
type NoopJobLocker struct{}

func (NoopJobLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// DefaultJobLocker uses the shared redislock client when Redis is connected.
func DefaultJobLocker(logger *logrus.Logger) JobLocker {
	if client := config.GetRedisLock(); client != nil {
		return NewRedisJobLocker(client)
	}
	logger.WithFields(logrus.Fields{"field": "DefaultJobLocker"}).Warn("redis lock not ready; jobs run without a cross-instance lock")
	return NoopJobLocker{}
}

// withJobLock runs fn while holding key. A failed release is logged, not returned.
func withJobLock(ctx context.Context, locker JobLocker, logger *logrus.Logger, key string, ttl time.Duration, fn func(context.Context) error) error {
	release, err := locker.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			logger.WithFields(logrus.Fields{"field": "withJobLock", "key": key}).Warn("failed to release job lock: " + err.Error())
		}
	}()
	return fn(ctx)
}
