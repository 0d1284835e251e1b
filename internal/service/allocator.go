package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/metrics"
	"github.com/kkkkikiki/leadpool/internal/model"
	"github.com/kkkkikiki/leadpool/internal/repository"
)

// maxAssignAttempts bounds retries after an optimistic-check conflict
const maxAssignAttempts = 2

// Limits holds the redemption policy
type Limits struct {
	MaxTimes  int
	Cooldown  time.Duration
	BatchSize int
}

// DefaultLimits is three redemptions, six hours apart, ten numbers each
var DefaultLimits = Limits{MaxTimes: 3, Cooldown: 6 * time.Hour, BatchSize: 10}

// Grant is a successful redemption
type Grant struct {
	Identity    string
	BatchIndex  int
	Phones      []string
	RedeemCount int
	Remaining   int
	RedeemedAt  time.Time
}

// Allocator hands out phone batches to whitelisted identities
type Allocator struct {
	store  repository.Store
	limits Limits
	logger *zap.Logger
	now    func() time.Time
}

// NewAllocator creates a new Allocator
func NewAllocator(store repository.Store, limits Limits, logger *zap.Logger) *Allocator {
	return &Allocator{
		store:  store,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the time source
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	a.now = now
	return a
}

// Redeem assigns the first unused batch to identity, enforcing whitelist,
// quota and cooldown.
func (a *Allocator) Redeem(ctx context.Context, identity string) (*Grant, error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.RecordRedeemDuration(status, time.Since(start).Seconds())
	}()

	identity = strings.TrimSpace(identity)
	for attempt := 1; ; attempt++ {
		grant, err := a.redeemOnce(ctx, identity)
		if errors.Is(err, repository.ErrConflict) && attempt < maxAssignAttempts {
			a.logger.Debug("retrying redeem after concurrent update", zap.String("identity", identity))
			continue
		}
		if d, ok := AsDenial(err); ok {
			status = "denied"
			metrics.RecordDenial(string(d.Reason))
			a.logger.Info("redeem denied",
				zap.String("identity", identity),
				zap.String("reason", string(d.Reason)),
			)
			return nil, err
		}
		if err != nil {
			return nil, err
		}

		status = "success"
		a.logger.Info("batch redeemed",
			zap.String("identity", identity),
			zap.Int("batch_index", grant.BatchIndex),
			zap.Int("redeem_count", grant.RedeemCount),
		)
		return grant, nil
	}
}

func (a *Allocator) redeemOnce(ctx context.Context, identity string) (*Grant, error) {
	if identity == "" {
		return nil, deny(ReasonEmptyInput)
	}

	ok, err := a.store.IsWhitelisted(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to check whitelist: %w", err)
	}
	if !ok {
		return nil, deny(ReasonNotWhitelisted)
	}

	rec, err := a.store.GetStatus(ctx, identity)
	if errors.Is(err, repository.ErrNotFound) {
		rec = &model.IdentityStatus{Identity: identity}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	if rec.RedeemCount >= a.limits.MaxTimes {
		if err := a.store.RemoveFromWhitelist(ctx, identity); err != nil {
			return nil, fmt.Errorf("failed to remove exhausted identity from whitelist: %w", err)
		}
		return nil, deny(ReasonQuotaExhausted)
	}

	now := a.now()
	if !rec.LastRedeemedAt.IsZero() {
		if elapsed := now.Sub(rec.LastRedeemedAt); elapsed < a.limits.Cooldown {
			return nil, &DenialError{
				Reason:      ReasonCooldownActive,
				WaitMinutes: waitMinutes(a.limits.Cooldown - elapsed),
			}
		}
	}

	next, batch, err := a.store.AssignBatch(ctx, repository.AssignRequest{
		Identity:      identity,
		ExpectedCount: rec.RedeemCount,
		At:            now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrPoolExhausted) {
			return nil, deny(ReasonPoolExhausted)
		}
		if errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to assign batch: %w", err)
	}

	return &Grant{
		Identity:    identity,
		BatchIndex:  batch.Index,
		Phones:      batch.Phones,
		RedeemCount: next.RedeemCount,
		Remaining:   a.limits.MaxTimes - next.RedeemCount,
		RedeemedAt:  next.LastRedeemedAt,
	}, nil
}

// RebuildPool replaces the batch pool with phones minus the blacklist.
// Existing assignments keep their indices even if those now point past
// the end of the pool or at different numbers.
func (a *Allocator) RebuildPool(ctx context.Context, phones []string) (*PoolSummary, error) {
	blacklisted, err := a.store.ListBlacklist(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklist: %w", err)
	}
	exclude := make(map[string]struct{}, len(blacklisted))
	for _, p := range blacklisted {
		exclude[p] = struct{}{}
	}

	batches, sum := BuildBatches(phones, exclude, a.limits.BatchSize)
	if err := a.store.ReplaceBatches(ctx, batches); err != nil {
		return nil, fmt.Errorf("failed to replace batches: %w", err)
	}
	metrics.PoolBatches.Set(float64(sum.Batches))

	a.logger.Info("phone pool rebuilt",
		zap.Int("batches", sum.Batches),
		zap.Int("phones", sum.Phones),
		zap.Int("skipped_blacklisted", sum.SkippedBlacklisted),
		zap.Int("skipped_duplicates", sum.SkippedDuplicates),
	)
	return &sum, nil
}

// waitMinutes rounds up so a pending cooldown never reports zero
func waitMinutes(remaining time.Duration) int {
	m := int(math.Ceil(remaining.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}
