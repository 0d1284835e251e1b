package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/metrics"
	"github.com/kkkkikiki/leadpool/internal/model"
	"github.com/kkkkikiki/leadpool/internal/repository"
)

// Reconciler accepts converted-lead reports. A number is accepted only
// from its latest claimant: the identity with the most recent redemption
// whose current batch contains it.
type Reconciler struct {
	store  repository.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewReconciler creates a new Reconciler
func NewReconciler(store repository.Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger, now: time.Now}
}

// WithClock replaces the time source
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Submit validates every number and appends them to the identity's upload
// log. The first offending number rejects the whole submission.
func (r *Reconciler) Submit(ctx context.Context, identity string, numbers []string) (int, error) {
	identity = strings.TrimSpace(identity)
	numbers = normalize(numbers)

	accepted, err := r.submit(ctx, identity, numbers)
	if d, ok := AsDenial(err); ok {
		metrics.RecordDenial(string(d.Reason))
		r.logger.Info("upload rejected",
			zap.String("identity", identity),
			zap.String("reason", string(d.Reason)),
			zap.String("phone", d.Phone),
		)
		return 0, err
	}
	if err != nil {
		return 0, err
	}

	metrics.UploadedNumbers.Add(float64(accepted))
	r.logger.Info("upload accepted",
		zap.String("identity", identity),
		zap.Int("accepted", accepted),
	)
	return accepted, nil
}

func (r *Reconciler) submit(ctx context.Context, identity string, numbers []string) (int, error) {
	if identity == "" || len(numbers) == 0 {
		return 0, deny(ReasonEmptyInput)
	}

	rec, err := r.store.GetStatus(ctx, identity)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !rec.HasBatch()) {
		return 0, deny(ReasonNotYetAssigned)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get status: %w", err)
	}

	statuses, err := r.store.ListStatuses(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list statuses: %w", err)
	}
	batches, err := r.store.ListBatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list batches: %w", err)
	}
	logged, err := r.store.ListUploads(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("failed to list uploads: %w", err)
	}

	inPool := make(map[string]struct{})
	for _, b := range batches {
		for _, p := range b.Phones {
			inPool[p] = struct{}{}
		}
	}
	owners := LatestOwners(statuses, batches)
	uploaded := make(map[string]struct{}, len(logged))
	for _, e := range logged {
		uploaded[e.Phone] = struct{}{}
	}

	for _, phone := range numbers {
		owner, held := owners[phone]
		switch {
		case !held:
			if _, ok := inPool[phone]; ok {
				return 0, &DenialError{Reason: ReasonNumberNotInBatch, Phone: phone}
			}
			return 0, &DenialError{Reason: ReasonNumberNotInAnyBatch, Phone: phone}
		case owner != identity:
			return 0, &DenialError{Reason: ReasonNumberOwnedByOther, Phone: phone, Owner: owner}
		}
		if _, dup := uploaded[phone]; dup {
			return 0, &DenialError{Reason: ReasonAlreadyUploaded, Phone: phone}
		}
	}

	now := r.now()
	entries := make([]model.UploadEntry, len(numbers))
	for i, phone := range numbers {
		entries[i] = model.UploadEntry{
			ID:         uuid.New(),
			Identity:   identity,
			Phone:      phone,
			UploadedAt: now,
		}
	}
	if err := r.store.AppendUploads(ctx, entries); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return 0, deny(ReasonAlreadyUploaded)
		}
		return 0, fmt.Errorf("failed to append uploads: %w", err)
	}
	return len(entries), nil
}

// LatestOwners maps each assigned phone to the identity holding it with the
// most recent redemption. Ties go to the identity listed first. Records
// whose batch index is outside the pool, or that carry no redemption
// time, are ignored.
func LatestOwners(statuses []model.IdentityStatus, batches []model.Batch) map[string]string {
	type claim struct {
		owner string
		at    time.Time
	}
	byIndex := make(map[int]model.Batch, len(batches))
	for _, b := range batches {
		byIndex[b.Index] = b
	}

	latest := make(map[string]claim)
	for _, st := range statuses {
		if !st.HasBatch() || st.LastRedeemedAt.IsZero() {
			continue
		}
		b, ok := byIndex[*st.BatchIndex]
		if !ok {
			continue
		}
		for _, phone := range b.Phones {
			if cur, seen := latest[phone]; !seen || st.LastRedeemedAt.After(cur.at) {
				latest[phone] = claim{owner: st.Identity, at: st.LastRedeemedAt}
			}
		}
	}

	out := make(map[string]string, len(latest))
	for phone, c := range latest {
		out[phone] = c.owner
	}
	return out
}
