package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/repository"
)

// ArtifactWriter stores the claimed-number export
type ArtifactWriter interface {
	Write(ctx context.Context, data []byte) (string, error)
}

// Export is the result of ExportClaimed
type Export struct {
	Phones   []string
	Location string
}

// Text renders the export as newline-terminated lines
func (e *Export) Text() string {
	if len(e.Phones) == 0 {
		return ""
	}
	return strings.Join(e.Phones, "\n") + "\n"
}

// UploadFilter narrows the admin upload listing
type UploadFilter struct {
	Identity string
	Date     string // YYYY-MM-DD in the manager's location; empty matches all
}

// UploadView is one upload annotated with its current mark
type UploadView struct {
	Phone      string
	UploadedAt time.Time
	Claimed    bool
}

// UploadGroup is one identity's uploads, newest first
type UploadGroup struct {
	Identity string
	Entries  []UploadView
}

// MarkManager covers the admin surface: marks, blacklist, whitelist,
// identity resets and the upload review listing.
type MarkManager struct {
	store  repository.Store
	sink   ArtifactWriter
	logger *zap.Logger
	loc    *time.Location
	now    func() time.Time
}

// NewMarkManager creates a new MarkManager
func NewMarkManager(store repository.Store, sink ArtifactWriter, loc *time.Location, logger *zap.Logger) *MarkManager {
	if loc == nil {
		loc = time.Local
	}
	return &MarkManager{store: store, sink: sink, logger: logger, loc: loc, now: time.Now}
}

// WithClock replaces the time source
func (m *MarkManager) WithClock(now func() time.Time) *MarkManager {
	m.now = now
	return m
}

// ToggleMark flips the claimed flag of phone. Claiming blacklists the
// number; unclaiming drops only the entry the claim added, so exported and
// previously listed numbers stay blacklisted.
func (m *MarkManager) ToggleMark(ctx context.Context, phone string) (bool, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return false, deny(ReasonEmptyInput)
	}
	claimed, err := m.store.ToggleMark(ctx, phone, m.now())
	if err != nil {
		return false, fmt.Errorf("failed to toggle mark: %w", err)
	}
	m.logger.Info("mark toggled", zap.String("phone", phone), zap.Bool("claimed", claimed))
	return claimed, nil
}

// ExportClaimed writes every claimed number to the artifact sink and merges
// them into the blacklist permanently.
func (m *MarkManager) ExportClaimed(ctx context.Context) (*Export, error) {
	marks, err := m.store.ListMarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list marks: %w", err)
	}
	phones := make([]string, 0, len(marks))
	for phone, claimed := range marks {
		if claimed {
			phones = append(phones, phone)
		}
	}
	sort.Strings(phones)

	exp := &Export{Phones: phones}
	if exp.Location, err = m.sink.Write(ctx, []byte(exp.Text())); err != nil {
		return nil, fmt.Errorf("failed to write export: %w", err)
	}
	if err := m.store.AddToBlacklist(ctx, phones); err != nil {
		return nil, fmt.Errorf("failed to merge export into blacklist: %w", err)
	}

	m.logger.Info("claimed numbers exported",
		zap.Int("count", len(phones)),
		zap.String("location", exp.Location),
	)
	return exp, nil
}

// ResetIdentity deletes the identity's record so it can redeem from scratch
func (m *MarkManager) ResetIdentity(ctx context.Context, identity string) (bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false, deny(ReasonEmptyInput)
	}
	existed, err := m.store.DeleteStatus(ctx, identity)
	if err != nil {
		return false, fmt.Errorf("failed to reset identity: %w", err)
	}
	m.logger.Info("identity reset", zap.String("identity", identity), zap.Bool("existed", existed))
	return existed, nil
}

// ImportWhitelist replaces the whitelist with the given identities
func (m *MarkManager) ImportWhitelist(ctx context.Context, identities []string) (int, error) {
	ids := normalize(identities)
	if err := m.store.ReplaceWhitelist(ctx, ids); err != nil {
		return 0, fmt.Errorf("failed to replace whitelist: %w", err)
	}
	m.logger.Info("whitelist imported", zap.Int("count", len(ids)))
	return len(ids), nil
}

// ListUploads groups uploads per identity, newest identity first
func (m *MarkManager) ListUploads(ctx context.Context, filter UploadFilter) ([]UploadGroup, error) {
	entries, err := m.store.ListUploads(ctx, strings.TrimSpace(filter.Identity))
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	marks, err := m.store.ListMarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list marks: %w", err)
	}

	// Groups are ordered by their newest upload overall, before the date filter.
	latest := make(map[string]time.Time)
	byIdentity := make(map[string][]UploadView)
	for _, e := range entries {
		if e.UploadedAt.After(latest[e.Identity]) {
			latest[e.Identity] = e.UploadedAt
		}
		if filter.Date != "" && e.UploadedAt.In(m.loc).Format(time.DateOnly) != filter.Date {
			continue
		}
		byIdentity[e.Identity] = append(byIdentity[e.Identity], UploadView{
			Phone:      e.Phone,
			UploadedAt: e.UploadedAt,
			Claimed:    marks[e.Phone],
		})
	}

	groups := make([]UploadGroup, 0, len(byIdentity))
	for id, views := range byIdentity {
		sort.SliceStable(views, func(i, j int) bool { return views[i].UploadedAt.After(views[j].UploadedAt) })
		groups = append(groups, UploadGroup{Identity: id, Entries: views})
	}
	sort.Slice(groups, func(i, j int) bool {
		li, lj := latest[groups[i].Identity], latest[groups[j].Identity]
		if !li.Equal(lj) {
			return li.After(lj)
		}
		return groups[i].Identity < groups[j].Identity
	})
	return groups, nil
}

// BlacklistSummary returns the blacklist size and up to n entries
func (m *MarkManager) BlacklistSummary(ctx context.Context, n int) (int, []string, error) {
	phones, err := m.store.ListBlacklist(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list blacklist: %w", err)
	}
	if n < 0 {
		n = 0
	}
	if n > len(phones) {
		n = len(phones)
	}
	return len(phones), phones[:n], nil
}
