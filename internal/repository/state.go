package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kkkkikiki/leadpool/internal/model"
)

type collection uint8

const (
	colWhitelist collection = 1 << iota
	colStatus
	colBatches
	colUploads
	colMarks
	colBlacklist
)

// state is the full data set shared by the memory and file stores.
type state struct {
	whitelist []string
	statuses  map[string]model.IdentityStatus
	batches   [][]string
	uploads   map[string][]model.UploadEntry
	marks     map[string]bool
	blacklist map[string]struct{}
	// markAdded holds blacklist entries that exist only because of a
	// claimed mark; un-marking removes exactly these.
	markAdded map[string]struct{}
}

func newState() *state {
	return &state{
		statuses:  make(map[string]model.IdentityStatus),
		uploads:   make(map[string][]model.UploadEntry),
		marks:     make(map[string]bool),
		blacklist: make(map[string]struct{}),
		markAdded: make(map[string]struct{}),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.whitelist = slices.Clone(s.whitelist)
	for k, v := range s.statuses {
		if v.BatchIndex != nil {
			idx := *v.BatchIndex
			v.BatchIndex = &idx
		}
		c.statuses[k] = v
	}
	c.batches = make([][]string, len(s.batches))
	for i, b := range s.batches {
		c.batches[i] = slices.Clone(b)
	}
	for k, v := range s.uploads {
		c.uploads[k] = slices.Clone(v)
	}
	for k, v := range s.marks {
		c.marks[k] = v
	}
	for k := range s.blacklist {
		c.blacklist[k] = struct{}{}
	}
	for k := range s.markAdded {
		c.markAdded[k] = struct{}{}
	}
	return c
}

// backend loads and saves a state snapshot.
type backend interface {
	load(ctx context.Context) (*state, error)
	save(ctx context.Context, st *state, dirty collection) error
}

// stateStore implements Store over a backend, serializing every
// operation behind a single mutex.
type stateStore struct {
	mu      sync.Mutex
	backend backend
}

func (s *stateStore) view(ctx context.Context, fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.backend.load(ctx)
	if err != nil {
		return err
	}
	return fn(st)
}

func (s *stateStore) update(ctx context.Context, fn func(st *state) (collection, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.backend.load(ctx)
	if err != nil {
		return err
	}
	dirty, err := fn(st)
	if err != nil {
		return err
	}
	if dirty == 0 {
		return nil
	}
	return s.backend.save(ctx, st, dirty)
}

func (s *stateStore) IsWhitelisted(ctx context.Context, identity string) (bool, error) {
	var ok bool
	err := s.view(ctx, func(st *state) error {
		ok = slices.Contains(st.whitelist, identity)
		return nil
	})
	return ok, err
}

func (s *stateStore) ListWhitelist(ctx context.Context) ([]string, error) {
	var out []string
	err := s.view(ctx, func(st *state) error {
		out = slices.Clone(st.whitelist)
		return nil
	})
	return out, err
}

func (s *stateStore) ReplaceWhitelist(ctx context.Context, identities []string) error {
	return s.update(ctx, func(st *state) (collection, error) {
		st.whitelist = slices.Clone(identities)
		return colWhitelist, nil
	})
}

func (s *stateStore) RemoveFromWhitelist(ctx context.Context, identity string) error {
	return s.update(ctx, func(st *state) (collection, error) {
		n := len(st.whitelist)
		st.whitelist = slices.DeleteFunc(st.whitelist, func(id string) bool { return id == identity })
		if len(st.whitelist) == n {
			return 0, nil
		}
		return colWhitelist, nil
	})
}

func (s *stateStore) GetStatus(ctx context.Context, identity string) (*model.IdentityStatus, error) {
	var out *model.IdentityStatus
	err := s.view(ctx, func(st *state) error {
		rec, ok := st.statuses[identity]
		if !ok {
			return ErrNotFound
		}
		out = &rec
		return nil
	})
	return out, err
}

func (s *stateStore) ListStatuses(ctx context.Context) ([]model.IdentityStatus, error) {
	var out []model.IdentityStatus
	err := s.view(ctx, func(st *state) error {
		out = make([]model.IdentityStatus, 0, len(st.statuses))
		for _, rec := range st.statuses {
			out = append(out, rec)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
		return nil
	})
	return out, err
}

func (s *stateStore) DeleteStatus(ctx context.Context, identity string) (bool, error) {
	var existed bool
	err := s.update(ctx, func(st *state) (collection, error) {
		if _, existed = st.statuses[identity]; !existed {
			return 0, nil
		}
		delete(st.statuses, identity)
		return colStatus, nil
	})
	return existed, err
}

func (s *stateStore) AssignBatch(ctx context.Context, req AssignRequest) (*model.IdentityStatus, *model.Batch, error) {
	var (
		rec   model.IdentityStatus
		batch model.Batch
	)
	err := s.update(ctx, func(st *state) (collection, error) {
		current := st.statuses[req.Identity]
		if current.RedeemCount != req.ExpectedCount {
			return 0, ErrConflict
		}

		used := make(map[int]struct{}, len(st.statuses))
		for _, other := range st.statuses {
			if other.BatchIndex != nil {
				used[*other.BatchIndex] = struct{}{}
			}
		}

		for i, phones := range st.batches {
			if _, taken := used[i]; taken {
				continue
			}
			idx := i
			rec = model.IdentityStatus{
				Identity:       req.Identity,
				RedeemCount:    current.RedeemCount + 1,
				LastRedeemedAt: req.At,
				BatchIndex:     &idx,
			}
			batch = model.Batch{Index: i, Phones: slices.Clone(phones)}
			st.statuses[req.Identity] = rec
			return colStatus, nil
		}
		return 0, ErrPoolExhausted
	})
	if err != nil {
		return nil, nil, err
	}
	return &rec, &batch, nil
}

func (s *stateStore) ListBatches(ctx context.Context) ([]model.Batch, error) {
	var out []model.Batch
	err := s.view(ctx, func(st *state) error {
		out = make([]model.Batch, len(st.batches))
		for i, phones := range st.batches {
			out[i] = model.Batch{Index: i, Phones: slices.Clone(phones)}
		}
		return nil
	})
	return out, err
}

func (s *stateStore) ReplaceBatches(ctx context.Context, batches [][]string) error {
	return s.update(ctx, func(st *state) (collection, error) {
		st.batches = make([][]string, len(batches))
		for i, b := range batches {
			st.batches[i] = slices.Clone(b)
		}
		return colBatches, nil
	})
}

func (s *stateStore) AppendUploads(ctx context.Context, entries []model.UploadEntry) error {
	return s.update(ctx, func(st *state) (collection, error) {
		seen := make(map[[2]string]struct{})
		for _, e := range entries {
			key := [2]string{e.Identity, e.Phone}
			if _, dup := seen[key]; dup {
				return 0, ErrConflict
			}
			seen[key] = struct{}{}
			for _, prev := range st.uploads[e.Identity] {
				if prev.Phone == e.Phone {
					return 0, ErrConflict
				}
			}
		}
		for _, e := range entries {
			st.uploads[e.Identity] = append(st.uploads[e.Identity], e)
		}
		return colUploads, nil
	})
}

func (s *stateStore) ListUploads(ctx context.Context, identity string) ([]model.UploadEntry, error) {
	var out []model.UploadEntry
	err := s.view(ctx, func(st *state) error {
		if identity != "" {
			out = slices.Clone(st.uploads[identity])
			return nil
		}
		ids := make([]string, 0, len(st.uploads))
		for id := range st.uploads {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			out = append(out, st.uploads[id]...)
		}
		return nil
	})
	return out, err
}

func (s *stateStore) ToggleMark(ctx context.Context, phone string, _ time.Time) (bool, error) {
	var claimed bool
	err := s.update(ctx, func(st *state) (collection, error) {
		prev, ok := st.marks[phone]
		claimed = !ok || !prev
		st.marks[phone] = claimed

		_, listed := st.blacklist[phone]
		_, ownedByMark := st.markAdded[phone]
		switch {
		case claimed && !listed:
			st.blacklist[phone] = struct{}{}
			st.markAdded[phone] = struct{}{}
		case !claimed && ownedByMark:
			delete(st.blacklist, phone)
			delete(st.markAdded, phone)
		default:
			return colMarks, nil
		}
		return colMarks | colBlacklist, nil
	})
	return claimed, err
}

func (s *stateStore) ListMarks(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	err := s.view(ctx, func(st *state) error {
		for k, v := range st.marks {
			out[k] = v
		}
		return nil
	})
	return out, err
}

func (s *stateStore) AddToBlacklist(ctx context.Context, phones []string) error {
	return s.update(ctx, func(st *state) (collection, error) {
		var dirty collection
		for _, p := range phones {
			_, listed := st.blacklist[p]
			_, ownedByMark := st.markAdded[p]
			if listed && !ownedByMark {
				continue
			}
			st.blacklist[p] = struct{}{}
			delete(st.markAdded, p)
			dirty = colBlacklist
		}
		return dirty, nil
	})
}

func (s *stateStore) ListBlacklist(ctx context.Context) ([]string, error) {
	var out []string
	err := s.view(ctx, func(st *state) error {
		out = make([]string, 0, len(st.blacklist))
		for p := range st.blacklist {
			out = append(out, p)
		}
		sort.Strings(out)
		return nil
	})
	return out, err
}
