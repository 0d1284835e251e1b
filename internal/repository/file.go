package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/model"
)

// File names, one JSON document per collection.
const (
	WhitelistFile = "id_whitelist.json"
	StatusFile    = "user_status.json"
	GroupFile     = "phone_groups.json"
	UploadLogFile = "upload_logs.json"
	MarkFile      = "mark_status.json"
	BlacklistFile = "blacklist.json"
	// MarkAddedFile lists blacklist entries that a claimed mark added
	MarkAddedFile = "blacklist_marks.json"
)

// legacyTimeLayout is the upload timestamp format of older log files.
const legacyTimeLayout = "2006-01-02 15:04:05"

// FileStore persists each collection as a JSON file in a directory.
// Every operation re-reads the files, so edits made by another process
// between calls are picked up.
type FileStore struct {
	stateStore
	dir string
}

// NewFileStore creates a store rooted at dir, creating the directory if needed
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{
		stateStore: stateStore{backend: &fileBackend{dir: dir, logger: logger}},
		dir:        dir,
	}, nil
}

// Ping checks that the store directory is reachable
func (f *FileStore) Ping(context.Context) error {
	if _, err := os.Stat(f.dir); err != nil {
		return fmt.Errorf("store directory unavailable: %w", err)
	}
	return nil
}

// Close is a no-op
func (f *FileStore) Close() error { return nil }

type statusRecord struct {
	Count *int     `json:"count"`
	Last  *float64 `json:"last"`
	Index *int     `json:"index,omitempty"`
}

type uploadRecord struct {
	ID    string `json:"id,omitempty"`
	Phone string `json:"phone"`
	Time  string `json:"time"`
}

type fileBackend struct {
	dir    string
	logger *zap.Logger
	rename func(oldpath, newpath string) error
}

// pendingFile is a collection to encode on save
type pendingFile struct {
	name string
	v    any
}

// stagedFile is an encoded collection waiting in a temp file
type stagedFile struct {
	name string
	tmp  string
}

// previousFile is what a committed file replaced
type previousFile struct {
	name    string
	data    []byte
	existed bool
}

func (b *fileBackend) path(name string) string {
	return filepath.Join(b.dir, name)
}

// readJSON decodes the named file. A missing file yields the zero value;
// a malformed file is logged and also yields the zero value.
func readJSON[T any](b *fileBackend, name string) (T, error) {
	var v T
	data, err := os.ReadFile(b.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		return v, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		b.logger.Warn("ignoring malformed collection file",
			zap.String("file", name),
			zap.Error(err),
		)
		var zero T
		return zero, nil
	}
	return v, nil
}

// stageJSON encodes v into a temp file next to the named collection
func (b *fileBackend) stageJSON(name string, v any) (stagedFile, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return stagedFile{}, fmt.Errorf("failed to encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(b.dir, name+".*.tmp")
	if err != nil {
		return stagedFile{}, fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return stagedFile{}, fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return stagedFile{}, fmt.Errorf("failed to close %s: %w", name, err)
	}
	return stagedFile{name: name, tmp: tmp.Name()}, nil
}

// commit renames staged files into place in order. If one rename fails,
// files already replaced are restored so no collection changes.
func (b *fileBackend) commit(files []stagedFile) error {
	done := make([]previousFile, 0, len(files))
	for i, f := range files {
		prev := previousFile{name: f.name}
		data, err := os.ReadFile(b.path(f.name))
		switch {
		case err == nil:
			prev.data, prev.existed = data, true
		case !errors.Is(err, fs.ErrNotExist):
			b.discard(files[i:])
			b.restore(done)
			return fmt.Errorf("failed to read %s before replacing it: %w", f.name, err)
		}

		if err := b.rename(f.tmp, b.path(f.name)); err != nil {
			b.discard(files[i:])
			b.restore(done)
			return fmt.Errorf("failed to replace %s: %w", f.name, err)
		}
		done = append(done, prev)
	}
	return nil
}

func (b *fileBackend) discard(files []stagedFile) {
	for _, f := range files {
		os.Remove(f.tmp)
	}
}

func (b *fileBackend) restore(done []previousFile) {
	for i := len(done) - 1; i >= 0; i-- {
		prev := done[i]
		var err error
		if prev.existed {
			err = os.WriteFile(b.path(prev.name), prev.data, 0o644)
		} else {
			err = os.Remove(b.path(prev.name))
		}
		if err != nil {
			b.logger.Error("collections are inconsistent, failed to roll back",
				zap.String("file", prev.name),
				zap.Error(err),
			)
		}
	}
}

func (b *fileBackend) load(ctx context.Context) (*state, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := newState()

	whitelist, err := readJSON[[]string](b, WhitelistFile)
	if err != nil {
		return nil, err
	}
	for _, id := range whitelist {
		if id != "" {
			st.whitelist = append(st.whitelist, id)
		}
	}

	statuses, err := readJSON[map[string]statusRecord](b, StatusFile)
	if err != nil {
		return nil, err
	}
	for id, rec := range statuses {
		if rec.Count == nil || rec.Last == nil || *rec.Count < 0 || (rec.Index != nil && *rec.Index < 0) {
			b.logger.Warn("dropping invalid status record", zap.String("identity", id))
			continue
		}
		st.statuses[id] = model.IdentityStatus{
			Identity:       id,
			RedeemCount:    *rec.Count,
			LastRedeemedAt: fromUnixSeconds(*rec.Last),
			BatchIndex:     rec.Index,
		}
	}

	if st.batches, err = readJSON[[][]string](b, GroupFile); err != nil {
		return nil, err
	}

	uploads, err := readJSON[map[string][]uploadRecord](b, UploadLogFile)
	if err != nil {
		return nil, err
	}
	for id, recs := range uploads {
		for _, rec := range recs {
			entry, ok := decodeUpload(id, rec)
			if !ok {
				b.logger.Warn("dropping invalid upload record",
					zap.String("identity", id),
					zap.String("phone", rec.Phone),
				)
				continue
			}
			st.uploads[id] = append(st.uploads[id], entry)
		}
	}

	marks, err := readJSON[map[string]bool](b, MarkFile)
	if err != nil {
		return nil, err
	}
	for phone, claimed := range marks {
		st.marks[phone] = claimed
	}

	blacklist, err := readJSON[[]string](b, BlacklistFile)
	if err != nil {
		return nil, err
	}
	for _, p := range blacklist {
		st.blacklist[p] = struct{}{}
	}

	markAdded, err := readJSON[[]string](b, MarkAddedFile)
	if err != nil {
		return nil, err
	}
	for _, p := range markAdded {
		// Entries no longer on the blacklist carry no meaning.
		if _, ok := st.blacklist[p]; ok {
			st.markAdded[p] = struct{}{}
		}
	}

	return st, nil
}

func (b *fileBackend) save(ctx context.Context, st *state, dirty collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Blacklist files go first so a mark never lands without its mirror.
	var pending []pendingFile
	add := func(name string, v any) {
		pending = append(pending, pendingFile{name: name, v: v})
	}

	if dirty&colBlacklist != 0 {
		add(BlacklistFile, sortedKeys(st.blacklist))
		add(MarkAddedFile, sortedKeys(st.markAdded))
	}
	if dirty&colMarks != 0 {
		add(MarkFile, st.marks)
	}
	if dirty&colWhitelist != 0 {
		whitelist := st.whitelist
		if whitelist == nil {
			whitelist = []string{}
		}
		add(WhitelistFile, whitelist)
	}
	if dirty&colStatus != 0 {
		out := make(map[string]statusRecord, len(st.statuses))
		for id, rec := range st.statuses {
			count := rec.RedeemCount
			last := toUnixSeconds(rec.LastRedeemedAt)
			out[id] = statusRecord{Count: &count, Last: &last, Index: rec.BatchIndex}
		}
		add(StatusFile, out)
	}
	if dirty&colBatches != 0 {
		batches := st.batches
		if batches == nil {
			batches = [][]string{}
		}
		add(GroupFile, batches)
	}
	if dirty&colUploads != 0 {
		out := make(map[string][]uploadRecord, len(st.uploads))
		for id, entries := range st.uploads {
			recs := make([]uploadRecord, 0, len(entries))
			for _, e := range entries {
				recs = append(recs, uploadRecord{
					ID:    e.ID.String(),
					Phone: e.Phone,
					Time:  e.UploadedAt.Format(time.RFC3339Nano),
				})
			}
			out[id] = recs
		}
		add(UploadLogFile, out)
	}

	staged := make([]stagedFile, 0, len(pending))
	for _, p := range pending {
		f, err := b.stageJSON(p.name, p.v)
		if err != nil {
			b.discard(staged)
			return err
		}
		staged = append(staged, f)
	}
	return b.commit(staged)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func decodeUpload(identity string, rec uploadRecord) (model.UploadEntry, bool) {
	if rec.Phone == "" || rec.Time == "" {
		return model.UploadEntry{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, rec.Time)
	if err != nil {
		at, err = time.ParseInLocation(legacyTimeLayout, rec.Time, time.Local)
		if err != nil {
			return model.UploadEntry{}, false
		}
	}
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(identity+"\x00"+rec.Phone+"\x00"+rec.Time))
	}
	return model.UploadEntry{ID: id, Identity: identity, Phone: rec.Phone, UploadedAt: at}, true
}

func toUnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}
