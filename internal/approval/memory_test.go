package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haulmark/backoffice/internal/audit"
)

type subjectKey struct {
	kind Kind
	id   int64
}

// memoryRepo is an in-memory Repository and audit.Ledger. Transactions stage
// their writes and publish them only when the callback succeeds.
type memoryRepo struct {
	mu         sync.Mutex
	subjects   map[subjectKey]Subject
	history    []audit.Record
	nextID     int64
	failAppend error
	beforeSave func()
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{subjects: make(map[subjectKey]Subject)}
}

func (r *memoryRepo) seed(s Subject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Version == 0 {
		s.Version = 1
	}
	r.subjects[subjectKey{s.Kind, s.ID}] = s
}

func (r *memoryRepo) Get(_ context.Context, kind Kind, id int64) (Subject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subjects[subjectKey{kind, id}]
	if !ok {
		return Subject{}, ErrNotFound
	}
	return s, nil
}

func (r *memoryRepo) ListPending(_ context.Context, filter PendingFilter) ([]Subject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Subject, 0)
	for _, s := range r.subjects {
		if s.Kind != filter.Kind {
			continue
		}
		if (filter.IncludeDisabled && s.Status == StatusDisabled) || containsStatus(filter.Statuses, s.Status) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r, staged: make(map[subjectKey]Subject)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, s := range tx.staged {
		current, exists := r.subjects[key]
		if exists && current.Version != s.Version-1 {
			return fmt.Errorf("%w: stale commit", ErrConflict)
		}
		r.subjects[key] = s
	}
	r.history = append(r.history, tx.history...)
	return nil
}

func (r *memoryRepo) Append(_ context.Context, record audit.Record) (audit.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	record.ID = r.nextID
	r.history = append(r.history, record)
	return record, nil
}

func (r *memoryRepo) List(_ context.Context, filter audit.Filter) ([]audit.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Record, 0)
	for _, rec := range r.history {
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		if filter.SubjectID != 0 && rec.SubjectID != filter.SubjectID {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.After(out[j].At)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRepo) historyFor(kind Kind, id int64) []audit.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Record
	for _, rec := range r.history {
		if rec.Kind == string(kind) && rec.SubjectID == id {
			out = append(out, rec)
		}
	}
	return out
}

type memoryTx struct {
	repo    *memoryRepo
	staged  map[subjectKey]Subject
	history []audit.Record
}

func (t *memoryTx) GetForUpdate(ctx context.Context, kind Kind, id int64) (Subject, error) {
	if s, ok := t.staged[subjectKey{kind, id}]; ok {
		return s, nil
	}
	return t.repo.Get(ctx, kind, id)
}

func (t *memoryTx) Insert(_ context.Context, s Subject) (Subject, error) {
	t.repo.mu.Lock()
	_, exists := t.repo.subjects[subjectKey{s.Kind, s.ID}]
	t.repo.mu.Unlock()
	if exists {
		return Subject{}, fmt.Errorf("%w: %s is already registered", ErrConflict, s.DisplayName())
	}
	now := time.Now().UTC()
	s.Version = 1
	s.CreatedAt, s.UpdatedAt = now, now
	t.staged[subjectKey{s.Kind, s.ID}] = s
	return s, nil
}

func (t *memoryTx) Save(_ context.Context, s Subject) (Subject, error) {
	if t.repo.beforeSave != nil {
		t.repo.beforeSave()
	}
	t.repo.mu.Lock()
	current, ok := t.repo.subjects[subjectKey{s.Kind, s.ID}]
	t.repo.mu.Unlock()
	if !ok || current.Version != s.Version {
		return Subject{}, fmt.Errorf("%w: %s changed since it was read", ErrConflict, s.DisplayName())
	}
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	t.staged[subjectKey{s.Kind, s.ID}] = s
	return s, nil
}

func (t *memoryTx) AppendHistory(_ context.Context, record audit.Record) (audit.Record, error) {
	if t.repo.failAppend != nil {
		return audit.Record{}, t.repo.failAppend
	}
	t.repo.mu.Lock()
	t.repo.nextID++
	record.ID = t.repo.nextID
	t.repo.mu.Unlock()
	t.history = append(t.history, record)
	return record, nil
}

var errBoom = errors.New("disk full")
