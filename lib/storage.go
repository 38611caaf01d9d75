package lib

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
)

const (
	FieldProfile  = "profile"
	FieldInserted = "inserted"
	FieldAccount  = "account"
	FieldSSHUser  = "sshuser"
)

type Handle string

type Entry struct {
	Handle Handle
	Record Record
}

// Storage is the persisted collection of flat instance records, unique on
// (profile, id).
type Storage interface {
	Name() string
	Entries(ctx context.Context, profile string) ([]Entry, error)
	Lookup(ctx context.Context, profile, id string) (Handle, bool, error)
	Add(ctx context.Context, profile string, r Record) (Handle, error)
	Update(ctx context.Context, h Handle, set Record, clear []string) error
	Delete(ctx context.Context, h Handle) error
	Find(ctx context.Context, field, value string) ([]Record, error)
}

// StoredFormer is a Storage that rewrites values on the way in, change
// detection compares against what it would write.
type StoredFormer interface {
	StoredForm(set Record, clear []string) (Record, []string)
}

var ErrDuplicate = errors.New("duplicate id for profile")

var ErrNoEntry = errors.New("no entry for handle")

type MemoryStorage struct {
	IDField string

	lock    sync.Mutex
	entries map[Handle]Record
	order   []Handle
}

func NewMemoryStorage(idField string) *MemoryStorage {
	return &MemoryStorage{IDField: idField, entries: map[Handle]Record{}}
}

func (m *MemoryStorage) Name() string {
	return "memory"
}

func (m *MemoryStorage) Entries(ctx context.Context, profile string) ([]Entry, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	var entries []Entry
	for _, h := range m.order {
		r := m.entries[h]
		if r.Get(FieldProfile) == profile {
			entries = append(entries, Entry{Handle: h, Record: r.Copy()})
		}
	}
	return entries, nil
}

func (m *MemoryStorage) lookup(profile, id string) (Handle, bool) {
	for _, h := range m.order {
		r := m.entries[h]
		if r.Get(FieldProfile) == profile && r.Get(m.IDField) == id {
			return h, true
		}
	}
	return "", false
}

func (m *MemoryStorage) Lookup(ctx context.Context, profile, id string) (Handle, bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	h, ok := m.lookup(profile, id)
	return h, ok, nil
}

func (m *MemoryStorage) Add(ctx context.Context, profile string, r Record) (Handle, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	id := r.Get(m.IDField)
	if id == "" {
		return "", fmt.Errorf("record has no %s", m.IDField)
	}
	if _, ok := m.lookup(profile, id); ok {
		return "", fmt.Errorf("%w: %s %s", ErrDuplicate, profile, id)
	}
	u, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	h := Handle(u.String())
	entry := r.Copy()
	entry[FieldProfile] = Scalar(profile)
	m.entries[h] = entry
	m.order = append(m.order, h)
	return h, nil
}

func (m *MemoryStorage) Update(ctx context.Context, h Handle, set Record, clear []string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	entry, ok := m.entries[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEntry, h)
	}
	for k, v := range set {
		if k == m.IDField || k == FieldProfile {
			continue
		}
		entry[k] = v
	}
	for _, k := range clear {
		delete(entry, k)
	}
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, h Handle) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.entries[h]; !ok {
		return fmt.Errorf("%w: %s", ErrNoEntry, h)
	}
	delete(m.entries, h)
	for i, x := range m.order {
		if x == h {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStorage) Find(ctx context.Context, field, value string) ([]Record, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	var records []Record
	for _, h := range m.order {
		r := m.entries[h]
		if r.Get(field) == value {
			records = append(records, r.Copy())
		}
	}
	return records, nil
}

// OpenStorage returns the dynamodb collection when one is configured and
// reachable, otherwise an in memory collection that lives as long as the
// process.
func OpenStorage(ctx context.Context, cfg *Config) Storage {
	if cfg.Collection.Table == "" {
		Logger.Println(ErrCollectionUnavailable.Error()+":", "no table configured, using memory")
		return NewMemoryStorage(cfg.IDField)
	}
	storage, err := NewDynamoDBStorage(ctx, cfg)
	if err == nil {
		err = storage.Ping(ctx)
	}
	if err != nil {
		Logger.Println(fmt.Errorf("%w: %s", ErrCollectionUnavailable, err).Error()+",", "using memory")
		return NewMemoryStorage(cfg.IDField)
	}
	return storage
}
