package delivery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	pendingPrefix = "pending_"
	wavExt        = ".wav"

	// pendingLayout sorts lexically in creation order.
	pendingLayout = "20060102T150405.000000000"
)

var ErrBadItemName = errors.New("delivery: not a pending item name")

// Item identifies one pending payload on disk.
type Item struct {
	Name    string
	Created time.Time
}

// PendingStore keeps undelivered payloads as one file each in a directory.
// File names carry the creation time so a sorted listing is FIFO order.
type PendingStore struct {
	dir string
	mu  sync.Mutex
}

func OpenPendingStore(dir string) (*PendingStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pending dir: %w", err)
	}
	return &PendingStore{dir: dir}, nil
}

func (s *PendingStore) Dir() string { return s.dir }

// Put durably stores data. The file becomes visible to List only once it is
// complete.
func (s *PendingStore) Put(data []byte, created time.Time) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created = created.UTC()
	name := PendingName(created)
	for {
		if _, err := os.Stat(filepath.Join(s.dir, name)); errors.Is(err, os.ErrNotExist) {
			break
		}
		created = created.Add(time.Nanosecond)
		name = PendingName(created)
	}

	if err := writeFileAtomic(s.dir, name, data); err != nil {
		return Item{}, err
	}
	return Item{Name: name, Created: created}, nil
}

// List returns stored items oldest first.
func (s *PendingStore) List() ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	var items []Item
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		created, err := ParsePendingName(e.Name())
		if err != nil {
			continue
		}
		items = append(items, Item{Name: e.Name(), Created: created})
	}
	return items, nil
}

func (s *PendingStore) Load(it Item) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, it.Name))
	if err != nil {
		return nil, fmt.Errorf("load pending %s: %w", it.Name, err)
	}
	return data, nil
}

func (s *PendingStore) Remove(it Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, it.Name)); err != nil {
		return fmt.Errorf("remove pending %s: %w", it.Name, err)
	}
	return nil
}

func (s *PendingStore) Len() int {
	items, err := s.List()
	if err != nil {
		return 0
	}
	return len(items)
}

func PendingName(created time.Time) string {
	return pendingPrefix + created.UTC().Format(pendingLayout) + wavExt
}

func ParsePendingName(name string) (time.Time, error) {
	if !strings.HasPrefix(name, pendingPrefix) || !strings.HasSuffix(name, wavExt) {
		return time.Time{}, ErrBadItemName
	}
	ts := strings.TrimSuffix(strings.TrimPrefix(name, pendingPrefix), wavExt)
	t, err := time.Parse(pendingLayout, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrBadItemName, name)
	}
	return t, nil
}

// Archive keeps a copy of every delivered payload.
type Archive struct {
	dir string
	mu  sync.Mutex
}

func OpenArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Save writes data as sent_audio_<timestamp>.wav and returns its path.
func (a *Archive) Save(data []byte, t time.Time) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := archiveName(t)
	for {
		if _, err := os.Stat(filepath.Join(a.dir, name)); errors.Is(err, os.ErrNotExist) {
			break
		}
		t = t.Add(time.Microsecond)
		name = archiveName(t)
	}

	if err := writeFileAtomic(a.dir, name, data); err != nil {
		return "", err
	}
	return filepath.Join(a.dir, name), nil
}

func archiveName(t time.Time) string {
	return "sent_audio_" + t.Format("20060102_150405.000000") + wavExt
}

// writeFileAtomic writes through a temp file in dir, syncs it and renames it
// into place.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(fmt.Errorf("write %s: %w", name, err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync %s: %w", name, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}

	// Persist the rename itself. Not supported everywhere, so errors are
	// ignored.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
