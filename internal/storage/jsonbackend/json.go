package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/FranksOps/lookout/internal/storage"
)

// ensure jsonBackend implements storage.Backend
var _ storage.Backend = (*jsonBackend)(nil)

// maxLine bounds one NDJSON record; payloads are base64 inside it.
const maxLine = 96 << 20

type jsonBackend struct {
	mu   sync.Mutex
	file *os.File
}

// New opens an NDJSON cache file, creating it if needed.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return &jsonBackend{file: f}, nil
}

func (b *jsonBackend) Save(ctx context.Context, e *storage.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

// readAll returns every entry in file order. Callers hold mu.
func (b *jsonBackend) readAll() ([]*storage.Entry, error) {
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	defer func() { _, _ = b.file.Seek(0, io.SeekEnd) }()

	sc := bufio.NewScanner(b.file)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)

	var entries []*storage.Entry
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e storage.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return entries, nil
}

func (b *jsonBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	all, err := b.readAll()
	if err != nil {
		return nil, err
	}

	// Appends are chronological, so walking backwards yields newest first.
	var matched []*storage.Entry
	for i := len(all) - 1; i >= 0; i-- {
		if filter.Match(all[i]) {
			matched = append(matched, all[i])
		}
	}
	return filter.Page(matched), nil
}

func (b *jsonBackend) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	all, err := b.readAll()
	if err != nil {
		return 0, err
	}

	var keep [][]byte
	var pruned int64
	for _, e := range all {
		if e.CreatedAt.Before(cutoff) {
			pruned++
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("context: %w", err)
		}
		keep = append(keep, append(data, '\n'))
	}
	if pruned == 0 {
		return 0, nil
	}

	if err := b.file.Truncate(0); err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	for _, line := range keep {
		if _, err := b.file.Write(line); err != nil {
			return 0, fmt.Errorf("context: %w", err)
		}
	}
	return pruned, nil
}

func (b *jsonBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
