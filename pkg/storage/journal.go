package storage

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
)

// FileJournal appends committed events to a file, one JSON object per line,
// for operators who want a plain-text audit trail next to the database.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Publish(_ context.Context, evs []exchange.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	enc := json.NewEncoder(j.f)
	for _, ev := range evs {
		if err := enc.Encode(ev); err != nil {
			return errors.Wrapf(err, "journal event %d", ev.Seq)
		}
	}
	return nil
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
