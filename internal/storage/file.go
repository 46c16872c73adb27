package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "mcwatch/pkg/logx"
)

// fileTail is how many records the file store keeps in memory for
// RecentAlerts.
const fileTail = 500

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.alerts.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	f    *os.File
	tail []AlertRecord
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	journal := filepath.Join(dir, base+".alerts.jsonl")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	tail, err := loadTail(journal, fileTail)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("alert journal unreadable; starting empty", logx.String("path", journal), logx.Err(err))
	}

	f, err := os.OpenFile(journal, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, f: f, tail: tail}, nil
}

func loadTail(path string, n int) ([]AlertRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []AlertRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r AlertRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			// skip torn writes
			continue
		}
		out = append(out, r)
		if len(out) > n {
			out = out[len(out)-n:]
		}
	}
	return out, sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendAlert(ctx context.Context, r AlertRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.tail = append(s.tail, r)
	if len(s.tail) > fileTail {
		s.tail = s.tail[len(s.tail)-fileTail:]
	}
	return nil
}

func (s *fileStore) RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.tail) {
		limit = len(s.tail)
	}
	out := make([]AlertRecord, 0, limit)
	for i := len(s.tail) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}
