package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pario-ai/querygate/pkg/logging"
	"github.com/pario-ai/querygate/pkg/models"
)

// FileStore keeps the ledger in a JSON file that several gateway instances
// may share. Writes are atomic renames guarded by an advisory lock on
// <path>.lock. The decoded file is cached until a filesystem event shows
// that it changed. A file that cannot be decoded is renamed to
// <path>.corrupt-<timestamp> before it is first overwritten.
type FileStore struct {
	path     string
	lockPath string
	logger   *zap.Logger

	mu       sync.Mutex
	snapshot map[string]models.UsageRecord
	valid    bool
	corrupt  bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileStore creates a FileStore at path. The parent directory is created
// if needed. If the directory cannot be watched the store reads the file on
// every Load.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve ledger path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	s := &FileStore{
		path:     abs,
		lockPath: abs + ".lock",
		logger:   logging.OrNop(logger).Named("ledger.file"),
		done:     make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("file watcher unavailable, snapshot caching disabled", zap.Error(err))
		return s, nil
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		s.logger.Warn("cannot watch ledger dir, snapshot caching disabled", zap.Error(err))
		return s, nil
	}
	s.watcher = watcher
	go s.watchLoop()
	return s, nil
}

// Path returns the absolute ledger file path.
func (s *FileStore) Path() string { return s.path }

// Load implements Store. A missing file is an empty ledger.
func (s *FileStore) Load(context.Context) (map[string]models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.valid {
		return cloneDays(s.snapshot), nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.corrupt = false
		return make(map[string]models.UsageRecord), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	days := make(map[string]models.UsageRecord)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &days); err != nil {
			s.corrupt = true
			return nil, fmt.Errorf("decode ledger %s: %w", s.path, err)
		}
	}
	s.corrupt = false
	s.cache(days)
	return cloneDays(days), nil
}

// Save implements Store by writing a temp file and renaming it over the ledger.
func (s *FileStore) Save(_ context.Context, days map[string]models.UsageRecord) error {
	data, err := json.MarshalIndent(days, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := s.moveCorruptAside(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}

	s.mu.Lock()
	s.cache(cloneDays(days))
	s.mu.Unlock()
	return nil
}

// Lock implements Locker. It polls for the advisory lock until ctx is done.
// The cached snapshot is dropped so the locked cycle reads the file.
func (s *FileStore) Lock(ctx context.Context) (func(), error) {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger lock: %w", err)
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		ok, err := tryLock(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("lock ledger: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("lock ledger: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	s.invalidate()
	return func() {
		if err := unlock(f); err != nil {
			s.logger.Warn("unlock ledger", zap.Error(err))
		}
		f.Close()
	}, nil
}

// moveCorruptAside renames the ledger file out of the way if the last Load
// could not decode it and it still does not decode.
func (s *FileStore) moveCorruptAside() error {
	s.mu.Lock()
	corrupt := s.corrupt
	s.corrupt = false
	s.mu.Unlock()
	if !corrupt {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	var days map[string]models.UsageRecord
	if len(data) == 0 || json.Unmarshal(data, &days) == nil {
		return nil
	}

	aside := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(s.path, aside); err != nil {
		return fmt.Errorf("move corrupt ledger aside: %w", err)
	}
	s.logger.Warn("corrupt ledger preserved", zap.String("path", aside))
	return nil
}

// Close stops the file watcher.
func (s *FileStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}

// cache must be called with s.mu held.
func (s *FileStore) cache(days map[string]models.UsageRecord) {
	if s.watcher == nil {
		return
	}
	s.snapshot = days
	s.valid = true
}

func (s *FileStore) invalidate() {
	s.mu.Lock()
	s.valid = false
	s.snapshot = nil
	s.mu.Unlock()
}

func (s *FileStore) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				s.invalidate()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("ledger watcher error", zap.Error(err))
			s.invalidate()
		}
	}
}
