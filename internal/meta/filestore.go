package meta

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"github.com/rcliao/organism/internal/model"
)

// File names under the data directory.
const (
	RunLogFile    = "runs.jsonl"
	StateFile     = "meta_state.json"
	DraftsDir     = "playbooks/drafts"
	ActiveDir     = "playbooks/active"
	maxRecordSize = 1 << 20
)

// FileStore keeps Meta-Loop data as JSON files under one directory. Whole
// documents are written to a temp file and renamed into place so a reader
// never observes a partial write.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
}

var _ StateStore = (*FileStore)(nil)

// NewFileStore creates the directory layout under dir.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, sub := range []string{"", DraftsDir, ActiveDir} {
		p := filepath.Join(dir, sub)
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, goerr.Wrap(err, "create meta dir", goerr.V("dir", p))
		}
	}
	return &FileStore{dir: dir, logger: logger.Named("metastore")}, nil
}

// Dir returns the data directory.
func (f *FileStore) Dir() string { return f.dir }

// ActivePath returns the directory holding active playbooks.
func (f *FileStore) ActivePath() string { return filepath.Join(f.dir, ActiveDir) }

func (f *FileStore) AppendRun(_ context.Context, rec model.RunRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return goerr.Wrap(err, "encode run record")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, RunLogFile)
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return goerr.Wrap(err, "open run log", goerr.V("path", path))
	}
	defer fh.Close()
	if _, err := fh.Write(append(line, '\n')); err != nil {
		return goerr.Wrap(err, "append run log", goerr.V("path", path))
	}
	return nil
}

func (f *FileStore) RecentRuns(_ context.Context, n int) ([]model.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, RunLogFile)
	fh, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []model.RunRecord{}, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "open run log", goerr.V("path", path))
	}
	defer fh.Close()

	var out []model.RunRecord
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec model.RunRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			f.logger.Warn("skipping malformed run record", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		out = append(out, rec)
		if n > 0 && len(out) > n {
			out = out[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, goerr.Wrap(err, "read run log", goerr.V("path", path))
	}
	if out == nil {
		out = []model.RunRecord{}
	}
	return out, nil
}

func (f *FileStore) LoadState(_ context.Context) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, StateFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "read meta state", goerr.V("path", path))
	}
	return decodeState(data)
}

func (f *FileStore) SaveState(_ context.Context, s *State) error {
	data, err := encodeState(s)
	if err != nil {
		return goerr.Wrap(err, "encode meta state")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeAtomic(filepath.Join(f.dir, StateFile), data)
}

func (f *FileStore) SaveDraft(_ context.Context, d model.PlaybookDraft) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "encode draft", goerr.V("id", d.ID))
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, DraftsDir, fileName(d.ID))
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return writeAtomic(path, data)
}

func (f *FileStore) ListDrafts(_ context.Context) ([]model.PlaybookDraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.PlaybookDraft
	err := f.readDir(filepath.Join(f.dir, DraftsDir), func(path string, data []byte) {
		var d model.PlaybookDraft
		if err := json.Unmarshal(data, &d); err != nil {
			f.logger.Warn("skipping malformed draft", zap.String("path", path), zap.Error(err))
			return
		}
		out = append(out, d)
	})
	if err != nil {
		return nil, err
	}
	sortDrafts(out)
	return out, nil
}

func (f *FileStore) LoadActive(_ context.Context) ([]model.ActivePlaybook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.ActivePlaybook
	err := f.readDir(filepath.Join(f.dir, ActiveDir), func(path string, data []byte) {
		var p model.ActivePlaybook
		if err := json.Unmarshal(data, &p); err != nil {
			f.logger.Warn("skipping malformed active playbook", zap.String("path", path), zap.Error(err))
			return
		}
		if err := ValidateActive(p); err != nil {
			f.logger.Warn("skipping invalid active playbook", zap.String("path", path), zap.Error(err))
			return
		}
		out = append(out, p)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FileStore) SaveActive(_ context.Context, p model.ActivePlaybook) error {
	if err := ValidateActive(p); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "encode active playbook", goerr.V("id", p.ID))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeAtomic(filepath.Join(f.dir, ActiveDir, fileName(p.ID)), data)
}

// readDir calls fn for every .json file in dir, in name order.
func (f *FileStore) readDir(dir string, fn func(path string, data []byte)) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return goerr.Wrap(err, "read dir", goerr.V("dir", dir))
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			f.logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
			continue
		}
		fn(path, data)
	}
	return nil
}

// writeAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return goerr.Wrap(err, "create temp file", goerr.V("dir", dir))
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return goerr.Wrap(err, "write temp file", goerr.V("path", tmpName))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return goerr.Wrap(err, "sync temp file", goerr.V("path", tmpName))
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return goerr.Wrap(err, "close temp file", goerr.V("path", tmpName))
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return goerr.Wrap(err, "rename into place", goerr.V("path", path))
	}
	return nil
}

// fileName turns an id into a safe file name.
func fileName(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(id) + ".json"
}

func sortDrafts(ds []model.PlaybookDraft) {
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].CreatedAt.Equal(ds[j].CreatedAt) {
			return ds[i].CreatedAt.Before(ds[j].CreatedAt)
		}
		return ds[i].ID < ds[j].ID
	})
}
