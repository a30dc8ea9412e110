package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/pkg/types"
)

// File-store limits.
const (
	maxFileSignals = 5000
	archiveDirName = "archive"
)

// FileStore is the JSON fallback backend under a data directory. Writes
// are atomic (write-temp then rename) and state is loaded once at startup.
type FileStore struct {
	logger *zap.Logger
	dir    string

	mu         sync.Mutex
	signals    []*types.Decision
	detections map[string]*types.Detection
	cooldowns  map[gates.CooldownKey]gates.CooldownEntry
}

// fileCooldown is the serialized cooldown form (map keys flattened).
type fileCooldown struct {
	Key   gates.CooldownKey   `json:"key"`
	Entry gates.CooldownEntry `json:"entry"`
}

// NewFileStore creates the store and loads any persisted state.
func NewFileStore(logger *zap.Logger, dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, archiveDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	fs := &FileStore{
		logger:     logger,
		dir:        dir,
		detections: make(map[string]*types.Detection),
		cooldowns:  make(map[gates.CooldownKey]gates.CooldownEntry),
	}
	fs.load()
	return fs, nil
}

// load performs the startup read pass. Missing files are a fresh start;
// corrupt files are logged and skipped.
func (fs *FileStore) load() {
	if data, err := os.ReadFile(fs.path("signals.json")); err == nil {
		if err := json.Unmarshal(data, &fs.signals); err != nil {
			fs.logger.Warn("signals.json unreadable, starting empty", zap.Error(err))
			fs.signals = nil
		}
	}

	if data, err := os.ReadFile(fs.path("detections.json")); err == nil {
		var dets []*types.Detection
		if err := json.Unmarshal(data, &dets); err != nil {
			fs.logger.Warn("detections.json unreadable, starting empty", zap.Error(err))
		} else {
			for _, d := range dets {
				fs.detections[d.ID] = d
			}
		}
	}

	if data, err := os.ReadFile(fs.path("cooldowns.json")); err == nil {
		var entries []fileCooldown
		if err := json.Unmarshal(data, &entries); err != nil {
			fs.logger.Warn("cooldowns.json unreadable, starting empty", zap.Error(err))
		} else {
			for _, e := range entries {
				fs.cooldowns[e.Key] = e.Entry
			}
		}
	}
}

// SaveSignal appends a decision, archiving overflow past the cap.
func (fs *FileStore) SaveSignal(d *types.Decision) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.signals = append(fs.signals, d)
	if len(fs.signals) > maxFileSignals {
		overflow := fs.signals[:len(fs.signals)-maxFileSignals]
		fs.signals = fs.signals[len(fs.signals)-maxFileSignals:]
		if err := fs.archiveSignals(overflow); err != nil {
			fs.logger.Error("signal archive failed", zap.Error(err))
		}
	}
	return fs.writeAtomic("signals.json", fs.signals)
}

// archiveSignals writes overflow to a timestamped archive file.
func (fs *FileStore) archiveSignals(overflow []*types.Decision) error {
	name := fmt.Sprintf("signals-archive-%s.json", time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	data, err := json.MarshalIndent(overflow, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(fs.dir, archiveDirName, name), data, 0o644)
}

// SaveDetection upserts a lifecycle record.
func (fs *FileStore) SaveDetection(d *types.Detection) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.detections[d.ID] = d
	all := make([]*types.Detection, 0, len(fs.detections))
	for _, det := range fs.detections {
		all = append(all, det)
	}
	return fs.writeAtomic("detections.json", all)
}

// LoadDetections returns the loaded lifecycle records.
func (fs *FileStore) LoadDetections() ([]*types.Detection, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make([]*types.Detection, 0, len(fs.detections))
	for _, det := range fs.detections {
		out = append(out, det)
	}
	return out, nil
}

// SaveCooldowns replaces the persisted cooldown snapshot.
func (fs *FileStore) SaveCooldowns(entries map[gates.CooldownKey]gates.CooldownEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.cooldowns = entries
	flat := make([]fileCooldown, 0, len(entries))
	for k, v := range entries {
		flat = append(flat, fileCooldown{Key: k, Entry: v})
	}
	return fs.writeAtomic("cooldowns.json", flat)
}

// LoadCooldowns returns the unexpired loaded cooldown entries.
func (fs *FileStore) LoadCooldowns() (map[gates.CooldownKey]gates.CooldownEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()
	out := make(map[gates.CooldownKey]gates.CooldownEntry)
	for k, v := range fs.cooldowns {
		if now.Before(v.ExpiresAt) {
			out[k] = v
		}
	}
	return out, nil
}

// RecordAlert is a no-op for the file backend; alert history is only kept
// relationally.
func (fs *FileStore) RecordAlert(*types.Decision) error { return nil }

// SignalCount returns the live signal count.
func (fs *FileStore) SignalCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.signals)
}

func (fs *FileStore) path(name string) string {
	return filepath.Join(fs.dir, name)
}

// writeAtomic writes JSON to a temp file and renames it into place.
func (fs *FileStore) writeAtomic(name string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(fs.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, fs.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
