package tracking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ezoic/taxifare/pkg/errors"
)

const (
	metaFile        = "meta.yaml"
	lifecycleActive = "active"
)

// experimentMeta is the meta.yaml of an experiment directory.
type experimentMeta struct {
	ArtifactLocation string `yaml:"artifact_location"`
	CreationTime     int64  `yaml:"creation_time"`
	ExperimentID     string `yaml:"experiment_id"`
	LastUpdateTime   int64  `yaml:"last_update_time"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	Name             string `yaml:"name"`
}

// runMeta is the meta.yaml of a run directory.
type runMeta struct {
	ArtifactURI    string    `yaml:"artifact_uri"`
	EndTime        int64     `yaml:"end_time"`
	ExperimentID   string    `yaml:"experiment_id"`
	LifecycleStage string    `yaml:"lifecycle_stage"`
	RunID          string    `yaml:"run_id"`
	RunUUID        string    `yaml:"run_uuid"`
	StartTime      int64     `yaml:"start_time"`
	Status         RunStatus `yaml:"status"`
}

// FileStore is a Client writing MLflow's mlruns directory layout:
//
//	<root>/<experiment_id>/meta.yaml
//	<root>/<experiment_id>/<run_id>/meta.yaml
//	<root>/<experiment_id>/<run_id>/params/<key>
//	<root>/<experiment_id>/<run_id>/metrics/<key>   "timestamp value step" lines
//
// Experiment ids are incrementing integers starting at 1.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore opens (creating if needed) the store rooted at dir. A
// file:// prefix is accepted.
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimPrefix(strings.TrimSpace(dir), "file://")
	if dir == "" {
		return nil, errors.NewValidationError("tracking.uri", "file store directory must not be empty", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "file store: resolve %s", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrapf(err, "file store: create %s", abs)
	}
	return &FileStore{root: abs}, nil
}

// Root returns the absolute store directory.
func (s *FileStore) Root() string {
	return s.root
}

// CreateExperiment implements Client.
func (s *FileStore) CreateExperiment(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exps, err := s.experiments()
	if err != nil {
		return "", err
	}
	next := 1
	for _, e := range exps {
		if e.Name == name {
			return "", errors.Mark(
				errors.Newf("file store: experiment %q already exists with id %s", name, e.ExperimentID),
				ErrAlreadyExists)
		}
		if id, err := strconv.Atoi(e.ExperimentID); err == nil && id >= next {
			next = id + 1
		}
	}

	id := strconv.Itoa(next)
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "file store: create experiment %q", name)
	}
	now := nowMillis()
	meta := experimentMeta{
		ArtifactLocation: "file://" + dir,
		CreationTime:     now,
		ExperimentID:     id,
		LastUpdateTime:   now,
		LifecycleStage:   lifecycleActive,
		Name:             name,
	}
	if err := writeYAML(filepath.Join(dir, metaFile), meta); err != nil {
		return "", err
	}
	return id, nil
}

// GetExperimentByName implements Client.
func (s *FileStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exps, err := s.experiments()
	if err != nil {
		return nil, err
	}
	for _, e := range exps {
		if e.Name == name {
			return &Experiment{
				ID:               e.ExperimentID,
				Name:             e.Name,
				ArtifactLocation: e.ArtifactLocation,
				LifecycleStage:   e.LifecycleStage,
			}, nil
		}
	}
	return nil, errors.Mark(errors.Newf("file store: experiment %q not found", name), ErrNotFound)
}

// CreateRun implements Client.
func (s *FileStore) CreateRun(ctx context.Context, experimentID string, startTime int64) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkName("experiment_id", experimentID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	expDir := filepath.Join(s.root, experimentID)
	if _, err := os.Stat(filepath.Join(expDir, metaFile)); err != nil {
		return nil, errors.Mark(errors.Newf("file store: experiment %s not found", experimentID), ErrNotFound)
	}

	runID := strings.ReplaceAll(uuid.NewString(), "-", "")
	runDir := filepath.Join(expDir, runID)
	for _, sub := range []string{"params", "metrics", "tags", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(runDir, sub), 0o755); err != nil {
			return nil, errors.Wrapf(err, "file store: create run %s", runID)
		}
	}

	meta := runMeta{
		ArtifactURI:    "file://" + filepath.Join(runDir, "artifacts"),
		ExperimentID:   experimentID,
		LifecycleStage: lifecycleActive,
		RunID:          runID,
		RunUUID:        runID,
		StartTime:      startTime,
		Status:         RunRunning,
	}
	if err := writeYAML(filepath.Join(runDir, metaFile), meta); err != nil {
		return nil, err
	}
	return &Run{ID: runID, ExperimentID: experimentID, Status: RunRunning, StartTime: startTime}, nil
}

// LogParam implements Client. Params are immutable: logging a different
// value for an existing key is an error, logging the same value is not.
func (s *FileStore) LogParam(ctx context.Context, runID, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName("key", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runDir, err := s.findRun(runID)
	if err != nil {
		return err
	}
	path := filepath.Join(runDir, "params", key)
	if old, err := os.ReadFile(path); err == nil {
		if string(old) == value {
			return nil
		}
		return errors.NewValidationError(key, "param already logged with a different value", string(old))
	}
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return errors.Wrapf(err, "file store: log param %s", key)
	}
	return nil
}

// LogMetric implements Client.
func (s *FileStore) LogMetric(ctx context.Context, runID, key string, value float64, timestamp, step int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName("key", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runDir, err := s.findRun(runID)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(runDir, "metrics", key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "file store: log metric %s", key)
	}
	line := fmt.Sprintf("%d %s %d\n", timestamp, strconv.FormatFloat(value, 'g', -1, 64), step)
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "file store: log metric %s", key)
	}
	return errors.Wrap(f.Close(), "failed to close file")
}

// UpdateRun implements Client.
func (s *FileStore) UpdateRun(ctx context.Context, runID string, status RunStatus, endTime int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runDir, err := s.findRun(runID)
	if err != nil {
		return err
	}
	path := filepath.Join(runDir, metaFile)
	var meta runMeta
	if err := readYAML(path, &meta); err != nil {
		return err
	}
	meta.Status = status
	meta.EndTime = endTime
	return writeYAML(path, meta)
}

// experiments lists every experiment in id order.
func (s *FileStore) experiments() ([]experimentMeta, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrapf(err, "file store: list %s", s.root)
	}
	var out []experimentMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var meta experimentMeta
		if err := readYAML(filepath.Join(s.root, e.Name(), metaFile), &meta); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ExperimentID)
		b, _ := strconv.Atoi(out[j].ExperimentID)
		return a < b
	})
	return out, nil
}

func (s *FileStore) findRun(runID string) (string, error) {
	if err := checkName("run_id", runID); err != nil {
		return "", err
	}
	matches, err := filepath.Glob(filepath.Join(s.root, "*", runID, metaFile))
	if err != nil {
		return "", errors.Wrapf(err, "file store: find run %s", runID)
	}
	if len(matches) == 0 {
		return "", errors.Mark(errors.Newf("file store: run %s not found", runID), ErrNotFound)
	}
	return filepath.Dir(matches[0]), nil
}

// checkName rejects names that would escape their directory.
func checkName(param, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.NewValidationError(param, "must be a non-empty name without path separators", name)
	}
	return nil
}

func readYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "file store: parse %s", path)
	}
	return nil
}

func writeYAML(path string, v any) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "file store: encode %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "file store: write %s", path)
	}
	return nil
}
