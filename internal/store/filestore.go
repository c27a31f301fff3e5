package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/Spencerx/mlflow/internal/entities"
	lconfig "github.com/Spencerx/mlflow/pkg/config"
	"github.com/Spencerx/mlflow/pkg/record"
)

const (
	TrashFolderName         = ".trash"
	ArtifactsFolderName     = "artifacts"
	MetricsFolderName       = "metrics"
	ParamsFolderName        = "params"
	TagsFolderName          = "tags"
	DatasetsFolderName      = "datasets"
	InputsFolderName        = "inputs"
	OutputsFolderName       = "outputs"
	ModelsFolderName        = "models"
	TracesFolderName        = "traces"
	AssessmentsFolderName   = "assessments"
	MetaDataFileName        = "meta.yaml"
	TraceInfoFileName       = "trace_info.yaml"
	// "request_metadata" predates the trace_metadata rename and is kept for
	// layout compatibility.
	TraceMetadataFolderName = "request_metadata"

	DefaultExperimentID = "0"

	SearchMaxResultsDefault      = 1000
	SearchMaxResultsThreshold    = 50000
	SearchModelsMaxResultsDefault = 100
	SearchTracesMaxResultsDefault = 100
)

// reservedExperimentFolders are experiment subdirectories that hold
// sub-resources rather than runs.
var reservedExperimentFolders = map[string]bool{
	TagsFolderName:     true,
	DatasetsFolderName: true,
	TracesFolderName:   true,
	ModelsFolderName:   true,
}

type Config struct {
	RootDirectory   string `env:"MLFLOW_TRACKING_DIR" envDefault:"./mlruns"`
	ArtifactRootURI string `env:"MLFLOW_ARTIFACT_ROOT"`
}

func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := lconfig.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FileStore is the directory-backed tracking store. All filesystem access
// goes through fs so local disk and test filesystems interchange.
type FileStore struct {
	fs              afero.Fs
	rootDirectory   string
	trashFolder     string
	artifactRootURI string
	nowMillis       func() int64
}

var _ TrackingStore = &FileStore{}

func NewFileStore(cfg *Config, fs afero.Fs) (*FileStore, error) {
	root := filepath.Clean(cfg.RootDirectory)
	artifactRoot := cfg.ArtifactRootURI
	if artifactRoot == "" {
		artifactRoot = pathToFileURI(root)
	}
	store := &FileStore{
		fs:              fs,
		rootDirectory:   root,
		trashFolder:     filepath.Join(root, TrashFolderName),
		artifactRootURI: artifactRoot,
		nowMillis: func() int64 {
			return time.Now().UnixMilli()
		},
	}
	rootExists, err := afero.DirExists(fs, root)
	if err != nil {
		return nil, err
	}
	if !rootExists {
		if err := store.createDefaultExperiment(); err != nil {
			return nil, err
		}
	}
	if err := fs.MkdirAll(store.trashFolder, 0o755); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *FileStore) createDefaultExperiment() error {
	if err := s.fs.MkdirAll(s.rootDirectory, 0o755); err != nil {
		return err
	}
	_, err := s.createExperimentWithID(entities.DefaultExperimentName, DefaultExperimentID, "", nil)
	return err
}

func (s *FileStore) checkRootDir() error {
	isDir, err := afero.DirExists(s.fs, s.rootDirectory)
	if err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat root directory %q", s.rootDirectory)
	}
	if !isDir {
		return entities.NewError(entities.ErrorCodeInternal, "%q does not exist or is not a directory", s.rootDirectory)
	}
	return nil
}

// experimentPath locates an experiment directory in the active root, the
// trash folder, or both, depending on the view. It returns "" when the id is
// absent, unless assertExists is set, in which case it fails with NotFound.
func (s *FileStore) experimentPath(experimentID string, view entities.ViewType, assertExists bool) (string, error) {
	var parents []string
	if view == entities.ViewTypeActiveOnly || view == entities.ViewTypeAll {
		parents = append(parents, s.rootDirectory)
	}
	if view == entities.ViewTypeDeletedOnly || view == entities.ViewTypeAll {
		parents = append(parents, s.trashFolder)
	}
	for _, parent := range parents {
		candidate := filepath.Join(parent, experimentID)
		exists, err := afero.DirExists(s.fs, candidate)
		if err != nil {
			return "", entities.WrapError(err, entities.ErrorCodeInternal, "failed to scan %q", parent)
		}
		if exists {
			return candidate, nil
		}
	}
	if assertExists {
		return "", entities.NewError(entities.ErrorCodeNotFound, "Experiment %s does not exist.", experimentID)
	}
	return "", nil
}

func (s *FileStore) hasExperiment(experimentID string) (bool, error) {
	path, err := s.experimentPath(experimentID, entities.ViewTypeAll, false)
	return path != "", err
}

func (s *FileStore) activeExperimentIDs() ([]string, error) {
	dirs, _, err := record.ListDir(s.fs, s.rootDirectory)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir == TrashFolderName || dir == ModelsFolderName {
			continue
		}
		ids = append(ids, dir)
	}
	return ids, nil
}

func (s *FileStore) deletedExperimentIDs() ([]string, error) {
	dirs, _, err := record.ListDir(s.fs, s.trashFolder)
	if err != nil {
		return nil, err
	}
	return dirs, nil
}

// readMeta loads a yaml metadata document, classifying missing or empty
// content as MissingConfig so listing paths can skip the entry.
func (s *FileStore) readMeta(path string, out interface{}) error {
	err := record.ReadYAML(s.fs, path, out)
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) || errors.Is(err, record.ErrEmpty) {
		return entities.WrapError(err, entities.ErrorCodeMissingConfig,
			"metadata file %q is missing or empty", path)
	}
	return entities.WrapError(err, entities.ErrorCodeInternal, "failed to read %q", path)
}

// resourceFiles lists the per-key files of a sub-resource folder (metrics,
// params, tags); nested keys come back with '/' separators.
func (s *FileStore) resourceFiles(parentDir string, subfolder string) (string, []string, error) {
	dir := filepath.Join(parentDir, subfolder)
	names, err := record.ListFilesRecursive(s.fs, dir)
	if err != nil {
		return "", nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to list %q", dir)
	}
	return dir, names, nil
}

func pathToFileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs)
}

// appendToURIPath joins URI path segments with single slashes, preserving
// the base's scheme.
func appendToURIPath(base string, segments ...string) string {
	joined := strings.TrimRight(base, "/")
	for _, segment := range segments {
		joined = joined + "/" + strings.Trim(segment, "/")
	}
	return joined
}

// newExperimentID generates a random integer id in decimal form, matching
// the historical id format.
func newExperimentID() string {
	id := uuid.New()
	n := binary.BigEndian.Uint64(id[:8]) % 1_000_000_000_000_000_000
	return fmt.Sprintf("%d", n)
}

func newRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newModelID() string {
	return "m-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newTraceID() string {
	return "tr-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newAssessmentID() string {
	return "a-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
