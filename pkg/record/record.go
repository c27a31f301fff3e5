// Package record reads and writes the small flat files the tracking store is
// built from: YAML documents, single-value files, and newline-delimited append
// logs. All access goes through an afero.Fs so storage backends can be swapped.
package record

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ErrEmpty is reported when a document exists but has no content after all
// read retries, which indicates a concurrent writer that never finished.
var ErrEmpty = errors.New("record file is empty")

const (
	readAttempts   = 3
	readRetryDelay = 100 * time.Millisecond
)

// ReadYAML unmarshals the document at path into out. Empty content is retried
// with increasing backoff to ride out a concurrent writer between creating the
// file and flushing it; a file that is still empty afterwards yields ErrEmpty.
// A missing file fails immediately with the underlying not-exist error.
func ReadYAML(fs afero.Fs, path string, out interface{}) error {
	var content []byte
	err := retry.Do(
		func() error {
			data, err := afero.ReadFile(fs, path)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return ErrEmpty
			}
			content = data
			return nil
		},
		retry.Attempts(readAttempts),
		retry.Delay(readRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrEmpty)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(content, out); err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}
	return nil
}

// WriteYAML marshals data to path. An existing destination is refused unless
// overwrite is set, which gives first-write-wins semantics to append-only
// record kinds.
func WriteYAML(fs afero.Fs, path string, data interface{}, overwrite bool) error {
	if !overwrite {
		if ok, err := afero.Exists(fs, path); err != nil {
			return err
		} else if ok {
			return errors.Wrapf(os.ErrExist, "yaml file %s", path)
		}
	}
	content, err := yaml.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fs, path, content, 0o644)
}

// WriteValue stores a raw string value, creating parent directories as
// needed. No trailing newline is added so reads round-trip byte-exactly.
func WriteValue(fs afero.Fs, path string, value string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fs, path, []byte(value), 0o644)
}

// ReadValue returns the raw content of a single-value file.
func ReadValue(fs afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AppendLine appends one newline-terminated record. The write relies on OS
// append-mode atomicity for single lines, so independent processes can share
// the log without a lock.
func AppendLine(fs afero.Fs, path string, line string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.WriteString(line + "\n")
	return err
}

// ReadLines returns the log's records in append order, ignoring a trailing
// partial line, which a reader may observe mid-append.
func ReadLines(fs afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(data), "\n")
	lines := make([]string, 0, len(raw))
	for i, line := range raw {
		if i == len(raw)-1 && line != "" {
			// no terminating newline yet; the writer is mid-append
			continue
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// ListDir returns the names of entries under dir, split into subdirectories
// and plain files. A missing directory is treated as empty.
func ListDir(fs afero.Fs, dir string) (dirs []string, files []string, err error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	for _, info := range infos {
		if info.IsDir() {
			dirs = append(dirs, info.Name())
		} else {
			files = append(files, info.Name())
		}
	}
	return dirs, files, nil
}

// ListFilesRecursive returns the relative paths of all files under dir.
// Nested paths use forward slashes so keys containing '/' read back intact.
func ListFilesRecursive(fs afero.Fs, dir string) ([]string, error) {
	exists, err := afero.DirExists(fs, dir)
	if err != nil || !exists {
		return nil, err
	}
	var names []string
	err = afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}
