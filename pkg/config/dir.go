package lconfig

import (
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/spf13/afero"
)

// ConfigDir reads a directory of file-per-value configuration entries, the
// way mounted secrets and config maps are usually projected.
type ConfigDir struct {
	fs afero.Fs
}

func NewConfigDir(dirPath string) (*ConfigDir, error) {
	if dirPath == "" {
		return nil, fmt.Errorf("empty config dir path")
	}
	configDir := &ConfigDir{
		fs: afero.NewBasePathFs(afero.NewOsFs(), dirPath),
	}
	stat, err := configDir.fs.Stat(".")
	if err != nil {
		return nil, err
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("config dir path %s is not a directory", dirPath)
	}
	return configDir, nil
}

// EnvironmentMap returns file name to trimmed file content for every file in
// the directory. Duplicate names across nested directories are an error.
func (config *ConfigDir) EnvironmentMap() (map[string]string, error) {
	envMap := make(map[string]string)
	err := afero.Walk(config.fs, ".", func(path string, fileInfo fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fileInfo.IsDir() {
			return nil
		}
		name := fileInfo.Name()
		if _, alreadyExists := envMap[name]; alreadyExists {
			return fmt.Errorf("duplicate configuration value %s", name)
		}
		file, err := config.fs.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		contents, err := io.ReadAll(file)
		if err != nil {
			return err
		}
		envMap[name] = strings.TrimSpace(string(contents))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return envMap, nil
}
