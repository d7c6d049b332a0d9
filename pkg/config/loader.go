package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/kkyr/fig"
)

const (
	EnvPrefix = "MESHRELAY"
	FileName  = "config.yaml"
)

func dirs(path string) []string {
	if path != "" {
		return []string{path}
	}
	out := []string{".", "configs", "../../configs"}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".meshrelay"))
	}
	return out
}

// Find returns the config file LoadConfig would read or an empty string.
func Find(path string) string {
	for _, dir := range dirs(path) {
		file := filepath.Join(dir, FileName)
		if _, err := os.Stat(file); err == nil {
			return file
		}
	}
	return ""
}

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom path to the configuration file.
// Reads and puts environment variables with the prefix MESHRELAY_.
// Params from the config should be in uppercase separated with _.
// When there is no config file, only the defaults and the environment are used.
func LoadConfig(config any, path string) error {
	err := fig.Load(config, fig.File(FileName), fig.Dirs(dirs(path)...), fig.UseEnv(EnvPrefix))
	if errors.Is(err, fig.ErrFileNotFound) && path == "" {
		return LoadConfigEnv(config)
	}
	return err
}

func LoadConfigEnv(config any) error {
	return fig.Load(config, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
}
