package envconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// ConfigPath is the TOML file consulted for settings missing from the
// environment: TINYGRAPH_CONFIG if set, otherwise config.toml in the user's
// config directory.
func ConfigPath() string {
	if s := strings.Trim(strings.TrimSpace(os.Getenv("TINYGRAPH_CONFIG")), "\"'"); s != "" {
		return s
	}

	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "tinygraph", "config.toml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "tinygraph", "config.toml")
}

var fileConfig struct {
	mu     sync.Mutex
	path   string
	loaded bool
	values map[string]string
}

// loadFile parses a flat TOML file. Each key maps to the environment variable
// TINYGRAPH_<KEY>, so num_threads = 4 sets TINYGRAPH_NUM_THREADS.
func loadFile(path string) (map[string]string, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, err
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []map[string]any:
			return nil, fmt.Errorf("%s: %q: tables are not supported", path, k)
		}

		values["TINYGRAPH_"+strings.ToUpper(k)] = fmt.Sprint(v)
	}

	return values, nil
}

func fileValue(key string) string {
	path := ConfigPath()
	if path == "" {
		return ""
	}

	fileConfig.mu.Lock()
	defer fileConfig.mu.Unlock()

	if !fileConfig.loaded || fileConfig.path != path {
		values, err := loadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to load config file", "path", path, "error", err)
		} else if err == nil {
			slog.Debug("loaded config file", "path", path)
		}

		fileConfig.path, fileConfig.loaded, fileConfig.values = path, true, values
	}

	return fileConfig.values[key]
}
