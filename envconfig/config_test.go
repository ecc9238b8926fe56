package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the config file at an empty temp dir so a real user config
// cannot leak into the test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TINYGRAPH_CONFIG", filepath.Join(dir, "config.toml"))
	return dir
}

func TestLogLevel(t *testing.T) {
	isolate(t)

	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
		"junk":  slog.LevelInfo,
	}

	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("TINYGRAPH_DEBUG", value)
			assert.Equal(t, want, LogLevel())
		})
	}
}

func TestUint(t *testing.T) {
	isolate(t)

	cases := map[string]uint{
		"":        0,
		"4":       4,
		" '8' ":   8,
		"-1":      0,
		"invalid": 0,
	}

	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("TINYGRAPH_NUM_THREADS", value)
			assert.Equal(t, want, NumThreads())
		})
	}
}

func TestBool(t *testing.T) {
	isolate(t)

	flag := Bool("TINYGRAPH_TEST_FLAG")
	cases := map[string]bool{
		"":      false,
		"false": false,
		"1":     true,
		"yes":   true,
	}

	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("TINYGRAPH_TEST_FLAG", value)
			assert.Equal(t, want, flag())
		})
	}
}

func TestConfigFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
backend = "gpu"
num_threads = 3
debug = 1
`), 0o644))

	t.Setenv("TINYGRAPH_BACKEND", "")
	t.Setenv("TINYGRAPH_NUM_THREADS", "")
	t.Setenv("TINYGRAPH_DEBUG", "")

	assert.Equal(t, "gpu", Backend())
	assert.Equal(t, uint(3), NumThreads())
	assert.Equal(t, slog.LevelDebug, LogLevel())

	// the environment wins over the file
	t.Setenv("TINYGRAPH_NUM_THREADS", "5")
	assert.Equal(t, uint(5), NumThreads())

	t.Run("tables rejected", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(p, []byte("[server]\nhost = \"x\"\n"), 0o644))
		t.Setenv("TINYGRAPH_CONFIG", p)
		t.Setenv("TINYGRAPH_BACKEND", "")
		assert.Equal(t, "cpu", Backend())
	})
}

func TestConfigPath(t *testing.T) {
	t.Setenv("TINYGRAPH_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "tinygraph", "config.toml"), ConfigPath())

	t.Setenv("TINYGRAPH_CONFIG", "/etc/tinygraph.toml")
	assert.Equal(t, "/etc/tinygraph.toml", ConfigPath())
}

func TestValues(t *testing.T) {
	isolate(t)
	t.Setenv("TINYGRAPH_BACKEND", "cpu")
	t.Setenv("TINYGRAPH_GRAPH_SIZE", "128")

	vals := Values()
	assert.Equal(t, "cpu", vals["TINYGRAPH_BACKEND"])
	assert.Equal(t, "128", vals["TINYGRAPH_GRAPH_SIZE"])
	assert.Len(t, vals, len(AsMap()))
}
