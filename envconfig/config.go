package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Var returns the value of key from the environment, falling back to the
// config file. Surrounding spaces and quotes are removed.
func Var(key string) string {
	if s := strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'"); s != "" {
		return s
	}

	return fileValue(key)
}

func String(key string, defaultValue string) func() string {
	return func() string {
		if s := Var(key); s != "" {
			return s
		}
		return defaultValue
	}
}

func Bool(key string) func() bool {
	return func() bool {
		if s := Var(key); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// LogLevel returns the log level for the application.
// Values are 0 or false INFO (Default), 1 or true DEBUG, 2 TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("TINYGRAPH_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

var (
	// Backend selects the kind of device to run on. Only "cpu" ships with tinygraph.
	Backend = String("TINYGRAPH_BACKEND", "cpu")
	// NumThreads bounds the goroutines a CPU backend uses per operation. 0 uses every core.
	NumThreads = Uint("TINYGRAPH_NUM_THREADS", 0)
	// GraphSize is the node capacity of a compute graph. 0 uses the default.
	GraphSize = Uint("TINYGRAPH_GRAPH_SIZE", 0)
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"TINYGRAPH_DEBUG":       {"TINYGRAPH_DEBUG", LogLevel(), "Show additional debug information (e.g. TINYGRAPH_DEBUG=1, 2 for trace)"},
		"TINYGRAPH_BACKEND":     {"TINYGRAPH_BACKEND", Backend(), "Device type to compute on (default \"cpu\")"},
		"TINYGRAPH_NUM_THREADS": {"TINYGRAPH_NUM_THREADS", NumThreads(), "Goroutines per CPU operation (default: all cores)"},
		"TINYGRAPH_GRAPH_SIZE":  {"TINYGRAPH_GRAPH_SIZE", GraphSize(), "Maximum nodes in a compute graph (default 2048)"},
		"TINYGRAPH_CONFIG":      {"TINYGRAPH_CONFIG", ConfigPath(), "Path to a TOML config file"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
