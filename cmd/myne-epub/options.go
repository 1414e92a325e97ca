package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Pool-Of-Tears/Myne-sub000/internal/cache"
	"github.com/Pool-Of-Tears/Myne-sub000/internal/loader"
)

const (
	envCacheDir = "MYNE_CACHE_DIR"
	envLogLevel = "MYNE_LOG_LEVEL"
)

// cliOptions are the validated persistent flags shared by every command.
type cliOptions struct {
	CacheDir string
	NoCache  bool
	UseTOC   bool
	Jobs     int
	Logger   *slog.Logger
}

func getEnvOrDefault(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "myne-epub")
	}
	return filepath.Join(os.TempDir(), "myne-epub")
}

func addPersistentFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("cache-dir", getEnvOrDefault(envCacheDir, defaultCacheDir()), "Parse cache directory (env "+envCacheDir+")")
	f.Bool("no-cache", false, "Parse every book from scratch without touching the cache")
	f.Bool("no-toc", false, "Build chapters from the spine only, ignoring the table of contents (bypasses the cache)")
	f.String("log-level", getEnvOrDefault(envLogLevel, "info"), "Log level: debug, info, warn, error (env "+envLogLevel+")")
	f.String("log-format", "text", "Log format: text, json")
	f.BoolP("verbose", "v", false, "Enable debug logging (overrides --log-level)")
	f.IntP("jobs", "j", runtime.NumCPU(), "Number of books parsed in parallel")
}

func readCLIOptions(cmd *cobra.Command) (*cliOptions, error) {
	flags := cmd.Flags()
	cacheDir, _ := flags.GetString("cache-dir")
	noCache, _ := flags.GetBool("no-cache")
	noTOC, _ := flags.GetBool("no-toc")
	logLevel, _ := flags.GetString("log-level")
	logFormat, _ := flags.GetString("log-format")
	verbose, _ := flags.GetBool("verbose")
	jobs, _ := flags.GetInt("jobs")

	if !noCache && strings.TrimSpace(cacheDir) == "" {
		return nil, fmt.Errorf("--cache-dir must not be empty")
	}
	if jobs < 1 {
		return nil, fmt.Errorf("--jobs must be at least 1")
	}

	logLevel = strings.ToLower(strings.TrimSpace(logLevel))
	if verbose {
		logLevel = "debug"
	}
	if _, ok := parseLogLevel(logLevel); !ok {
		return nil, fmt.Errorf("--log-level must be one of debug, info, warn, error")
	}
	logFormat = strings.ToLower(strings.TrimSpace(logFormat))
	if logFormat != "text" && logFormat != "json" {
		return nil, fmt.Errorf("--log-format must be text or json")
	}

	return &cliOptions{
		CacheDir: cacheDir,
		NoCache:  noCache,
		UseTOC:   !noTOC,
		Jobs:     jobs,
		Logger:   buildLogger(cmd.ErrOrStderr(), logLevel, logFormat),
	}, nil
}

func parseLogLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func buildLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, _ := parseLogLevel(level)
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func (o *cliOptions) openCache() (*cache.Cache, error) {
	return cache.Open(o.CacheDir, cache.FormatVersion, o.Logger)
}

// newLoader opens the cache when enabled. A cache that cannot be opened only
// disables caching.
func (o *cliOptions) newLoader() *loader.Loader {
	if o.NoCache {
		return loader.New(nil, o.Logger)
	}
	c, err := o.openCache()
	if err != nil {
		o.Logger.Warn("cache unavailable, parsing without it", "dir", o.CacheDir, "error", err)
		return loader.New(nil, o.Logger)
	}
	return loader.New(c, o.Logger)
}
