package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"filewatchd/internal/backend"
	"filewatchd/internal/checksum"
	"filewatchd/internal/config"
	"filewatchd/internal/journal"
	"filewatchd/internal/logging"
	"filewatchd/internal/watch"
)

type multiFlag []string

func (m *multiFlag) String() string     { return fmt.Sprint(*m) }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file (toml, yaml, or json)")
	var paths multiFlag
	fs.Var(&paths, "path", "file or directory to watch (repeatable, adds to config)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	cfg.Watch.Paths = append(cfg.Watch.Paths, paths...)
	if len(cfg.Watch.Paths) == 0 {
		fatal(fmt.Errorf("nothing to watch: give -path or configure watch.paths"))
	}

	log, closer, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fatal(err)
	}
	if closer != nil {
		defer closer.Close()
	}

	if err := runDaemon(cfg, log); err != nil {
		log.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func runDaemon(cfg *config.Config, log *slog.Logger) error {
	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		var err error
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer jnl.Close()
		log.Info("journal open", "path", cfg.Journal.Path)
	}

	eng, err := checksum.New(checksum.Algorithm(cfg.Watch.Algorithm))
	if err != nil {
		return err
	}

	be, err := backend.NewAuto(time.Duration(cfg.Watch.PollIntervalMs) * time.Millisecond)
	if err != nil {
		return err
	}
	defer be.Close()

	watcher, err := watch.New(watch.Config{
		Backend:   be,
		Checksums: eng,
		Logger:    logging.Component(log, "watch"),
	})
	if err != nil {
		return err
	}
	defer watcher.Close()

	files, err := expandPaths(cfg.Watch)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := watcher.AddPath(path, cfg.Watch.ChecksumIntervalSec, cfg.Watch.ChecksumSizeLimitKB); err != nil {
			// The application layer decides about retries; here that
			// means telling the operator and moving on.
			log.Warn("cannot watch path", "path", path, "error", err)
			continue
		}
		log.Info("watching", "path", path)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Last reported digest per path, for journaling the transition.
	last := make(map[string][]byte)

	for {
		select {
		case sig := <-sigCh:
			log.Info("shutting down", "signal", sig.String())
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			log.Info("file changed", "path", ev.Path)

			if jnl != nil {
				var size int64
				if info, err := os.Stat(ev.Path); err == nil {
					size = info.Size()
				}
				if _, err := jnl.Record(&journal.Change{
					Path:         ev.Path,
					DetectedAt:   ev.At,
					Checksum:     ev.Checksum,
					PrevChecksum: last[ev.Path],
					Size:         size,
				}); err != nil {
					log.Warn("journal record failed", "path", ev.Path, "error", err)
				}
			}
			last[ev.Path] = ev.Checksum
		}
	}
}

// expandPaths resolves the configured watch set: files are taken as given,
// directories contribute their immediate files, filtered by the include and
// exclude globs.
func expandPaths(cfg config.WatchConfig) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})

	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}

	for _, path := range cfg.Paths {
		abs, err := absPath(path)
		if err != nil {
			return nil, err
		}

		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			// Missing or plain file: the watcher and its backend decide
			// what to make of it.
			add(abs)
			continue
		}

		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", abs, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if matchPatterns(entry.Name(), cfg.IncludePatterns, cfg.ExcludePatterns) {
				add(filepath.Join(abs, entry.Name()))
			}
		}
	}
	return files, nil
}

func matchPatterns(name string, include, exclude []string) bool {
	for _, pattern := range exclude {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}
