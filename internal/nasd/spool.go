package nasd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/nasopt/dynas/pkg/logger"
)

// Suffixes given to spool files once handled
const (
	SpoolAccepted = ".accepted"
	SpoolRejected = ".rejected"
)

// Spool submits every *.yaml or *.yml configuration dropped into a
// directory as a new search. Handled files are renamed with SpoolAccepted
// or SpoolRejected so they are not submitted twice. Writers should create
// the file elsewhere and rename it into the directory.
type Spool struct {
	dir      string
	executor *Executor
	logger   *slog.Logger
}

func NewSpool(dir string, executor *Executor) *Spool {
	return &Spool{dir: dir, executor: executor, logger: logger.For("spool").With("dir", dir)}
}

// Run submits the configurations already present, then watches the
// directory until ctx ends
func (s *Spool) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create spool watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch spool %s: %w", s.dir, err)
	}

	if err := s.scan(); err != nil {
		return err
	}
	s.logger.Info("watching spool directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				s.handle(event.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("spool watcher error", "error", err)
		}
	}
}

func (s *Spool) scan() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read spool %s: %w", s.dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			s.handle(filepath.Join(s.dir, e.Name()))
		}
	}
	return nil
}

func spooled(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// handle submits path when it is a pending configuration. The search ID is
// the file name without extension.
func (s *Spool) handle(path string) {
	if !spooled(path) {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		// renamed by an earlier event for the same file
		if os.IsNotExist(err) {
			return
		}
		s.logger.Warn("failed to read spooled config", "file", path, "error", err)
		return
	}
	if len(data) == 0 {
		// created but not written yet; the write event follows
		return
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	rec, err := s.executor.Submit(name, SearchInput{ConfigYAML: string(data)})
	suffix := SpoolAccepted
	if err != nil {
		suffix = SpoolRejected
		s.logger.Warn("spooled config rejected", "file", path, "error", err)
	} else {
		s.logger.Info("spooled search submitted", "file", path, "search_id", rec.ID)
	}
	if err := os.Rename(path, path+suffix); err != nil {
		s.logger.Error("failed to mark spooled config", "file", path, "error", err)
	}
}
