// Package file provides a roles.Store backed by a YAML file, reloaded when
// the file changes on disk.
//
// The file maps principals to documents:
//
//	users:
//	  user-123:
//	    roles: [admin, developer]
//	  user-456:
//	    roles: [developer]
package file

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/mcp-gateway-go/roles"
	"gopkg.in/yaml.v3"
)

type document struct {
	Users map[string]map[string]any `yaml:"users"`
}

// Store serves role documents parsed from a YAML file.
type Store struct {
	path string
	log  *slog.Logger

	mu   sync.RWMutex
	docs map[string]roles.Document
}

var _ roles.Store = (*Store)(nil)

// Open reads and parses path.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("roles file: %w", err)
	}
	s := &Store{path: abs, log: log}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the absolute path of the backing file.
func (s *Store) Path() string { return s.path }

// Reload re-reads the file. On error the previous contents are kept.
func (s *Store) Reload() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("roles file: read %s: %w", s.path, err)
	}

	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("roles file: parse %s: %w", s.path, err)
	}

	docs := make(map[string]roles.Document, len(doc.Users))
	for principal, d := range doc.Users {
		docs[principal] = roles.Document(d)
	}

	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()
	return nil
}

// Lookup implements roles.Store.
func (s *Store) Lookup(_ context.Context, principal string) (roles.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[principal]
	if !ok {
		return nil, roles.ErrNotFound
	}
	return maps.Clone(doc), nil
}

// Watch reloads the file whenever it changes and then calls onChange, until
// ctx is cancelled. The parent directory is watched so that editors which
// replace the file by rename are observed.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("roles file: watch: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("roles file: watch %s: %w", filepath.Dir(s.path), err)
	}

	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.log.WarnContext(ctx, "roles.file.reload_failed", slog.String("err", err.Error()))
					continue
				}
				s.log.InfoContext(ctx, "roles.file.reloaded", slog.String("path", s.path))
				if onChange != nil {
					onChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.WarnContext(ctx, "roles.file.watch_error", slog.String("err", err.Error()))
			}
		}
	}()
	return nil
}
