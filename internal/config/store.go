package config

import (
	"context"
	"log"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Store holds the live config. Readers call Get on every use, so a
// reload (e.g. a rotated API key) takes effect without a restart.
// Server address, storage layout, and sweep cadence are bound at
// startup and ignore reloads.
type Store struct {
	current atomic.Pointer[Config]
	path    string
}

func NewStore(cfg *Config, path string) *Store {
	s := &Store{path: path}
	s.current.Store(cfg)
	return s
}

func (s *Store) Get() *Config {
	return s.current.Load()
}

// Watch reloads the config whenever the file changes, until ctx is
// canceled. The parent directory is watched rather than the file itself
// because editors typically replace the file by rename.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	base := filepath.Base(s.path)

	log.Printf("Watching config file %s for changes", s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := Load(s.path)
			if err != nil {
				log.Printf("Config reload failed, keeping previous config: %v", err)
				continue
			}
			s.current.Store(cfg)
			log.Println("Config reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Config watcher error: %v", err)
		}
	}
}
