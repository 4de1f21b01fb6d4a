package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/striderlabs/strider/pkg/logger"
)

// Registry holds the loaded skills. The active set lives in an atomic
// snapshot; Watch replaces the whole snapshot on file changes, so readers
// see either the old set or the new one, never a half-reload.
type Registry struct {
	dir      string
	snapshot atomic.Value // map[string]*Skill
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewRegistry creates a registry over a skill directory and loads it.
// A missing directory yields an empty registry, not an error.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{dir: dir, logger: logger.GetLogger()}
	r.snapshot.Store(map[string]*Skill{})
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads every skill file and swaps the snapshot. Files that
// fail to parse are logged and skipped; one bad file does not take down
// the rest of the set.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.snapshot.Store(map[string]*Skill{})
			return nil
		}
		return fmt.Errorf("failed to read skill directory: %w", err)
	}

	loaded := map[string]*Skill{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(r.dir, name)
		skill, err := loadSkillFile(path)
		if err != nil {
			r.logger.Warn("skipping unparsable skill file", "file", path, "error", err)
			continue
		}
		if _, dup := loaded[skill.Name]; dup {
			r.logger.Warn("duplicate skill name, keeping the first", "skill", skill.Name, "file", path)
			continue
		}
		loaded[skill.Name] = skill
	}

	r.snapshot.Store(loaded)
	r.logger.Debug("skills loaded", "count", len(loaded), "dir", r.dir)
	return nil
}

func loadSkillFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	skill, err := decodeSkill(raw)
	if err != nil {
		return nil, err
	}
	skill.Source = path
	return skill, nil
}

// Get returns a skill by name from the current snapshot.
func (r *Registry) Get(name string) (*Skill, bool) {
	skills := r.snapshot.Load().(map[string]*Skill)
	s, ok := skills[name]
	return s, ok
}

// List returns all skills sorted by name.
func (r *Registry) List() []*Skill {
	skills := r.snapshot.Load().(map[string]*Skill)
	out := make([]*Skill, 0, len(skills))
	for _, s := range skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of loaded skills.
func (r *Registry) Count() int {
	return len(r.snapshot.Load().(map[string]*Skill))
}

// Watch starts hot-reloading the skill directory. Any create, write,
// rename or remove under the directory triggers a full reload. Call
// Close to stop.
func (r *Registry) Watch() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.dir, err)
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
					if err := r.Reload(); err != nil {
						r.logger.Warn("skill reload failed", "error", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("skill watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	r.watcher = nil
	return err
}
