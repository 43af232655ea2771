// Package templates implements C5: named ImageSpec default bundles,
// hot-reloaded from a directory of YAML files. The reload is triggered
// either by an fsnotify write event or by a floor ticker, but never
// rebuilds more than once per MinReloadInterval (§4.2: "at most once
// every ~5 minutes"), grounded on the fsnotify dependency already
// present elsewhere in the retrieval pack (jesseduffield-lazydocker).
package templates

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/quru/imageserver/internal/imagespec"
)

// Template is a named bundle of default ImageSpec fields plus the three
// delivery options that are not part of ImageSpec itself.
type Template struct {
	Name                string        `yaml:"-"`
	Spec                imagespec.Spec `yaml:"-"`
	ClientExpirySeconds int           `yaml:"client_expiry_seconds"`
	Attachment          bool          `yaml:"attachment"`
	RecordStats         bool          `yaml:"record_stats"`

	// raw fields bound directly from YAML, translated into Spec below.
	Format  string `yaml:"format"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Strip   bool   `yaml:"strip"`
	Quality int    `yaml:"quality"`
}

func (t Template) toSpec() imagespec.Spec {
	var s imagespec.Spec
	if t.Format != "" {
		s.Format.Set(t.Format)
	}
	if t.Width > 0 {
		s.Width.Set(t.Width)
	}
	if t.Height > 0 {
		s.Height.Set(t.Height)
	}
	if t.Quality > 0 {
		s.Quality.Set(t.Quality)
	}
	s.StripMetadata.Set(t.Strip)
	return s
}

const MinReloadInterval = 5 * time.Minute

// Registry is a copy-on-reload map behind a single-writer lock (§5
// "Shared resources"): readers take a short read lock then work against
// the returned snapshot.
type Registry struct {
	dir string
	log *logrus.Entry

	mu        sync.RWMutex
	templates map[string]Template
	lastLoad  time.Time
	lastMtime time.Time
}

func New(dir string, log *logrus.Entry) (*Registry, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Registry{dir: dir, log: log}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Watch starts the fsnotify + floor-ticker loop; it returns once ctx-like
// stop channel closes.
func (r *Registry) Watch(stop <-chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.log.WithError(err).Warn("templates: fsnotify unavailable, falling back to ticker-only reload")
		r.tickerLoop(stop)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(r.dir); err != nil {
		r.log.WithError(err).Warn("templates: could not watch directory")
	}
	ticker := time.NewTicker(MinReloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.maybeReload()
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				r.maybeReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.log.WithError(err).Warn("templates: watcher error")
		}
	}
}

func (r *Registry) tickerLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(MinReloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.maybeReload()
		}
	}
}

func (r *Registry) maybeReload() {
	r.mu.RLock()
	due := time.Since(r.lastLoad) >= MinReloadInterval
	r.mu.RUnlock()
	if !due {
		return
	}
	mtime, err := dirMtime(r.dir)
	if err != nil {
		r.log.WithError(err).Warn("templates: stat directory failed")
		return
	}
	r.mu.RLock()
	unchanged := !mtime.After(r.lastMtime)
	r.mu.RUnlock()
	if unchanged {
		return
	}
	if err := r.reload(); err != nil {
		r.log.WithError(err).Warn("templates: reload failed")
	}
}

func (r *Registry) reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	next := make(map[string]Template, len(entries))
	mtime := time.Time{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		info, err := e.Info()
		if err == nil && info.ModTime().After(mtime) {
			mtime = info.ModTime()
		}
		b, err := os.ReadFile(path)
		if err != nil {
			r.log.WithError(err).WithField("file", path).Warn("templates: read failed")
			continue
		}
		var t Template
		if err := yaml.Unmarshal(b, &t); err != nil {
			r.log.WithError(err).WithField("file", path).Warn("templates: parse failed")
			continue
		}
		name := strings.TrimSuffix(strings.TrimSuffix(e.Name(), ".yaml"), ".yml")
		t.Name = name
		t.Spec = t.toSpec()
		next[strings.ToLower(name)] = t
	}

	r.mu.Lock()
	r.templates = next
	r.lastLoad = time.Now()
	if mtime.After(r.lastMtime) {
		r.lastMtime = mtime
	}
	r.mu.Unlock()
	r.log.WithField("count", len(next)).Info("templates: reloaded")
	return nil
}

// Get returns a snapshot copy of the named template (case-insensitive).
func (r *Registry) Get(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[strings.ToLower(name)]
	return t, ok
}

func dirMtime(dir string) (time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, err
	}
	latest := time.Time{}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest, nil
}
