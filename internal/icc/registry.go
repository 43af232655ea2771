// Package icc implements C6: named colour profiles, loaded once from
// disk at startup. It is intentionally stdlib-only: the registry's job
// is to hand raw profile bytes to the codec adapter (which does the
// actual colour transform via libvips/lcms); nothing in the retrieval
// pack wires a Go ICC *parsing* library, and this package never parses
// profile internals, so there is no third-party concern to ground here.
package icc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Registry struct {
	profiles map[string][]byte
}

// Load reads every *.icc/*.icm file in dir once into memory.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("icc: read dir: %w", err)
	}
	profiles := make(map[string][]byte)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".icc" && ext != ".icm" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("icc: read %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ext)
		profiles[strings.ToLower(name)] = b
	}
	return &Registry{profiles: profiles}, nil
}

func (r *Registry) Get(name string) ([]byte, bool) {
	b, ok := r.profiles[strings.ToLower(name)]
	return b, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.profiles))
	for n := range r.profiles {
		out = append(out, n)
	}
	return out
}
