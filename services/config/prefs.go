package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Prefs is a namespaced key/value store persisted as one YAML document:
//
//	solar_relay:
//	  v_low: 12.1
//	  v_high: 13.2
//
// An empty path keeps everything in memory.
type Prefs struct {
	path string

	mu   sync.Mutex
	data map[string]map[string]any
}

// OpenPrefs loads path. A missing file is an empty store.
func OpenPrefs(path string) (*Prefs, error) {
	p := &Prefs{path: path, data: map[string]map[string]any{}}
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &p.data); err != nil {
		return nil, err
	}
	if p.data == nil {
		p.data = map[string]map[string]any{}
	}
	return p, nil
}

func (p *Prefs) get(ns, key string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.data[ns][key]
	return v, ok
}

// Float returns ns.key as a float, or def when missing or mistyped.
func (p *Prefs) Float(ns, key string, def float64) float64 {
	v, _ := p.get(ns, key)
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return def
}

// Int returns ns.key as an int, or def when missing or mistyped.
func (p *Prefs) Int(ns, key string, def int) int {
	v, _ := p.get(ns, key)
	switch n := v.(type) {
	case int:
		return n
	case float64:
		if n == float64(int(n)) {
			return int(n)
		}
	}
	return def
}

// Put stages values for ns. Call Save to persist.
func (p *Prefs) Put(ns string, kv map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.data[ns]
	if m == nil {
		m = map[string]any{}
		p.data[ns] = m
	}
	for k, v := range kv {
		m[k] = v
	}
}

// Save writes the store atomically (temp file and rename).
func (p *Prefs) Save() error {
	if p.path == "" {
		return nil
	}
	p.mu.Lock()
	b, err := yaml.Marshal(p.data)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".prefs-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p.path)
}
