// Package config loads the YAML configuration of futuresim.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvPath names the environment variable holding the config path.
	EnvPath     = "FUTURESIM_CONFIG"
	DefaultPath = "configs/config.yaml"

	// EnvPrefix prefixes per-key overrides such as FUTURESIM_ENGINE_LEVERAGE.
	EnvPrefix = "FUTURESIM_"
)

var sections = []string{"app", "engine", "wallet", "data", "backtest", "strategy"}

// Path resolves the config file from FUTURESIM_CONFIG.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path plus every file it includes, applies FUTURESIM_* overrides,
// fills defaults for the keys left unset and validates the result. Included
// files are merged first so the including file wins.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r := &includeResolver{state: make(map[string]visit)}
	if err := r.walk(root); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range r.order {
		if err := v.MergeConfigMap(r.docs[file]); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", file, err)
		}
	}
	applyEnvOverrides(v, os.Environ())

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	keys := make(keySet)
	flattenKeys("", v.AllSettings(), keys)
	cfg.applyDefaults(keys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type visit uint8

const (
	unvisited visit = iota
	visiting
	visited
)

// includeResolver orders config files depth first, dependencies before the
// file that includes them.
type includeResolver struct {
	state map[string]visit
	docs  map[string]map[string]any
	order []string
}

func (r *includeResolver) walk(path string) error {
	path = filepath.Clean(path)
	switch r.state[path] {
	case visiting:
		return fmt.Errorf("include cycle detected: %s", path)
	case visited:
		return nil
	}
	r.state[path] = visiting

	doc := viper.New()
	doc.SetConfigFile(path)
	if err := doc.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	includes, err := includeList(doc.Get("include"))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := r.walk(inc); err != nil {
			return err
		}
	}

	r.state[path] = visited
	if r.docs == nil {
		r.docs = make(map[string]map[string]any)
	}
	r.docs[path] = doc.AllSettings()
	r.order = append(r.order, path)
	return nil
}

func includeList(raw any) ([]string, error) {
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []string{val}
	case []string:
		items = val
	case []any:
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings, got %T", item)
			}
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("include must be a list of paths")
	}
	out := items[:0:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// applyEnvOverrides maps FUTURESIM_<SECTION>_<KEY> onto section.key. Only
// scalar keys of the known sections are reachable this way.
func applyEnvOverrides(v *viper.Viper, environ []string) {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == EnvPath || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		rest := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
		section, key, ok := strings.Cut(rest, "_")
		if !ok || key == "" {
			continue
		}
		for _, known := range sections {
			if section == known {
				v.Set(section+"."+key, value)
				break
			}
		}
	}
}

func flattenKeys(prefix string, node any, dest keySet) {
	m, ok := node.(map[string]any)
	if !ok {
		if prefix != "" {
			dest.mark(prefix)
		}
		return
	}
	for k, child := range m {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if prefix != "" {
			k = prefix + "." + k
		}
		flattenKeys(k, child, dest)
	}
}
