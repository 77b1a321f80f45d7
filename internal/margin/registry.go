package margin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"futuresim/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const tableSchema = `{
  "type": "object",
  "required": ["pairs"],
  "properties": {
    "pairs": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["min_base_unit", "tiers"],
        "properties": {
          "min_base_unit": {"type": "number", "exclusiveMinimum": 0},
          "tiers": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["pb", "ml", "mmr", "ma"],
              "properties": {
                "pb": {"type": "number", "exclusiveMinimum": 0},
                "ml": {"type": "integer", "minimum": 1},
                "mmr": {"type": "number", "minimum": 0, "maximum": 1},
                "ma": {"type": "number", "minimum": 0}
              }
            }
          }
        }
      }
    }
  }
}`

// FileConfig maps a margin table file.
type FileConfig struct {
	Pairs map[string]Table `yaml:"pairs"`
}

// Snapshot is an immutable view of the loaded tables.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Tables   Tables
}

// ChangeListener is invoked after a successful reload.
type ChangeListener func(Snapshot)

// Registry serves tables from a YAML file, falling back to the built-in
// defaults for pairs the file does not define. With watch enabled the file
// is reloaded on change; an invalid edit keeps the previous snapshot.
type Registry struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	lots      map[string]float64
	listeners []ChangeListener
}

// NewRegistry loads path. An empty path serves only the built-in tables.
func NewRegistry(path string, watch bool) (*Registry, error) {
	schema, err := compileSchema(tableSchema)
	if err != nil {
		return nil, fmt.Errorf("compile margin table schema failed: %w", err)
	}
	r := &Registry{path: strings.TrimSpace(path), schema: schema, lots: make(map[string]float64)}
	if r.path == "" {
		r.snapshot = Snapshot{Version: 1, LoadedAt: time.Now(), Tables: DefaultTables()}
		return r, nil
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(r.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read margin table config failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := r.reload(); err != nil {
				logger.Errorf("[margin] reload %s failed: %v", filepath.Base(evt.Name), err)
				return
			}
			r.notifyListeners()
		})
		v.WatchConfig()
		r.v = v
	}
	return r, nil
}

// Table implements Provider.
func (r *Registry) Table(pair string) (Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Tables.Table(pair)
}

// Snapshot returns the current tables.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{Version: r.snapshot.Version, LoadedAt: r.snapshot.LoadedAt, Tables: make(Tables, len(r.snapshot.Tables))}
	for pair, tbl := range r.snapshot.Tables {
		out.Tables[pair] = tbl.clone()
	}
	return out
}

// OnChange registers a listener for reloads.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	tables, err := r.readFile()
	if err != nil {
		return err
	}
	merged := DefaultTables()
	for pair, tbl := range tables {
		merged[pair] = tbl
	}
	r.mu.Lock()
	applyLots(merged, r.lots)
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Tables:   merged,
	}
	r.mu.Unlock()
	logger.Infof("[margin] loaded %d tables from %s", len(tables), filepath.Base(r.path))
	return nil
}

// ApplyLotSizes overrides the minimum base unit of known pairs, typically
// with the exchange LOT_SIZE minimums. Overrides survive file reloads.
// It returns the number of tables changed.
func (r *Registry) ApplyLotSizes(units map[string]float64) int {
	r.mu.Lock()
	for pair, unit := range units {
		if unit > 0 {
			r.lots[NormalizePair(pair)] = unit
		}
	}
	tables := make(Tables, len(r.snapshot.Tables))
	for pair, tbl := range r.snapshot.Tables {
		tables[pair] = tbl.clone()
	}
	changed := applyLots(tables, r.lots)
	if changed > 0 {
		r.snapshot = Snapshot{Version: r.snapshot.Version + 1, LoadedAt: time.Now(), Tables: tables}
	}
	r.mu.Unlock()
	if changed > 0 {
		r.notifyListeners()
	}
	return changed
}

func applyLots(tables Tables, lots map[string]float64) int {
	changed := 0
	for pair, unit := range lots {
		tbl, ok := tables[pair]
		if !ok || tbl.MinBaseUnit == unit {
			continue
		}
		tbl.MinBaseUnit = unit
		tables[pair] = tbl
		changed++
	}
	return changed
}

func (r *Registry) readFile() (Tables, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read margin table config failed: %w", err)
	}
	if err := r.validateDocument(raw); err != nil {
		return nil, err
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse margin table config failed: %w", err)
	}
	out := make(Tables, len(cfg.Pairs))
	for name, tbl := range cfg.Pairs {
		tbl.Pair = NormalizePair(name)
		if err := tbl.Validate(); err != nil {
			return nil, err
		}
		out[tbl.Pair] = tbl
	}
	return out, nil
}

// validateDocument runs the JSON schema over the YAML document.
func (r *Registry) validateDocument(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse margin table config failed: %w", err)
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("margin table config is not JSON compatible: %w", err)
	}
	var generic any
	if err := json.Unmarshal(asJSON, &generic); err != nil {
		return err
	}
	if err := r.schema.Validate(generic); err != nil {
		return fmt.Errorf("margin table config invalid: %w", err)
	}
	return nil
}

func (r *Registry) notifyListeners() {
	snap := r.Snapshot()
	r.mu.RLock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("[margin] listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func compileSchema(raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("margin_tables.json", strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("margin_tables.json")
}
