package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cwbudde/plasticityfit/internal/param"
)

// Center is a refined best configuration in physical units, saved by the
// refine pass as a candidate origin for the centered regime.
type Center struct {
	Protocol param.Protocol     `json:"protocol"`
	Table    string             `json:"table"`
	Values   map[string]float64 `json:"values"`
	LInf     float64            `json:"l_inf"`
	L2       float64            `json:"l2"`

	// Source is the store the refinement started from and RecordID the
	// record it polished.
	Source   string `json:"source"`
	RecordID int64  `json:"record_id"`

	Timestamp time.Time `json:"timestamp"`
}

// Key identifies a center file, e.g. "Letzkus_Claire_veto"
func (c *Center) Key() string {
	return string(c.Protocol) + "_" + c.Table
}

// Validate checks the fields a saved center must carry
func (c *Center) Validate() error {
	if c.Protocol == "" {
		return &ValidationError{Field: "Protocol", Reason: "cannot be empty"}
	}
	if _, err := param.ParseTableName(c.Table); err != nil {
		return &ValidationError{Field: "Table", Reason: err.Error()}
	}
	if len(c.Values) == 0 {
		return &ValidationError{Field: "Values", Reason: "cannot be empty"}
	}
	for name, v := range c.Values {
		if _, err := param.ParseID(name); err != nil {
			return &ValidationError{Field: "Values", Reason: err.Error()}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: "Values." + name, Reason: "must be finite"}
		}
	}
	if c.LInf < 0 || c.L2 < 0 {
		return &ValidationError{Field: "Metrics", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError reports an invalid field of a saved document
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// CenterStore keeps refined centers as JSON files under <dataDir>/centers.
// Writes go through a temp file and rename, so readers never see a partial
// document.
type CenterStore struct {
	dir string
}

// NewCenterStore creates the centers directory if needed
func NewCenterStore(dataDir string) (*CenterStore, error) {
	dir := filepath.Join(dataDir, "centers")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create centers directory: %w", err)
	}
	return &CenterStore{dir: dir}, nil
}

func (cs *CenterStore) path(key string) string {
	return filepath.Join(cs.dir, key+".json")
}

// Save validates and atomically writes a center, replacing any earlier one
// with the same key.
func (cs *CenterStore) Save(c *Center) error {
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize center: %w", err)
	}

	final := cs.path(c.Key())
	temp := final + ".tmp"
	if err := os.WriteFile(temp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp center file: %w", err)
	}
	if err := os.Rename(temp, final); err != nil {
		os.Remove(temp)
		return fmt.Errorf("failed to rename center file: %w", err)
	}

	slog.Debug("Center saved", "key", c.Key(), "path", final)
	return nil
}

// Load reads the center with the given key
func (cs *CenterStore) Load(key string) (*Center, error) {
	data, err := os.ReadFile(cs.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Table: "center " + key}
		}
		return nil, fmt.Errorf("failed to read center file: %w", err)
	}

	var c Center
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to deserialize center %s: %w", key, err)
	}
	return &c, nil
}

// List returns every saved center ordered by key. Unreadable files are
// skipped with a warning.
func (cs *CenterStore) List() ([]Center, error) {
	entries, err := os.ReadDir(cs.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read centers directory: %w", err)
	}

	var centers []Center
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		c, err := cs.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			slog.Warn("Failed to load center for listing", "file", name, "error", err)
			continue
		}
		centers = append(centers, *c)
	}
	sort.Slice(centers, func(i, j int) bool { return centers[i].Key() < centers[j].Key() })
	return centers, nil
}

// Delete removes a saved center
func (cs *CenterStore) Delete(key string) error {
	err := os.Remove(cs.path(key))
	if os.IsNotExist(err) {
		return &NotFoundError{Table: "center " + key}
	}
	if err != nil {
		return fmt.Errorf("failed to remove center file: %w", err)
	}
	return nil
}
