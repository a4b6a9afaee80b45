package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/store"
)

// errAmbiguousTable is returned when a store holds several rule tables and
// the request did not pick one
var errAmbiguousTable = errors.New("ambiguous rule table")

// StoreInfo describes one store file of the data directory
type StoreInfo struct {
	Name   string          `json:"name"`
	Layout store.Layout    `json:"layout"`
	Size   int64           `json:"size"`
	Tables []store.Summary `json:"tables"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps store errors to HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrStoreUnavailable):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errAmbiguousTable):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Request failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parsePositive(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

// validName rejects names that could leave the data directory
func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`)
}

// storePath resolves a store name to a file in dataDir
func storePath(dataDir, name string) (string, store.Layout, error) {
	if !validName(name) {
		return "", "", fmt.Errorf("%w: invalid store name %q", store.ErrStoreUnavailable, name)
	}
	if !strings.HasSuffix(name, ".db") {
		name += ".db"
	}
	layout, ok := store.LayoutForFile(name)
	if !ok {
		return "", "", fmt.Errorf("%w: %s is not a result store", store.ErrStoreUnavailable, name)
	}
	return filepath.Join(dataDir, name), layout, nil
}

func describeStore(ctx context.Context, dataDir, name string) (*StoreInfo, error) {
	path, layout, err := storePath(dataDir, name)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrStoreUnavailable, name)
		}
		return nil, err
	}

	rules, err := store.Tables(ctx, path)
	if err != nil {
		return nil, err
	}

	info := &StoreInfo{
		Name:   filepath.Base(path),
		Layout: layout,
		Size:   fi.Size(),
		Tables: []store.Summary{},
	}
	for _, rule := range rules {
		st, err := store.OpenExisting(ctx, path, layout, rule)
		if err != nil {
			return nil, err
		}
		sum, err := st.Summary(ctx)
		st.Close()
		if err != nil {
			return nil, err
		}
		info.Tables = append(info.Tables, sum)
	}
	return info, nil
}

// listStores summarizes every result store in dataDir, ordered by name
func listStores(ctx context.Context, dataDir string) ([]StoreInfo, error) {
	entries, err := os.ReadDir(dataDir)
	if os.IsNotExist(err) {
		return []StoreInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	infos := []StoreInfo{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".db") {
			continue
		}
		if _, ok := store.LayoutForFile(name); !ok {
			continue
		}
		info, err := describeStore(ctx, dataDir, name)
		if err != nil {
			slog.Warn("Failed to describe store", "file", name, "error", err)
			continue
		}
		infos = append(infos, *info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// openTable opens one rule table of a store. With an empty table name the
// store must hold exactly one rule table.
func openTable(ctx context.Context, dataDir, name, table string) (*store.Store, error) {
	path, layout, err := storePath(dataDir, name)
	if err != nil {
		return nil, err
	}

	var rule param.Rule
	if table != "" {
		rule, err = param.ParseTableName(table)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrNotFound, err)
		}
	} else {
		rules, err := store.Tables(ctx, path)
		if err != nil {
			return nil, err
		}
		switch len(rules) {
		case 0:
			return nil, fmt.Errorf("%w: %s has no rule tables", store.ErrStoreUnavailable, name)
		case 1:
			rule = rules[0]
		default:
			return nil, fmt.Errorf("%w: %s holds %d rule tables, select one with ?table=", errAmbiguousTable, name, len(rules))
		}
	}
	return store.OpenExisting(ctx, path, layout, rule)
}
