package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/store"
)

var noveto = param.Rule{Plasticity: param.Claire}

// seedGrid writes a grid store with one pending and n scored rows whose
// li grows with theta_high.
func seedGrid(t *testing.T, dataDir string, rule param.Rule, n int) string {
	t.Helper()
	ctx := context.Background()
	name := store.FileName(store.LayoutGrid, param.Letzkus, 0, 3)
	st, err := store.Open(ctx, filepath.Join(dataDir, name), store.LayoutGrid, rule)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	base := param.NewConfiguration(rule.Params())
	for i := 0; i < n; i++ {
		id, err := st.Claim(ctx, base.With(param.ThetaHigh, float64(i)))
		if err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		li := float64(10 * (n - i))
		if err := st.Finalize(ctx, id, store.Metrics{LInf: li, L2: li * li}); err != nil {
			t.Fatalf("Finalize failed: %v", err)
		}
	}
	if _, err := st.Claim(ctx, base.With(param.ThetaHigh, float64(n))); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	run, err := st.BeginRun(ctx, store.Run{Kind: "grid", Protocol: string(param.Letzkus), Job: 3})
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if err := st.FinishRun(ctx, run.ID, n, nil); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	return name
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_ListStores(t *testing.T) {
	dataDir := t.TempDir()
	name := seedGrid(t, dataDir, noveto, 3)

	// Files without a store prefix are ignored
	if err := os.WriteFile(filepath.Join(dataDir, "notes.db"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewServer(":0", dataDir)
	w := get(t, s.Handler(), "/api/v1/stores")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var infos []StoreInfo
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("Expected 1 store, got %d", len(infos))
	}
	info := infos[0]
	if info.Name != name || info.Layout != store.LayoutGrid {
		t.Errorf("Unexpected store info: %+v", info)
	}
	if len(info.Tables) != 1 {
		t.Fatalf("Expected 1 table, got %d", len(info.Tables))
	}
	sum := info.Tables[0]
	if sum.Total != 4 || sum.Scored != 3 || sum.Pending != 1 {
		t.Errorf("Unexpected summary: %+v", sum)
	}
	if sum.BestLInf == nil || *sum.BestLInf != 10 {
		t.Errorf("Expected best l_inf 10, got %v", sum.BestLInf)
	}
}

func TestServer_ListStoresMissingDir(t *testing.T) {
	s := NewServer(":0", filepath.Join(t.TempDir(), "absent"))
	w := get(t, s.Handler(), "/api/v1/stores")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected empty list, got %s", w.Body.String())
	}
}

func TestServer_GetStore(t *testing.T) {
	dataDir := t.TempDir()
	name := seedGrid(t, dataDir, noveto, 2)
	h := NewServer(":0", dataDir).Handler()

	// The .db suffix is optional
	w := get(t, h, "/api/v1/stores/"+strings.TrimSuffix(name, ".db"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var info StoreInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if info.Size == 0 || len(info.Tables) != 1 || info.Tables[0].Table != "Claire_noveto" {
		t.Errorf("Unexpected store info: %+v", info)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/stores/gridresults_Letzkus_g0_j9", http.StatusNotFound},
		{"/api/v1/stores/notes", http.StatusNotFound},
		{"/api/v1/stores/", http.StatusBadRequest},
		{"/api/v1/stores/" + name + "/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if w := get(t, h, tt.path); w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestServer_Best(t *testing.T) {
	dataDir := t.TempDir()
	name := seedGrid(t, dataDir, noveto, 5)
	h := NewServer(":0", dataDir).Handler()

	w := get(t, h, "/api/v1/stores/"+name+"/best?n=2")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var records []struct {
		ID   int64    `json:"id"`
		LInf *float64 `json:"l_inf"`
	}
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if *records[0].LInf != 10 || *records[1].LInf != 20 {
		t.Errorf("Expected l_inf 10 then 20, got %v, %v", *records[0].LInf, *records[1].LInf)
	}

	w = get(t, h, "/api/v1/stores/"+name+"/best?n=1&by=l2&table=Claire_noveto")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	if w := get(t, h, "/api/v1/stores/"+name+"/best?n=0"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for n=0, got %d", w.Code)
	}
	if w := get(t, h, "/api/v1/stores/"+name+"/best?by=score"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown metric, got %d", w.Code)
	}
	if w := get(t, h, "/api/v1/stores/"+name+"/best?table=Claire_veto"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing table, got %d", w.Code)
	}
}

func TestServer_BestNeedsTableWhenAmbiguous(t *testing.T) {
	dataDir := t.TempDir()
	name := seedGrid(t, dataDir, noveto, 1)
	seedGrid(t, dataDir, param.Rule{Plasticity: param.Claire, Veto: true}, 1)
	h := NewServer(":0", dataDir).Handler()

	if w := get(t, h, "/api/v1/stores/"+name+"/best"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without a table, got %d", w.Code)
	}
	if w := get(t, h, "/api/v1/stores/"+name+"/best?table=Claire_veto"); w.Code != http.StatusOK {
		t.Errorf("Expected 200 with a table, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_Runs(t *testing.T) {
	dataDir := t.TempDir()
	name := seedGrid(t, dataDir, noveto, 1)

	w := get(t, NewServer(":0", dataDir).Handler(), "/api/v1/stores/"+name+"/runs")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var runs []store.Run
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != store.RunFinished || runs[0].Evaluated != 1 {
		t.Errorf("Unexpected runs: %+v", runs)
	}
}

func TestServer_Centers(t *testing.T) {
	dataDir := t.TempDir()
	h := NewServer(":0", dataDir).Handler()

	w := get(t, h, "/api/v1/centers")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("Expected empty list, got %d %s", w.Code, w.Body.String())
	}

	cs, err := store.NewCenterStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	err = cs.Save(&store.Center{
		Protocol:  param.Letzkus,
		Table:     "Claire_noveto",
		Values:    map[string]float64{param.ThetaHigh.String(): -41.2},
		LInf:      12,
		L2:        300,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	w = get(t, h, "/api/v1/centers")
	var centers []store.Center
	if err := json.NewDecoder(w.Body).Decode(&centers); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(centers) != 1 || centers[0].Key() != "Letzkus_Claire_noveto" {
		t.Errorf("Unexpected centers: %+v", centers)
	}
}

func TestServer_Trace(t *testing.T) {
	dataDir := t.TempDir()
	h := NewServer(":0", dataDir).Handler()

	if w := get(t, h, "/api/v1/traces/run-1"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing trace, got %d", w.Code)
	}

	tw, err := store.NewTraceWriter(dataDir, "run-1", false)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		if err := tw.Write(store.TraceEntry{Iteration: i, LInf: float64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	w := get(t, h, "/api/v1/traces/run-1")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var entries []store.TraceEntry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(entries) != 3 || entries[2].Iteration != 3 {
		t.Errorf("Unexpected entries: %+v", entries)
	}
}

func TestServer_TraceStream(t *testing.T) {
	dataDir := t.TempDir()
	tw, err := store.NewTraceWriter(dataDir, "run-2", false)
	if err != nil {
		t.Fatal(err)
	}
	defer tw.Close()
	if err := tw.Write(store.TraceEntry{Iteration: 1}); err != nil {
		t.Fatal(err)
	}
	if err := tw.Flush(); err != nil {
		t.Fatal(err)
	}

	s := NewServer(":0", dataDir)
	s.PollInterval = 10 * time.Millisecond
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/traces/run-2/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	// Entries written after the client connected arrive through polling
	if err := tw.Write(store.TraceEntry{Iteration: 2}); err != nil {
		t.Fatal(err)
	}
	if err := tw.Flush(); err != nil {
		t.Fatal(err)
	}

	scanner := bufio.NewScanner(resp.Body)
	var got []int
	for len(got) < 2 && scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var entry store.TraceEntry
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &entry); err != nil {
			t.Fatalf("Failed to decode event: %v", err)
		}
		got = append(got, entry.Iteration)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Expected iterations [1 2], got %v", got)
	}
}

func TestServer_TraceStreamMissing(t *testing.T) {
	w := get(t, NewServer(":0", t.TempDir()).Handler(), "/api/v1/traces/nope/stream")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	h := NewServer(":0", t.TempDir()).Handler()
	for _, path := range []string{"/api/v1/stores", "/api/v1/stores/x", "/api/v1/centers", "/api/v1/traces/x"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", path, w.Code)
		}
	}
}

func TestServer_CORS(t *testing.T) {
	h := NewServer(":0", t.TempDir()).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/stores", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}
