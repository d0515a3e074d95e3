package recon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	reconerrors "github.com/PentesterFlow/ReconMapper/internal/errors"
	"github.com/PentesterFlow/ReconMapper/internal/explorer"
	"github.com/PentesterFlow/ReconMapper/internal/interceptor"
	"github.com/PentesterFlow/ReconMapper/internal/output"
	"github.com/PentesterFlow/ReconMapper/internal/page/pagetest"
	"github.com/PentesterFlow/ReconMapper/internal/shutdown"
	"github.com/PentesterFlow/ReconMapper/internal/state"
)

var testSites = map[string]string{
	"https://a.test/": `<html><head><title>Home</title></head><body>
		<a href="/about">About</a>
		<a href="/login">Login</a>
		<a href="https://b.test/">Elsewhere</a>
	</body></html>`,
	"https://a.test/about": `<html><body><h1>About</h1><ul><li>one</li><li>two</li></ul></body></html>`,
	"https://a.test/login": `<html><body>
		<form id="login" action="/api/login" method="post"><input name="user" required></form>
	</body></html>`,
	"https://b.test/": `<html><body>other host</body></html>`,
}

func newFactory() *pagetest.Factory {
	return &pagetest.Factory{NewFunc: func() *pagetest.Page { return pagetest.New(testSites) }}
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Target = "https://a.test/"
	cfg.MaxDepth = 1
	cfg.Explore.SettleMode = interceptor.SettleIdle
	return cfg
}

func newRunner(t *testing.T, cfg *Config, opts ...Option) (*Runner, *pagetest.Factory) {
	t.Helper()
	f := newFactory()
	opts = append([]Option{WithPageFactory(f), WithRunID("run-1")}, opts...)
	r, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, f
}

// =============================================================================
// Runner Construction Tests
// =============================================================================

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	if reconerrors.KindOf(err) != reconerrors.Config {
		t.Errorf("New(nil) error kind = %v, want config (err=%v)", reconerrors.KindOf(err), err)
	}

	r, err := New(nil, WithTarget("https://a.test/"), WithWorkers(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.RunID() == "" {
		t.Error("RunID should be generated")
	}
	if r.Config().Workers != 1 {
		t.Errorf("Workers = %d, want 1", r.Config().Workers)
	}
}

func TestNew_CopiesConfig(t *testing.T) {
	cfg := testConfig()
	r, _ := newRunner(t, cfg)
	cfg.Target = "https://changed.test/"

	if r.Config().Target != "https://a.test/" {
		t.Error("runner should not see later config changes")
	}
}

// =============================================================================
// Crawl / Explore Tests
// =============================================================================

func TestRunner_Crawl(t *testing.T) {
	r, f := newRunner(t, testConfig())

	urls, err := r.Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	want := []string{"https://a.test/", "https://a.test/about", "https://a.test/login"}
	if strings.Join(urls, " ") != strings.Join(want, " ") {
		t.Errorf("Crawl() = %v, want %v", urls, want)
	}
	if len(f.Opened()) != 1 {
		t.Errorf("crawl opened %d pages, want 1", len(f.Opened()))
	}
}

func TestRunner_ExploreKeepsOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 3
	var stream bytes.Buffer
	r, f := newRunner(t, cfg, WithStream(&stream))

	urls := []string{"https://a.test/", "https://a.test/missing", "https://a.test/about"}
	set, err := r.Explore(context.Background(), urls)
	if err != nil {
		t.Fatalf("Explore: %v", err)
	}

	if len(set.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(set.Results))
	}
	for i, u := range urls {
		if set.Results[i].URL != u {
			t.Errorf("Results[%d].URL = %q, want %q", i, set.Results[i].URL, u)
		}
	}
	if !set.Results[1].Failed() || set.Results[1].Error != explorer.LoadFailed {
		t.Errorf("missing page result = %+v", set.Results[1])
	}
	if set.Results[2].Title != "About" || set.Results[2].Report == nil {
		t.Errorf("about page result = %+v", set.Results[2])
	}
	if set.RunID != "run-1" || set.StartURL != "https://a.test/" {
		t.Errorf("set = %q %q", set.RunID, set.StartURL)
	}
	if len(f.Opened()) != 3 {
		t.Errorf("opened %d pages, want one per worker", len(f.Opened()))
	}
	if n := strings.Count(stream.String(), "\n"); n != 3 {
		t.Errorf("stream has %d lines, want 3: %s", n, stream.String())
	}
	if !strings.Contains(stream.String(), `"type":"error"`) {
		t.Error("stream should report the failed page")
	}
}

func TestRunner_ExploreEmpty(t *testing.T) {
	r, f := newRunner(t, testConfig())

	set, err := r.Explore(context.Background(), nil)
	if err != nil {
		t.Fatalf("Explore: %v", err)
	}
	if set.Results == nil || len(set.Results) != 0 {
		t.Errorf("Results = %v, want empty non-nil", set.Results)
	}
	if len(f.Opened()) != 0 {
		t.Error("no pages should be opened for an empty URL list")
	}
}

// =============================================================================
// Aggregation Tests
// =============================================================================

func TestRunner_Aggregate(t *testing.T) {
	status := 200
	results := []explorer.PageResult{
		{URL: "https://a.test/", Report: &explorer.Report{
			NetworkLog: []interceptor.Entry{
				{Method: "GET", URL: "https://a.test/api/users/42", Status: &status},
				{Method: "GET", URL: "https://a.test/app.js", Status: &status},
			},
		}},
		{URL: "https://a.test/x", Error: explorer.LoadFailed},
	}

	tests := []struct {
		name      string
		normalize bool
		want      string
	}{
		{"raw keys", false, "https://a.test/api/users/42"},
		{"normalized keys", true, "https://a.test/api/users/{id}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Reference.NormalizePaths = tt.normalize
			r, _ := newRunner(t, cfg)

			reg := r.Aggregate(results)
			keys := reg.Keys()
			if len(keys) != 1 || keys[0] != tt.want {
				t.Errorf("Keys() = %v, want [%s]", keys, tt.want)
			}
		})
	}
}

func TestRunner_AggregateStored(t *testing.T) {
	store := state.NewMemoryStore()
	r, _ := newRunner(t, testConfig(), WithStore(store))

	if _, err := r.Explore(context.Background(), []string{"https://a.test/login"}); err != nil {
		t.Fatalf("Explore: %v", err)
	}

	reg, err := r.AggregateStored("run-1")
	if err != nil {
		t.Fatalf("AggregateStored: %v", err)
	}
	if keys := reg.Keys(); len(keys) != 1 || keys[0] != "/api/login" {
		t.Errorf("Keys() = %v, want [/api/login]", keys)
	}

	if _, err := r.AggregateStored("unknown"); reconerrors.KindOf(err) != reconerrors.Store {
		t.Errorf("unknown run error kind = %v, want store", reconerrors.KindOf(err))
	}
}

func TestRunner_AggregateStoredWithoutStore(t *testing.T) {
	r, _ := newRunner(t, testConfig())
	if _, err := r.AggregateStored("run-1"); reconerrors.KindOf(err) != reconerrors.Config {
		t.Errorf("error kind = %v, want config", reconerrors.KindOf(err))
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRunner_Run(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Output = OutputConfig{
		Format:    "json",
		Captures:  filepath.Join(dir, "captures.json"),
		Reference: filepath.Join(dir, "reference.json"),
		Markdown:  filepath.Join(dir, "API.md"),
		URLs:      filepath.Join(dir, "urls.txt"),
		Summary:   filepath.Join(dir, "summary.json"),
	}
	store := state.NewMemoryStore()
	r, f := newRunner(t, cfg, WithStore(store))

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Discovered) != 3 || len(res.Captures.Results) != 3 {
		t.Errorf("discovered %d, explored %d", len(res.Discovered), len(res.Captures.Results))
	}
	if len(res.Reference.Endpoints) != 1 {
		t.Fatalf("Endpoints = %+v", res.Reference.Endpoints)
	}
	ep := res.Reference.Endpoints[0]
	if ep.Key != "/api/login" || strings.Join(ep.Methods, ",") != "POST" {
		t.Errorf("endpoint = %+v", ep)
	}
	if len(res.Reference.Forms) != 1 {
		t.Errorf("Forms = %d, want 1", len(res.Reference.Forms))
	}
	if res.Summary.Statistics.ExploredPages != 3 || len(res.Summary.Artifacts) != 4 {
		t.Errorf("summary = %+v", res.Summary)
	}

	var captures explorer.CaptureSet
	if err := output.ReadJSONFile(cfg.Output.Captures, &captures); err != nil {
		t.Fatalf("read captures: %v", err)
	}
	if captures.RunID != "run-1" || len(captures.Results) != 3 {
		t.Errorf("captures = %q, %d results", captures.RunID, len(captures.Results))
	}

	var ref map[string]json.RawMessage
	if err := output.ReadJSONFile(cfg.Output.Reference, &ref); err != nil {
		t.Fatalf("read reference: %v", err)
	}
	if !strings.Contains(string(ref["endpoints"]), `"/api/login"`) {
		t.Errorf("reference endpoints = %s", ref["endpoints"])
	}

	md, err := os.ReadFile(cfg.Output.Markdown)
	if err != nil || !strings.Contains(string(md), "/api/login") {
		t.Errorf("markdown = %q, err = %v", md, err)
	}

	urls, _ := os.ReadFile(cfg.Output.URLs)
	if string(urls) != "https://a.test/\nhttps://a.test/about\nhttps://a.test/login\n" {
		t.Errorf("urls = %q", urls)
	}

	if _, err := os.Stat(cfg.Output.Summary); err != nil {
		t.Errorf("summary not written: %v", err)
	}

	runs, _ := store.Runs()
	if len(runs) != 1 || runs[0].ID != "run-1" || runs[0].Results != 3 {
		t.Errorf("stored runs = %+v", runs)
	}

	r.Close()
	if !f.Closed() {
		t.Error("Close should close the page factory")
	}
}

func TestRunner_RunUnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.MaxDepth = 0
	cfg.Output.Markdown = filepath.Join(blocker, "API.md")
	r, _ := newRunner(t, cfg)

	res, err := r.Run(context.Background())
	if reconerrors.KindOf(err) != reconerrors.Render {
		t.Errorf("error kind = %v, want render (err=%v)", reconerrors.KindOf(err), err)
	}
	if res == nil || len(res.Discovered) != 1 {
		t.Errorf("result should still carry the crawl: %+v", res)
	}
}

func TestRunner_RunCancelled(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Output.Captures = filepath.Join(dir, "captures.json")
	r, _ := newRunner(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if res == nil {
		t.Fatal("cancelled run should still return a result")
	}
	if _, err := os.Stat(cfg.Output.Captures); err != nil {
		t.Errorf("captures should be written for a cancelled run: %v", err)
	}
}

func TestRunner_ShutdownClosesFactory(t *testing.T) {
	h := shutdown.New(context.Background(), shutdown.Config{})
	r, f := newRunner(t, testConfig(), WithShutdown(h))
	_ = r

	h.Shutdown()

	if !f.Closed() {
		t.Error("shutdown should close the page factory")
	}
	if errs := h.Errors(); len(errs) != 0 {
		t.Errorf("shutdown errors = %v", errs)
	}
}
