package interceptor_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	rerrors "github.com/PentesterFlow/ReconMapper/internal/errors"
	"github.com/PentesterFlow/ReconMapper/internal/interceptor"
	"github.com/PentesterFlow/ReconMapper/internal/interceptor/interceptortest"
	"github.com/PentesterFlow/ReconMapper/internal/logger"
	"github.com/PentesterFlow/ReconMapper/internal/page/pagetest"
)

func setup(t *testing.T) (*interceptor.Interceptor, *pagetest.Page, *interceptortest.Window) {
	t.Helper()
	win := interceptortest.NewWindow()
	pg := pagetest.New(map[string]string{"https://a.test/": "<html><body></body></html>"})
	pg.EvalFunc = win.Eval
	if err := pg.Navigate(context.Background(), "https://a.test/"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	return interceptor.New(logger.Nop()), pg, win
}

func strPtr(s string) *string { return &s }

// =============================================================================
// Install Tests
// =============================================================================

func TestInstall_UsesUniqueKey(t *testing.T) {
	a := interceptor.New(nil)
	b := interceptor.New(nil)

	if a.Key() == b.Key() {
		t.Fatal("interceptors should not share a state key")
	}
	if !strings.HasPrefix(a.Key(), "__recon_") {
		t.Errorf("Key() = %q", a.Key())
	}
}

func TestInstall_Idempotent(t *testing.T) {
	ic, pg, win := setup(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := ic.Install(ctx, pg); err != nil {
			t.Fatalf("Install #%d: %v", i+1, err)
		}
	}
	win.Exchange("GET", "https://a.test/api/x", nil, nil, 200, nil, "ok")

	if _, err := ic.Sync(ctx, pg); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := len(ic.Peek()); got != 1 {
		t.Errorf("entries = %d, want 1 (no double logging)", got)
	}
}

func TestInstall_Failure(t *testing.T) {
	ic, pg, win := setup(t)
	win.InstallErr = errors.New("CSP blocked eval")

	err := ic.Install(context.Background(), pg)
	if err == nil {
		t.Fatal("expected error")
	}
	if rerrors.KindOf(err) != rerrors.Instrumentation {
		t.Errorf("kind = %v, want instrumentation", rerrors.KindOf(err))
	}
	if got := ic.Entries(context.Background(), pg); len(got) != 0 {
		t.Errorf("log should stay empty, got %d entries", len(got))
	}
}

func TestInstall_StaticPage(t *testing.T) {
	ic := interceptor.New(nil)
	pg := pagetest.New(map[string]string{"https://a.test/": "<p>x</p>"})
	_ = pg.Navigate(context.Background(), "https://a.test/")

	if err := ic.Install(context.Background(), pg); err == nil {
		t.Error("pages without script support cannot be instrumented")
	}
}

// =============================================================================
// Sync / Buffer Tests
// =============================================================================

func TestSync_RequestThenCompletion(t *testing.T) {
	ic, pg, win := setup(t)
	ctx := context.Background()
	_ = ic.Install(ctx, pg)

	seq := win.Request("post", "https://a.test/api/pay", map[string]string{"Content-Type": "application/json"}, strPtr(`{"amount":5}`))

	pending, err := ic.Sync(ctx, pg)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}

	partial := ic.Peek()
	if len(partial) != 1 {
		t.Fatalf("entries = %d, want 1", len(partial))
	}
	e := partial[0]
	if !e.Pending() {
		t.Error("entry should be pending before completion")
	}
	if e.Method != "POST" {
		t.Errorf("Method = %q, want POST", e.Method)
	}
	if e.Body() != `{"amount":5}` {
		t.Errorf("Body() = %q", e.Body())
	}
	if e.Timestamp == "" {
		t.Error("Timestamp should be set at issue time")
	}

	win.Respond(seq, 201, "Created", map[string]string{"content-type": "application/json"}, `{"id":1}`)
	pending, _ = ic.Sync(ctx, pg)
	if pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}

	done := ic.Peek()
	if len(done) != 1 {
		t.Fatalf("completion must update in place, got %d entries", len(done))
	}
	e = done[0]
	if e.Status == nil || *e.Status != 201 {
		t.Fatalf("Status = %v, want 201", e.Status)
	}
	if e.Error != "" {
		t.Error("completed entry must not carry an error")
	}
	if e.ResponseBody != `{"id":1}` || e.ResponseHeaders["content-type"] != "application/json" {
		t.Errorf("response not recorded: %+v", e)
	}
	if e.CompletedAt == "" {
		t.Error("CompletedAt should be set")
	}
}

func TestSync_FailedCall(t *testing.T) {
	ic, pg, win := setup(t)
	ctx := context.Background()
	_ = ic.Install(ctx, pg)

	seq := win.Request("GET", "https://a.test/api/down", nil, nil)
	win.Fail(seq, "TypeError: Failed to fetch")
	_, _ = ic.Sync(ctx, pg)

	e := ic.Peek()[0]
	if !e.Failed() || e.Status != nil {
		t.Errorf("entry should have error and no status: %+v", e)
	}
	if e.RequestBody != nil {
		t.Error("RequestBody should be null for GET without body")
	}
}

func TestSync_OrderBySeq(t *testing.T) {
	ic, pg, win := setup(t)
	ctx := context.Background()
	_ = ic.Install(ctx, pg)

	first := win.Request("GET", "https://a.test/api/slow", nil, nil)
	second := win.Request("GET", "https://a.test/api/fast", nil, nil)
	win.Respond(second, 200, "OK", nil, "")
	win.Respond(first, 200, "OK", nil, "")
	_, _ = ic.Sync(ctx, pg)

	entries := ic.Peek()
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].URL != "https://a.test/api/slow" || entries[1].URL != "https://a.test/api/fast" {
		t.Errorf("entries not in issue order: %s, %s", entries[0].URL, entries[1].URL)
	}
	if entries[0].Seq >= entries[1].Seq {
		t.Errorf("seq not increasing: %d, %d", entries[0].Seq, entries[1].Seq)
	}
}

func TestSync_NotInstalledAfterNavigation(t *testing.T) {
	ic, pg, win := setup(t)
	ctx := context.Background()
	_ = ic.Install(ctx, pg)
	win.Exchange("GET", "https://a.test/api/a", nil, nil, 200, nil, "")
	_, _ = ic.Sync(ctx, pg)

	win.Navigate()
	if _, err := ic.Sync(ctx, pg); !errors.Is(err, interceptor.ErrNotInstalled) {
		t.Errorf("Sync after navigation = %v, want ErrNotInstalled", err)
	}

	// Reinstall keeps seqs unique across documents.
	_ = ic.Install(ctx, pg)
	win.Exchange("GET", "https://a.test/api/b", nil, nil, 200, nil, "")
	_, _ = ic.Sync(ctx, pg)

	entries := ic.Peek()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Seq == entries[1].Seq {
		t.Errorf("duplicate seq %d across navigations", entries[0].Seq)
	}
}

func TestPeek_ReturnsCopy(t *testing.T) {
	ic, pg, win := setup(t)
	ctx := context.Background()
	_ = ic.Install(ctx, pg)
	win.Exchange("GET", "https://a.test/api/a", map[string]string{"X": "1"}, nil, 200, nil, "")
	_, _ = ic.Sync(ctx, pg)

	got := ic.Peek()
	got[0].RequestHeaders["X"] = "mutated"
	*got[0].Status = 500

	again := ic.Peek()
	if again[0].RequestHeaders["X"] != "1" || *again[0].Status != 200 {
		t.Error("Peek must not expose internal state")
	}
}

func TestDrain_ClearsAndDropsLateCompletions(t *testing.T) {
	ic, pg, win := setup(t)
	ctx := context.Background()
	_ = ic.Install(ctx, pg)

	seq := win.Request("GET", "https://a.test/api/slow", nil, nil)
	_, _ = ic.Sync(ctx, pg)

	drained := ic.Drain()
	if len(drained) != 1 || !drained[0].Pending() {
		t.Fatalf("Drain() = %+v", drained)
	}
	if ic.Buffer().Len() != 0 {
		t.Error("buffer should be empty after Drain")
	}

	win.Respond(seq, 200, "OK", nil, "late")
	_, _ = ic.Sync(ctx, pg)
	if got := ic.Peek(); len(got) != 0 {
		t.Errorf("late completion should be dropped, got %+v", got)
	}
}

func TestDrain_EmptyIsNotNil(t *testing.T) {
	ic := interceptor.New(nil)
	if got := ic.Drain(); got == nil {
		t.Error("Drain() should return an empty slice")
	}
}

// =============================================================================
// Entry JSON Tests
// =============================================================================

func TestEntry_JSONKeys(t *testing.T) {
	status := 200
	body := "x=1"
	e := interceptor.Entry{
		Seq: 3, Method: "POST", URL: "https://a.test/api/x",
		RequestHeaders: interceptor.Headers{"a": "b"}, RequestBody: &body,
		Status: &status, StatusText: "OK", ResponseBody: "ok",
		Timestamp: "t0", CompletedAt: "t1",
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, key := range []string{`"seq":3`, `"requestHeaders"`, `"requestBody":"x=1"`, `"status":200`, `"statusText"`, `"responseBody"`, `"completedAt"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("JSON %s missing %s", data, key)
		}
	}

	pending, _ := json.Marshal(interceptor.Entry{Method: "GET", URL: "u", Timestamp: "t"})
	if strings.Contains(string(pending), `"status"`) || strings.Contains(string(pending), `"error"`) {
		t.Errorf("pending entry must carry neither status nor error: %s", pending)
	}
	if !strings.Contains(string(pending), `"requestBody":null`) {
		t.Errorf("requestBody should be null: %s", pending)
	}
}

func TestEntry_LenientBodies(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantReq  *string
		wantResp string
	}{
		{"strings", `{"requestBody":"a=1","responseBody":"ok"}`, strPtr("a=1"), "ok"},
		{"null", `{"requestBody":null,"responseBody":null}`, nil, ""},
		{"absent", `{"method":"GET"}`, nil, ""},
		{"empty object", `{"requestBody":{}}`, strPtr("{}"), ""},
		{"object", `{"requestBody":{"amount":5},"responseBody":{"ok":true}}`, strPtr(`{"amount":5}`), `{"ok":true}`},
		{"number", `{"requestBody":12,"responseBody":false}`, strPtr("12"), "false"},
		{"array", `{"requestBody":[1,"x"]}`, strPtr(`[1,"x"]`), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e interceptor.Entry
			if err := json.Unmarshal([]byte(tt.in), &e); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			switch {
			case tt.wantReq == nil && e.RequestBody != nil:
				t.Errorf("RequestBody = %q, want nil", *e.RequestBody)
			case tt.wantReq != nil && (e.RequestBody == nil || *e.RequestBody != *tt.wantReq):
				t.Errorf("RequestBody = %v, want %q", e.RequestBody, *tt.wantReq)
			}
			if e.ResponseBody != tt.wantResp {
				t.Errorf("ResponseBody = %q, want %q", e.ResponseBody, tt.wantResp)
			}
		})
	}
}

func TestEntry_UnmarshalKeepsOtherFields(t *testing.T) {
	in := `{"seq":4,"method":"POST","url":"https://a.test/api/x","requestHeaders":{"n":1},
		"requestBody":{},"status":201,"statusText":"Created","error":"","timestamp":"t0","completedAt":"t1"}`
	var e interceptor.Entry
	if err := json.Unmarshal([]byte(in), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Seq != 4 || e.Method != "POST" || e.URL != "https://a.test/api/x" || e.RequestHeaders["n"] != "1" {
		t.Errorf("entry = %+v", e)
	}
	if e.Status == nil || *e.Status != 201 || e.StatusText != "Created" || e.CompletedAt != "t1" {
		t.Errorf("completion fields = %+v", e)
	}

	if err := json.Unmarshal([]byte(`{"status":"ok"}`), &e); err == nil {
		t.Error("expected error for non-numeric status")
	}
}

func TestHeaders_Lenient(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want interceptor.Headers
	}{
		{"strings", `{"a":"b"}`, interceptor.Headers{"a": "b"}},
		{"number", `{"Content-Length":12}`, interceptor.Headers{"Content-Length": "12"}},
		{"bool", `{"x-flag":true}`, interceptor.Headers{"x-flag": "true"}},
		{"pairs", `[["a","b"],["c",1]]`, interceptor.Headers{"a": "b", "c": "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h interceptor.Headers
			if err := json.Unmarshal([]byte(tt.in), &h); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if len(h) != len(tt.want) {
				t.Fatalf("got %v, want %v", h, tt.want)
			}
			for k, v := range tt.want {
				if h[k] != v {
					t.Errorf("h[%q] = %q, want %q", k, h[k], v)
				}
			}
		})
	}

	var h interceptor.Headers
	if err := json.Unmarshal([]byte(`"nope"`), &h); err == nil {
		t.Error("expected error for non-object headers")
	}
}

// =============================================================================
// Settle Tests
// =============================================================================

func TestWaitSettled_Fixed(t *testing.T) {
	ic, pg, _ := setup(t)

	start := time.Now()
	err := ic.WaitSettled(context.Background(), pg, interceptor.SettleConfig{Mode: interceptor.SettleFixed, Delay: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("WaitSettled: %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("fixed settle returned early")
	}
}

func TestWaitSettled_Cancelled(t *testing.T) {
	ic, pg, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ic.WaitSettled(ctx, pg, interceptor.SettleConfig{Delay: time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WaitSettled = %v, want context.Canceled", err)
	}
}

func TestWaitSettled_IdleWaitsForPending(t *testing.T) {
	ic, pg, win := setup(t)
	ctx := context.Background()
	_ = ic.Install(ctx, pg)

	seq := win.Request("GET", "https://a.test/api/slow", nil, nil)
	go func() {
		time.Sleep(40 * time.Millisecond)
		win.Respond(seq, 200, "OK", nil, "")
	}()

	cfg := interceptor.SettleConfig{
		Mode:         interceptor.SettleIdle,
		Delay:        2 * time.Second,
		IdleWindow:   20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
	start := time.Now()
	if err := ic.WaitSettled(ctx, pg, cfg); err != nil {
		t.Fatalf("WaitSettled: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 40*time.Millisecond {
		t.Errorf("returned after %v, before the pending call completed", elapsed)
	}
	if elapsed >= 2*time.Second {
		t.Errorf("idle settle hit the upper bound: %v", elapsed)
	}

	entries := ic.Peek()
	if len(entries) != 1 || entries[0].Pending() {
		t.Errorf("settled log should hold the completed call: %+v", entries)
	}
}

func TestWaitSettled_IdleWithoutScripts(t *testing.T) {
	ic := interceptor.New(nil)
	pg := pagetest.New(map[string]string{"https://a.test/": "<p>x</p>"})
	_ = pg.Navigate(context.Background(), "https://a.test/")

	start := time.Now()
	err := ic.WaitSettled(context.Background(), pg, interceptor.SettleConfig{Mode: interceptor.SettleIdle, Delay: time.Second})
	if err != nil {
		t.Fatalf("WaitSettled: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("static pages should not wait in idle mode")
	}
}

func TestSettleConfig_Validate(t *testing.T) {
	if err := interceptor.DefaultSettleConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if err := (interceptor.SettleConfig{Mode: "eventually"}).Validate(); err == nil {
		t.Error("unknown mode should be rejected")
	}
	if err := (interceptor.SettleConfig{Delay: -time.Second}).Validate(); err == nil {
		t.Error("negative delay should be rejected")
	}
}
