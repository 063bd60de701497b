package agent

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/consowatch/config"
	"github.com/hazyhaar/consowatch/extractor"
	"github.com/hazyhaar/consowatch/reading"
	"github.com/hazyhaar/consowatch/scheduler"
	"github.com/hazyhaar/consowatch/sink"
	"github.com/hazyhaar/consowatch/syncconfig"
)

const dashboard = `<html><body>
<app-consumption-line>
  <div class="consumption-item-name"><p>Nevera</p></div>
  <div class="consumption-item-value"><app-text><p>12.5</p></app-text></div>
</app-consumption-line>
<app-consumption-line>
  <div class="consumption-item-name"><p>Enchufe Rack</p></div>
  <div class="consumption-item-value"><app-text><p>3.2</p></app-text></div>
</app-consumption-line>
</body></html>`

func testConfig(t *testing.T, sc syncconfig.SyncConfig) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "consowatch.db")
	cfg.HTTP.Disabled = true
	cfg.Sync = sc
	return cfg
}

func TestStart_AutoStartSendsRemote(t *testing.T) {
	posts := make(chan []byte, 8)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		posts <- body
	}))
	defer remote.Close()

	notified := make(chan reading.Snapshot, 8)
	cb := sink.NewCallback(func(_ context.Context, snap reading.Snapshot) error {
		notified <- snap
		return nil
	})

	cfg := testConfig(t, syncconfig.SyncConfig{ServerURL: remote.URL, AutoSend: true, Interval: 60, AutoStart: true})
	a := New(cfg, nil, WithSource(extractor.StaticSource(dashboard)), WithSinks(cb))
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop()

	if a.Scheduler().State() != scheduler.Running {
		t.Fatal("scheduler not running")
	}

	select {
	case body := <-posts:
		var snap reading.Snapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			t.Fatalf("body %s: %v", body, err)
		}
		if len(snap.Devices) != 2 {
			t.Errorf("posted devices: %d", len(snap.Devices))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no remote POST")
	}

	select {
	case snap := <-notified:
		if snap.Devices[1].Name != "Enchufe Rack" {
			t.Errorf("notified: %+v", snap)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("observer not notified")
	}

	a.Scheduler().Wait()
	if _, ok := a.Cache().Get(); !ok {
		t.Error("cache empty after cycle")
	}
}

func TestStart_AutoStartDisabled(t *testing.T) {
	cfg := testConfig(t, syncconfig.SyncConfig{AutoStart: false, Interval: 5})
	a := New(cfg, nil, WithSource(extractor.StaticSource(dashboard)))
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop()

	if a.Scheduler().State() != scheduler.Stopped {
		t.Fatal("scheduler started despite autoStart=false")
	}

	out, err := a.Controller().HandleMessage(context.Background(), []byte(`{"action":"START_EXTRACTION","interval":60}`))
	if err != nil || string(out) != `{"status":"started"}` {
		t.Fatalf("start message: %s %v", out, err)
	}
	if a.Scheduler().State() != scheduler.Running || a.Scheduler().Interval() != time.Minute {
		t.Fatalf("scheduler: %v %v", a.Scheduler().State(), a.Scheduler().Interval())
	}
}

func TestCachePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t, syncconfig.SyncConfig{AutoStart: true, Interval: 60})

	a := New(cfg, nil, WithSource(extractor.StaticSource(dashboard)))
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	a.Scheduler().Wait()
	a.Stop()

	cfg.Sync.AutoStart = false
	b := New(cfg, nil, WithSource(extractor.StaticSource("<html></html>")))
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Stop()

	snap, ok, err := b.Cache().Lookup(context.Background())
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if len(snap.Devices) != 2 {
		t.Errorf("persisted devices: %d", len(snap.Devices))
	}

	// The seed only fills absent keys: autoStart stays true.
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/config")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var sc syncconfig.SyncConfig
	if err := json.NewDecoder(resp.Body).Decode(&sc); err != nil {
		t.Fatal(err)
	}
	if !sc.AutoStart {
		t.Error("seed overwrote the persisted autoStart")
	}

	// History was flushed on Stop.
	hresp, err := http.Get(srv.URL + "/api/history/Nevera")
	if err != nil {
		t.Fatal(err)
	}
	defer hresp.Body.Close()
	var points []struct {
		Device string   `json:"device"`
		Value  *float64 `json:"value"`
	}
	if err := json.NewDecoder(hresp.Body).Decode(&points); err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 || points[0].Value == nil || *points[0].Value != 12.5 {
		t.Errorf("history: %+v", points)
	}
}

func TestOpen_RequiresURL(t *testing.T) {
	cfg := testConfig(t, syncconfig.Defaults())
	cfg.Page.Stealth = "http"
	a := New(cfg, nil)
	if err := a.Open(context.Background()); err == nil {
		a.Stop()
		t.Fatal("expected error without page url")
	}
}

// heldSource blocks its first HTML call until release is closed.
type heldSource struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (h *heldSource) HTML(ctx context.Context) ([]byte, error) {
	if h.calls.Add(1) == 1 {
		close(h.entered)
		<-h.release
	}
	return []byte(dashboard), nil
}

func TestStop_APIClosedBeforeDrain(t *testing.T) {
	src := &heldSource{entered: make(chan struct{}), release: make(chan struct{})}
	cfg := testConfig(t, syncconfig.SyncConfig{AutoStart: true, Interval: 60})
	cfg.HTTP.Disabled = false
	cfg.HTTP.Listen = "127.0.0.1:0"

	a := New(cfg, nil, WithSource(src))
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-src.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never reached the source")
	}
	startURL := "http://" + a.Addr().String() + "/api/extraction/start"
	sched := a.Scheduler()

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()

	// Stop is now draining the held cycle.
	deadline := time.Now().Add(5 * time.Second)
	for sched.State() != scheduler.Stopped {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never stopped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if resp, err := http.Post(startURL, "application/json", strings.NewReader(`{"interval":60}`)); err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			t.Error("start request served while stopping")
		}
	}

	close(src.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	if st := sched.State(); st != scheduler.Stopped {
		t.Fatalf("after Stop: scheduler %v", st)
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("source calls after Stop: got %d, want 1", n)
	}
}

func TestStart_ListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	cfg := testConfig(t, syncconfig.SyncConfig{AutoStart: true, Interval: 60})
	cfg.HTTP.Disabled = false
	cfg.HTTP.Listen = taken.Addr().String()

	a := New(cfg, nil, WithSource(extractor.StaticSource(dashboard)))
	err = a.Start(context.Background())
	if err == nil {
		a.Stop()
		t.Fatal("Start succeeded on a taken port")
	}
	if !strings.Contains(err.Error(), "listen") {
		t.Errorf("error: %v", err)
	}
	if a.Addr() != nil {
		t.Error("agent reports an address after a failed listen")
	}
	if st := a.Scheduler().State(); st != scheduler.Stopped {
		t.Errorf("scheduler %v after failed start", st)
	}
}
