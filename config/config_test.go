package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/consowatch/internal/browser"
	"github.com/hazyhaar/consowatch/mutation"
	"github.com/hazyhaar/consowatch/reading"
	"github.com/hazyhaar/consowatch/syncconfig"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "consowatch.yaml")
	data := `
page:
  url: https://my.netatmo.com/app/energy
  stealth: headful
  marker: value-box
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/abc
  block_resources: [images, fonts]
mqtt:
  broker: tcp://localhost:1883
stdout: true
history:
  retention: 720h
sync:
  server_url: https://example.org/ingest
  auto_send: true
  interval: 30
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Page.URL != "https://my.netatmo.com/app/energy" || cfg.Page.Marker != "value-box" {
		t.Errorf("page: %+v", cfg.Page)
	}
	if lvl, _ := cfg.StealthLevel(); lvl != browser.LevelHeadful {
		t.Errorf("stealth: got %v", lvl)
	}
	if cfg.Page.Selectors != reading.DefaultSelectors() {
		t.Errorf("selectors: %+v", cfg.Page.Selectors)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" || !cfg.Stdout {
		t.Errorf("sinks: mqtt=%+v stdout=%v", cfg.MQTT, cfg.Stdout)
	}
	want := syncconfig.SyncConfig{ServerURL: "https://example.org/ingest", AutoSend: true, Interval: 30, AutoStart: true}
	if cfg.Sync != want {
		t.Errorf("sync: got %+v, want %+v", cfg.Sync, want)
	}
	if cfg.History.Retention != 720*time.Hour || cfg.History.FlushInterval != 5*time.Second {
		t.Errorf("history: %+v", cfg.History)
	}
	bc := cfg.BrowserManagerConfig()
	if bc.RemoteURL == "" || len(bc.BlockResources) != 2 {
		t.Errorf("browser: %+v", bc)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("page:\n  url: http://localhost/\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Page.Stealth != "headless" || cfg.Page.Marker != mutation.DefaultMarker {
		t.Errorf("page defaults: %+v", cfg.Page)
	}
	if cfg.Store.Path == "" || cfg.HTTP.Listen == "" {
		t.Errorf("store/http defaults: %+v %+v", cfg.Store, cfg.HTTP)
	}
	if cfg.Sync != syncconfig.Defaults() {
		t.Errorf("sync: got %+v", cfg.Sync)
	}
}

func TestParse_PartialSelectors(t *testing.T) {
	cfg, err := Parse([]byte("page:\n  selectors:\n    line: div.line\n"))
	if err != nil {
		t.Fatal(err)
	}
	// Parser fills the remaining fields itself.
	if cfg.Page.Selectors.Line != "div.line" || cfg.Page.Selectors.Name != "" {
		t.Errorf("selectors: %+v", cfg.Page.Selectors)
	}
	p := reading.NewParser(cfg.Page.Selectors)
	if p.Selectors().Name != reading.DefaultSelectors().Name {
		t.Errorf("parser selectors: %+v", p.Selectors())
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, data := range []string{
		"page:\n  stealth: invisible\n",
		"sync:\n  server_url: ftp://example.org\n",
		"page: [",
	} {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("%q: expected error", data)
		}
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if lvl, err := cfg.StealthLevel(); err != nil || lvl != browser.LevelHeadless {
		t.Errorf("stealth: %v %v", lvl, err)
	}
}
