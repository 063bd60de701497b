package syncconfig

import "testing"

func TestDefaults(t *testing.T) {
	d := Defaults()
	if !d.AutoStart || d.AutoSend || d.Interval != 5 || d.ServerURL != "" {
		t.Fatalf("defaults: got %+v", d)
	}
}

func TestNormalize(t *testing.T) {
	for _, in := range []int{0, -3} {
		if got := (SyncConfig{Interval: in}).Normalize().Interval; got != DefaultInterval {
			t.Errorf("Normalize(%d): got %d", in, got)
		}
	}
	if got := (SyncConfig{Interval: 30}).Normalize().Interval; got != 30 {
		t.Errorf("Normalize(30): got %d", got)
	}
}

func TestRemote(t *testing.T) {
	tests := []struct {
		cfg  SyncConfig
		want bool
	}{
		{SyncConfig{AutoSend: true, ServerURL: "http://x/y"}, true},
		{SyncConfig{AutoSend: true}, false},
		{SyncConfig{AutoSend: false, ServerURL: "http://x/y"}, false},
	}
	for _, tt := range tests {
		if _, ok := tt.cfg.Remote(); ok != tt.want {
			t.Errorf("Remote(%+v): got %v, want %v", tt.cfg, ok, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	good := []string{"", "http://x/y", "https://example.com:8443/ingest"}
	for _, u := range good {
		if err := (SyncConfig{ServerURL: u}).Validate(); err != nil {
			t.Errorf("Validate(%q): %v", u, err)
		}
	}
	bad := []string{"ftp://x/y", "/relative", "http://"}
	for _, u := range bad {
		if err := (SyncConfig{ServerURL: u}).Validate(); err == nil {
			t.Errorf("Validate(%q): want error", u)
		}
	}
}
