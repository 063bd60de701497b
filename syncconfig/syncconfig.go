// Package syncconfig holds the runtime sync settings shared by the
// scheduler and the dispatcher.
package syncconfig

import (
	"fmt"
	"net/url"
)

// DefaultInterval is the extraction interval in seconds.
const DefaultInterval = 5

// SyncConfig is the persisted sync record. ServerURL and AutoSend are read
// on every cycle; AutoStart and Interval only at startup.
type SyncConfig struct {
	ServerURL string `json:"serverUrl" yaml:"server_url"`
	AutoSend  bool   `json:"autoSend" yaml:"auto_send"`
	Interval  int    `json:"interval" yaml:"interval"`
	AutoStart bool   `json:"autoStart" yaml:"auto_start"`
}

// Defaults returns the install-time configuration.
func Defaults() SyncConfig {
	return SyncConfig{
		ServerURL: "",
		AutoSend:  false,
		Interval:  DefaultInterval,
		AutoStart: true,
	}
}

// Normalize clamps Interval to at least one second, falling back to the
// default for unset values.
func (c SyncConfig) Normalize() SyncConfig {
	if c.Interval < 1 {
		c.Interval = DefaultInterval
	}
	return c
}

// Validate rejects a ServerURL that is set but not an absolute http(s) URL.
func (c SyncConfig) Validate() error {
	if c.ServerURL == "" {
		return nil
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("syncconfig: server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("syncconfig: server url %q: scheme must be http or https", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("syncconfig: server url %q: missing host", c.ServerURL)
	}
	return nil
}

// Remote returns the endpoint to POST to and whether a send should happen.
// AutoSend without a ServerURL is a closed gate, not an error.
func (c SyncConfig) Remote() (string, bool) {
	if !c.AutoSend || c.ServerURL == "" {
		return "", false
	}
	return c.ServerURL, true
}
