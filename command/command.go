// Package command decodes and executes the inbound control messages:
// START_EXTRACTION, STOP_EXTRACTION and GET_DATA.
package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/consowatch/reading"
	"github.com/hazyhaar/consowatch/syncconfig"
)

// Action is the message discriminator.
type Action string

const (
	ActionStart   Action = "START_EXTRACTION"
	ActionStop    Action = "STOP_EXTRACTION"
	ActionGetData Action = "GET_DATA"
)

// ErrUnknownAction is returned for a message whose action is not one of
// the three above.
var ErrUnknownAction = errors.New("command: unknown action")

// Command is one of StartExtraction, StopExtraction or GetData.
type Command interface {
	Action() Action
	command()
}

// StartExtraction moves the scheduler to Running with Interval seconds.
type StartExtraction struct {
	Interval int
}

// StopExtraction moves the scheduler to Stopped.
type StopExtraction struct{}

// GetData requests an immediate extraction, bypassing the cache.
type GetData struct{}

func (StartExtraction) Action() Action { return ActionStart }
func (StopExtraction) Action() Action  { return ActionStop }
func (GetData) Action() Action         { return ActionGetData }

func (StartExtraction) command() {}
func (StopExtraction) command()  {}
func (GetData) command()         {}

type message struct {
	Action   Action `json:"action"`
	Interval int    `json:"interval,omitempty"`
}

// Decode parses a message such as {"action":"START_EXTRACTION","interval":5}.
// A missing or non-positive interval takes the default.
func Decode(payload []byte) (Command, error) {
	var m message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("command: decode: %w", err)
	}
	switch m.Action {
	case ActionStart:
		if m.Interval < 1 {
			m.Interval = syncconfig.DefaultInterval
		}
		return StartExtraction{Interval: m.Interval}, nil
	case ActionStop:
		return StopExtraction{}, nil
	case ActionGetData:
		return GetData{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, m.Action)
}

// Encode is the inverse of Decode.
func Encode(c Command) ([]byte, error) {
	m := message{Action: c.Action()}
	if s, ok := c.(StartExtraction); ok {
		m.Interval = s.Interval
	}
	return json.Marshal(m)
}

// Response is the synchronous reply to a command: a status for the
// scheduler commands, a snapshot for GET_DATA.
type Response struct {
	Status string            `json:"status,omitempty"`
	Data   *reading.Snapshot `json:"data,omitempty"`
}
