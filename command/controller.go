package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/consowatch/reading"
	"github.com/hazyhaar/consowatch/scheduler"
)

// Scheduler is the part of *scheduler.Scheduler the controller drives.
type Scheduler interface {
	Start(intervalSeconds int) bool
	Stop() bool
	State() scheduler.State
	Interval() time.Duration
}

// Extractor performs on-demand reads of the page.
type Extractor interface {
	Extract(ctx context.Context) (reading.Snapshot, error)
	FindNamed(ctx context.Context, name string) (reading.Reading, bool, error)
}

// Controller executes commands against the scheduler and extractor.
type Controller struct {
	sched  Scheduler
	ext    Extractor
	logger *slog.Logger
}

// NewController creates a Controller. logger may be nil.
func NewController(sched Scheduler, ext Extractor, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{sched: sched, ext: ext, logger: logger}
}

// Handle executes cmd. Start and stop always acknowledge, including when
// the scheduler was already in the requested state. GetData extracts
// fresh and does not dispatch the result.
func (c *Controller) Handle(ctx context.Context, cmd Command) (Response, error) {
	switch cmd := cmd.(type) {
	case StartExtraction:
		changed := c.sched.Start(cmd.Interval)
		c.logger.Info("command: start extraction", "interval", cmd.Interval, "changed", changed)
		return Response{Status: "started"}, nil

	case StopExtraction:
		changed := c.sched.Stop()
		c.logger.Info("command: stop extraction", "changed", changed)
		return Response{Status: "stopped"}, nil

	case GetData:
		snap, err := c.ext.Extract(ctx)
		if err != nil {
			return Response{}, fmt.Errorf("command: get data: %w", err)
		}
		return Response{Data: &snap}, nil
	}
	return Response{}, fmt.Errorf("%w: %T", ErrUnknownAction, cmd)
}

// HandleMessage decodes payload, executes it and encodes the response.
func (c *Controller) HandleMessage(ctx context.Context, payload []byte) ([]byte, error) {
	cmd, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.Handle(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}
