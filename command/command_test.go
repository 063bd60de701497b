package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/consowatch/reading"
	"github.com/hazyhaar/consowatch/scheduler"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		payload string
		want    Command
	}{
		{`{"action":"START_EXTRACTION","interval":10}`, StartExtraction{Interval: 10}},
		{`{"action":"START_EXTRACTION"}`, StartExtraction{Interval: 5}},
		{`{"action":"START_EXTRACTION","interval":0}`, StartExtraction{Interval: 5}},
		{`{"action":"STOP_EXTRACTION"}`, StopExtraction{}},
		{`{"action":"GET_DATA"}`, GetData{}},
	}
	for _, tt := range tests {
		got, err := Decode([]byte(tt.payload))
		if err != nil {
			t.Errorf("%s: %v", tt.payload, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %#v, want %#v", tt.payload, got, tt.want)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`{"action":"REBOOT"}`))
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("unknown action: got %v", err)
	}
	_, err = Decode([]byte(`{}`))
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("missing action: got %v", err)
	}
	if _, err := Decode([]byte(`not json`)); err == nil || errors.Is(err, ErrUnknownAction) {
		t.Errorf("malformed: got %v", err)
	}
}

func TestEncode(t *testing.T) {
	b, err := Encode(StartExtraction{Interval: 7})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"action":"START_EXTRACTION","interval":7}` {
		t.Errorf("got %s", b)
	}
	b, _ = Encode(StopExtraction{})
	if string(b) != `{"action":"STOP_EXTRACTION"}` {
		t.Errorf("got %s", b)
	}
}

type fakeScheduler struct {
	mu       sync.Mutex
	state    scheduler.State
	interval time.Duration
	starts   []int
	stops    int
}

func (f *fakeScheduler) Start(n int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, n)
	if f.state == scheduler.Running {
		return false
	}
	f.state = scheduler.Running
	f.interval = time.Duration(n) * time.Second
	return true
}

func (f *fakeScheduler) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.state == scheduler.Stopped {
		return false
	}
	f.state = scheduler.Stopped
	return true
}

func (f *fakeScheduler) State() scheduler.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeScheduler) Interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

type fakeExtractor struct {
	snap  reading.Snapshot
	err   error
	calls int
}

func (f *fakeExtractor) Extract(context.Context) (reading.Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

func (f *fakeExtractor) FindNamed(_ context.Context, name string) (reading.Reading, bool, error) {
	if f.err != nil {
		return reading.Reading{}, false, f.err
	}
	for _, d := range f.snap.Devices {
		if d.Name == name {
			return d, true, nil
		}
	}
	return reading.Reading{}, false, nil
}

func testSnapshot() reading.Snapshot {
	return reading.Snapshot{
		Timestamp: "2024-03-01T10:00:00.000Z",
		Devices: []reading.Reading{
			{Name: "Nevera", Value: reading.Numeric(12.5), Unit: "kWh"},
			{Name: "Enchufe Rack", Value: reading.Numeric(3.2), Unit: "kWh"},
		},
	}
}

func TestHandle_StartStop(t *testing.T) {
	sched := &fakeScheduler{}
	c := NewController(sched, &fakeExtractor{}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp, err := c.Handle(ctx, StartExtraction{Interval: 5})
		if err != nil || resp.Status != "started" {
			t.Fatalf("start #%d: %+v %v", i, resp, err)
		}
	}
	if sched.State() != scheduler.Running || len(sched.starts) != 2 {
		t.Fatalf("scheduler: %v starts=%v", sched.State(), sched.starts)
	}

	for i := 0; i < 2; i++ {
		resp, err := c.Handle(ctx, StopExtraction{})
		if err != nil || resp.Status != "stopped" {
			t.Fatalf("stop #%d: %+v %v", i, resp, err)
		}
	}
	if sched.State() != scheduler.Stopped {
		t.Fatal("still running")
	}
}

func TestHandle_GetDataIsFresh(t *testing.T) {
	ext := &fakeExtractor{snap: testSnapshot()}
	sched := &fakeScheduler{}
	c := NewController(sched, ext, nil)

	resp, err := c.Handle(context.Background(), GetData{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Data == nil || len(resp.Data.Devices) != 2 || ext.calls != 1 {
		t.Fatalf("resp: %+v calls=%d", resp, ext.calls)
	}
	if sched.State() != scheduler.Stopped {
		t.Error("GET_DATA must not touch the scheduler")
	}

	ext.err = errors.New("tab closed")
	if _, err := c.Handle(context.Background(), GetData{}); err == nil {
		t.Fatal("expected extraction error")
	}
}

func TestHandleMessage(t *testing.T) {
	c := NewController(&fakeScheduler{}, &fakeExtractor{snap: testSnapshot()}, nil)
	ctx := context.Background()

	out, err := c.HandleMessage(ctx, []byte(`{"action":"START_EXTRACTION","interval":5}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"status":"started"}` {
		t.Errorf("start: got %s", out)
	}

	out, err = c.HandleMessage(ctx, []byte(`{"action":"GET_DATA"}`))
	if err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Data reading.Snapshot `json:"data"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("decode %s: %v", out, err)
	}
	if resp.Data.Timestamp != "2024-03-01T10:00:00.000Z" || len(resp.Data.Devices) != 2 {
		t.Errorf("data: %+v", resp.Data)
	}

	if _, err := c.HandleMessage(ctx, []byte(`{"action":"NOPE"}`)); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("unknown: got %v", err)
	}
}
