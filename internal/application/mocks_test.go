package application_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"valetudo-home/internal/infra/valetudo"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRobot struct {
	mu     sync.Mutex
	calls  []string
	errs   map[string][]error
	status valetudo.Result
}

func newFakeRobot() *fakeRobot {
	return &fakeRobot{
		errs:   make(map[string][]error),
		status: valetudo.Result{"state": float64(8), "battery": float64(100), "fan_power": float64(60)},
	}
}

// failNext queues errors returned by successive calls to method.
func (f *fakeRobot) failNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = append(f.errs[method], errs...)
}

func (f *fakeRobot) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRobot) record(call, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if queued := f.errs[method]; len(queued) > 0 {
		f.errs[method] = queued[1:]
		return queued[0]
	}
	return nil
}

func (f *fakeRobot) ok(call, method string) (valetudo.Result, error) {
	if err := f.record(call, method); err != nil {
		return nil, err
	}
	return valetudo.Result{"result": "ok"}, nil
}

func (f *fakeRobot) Token(_ context.Context) (string, error) {
	if err := f.record("Token", "Token"); err != nil {
		return "", err
	}
	return "abc123", nil
}

func (f *fakeRobot) Status(_ context.Context) (valetudo.Result, error) {
	if err := f.record("Status", "Status"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeRobot) ConsumableStatus(_ context.Context) (valetudo.Result, error) {
	return f.ok("ConsumableStatus", "ConsumableStatus")
}

func (f *fakeRobot) Volume(_ context.Context) (valetudo.Result, error) {
	if err := f.record("Volume", "Volume"); err != nil {
		return nil, err
	}
	return valetudo.Result{"volume": float64(80)}, nil
}

func (f *fakeRobot) SetVolume(_ context.Context, volume int) (valetudo.Result, error) {
	return f.ok(fmt.Sprintf("SetVolume(%d)", volume), "SetVolume")
}

func (f *fakeRobot) TestVolume(_ context.Context) (valetudo.Result, error) {
	return f.ok("TestVolume", "TestVolume")
}

func (f *fakeRobot) Find(_ context.Context) (valetudo.Result, error) {
	return f.ok("Find", "Find")
}

func (f *fakeRobot) StartCleaning(_ context.Context) (valetudo.Result, error) {
	return f.ok("StartCleaning", "StartCleaning")
}

func (f *fakeRobot) PauseCleaning(_ context.Context) (valetudo.Result, error) {
	return f.ok("PauseCleaning", "PauseCleaning")
}

func (f *fakeRobot) StopCleaning(_ context.Context) (valetudo.Result, error) {
	return f.ok("StopCleaning", "StopCleaning")
}

func (f *fakeRobot) SendHome(_ context.Context) (valetudo.Result, error) {
	return f.ok("SendHome", "SendHome")
}

func (f *fakeRobot) GoTo(_ context.Context, x, y int) (valetudo.Result, error) {
	return f.ok(fmt.Sprintf("GoTo(%d,%d)", x, y), "GoTo")
}

func (f *fakeRobot) SetFanSpeed(_ context.Context, speed int) (valetudo.Result, error) {
	return f.ok(fmt.Sprintf("SetFanSpeed(%d)", speed), "SetFanSpeed")
}

func (f *fakeRobot) StartSpotCleaning(_ context.Context) (valetudo.Result, error) {
	return f.ok("StartSpotCleaning", "StartSpotCleaning")
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(_ context.Context, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordingNotifier) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

type published struct {
	Topic    string
	Payload  string
	Retained bool
}

type fakeBus struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]func([]byte)
	closed    bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]func([]byte))}
}

func (b *fakeBus) Publish(topic string, payload []byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{Topic: topic, Payload: string(payload), Retained: retained})
	return nil
}

func (b *fakeBus) Subscribe(topic string, handler func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *fakeBus) deliver(topic, payload string) {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h != nil {
		h([]byte(payload))
	}
}

func (b *fakeBus) on(topic string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}
