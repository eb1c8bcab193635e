package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/harun/phonepilot/pkg/action"
	"github.com/harun/phonepilot/pkg/device"
	"github.com/harun/phonepilot/pkg/dispatch"
	"github.com/harun/phonepilot/pkg/session"
)

var errBoom = errors.New("boom")

// scriptedProvider answers each call with the next script entry. An entry
// is either a string (streamed in two chunks), an error, or nil, which
// blocks until ctx ends.
type scriptedProvider struct {
	name string

	mu       sync.Mutex
	script   []any
	requests []LLMRequest
}

func (p *scriptedProvider) Provider() string { return p.name }

func (p *scriptedProvider) Stream(ctx context.Context, req LLMRequest) iter.Seq2[string, error] {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var next any
	if len(p.script) > 0 {
		next = p.script[0]
		p.script = p.script[1:]
	}
	p.mu.Unlock()

	return func(yield func(string, error) bool) {
		switch v := next.(type) {
		case string:
			half := len(v) / 2
			if !yield(v[:half], nil) {
				return
			}
			yield(v[half:], nil)
		case error:
			yield("", v)
		default:
			<-ctx.Done()
			yield("", ctx.Err())
		}
	}
}

func (p *scriptedProvider) calls() []LLMRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LLMRequest(nil), p.requests...)
}

type staticFactory map[string]LLMProvider

func (f staticFactory) NewProvider(profile AuthProfile) (LLMProvider, error) {
	p, ok := f[profile.ID]
	if !ok {
		return nil, fmt.Errorf("no provider for %s", profile.ID)
	}
	return p, nil
}

type recordingDispatcher struct {
	mu      sync.Mutex
	calls   []action.Do
	sizes   [][2]int
	results map[string]dispatch.Result
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, _ string, do action.Do, width, height int) (dispatch.Result, error) {
	if err := session.Err(ctx); err != nil {
		return dispatch.Result{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, do)
	d.sizes = append(d.sizes, [2]int{width, height})
	if res, ok := d.results[do.Name]; ok {
		return res, nil
	}
	return dispatch.Result{Success: true, Backend: device.KindLocal}, nil
}

func (d *recordingDispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	for i, c := range d.calls {
		out[i] = c.Name
	}
	return out
}

type fixedObserver struct {
	obs Observation
}

func (o fixedObserver) Observe(ctx context.Context, _ string) (Observation, error) {
	if err := session.Err(ctx); err != nil {
		return Observation{}, err
	}
	return o.obs, nil
}

type displayLog struct {
	mu       sync.Mutex
	prepared []string
	released []string
	err      error
}

func (d *displayLog) Prepare(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prepared = append(d.prepared, id)
	return d.err
}

func (d *displayLog) Release(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = append(d.released, id)
}

type overlayCounter struct {
	mu    sync.Mutex
	shown int
}

func (o *overlayCounter) Hide(context.Context, string) {}

func (o *overlayCounter) Show(context.Context, string) {
	o.mu.Lock()
	o.shown++
	o.mu.Unlock()
}

type reportLog struct {
	mu       sync.Mutex
	steps    []StepOutcome
	finished []string
}

func (r *reportLog) StepCompleted(_ context.Context, out StepOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, out)
}

func (r *reportLog) RunFinished(_ context.Context, sessionID, message string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, sessionID+": "+message)
}

type remoteOn bool

func (f remoteOn) RemoteDisplayEnabled() bool { return bool(f) }
