package engine_test

import (
	"context"
	"sync"

	"github.com/poltergeist/summon/internal/engine"
	"github.com/poltergeist/summon/pkg/resolver"
	"github.com/poltergeist/summon/pkg/runner"
	"github.com/poltergeist/summon/pkg/types"
)

// fakeResolver returns a fixed resolution
type fakeResolver struct {
	mu      sync.Mutex
	targets []types.BuildTarget
	errs    []error
	err     error
	calls   int
}

func newFakeResolver(targets ...types.BuildTarget) *fakeResolver {
	return &fakeResolver{targets: targets}
}

func (r *fakeResolver) Resolve(_ context.Context, _ []string) (*resolver.Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	res := &resolver.Resolution{
		Targets: append([]types.BuildTarget(nil), r.targets...),
		Errors:  r.errs,
	}
	if r.err != nil {
		return res, r.err
	}
	return res, nil
}

func (r *fakeResolver) set(targets ...types.BuildTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = targets
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeRunner hands out scripted processes
type fakeRunner struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	targets  []types.BuildTarget
	spawnErr error
	// honorGraceful makes processes exit with -1 on a graceful kill
	honorGraceful bool
}

func (r *fakeRunner) Run(target types.BuildTarget, onData runner.DataFunc, onExit runner.ExitFunc) (runner.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.targets = append(r.targets, target)
	if r.spawnErr != nil {
		return nil, r.spawnErr
	}
	p := &fakeProcess{
		pid:           1000 + len(r.procs),
		onData:        onData,
		onExit:        onExit,
		done:          make(chan struct{}),
		honorGraceful: r.honorGraceful,
	}
	r.procs = append(r.procs, p)
	return p, nil
}

func (r *fakeRunner) last() *fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.procs) == 0 {
		return nil
	}
	return r.procs[len(r.procs)-1]
}

func (r *fakeRunner) runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}

func (r *fakeRunner) lastTarget() types.BuildTarget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targets[len(r.targets)-1]
}

// fakeProcess lets a test emit output and decide when and how the process exits
type fakeProcess struct {
	mu            sync.Mutex
	pid           int
	onData        runner.DataFunc
	onExit        runner.ExitFunc
	exited        bool
	reported      bool
	kills         []bool
	honorGraceful bool
	done          chan struct{}
}

func (p *fakeProcess) Kill(graceful bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return nil
	}
	p.kills = append(p.kills, graceful)
	if !graceful || p.honorGraceful {
		p.exited = true
		// The controller holds its lock while killing
		go p.report(-1)
	}
	return nil
}

func (p *fakeProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) emit(s string) {
	p.onData([]byte(s))
}

// exit marks the process exited and reports the code
func (p *fakeProcess) exit(code int) {
	p.markExited()
	p.report(code)
}

// markExited simulates a process that has exited but whose exit has not been reported yet
func (p *fakeProcess) markExited() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
}

func (p *fakeProcess) report(code int) {
	p.mu.Lock()
	if p.reported {
		p.mu.Unlock()
		return
	}
	p.reported = true
	p.mu.Unlock()

	p.onExit(code)
	close(p.done)
}

func (p *fakeProcess) killCalls() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.kills...)
}

// eventLog records controller events
type eventLog struct {
	mu     sync.Mutex
	events []engine.Event
}

func (l *eventLog) record(e engine.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t engine.EventType) []engine.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []engine.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) states() []types.BuildState {
	var out []types.BuildState
	for _, e := range l.ofType(engine.EventStateChanged) {
		out = append(out, e.State)
	}
	return out
}

// sequence returns event types except ticks and refreshes, in delivery order
func (l *eventLog) sequence() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		switch e.Type {
		case engine.EventStateChanged:
			out = append(out, string(e.State))
		case engine.EventOutputReceived:
			out = append(out, "output:"+string(e.Data))
		}
	}
	return out
}
