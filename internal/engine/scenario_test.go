//go:build !windows

package engine_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/summon/internal/engine"
	"github.com/poltergeist/summon/pkg/logger"
	"github.com/poltergeist/summon/pkg/resolver"
	"github.com/poltergeist/summon/pkg/types"
)

// newProjectController resolves real configuration from dir and runs real processes
func newProjectController(t *testing.T, dir string, opts engine.Options) (*engine.Controller, *eventLog) {
	t.Helper()
	opts.ProjectDirs = []string{dir}
	// No HomeDir: the developer's own configuration must not leak in
	deps := engine.NewDependencyFactory(logger.NewNopLogger()).
		WithResolverOptions(resolver.Options{}).
		CreateDefaults()
	c := engine.New(opts, nil, deps)
	log := &eventLog{}
	c.Subscribe(log.record)
	t.Cleanup(c.Close)
	return c, log
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".summon.json"), []byte(content), 0o644))
	return dir
}

func TestScenario_NodeOutputWithoutLineBreak(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not installed")
	}
	dir := writeConfig(t, `{"cmd": "node", "args": ["-e", "process.stdout.write('data without linebreak')"], "sh": false}`)
	c, _ := newProjectController(t, dir, engine.Options{})

	c.Trigger(context.Background())
	res, err := wait(t, c)

	require.NoError(t, err)
	assert.Equal(t, types.BuildStateSuccess, res.State)
	assert.Contains(t, c.Sink().String(), "data without linebreak")
}

func TestScenario_OutputWithoutLineBreak(t *testing.T) {
	dir := writeConfig(t, `{"cmd": "printf", "args": ["data without linebreak"], "sh": false}`)
	c, _ := newProjectController(t, dir, engine.Options{})

	c.Trigger(context.Background())
	res, err := wait(t, c)

	require.NoError(t, err)
	assert.Equal(t, types.BuildStateSuccess, res.State)
	assert.Equal(t, "data without linebreak", c.Sink().String())
	assert.Equal(t, len("data without linebreak"), res.OutputLength)
}

func TestScenario_FailingCommand(t *testing.T) {
	dir := writeConfig(t, `{"cmd": "echo this will fail && exit 1"}`)
	c, _ := newProjectController(t, dir, engine.Options{})

	c.Trigger(context.Background())
	res, err := wait(t, c)

	require.ErrorIs(t, err, engine.ErrNonZeroExit)
	assert.Equal(t, types.BuildStateError, res.State)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, types.ErrorKindNonZeroExit, res.Kind)
	assert.Equal(t, "this will fail\n", c.Sink().String())
}

func TestScenario_MarkupPreserved(t *testing.T) {
	dir := writeConfig(t, `{"cmd": "printf", "args": ["<script type=\"text/javascript\">alert('XSS!')</script>&amp;"], "sh": false}`)
	c, log := newProjectController(t, dir, engine.Options{})

	c.Trigger(context.Background())
	_, err := wait(t, c)
	require.NoError(t, err)

	want := `<script type="text/javascript">alert('XSS!')</script>&amp;`
	assert.Equal(t, want, c.Sink().String())

	require.Eventually(t, func() bool { return len(log.states()) == 2 }, eventuallyMax, 5*time.Millisecond)
	var streamed strings.Builder
	for _, e := range log.ofType(engine.EventOutputReceived) {
		streamed.Write(e.Data)
	}
	assert.Equal(t, want, streamed.String(), "events carry the same bytes as the sink")
}

func TestScenario_InterleavedStreams(t *testing.T) {
	dir := writeConfig(t, `{"cmd": "printf out1; printf err1 >&2; printf out2; printf err2 >&2"}`)
	c, _ := newProjectController(t, dir, engine.Options{})

	c.Trigger(context.Background())
	_, err := wait(t, c)
	require.NoError(t, err)

	assert.Equal(t, "out1err1out2err2", c.Sink().String())
}

func TestScenario_NoConfiguration(t *testing.T) {
	c, _ := newProjectController(t, t.TempDir(), engine.Options{})

	res := c.Trigger(context.Background())

	assert.Equal(t, types.BuildStateError, res.State)
	assert.Equal(t, types.ErrorKindConfigurationNotFound, res.Kind)
	assert.Contains(t, c.Sink().String(), "no build configuration found")
}

func TestScenario_MissingExecutable(t *testing.T) {
	dir := writeConfig(t, `{"cmd": "summon-definitely-missing-command", "sh": false}`)
	c, _ := newProjectController(t, dir, engine.Options{})

	res := c.Trigger(context.Background())

	assert.Equal(t, types.BuildStateError, res.State)
	assert.Equal(t, types.ErrorKindSpawnFailure, res.Kind)
	assert.Contains(t, c.Sink().String(), "summon-definitely-missing-command")
}

func TestScenario_SingleStopIgnoredDoubleStopKills(t *testing.T) {
	dir := writeConfig(t, `{"cmd": "trap '' INT; echo ready; sleep 30"}`)
	c, _ := newProjectController(t, dir, engine.Options{})

	c.Trigger(context.Background())
	require.Eventually(t, func() bool {
		return strings.Contains(c.Sink().String(), "ready")
	}, eventuallyMax, 10*time.Millisecond)

	c.Stop()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, types.BuildStateRunning, c.State(), "child ignores the interrupt")

	c.Stop()
	res, err := wait(t, c)
	assert.ErrorIs(t, err, engine.ErrUserStopped)
	assert.Equal(t, types.BuildStateStopped, res.State)
	assert.Equal(t, types.ErrorKindUserStopped, res.Kind)
}

func TestScenario_SingleStopHonored(t *testing.T) {
	dir := writeConfig(t, `{"cmd": "echo ready; sleep 30"}`)
	c, _ := newProjectController(t, dir, engine.Options{})

	c.Trigger(context.Background())
	require.Eventually(t, func() bool {
		return strings.Contains(c.Sink().String(), "ready")
	}, eventuallyMax, 10*time.Millisecond)

	c.Stop()
	res, err := wait(t, c)
	assert.ErrorIs(t, err, engine.ErrUserStopped)
	assert.Equal(t, types.BuildStateStopped, res.State)
}

func TestScenario_TimerMonotonicAndFrozen(t *testing.T) {
	dir := writeConfig(t, `{"cmd": "sleep 0.2"}`)
	c, log := newProjectController(t, dir, engine.Options{TickInterval: 10 * time.Millisecond})

	c.Trigger(context.Background())
	var samples []time.Duration
	for c.State() == types.BuildStateRunning {
		samples = append(samples, c.Elapsed())
		time.Sleep(5 * time.Millisecond)
	}
	res, err := wait(t, c)
	require.NoError(t, err)

	for i := 1; i < len(samples); i++ {
		assert.GreaterOrEqual(t, samples[i], samples[i-1])
	}
	assert.GreaterOrEqual(t, res.Elapsed, 200*time.Millisecond)

	frozen := c.Elapsed()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, c.Elapsed())

	require.Eventually(t, func() bool { return len(log.states()) == 2 }, eventuallyMax, 5*time.Millisecond)
	assert.NotEmpty(t, log.ofType(engine.EventElapsedTick))
}

func TestScenario_NestedTargetSelection(t *testing.T) {
	dir := writeConfig(t, `{
		"name": "default",
		"cmd": "printf default",
		"targets": {
			"release": {"cmd": "printf \"$MODE\"", "env": {"MODE": "release"}, "postpone": true}
		}
	}`)
	c, _ := newProjectController(t, dir, engine.Options{})

	require.NoError(t, c.SelectTarget("release"))
	c.Trigger(context.Background())
	_, err := wait(t, c)
	require.NoError(t, err)

	assert.Equal(t, "release", c.Sink().String())
}
