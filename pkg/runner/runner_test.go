//go:build !windows

package runner_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/summon/pkg/runner"
	"github.com/poltergeist/summon/pkg/types"
)

type capture struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	exits int32
	code  int32
}

func (c *capture) onData(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(chunk)
}

func (c *capture) onExit(code int) {
	atomic.AddInt32(&c.exits, 1)
	atomic.StoreInt32(&c.code, int32(code))
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *capture) waitFor(t *testing.T, substr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Contains(c.String(), substr)
	}, 5*time.Second, 10*time.Millisecond, "output never contained %q", substr)
}

func runTarget(t *testing.T, target types.BuildTarget) (runner.Process, *capture) {
	t.Helper()
	c := &capture{}
	r := runner.New(nil)
	proc, err := r.Run(target, c.onData, c.onExit)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = proc.Kill(false)
		<-proc.Done()
	})
	return proc, c
}

func waitDone(t *testing.T, proc runner.Process) {
	t.Helper()
	select {
	case <-proc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit in time")
	}
}

func TestRun_OutputWithoutLineBreak(t *testing.T) {
	proc, c := runTarget(t, types.BuildTarget{
		Cmd:  "printf",
		Args: []string{"data without linebreak"},
	})
	waitDone(t, proc)

	assert.Equal(t, "data without linebreak", c.String())
	assert.EqualValues(t, 0, atomic.LoadInt32(&c.code))
	assert.EqualValues(t, 1, atomic.LoadInt32(&c.exits))
}

func TestRun_PartialChunkDeliveredWhileRunning(t *testing.T) {
	proc, c := runTarget(t, types.BuildTarget{
		Cmd:   "printf partial; sleep 30",
		Shell: true,
	})

	c.waitFor(t, "partial")
	assert.False(t, proc.Exited())

	require.NoError(t, proc.Kill(false))
	waitDone(t, proc)
	assert.EqualValues(t, -1, atomic.LoadInt32(&c.code))
}

func TestRun_MarkupPreserved(t *testing.T) {
	proc, c := runTarget(t, types.BuildTarget{
		Cmd:   `echo "<script type=\"text/javascript\">alert('XSS!')</script>"`,
		Shell: true,
	})
	waitDone(t, proc)

	assert.Equal(t, `<script type="text/javascript">alert('XSS!')</script>`+"\n", c.String())
}

func TestRun_StdoutAndStderrInterleaved(t *testing.T) {
	proc, c := runTarget(t, types.BuildTarget{
		Cmd:   "printf one; printf two >&2; printf three",
		Shell: true,
	})
	waitDone(t, proc)

	assert.Equal(t, "onetwothree", c.String())
}

func TestRun_ControlCharactersVerbatim(t *testing.T) {
	proc, c := runTarget(t, types.BuildTarget{
		Cmd:   `printf '\033[31mred\033[0m\r\n\a&lt;'`,
		Shell: true,
	})
	waitDone(t, proc)

	assert.Equal(t, "\x1b[31mred\x1b[0m\r\n\a&lt;", c.String())
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		code int32
	}{
		{"success", "true", 0},
		{"failure", "echo this will fail && exit 1", 1},
		{"custom", "exit 42", 42},
		{"missing command in shell", "summon-definitely-missing-command", 127},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc, c := runTarget(t, types.BuildTarget{Cmd: tt.cmd, Shell: true})
			waitDone(t, proc)
			assert.Equal(t, tt.code, atomic.LoadInt32(&c.code))
			assert.EqualValues(t, 1, atomic.LoadInt32(&c.exits))
		})
	}
}

func TestRun_ShellJoinsArgs(t *testing.T) {
	proc, c := runTarget(t, types.BuildTarget{
		Cmd:   "echo",
		Args:  []string{"joined", "&&", "echo", "again"},
		Shell: true,
	})
	waitDone(t, proc)

	assert.Equal(t, "joined\nagain\n", c.String())
}

func TestRun_DirectDoesNotInterpret(t *testing.T) {
	proc, c := runTarget(t, types.BuildTarget{
		Cmd:  "echo",
		Args: []string{"a", "&&", "$HOME"},
	})
	waitDone(t, proc)

	assert.Equal(t, "a && $HOME\n", c.String())
}

func TestRun_SpawnFailure(t *testing.T) {
	r := runner.New(nil)
	exits := 0
	proc, err := r.Run(types.BuildTarget{Cmd: "summon-definitely-missing-command"},
		func([]byte) {}, func(int) { exits++ })

	require.Error(t, err)
	assert.Nil(t, proc)
	assert.Zero(t, exits)

	var spawnErr *runner.SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Contains(t, spawnErr.Error(), "summon-definitely-missing-command")
}

func TestRun_EnvironmentAndWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	proc, c := runTarget(t, types.BuildTarget{
		Cmd:   `printf '%s|' "$SUMMON_TEST_VALUE"; pwd -P`,
		Cwd:   dir,
		Env:   map[string]string{"SUMMON_TEST_VALUE": "overlay"},
		Shell: true,
	})
	waitDone(t, proc)

	assert.Equal(t, "overlay|"+resolved+"\n", c.String())
}

func TestRun_InheritsEnvironment(t *testing.T) {
	t.Setenv("SUMMON_INHERITED", "from-parent")

	proc, c := runTarget(t, types.BuildTarget{
		Cmd:   `printf '%s' "$SUMMON_INHERITED"`,
		Shell: true,
	})
	waitDone(t, proc)

	assert.Equal(t, "from-parent", c.String())
}

func TestKill_GracefulHonored(t *testing.T) {
	proc, c := runTarget(t, types.BuildTarget{
		Cmd:   "echo ready; sleep 30",
		Shell: true,
	})
	c.waitFor(t, "ready")

	require.NoError(t, proc.Kill(true))
	waitDone(t, proc)

	assert.True(t, proc.Exited())
	assert.EqualValues(t, -1, atomic.LoadInt32(&c.code))
}

func TestKill_GracefulIgnoredThenForced(t *testing.T) {
	proc, c := runTarget(t, types.BuildTarget{
		Cmd:   `trap '' INT; echo ready; sleep 30`,
		Shell: true,
	})
	c.waitFor(t, "ready")

	require.NoError(t, proc.Kill(true))
	time.Sleep(300 * time.Millisecond)
	assert.False(t, proc.Exited(), "process should survive an ignored interrupt")

	require.NoError(t, proc.Kill(false))
	waitDone(t, proc)
	assert.EqualValues(t, 1, atomic.LoadInt32(&c.exits))
}

func TestKill_AfterExitIsNoop(t *testing.T) {
	proc, _ := runTarget(t, types.BuildTarget{Cmd: "true", Shell: true})
	waitDone(t, proc)

	assert.NoError(t, proc.Kill(true))
	assert.NoError(t, proc.Kill(false))
	assert.NoError(t, proc.Kill(false))
}

func TestRun_OrphanedGrandchildDoesNotBlockExit(t *testing.T) {
	c := &capture{}
	r := runner.New(nil, runner.WithWaitDelay(200*time.Millisecond))
	proc, err := r.Run(types.BuildTarget{
		Cmd:   "sleep 30 & echo started",
		Shell: true,
	}, c.onData, c.onExit)
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Kill(false) })

	waitDone(t, proc)
	assert.Equal(t, "started\n", c.String())
	assert.EqualValues(t, 0, atomic.LoadInt32(&c.code))
}

func TestWithShell(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	c := &capture{}
	r := runner.New(nil, runner.WithShell("/bin/sh", "-e", "-c"))
	proc, err := r.Run(types.BuildTarget{Cmd: "false; echo unreachable", Shell: true}, c.onData, c.onExit)
	require.NoError(t, err)
	waitDone(t, proc)

	assert.Empty(t, c.String())
	assert.EqualValues(t, 1, atomic.LoadInt32(&c.code))
}
