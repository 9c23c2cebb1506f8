package sink_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/summon/pkg/sink"
)

func TestBuffer_AppendIsVerbatim(t *testing.T) {
	tests := []struct {
		name   string
		chunks [][]byte
	}{
		{"no trailing newline", [][]byte{[]byte("data without linebreak")}},
		{"markup", [][]byte{[]byte(`<script type="text/javascript">alert('XSS!')</script>` + "\n")}},
		{"control characters", [][]byte{{0x1b, '[', '3', '1', 'm'}, {'\r', 0x00, 0x07}, []byte("&amp;\t")}},
		{"split multibyte rune", [][]byte{{0xe2, 0x9c}, {0x85, '\n'}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := sink.New()
			var want []byte
			for _, chunk := range tt.chunks {
				buf.Append(chunk)
				want = append(want, chunk...)
			}

			assert.Equal(t, want, buf.Bytes())
			assert.Equal(t, len(want), buf.Len())
		})
	}
}

func TestBuffer_AttachReplaysThenForwards(t *testing.T) {
	buf := sink.New()
	buf.Append([]byte("before "))

	var got bytes.Buffer
	detach := buf.Attach(func(chunk []byte) {
		got.Write(chunk)
	})

	buf.Append([]byte("after"))
	assert.Equal(t, "before after", got.String())

	detach()
	buf.Append([]byte(" detached"))
	assert.Equal(t, "before after", got.String())
	assert.Equal(t, "before after detached", buf.String())
}

func TestBuffer_AttachEmptyDoesNotReplay(t *testing.T) {
	buf := sink.New()
	calls := 0
	buf.Attach(func([]byte) { calls++ })
	assert.Equal(t, 0, calls)
}

func TestBuffer_ObserverOwnsChunk(t *testing.T) {
	buf := sink.New()
	var kept []byte
	buf.Attach(func(chunk []byte) {
		kept = chunk
	})

	src := []byte("abc")
	buf.Append(src)
	src[0] = 'X'
	kept[1] = 'Y'

	assert.Equal(t, "abc", buf.String())
}

func TestBuffer_Clear(t *testing.T) {
	buf := sink.New()
	buf.Append([]byte("stale output"))
	buf.Clear()

	assert.Zero(t, buf.Len())
	assert.Empty(t, buf.Bytes())

	buf.Append([]byte("fresh"))
	assert.Equal(t, "fresh", buf.String())
}

func TestBuffer_WriterInterface(t *testing.T) {
	buf := sink.New()
	n, err := buf.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, buf.Len())
}

func TestBuffer_ConcurrentAppendKeepsAllBytes(t *testing.T) {
	buf := sink.New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf.Append([]byte("x"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, buf.Len())
}

func TestBuffer_ObserversSeeAttachOrder(t *testing.T) {
	buf := sink.New()
	var order []string
	buf.Attach(func([]byte) { order = append(order, "first") })
	buf.Attach(func([]byte) { order = append(order, "second") })

	buf.Append([]byte("x"))
	assert.Equal(t, []string{"first", "second"}, order)
}
