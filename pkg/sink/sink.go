// Package sink provides the passive output buffer that build output streams into.
//
// The sink stores bytes exactly as they arrive. It never escapes, filters or
// re-encodes content: making control characters or markup safe to display is
// the job of whatever renders the output.
package sink

import (
	"sync"
)

// Observer receives output chunks. The slice is owned by the observer.
// Observers run with the buffer locked and must not call back into it.
type Observer func(chunk []byte)

// Buffer accumulates build output and forwards it to attached observers
type Buffer struct {
	mu        sync.Mutex
	data      []byte
	observers []observerEntry
	nextID    uint64
}

type observerEntry struct {
	id  uint64
	obs Observer
}

// New creates an empty output buffer
func New() *Buffer {
	return &Buffer{}
}

// Append adds bytes verbatim and forwards them to observers in arrival order
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	for _, entry := range b.observers {
		entry.obs(clone(p))
	}
}

// Write implements io.Writer
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// Clear drops all accumulated content
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}

// Len returns the accumulated length in bytes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Bytes returns a copy of the accumulated content
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return clone(b.data)
}

// String returns the accumulated content as a string
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// Attach registers an observer. Content accumulated so far is replayed first,
// so a late renderer sees the same bytes as one attached before the build.
// The returned function detaches the observer.
func (b *Buffer) Attach(obs Observer) (detach func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) > 0 {
		obs(clone(b.data))
	}

	id := b.nextID
	b.nextID++
	b.observers = append(b.observers, observerEntry{id: id, obs: obs})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.observers {
			if entry.id == id {
				b.observers = append(b.observers[:i], b.observers[i+1:]...)
				return
			}
		}
	}
}

func clone(p []byte) []byte {
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
