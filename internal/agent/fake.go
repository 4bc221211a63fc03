package agent

import (
	"context"
	"sync"
)

// FakeBackend is a scriptable in-process backend used by tests and demo
// recordings. Each Start consumes the next scripted invocation.
type FakeBackend struct {
	mu      sync.Mutex
	scripts []FakeInvocation
	started []StartParams
	// Block, when set, makes invocations wait for cancellation instead of
	// playing a script. Used to exercise cancel paths.
	Block bool
}

// FakeInvocation is one scripted agent run.
type FakeInvocation struct {
	Chunks []ChunkEvent
	Usage  UsageTotals
}

// NewFakeBackend returns an empty fake. Unscripted invocations complete
// immediately with no output.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{}
}

// Script appends a scripted invocation.
func (b *FakeBackend) Script(inv FakeInvocation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts = append(b.scripts, inv)
}

// Started returns the params of every Start call so far.
func (b *FakeBackend) Started() []StartParams {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StartParams, len(b.started))
	copy(out, b.started)
	return out
}

func (b *FakeBackend) next() FakeInvocation {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.scripts) == 0 {
		return FakeInvocation{Chunks: []ChunkEvent{{Kind: ChunkCompleted}}}
	}
	script := b.scripts[0]
	b.scripts = b.scripts[1:]
	return script
}

func (b *FakeBackend) Start(ctx context.Context, params StartParams) (*Invocation, error) {
	b.mu.Lock()
	b.started = append(b.started, params)
	block := b.Block
	b.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	inv := newInvocation(cancel)

	if block {
		go func() {
			defer close(inv.chunks)
			<-runCtx.Done()
			inv.chunks <- ChunkEvent{Kind: ChunkCancelled}
		}()
		return inv, nil
	}

	script := b.next()
	go func() {
		defer close(inv.chunks)
		for _, chunk := range script.Chunks {
			select {
			case <-runCtx.Done():
				inv.chunks <- ChunkEvent{Kind: ChunkCancelled}
				return
			case inv.chunks <- chunk:
			}
		}
		inv.setUsage(script.Usage)
	}()
	return inv, nil
}
