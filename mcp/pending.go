package mcp

import (
	"sync"
	"sync/atomic"
)

// callResult carries either a server response or a transport-level error to
// the goroutine waiting on a request.
type callResult struct {
	resp *response
	err  error
}

// pendingCalls is the request-correlation table shared by all transport
// implementations. Each outbound request registers a channel under its ID;
// the transport's reader resolves it when the matching response arrives.
// Teardown flushes every entry with an error so callers never hang.
type pendingCalls struct {
	mu     sync.Mutex
	nextID atomic.Int64
	calls  map[int64]chan callResult
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[int64]chan callResult)}
}

// next returns a correlation ID unique within the transport's lifetime.
func (p *pendingCalls) next() int64 {
	return p.nextID.Add(1)
}

// register creates the result channel for id. The channel is buffered so
// the reader goroutine never blocks on delivery.
func (p *pendingCalls) register(id int64) chan callResult {
	ch := make(chan callResult, 1)
	p.mu.Lock()
	p.calls[id] = ch
	p.mu.Unlock()
	return ch
}

// remove drops the entry for id, if still present.
func (p *pendingCalls) remove(id int64) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// resolve delivers a response to the waiting caller. It reports whether a
// pending call with that ID existed; messages with no match are inbound
// notifications and belong on the notification stream instead.
func (p *pendingCalls) resolve(resp *response) bool {
	p.mu.Lock()
	ch, ok := p.calls[resp.ID]
	if ok {
		delete(p.calls, resp.ID)
	}
	p.mu.Unlock()
	if ok {
		ch <- callResult{resp: resp}
	}
	return ok
}

// failAll rejects every in-flight call with err and clears the table.
func (p *pendingCalls) failAll(err error) {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[int64]chan callResult)
	p.mu.Unlock()

	for _, ch := range calls {
		ch <- callResult{err: err}
	}
}
