package dispatcher

import (
	"time"

	"github.com/isdmx/codelab/protocol"
)

// pendingCall is a one-shot slot for the result of a single execution.
// Only the party that removed the call from the registry may settle it.
type pendingCall struct {
	ch    chan protocol.ExecutionResult
	start time.Time
}

func newPendingCall() *pendingCall {
	return &pendingCall{
		ch:    make(chan protocol.ExecutionResult, 1),
		start: time.Now(),
	}
}

func (p *pendingCall) settle(res protocol.ExecutionResult) {
	p.ch <- res
}

func (p *pendingCall) wait() protocol.ExecutionResult {
	return <-p.ch
}
