package kafka

import (
	"sync"

	"github.com/IBM/sarama"
)

// offsetTracker marks a claim's offsets only up to the last message whose
// predecessors have all been acknowledged. Acks may arrive from any goroutine
// and in any order; a message acknowledged with an error stays pending and
// holds back the mark so the group redelivers it after a restart or rebalance.
type offsetTracker struct {
	mu      sync.Mutex
	sess    sarama.ConsumerGroupSession
	pending []*trackedMessage
	closed  bool
}

type trackedMessage struct {
	msg  *sarama.ConsumerMessage
	done bool
}

func newOffsetTracker(sess sarama.ConsumerGroupSession) *offsetTracker {
	return &offsetTracker{sess: sess}
}

// track registers msg in delivery order. It must be called from the claim loop
// before the message is handed to the subscriber.
func (t *offsetTracker) track(msg *sarama.ConsumerMessage) *trackedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm := &trackedMessage{msg: msg}
	t.pending = append(t.pending, tm)
	return tm
}

// complete records tm as processed and marks the highest contiguous offset.
// Completions after close are ignored because the session that delivered the
// message is gone.
func (t *offsetTracker) complete(tm *trackedMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || tm.done {
		return
	}
	tm.done = true

	var last *sarama.ConsumerMessage
	for len(t.pending) > 0 && t.pending[0].done {
		last = t.pending[0].msg
		t.pending[0] = nil
		t.pending = t.pending[1:]
	}
	if last != nil {
		t.sess.MarkMessage(last, "")
	}
}

// outstanding reports how many delivered messages are not yet marked.
func (t *offsetTracker) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *offsetTracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.pending = nil
}
