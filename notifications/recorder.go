package notifications

import (
	"context"
	"sync"
)

// Recorder captures messages in memory, for tests.
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
}

func (r *Recorder) Notify(_ context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, msg)
}

func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, m.Kind)
	}
	return out
}

func (r *Recorder) Has(kind Kind) bool {
	for _, k := range r.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
