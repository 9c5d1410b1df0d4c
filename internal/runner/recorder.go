package runner

import (
	"context"
	"strings"
	"sync"
)

// Recorder is a Runner that records every command instead of executing it.
// Tests use it to observe what the pipeline would launch.
type Recorder struct {
	mu    sync.Mutex
	calls []Command

	// OnRun, when set, is called for each Run and its error returned.
	OnRun func(c Command) error
	// OnOutput, when set, answers each Output call.
	OnOutput func(c Command) (string, error)
}

func (r *Recorder) Run(_ context.Context, c Command) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	hook := r.OnRun
	r.mu.Unlock()
	if hook != nil {
		return hook(c)
	}
	return nil
}

func (r *Recorder) Output(_ context.Context, c Command) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	hook := r.OnOutput
	r.mu.Unlock()
	if hook != nil {
		return hook(c)
	}
	return "", nil
}

// Calls returns a copy of the recorded commands in call order.
func (r *Recorder) Calls() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// Matching returns the recorded commands whose name or arguments contain s.
func (r *Recorder) Matching(s string) []Command {
	var out []Command
	for _, c := range r.Calls() {
		if strings.Contains(c.Name, s) || strings.Contains(strings.Join(c.Args, " "), s) {
			out = append(out, c)
		}
	}
	return out
}
