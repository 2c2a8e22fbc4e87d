package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloud-shuttle/muster/internal/phase"
	"github.com/cloud-shuttle/muster/pkg/types"
)

// FakeAgent is a scripted Agent for tests. Results are consumed per
// issue/phase key in order; once a key's script is exhausted the last
// result repeats. An unscripted key succeeds with a plain pass.
type FakeAgent struct {
	mu      sync.Mutex
	scripts map[string][]*Result
	cursor  map[string]int

	// Calls records every request in execution order
	Calls []Request
}

// NewFakeAgent creates an empty fake. Every call succeeds until scripted
// otherwise.
func NewFakeAgent() *FakeAgent {
	return &FakeAgent{
		scripts: make(map[string][]*Result),
		cursor:  make(map[string]int),
	}
}

func fakeKey(issueID string, ph phase.Name) string {
	return issueID + "/" + string(ph)
}

// Script queues results for one issue/phase pair
func (f *FakeAgent) Script(issueID string, ph phase.Name, results ...*Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fakeKey(issueID, ph)
	f.scripts[key] = append(f.scripts[key], results...)
}

// FailOnce is shorthand for one failure followed by a pass
func (f *FakeAgent) FailOnce(issueID string, ph phase.Name, msg string) {
	f.Script(issueID, ph,
		&Result{Status: StatusFailure, Output: msg, Err: fmt.Errorf("%s", msg)},
		&Result{Status: StatusSuccess, Verdict: types.VerdictPass},
	)
}

// AlwaysFail scripts nothing but failures for one issue/phase pair
func (f *FakeAgent) AlwaysFail(issueID string, ph phase.Name, msg string) {
	f.Script(issueID, ph,
		&Result{Status: StatusFailure, Output: msg, Err: fmt.Errorf("%s", msg)},
	)
}

// Execute returns the next scripted result for the request's issue/phase
func (f *FakeAgent) Execute(_ context.Context, req *Request) *Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, *req)

	key := fakeKey(req.IssueID, req.Phase)
	script := f.scripts[key]
	if len(script) == 0 {
		return &Result{Status: StatusSuccess, Verdict: types.VerdictPass, Duration: time.Millisecond}
	}
	i := f.cursor[key]
	if i >= len(script) {
		i = len(script) - 1
	} else {
		f.cursor[key]++
	}
	res := *script[i]
	if res.Duration == 0 {
		res.Duration = time.Millisecond
	}
	return &res
}

// CheckInstalled always succeeds for the fake
func (f *FakeAgent) CheckInstalled() error { return nil }

// SetVerbose is a no-op for the fake
func (f *FakeAgent) SetVerbose(bool) {}

// CallCount returns how many times one issue/phase pair was executed
func (f *FakeAgent) CallCount(issueID string, ph phase.Name) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c.IssueID == issueID && c.Phase == ph {
			n++
		}
	}
	return n
}
