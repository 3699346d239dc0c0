package index

import (
	"context"
	"os"
	"sync"

	"github.com/Aman-CERP/chatindex/internal/engine"
	"github.com/Aman-CERP/chatindex/internal/message"
	"github.com/Aman-CERP/chatindex/internal/query"
)

// fakePrimitives records calls and can block or fail any of them.
type fakePrimitives struct {
	mu      sync.Mutex
	calls   []string
	gates   map[string]chan struct{}
	started map[string]chan struct{}
	errs    map[string]error
}

func newFake() *fakePrimitives {
	return &fakePrimitives{
		gates:   make(map[string]chan struct{}),
		started: make(map[string]chan struct{}),
		errs:    make(map[string]error),
	}
}

// block makes op wait until the returned release func is called. The
// returned channel closes when op has started.
func (f *fakePrimitives) block(op string) (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	s := make(chan struct{})
	f.gates[op] = gate
	f.started[op] = s
	return s, func() { close(gate) }
}

func (f *fakePrimitives) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

func (f *fakePrimitives) record(op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	gate := f.gates[op]
	started := f.started[op]
	err := f.errs[op]
	delete(f.gates, op)
	delete(f.started, op)
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakePrimitives) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakePrimitives) count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakePrimitives) EnsureFolder(_ context.Context, path string) error {
	if err := f.record("ensure"); err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

func (f *fakePrimitives) RemoveFolder(_ context.Context, path string) error {
	if err := f.record("remove"); err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func (f *fakePrimitives) CreatePartialIndex(context.Context, string, string, []message.Record) error {
	return f.record("create_partial")
}

func (f *fakePrimitives) MergePartialIndex(context.Context, string, string) error {
	return f.record("merge")
}

func (f *fakePrimitives) IndexRealTime(context.Context, string, []message.Record) error {
	return f.record("index_realtime")
}

func (f *fakePrimitives) Search(context.Context, engine.SearchRequest) (*engine.Result, error) {
	if err := f.record("search"); err != nil {
		return nil, err
	}
	return engine.Empty(), nil
}

func (f *fakePrimitives) DeleteMessages(context.Context, string, string, string, string) error {
	return f.record("delete")
}

func (f *fakePrimitives) RemoveDuplicates(context.Context, string, string) error {
	return f.record("dedupe")
}

func (f *fakePrimitives) LastMessageTimestamp(context.Context, string) (string, error) {
	if err := f.record("last"); err != nil {
		return "", err
	}
	return query.MinimumDate, nil
}

func (f *fakePrimitives) Close() error { return nil }
