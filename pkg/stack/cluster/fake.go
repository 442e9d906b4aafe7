package cluster

import (
	"context"
	"strings"
	"sync"

	"kubemin-stack/pkg/stack/manifest"
)

// FakeClient is an in-memory Client that records every call. Applied
// resources become present; units turn ready after ReadyAfter polls
// (negative means never).
type FakeClient struct {
	mu sync.Mutex

	PingErr    error
	ApplyErrs  map[string]error
	ReadyErrs  map[string]error
	ReadyAfter map[string]int

	// Calls holds "apply <ID>" and "ready <unit>" entries in call order.
	Calls []string

	present map[string]bool
	polls   map[string]int
}

var _ Client = &FakeClient{}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		ApplyErrs:  map[string]error{},
		ReadyErrs:  map[string]error{},
		ReadyAfter: map[string]int{},
		present:    map[string]bool{},
		polls:      map[string]int{},
	}
}

func (f *FakeClient) Ping(context.Context) error {
	return f.PingErr
}

func (f *FakeClient) Apply(_ context.Context, res manifest.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := manifest.ID(res)
	f.Calls = append(f.Calls, "apply "+id)
	if err := f.ApplyErrs[id]; err != nil {
		return err
	}
	f.present[id] = true
	return nil
}

func (f *FakeClient) Ready(_ context.Context, unit *manifest.ServiceUnit) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "ready "+unit.Name)
	f.polls[unit.Name]++
	if err := f.ReadyErrs[unit.Name]; err != nil {
		return false, err
	}
	after, ok := f.ReadyAfter[unit.Name]
	if !ok {
		return true, nil
	}
	return after >= 0 && f.polls[unit.Name] >= after, nil
}

func (f *FakeClient) Exists(_ context.Context, res manifest.Resource) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[manifest.ID(res)], nil
}

// MarkPresent makes Exists report the resource without an Apply call.
func (f *FakeClient) MarkPresent(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.present[id] = true
	}
}

// Applied returns the IDs passed to Apply, in order.
func (f *FakeClient) Applied() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		if id, ok := strings.CutPrefix(c, "apply "); ok {
			out = append(out, id)
		}
	}
	return out
}

// Polls returns how often Ready was called for unit.
func (f *FakeClient) Polls(unit string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[unit]
}

// Reset clears recorded calls and poll counters, keeping configured behaviour.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = nil
	f.polls = map[string]int{}
}
