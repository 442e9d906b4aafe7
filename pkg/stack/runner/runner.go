package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Result is the outcome of one finished command.
type Result struct {
	Output   string
	ExitCode int
}

// CommandRunner executes external tools.
type CommandRunner interface {
	// LookPath reports the resolved path of name, or an error when it is not on PATH.
	LookPath(name string) (string, error)
	// Run executes args[0] with the remaining args and returns the combined
	// output. A non-zero exit returns both a Result and an error.
	Run(ctx context.Context, args ...string) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

var _ CommandRunner = &ExecRunner{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (r *ExecRunner) Run(ctx context.Context, args ...string) (Result, error) {
	if len(args) == 0 {
		return Result{ExitCode: -1}, errors.New("no command given")
	}
	logger := klog.FromContext(ctx)
	logger.V(4).Info("Running command", "args", args)

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	res := Result{Output: out.String(), ExitCode: exitCode(err)}
	logger.V(5).Info("Command finished", "exitCode", res.ExitCode, "output", res.Output)
	if err != nil {
		return res, fmt.Errorf("%s: %w", args[0], err)
	}
	return res, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// FakeRunner records invocations and replays canned results. Responses are
// keyed by the space-joined command line; unmatched commands succeed.
type FakeRunner struct {
	mu        sync.Mutex
	Missing   map[string]bool
	Responses map[string]FakeResponse
	Calls     [][]string
}

// FakeResponse is the canned outcome of one command line.
type FakeResponse struct {
	Output   string
	ExitCode int
	Err      error
}

var _ CommandRunner = &FakeRunner{}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Missing: map[string]bool{}, Responses: map[string]FakeResponse{}}
}

func (f *FakeRunner) LookPath(name string) (string, error) {
	if f.Missing[name] {
		return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
	}
	return "/usr/bin/" + name, nil
}

func (f *FakeRunner) Run(_ context.Context, args ...string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, append([]string(nil), args...))

	resp, ok := f.Responses[strings.Join(args, " ")]
	if !ok {
		return Result{}, nil
	}
	res := Result{Output: resp.Output, ExitCode: resp.ExitCode}
	if resp.Err != nil {
		return res, resp.Err
	}
	if resp.ExitCode != 0 {
		return res, fmt.Errorf("%s: exit status %d", args[0], resp.ExitCode)
	}
	return res, nil
}

// Commands returns the recorded command lines.
func (f *FakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}
