package command

import "context"

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, spec Spec) (Result, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, spec Spec) (Result, error) {
	return f(ctx, spec)
}

// FakeRunner is a Runner for tests. It records every invocation and
// answers through the optional Hook; without a Hook every command
// succeeds with empty output.
type FakeRunner struct {
	Calls []Spec
	Hook  func(spec Spec) (Result, error)
}

// Run implements Runner.
func (f *FakeRunner) Run(_ context.Context, spec Spec) (Result, error) {
	f.Calls = append(f.Calls, spec)
	if f.Hook != nil {
		return f.Hook(spec)
	}
	return Result{}, nil
}

// CommandLines renders the recorded invocations, one command line each.
func (f *FakeRunner) CommandLines() []string {
	lines := make([]string, len(f.Calls))
	for i, call := range f.Calls {
		lines[i] = call.String()
	}
	return lines
}
