package framework

import "context"

// Named is implemented by things which can report a name for logging.
type Named interface {
	Name() string
}

// Runnable is a long running task which stops when the context is done.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun attaches a name to a Runnable.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{Runnable: runnable, name: name}
}

// NamedFunc attaches a name to a RunFunc.
func NamedFunc(name string, fn func(context.Context) error) Runnable {
	return NamedRun(name, RunFunc(fn))
}

func nameOf(r Runnable, fallback string) string {
	if named, ok := r.(Named); ok {
		return named.Name()
	}
	return fallback
}
