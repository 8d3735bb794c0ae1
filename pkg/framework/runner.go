package framework

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/golang/glog"
)

// Runner starts Runnables in the background and collects their errors.
type Runner struct {
	Context context.Context

	count  int
	errCh  chan error
	exitCh chan struct{}
	cancel context.CancelFunc
}

// NewRunner creates a Runner on a background context.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a Runner on ctx. The first task which stops
// cancels the rest.
func NewRunnerWith(ctx context.Context) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		Context: ctx,
		errCh:   make(chan error),
		exitCh:  make(chan struct{}),
		cancel:  cancel,
	}
}

// HandleSignals stops the tasks on SIGINT or SIGTERM. A second signal
// makes Wait return immediately.
func (r *Runner) HandleSignals() *Runner {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		glog.Infof("%v received, stopping", sig)
		r.cancel()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(r.exitCh)
	}()
	return r
}

// Go starts the tasks.
func (r *Runner) Go(tasks ...Runnable) *Runner {
	for _, task := range tasks {
		name := nameOf(task, strconv.Itoa(r.count))
		r.count++
		glog.V(4).Infof("start task %s", name)
		go func(task Runnable, name string) {
			err := task.Run(r.Context)
			glog.V(4).Infof("task %s stopped: %v", name, err)
			r.cancel()
			r.errCh <- err
		}(task, name)
	}
	return r
}

// Stop cancels all tasks.
func (r *Runner) Stop() {
	r.cancel()
}

// Wait blocks until all started tasks stopped. Cancellation is not
// reported as an error.
func (r *Runner) Wait() error {
	var errs AggregatedError
	for n := 0; n < r.count; n++ {
		select {
		case <-r.exitCh:
			return ErrForcedExit
		case err := <-r.errCh:
			if !errors.Is(err, context.Canceled) {
				errs.Add(err)
			}
		}
	}
	r.count = 0
	return errs.Aggregate()
}

// RunWithCloser runs fn which doesn't take a context. closer is closed
// when ctx is done to unblock fn, or after fn returns.
func RunWithCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			if err := closer.Close(); err != nil {
				glog.V(4).Infof("close: %v", err)
			}
		})
	}
	defer closeFn()

	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		closeFn()
		<-errCh
		return ctx.Err()
	}
}
