package bridge

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// Gather runs tasks concurrently and waits for all of them. Every failure
// is kept: the result combines them in argument order, or is nil if all
// succeeded. Use multierr.Errors to split it.
func Gather(ctx context.Context, tasks ...Task) error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = task(ctx)
		}()
	}
	wg.Wait()
	return multierr.Combine(errs...)
}
