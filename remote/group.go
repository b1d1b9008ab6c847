package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// MaxParallel bounds the number of hosts worked on at once by Each.
var MaxParallel = 16

// Each calls fn for every host concurrently and waits for all of them. A
// failing host does not stop the others; all failures are returned
// together, ordered by host.
func Each(ctx context.Context, hosts []string, fn func(ctx context.Context, host string) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	g.SetLimit(MaxParallel)
	for _, host := range hosts {
		host := host
		g.Go(func() error {
			if err := fn(ctx, host); err != nil {
				mu.Lock()
				errs[host] = err
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	if len(errs) == 0 {
		return nil
	}
	failed := make([]string, 0, len(errs))
	for host := range errs {
		failed = append(failed, host)
	}
	sort.Strings(failed)
	var result *multierror.Error
	for _, host := range failed {
		result = multierror.Append(result, errs[host])
	}
	if len(failed) == 1 {
		return errs[failed[0]]
	}
	return result
}
