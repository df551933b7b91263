package runner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/util/workqueue"
)

// Episode is one seed of one repeat.
type Episode struct {
	Seed   int
	Repeat int
}

// Pool plays episodes concurrently off a work queue.
type Pool struct {
	workers int
}

func NewPool(workers int) *Pool {
	return &Pool{workers: max(workers, 1)}
}

// Run hands every episode to play and returns the results in the order of
// episodes. Cancelling ctx stops handing out episodes; episodes already
// running see the cancellation through their own ctx.
func (p *Pool) Run(ctx context.Context, episodes []Episode, play func(context.Context, Episode) Result) ([]Result, error) {
	queue := workqueue.NewTypedWithConfig(workqueue.TypedQueueConfig[Episode]{
		Name: "episodes",
	})
	index := make(map[Episode]int, len(episodes))
	for i, ep := range episodes {
		index[ep] = i
		queue.Add(ep)
	}

	var (
		mu      sync.Mutex
		results = make([]Result, len(episodes))
	)

	g, ctx := errgroup.WithContext(ctx)
	for range min(p.workers, max(len(episodes), 1)) {
		g.Go(func() error {
			for {
				ep, shutdown := queue.Get()
				if shutdown {
					return nil
				}
				result := play(ctx, ep)
				queue.Done(ep)

				mu.Lock()
				results[index[ep]] = result
				mu.Unlock()
			}
		})
	}

	g.Go(func() error {
		// Drain lets the workers finish what is queued; cancellation drops it.
		done := make(chan struct{})
		go func() {
			queue.ShutDownWithDrain()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			queue.ShutDown()
			return ctx.Err()
		}
	})

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
