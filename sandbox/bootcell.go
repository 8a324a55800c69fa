package sandbox

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// BootCell lazily boots a shared resource exactly once. Concurrent first
// callers share the in-flight boot, and the outcome, including a failure,
// is memoized for every later caller.
type BootCell[T any] struct {
	boot   func(ctx context.Context) (T, error)
	onBoot func(err error)
	group  singleflight.Group

	mu   sync.Mutex
	done bool
	val  T
	err  error
}

// NewBootCell creates a cell that calls boot on first use. onBoot, if not
// nil, observes the single boot outcome.
func NewBootCell[T any](boot func(ctx context.Context) (T, error), onBoot func(err error)) *BootCell[T] {
	return &BootCell[T]{boot: boot, onBoot: onBoot}
}

// Get returns the booted resource, booting it if needed. The boot is not
// canceled when ctx is.
func (c *BootCell[T]) Get(ctx context.Context) (T, error) {
	if val, ok, err := c.result(); ok {
		return val, err
	}

	_, _, _ = c.group.Do("boot", func() (any, error) {
		if _, ok, _ := c.result(); ok {
			return nil, nil
		}

		val, err := c.boot(context.WithoutCancel(ctx))

		c.mu.Lock()
		c.val, c.err, c.done = val, err, true
		c.mu.Unlock()

		if c.onBoot != nil {
			c.onBoot(err)
		}
		return nil, nil
	})

	val, _, err := c.result()
	return val, err
}

// Ready reports whether the resource booted successfully.
func (c *BootCell[T]) Ready() bool {
	_, ok, err := c.result()
	return ok && err == nil
}

func (c *BootCell[T]) result() (T, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val, c.done, c.err
}
