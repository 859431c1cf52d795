//go:build property
// +build property

package watcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("one event per distinct path, sorted", prop.ForAll(
		func(ids []int) bool {
			if len(ids) == 0 || len(ids) > 90 {
				return true
			}
			debouncer := newDebouncer(50 * time.Millisecond)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go debouncer.start(ctx)

			distinct := make(map[string]bool)
			for _, id := range ids {
				path := fmt.Sprintf("pkg%02d.k", id)
				distinct[path] = true
				debouncer.events <- ChangeEvent{Path: path}
			}

			select {
			case events := <-debouncer.output:
				if len(events) != len(distinct) {
					return false
				}
				for i := 1; i < len(events); i++ {
					if events[i-1].Path >= events[i].Path {
						return false
					}
				}
				return true
			case <-time.After(time.Second):
				return false
			}
		},
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.TestingRun(t)
}
