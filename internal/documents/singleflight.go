package documents

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// outstandingTimeout bounds a shared outstanding load once it is detached
// from the callers waiting on it.
const outstandingTimeout = 30 * time.Second

var outstandingGroup singleflight.Group

func singleflightOutstanding(ctx context.Context, key string, fn func(context.Context) ([]OutstandingLine, error)) ([]OutstandingLine, error, bool) {
	// The shared computation must not die with whichever caller started it.
	resultChan := outstandingGroup.DoChan(key, func() (interface{}, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outstandingTimeout)
		defer cancel()
		return fn(sharedCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err, res.Shared
		}
		return res.Val.([]OutstandingLine), nil, res.Shared
	}
}
