package eventbus

import (
	"context"
	"sync"
)

// ConsumeEnvelope drains sub into handler until ctx is cancelled or the
// subscription closes. When wg is non-nil its counter is decremented on
// return, so the call can run as a tracked worker goroutine.
func ConsumeEnvelope[T any](ctx context.Context, sub *TypedSubscription[T], wg *sync.WaitGroup, handler func(TypedEnvelope[T])) {
	if wg != nil {
		defer wg.Done()
	}
	if sub == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			handler(env)
		}
	}
}
