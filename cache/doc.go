// Package cache provides a keyed read-through cache that coalesces
// concurrent loads for the same key.
//
// [Cache] guarantees at most one outstanding load per key: callers that
// arrive while a load is in flight wait for it and receive the identical
// outcome, in the order they arrived. Successful results are kept with the
// time the load was issued and served to later callers whose per-call TTL
// still considers them fresh. Failures are propagated to every waiter and
// never cached, so the next call retries.
//
//	c, _ := cache.New[any](cache.WithDefaultTTL(5 * time.Second))
//	payload, err := c.Fetch(ctx, url, func(ctx context.Context) (any, error) {
//	    return client.Get(ctx, url)
//	}, 0)
//
// The cache keeps entries for its whole lifetime; it is meant for a small,
// fixed set of hot keys such as the handful of endpoints a dashboard polls.
package cache
