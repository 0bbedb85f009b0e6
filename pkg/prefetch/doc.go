// Package prefetch warms the oda-reader caches for a list of requests.
//
// A Warmer runs the requests through a bounded worker pool. Each download
// goes through the normal cache tiers, so the shared rate limiter still
// bounds the request rate whatever the pool size; the pool only bounds how
// many downloads are parsed and cached at once.
//
// Example usage:
//
//	w := prefetch.NewWarmer(reader, prefetch.DefaultConfig(), nil)
//	results, err := w.Warm(ctx, []oda.Request{oda.NewRequest(oda.DAC1)})
//
// Failed requests do not stop the others; Warm returns every result and an
// error summarising the failures.
package prefetch
