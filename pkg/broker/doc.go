// Package broker abstracts the publish/subscribe transport that connects
// notification producers (background workers) with the subscriber running in
// the request-serving tier.
//
// A Client publishes raw bodies to named channels and opens PubSub cursors. A
// PubSub tracks the channels it is subscribed to and hands out one message at
// a time through Receive, which waits at most the given timeout so callers can
// notice shutdown promptly.
//
// Two implementations are provided:
//
//   - Redis, backed by github.com/redis/go-redis/v9 PUBLISH/SUBSCRIBE. Use it
//     across process boundaries.
//   - Memory, an in-process bus with the same semantics (fire-and-forget,
//     per-channel ordering, slow receivers lose messages). Use it in tests and
//     single-process setups.
//
// Dialer values let consumers create (and re-create after failures) their own
// Client lazily:
//
//	dial := broker.RedisDialer(redisCfg)
//	client, err := dial(ctx)
package broker
