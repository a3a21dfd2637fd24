// Package redis connects to the Redis server that carries notification
// traffic between background workers and the delivery tier.
//
// It wraps github.com/redis/go-redis/v9 with:
//
//   - Connect, which parses the URL and retries the first PING according to Config.
//   - ParseURL, which validates the single configuration string the broker needs.
//   - Healthcheck, a readiness check suitable for httpserver.ReadinessHandler.
//
// Config fields are populated from the environment (REDIS_URL and friends) by
// pkg/config.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package redis
