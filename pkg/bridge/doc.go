// Package bridge binds the notification subscriber to the realtime delivery
// tier. It registers one handler per notification type; each handler checks
// the payload's required fields and calls the matching Broadcaster method.
//
//	b := bridge.New(manager, bridge.WithLogger(log))
//	if err := b.Register(ctx, subscriber); err != nil {
//		return err
//	}
//
// A payload missing a required field is logged with the field name and never
// reaches the Broadcaster. Broadcaster errors are returned so the subscriber
// records them as handler failures.
package bridge
