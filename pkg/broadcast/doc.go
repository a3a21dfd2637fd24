// Package broadcast provides type-safe in-process fan-out over named channels.
//
// A Hub keeps a set of subscriptions per channel. Publish copies a message
// into the buffered queue of every subscription of the channel and reports
// how many took it. A subscription that stays full for longer than the slow
// consumer timeout is closed rather than allowed to stall the publisher.
//
// Basic usage:
//
//	hub := broadcast.NewHub[Event](broadcast.HubConfig{DefaultBufferSize: 32})
//	defer hub.Close()
//
//	sub, err := hub.Subscribe(ctx, "task-42")
//	if err != nil {
//		return err
//	}
//	defer sub.Close()
//
//	go func() {
//		for msg := range sub.Messages() {
//			fmt.Println(msg.Payload)
//		}
//	}()
//
//	n, err := hub.Publish(ctx, "task-42", Event{Kind: "progress"})
//
// Subscriptions end when their context is cancelled, when Close is called or
// when the hub is closed; in every case Messages is closed.
package broadcast
