// Package notify fans out background-task notifications across processes.
//
// Workers publish typed notifications with a Publisher; the request-serving
// tier receives them through a Subscriber and forwards them to live clients.
// Each notification Type is its own broker channel and travels as a JSON
// envelope:
//
//	{"type": "sketchdojo:task_progress", "payload": {"task_id": "t1", "progress": 42.5, "message": "rendering"}}
//
// Publishing is fail-open. Publish never panics and never returns an error;
// it logs the problem and reports false so worker code keeps going.
//
//	pub, err := notify.NewRedisPublisher(ctx, redisCfg)
//	if err != nil {
//		return err
//	}
//	defer pub.Close()
//
//	pub.Send(ctx, notify.TaskProgress{TaskID: id, Progress: 42.5, Message: "rendering"})
//
// A Subscriber owns one broker cursor and a handler registry. Handlers for a
// type run sequentially in registration order; an error or panic in one is
// logged and does not affect the next handler or the next message.
//
//	sub := notify.NewRedisSubscriber(redisCfg, notify.WithLogger(log))
//	_ = sub.RegisterHandler(ctx, notify.TypeTaskFailed, func(ctx context.Context, raw json.RawMessage) error {
//		p, err := notify.Decode[notify.TaskFailed](raw)
//		if err != nil {
//			return err
//		}
//		return forward(ctx, p)
//	})
//	if err := sub.Start(ctx); err != nil {
//		return err
//	}
//	defer sub.Stop(context.Background())
//
// Delivery is at most once. Messages for a type without handlers, from unknown
// channels or with a malformed body are logged and dropped.
//
// When the delivery loop fails (for example the broker connection resets) a
// supervisor reopens the cursor and resubscribes after an exponential delay.
// The delay resets after each delivered message. When one failure burst uses
// up the restart budget the subscriber stops itself and releases the
// connection; a later Start begins again.
package notify
