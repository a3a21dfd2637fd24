// Package realtime is the delivery tier for task notifications: it keeps live
// WebSocket clients, tracks which tasks and webtoons each client follows, and
// pushes updates to them.
//
// Manager implements bridge.Broadcaster. Every task ("task:<id>") and every
// webtoon ("webtoon:<id>") is a channel of a broadcast.Hub; each followed
// resource is one hub subscription whose messages are copied into the
// client's outbound queue. A client whose queue is full is disconnected.
// Rendered webtoon HTML goes to the followers of the task and of the webtoon,
// once per client.
//
// Handler serves the WebSocket protocol. After the upgrade the client gets
//
//	{"type":"connection_established","client_id":"...","message":"Connected to SketchDojo WebSocket"}
//
// and may send ping, subscribe_task, unsubscribe_task, subscribe_webtoon,
// unsubscribe_webtoon and get_status messages. Subscriptions are confirmed
// with resource_type and resource_id. Task updates arrive as task_update
// (progress, completed, failed) and webtoon_updated messages.
package realtime
