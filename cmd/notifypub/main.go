// Command notifypub publishes one task notification to Redis. Worker scripts
// use it to report progress without linking the publisher library.
//
//	notifypub --type sketchdojo:task_progress --payload '{"task_id":"t1","progress":40,"message":"inking"}'
package main

import (
	"context"
	"os"

	"github.com/sketchdojo/notifybridge/pkg/config"
	"github.com/sketchdojo/notifybridge/pkg/logger"
	"github.com/sketchdojo/notifybridge/pkg/notify"
	"github.com/sketchdojo/notifybridge/pkg/redis"
)

func main() {
	var (
		redisCf redis.Config
		notifCf notify.Config
	)
	config.MustLoad(&redisCf)
	config.MustLoad(&notifCf)

	log := logger.New(
		logger.WithTextFormatter(),
		logger.WithOutput(os.Stderr),
		logger.WithLevelName(os.Getenv("LOG_LEVEL")),
	)

	dial := func(ctx context.Context) (*notify.Publisher, error) {
		return notify.NewRedisPublisher(ctx, redisCf,
			append(notifCf.PublisherOptions(), notify.WithPublisherLogger(log))...,
		)
	}

	cmd := newRootCmd(dial)
	cmd.SetOut(os.Stdout)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
