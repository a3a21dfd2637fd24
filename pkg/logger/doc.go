// Package logger builds the *slog.Logger instances used across the notification
// bridge and provides attribute helpers so every component names its log fields
// the same way.
//
// New creates a logger from functional options: output format (json or text),
// minimum level, static attributes and ContextExtractor callbacks. The concrete
// slog handler is wrapped with LogHandlerDecorator which runs the extractors on
// every record.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "notifyd"),
//	    logger.WithLevelName(cfg.LogLevel),
//	    logger.WithContextExtractors(environment.LoggerExtractor()),
//	)
//	logger.SetAsDefault(log)
//
//	log.LogAttrs(ctx, slog.LevelInfo, "published notification",
//	    logger.NotificationType(string(t)),
//	    logger.TaskID(taskID),
//	)
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed unconditionally.
package logger
