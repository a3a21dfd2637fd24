// Package environment names the deployment environment the bridge runs in and
// carries it through context.Context so log records and HTTP handlers can see it.
//
//	env := environment.Parse(os.Getenv("APP_ENV"))
//	router.Use(environment.Middleware(env))
//	log := logger.New(logger.WithContextExtractors(environment.LoggerExtractor()))
package environment
