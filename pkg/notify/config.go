package notify

import "time"

// Config holds the tunables of publishers and subscribers, loadable with pkg/config.
type Config struct {
	PollTimeout     time.Duration `env:"NOTIFY_POLL_TIMEOUT" envDefault:"1s"`       // PollTimeout bounds a single broker read.
	IdleSleep       time.Duration `env:"NOTIFY_IDLE_SLEEP" envDefault:"10ms"`       // IdleSleep is the pause between poll iterations.
	RestartDelay    time.Duration `env:"NOTIFY_RESTART_DELAY" envDefault:"1s"`      // RestartDelay is the first listener restart delay.
	MaxRestartDelay time.Duration `env:"NOTIFY_MAX_RESTART_DELAY" envDefault:"30s"` // MaxRestartDelay caps the exponential restart delay.
	MaxRestarts     int           `env:"NOTIFY_MAX_RESTARTS" envDefault:"10"`       // MaxRestarts per failure burst, 0 means unlimited.
	PublishTimeout  time.Duration `env:"NOTIFY_PUBLISH_TIMEOUT" envDefault:"5s"`    // PublishTimeout bounds one publish round trip.
}

// SubscriberOptions converts the non-zero fields of c into subscriber options.
func (c Config) SubscriberOptions() []SubscriberOption {
	opts := make([]SubscriberOption, 0, 5)
	if c.PollTimeout > 0 {
		opts = append(opts, WithPollTimeout(c.PollTimeout))
	}
	if c.IdleSleep > 0 {
		opts = append(opts, WithIdleSleep(c.IdleSleep))
	}
	if c.RestartDelay > 0 {
		opts = append(opts, WithRestartDelay(c.RestartDelay))
	}
	if c.MaxRestartDelay > 0 {
		opts = append(opts, WithMaxRestartDelay(c.MaxRestartDelay))
	}
	if c.MaxRestarts >= 0 {
		opts = append(opts, WithMaxRestarts(c.MaxRestarts))
	}
	return opts
}

// PublisherOptions converts the non-zero fields of c into publisher options.
func (c Config) PublisherOptions() []PublisherOption {
	if c.PublishTimeout > 0 {
		return []PublisherOption{WithPublishTimeout(c.PublishTimeout)}
	}
	return nil
}
