package broadcast

// ErrHubClosed is returned when operations are attempted on a closed hub
type ErrHubClosed struct{}

func (e ErrHubClosed) Error() string {
	return "broadcast: hub is closed"
}

// ErrEmptyChannel is returned for subscriptions and publishes without a channel name
type ErrEmptyChannel struct{}

func (e ErrEmptyChannel) Error() string {
	return "broadcast: channel name is empty"
}
