package state

import "errors"

var (
	// ErrNoData is returned before the first successful poll.
	ErrNoData = errors.New("state: no flight data received yet")
	// ErrStale is returned when flight data has not been updated within the stale threshold.
	ErrStale = errors.New("state: flight data is stale")
)
