package exception

import "errors"

var (
	ErrFeedInvalidTick = errors.New("feed: invalid tick")
	ErrFeedStaleTick   = errors.New("feed: stale tick dropped")
	ErrFeedClosed      = errors.New("feed: closed")
)
