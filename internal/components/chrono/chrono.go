package chrono

import "time"

// API is the interface that anything depending on the system clock should use.
type API interface {
	Now() time.Time
}

// StandardImpl is the standard implementation of API using the standard library.
type StandardImpl struct{}

// NewStandardImpl is the constructor of StandardImpl.
func NewStandardImpl() StandardImpl {
	return StandardImpl{}
}

func (StandardImpl) Now() time.Time {
	return time.Now()
}

// Fixed is an API that always returns the same instant, it can be moved with Set.
type Fixed struct {
	now time.Time
}

// NewFixed creates a Fixed clock pinned at now.
func NewFixed(now time.Time) *Fixed {
	return &Fixed{now: now}
}

func (f *Fixed) Now() time.Time {
	return f.now
}

// Set moves the clock to now.
func (f *Fixed) Set(now time.Time) {
	f.now = now
}
