package behavior

import (
	"time"
)

// Observer receives engine events, e.g. for metrics. Methods are called from
// the tick goroutine, except AsyncCompleted and WakeRequested, which may be
// called from any goroutine.
type Observer interface {
	TickCompleted(tree string, tick uint64, status Status, elapsed time.Duration)
	WakeRequested(tree string)
	AsyncCompleted(tree, node string, elapsed time.Duration, err error)
	GuardError(tree, node string, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) TickCompleted(string, uint64, Status, time.Duration) {}
func (NopObserver) WakeRequested(string) {}
func (NopObserver) AsyncCompleted(string, string, time.Duration, error) {}
func (NopObserver) GuardError(string, string, error) {}
