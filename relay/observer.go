package relay

import "time"

// Observer receives relay activity for metrics.
type Observer interface {
	Admission(res Result, elapsed time.Duration)
	ConnectionOpened()
	ConnectionClosed(slow bool)
	SubscriptionsChanged(total int)
	Notice(reason string)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) Admission(Result, time.Duration) {}
func (NopObserver) ConnectionOpened()               {}
func (NopObserver) ConnectionClosed(bool)           {}
func (NopObserver) SubscriptionsChanged(int)        {}
func (NopObserver) Notice(string)                   {}
