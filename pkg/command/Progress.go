package command

import (
	"sync"
)

// ProgressUnit is the unit of a progress report percentage
type ProgressUnit string

const (
	// ProgressRelative is a cumulative percentage within one logical sequence
	ProgressRelative ProgressUnit = "RELATIVE"
	// ProgressAbsolute is a standalone percentage of a single operation
	ProgressAbsolute ProgressUnit = "ABSOLUTE"
)

// ProgressReport is pushed by commands to inform the user of progress
type ProgressReport struct {
	Percentage int
	Unit       ProgressUnit
	Label      string
}

// ProgressObserver receives progress reports
type ProgressObserver interface {
	OnProgress(report ProgressReport)
}

// ProgressObserverFunc adapts a function to a ProgressObserver
type ProgressObserverFunc func(report ProgressReport)

func (f ProgressObserverFunc) OnProgress(report ProgressReport) { f(report) }

// ProgressTracker forwards reports to its observers.
// Relative reports never regress and never exceed 100 until the tracker is reset.
type ProgressTracker struct {
	last         int
	nextID       int
	observers    map[int]ProgressObserver
	trackerMutex sync.Mutex
}

// Report clamps and forwards the report. Returns the report as forwarded.
func (tracker *ProgressTracker) Report(report ProgressReport) ProgressReport {
	tracker.trackerMutex.Lock()
	if report.Unit == "" {
		report.Unit = ProgressRelative
	}
	if report.Percentage > 100 {
		report.Percentage = 100
	} else if report.Percentage < 0 {
		report.Percentage = 0
	}
	if report.Unit == ProgressRelative {
		if report.Percentage < tracker.last {
			report.Percentage = tracker.last
		}
		tracker.last = report.Percentage
	}
	observers := make([]ProgressObserver, 0, len(tracker.observers))
	for id := 0; id < tracker.nextID; id++ {
		if obs, found := tracker.observers[id]; found {
			observers = append(observers, obs)
		}
	}
	tracker.trackerMutex.Unlock()

	for _, obs := range observers {
		obs.OnProgress(report)
	}
	return report
}

// Percentage returns the last relative percentage reported
func (tracker *ProgressTracker) Percentage() int {
	tracker.trackerMutex.Lock()
	defer tracker.trackerMutex.Unlock()
	return tracker.last
}

// Reset starts a new logical sequence at 0 percent
func (tracker *ProgressTracker) Reset() {
	tracker.trackerMutex.Lock()
	defer tracker.trackerMutex.Unlock()
	tracker.last = 0
}

// Subscribe adds an observer. Observers are notified in order of subscription.
// The returned function removes the observer again.
func (tracker *ProgressTracker) Subscribe(observer ProgressObserver) (unsubscribe func()) {
	tracker.trackerMutex.Lock()
	defer tracker.trackerMutex.Unlock()
	id := tracker.nextID
	tracker.nextID++
	tracker.observers[id] = observer
	return func() {
		tracker.trackerMutex.Lock()
		defer tracker.trackerMutex.Unlock()
		delete(tracker.observers, id)
	}
}

// NewProgressTracker creates a tracker at 0 percent
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{observers: make(map[int]ProgressObserver)}
}
