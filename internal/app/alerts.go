package app

import (
	"log"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/events"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/telemetry"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/workout"
)

// Alert announces the end of the running segment. Next is nil when the
// workout ends with it.
type Alert struct {
	Next      *telemetry.SegmentInfo
	Remaining time.Duration
}

// alerter publishes alerts to synchronous listeners, the way a buzzer is
// driven: listeners run on the engine goroutine and must return at once.
type alerter struct {
	logger *log.Logger
	event  *events.CallbackEvent[Alert]
}

var _ workout.Alerter = (*alerter)(nil)

func newAlerter(logger *log.Logger) *alerter {
	return &alerter{
		logger: logger,
		event:  events.NewCallbackEvent[Alert](false),
	}
}

func (a *alerter) SegmentEnding(next *telemetry.SegmentInfo, remaining time.Duration) {
	if next == nil {
		a.logger.Printf("Alert: last segment ends in %v", remaining.Round(time.Second))
	} else {
		a.logger.Printf("Alert: %s %d in %v", next.Type, next.Target, remaining.Round(time.Second))
	}
	a.event.Notify(Alert{Next: next, Remaining: remaining})
}
