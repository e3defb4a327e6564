package app

import (
	"context"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/workout"
)

// autoSave saves a workout that sits in END for longer than grace, unless the
// operator saved or discarded it first.
func (a *App) autoSave(ctx context.Context, grace time.Duration) {
	ch := make(chan workout.Status, 32)
	unregister := a.Engine.ListenStatus(ch)
	defer unregister()

	var (
		timer   *time.Timer
		timeout <-chan time.Time
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
			timer, timeout = nil, nil
		}
	}
	defer disarm()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-ch:
			if s.State != workout.StateEnd {
				disarm()
				continue
			}
			if timer == nil {
				a.logger.Printf("App: Workout ended, saving in %v unless saved or discarded", grace)
				timer = time.NewTimer(grace)
				timeout = timer.C
			}
		case <-timeout:
			timer, timeout = nil, nil
			if a.Engine.Status().State == workout.StateEnd {
				a.logger.Printf("App: Saving ended workout")
				a.Engine.Put(workout.Save{})
			}
		}
	}
}
