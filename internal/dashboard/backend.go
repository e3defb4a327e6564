// Package dashboard is the terminal front end: device rows, live telemetry,
// the workout engine status and the program list, driven by single keys.
package dashboard

import (
	"context"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/app"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/device"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/telemetry"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/workout"
)

// Backend is what the dashboard reads and drives.
type Backend interface {
	DeviceStatuses() []device.Status
	Snapshot() telemetry.Snapshot
	EngineStatus() workout.Status
	Programs() []workout.Parameters
	TrainerInfo() app.TrainerInfo
	RecentSessions(ctx context.Context, limit int) ([]workout.Session, error)
	OnAlert(callback func(app.Alert)) func()

	ToggleWanted(t device.Type)
	Put(cmd workout.Command) bool
}

var _ Backend = (*app.App)(nil)
