package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/app"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/device"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/ftms"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/telemetry"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/workout"
)

const helpText = "[yellow]h[white]/[yellow]t[white] HR/trainer  [yellow]Enter[white] start  [yellow]f[white] freeride  " +
	"[yellow]p[white] pause  [yellow]r[white] resume  [yellow]e[white] end  [yellow]+/-[white] intensity  " +
	"[yellow]][white]/[yellow][[white] grade  [yellow]s[white] save  [yellow]d[white] discard  [yellow]q[white] quit"

func flag(on bool, label string) string {
	if on {
		return "[green]" + label + "[white]"
	}
	return "[gray]" + label + "[white]"
}

func formatDevices(statuses []device.Status) string {
	var b strings.Builder
	for _, s := range statuses {
		address := s.Address
		if address == "" {
			address = "-"
		}
		fmt.Fprintf(&b, " [yellow]%s[white] %s (%s)\n", s.Type, s.Name, address)
		fmt.Fprintf(&b, "   %s  %s  %s  %s", s.State, flag(s.Wanted, "wanted"), flag(s.Connected, "connected"), flag(s.HoldsScanLock, "scan"))
		if s.DroppedCommands > 0 {
			fmt.Fprintf(&b, "  [red]dropped %d[white]", s.DroppedCommands)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatTrainer(info app.TrainerInfo) string {
	if info.Feature == nil {
		return " [gray]trainer features not read[white]\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, " %s %.0f-%.0f W  %s  %s",
		flag(info.Feature.SupportsTargetPower(), "erg"), info.PowerRange.Min, info.PowerRange.Max,
		flag(info.Feature.SupportsTargetResistance(), "level"), flag(info.Feature.SupportsSimulation(), "grade"))
	if r := info.LastResponse; r != nil {
		color := "green"
		if r.Result != ftms.ResultSuccess {
			color = "red"
		}
		fmt.Fprintf(&b, "  [%s]%s[white]", color, r)
	}
	b.WriteString("\n")
	return b.String()
}

func formatSessions(sessions []workout.Session) string {
	if len(sessions) == 0 {
		return " [gray]No recorded workouts[white]\n"
	}
	var b strings.Builder
	for _, s := range sessions {
		name := s.Program
		if s.Mode == workout.ModeFreeride {
			name = "Freeride"
		}
		saved := ""
		if !s.Saved {
			saved = "  [gray]discarded[white]"
		}
		fmt.Fprintf(&b, " %s  %-16s %s  %.1f km  %.0f W avg%s\n",
			s.StartedAt.Format("Jan 02 15:04"), name, formatClock(s.Duration), s.Distance, s.Average.Power, saved)
	}
	return b.String()
}

// formatClock renders d as H:MM:SS, or MM:SS under an hour.
func formatClock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func formatSnapshot(s telemetry.Snapshot) string {
	var b strings.Builder
	row := func(label, unit string, now, avg, mx float64) {
		fmt.Fprintf(&b, " %-9s [white::b]%6.0f[white::-] %-4s [gray]avg %5.0f  max %5.0f[white]\n", label, now, unit, avg, mx)
	}
	row("Power", "W", s.Momentary.Power, s.Average.Power, s.Max.Power)
	row("Cadence", "rpm", s.Momentary.Cadence, s.Average.Cadence, s.Max.Cadence)
	row("Heart", "bpm", s.Momentary.HeartRate, s.Average.HeartRate, s.Max.HeartRate)
	fmt.Fprintf(&b, " %-9s [white::b]%6.1f[white::-] km/h [gray]avg %5.1f  max %5.1f[white]\n", "Speed", s.Momentary.Speed, s.Average.Speed, s.Max.Speed)
	fmt.Fprintf(&b, " %-9s %6.0f\n", "HR zone", s.Momentary.HRZone)
	fmt.Fprintf(&b, "\n Distance %.2f km   Energy %.0f kJ\n", s.Distance, s.TotalEnergy)
	fmt.Fprintf(&b, " Time %s", formatClock(s.WorkoutTime))
	if s.WorkoutDuration > 0 {
		fmt.Fprintf(&b, " / %s", formatClock(s.WorkoutDuration))
	}
	b.WriteString("\n")
	return b.String()
}

func stateColor(s workout.State) string {
	switch s {
	case workout.StateRunning:
		return "green"
	case workout.StateWarmup, workout.StatePaused:
		return "yellow"
	case workout.StateStop, workout.StateEnd:
		return "red"
	default:
		return "white"
	}
}

func formatEngine(s workout.Status, alert *app.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, " [%s]%s[white]  %s", stateColor(s.State), s.State, s.Mode)
	if s.Program != "" {
		fmt.Fprintf(&b, "  %q", s.Program)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, " Intensity %d%%  %s\n", s.Multiplier, flag(s.ControlAcquired, "control"))
	if seg := s.Segment; seg != nil {
		fmt.Fprintf(&b, " Segment %d/%d  %s %d -> %d  %s left\n",
			seg.Index+1, s.SegmentCount, seg.Type, seg.Setting, seg.Target, formatClock(seg.Remaining()))
	}
	if s.Mode == workout.ModeProgram && s.SegmentCount > 0 {
		fmt.Fprintf(&b, " Segments done %d, remaining %d\n", s.SegmentsConsumed, s.SegmentsRemaining)
	}
	if s.FailedToStart {
		b.WriteString(" [red]Trainer did not grant control[white]\n")
	}
	if s.State == workout.StateEnd {
		b.WriteString(" [yellow]s[white] save or [yellow]d[white] discard\n")
	}
	if alert != nil {
		if alert.Next == nil {
			fmt.Fprintf(&b, " [red]Last segment ends in %s[white]\n", formatClock(alert.Remaining))
		} else {
			fmt.Fprintf(&b, " [red]Next: %s %d in %s[white]\n", alert.Next.Type, alert.Next.Target, formatClock(alert.Remaining))
		}
	}
	return b.String()
}

func formatProgram(p workout.Parameters) string {
	var b strings.Builder
	fmt.Fprintf(&b, " [yellow]%s[white]\n\n", p.Name)
	fmt.Fprintf(&b, " Duration %s\n", formatClock(p.TotalDuration))
	if p.MaxPower > 0 {
		fmt.Fprintf(&b, " Power avg %.0f W  min %.0f W  max %.0f W\n", p.AvgPower, p.MinPower, p.MaxPower)
	}
	if p.AvgLevel > 0 {
		fmt.Fprintf(&b, " Level avg %.1f\n", p.AvgLevel)
	}
	fmt.Fprintf(&b, " Work %.0f kJ\n\n", p.WorkKJ)
	for i, c := range p.Chart {
		fmt.Fprintf(&b, " %2d. %s  %s %d\n", i+1, formatClock(c.Start), c.Type, c.Setting)
	}
	return b.String()
}
