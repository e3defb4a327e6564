package workout

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/events"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/telemetry"
)

type State int

const (
	StateIdle State = iota
	StateWarmup
	StateRunning
	StatePaused
	StateStop
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWarmup:
		return "WARMUP"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStop:
		return "STOP"
	case StateEnd:
		return "END"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Mode int

const (
	ModeProgram Mode = iota
	ModeFreeride
)

func (m Mode) String() string {
	if m == ModeFreeride {
		return "FREERIDE"
	}
	return "PROGRAM"
}

// Multiplier bounds, in percent of the segment setting
const (
	MultiplierDefault = 100
	MultiplierStep    = 10
	MultiplierMin     = 40
	MultiplierMax     = 300
)

// Command is an instruction for the engine goroutine.
type Command interface {
	engineCommand()
}

type (
	// Start begins a program from IDLE, or resumes a paused workout.
	Start    struct{ ProgramID int }
	Freeride struct{}
	Pause    struct{}
	End      struct{}
	Save     struct{}
	Discard  struct{}
	Increase struct{}
	Decrease struct{}
	SetPower struct{ Watts int }
	SetLevel struct{ Level int }
	// SetGrade switches the trainer to simulation mode until the next
	// segment boundary.
	SetGrade struct{ Percent float64 }
)

func (Start) engineCommand()    {}
func (Freeride) engineCommand() {}
func (Pause) engineCommand()    {}
func (End) engineCommand()      {}
func (Save) engineCommand()     {}
func (Discard) engineCommand()  {}
func (Increase) engineCommand() {}
func (Decrease) engineCommand() {}
func (SetPower) engineCommand() {}
func (SetLevel) engineCommand() {}
func (SetGrade) engineCommand() {}

type EngineConfig struct {
	WarmupDelay     time.Duration
	AcquireAttempts int
	AcquireWait     time.Duration // per attempt
	AcquirePoll     time.Duration
	TickInterval    time.Duration
	SampleInterval  time.Duration
	AlertWindow     time.Duration
	Now             func() time.Time
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WarmupDelay:     3 * time.Second,
		AcquireAttempts: 3,
		AcquireWait:     3 * time.Second,
		AcquirePoll:     500 * time.Millisecond,
		TickInterval:    100 * time.Millisecond,
		SampleInterval:  time.Second,
		AlertWindow:     3 * time.Second,
		Now:             time.Now,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.WarmupDelay < 0 {
		c.WarmupDelay = 0
	} else if c.WarmupDelay == 0 {
		c.WarmupDelay = d.WarmupDelay
	}
	if c.AcquireAttempts <= 0 {
		c.AcquireAttempts = d.AcquireAttempts
	}
	if c.AcquireWait <= 0 {
		c.AcquireWait = d.AcquireWait
	}
	if c.AcquirePoll <= 0 {
		c.AcquirePoll = d.AcquirePoll
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = d.SampleInterval
	}
	if c.AlertWindow <= 0 {
		c.AlertWindow = d.AlertWindow
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// Status is the engine state published after every transition and every
// running tick.
type Status struct {
	State             State
	Mode              Mode
	Program           string
	Segment           *telemetry.SegmentInfo
	SegmentCount      int
	SegmentsRemaining int
	SegmentsConsumed  int
	Elapsed           time.Duration
	Total             time.Duration
	Multiplier        int
	ControlAcquired   bool
	FailedToStart     bool
}

// Completed reports whether a stopped workout ran at least one segment.
// A program that stopped with nothing consumed failed to start.
func (s Status) Completed() bool {
	return !s.FailedToStart && (s.Mode == ModeFreeride || s.SegmentsConsumed > 0)
}

// Engine executes workouts on a trainer. All workout state is owned by the
// engine goroutine; callers interact through Put and the status stream.
type Engine struct {
	cfg      EngineConfig
	trainer  Trainer
	programs ProgramSource
	data     Telemetry
	out      Outputs
	logger   *log.Logger

	// loop-owned state
	state         State
	mode          Mode
	program       Program
	remaining     []Segment
	current       *Segment
	segmentIndex  int
	consumed      int
	multiplier    int
	manual        *Segment
	grade         *float64
	alerted       bool
	failed        bool
	warmupUntil   time.Time
	startedAt     time.Time
	lastTick      time.Time
	lastSample    time.Time
	elapsed       time.Duration
	logSink       LogSink
	track         TrackWriter
	trackPath     string
	final         telemetry.Snapshot

	reachedRunning bool

	statusEvent *events.ChannelEvent[Status]

	// Goroutine management
	cmdChan      chan Command
	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

func NewEngine(cfg EngineConfig, trainer Trainer, programs ProgramSource, data Telemetry, out Outputs, logger *log.Logger) *Engine {
	if trainer == nil {
		panic("Engine: trainer cannot be nil")
	}
	if programs == nil {
		panic("Engine: programs cannot be nil")
	}
	if data == nil {
		panic("Engine: data cannot be nil")
	}
	if logger == nil {
		panic("Engine: logger cannot be nil")
	}

	e := &Engine{
		cfg:         cfg.withDefaults(),
		trainer:     trainer,
		programs:    programs,
		data:        data,
		out:         out,
		logger:      logger,
		multiplier:  MultiplierDefault,
		statusEvent: events.NewChannelEvent[Status](true),
		cmdChan:     make(chan Command, 16),
		doneChan:    make(chan struct{}),
	}
	e.publish()

	e.wg.Add(1)
	go_func_utils.SafeGo(logger, "workout-engine", e.run)

	return e
}

// Put hands a command to the engine goroutine. It returns false once the
// engine has shut down.
func (e *Engine) Put(cmd Command) bool {
	if cmd == nil {
		panic("Engine: nil command")
	}
	select {
	case <-e.doneChan:
		return false
	default:
	}
	select {
	case e.cmdChan <- cmd:
		return true
	case <-e.doneChan:
		return false
	}
}

func (e *Engine) Status() Status {
	// the constructor publishes, so there is always a last status
	s, _ := e.statusEvent.Last()
	if s.Segment != nil {
		seg := *s.Segment
		s.Segment = &seg
	}
	return s
}

// ListenStatus registers ch for status updates; the latest status is
// replayed on registration.
func (e *Engine) ListenStatus(ch chan<- Status) func() {
	return e.statusEvent.Listen(ch)
}

// Shutdown stops the engine goroutine. An active workout is stopped and
// saved first. Safe to call multiple times.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.logger.Printf("WorkoutEngine: Shutting down")
		close(e.doneChan)
		e.wg.Wait()
		e.logger.Printf("WorkoutEngine: Shutdown complete")
	})
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.doneChan:
			e.shutdownWorkout()
			e.logger.Printf("WorkoutEngine: Goroutine exiting")
			return

		case cmd := <-e.cmdChan:
			e.handle(cmd)
			e.publish()

		case <-ticker.C:
			if e.tick() {
				e.publish()
			}
		}
	}
}

func (e *Engine) handle(cmd Command) {
	switch e.state {
	case StateIdle:
		switch c := cmd.(type) {
		case Start:
			p, err := e.programs.Program(c.ProgramID)
			if err != nil {
				e.logger.Printf("WorkoutEngine: Cannot start program %d: %v", c.ProgramID, err)
				return
			}
			e.begin(ModeProgram, p)
		case Freeride:
			e.begin(ModeFreeride, Program{Name: "Freeride"})
		default:
			e.ignore(cmd)
		}

	case StateWarmup:
		switch cmd.(type) {
		case End:
			e.stop()
		case Increase, Decrease:
			e.adjustMultiplier(cmd)
		default:
			e.ignore(cmd)
		}

	case StateRunning:
		switch c := cmd.(type) {
		case End:
			e.stop()
		case Pause:
			e.trainer.Pause()
			e.state = StatePaused
			e.logger.Printf("WorkoutEngine: Workout paused")
		case Increase, Decrease:
			e.adjustMultiplier(cmd)
		case SetPower:
			e.setManual(SegmentPower, c.Watts)
		case SetLevel:
			e.setManual(SegmentLevel, c.Level)
		case SetGrade:
			e.setGrade(c.Percent)
		default:
			e.ignore(cmd)
		}

	case StatePaused:
		switch cmd.(type) {
		case Start:
			e.trainer.Start()
			now := e.cfg.Now()
			e.lastTick = now
			e.lastSample = now
			e.state = StateRunning
			e.sendTarget()
			e.logger.Printf("WorkoutEngine: Workout resumed")
		case End:
			e.stop()
		case Increase, Decrease:
			e.adjustMultiplier(cmd)
		default:
			e.ignore(cmd)
		}

	case StateEnd:
		switch cmd.(type) {
		case Save:
			e.finish(true)
		case Discard:
			e.finish(false)
		default:
			e.ignore(cmd)
		}
	}
}

func (e *Engine) ignore(cmd Command) {
	e.logger.Printf("WorkoutEngine: Ignoring %T in state %v", cmd, e.state)
}

// begin runs the control acquisition protocol and enters WARMUP, or STOP
// when the trainer never grants control.
func (e *Engine) begin(mode Mode, p Program) {
	e.mode = mode
	e.program = p.Clone()
	e.remaining = e.program.Clone().Segments
	e.current = nil
	e.manual = nil
	e.grade = nil
	e.segmentIndex = -1
	e.consumed = 0
	e.elapsed = 0
	e.failed = false
	e.reachedRunning = false
	e.data.SetWorkoutTime(0, e.program.TotalDuration())
	e.logger.Printf("WorkoutEngine: Starting %v '%s' (%d segments, %v)",
		mode, e.program.Name, len(e.remaining), e.program.TotalDuration())

	if !e.acquireControl() {
		e.logger.Printf("WorkoutEngine: Failed to acquire remote control of the fitness machine")
		e.failed = true
		e.stop()
		return
	}

	e.multiplier = MultiplierDefault
	e.warmupUntil = e.cfg.Now().Add(e.cfg.WarmupDelay)
	e.state = StateWarmup
	e.publish()
}

// acquireControl requests remote control up to AcquireAttempts times. An
// attempt with the trainer disconnected queues nothing, since the commands
// would only replay on the next connection.
func (e *Engine) acquireControl() bool {
	for attempt := 1; attempt <= e.cfg.AcquireAttempts; attempt++ {
		if !e.trainer.Connected() {
			e.logger.Printf("WorkoutEngine: Trainer not connected, control acquisition attempt %d/%d skipped",
				attempt, e.cfg.AcquireAttempts)
			if !e.wait(e.cfg.AcquireWait) {
				return false
			}
			continue
		}

		e.trainer.SubscribeControlPoint()
		e.trainer.RequestControl()
		e.trainer.Reset()
		e.trainer.RequestControl()
		e.trainer.Start()

		deadline := time.Now().Add(e.cfg.AcquireWait)
		for time.Now().Before(deadline) {
			if !e.wait(e.cfg.AcquirePoll) {
				return false
			}
			if e.trainer.PendingCommands() == 0 {
				break
			}
		}

		if e.trainer.RemoteControlAcquired() {
			e.logger.Printf("WorkoutEngine: Remote control acquired on attempt %d", attempt)
			return true
		}
		e.logger.Printf("WorkoutEngine: Control acquisition attempt %d/%d failed", attempt, e.cfg.AcquireAttempts)
	}
	return false
}

// wait sleeps for d and reports false when the engine shuts down meanwhile.
func (e *Engine) wait(d time.Duration) bool {
	select {
	case <-e.doneChan:
		return false
	case <-time.After(d):
		return true
	}
}

// tick advances the workout clock. It reports whether the status changed.
func (e *Engine) tick() bool {
	now := e.cfg.Now()

	switch e.state {
	case StateWarmup:
		if now.Before(e.warmupUntil) {
			return false
		}
		e.startRunning(now)
		return true

	case StatePaused:
		// paused time does not count towards the workout
		e.lastTick = now
		e.lastSample = now
		return false

	case StateRunning:
		dt := now.Sub(e.lastTick)
		e.lastTick = now
		e.elapsed += dt
		if e.current != nil {
			e.current.Elapsed += dt
		}

		if e.mode == ModeProgram && (e.current == nil || e.current.Elapsed >= e.current.Length()) {
			// time past the segment end counts towards the next one
			var overrun time.Duration
			if e.current != nil {
				overrun = e.current.Elapsed - e.current.Length()
			}
			if !e.nextSegment(now, overrun) {
				e.logger.Printf("WorkoutEngine: End of workout")
				e.stop()
				return true
			}
		}

		e.maybeAlert()
		e.data.SetSegment(e.segmentInfo())
		e.data.SetWorkoutTime(e.elapsed, e.program.TotalDuration())

		if now.Sub(e.lastSample) >= e.cfg.SampleInterval {
			e.sample(now, now.Sub(e.lastSample))
			e.lastSample = now
		}
		return true
	}
	return false
}

func (e *Engine) startRunning(now time.Time) {
	e.data.Reset()
	e.startedAt = now
	e.lastTick = now
	e.lastSample = now
	e.reachedRunning = true
	e.state = StateRunning
	e.openOutputs(now)

	if e.mode == ModeFreeride {
		e.startLap(now)
	}
	e.logger.Printf("WorkoutEngine: Workout started")
}

func (e *Engine) nextSegment(now time.Time, overrun time.Duration) bool {
	if len(e.remaining) == 0 {
		return false
	}
	seg := e.remaining[0]
	e.remaining = e.remaining[1:]
	seg.StartTime = now.Add(-overrun)
	seg.Elapsed = overrun
	e.current = &seg
	e.segmentIndex++
	e.consumed++
	e.manual = nil
	e.grade = nil
	e.alerted = false

	e.startLap(seg.StartTime)
	e.logger.Printf("WorkoutEngine: New segment %d: %s %d for %ds",
		e.segmentIndex, seg.Type, seg.Setting, seg.Duration)
	e.sendTarget()
	return true
}

func (e *Engine) startLap(now time.Time) {
	e.data.StartLap()
	if e.track != nil {
		e.track.NewLap(now)
	}
}

func (e *Engine) maybeAlert() {
	if e.alerted || e.current == nil || e.out.Alerter == nil {
		return
	}
	left := e.current.Length() - e.current.Elapsed
	if left <= 0 || left > e.cfg.AlertWindow {
		return
	}
	e.alerted = true

	var next *telemetry.SegmentInfo
	if len(e.remaining) > 0 {
		s := e.remaining[0]
		next = &telemetry.SegmentInfo{
			Index:    e.segmentIndex + 1,
			Type:     string(s.Type),
			Setting:  s.Setting,
			Target:   e.scaled(s.Setting),
			Duration: s.Length(),
		}
	}
	e.out.Alerter.SegmentEnding(next, left)
}

func (e *Engine) sample(now time.Time, dt time.Duration) {
	snap := e.data.Sample(dt)
	if e.logSink != nil {
		if err := e.logSink.AppendRow(snap); err != nil {
			e.logger.Printf("WorkoutEngine: Log row failed, continuing without log file: %v", err)
			_ = e.logSink.Discard()
			e.logSink = nil
		}
	}
	if e.track != nil {
		e.track.UpdateLapValues(snap)
		e.track.AddTrackPoint(now, snap.Distance, snap.Momentary)
	}
}

func (e *Engine) scaled(setting int) int {
	return setting * e.multiplier / 100
}

// sendTarget issues the target of the active segment, or the manual target
// when one is set. Nothing is sent without remote control.
func (e *Engine) sendTarget() {
	if e.state != StateRunning {
		return
	}

	var typ SegmentType
	var value int
	switch {
	case e.grade != nil:
	case e.manual != nil:
		typ, value = e.manual.Type, e.manual.Setting
	case e.current != nil:
		typ, value = e.current.Type, e.scaled(e.current.Setting)
	default:
		return
	}

	if !e.trainer.RemoteControlAcquired() {
		e.logger.Printf("WorkoutEngine: Cannot set target - trainer control not acquired")
		return
	}

	if e.grade != nil {
		sent := e.trainer.SetGrade(*e.grade)
		e.data.SetGradient(sent)
		e.logger.Printf("WorkoutEngine: Set grade to %.1f%%", sent)
		return
	}

	// a power or level target ends simulation mode
	e.data.SetGradient(0)
	switch typ {
	case SegmentPower:
		sent := e.trainer.SetTargetPower(value)
		e.logger.Printf("WorkoutEngine: Set target power to %d W", sent)
	case SegmentLevel:
		sent := e.trainer.SetTargetLevel(value)
		e.logger.Printf("WorkoutEngine: Set target level to %d", sent)
	}
}

func (e *Engine) adjustMultiplier(cmd Command) {
	m := e.multiplier
	if _, ok := cmd.(Increase); ok {
		m += MultiplierStep
	} else {
		m -= MultiplierStep
	}
	m = min(max(m, MultiplierMin), MultiplierMax)
	if m == e.multiplier {
		return
	}
	e.multiplier = m
	e.manual = nil
	e.grade = nil
	e.logger.Printf("WorkoutEngine: Multiplier %d%%", m)
	e.sendTarget()
}

// setManual overrides the target until the next segment boundary. In
// freeride it is the only target source.
func (e *Engine) setManual(typ SegmentType, value int) {
	e.manual = &Segment{Type: typ, Setting: value}
	e.grade = nil
	e.sendTarget()
}

// setGrade overrides the target with a simulated grade, with the same
// lifetime as a manual target.
func (e *Engine) setGrade(percent float64) {
	e.grade = &percent
	e.manual = nil
	e.sendTarget()
}

func (e *Engine) segmentInfo() *telemetry.SegmentInfo {
	if e.current == nil {
		return nil
	}
	return &telemetry.SegmentInfo{
		Index:     e.segmentIndex,
		Type:      string(e.current.Type),
		Setting:   e.current.Setting,
		Target:    e.scaled(e.current.Setting),
		Duration:  e.current.Length(),
		Elapsed:   e.current.Elapsed,
		StartTime: e.current.StartTime,
	}
}

func (e *Engine) openOutputs(start time.Time) {
	if e.out.NewLogSink != nil {
		sink, err := e.out.NewLogSink(start)
		if err != nil {
			e.logger.Printf("WorkoutEngine: Failed creating a workout log, continuing without it: %v", err)
		} else {
			e.logSink = sink
		}
	}
	if e.out.NewTrackWriter != nil {
		w, path, err := e.out.NewTrackWriter(start)
		if err != nil {
			e.logger.Printf("WorkoutEngine: Failed creating an activity file, continuing without it: %v", err)
		} else {
			e.track, e.trackPath = w, path
		}
	}
}

// stop releases the trainer and moves to END. The final snapshot is kept for
// the save step before the workout fields are zeroed.
func (e *Engine) stop() {
	e.state = StateStop
	e.publish()

	if e.trainer.Connected() {
		e.trainer.UnsubscribeControlPoint()
		e.trainer.Stop()
		e.trainer.Reset()
	} else {
		e.logger.Printf("WorkoutEngine: Trainer not connected, release skipped")
	}

	e.final = e.data.Snapshot()
	e.data.Reset()
	e.data.SetSegment(nil)
	e.data.SetWorkoutTime(0, 0)
	e.data.SetGradient(0)

	e.state = StateEnd
	e.logger.Printf("WorkoutEngine: Workout ended after %v, %d segments consumed", e.elapsed, e.consumed)
}

// finish closes or discards the workout outputs and returns to IDLE.
func (e *Engine) finish(save bool) {
	if e.logSink != nil {
		var err error
		if save {
			err = e.logSink.Close(e.final.Average, e.final.Max)
		} else {
			err = e.logSink.Discard()
		}
		if err != nil {
			e.logger.Printf("WorkoutEngine: Closing workout log: %v", err)
		}
	}
	if e.track != nil && save {
		if err := e.track.Save(e.trackPath); err != nil {
			e.logger.Printf("WorkoutEngine: Saving activity %s: %v", e.trackPath, err)
		} else {
			e.logger.Printf("WorkoutEngine: Activity saved to %s", e.trackPath)
		}
	}

	if e.reachedRunning && e.out.Recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := e.out.Recorder.Record(ctx, Session{
			Program:           e.program.Name,
			Mode:              e.mode,
			StartedAt:         e.startedAt,
			Duration:          e.elapsed,
			SegmentsCompleted: e.consumed,
			Distance:          e.final.Distance,
			Energy:            e.final.TotalEnergy,
			Average:           e.final.Average,
			Max:               e.final.Max,
			Saved:             save,
		})
		cancel()
		if err != nil {
			e.logger.Printf("WorkoutEngine: Recording session: %v", err)
		}
	}

	e.logSink, e.track, e.trackPath = nil, nil, ""
	e.current, e.manual, e.grade, e.remaining = nil, nil, nil, nil
	e.state = StateIdle
	if save {
		e.logger.Printf("WorkoutEngine: Workout saved")
	} else {
		e.logger.Printf("WorkoutEngine: Workout discarded")
	}
}

func (e *Engine) shutdownWorkout() {
	switch e.state {
	case StateWarmup, StateRunning, StatePaused:
		e.stop()
		fallthrough
	case StateEnd:
		e.finish(true)
		e.publish()
	}
}

func (e *Engine) publish() {
	s := Status{
		State:             e.state,
		Mode:              e.mode,
		Program:           e.program.Name,
		Segment:           e.segmentInfo(),
		SegmentCount:      len(e.program.Segments),
		SegmentsRemaining: len(e.remaining),
		SegmentsConsumed:  e.consumed,
		Elapsed:           e.elapsed,
		Total:             e.program.TotalDuration(),
		Multiplier:        e.multiplier,
		ControlAcquired:   e.trainer.RemoteControlAcquired(),
		FailedToStart:     e.failed,
	}
	e.statusEvent.Notify(s)
}
