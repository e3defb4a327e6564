package dashboard

import (
	"log"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/device"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/workout"
)

// Controller maps key presses onto device and engine actions.
type Controller struct {
	backend Backend
	logger  *log.Logger
	quit    func()
}

func NewController(backend Backend, logger *log.Logger, quit func()) *Controller {
	if backend == nil {
		panic("Controller: backend cannot be nil")
	}
	if logger == nil {
		panic("Controller: logger cannot be nil")
	}
	if quit == nil {
		panic("Controller: quit cannot be nil")
	}
	return &Controller{backend: backend, logger: logger, quit: quit}
}

// OnRune handles a single key and reports whether it was bound.
func (c *Controller) OnRune(r rune) bool {
	switch r {
	case 'h':
		c.backend.ToggleWanted(device.TypeHeartRateMonitor)
	case 't':
		c.backend.ToggleWanted(device.TypeFitnessMachine)
	case 'f':
		c.put(workout.Freeride{})
	case 'p':
		c.put(workout.Pause{})
	case 'r':
		c.resume()
	case 'e':
		c.put(workout.End{})
	case '+', '=':
		c.put(workout.Increase{})
	case '-':
		c.put(workout.Decrease{})
	case ']':
		c.stepGrade(1)
	case '[':
		c.stepGrade(-1)
	case 's':
		c.put(workout.Save{})
	case 'd':
		c.put(workout.Discard{})
	case 'q':
		c.OnEscapeKey()
	default:
		return false
	}
	return true
}

// OnProgramSelected starts the program at index id of the program list.
func (c *Controller) OnProgramSelected(id int) {
	c.logger.Printf("UI: Program %d selected", id)
	c.put(workout.Start{ProgramID: id})
}

func (c *Controller) OnEscapeKey() {
	c.logger.Printf("UI: Quit requested")
	c.quit()
}

// resume only applies to a paused workout; Start from IDLE would begin the
// first program.
func (c *Controller) resume() {
	if state := c.backend.EngineStatus().State; state != workout.StatePaused {
		c.logger.Printf("UI: Nothing to resume in %s", state)
		return
	}
	c.put(workout.Start{})
}

func (c *Controller) stepGrade(delta float64) {
	c.put(workout.SetGrade{Percent: c.backend.Snapshot().Momentary.Gradient + delta})
}

func (c *Controller) put(cmd workout.Command) {
	if !c.backend.Put(cmd) {
		c.logger.Printf("UI: Engine stopped, dropping %T", cmd)
	}
}
