package dashboard

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/app"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/workout"
)

const (
	refreshInterval = 250 * time.Millisecond
	alertLifetime   = 5 * time.Second
	historyTimeout  = 2 * time.Second
	historyLimit    = 8
)

// Dashboard is the tview application. Panels are redrawn from the backend on
// a fixed refresh interval.
type Dashboard struct {
	backend    Backend
	controller *Controller
	logs       *LogBuffer
	logger     *log.Logger

	app          *tview.Application
	devicesPanel *tview.TextView
	dataPanel    *tview.TextView
	enginePanel  *tview.TextView
	programList  *tview.List
	programPanel *tview.TextView
	historyPanel *tview.TextView
	logView      *tview.TextView

	mu        sync.Mutex
	programs  []workout.Parameters
	alert     *app.Alert
	alertedAt time.Time
	lastState workout.State

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(backend Backend, logs *LogBuffer, logger *log.Logger) *Dashboard {
	if backend == nil {
		panic("Dashboard: backend cannot be nil")
	}
	if logs == nil {
		panic("Dashboard: logs cannot be nil")
	}
	if logger == nil {
		panic("Dashboard: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		backend: backend,
		logs:    logs,
		logger:  logger,
		app:     tview.NewApplication(),
		ctx:     ctx,
		cancel:  cancel,
	}
	d.controller = NewController(backend, logger, d.app.Stop)
	d.initWidgets()
	d.setupKeyboardHandlers()
	return d
}

func panel(title string) *tview.TextView {
	v := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	v.SetBorder(true).SetTitle(" " + title + " ")
	return v
}

func (d *Dashboard) initWidgets() {
	d.devicesPanel = panel("Devices")
	d.dataPanel = panel("Telemetry")
	d.enginePanel = panel("Workout")
	d.programPanel = panel("Program")
	d.historyPanel = panel("History")
	// No SetChangedFunc with app.Draw on the log view, the refresh loop draws
	d.logView = panel("Log").SetScrollable(false)

	d.programList = tview.NewList().
		ShowSecondaryText(true).
		SetSelectedFunc(func(index int, _, _ string, _ rune) {
			d.controller.OnProgramSelected(index)
		}).
		SetChangedFunc(func(index int, _, _ string, _ rune) {
			d.showProgram(index)
		})
	d.programList.SetBorder(true).SetTitle(" Programs ")

	help := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText(helpText)

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.devicesPanel, 7, 0, false).
		AddItem(d.dataPanel, 0, 2, false).
		AddItem(d.enginePanel, 0, 1, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.programList, 0, 1, true).
		AddItem(d.programPanel, 0, 1, false).
		AddItem(d.historyPanel, historyLimit+2, 0, false)
	body := tview.NewFlex().
		AddItem(left, 0, 1, false).
		AddItem(right, 0, 1, true).
		AddItem(d.logView, 0, 1, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(help, 1, 0, false).
		AddItem(body, 0, 1, true)

	d.app.SetRoot(root, true).SetFocus(d.programList)
}

func (d *Dashboard) setupKeyboardHandlers() {
	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			d.controller.OnEscapeKey()
			return nil
		case tcell.KeyRune:
			if d.controller.OnRune(event.Rune()) {
				return nil
			}
		}
		// Enter and the arrows belong to the program list
		return event
	})
}

func (d *Dashboard) loadPrograms() {
	programs := d.backend.Programs()
	d.mu.Lock()
	d.programs = programs
	d.mu.Unlock()

	d.programList.Clear()
	for _, p := range programs {
		d.programList.AddItem(p.Name, fmt.Sprintf("%s, avg %.0f W", formatClock(p.TotalDuration), p.AvgPower), 0, nil)
	}
	d.showProgram(0)
}

func (d *Dashboard) showProgram(index int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.programs) {
		d.programPanel.SetText("\n No programs. Press [yellow]f[white] for a freeride.")
		return
	}
	d.programPanel.SetText(formatProgram(d.programs[index]))
}

// onAlert runs on the engine goroutine.
func (d *Dashboard) onAlert(a app.Alert) {
	d.mu.Lock()
	d.alert, d.alertedAt = &a, time.Now()
	d.mu.Unlock()
}

func (d *Dashboard) loadHistory() {
	ctx, cancel := context.WithTimeout(d.ctx, historyTimeout)
	defer cancel()
	sessions, err := d.backend.RecentSessions(ctx, historyLimit)
	if err != nil {
		d.logger.Printf("UI: Failed to load history: %v", err)
		return
	}
	d.historyPanel.SetText(formatSessions(sessions))
}

func (d *Dashboard) currentAlert() *app.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.alert != nil && time.Since(d.alertedAt) > alertLifetime {
		d.alert = nil
	}
	return d.alert
}

func (d *Dashboard) refreshLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.app.QueueUpdateDraw(d.refresh)
		}
	}
}

// refresh runs on the tview goroutine.
func (d *Dashboard) refresh() {
	d.devicesPanel.SetText(formatDevices(d.backend.DeviceStatuses()) + formatTrainer(d.backend.TrainerInfo()))
	d.dataPanel.SetText(formatSnapshot(d.backend.Snapshot()))

	status := d.backend.EngineStatus()
	d.enginePanel.SetText(formatEngine(status, d.currentAlert()))
	// A workout was just saved or discarded
	if status.State == workout.StateIdle && d.lastState != workout.StateIdle {
		d.loadHistory()
	}
	d.lastState = status.State

	_, _, _, height := d.logView.GetInnerRect()
	d.logView.SetText(strings.Join(d.logs.Tail(max(height, 1)), "\n"))
}

// Run blocks until the operator quits.
func (d *Dashboard) Run() error {
	d.loadPrograms()
	d.loadHistory()
	d.refresh()

	unregister := d.backend.OnAlert(d.onAlert)
	defer unregister()

	d.wg.Add(1)
	go_func_utils.SafeGo(d.logger, "dashboard-refresh", d.refreshLoop)

	err := d.app.Run()
	d.cancel()
	d.wg.Wait()
	return err
}

// Stop ends Run from another goroutine.
func (d *Dashboard) Stop() {
	d.app.Stop()
}
