package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/app"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/config"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/dashboard"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logs := dashboard.NewLogBuffer()
	logger, err := logging.New(cfg.Log, logs)
	if err != nil {
		return err
	}
	defer logger.Close()

	if cfg.File != "" {
		logger.Printf("Main: Using config file %s", cfg.File)
	}
	if cfg.Bluetooth.Mock {
		logger.Printf("Main: Using simulated peripherals")
	}

	a, err := app.New(cfg, logger.Logger)
	if err != nil {
		logger.Printf("Main: Startup failed: %v", err)
		return err
	}
	defer a.Shutdown()
	a.Start()

	if cfg.Headless {
		// Terminal bell before each segment change
		defer a.OnAlert(func(app.Alert) { fmt.Fprint(os.Stdout, "\a") })()
		waitForSignal(logger.Logger)
		return nil
	}

	ui := dashboard.New(a, logs, logger.Logger)
	// Signals stop the dashboard, the deferred shutdown does the rest
	go_func_utils.SafeGo(logger.Logger, "signal-wait", func() {
		waitForSignal(logger.Logger)
		ui.Stop()
	})
	if err := ui.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	logger.Printf("Main: Dashboard closed")
	return nil
}
