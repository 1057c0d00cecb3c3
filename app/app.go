// Package app sets up and manages the intuneomator application which is
// composed of multiple independent components such as datastores, the
// Graph catalog client and the packaging pipeline.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/gilburns/intuneomator/pipeline"
)

// exit status
const (
	success   int = iota
	badReturn     // general errors
	badInput      // issue with CLI input
)

// Main is intuneomator's main() function. Main parses the CLI options
// given by the user and dispatches to one of the run modes:
//
//	run               process every automation-ready title (default)
//	process <folder>  process a single title folder
//	list              print the automation-ready title folders
//	daemon            serve the control API and watch the trigger directory
func Main(logger log.Logger) (status int, err error) {
	config, args, err := loadConfig()
	if err != nil {
		return badInput, err
	}
	sm, err := setupServices(config, logger)
	if err != nil {
		return badReturn, err
	}
	defer sm.HistoryStore.Close()

	mode := "run"
	if len(args) > 0 {
		mode = args[0]
	}
	switch mode {
	case "run":
		outs := sm.PipelineService.ProcessAll(context.Background())
		return batchStatus(outs), nil
	case "process":
		if len(args) < 2 {
			return badInput, errors.New("process requires a title folder name")
		}
		out := sm.PipelineService.ProcessLabel(context.Background(), args[1])
		if !out.Success {
			return badReturn, errors.Errorf("%s: %s", out.Label, out.Message)
		}
		return success, nil
	case "list":
		defs, err := sm.PipelineService.ReadyLabels()
		if err != nil {
			return badReturn, err
		}
		for _, def := range defs {
			fmt.Println(def.FolderName())
		}
		return success, nil
	case "daemon":
		return runDaemon(logger, config, sm)
	default:
		return badInput, errors.Errorf("unknown mode %q", mode)
	}
}

func batchStatus(outs []pipeline.Outcome) int {
	for _, out := range outs {
		if !out.Success {
			return badReturn
		}
	}
	return success
}

// runDaemon serves the control API and, if a trigger directory is
// configured, watches it for on-demand run requests. It blocks until the
// process receives SIGINT or SIGTERM, or the HTTP server fails.
func runDaemon(logger log.Logger, config *Config, sm *serviceManager) (int, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.Daemon.TriggerDir != "" {
		watcher := pipeline.NewWatcher(
			sm.PipelineService,
			config.Daemon.TriggerDir,
			config.Daemon.WatchInterval,
			log.With(logger, "component", "watcher"),
		)
		go watcher.Run(ctx)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- serveHTTP(logger, makeHTTPHandler(logger, sm), config.Daemon.ListenAddr)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return badReturn, err
	case sig := <-sigc:
		logger.Log("msg", "shutting down", "signal", sig.String())
		return success, nil
	}
}
