package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imgtriage/analysis"
	"imgtriage/config"
	"imgtriage/logger"
	"imgtriage/output"
	"imgtriage/tracing"
	"imgtriage/version"
)

func main() {
	if err := tracing.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start trace: %v\n", err)
	} else {
		defer tracing.Stop()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)
	logger.Debugf("imgtriage %s starting with %d input(s)", version.Version, len(cfg.InputPaths))

	if cfg.TraceFlight {
		if err := tracing.StartFlightRecorder(cfg.TraceFlightMaxBytes, cfg.TraceFlightMinAge); err != nil {
			logger.Warnf("Failed to start flight recorder: %v", err)
		} else {
			defer func() {
				if err := tracing.WriteFlightRecorder(cfg.TraceFlightFile); err != nil {
					logger.Warnf("Failed to write flight recorder: %v", err)
				}
				tracing.StopFlightRecorder()
			}()
		}
	}

	startTime := time.Now()
	metrics := output.Metrics{
		StartTime: startTime.Format(time.RFC3339),
	}

	deps, err := buildDeps(cfg)
	if err != nil {
		logger.Fatalf("Failed to prepare analysis: %v", err)
	}
	analyzer := analysis.New(cfg, deps)

	writer, err := output.New(cfg, &metrics)
	if err != nil {
		logger.Fatalf("Failed to initialize output: %v", err)
	}
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleSignals(cancel, &metrics, writer, cfg.TraceFlight, cfg.TraceFlightFile)

	inputs := collectInputs(cfg.InputPaths)
	metrics.TotalInputs = len(inputs)
	logger.Infof("Inputs to analyze: %d", len(inputs))

	runAnalyses(ctx, cfg, analyzer, inputs, writer)

	metrics.EndTime = time.Now().Format(time.RFC3339)
	writer.SetMetrics(metrics)

	if err := deps.Metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
		logger.Warnf("Failed to write metrics textfile: %v", err)
	}

	logger.Infof("Analysis completed: %d analyzed, %d failed in %s",
		writer.Analyzed(), writer.Failed(), time.Since(startTime).Round(time.Millisecond))
}

func handleSignals(cancelFunc context.CancelFunc, metrics *output.Metrics, w *output.Writer, traceFlight bool, traceFlightFile string) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	handleSignalEvent(cancelFunc, metrics, w, traceFlight, traceFlightFile, sigChan)
}

func handleSignalEvent(cancelFunc context.CancelFunc, metrics *output.Metrics, w *output.Writer, traceFlight bool, traceFlightFile string, sigChan <-chan os.Signal) {
	<-sigChan
	logger.Info("Interrupt signal received. Shutting down...")

	metrics.EndTime = time.Now().Format(time.RFC3339)
	w.SetMetrics(*metrics)

	if traceFlight {
		if err := tracing.WriteFlightRecorder(traceFlightFile); err != nil {
			logger.Warnf("Failed to write flight recorder: %v", err)
		}
		tracing.StopFlightRecorder()
	}

	cancelFunc()
}
