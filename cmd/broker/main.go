// Command broker runs the topic-based pub/sub broker: a UDP datagram
// ingress for publishers and a TCP stream ingress for subscribers, per
// the wire contracts in SPEC_FULL.md.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/adred/topicbroker/internal/broker"
	"github.com/adred/topicbroker/internal/config"
	"github.com/adred/topicbroker/internal/logging"
	"github.com/adred/topicbroker/internal/metrics"
	"github.com/adred/topicbroker/internal/resource"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: broker <port>")
		return -2
	}

	port, err := strconv.Atoi(os.Args[1])
	if err != nil || port <= 0 {
		fmt.Fprintf(os.Stderr, "[DEBUG] invalid port %q: must be a positive integer\n", os.Args[1])
		return -2
	}

	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "[DEBUG] failed to set GOMAXPROCS: %v\n", err)
	}

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[DEBUG] config error: %v\n", err)
		return -2
	}
	cfg.Port = port

	logger := logging.New(logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
	cfg.LogConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go metrics.Serve(ctx, cfg.MetricsAddr, logger)

	guard := resource.New(resource.Limits{
		CPURejectThreshold: cfg.CPURejectThreshold,
		CPUPauseThreshold:  cfg.CPUPauseThreshold,
		MaxDatagramsPerSec: cfg.MaxDatagramsPerSec,
		MaxDrainPerSec:     cfg.MaxDrainPerSec,
	}, logger)
	guard.StartMonitoring(ctx, cfg.MetricsInterval)

	b, err := broker.New(cfg.Port, cfg.InitialSubscriberCap, cfg.InitialStoreCap, guard, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[DEBUG] bootstrap failed: %v\n", err)
		return -2
	}

	logger.Info().Int("port", cfg.Port).Int("backlog", broker.ListenBacklog).Msg("listening")

	runErr := b.Run()
	b.Close()

	if runErr != nil && runErr != broker.ErrShutdown {
		fmt.Fprintf(os.Stderr, "[DEBUG] broker exited: %v\n", runErr)
		return -2
	}

	return 0
}
