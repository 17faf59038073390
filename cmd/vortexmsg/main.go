package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vortexdb/vortex/common"
	log "github.com/vortexdb/vortex/logger"
	"github.com/vortexdb/vortex/messaging"
)

type arguments struct {
	Config         messaging.Config `help:"Messaging service configuration" embed:"" prefix:""`
	Log            log.Config       `help:"Logging configuration" embed:"" prefix:"log-"`
	MetricsAddress string           `help:"Address to serve prometheus metrics on, e.g. localhost:9090. Disabled when empty"`
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("%+v\n", err)
	}
}

func run() error {
	defer common.PanicHandler()
	cfg := &arguments{}
	parser, err := kong.New(cfg)
	if err != nil {
		return err
	}
	if _, err := parser.Parse(os.Args[1:]); err != nil {
		return err
	}
	if err := cfg.Log.Configure(); err != nil {
		return err
	}
	ms, err := messaging.NewMessagingService(cfg.Config, nil, nil)
	if err != nil {
		return err
	}
	if cfg.MetricsAddress != "" {
		registry := prometheus.NewRegistry()
		if err := registry.Register(messaging.NewMetricsCollector(ms)); err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		common.Go(func() {
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				log.Errorf("metrics server failed: %v", err)
			}
		})
	}
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Infof("received signal %s - shutting down", sig)
	return ms.Stop()
}
