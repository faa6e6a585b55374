package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"

	"main/internal/engine"
	"main/internal/execution"
	"main/internal/ops"
	"main/internal/store"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON engine config")
	profile := flag.Bool("profile", false, "Enable continuous profiling")
	profileAddr := flag.String("profile-addr", "http://localhost:4040", "Profiling server address")
	stopTimeout := flag.Duration("stop-timeout", 30*time.Second, "Graceful shutdown deadline")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *profile {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trading-engine",
			ServerAddress:   *profileAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	creds, err := ops.LoadCredentials()
	if err != nil {
		log.Fatalf("credentials load failed: %v", err)
	}
	if loaded.Mode == execution.ModeLive {
		if err := creds.RequireBroker(); err != nil {
			log.Fatalf("credentials check failed: %v", err)
		}
	}

	var st store.Store = store.Nop{}
	if loaded.Store.Enabled {
		pg, err := store.NewPostgres(loaded.Store.ConnOption())
		if err != nil {
			log.Fatalf("store open failed: %v", err)
		}
		defer func() {
			_ = pg.Close()
		}()
		st = pg
	}

	var broker execution.Broker
	if loaded.Mode == execution.ModeLive {
		broker = execution.NewRESTBroker(execution.RESTBrokerConfig{
			BaseURL:   loaded.BrokerURL,
			APIKey:    creds.BrokerAPIKey,
			APISecret: creds.BrokerAPISecret,
		})
	}

	eng, err := engine.New(loaded, creds, broker, st)
	if err != nil {
		log.Fatalf("engine build failed: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("engine start failed: %v", err)
	}

	<-ctx.Done()
	stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), *stopTimeout)
	defer cancel()
	if err := eng.Stop(stopCtx, false); err != nil {
		log.Fatalf("engine stop failed: %v", err)
	}
}
