package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banshee-data/cardio.report/internal/acquire"
	"github.com/banshee-data/cardio.report/internal/api"
	"github.com/banshee-data/cardio.report/internal/config"
	"github.com/banshee-data/cardio.report/internal/db"
	"github.com/banshee-data/cardio.report/internal/monitor"
	"github.com/banshee-data/cardio.report/internal/monitoring"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/recorder"
	"github.com/banshee-data/cardio.report/internal/serialmux"
	"github.com/banshee-data/cardio.report/internal/store"
	"github.com/banshee-data/cardio.report/internal/stream"
	"github.com/banshee-data/cardio.report/internal/version"
)

var (
	devMode      = flag.Bool("dev", false, "Stream a synthetic ECG instead of reading a device")
	source       = flag.String("source", sourceSerial, "Acquisition source: serial or nats (ignored in dev mode)")
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen   = flag.String("grpc-listen", "", "gRPC health listen address (empty disables)")
	port         = flag.String("port", "/dev/ttyACM0", "Serial port to use (ignored in dev mode)")
	baud         = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	natsURL      = flag.String("nats", "", "NATS server URL (empty disables NATS)")
	natsIn       = flag.String("nats-subject", "cardio.ecg.raw", "NATS subject carrying waveform frames")
	natsOut      = flag.String("nats-publish", "cardio.metrics", "NATS subject for metric snapshots (empty disables)")
	streamID     = flag.String("stream", "ecg-1", "Stream ID for the acquired waveform")
	fsFlag       = flag.Float64("fs", 0, "Sampling rate in Hz (overrides the configuration)")
	chunkSize    = flag.Int("chunk", 250, "Samples per chunk handed to the router")
	column       = flag.Int("col", 0, "Zero-based field holding the sample on each serial line")
	dbPath       = flag.String("db", "cardio.db", "Session catalog database")
	recordDir    = flag.String("record-dir", "", "Directory for recordings (empty disables recording control)")
	units        = flag.String("units", "s", "Interval units for the HTTP API: s or ms")
	configPath   = flag.String("config", "", "Pipeline configuration file (.json)")
	tui          = flag.Bool("tui", false, "Render the active tab to stdout")
	tick         = flag.Duration("tick", monitor.DefaultInterval, "Render tick")
	dropCommands = flag.Bool("drop", false, "Drop commands instead of blocking when the router queue is full")
	metricsEvery = flag.Duration("metrics-every", 5*time.Second, "Minimum interval between catalog metric rows per stream")
	showVersion  = flag.Bool("version", false, "Print the build and exit")
)

// Acquisition sources.
const (
	sourceSerial = "serial"
	sourceNATS   = "nats"
	sourceDev    = "dev"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		case "version":
			fmt.Println(version.String())
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", flag.Arg(0))
			usage()
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "monitor - live ECG acquisition and HRV dashboard")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  monitor [flags]                run the monitor")
	fmt.Fprintln(os.Stderr, "  monitor [-db FILE] migrate ... manage the catalog schema")
	fmt.Fprintln(os.Stderr, "  monitor version                print the build")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}

func resolveSource() (string, error) {
	if *devMode {
		return sourceDev, nil
	}
	switch *source {
	case sourceSerial:
		if *port == "" {
			return "", errors.New("serial port is required")
		}
		return sourceSerial, nil
	case sourceNATS:
		if *natsURL == "" {
			return "", errors.New("-nats is required for the nats source")
		}
		return sourceNATS, nil
	}
	return "", fmt.Errorf("unknown source %q", *source)
}

func loadParams() (config.Params, error) {
	p := config.DefaultParams()
	if *configPath != "" {
		cfg, err := config.LoadPipelineConfig(*configPath)
		if err != nil {
			return config.Params{}, err
		}
		if p, err = cfg.Resolve(); err != nil {
			return config.Params{}, err
		}
	}
	if *fsFlag != 0 {
		p = p.WithFS(*fsFlag)
	}
	return p, p.Validate()
}

func run() error {
	if *listen == "" {
		return errors.New("listen address is required")
	}
	src, err := resolveSource()
	if err != nil {
		return err
	}
	params, err := loadParams()
	if err != nil {
		return fmt.Errorf("pipeline configuration: %w", err)
	}
	log.Printf("%s starting: source=%s stream=%s fs=%g Hz", version.String(), src, *streamID, params.FS)

	database, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewRouterMetrics(reg)

	policy := stream.Block
	if *dropCommands {
		policy = stream.Drop
	}
	router, err := stream.New(params, stream.Options{
		Policy:   policy,
		OpenSink: recorder.Opener(recorder.Options{}),
		Observer: metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to start router: %w", err)
	}

	st := store.New(params)
	st.SetObserver(metrics)
	hub := api.NewHub()
	opts := monitor.Options{Tabs: store.NewTabs(store.NewECGTab(*streamID))}
	if *tui {
		opts.Display = os.Stdout
	}
	consumer := monitor.NewConsumer(router, st, opts)
	consumer.AddSink(hub.Broadcast)

	var nc *nats.Conn
	if *natsURL != "" {
		if nc, err = acquire.Connect(*natsURL, "cardio-monitor"); err != nil {
			router.Close()
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Close()
		if *natsOut != "" {
			subject := *natsOut
			consumer.AddSink(func(snap *store.Snapshot) {
				if err := acquire.PublishSnapshot(nc, subject, snap); err != nil {
					log.Printf("publish snapshot: %v", err)
				}
			})
		}
	}

	feed := &feeder{router: router, stream: *streamID}
	paramsJSON, err := json.Marshal(config.FromParams(params))
	if err != nil {
		router.Close()
		return err
	}
	sessions := newSessionLog(database, src, paramsJSON, *metricsEvery, feed.Chunks)
	sessions.recordingDir = *recordDir
	consumer.AddSink(sessions.Observe)

	var mux serialmux.SerialMuxInterface
	switch src {
	case sourceDev:
		mux = serialmux.NewSerialMux(serialmux.NewSyntheticPort(physio.SynthOptions{
			FS: params.FS, HeartBPM: 66, ModDepthBPM: 4, ModHz: 0.25, Noise: 0.02, Seed: time.Now().UnixNano(),
		}, 40*time.Millisecond))
		*column = serialmux.SyntheticColumn
	case sourceSerial:
		sm, err := serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baud})
		if err != nil {
			router.Close()
			return fmt.Errorf("failed to open serial port: %w", err)
		}
		mux = sm
	default:
		mux = serialmux.NewDisabledSerialMux()
	}
	defer mux.Close()
	if err := mux.Initialise(params.FS); err != nil {
		router.Close()
		return fmt.Errorf("failed to initialise board: %w", err)
	}

	health := api.NewHealth()
	health.WatchDone(api.RouterService, router.Done())
	if *grpcListen != "" {
		if err := health.Start(*grpcListen); err != nil {
			router.Close()
			return fmt.Errorf("failed to start gRPC health: %w", err)
		}
		log.Printf("gRPC health listening on %s", health.Addr())
	}
	defer health.Stop()

	apiServer, err := api.NewServer(consumer, router, api.Options{
		DB:           database,
		Hub:          hub,
		Gatherer:     reg,
		RecordingDir: *recordDir,
		Units:        *units,
	})
	if err != nil {
		router.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// acquisition stops first, then the router drains into the consumer
	var acq sync.WaitGroup
	if src == sourceNATS {
		acq.Add(1)
		go func() {
			defer acq.Done()
			if err := feed.fromNATS(ctx, nc, *natsIn, params.FS); err != nil {
				log.Printf("nats acquisition: %v", err)
			}
			log.Print("nats routine terminated")
		}()
	} else {
		acq.Add(2)
		go func() {
			defer acq.Done()
			if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("monitor routine terminated")
		}()
		go func() {
			defer acq.Done()
			if err := feed.fromSerial(ctx, mux, params.FS, *chunkSize, *column); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("serial acquisition: %v", err)
			}
			log.Print("acquisition routine terminated")
		}()
	}

	consumerDone := make(chan error, 1)
	go func() { consumerDone <- consumer.Run(context.Background(), *tick) }()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		httpMux := apiServer.ServeMux()
		mux.AttachAdminRoutes(httpMux)
		if err := database.AttachAdminRoutes(httpMux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(httpMux),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("HTTP listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	select {
	case <-ctx.Done():
	case err := <-consumerDone:
		// the consumer only returns early on a store or router fault
		log.Printf("consumer stopped: %v", err)
		stop()
		consumerDone <- err
	}

	acq.Wait()
	if st := mux.Stats(); st.Lines > 0 {
		log.Printf("serial: %d lines, %d dropped", st.Lines, st.Dropped)
	}
	if err := router.Close(); err != nil && !errors.Is(err, physio.ErrChannelClosed) {
		log.Printf("router close: %v", err)
	}
	if err := <-consumerDone; err != nil {
		log.Printf("consumer: %v", err)
	}
	sessions.Finish()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return nil
}
