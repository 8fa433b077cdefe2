// Command eyetouch runs the gaze interaction test harness: the engine, its
// gaze sources, the operator API and the result archive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/teslashibe/go-eyetouch/internal/config"
	"github.com/teslashibe/go-eyetouch/internal/log"
	"github.com/teslashibe/go-eyetouch/pkg/archive"
	"github.com/teslashibe/go-eyetouch/pkg/camera"
	"github.com/teslashibe/go-eyetouch/pkg/camera/opencv"
	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/hub"
	"github.com/teslashibe/go-eyetouch/pkg/ingest"
	"github.com/teslashibe/go-eyetouch/pkg/mqttbus"
	"github.com/teslashibe/go-eyetouch/pkg/results"
	"github.com/teslashibe/go-eyetouch/pkg/source"
	"github.com/teslashibe/go-eyetouch/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	sourceKind := flag.String("source", "", "Gaze source: ingest, mqtt, websocket, replay, camera, mock")
	addr := flag.String("addr", "", "Operator API listen address")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *sourceKind != "" {
		cfg.Source.Kind = *sourceKind
	}
	if *addr != "" {
		cfg.Web.Addr = *addr
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.LogLevel)
	logger := log.Component("main")

	fmt.Println("👁️  eyetouch gaze interaction harness")
	fmt.Printf("   Grid:   %dx%d on %.0fx%.0f\n", cfg.Engine.GridRows, cfg.Engine.GridCols, cfg.Engine.ScreenWidth, cfg.Engine.ScreenHeight)
	fmt.Printf("   Dwell:  %v (timeout %v)\n", cfg.Engine.DwellThreshold, cfg.Engine.MaxTrialDuration)
	fmt.Printf("   Source: %s\n", cfg.Source.Kind)
	fmt.Printf("   API:    %s\n", cfg.Web.Addr)
	fmt.Println()

	if err := run(cfg); err != nil {
		logger.Error("harness stopped", "error", err)
		os.Exit(1)
	}
	fmt.Println("👋 Goodbye!")
}

func run(cfg config.Config) error {
	logger := log.Component("main")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n👋 Shutting down...")
		cancel()
	}()

	feedback := hub.New("feedback")
	notifiers := engine.Notifiers{feedback}

	// MQTT bus (optional)
	var mqttSource *mqttbus.Source
	if cfg.MQTT.Enabled {
		client, err := mqttbus.Connect(cfg.MQTT.Config)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)

		pub := mqttbus.NewPublisher(client, cfg.MQTT.EventTopic, cfg.MQTT.QoS)
		go pub.Start(ctx)
		notifiers = append(notifiers, pub)

		if cfg.Source.Kind == config.SourceMQTT {
			mqttSource, err = mqttbus.NewSource(client, cfg.MQTT.GazeTopic, cfg.MQTT.QoS, cfg.InboxCapacity)
			if err != nil {
				return err
			}
		}
	}

	// The web server is built after the runner it controls but also
	// receives engine events, so it is bound late.
	var server *web.Server
	notifiers = append(notifiers, engine.NotifierFunc(func(ev engine.Event) {
		if server != nil {
			server.Notify(ev)
		}
	}))

	engCfg := cfg.Engine
	engCfg.Logger = log.Component("engine")
	eng, err := engine.New(engCfg, notifiers)
	if err != nil {
		return err
	}
	runner := engine.NewRunner(eng, engine.NewInbox(cfg.InboxCapacity))

	// Archive and CSV export on session end
	var store *archive.Store
	if cfg.ArchivePath != "" {
		store, err = archive.Open(cfg.ArchivePath)
		if err != nil {
			return err
		}
		defer store.Close()
	}
	runner.OnSessionEnd(func(s *engine.Session) {
		if store != nil {
			saveCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			if err := store.Save(saveCtx, s); err != nil {
				logger.Warn("archive save failed", "session", s.ID, "error", err)
			}
			done()
		}
		if cfg.ExportDir != "" {
			if err := exportCSV(cfg.ExportDir, s); err != nil {
				logger.Warn("csv export failed", "session", s.ID, "error", err)
			}
		}
	})

	ingestHub := ingest.NewHub(runner.Inbox(), runner)
	camMgr := camera.NewManager(cfg.Camera)

	opts := web.Options{
		Addr:       cfg.Web.Addr,
		StaticDir:  cfg.Web.StaticDir,
		Controller: runner,
		Grid:       eng.Grid(),
		Feedback:   feedback,
		Ingest:     ingestHub,
		Camera:     camMgr,
	}
	if store != nil {
		opts.Archive = store
	}
	server = web.NewServer(opts)

	src, err := openSource(ctx, cfg, mqttSource, camMgr)
	if err != nil {
		return err
	}

	go feedback.Run(ctx)
	go publishStatus(ctx, feedback, runner)
	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(ctx) }()

	if src != nil {
		defer src.Close()
		go func() {
			st, err := source.Pump(ctx, src, runner.Inbox(), log.Component("source"))
			if err != nil {
				logger.Error("gaze source failed", "error", err)
			}
			logger.Info("gaze pump stopped", "forwarded", st.Forwarded, "dropped", st.Dropped)
		}()
	}

	server.StartAsync()
	logger.Info("harness ready", "addr", cfg.Web.Addr, "source", cfg.Source.Kind)

	<-ctx.Done()
	if err := <-runnerDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("runner stopped", "error", err)
	}
	stats := runner.Stats()
	logger.Info("runner stats", "processed", stats.Processed, "faults", stats.Faults, "rejected", stats.Rejected, "dropped", stats.Dropped)
	return server.Shutdown()
}

// openSource builds the gaze source named in cfg. The ingest source returns
// nil because estimators push through the web server.
func openSource(ctx context.Context, cfg config.Config, mqttSource *mqttbus.Source, camMgr *camera.Manager) (source.Source, error) {
	switch cfg.Source.Kind {
	case config.SourceIngest:
		return nil, nil
	case config.SourceMQTT:
		return mqttSource, nil
	case config.SourceWebSocket:
		return source.DialWebSocket(ctx, cfg.Source.URL, nil, log.Component("gaze-ws"))
	case config.SourceReplay:
		f, err := os.Open(cfg.Source.ReplayPath)
		if err != nil {
			return nil, fmt.Errorf("open replay: %w", err)
		}
		defer f.Close()
		rp, err := source.LoadReplay(f)
		if err != nil {
			return nil, err
		}
		rp.Speed = cfg.Source.Speed
		return rp, nil
	case config.SourceCamera:
		capture, err := opencv.Open(cfg.Camera)
		if err != nil {
			return nil, err
		}
		camMgr.OnConfigChange = capture.Apply
		mock := gaze.NewMockEstimator(cfg.Engine.ScreenWidth, cfg.Engine.ScreenHeight, time.Now().UnixNano())
		return camera.NewEstimatorSource(capture, mock.Func(), log.Component("camera")), nil
	case config.SourceMock:
		mock := gaze.NewMockEstimator(cfg.Engine.ScreenWidth, cfg.Engine.ScreenHeight, time.Now().UnixNano())
		return camera.NewEstimatorSource(camera.NewTicker(cfg.Camera), mock.Func(), log.Component("camera")), nil
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

// publishStatus sends the engine status to feedback displays once a second.
func publishStatus(ctx context.Context, feedback *hub.Hub, runner *engine.Runner) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := feedback.PublishStatus(runner.Status()); err != nil {
				log.Warn("status publish failed", "error", err)
			}
		}
	}
}

// exportCSV writes the ended session to dir/<session id>.csv.
func exportCSV(dir string, s *engine.Session) error {
	data, err := results.Export(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, s.ID+".csv"), data, 0o644)
}
