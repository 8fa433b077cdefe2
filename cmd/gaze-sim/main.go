// Command gaze-sim is a stand-in gaze estimator. It fixates a sequence of
// grid regions and streams samples to the harness over the ingest websocket
// or the MQTT bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-eyetouch/internal/httpc"
	"github.com/teslashibe/go-eyetouch/internal/log"
	"github.com/teslashibe/go-eyetouch/pkg/camera"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/mqttbus"
	"github.com/teslashibe/go-eyetouch/pkg/protocol"
	"github.com/teslashibe/go-eyetouch/pkg/region"
)

func main() {
	mode := flag.String("mode", "ws", "Transport: ws or mqtt")
	url := flag.String("url", "ws://localhost:8080/ws/gaze", "Ingest websocket URL")
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker")
	id := flag.String("id", "sim", "Estimator ID (MQTT topic segment)")
	rows := flag.Int("rows", 3, "Grid rows")
	cols := flag.Int("cols", 3, "Grid columns")
	width := flag.Float64("width", 1920, "Screen width")
	height := flag.Float64("height", 1080, "Screen height")
	path := flag.String("path", "4", "Comma-separated region IDs to fixate in order")
	hold := flag.Duration("hold", 2500*time.Millisecond, "Fixation time per region")
	fps := flag.Int("fps", 30, "Samples per second")
	jitter := flag.Float64("jitter", 30, "Gaze jitter in pixels")
	loop := flag.Bool("loop", false, "Repeat the path until interrupted")
	drive := flag.Bool("drive", false, "Run a session with one dwell trial per region through the operator API")
	api := flag.String("api", "http://localhost:8080", "Operator API base URL (with -drive)")
	flag.Parse()

	log.Init("info")
	logger := log.Component("gaze-sim")

	grid, err := region.Build(*rows, *cols, region.Screen(*width, *height))
	if err != nil {
		fmt.Fprintf(os.Stderr, "grid: %v\n", err)
		os.Exit(1)
	}
	targets, err := parsePath(*path, grid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "path: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n👋 Stopping simulator...")
		cancel()
	}()

	var send func(gaze.Sample) error
	switch *mode {
	case "ws":
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
		if err != nil {
			logger.Error("connect failed", "url", *url, "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		send = func(s gaze.Sample) error {
			msg, err := protocol.NewGazeMessage(s)
			if err != nil {
				return err
			}
			data, err := msg.Bytes()
			if err != nil {
				return err
			}
			return conn.WriteMessage(websocket.TextMessage, data)
		}
	case "mqtt":
		cfg := mqttbus.DefaultConfig()
		cfg.Broker = *broker
		cfg.ClientID = "gaze-sim-" + *id
		client, err := mqttbus.Connect(cfg)
		if err != nil {
			logger.Error("connect failed", "broker", *broker, "error", err)
			os.Exit(1)
		}
		defer client.Disconnect(250)
		topic := mqttbus.GazeTopic(cfg.GazeTopic, *id)
		send = func(s gaze.Sample) error {
			return mqttbus.PublishGaze(client, topic, cfg.QoS, s)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(1)
	}

	camCfg := camera.DefaultConfig()
	camCfg.Framerate = *fps
	frames := camera.NewTicker(camCfg)
	defer frames.Close()

	mock := gaze.NewMockEstimator(*width, *height, time.Now().UnixNano())
	mock.Jitter = *jitter

	fmt.Printf("👁️  gaze-sim (%s): path %v, %v per region\n", *mode, targets, *hold)

	var op *httpc.Operator
	if *drive {
		op = httpc.NewOperator(*api)
		sessionID, err := op.StartSession(ctx)
		if err != nil {
			logger.Error("start session failed", "error", err)
			os.Exit(1)
		}
		logger.Info("session started", "session", sessionID)
		defer endSession(op, logger)
	}

	var sent uint64
	for {
		for _, target := range targets {
			r, _ := grid.Region(target)
			cx, cy := r.Center()
			if op != nil {
				if _, err := op.StartDwell(ctx, target); err != nil {
					logger.Warn("start dwell failed", "region", r.Name, "error", err)
				}
			}
			deadline := time.Now().Add(*hold)
			logger.Info("fixating", "region", r.Name)

			for time.Now().Before(deadline) {
				frame, err := frames.ReadFrame(ctx)
				if err != nil {
					logger.Info("simulator stopped", "sent", sent)
					return
				}
				s, err := mock.Estimate(frame)
				if err != nil {
					continue
				}
				// The mock centres on the screen; shift it onto the target.
				s = s.WithPoint(cx+s.X-*width/2, cy+s.Y-*height/2)
				if err := send(s); err != nil {
					logger.Error("send failed", "error", err)
					return
				}
				sent++
			}
		}
		if !*loop {
			logger.Info("path complete", "sent", sent)
			return
		}
	}
}

// endSession closes the driven session and prints its score.
func endSession(op *httpc.Operator, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sum, err := op.EndSession(ctx)
	if err != nil {
		logger.Error("end session failed", "error", err)
		return
	}
	fmt.Printf("📊 Session %s: %d/%d successful (%.0f%%), mean accuracy %.3f\n",
		sum.SessionID, sum.Successful, sum.Total, sum.SuccessRate*100, sum.MeanAccuracy)
}

// parsePath reads a comma-separated list of region IDs.
func parsePath(path string, grid *region.Grid) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(path, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad region %q: %w", part, err)
		}
		if !grid.Has(id) {
			return nil, fmt.Errorf("region %d is not on a %dx%d grid", id, grid.Rows(), grid.Cols())
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	return ids, nil
}
