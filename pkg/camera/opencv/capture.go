// Package opencv captures camera frames with OpenCV.
package opencv

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-eyetouch/pkg/camera"
	"github.com/teslashibe/go-eyetouch/pkg/gaze"
)

// Capture reads frames from a local video device and encodes them as JPEG.
type Capture struct {
	cfg    camera.Config
	webcam *gocv.VideoCapture
	img    gocv.Mat
	start  time.Time

	mu     sync.Mutex // Protects the device
	closed bool
}

// Open opens the device named in cfg and applies the requested resolution
// and frame rate.
func Open(cfg camera.Config) (*Capture, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid camera config: %v", errs)
	}

	webcam, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", cfg.Device, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, fmt.Errorf("camera %d not available", cfg.Device)
	}

	c := &Capture{
		webcam: webcam,
		img:    gocv.NewMat(),
		start:  time.Now(),
	}
	c.apply(cfg)
	return c, nil
}

// Apply changes the capture settings. Use it as camera.Manager.OnConfigChange.
func (c *Capture) Apply(cfg camera.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if cfg.Device != c.cfg.Device {
		return fmt.Errorf("changing device requires a restart")
	}
	c.apply(cfg)
	return nil
}

func (c *Capture) apply(cfg camera.Config) {
	c.webcam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	c.webcam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	c.webcam.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	c.cfg = cfg
}

// ReadFrame implements camera.FrameSource.
func (c *Capture) ReadFrame(ctx context.Context) (gaze.Frame, error) {
	if err := ctx.Err(); err != nil {
		return gaze.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return gaze.Frame{}, io.EOF
	}

	if ok := c.webcam.Read(&c.img); !ok {
		return gaze.Frame{}, fmt.Errorf("camera %d: read failed", c.cfg.Device)
	}
	ts := time.Since(c.start).Seconds()
	if c.img.Empty() {
		return gaze.Frame{}, fmt.Errorf("camera %d: empty frame", c.cfg.Device)
	}

	if c.cfg.Mirror {
		gocv.Flip(c.img, &c.img, 1)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.img, []int{int(gocv.IMWriteJpegQuality), c.cfg.Quality})
	if err != nil {
		return gaze.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := append([]byte(nil), buf.GetBytes()...)
	return gaze.Frame{
		Data:      data,
		Width:     c.img.Cols(),
		Height:    c.img.Rows(),
		Timestamp: ts,
	}, nil
}

// Close releases the device.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.img.Close()
	return c.webcam.Close()
}
