// Package camera reads frames from a local video device and displays them
// with recognition overlays using OpenCV.
package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/imagesource"
)

var (
	acceptedColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	rejectedColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	hintColor     = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Camera is an imagesource.Source backed by a gocv VideoCapture. Device is
// either a device index or a stream URL.
type Camera struct {
	device  string
	logger  *zap.Logger
	capture *gocv.VideoCapture
	frame   gocv.Mat
	seq     int
}

func New(device string, logger *zap.Logger) *Camera {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Camera{device: device, logger: logger}
}

func (c *Camera) Open(ctx context.Context) error {
	capture, err := gocv.OpenVideoCapture(c.device)
	if err != nil {
		return fmt.Errorf("%w: open device %q: %w", faceid.ErrCapture, c.device, err)
	}
	c.capture = capture
	c.frame = gocv.NewMat()
	c.logger.Info("camera opened", zap.String("device", c.device))
	return nil
}

// Next grabs one frame and encodes it as JPEG.
func (c *Camera) Next(ctx context.Context) (imagesource.Frame, error) {
	if err := ctx.Err(); err != nil {
		return imagesource.Frame{}, fmt.Errorf("%w: %w", faceid.ErrCancelled, err)
	}
	if c.capture == nil {
		return imagesource.Frame{}, fmt.Errorf("%w: camera not opened", faceid.ErrCapture)
	}
	if ok := c.capture.Read(&c.frame); !ok || c.frame.Empty() {
		return imagesource.Frame{}, fmt.Errorf("%w: failed to read frame from %q", faceid.ErrCapture, c.device)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, c.frame)
	if err != nil {
		return imagesource.Frame{}, fmt.Errorf("%w: encode frame: %w", faceid.ErrCapture, err)
	}
	defer buf.Close()

	c.seq++
	data := append([]byte(nil), buf.GetBytes()...)
	return imagesource.Frame{Seq: c.seq, Data: data}, nil
}

func (c *Camera) Close() error {
	if c.capture == nil {
		return nil
	}
	c.frame.Close()
	err := c.capture.Close()
	c.capture = nil
	c.logger.Info("camera released", zap.String("device", c.device))
	return err
}

// Window shows frames in a desktop window.
type Window struct {
	window *gocv.Window
}

func NewWindow(title string) *Window {
	return &Window{window: gocv.NewWindow(title)}
}

// Render draws the overlays on the frame, shows it and reports whether the
// operator pressed q.
func (w *Window) Render(ctx context.Context, frame imagesource.Frame, overlays []imagesource.Overlay) (bool, error) {
	img, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return false, fmt.Errorf("%w: decode frame: %w", faceid.ErrDecode, err)
	}
	defer img.Close()

	for _, overlay := range overlays {
		if overlay.Box != nil {
			drawLabel(&img, overlay)
		}
	}
	return w.show(img) == 'q', nil
}

// WaitCapture previews frames from src until the operator presses c to take
// the current one or q to cancel.
func (w *Window) WaitCapture(ctx context.Context, src imagesource.Source, hint string) (imagesource.Frame, error) {
	for {
		frame, err := src.Next(ctx)
		if err != nil {
			return imagesource.Frame{}, err
		}
		img, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
		if err != nil {
			return imagesource.Frame{}, fmt.Errorf("%w: decode frame: %w", faceid.ErrDecode, err)
		}
		gocv.PutText(&img, hint, image.Point{X: 10, Y: 30}, gocv.FontHersheySimplex, 0.8, hintColor, 2)
		key := w.show(img)
		img.Close()

		switch key {
		case 'c':
			return frame, nil
		case 'q':
			return imagesource.Frame{}, fmt.Errorf("%w: capture cancelled by operator", faceid.ErrCancelled)
		}
	}
}

func (w *Window) show(img gocv.Mat) int {
	w.window.IMShow(img)
	return w.window.WaitKey(1) & 0xff
}

func (w *Window) Close() error {
	return w.window.Close()
}

func drawLabel(img *gocv.Mat, overlay imagesource.Overlay) {
	box := overlay.Box
	rect := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height)
	c := rejectedColor
	if overlay.Accepted {
		c = acceptedColor
	}
	gocv.Rectangle(img, rect, c, 2)

	y := rect.Min.Y - 10
	if y < 15 {
		y = rect.Max.Y + 20
	}
	gocv.PutText(img, overlay.Label, image.Point{X: rect.Min.X, Y: y}, gocv.FontHersheySimplex, 0.8, c, 2)
}

// CaptureSource adapts a camera plus window into an enrollment source where
// each sample is taken on keypress.
type CaptureSource struct {
	camera *Camera
	window *Window
	hint   string
}

func NewCaptureSource(camera *Camera, window *Window, hint string) *CaptureSource {
	return &CaptureSource{camera: camera, window: window, hint: hint}
}

func (s *CaptureSource) Open(ctx context.Context) error { return s.camera.Open(ctx) }

func (s *CaptureSource) Next(ctx context.Context) (imagesource.Frame, error) {
	return s.window.WaitCapture(ctx, s.camera, s.hint)
}

func (s *CaptureSource) Close() error { return s.camera.Close() }
