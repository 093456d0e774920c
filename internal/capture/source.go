package capture

import (
	"encoding/base64"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// DefaultJPEGQuality is the JPEG quality used for streamed frames (0-100).
const DefaultJPEGQuality = 70

// Source turns a Camera into a producer of compressed still frames.
// It is the capability handed to the capture loop and the preview stream.
type Source struct {
	camera  Camera
	quality int
	motion  *MotionDetector

	mu     sync.Mutex
	ready  bool
	width  int
	height int
}

// NewSource wraps camera. A quality outside 1..100 falls back to DefaultJPEGQuality.
func NewSource(camera Camera, quality int) *Source {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Source{
		camera:  camera,
		quality: quality,
	}
}

// SetMotionGate makes CaptureFrame skip frames in which md sees no motion.
// Passing nil disables the gate.
func (s *Source) SetMotionGate(md *MotionDetector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motion = md
}

// Start acquires the camera. The source becomes ready once a first frame has
// been read, which is when the stream resolution is known.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	if err := s.camera.Open(); err != nil {
		return classifyOpenError(err)
	}

	frame, err := s.camera.ReadFrame()
	if err != nil {
		s.camera.Close()
		return fmt.Errorf("%w: %v", ErrDeviceError, err)
	}
	s.width, s.height = frame.Cols(), frame.Rows()
	frame.Close()

	s.ready = true
	return nil
}

// Stop releases the camera. Calling Stop on a source that never started is a no-op.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready && !s.camera.IsOpen() {
		return nil
	}

	s.ready = false
	s.width, s.height = 0, 0
	if s.motion != nil {
		s.motion.Reset()
	}
	return s.camera.Close()
}

// Ready reports whether frames can be captured.
func (s *Source) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Resolution returns the current stream size, or zeros when not ready.
func (s *Source) Resolution() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// CaptureFrame returns the current frame as base64 JPEG without a data-URI
// prefix. It returns false when no frame is available: the source is not
// ready, the read or encode failed, or the motion gate saw a still scene.
func (s *Source) CaptureFrame() (string, bool) {
	frame, ok := s.read()
	if !ok {
		return "", false
	}
	defer frame.Close()

	if md := s.motionGate(); md != nil {
		if moved, _ := md.Detect(frame); !moved {
			return "", false
		}
	}

	data, err := s.encode(frame)
	if err != nil {
		return "", false
	}
	return base64.StdEncoding.EncodeToString(data), true
}

// EncodeFrame returns the current frame as raw JPEG bytes, bypassing the
// motion gate. It is used by the preview stream.
func (s *Source) EncodeFrame() ([]byte, bool) {
	frame, ok := s.read()
	if !ok {
		return nil, false
	}
	defer frame.Close()

	data, err := s.encode(frame)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *Source) read() (*gocv.Mat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil, false
	}

	frame, err := s.camera.ReadFrame()
	if err != nil || frame == nil {
		return nil, false
	}
	if frame.Empty() {
		frame.Close()
		return nil, false
	}

	s.width, s.height = frame.Cols(), frame.Rows()
	return frame, true
}

func (s *Source) motionGate() *MotionDetector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motion
}

func (s *Source) encode(frame *gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *frame, []int{int(gocv.IMWriteJpegQuality), s.quality})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases C memory that Close frees.
	src := buf.GetBytes()
	data := make([]byte, len(src))
	copy(data, src)
	return data, nil
}
