package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"gocv.io/x/gocv"
)

func newTestSource(t *testing.T, loop bool) (*Source, *MockCamera) {
	t.Helper()

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { frame.Close() })

	cam := NewMockCamera([]*gocv.Mat{&frame}, loop)
	return NewSource(cam, DefaultJPEGQuality), cam
}

func TestSource_CaptureFrame_NotReady(t *testing.T) {
	src, _ := newTestSource(t, true)

	img, ok := src.CaptureFrame()
	if ok || img != "" {
		t.Errorf("CaptureFrame() before Start = (%q, %v), want (\"\", false)", img, ok)
	}
	if src.Ready() {
		t.Error("source should not be ready before Start")
	}
}

func TestSource_StartCaptureStop(t *testing.T) {
	src, cam := newTestSource(t, true)

	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !src.Ready() {
		t.Fatal("source should be ready after Start")
	}
	if w, h := src.Resolution(); w != 640 || h != 480 {
		t.Errorf("Resolution() = %dx%d, want 640x480", w, h)
	}

	img, ok := src.CaptureFrame()
	if !ok {
		t.Fatal("CaptureFrame() returned no frame")
	}
	if strings.HasPrefix(img, "data:") {
		t.Error("frame must not carry a data-URI prefix")
	}
	raw, err := base64.StdEncoding.DecodeString(img)
	if err != nil {
		t.Fatalf("frame is not base64: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte{0xFF, 0xD8}) {
		t.Error("frame is not a JPEG (missing SOI marker)")
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if src.Ready() || cam.IsOpen() {
		t.Error("Stop() should release the camera and clear readiness")
	}
	if _, ok := src.CaptureFrame(); ok {
		t.Error("CaptureFrame() after Stop should return no frame")
	}
}

func TestSource_StartTwiceOpensOnce(t *testing.T) {
	src, cam := newTestSource(t, true)

	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := src.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if got := cam.Opens(); got != 1 {
		t.Errorf("camera opened %d times, want 1", got)
	}
}

func TestSource_StopIdempotent(t *testing.T) {
	src, _ := newTestSource(t, true)

	if err := src.Stop(); err != nil {
		t.Errorf("Stop() before Start error = %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestSource_StartErrors(t *testing.T) {
	tests := []struct {
		name    string
		openErr error
		frames  bool
		want    error
	}{
		{name: "permission refused", openErr: errors.New("camera access denied"), want: ErrPermissionDenied},
		{name: "no device", openErr: errors.New("Error opening device: 0"), want: ErrDeviceUnavailable},
		{name: "no frames", frames: false, want: ErrDeviceError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewMockCamera(nil, false)
			if tt.openErr != nil {
				cam.SetOpenError(tt.openErr)
			}
			src := NewSource(cam, 0)

			err := src.Start()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Start() error = %v, want %v", err, tt.want)
			}
			if src.Ready() {
				t.Error("source should not be ready after a failed Start")
			}
			if cam.IsOpen() {
				t.Error("camera should be released after a failed Start")
			}
		})
	}
}

func TestSource_ReadFailureIsNotAnError(t *testing.T) {
	src, _ := newTestSource(t, false)

	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// The only frame was consumed by Start; further reads fail quietly.
	if img, ok := src.CaptureFrame(); ok || img != "" {
		t.Errorf("CaptureFrame() = (%q, %v), want no frame", img, ok)
	}
}

func TestSource_MotionGate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	src, _ := newTestSource(t, true)
	md := NewMotionDetector(1.0)
	defer md.Close()
	src.SetMotionGate(md)

	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// A looping black frame never moves: the baseline and every later frame are gated.
	for i := 0; i < 3; i++ {
		if _, ok := src.CaptureFrame(); ok {
			t.Fatalf("tick %d: still scene should be gated", i)
		}
	}

	// The preview path ignores the gate.
	if _, ok := src.EncodeFrame(); !ok {
		t.Error("EncodeFrame() should bypass the motion gate")
	}
}

func TestNewSource_QualityFallback(t *testing.T) {
	for _, q := range []int{-1, 0, 101} {
		src := NewSource(NewMockCamera(nil, false), q)
		if src.quality != DefaultJPEGQuality {
			t.Errorf("NewSource(quality=%d).quality = %d, want %d", q, src.quality, DefaultJPEGQuality)
		}
	}
}
