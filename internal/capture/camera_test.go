package capture

import (
	"errors"
	"testing"
)

func TestNewCamera(t *testing.T) {
	for _, deviceID := range []int{0, 1, 2} {
		cam := NewCamera(deviceID)
		if cam == nil {
			t.Fatalf("NewCamera(%d) returned nil", deviceID)
		}
		if got := cam.FPS(); got != DefaultFPS {
			t.Errorf("device %d: FPS() = %d, want %d", deviceID, got, DefaultFPS)
		}
		if cam.IsOpen() {
			t.Errorf("device %d: camera should not be open initially", deviceID)
		}
	}
}

func TestCamera_SetFPS(t *testing.T) {
	cam := NewCamera(0)

	tests := []struct {
		name    string
		fps     int
		wantFPS int
	}{
		{name: "set to 15", fps: 15, wantFPS: 15},
		{name: "set to 1", fps: 1, wantFPS: 1},
		{name: "zero keeps previous", fps: 0, wantFPS: 1},
		{name: "negative keeps previous", fps: -5, wantFPS: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam.SetFPS(tt.fps)
			if got := cam.FPS(); got != tt.wantFPS {
				t.Errorf("FPS() = %d, want %d", got, tt.wantFPS)
			}
		})
	}
}

func TestCamera_ReadFrame_NotOpened(t *testing.T) {
	cam := NewCamera(0)

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() error = %v, want ErrCameraNotOpen", err)
	}
}

func TestCamera_Close_NotOpened(t *testing.T) {
	cam := NewCamera(0)

	if err := cam.Close(); err != nil {
		t.Errorf("Close() on not opened camera should return nil, got: %v", err)
	}
}

func TestCamera_OpenClose_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cam := NewCamera(0)
	if err := cam.Open(); err != nil {
		t.Skipf("skipping test - camera not available: %v", err)
	}

	if !cam.IsOpen() {
		t.Error("IsOpen() should return true after Open()")
	}

	mat, err := cam.ReadFrame()
	if err != nil {
		t.Errorf("ReadFrame() failed: %v", err)
	} else {
		if mat.Cols() != DefaultWidth || mat.Rows() != DefaultHeight {
			t.Logf("frame is %dx%d (camera may not support %dx%d)", mat.Cols(), mat.Rows(), DefaultWidth, DefaultHeight)
		}
		mat.Close()
	}

	if err := cam.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if cam.IsOpen() {
		t.Error("IsOpen() should return false after Close()")
	}
}

func TestClassifyOpenError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "missing device", err: errors.New("Error opening device: 3"), want: ErrDeviceUnavailable},
		{name: "macOS authorization", err: errors.New("camera access not authorized"), want: ErrPermissionDenied},
		{name: "linux permission", err: errors.New("open /dev/video0: permission denied"), want: ErrPermissionDenied},
		{name: "already classified", err: ErrDeviceError, want: ErrDeviceError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyOpenError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classifyOpenError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if classifyOpenError(nil) != nil {
		t.Error("classifyOpenError(nil) should be nil")
	}
}
