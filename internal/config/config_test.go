package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lend.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

// TestLoadAppliesDefaults verifies a minimal config fills in every default.
func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
camera:
  source: /dev/video0
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.InstanceID != "lend-01" {
		t.Errorf("unexpected instance id %q", cfg.InstanceID)
	}
	if cfg.Camera.Driver != "gstreamer" || cfg.Camera.Width != 640 || cfg.Camera.Height != 480 || cfg.Camera.FPS != 30 {
		t.Errorf("unexpected camera defaults: %+v", cfg.Camera)
	}
	if cfg.Pipeline.TriggerMode != "motion" || cfg.Pipeline.WarmupFrames != 60 {
		t.Errorf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.SettleTime() != 1500*time.Millisecond {
		t.Errorf("unexpected settle time %v", cfg.Pipeline.SettleTime())
	}
	if cfg.Pipeline.Cooldown() != 5*time.Second {
		t.Errorf("unexpected cooldown %v", cfg.Pipeline.Cooldown())
	}
	if cfg.Pipeline.TickInterval() != time.Second/30 {
		t.Errorf("unexpected tick interval %v", cfg.Pipeline.TickInterval())
	}
	if cfg.Vision.Model != "gemini-2.0-flash" || cfg.Vision.APIKeyEnv != "GEMINI_API_KEY" {
		t.Errorf("unexpected vision defaults: %+v", cfg.Vision)
	}
	if cfg.Records.DBPath != "data/donations.db" {
		t.Errorf("unexpected db path %q", cfg.Records.DBPath)
	}
	if cfg.API.Listen != ":8080" {
		t.Errorf("unexpected listen addr %q", cfg.API.Listen)
	}
	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("unexpected shutdown timeout %v", cfg.ShutdownTimeout())
	}
	if cfg.Arm.Enabled {
		t.Error("arm should default to disabled")
	}
}

// TestLoadValidationFailures walks the common misconfigurations.
func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing camera source",
			yaml:    "instance_id: lend-01\n",
			wantErr: "camera.source",
		},
		{
			name: "bad driver",
			yaml: `
camera:
  source: /dev/video0
  driver: ffmpeg
`,
			wantErr: "camera.driver",
		},
		{
			name: "v4l2 cannot read rtsp",
			yaml: `
camera:
  source: rtsp://cam.local/stream
  driver: v4l2
`,
			wantErr: "rtsp",
		},
		{
			name: "odd camera width",
			yaml: `
camera:
  source: /dev/video0
  width: 641
`,
			wantErr: "camera.width",
		},
		{
			name: "bad trigger mode",
			yaml: `
camera:
  source: /dev/video0
pipeline:
  trigger_mode: timer
`,
			wantErr: "trigger_mode",
		},
		{
			name: "bad fallback category",
			yaml: `
camera:
  source: /dev/video0
pipeline:
  fallback_category: gadget
`,
			wantErr: "fallback_category",
		},
		{
			name: "uppercase instance id",
			yaml: `
instance_id: Lend01
camera:
  source: /dev/video0
`,
			wantErr: "instance_id",
		},
		{
			name: "arm enabled without port",
			yaml: `
camera:
  source: /dev/video0
arm:
  enabled: true
`,
			wantErr: "arm",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

// TestLoadArmPoses verifies enabled arms need a full calibration and that a
// missing bin is called out by name.
func TestLoadArmPoses(t *testing.T) {
	base := `
camera:
  source: /dev/video0
arm:
  enabled: true
  port: /dev/ttyUSB0
  gripper_open: 200
  gripper_close: 620
  poses:
    home: [200, 500, 500, 500, 500, 500]
    pickup: [200, 610, 420, 280, 660, 500]
    bins:
      fruit: [200, 500, 420, 300, 650, 160]
      snack: [200, 500, 420, 300, 650, 500]
      drink: [200, 500, 420, 300, 650, 840]
`
	cfg, err := Load(writeConfig(t, base))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Arm.MoveMS != 1500 || cfg.Arm.Baud != 9600 {
		t.Errorf("unexpected arm defaults: %+v", cfg.Arm)
	}

	missingBin := strings.Replace(base, "      drink: [200, 500, 420, 300, 650, 840]\n", "", 1)
	if _, err := Load(writeConfig(t, missingBin)); err == nil || !strings.Contains(err.Error(), "drink") {
		t.Errorf("expected missing drink bin error, got %v", err)
	}

	shortPose := strings.Replace(base, "home: [200, 500, 500, 500, 500, 500]", "home: [200, 500]", 1)
	if _, err := Load(writeConfig(t, shortPose)); err == nil || !strings.Contains(err.Error(), "home") {
		t.Errorf("expected short home pose error, got %v", err)
	}
}

// TestLoadMissingFile verifies a readable error for an absent path.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
