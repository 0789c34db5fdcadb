package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/projectlend/lend/internal/types"
)

// Config represents the complete lend daemon configuration
type Config struct {
	InstanceID       string         `yaml:"instance_id"`
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s"` // graceful shutdown timeout (default: 5)
	Camera           CameraConfig   `yaml:"camera"`
	Pipeline         PipelineConfig `yaml:"pipeline"`
	Vision           VisionConfig   `yaml:"vision"`
	Arm              ArmConfig      `yaml:"arm"`
	Records          RecordsConfig  `yaml:"records"`
	API              APIConfig      `yaml:"api"`
	MQTT             MQTTConfig     `yaml:"mqtt"`
}

// CameraConfig contains camera capture settings
type CameraConfig struct {
	// Source is a V4L2 device path, an rtsp:// URL, or "mock"
	Source string `yaml:"source"`
	// Driver selects the capture backend: gstreamer | v4l2 | mock
	Driver string `yaml:"driver"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

// PipelineConfig contains the controller's timing and detection knobs
type PipelineConfig struct {
	// TriggerMode selects how a cycle starts: motion | manual
	TriggerMode string `yaml:"trigger_mode"`
	// WarmupFrames is how many frames to skip while the camera auto-exposes
	WarmupFrames int `yaml:"warmup_frames"`
	// SettleTimeS is how long motion must be absent before classifying
	SettleTimeS float64 `yaml:"settle_time_s"`
	// CooldownS is the pause after a cycle before watching again
	CooldownS float64 `yaml:"cooldown_s"`
	// TickHz is the controller polling rate
	TickHz int `yaml:"tick_hz"`
	// MotionThreshold is the per-pixel intensity delta that counts as change (0-255)
	MotionThreshold int `yaml:"motion_threshold"`
	// MotionMinArea is the minimum changed region area in px² to count as motion
	MotionMinArea int `yaml:"motion_min_area"`
	// FallbackCategory is used when the classifier answers outside the known set
	FallbackCategory string `yaml:"fallback_category"`
}

// VisionConfig contains classifier client settings
type VisionConfig struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	// MaxImagePx bounds the longest edge of the frame sent to the classifier
	MaxImagePx int `yaml:"max_image_px"`
}

// ArmConfig contains actuator settings and calibrated poses
type ArmConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
	// MoveMS is the servo movement duration in milliseconds
	MoveMS int `yaml:"move_ms"`
	// GripperOpen / GripperClose are servo 1 positions (0-1000)
	GripperOpen  int   `yaml:"gripper_open"`
	GripperClose int   `yaml:"gripper_close"`
	Poses        Poses `yaml:"poses"`
}

// Poses holds calibrated 6-servo positions (units 0-1000, servos 1-6)
type Poses struct {
	Home   []int            `yaml:"home"`
	Pickup []int            `yaml:"pickup"`
	Bins   map[string][]int `yaml:"bins"`
}

// RecordsConfig contains donation log settings
type RecordsConfig struct {
	DBPath    string `yaml:"db_path"`
	ImagesDir string `yaml:"images_dir"`
}

// APIConfig contains HTTP server settings
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// MQTTConfig contains MQTT broker settings; an empty broker disables MQTT
type MQTTConfig struct {
	Broker string     `yaml:"broker"`
	Topics MQTTTopics `yaml:"topics"`
}

// MQTTTopics contains topic templates; %s is replaced with the instance ID
type MQTTTopics struct {
	State     string `yaml:"state"`
	Donations string `yaml:"donations"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = "lend-01"
	}
	if c.ShutdownTimeoutS == 0 {
		c.ShutdownTimeoutS = 5
	}
	if c.Camera.Driver == "" {
		c.Camera.Driver = "gstreamer"
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 480
	}
	if c.Camera.FPS == 0 {
		c.Camera.FPS = 30
	}
	if c.Pipeline.TriggerMode == "" {
		c.Pipeline.TriggerMode = "motion"
	}
	if c.Pipeline.WarmupFrames == 0 {
		c.Pipeline.WarmupFrames = 60
	}
	if c.Pipeline.SettleTimeS == 0 {
		c.Pipeline.SettleTimeS = 1.5
	}
	if c.Pipeline.CooldownS == 0 {
		c.Pipeline.CooldownS = 5.0
	}
	if c.Pipeline.TickHz == 0 {
		c.Pipeline.TickHz = 30
	}
	if c.Pipeline.MotionThreshold == 0 {
		c.Pipeline.MotionThreshold = 30
	}
	if c.Pipeline.MotionMinArea == 0 {
		c.Pipeline.MotionMinArea = 5000
	}
	if c.Pipeline.FallbackCategory == "" {
		c.Pipeline.FallbackCategory = string(types.CategorySnack)
	}
	if c.Vision.Model == "" {
		c.Vision.Model = "gemini-2.0-flash"
	}
	if c.Vision.APIKeyEnv == "" {
		c.Vision.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.Vision.MaxImagePx == 0 {
		c.Vision.MaxImagePx = 768
	}
	if c.Arm.Baud == 0 {
		c.Arm.Baud = 9600
	}
	if c.Arm.MoveMS == 0 {
		c.Arm.MoveMS = 1500
	}
	if c.Records.DBPath == "" {
		c.Records.DBPath = "data/donations.db"
	}
	if c.Records.ImagesDir == "" {
		c.Records.ImagesDir = "data/images"
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if c.MQTT.Topics.State == "" {
		c.MQTT.Topics.State = "lend/%s/state"
	}
	if c.MQTT.Topics.Donations == "" {
		c.MQTT.Topics.Donations = "lend/%s/donations"
	}
}

// SettleTime returns the settle duration.
func (c *PipelineConfig) SettleTime() time.Duration {
	return time.Duration(c.SettleTimeS * float64(time.Second))
}

// Cooldown returns the cooldown duration.
func (c *PipelineConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownS * float64(time.Second))
}

// TickInterval returns the controller polling interval.
func (c *PipelineConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickHz)
}

// ShutdownTimeout returns the graceful shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}
