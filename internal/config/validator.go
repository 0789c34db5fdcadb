package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/projectlend/lend/internal/types"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	// Camera
	if cfg.Camera.Source == "" {
		return fmt.Errorf("camera.source is required (device path, rtsp:// URL, or \"mock\")")
	}
	switch cfg.Camera.Driver {
	case "gstreamer", "v4l2", "mock":
	default:
		return fmt.Errorf("camera.driver must be 'gstreamer', 'v4l2', or 'mock', got %q", cfg.Camera.Driver)
	}
	if cfg.Camera.Driver == "v4l2" && strings.HasPrefix(cfg.Camera.Source, "rtsp://") {
		return fmt.Errorf("camera.driver 'v4l2' cannot read an rtsp:// source")
	}
	if cfg.Camera.FPS <= 0 {
		return fmt.Errorf("camera.fps must be > 0")
	}
	if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	// YUYV capture packs two pixels per macropixel
	if cfg.Camera.Width%2 != 0 {
		return fmt.Errorf("camera.width must be even, got %d", cfg.Camera.Width)
	}

	// Pipeline
	switch cfg.Pipeline.TriggerMode {
	case "motion", "manual":
	default:
		return fmt.Errorf("pipeline.trigger_mode must be 'motion' or 'manual', got %q", cfg.Pipeline.TriggerMode)
	}
	if cfg.Pipeline.SettleTimeS < 0 {
		return fmt.Errorf("pipeline.settle_time_s must be >= 0")
	}
	if cfg.Pipeline.CooldownS < 0 {
		return fmt.Errorf("pipeline.cooldown_s must be >= 0")
	}
	if cfg.Pipeline.TickHz <= 0 || cfg.Pipeline.TickHz > 100 {
		return fmt.Errorf("pipeline.tick_hz must be in 1..100, got %d", cfg.Pipeline.TickHz)
	}
	if cfg.Pipeline.MotionThreshold < 1 || cfg.Pipeline.MotionThreshold > 255 {
		return fmt.Errorf("pipeline.motion_threshold must be in 1..255, got %d", cfg.Pipeline.MotionThreshold)
	}
	if cfg.Pipeline.MotionMinArea <= 0 {
		return fmt.Errorf("pipeline.motion_min_area must be > 0")
	}
	if !types.Category(cfg.Pipeline.FallbackCategory).Valid() {
		return fmt.Errorf("pipeline.fallback_category %q is not a known category", cfg.Pipeline.FallbackCategory)
	}

	// Arm poses are only required when actuation is enabled
	if cfg.Arm.Enabled {
		if err := validateArm(&cfg.Arm); err != nil {
			return fmt.Errorf("arm validation failed: %w", err)
		}
	}

	return nil
}

func validateArm(arm *ArmConfig) error {
	if arm.Port == "" {
		return fmt.Errorf("arm.port is required when arm.enabled")
	}
	if arm.GripperOpen < 0 || arm.GripperOpen > 1000 {
		return fmt.Errorf("arm.gripper_open must be in 0..1000, got %d", arm.GripperOpen)
	}
	if arm.GripperClose < 0 || arm.GripperClose > 1000 {
		return fmt.Errorf("arm.gripper_close must be in 0..1000, got %d", arm.GripperClose)
	}
	if err := validatePose("home", arm.Poses.Home); err != nil {
		return err
	}
	if err := validatePose("pickup", arm.Poses.Pickup); err != nil {
		return err
	}
	for _, cat := range types.Categories() {
		pose, ok := arm.Poses.Bins[string(cat)]
		if !ok {
			return fmt.Errorf("poses.bins.%s is required when arm.enabled", cat)
		}
		if err := validatePose("bins."+string(cat), pose); err != nil {
			return err
		}
	}
	return nil
}

func validatePose(name string, pose []int) error {
	if len(pose) != 6 {
		return fmt.Errorf("poses.%s must list 6 servo positions, got %d", name, len(pose))
	}
	for i, p := range pose {
		if p < 0 || p > 1000 {
			return fmt.Errorf("poses.%s servo %d position %d out of range 0..1000", name, i+1, p)
		}
	}
	return nil
}
