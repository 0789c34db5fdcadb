// Package arm drives a LOBOT xArm over USB serial: calibrated pose moves,
// gripper control, and the full pick-and-place sort sequence. Every move is
// a multi-second blocking call; callers schedule around that (the pipeline
// runs sorts on a dedicated worker flow).
package arm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/projectlend/lend/internal/config"
	"github.com/projectlend/lend/internal/types"
)

const (
	gripperServo = 1
	// reliefSettle is the pause after unloading the gripper servo before
	// re-engaging it at its actual position (pressure relief).
	reliefSettle = 100 * time.Millisecond
	reliefMove   = 500 * time.Millisecond
	// grabSettle is the pause after reaching the pickup/bin/grip positions.
	grabSettle = 300 * time.Millisecond

	readTimeout = 2 * time.Second
)

// Client is the actuator for the sorting arm. Safe for concurrent use, but
// moves are serialized: one physical arm, one motion at a time.
type Client struct {
	mu   sync.Mutex
	port io.ReadWriteCloser

	moveDur      time.Duration
	gripperOpen  int
	gripperClose int
	poses        config.Poses

	sorts  uint64
	errors uint64
}

// Dial opens the serial port and returns a connected client. An unreachable
// arm at boot is a startup failure; the caller decides whether that is fatal.
func Dial(cfg config.ArmConfig) (*Client, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open arm serial port %s: %w", cfg.Port, err)
	}

	c := newWithPort(port, cfg)
	slog.Info("arm connected", "port", cfg.Port, "baud", cfg.Baud)
	return c, nil
}

// newWithPort wires a client onto an already-open port (tests inject a fake).
func newWithPort(port io.ReadWriteCloser, cfg config.ArmConfig) *Client {
	return &Client{
		port:         port,
		moveDur:      time.Duration(cfg.MoveMS) * time.Millisecond,
		gripperOpen:  cfg.GripperOpen,
		gripperClose: cfg.GripperClose,
		poses:        cfg.Poses,
	}
}

// Close returns the arm to home and releases the serial port.
func (c *Client) Close() error {
	// Best effort: a wedged arm must not block shutdown.
	if err := c.MoveToPose(context.Background(), c.poses.Home); err != nil {
		slog.Warn("failed to home arm on close", "error", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}

// Home moves all six servos to the calibrated rest pose and opens the gripper.
func (c *Client) Home(ctx context.Context) error {
	if err := c.MoveToPose(ctx, c.poses.Home); err != nil {
		return err
	}
	return c.GripperOpen(ctx)
}

// MoveToPose moves all 6 servos to a calibrated pose and waits out the move.
func (c *Client) MoveToPose(ctx context.Context, pose []int) error {
	return c.move(ctx, pose, 1)
}

// moveBody moves servos 2-6 only, leaving the gripper (servo 1) unchanged.
// Used mid-sequence so a held item is not released by a pose change.
func (c *Client) moveBody(ctx context.Context, pose []int) error {
	return c.move(ctx, pose, 2)
}

func (c *Client) move(ctx context.Context, pose []int, firstServo int) error {
	if len(pose) != 6 {
		return fmt.Errorf("pose must list 6 servo positions, got %d", len(pose))
	}
	moves := make([]ServoMove, 0, 6)
	for i := firstServo - 1; i < 6; i++ {
		moves = append(moves, ServoMove{ID: uint8(i + 1), Pos: pose[i]})
	}
	if err := c.sendMove(moves, c.moveDur); err != nil {
		return err
	}
	return sleepCtx(ctx, c.moveDur)
}

// GripperOpen opens the claw and relieves servo pressure.
func (c *Client) GripperOpen(ctx context.Context) error {
	return c.setGripper(ctx, c.gripperOpen)
}

// GripperClose closes the claw and relieves servo pressure.
func (c *Client) GripperClose(ctx context.Context) error {
	return c.setGripper(ctx, c.gripperClose)
}

func (c *Client) setGripper(ctx context.Context, pos int) error {
	if err := c.sendMove([]ServoMove{{ID: gripperServo, Pos: pos}}, c.moveDur); err != nil {
		return err
	}
	if err := sleepCtx(ctx, c.moveDur); err != nil {
		return err
	}
	return c.relieveGripper(ctx)
}

// relieveGripper reads the servo's actual position, powers it off briefly,
// then re-engages it there. Without this the gripper servo stalls against
// the item and overheats.
func (c *Client) relieveGripper(ctx context.Context) error {
	actual, err := c.readServo(gripperServo)
	if err != nil {
		// Relief is protective, not load-bearing: log and continue.
		slog.Warn("gripper position read failed, skipping pressure relief", "error", err)
		return nil
	}
	if err := c.send(buildServoUnload(gripperServo)); err != nil {
		return err
	}
	if err := sleepCtx(ctx, reliefSettle); err != nil {
		return err
	}
	if err := c.sendMove([]ServoMove{{ID: gripperServo, Pos: actual}}, reliefMove); err != nil {
		return err
	}
	return sleepCtx(ctx, reliefMove)
}

// Sort runs the full pick-and-place cycle for a category:
// home+open → pickup → grip → lift → bin → release → home.
func (c *Client) Sort(ctx context.Context, category types.Category) error {
	bin, ok := c.poses.Bins[string(category)]
	if !ok {
		c.mu.Lock()
		c.errors++
		c.mu.Unlock()
		return fmt.Errorf("no bin pose for category %q", category)
	}

	slog.Info("sorting item to bin", "category", category)
	steps := []struct {
		name string
		run  func() error
	}{
		{"home", func() error { return c.MoveToPose(ctx, c.poses.Home) }},
		{"open", func() error { return c.GripperOpen(ctx) }},
		{"pickup", func() error { return c.pause(ctx, c.moveBody(ctx, c.poses.Pickup)) }},
		{"grip", func() error { return c.pause(ctx, c.GripperClose(ctx)) }},
		{"lift", func() error { return c.moveBody(ctx, c.poses.Home) }},
		{"bin", func() error { return c.pause(ctx, c.moveBody(ctx, bin)) }},
		{"release", func() error { return c.pause(ctx, c.GripperOpen(ctx)) }},
		{"return", func() error { return c.MoveToPose(ctx, c.poses.Home) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			c.mu.Lock()
			c.errors++
			c.mu.Unlock()
			return fmt.Errorf("sort step %s: %w", step.name, err)
		}
		slog.Debug("sort step complete", "step", step.name, "category", category)
	}

	c.mu.Lock()
	c.sorts++
	c.mu.Unlock()
	slog.Info("sort complete", "category", category)
	return nil
}

// pause appends the short settle delay used after grab/release positions.
func (c *Client) pause(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	return sleepCtx(ctx, grabSettle)
}

// Unload powers off all six servos so the arm can be posed by hand.
// Used during calibration.
func (c *Client) Unload() error {
	return c.send(buildServoUnload(1, 2, 3, 4, 5, 6))
}

// ReadPose reads the current position of all six servos, in servo order.
func (c *Client) ReadPose() ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil, fmt.Errorf("arm port is closed")
	}
	if _, err := c.port.Write(buildServoRead(1, 2, 3, 4, 5, 6)); err != nil {
		return nil, fmt.Errorf("arm write: %w", err)
	}
	body, err := readFrame(c.port)
	if err != nil {
		return nil, fmt.Errorf("arm read: %w", err)
	}
	positions, err := parseServoRead(body)
	if err != nil {
		return nil, err
	}
	pose := make([]int, 6)
	for i := 0; i < 6; i++ {
		pos, ok := positions[uint8(i+1)]
		if !ok {
			return nil, fmt.Errorf("servo %d missing from read response", i+1)
		}
		pose[i] = pos
	}
	return pose, nil
}

// Stats reports lifetime sort counters.
func (c *Client) Stats() (sorts, errors uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sorts, c.errors
}

func (c *Client) sendMove(moves []ServoMove, dur time.Duration) error {
	frame, err := buildServoMove(moves, dur)
	if err != nil {
		return err
	}
	return c.send(frame)
}

func (c *Client) send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return fmt.Errorf("arm port is closed")
	}
	if _, err := c.port.Write(frame); err != nil {
		return fmt.Errorf("arm write: %w", err)
	}
	return nil
}

// readServo queries one servo's current position.
func (c *Client) readServo(id uint8) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return 0, fmt.Errorf("arm port is closed")
	}
	if _, err := c.port.Write(buildServoRead(id)); err != nil {
		return 0, fmt.Errorf("arm write: %w", err)
	}
	body, err := readFrame(c.port)
	if err != nil {
		return 0, fmt.Errorf("arm read: %w", err)
	}
	positions, err := parseServoRead(body)
	if err != nil {
		return 0, err
	}
	pos, ok := positions[id]
	if !ok {
		return 0, fmt.Errorf("servo %d missing from read response", id)
	}
	return pos, nil
}

// readFrame scans for the 0x55 0x55 header and returns the frame body
// starting at the command byte.
func readFrame(r io.Reader) ([]byte, error) {
	buf := make([]byte, 1)
	// Scan for header.
	matched := 0
	for matched < 2 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		if buf[0] == frameHeader {
			matched++
		} else {
			matched = 0
		}
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	length := int(buf[0])
	if length < 1 {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}
	body := make([]byte, length-1)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
