package arm

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/projectlend/lend/internal/config"
)

// fakePort records written frames and answers servo-read requests so the
// gripper relief path works without hardware.
type fakePort struct {
	mu      sync.Mutex
	writes  [][]byte
	readBuf bytes.Buffer
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame := make([]byte, len(b))
	copy(frame, b)
	p.writes = append(p.writes, frame)

	if len(b) >= 5 && b[3] == cmdServoRead {
		count := int(b[4])
		resp := []byte{frameHeader, frameHeader, byte(3*count + 3), cmdServoRead, byte(count)}
		for i := 0; i < count; i++ {
			id := b[5+i]
			resp = append(resp, id, 0x2c, 0x01) // position 300
		}
		p.readBuf.Write(resp)
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readBuf.Read(b)
}

func (p *fakePort) Close() error { return nil }

func (p *fakePort) frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

func testArmConfig() config.ArmConfig {
	return config.ArmConfig{
		Enabled:      true,
		Port:         "/dev/null",
		Baud:         9600,
		MoveMS:       1,
		GripperOpen:  200,
		GripperClose: 600,
		Poses: config.Poses{
			Home:   []int{200, 500, 500, 500, 500, 500},
			Pickup: []int{200, 610, 420, 280, 660, 500},
			Bins: map[string][]int{
				"fruit": {200, 500, 420, 300, 650, 160},
				"snack": {200, 500, 420, 300, 650, 500},
				"drink": {200, 500, 420, 300, 650, 840},
			},
		},
	}
}

// servoMoves decodes a servo-move frame into id->position.
func servoMoves(t *testing.T, frame []byte) map[uint8]int {
	t.Helper()
	if len(frame) < 7 || frame[3] != cmdServoMove {
		t.Fatalf("not a servo move frame: %v", frame)
	}
	count := int(frame[4])
	moves := make(map[uint8]int, count)
	for i := 0; i < count; i++ {
		off := 7 + 3*i
		moves[frame[off]] = int(frame[off+1]) | int(frame[off+2])<<8
	}
	return moves
}

// TestSortSequence verifies the pick-and-place cycle issues the expected
// motion commands in order.
func TestSortSequence(t *testing.T) {
	port := &fakePort{}
	c := newWithPort(port, testArmConfig())

	if err := c.Sort(context.Background(), "drink"); err != nil {
		t.Fatalf("Sort failed: %v", err)
	}

	var moveFrames [][]byte
	sawUnload := false
	for _, f := range port.frames() {
		switch f[3] {
		case cmdServoMove:
			moveFrames = append(moveFrames, f)
		case cmdServoUnload:
			sawUnload = true
		}
	}
	if !sawUnload {
		t.Error("expected gripper pressure relief (servo unload)")
	}

	// First command homes all six servos.
	first := servoMoves(t, moveFrames[0])
	if len(first) != 6 {
		t.Fatalf("expected first move to target 6 servos, got %d", len(first))
	}
	if first[2] != 500 {
		t.Errorf("expected home position 500 for servo 2, got %d", first[2])
	}

	// The cycle must grip (servo 1 to close position) before any body move
	// reaches the bin, and release at the bin afterwards.
	gripIdx, binIdx, releaseIdx := -1, -1, -1
	for i, f := range moveFrames {
		moves := servoMoves(t, f)
		if pos, ok := moves[1]; ok && len(moves) == 1 {
			if pos == 600 && gripIdx == -1 {
				gripIdx = i
			}
			if pos == 200 && gripIdx != -1 && binIdx != -1 && releaseIdx == -1 {
				releaseIdx = i
			}
		}
		// Drink bin: servo 6 at 840, gripper untouched.
		if pos, ok := moves[6]; ok && pos == 840 {
			if _, hasGripper := moves[1]; hasGripper {
				t.Error("bin move must not touch the gripper servo")
			}
			binIdx = i
		}
	}
	if gripIdx == -1 {
		t.Fatal("never saw gripper close command")
	}
	if binIdx == -1 {
		t.Fatal("never saw bin move command")
	}
	if releaseIdx == -1 {
		t.Fatal("never saw gripper release at the bin")
	}
	if !(gripIdx < binIdx && binIdx < releaseIdx) {
		t.Errorf("out of order: grip=%d bin=%d release=%d", gripIdx, binIdx, releaseIdx)
	}

	sorts, errors := c.Stats()
	if sorts != 1 || errors != 0 {
		t.Errorf("expected 1 sort and 0 errors, got %d/%d", sorts, errors)
	}
}

// TestSortUnknownBin verifies a category without a calibrated bin errors.
func TestSortUnknownBin(t *testing.T) {
	cfg := testArmConfig()
	delete(cfg.Poses.Bins, "drink")
	c := newWithPort(&fakePort{}, cfg)

	if err := c.Sort(context.Background(), "drink"); err == nil {
		t.Fatal("expected error for missing bin pose")
	}
	if _, errors := c.Stats(); errors != 1 {
		t.Errorf("expected 1 error counted, got %d", errors)
	}
}

// TestMoveToPoseValidation verifies bad poses are rejected before any write.
func TestMoveToPoseValidation(t *testing.T) {
	port := &fakePort{}
	c := newWithPort(port, testArmConfig())

	if err := c.MoveToPose(context.Background(), []int{1, 2, 3}); err == nil {
		t.Fatal("expected error for short pose")
	}
	if len(port.frames()) != 0 {
		t.Errorf("expected no writes, got %d", len(port.frames()))
	}
}

// TestSortCancelled verifies context cancellation aborts mid-sequence.
func TestSortCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newWithPort(&fakePort{}, testArmConfig())
	if err := c.Sort(ctx, "snack"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
