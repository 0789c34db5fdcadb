package arm

import (
	"fmt"
	"time"
)

// LOBOT xArm serial protocol. Every frame is:
//
//	0x55 0x55 <length> <command> <params...>
//
// where length counts everything after the two header bytes.
const (
	frameHeader = 0x55

	cmdServoMove   = 0x03 // move N servos over a shared duration
	cmdServoUnload = 0x14 // power off N servos
	cmdServoRead   = 0x15 // read N servo positions
)

// ServoMove is a single servo target in a move frame.
type ServoMove struct {
	ID  uint8 // 1-6, servo 1 is the gripper
	Pos int   // 0-1000
}

// buildServoMove encodes a multi-servo move frame. Duration is clamped to
// the protocol's 16-bit millisecond field.
func buildServoMove(moves []ServoMove, duration time.Duration) ([]byte, error) {
	if len(moves) == 0 || len(moves) > 6 {
		return nil, fmt.Errorf("servo move needs 1..6 targets, got %d", len(moves))
	}
	ms := duration.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	if ms > 0xffff {
		ms = 0xffff
	}

	frame := make([]byte, 0, 7+3*len(moves))
	frame = append(frame,
		frameHeader, frameHeader,
		byte(3*len(moves)+5),
		cmdServoMove,
		byte(len(moves)),
		byte(ms&0xff), byte(ms>>8),
	)
	for _, m := range moves {
		if m.ID < 1 || m.ID > 6 {
			return nil, fmt.Errorf("servo id %d out of range 1..6", m.ID)
		}
		if m.Pos < 0 || m.Pos > 1000 {
			return nil, fmt.Errorf("servo %d position %d out of range 0..1000", m.ID, m.Pos)
		}
		frame = append(frame, m.ID, byte(m.Pos&0xff), byte(m.Pos>>8))
	}
	return frame, nil
}

// buildServoUnload encodes a power-off frame for the given servos.
func buildServoUnload(ids ...uint8) []byte {
	frame := make([]byte, 0, 5+len(ids))
	frame = append(frame,
		frameHeader, frameHeader,
		byte(len(ids)+3),
		cmdServoUnload,
		byte(len(ids)),
	)
	return append(frame, ids...)
}

// buildServoRead encodes a position query for the given servos.
func buildServoRead(ids ...uint8) []byte {
	frame := make([]byte, 0, 5+len(ids))
	frame = append(frame,
		frameHeader, frameHeader,
		byte(len(ids)+3),
		cmdServoRead,
		byte(len(ids)),
	)
	return append(frame, ids...)
}

// parseServoRead decodes a position query response and returns positions by
// servo ID. body is the frame starting at the command byte (length already
// consumed by the reader).
func parseServoRead(body []byte) (map[uint8]int, error) {
	if len(body) < 2 || body[0] != cmdServoRead {
		return nil, fmt.Errorf("unexpected response command %#x", body[0])
	}
	count := int(body[1])
	if len(body) < 2+3*count {
		return nil, fmt.Errorf("short servo read response: %d bytes for %d servos", len(body), count)
	}
	positions := make(map[uint8]int, count)
	for i := 0; i < count; i++ {
		off := 2 + 3*i
		id := body[off]
		pos := int(body[off+1]) | int(body[off+2])<<8
		positions[id] = pos
	}
	return positions, nil
}
