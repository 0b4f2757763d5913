package claw

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
)

// fakePort answers each written frame with the next scripted reply.
type fakePort struct {
	replies  [][]byte
	writes   [][]byte
	rx       bytes.Buffer
	flushes  int
	writeErr error
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	if len(p.replies) > 0 {
		p.rx.Write(p.replies[0])
		p.replies = p.replies[1:]
	}
	return len(b), nil
}

// Read returns 0, nil when empty, like a serial read timeout.
func (p *fakePort) Read(b []byte) (int, error) {
	if p.rx.Len() == 0 {
		return 0, nil
	}
	return p.rx.Read(b)
}

func (p *fakePort) ResetInputBuffer() error {
	p.flushes++
	p.rx.Reset()
	return nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func withCRC(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	sum := crc16(out)
	return append(out, byte(sum>>8), byte(sum))
}

// reply builds a read reply: payload plus crc over the request and payload.
func reply(addr, cmd byte, payload ...byte) []byte {
	sum := crc16([]byte{addr, cmd}, payload)
	return append(append([]byte(nil), payload...), byte(sum>>8), byte(sum))
}

func TestCRC16(t *testing.T) {
	if got := crc16([]byte("123456789")); got != 0x31C3 {
		t.Fatalf("crc16 = %#04x, want 0x31c3", got)
	}
	if got := crc16([]byte("1234"), []byte("56789")); got != 0x31C3 {
		t.Fatalf("chunked crc16 = %#04x, want 0x31c3", got)
	}
}

func TestDriveFrames(t *testing.T) {
	tests := []struct {
		name string
		ch   Channel
		dir  Direction
		cmd  byte
	}{
		{"forward m1", M1, Forward, cmdForwardM1},
		{"backward m1", M1, Backward, cmdBackwardM1},
		{"forward m2", M2, Forward, cmdForwardM2},
		{"backward m2", M2, Backward, cmdBackwardM2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePort{replies: [][]byte{{ackByte}}}
			rc := NewRoboClaw(p, 0x81)

			if err := Drive(rc, tt.ch, tt.dir, 23); err != nil {
				t.Fatalf("Drive: %v", err)
			}
			want := withCRC([]byte{0x81, tt.cmd, 23})
			if len(p.writes) != 1 || !bytes.Equal(p.writes[0], want) {
				t.Fatalf("frames = % x, want % x", p.writes, want)
			}
			if p.flushes != 1 {
				t.Errorf("input flushed %d times, want 1", p.flushes)
			}
		})
	}
}

func TestWriteRetriesOnBadAck(t *testing.T) {
	p := &fakePort{replies: [][]byte{{0x00}, nil, {ackByte}}}
	rc := NewRoboClaw(p, 0x80)

	if err := rc.ResetEncoders(); err != nil {
		t.Fatalf("ResetEncoders: %v", err)
	}
	if len(p.writes) != 3 {
		t.Errorf("writes = %d, want 3", len(p.writes))
	}
}

func TestWriteGivesUpAfterThreeTries(t *testing.T) {
	p := &fakePort{}
	rc := NewRoboClaw(p, 0x80)

	err := rc.DriveForward(M1, 0)
	if !errors.Is(err, ErrNoAck) {
		t.Fatalf("err = %v, want ErrNoAck", err)
	}
	if len(p.writes) != maxTries {
		t.Errorf("writes = %d, want %d", len(p.writes), maxTries)
	}
}

func TestWriteErrorIsNotRetried(t *testing.T) {
	p := &fakePort{writeErr: errors.New("input/output error")}
	rc := NewRoboClaw(p, 0x80)

	if err := rc.DriveForward(M1, 0); err == nil || errors.Is(err, ErrNoAck) {
		t.Fatalf("err = %v, want the transport error", err)
	}
}

func TestReadEncoder(t *testing.T) {
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(0xFFFFFFFB)) // -5
	p := &fakePort{replies: [][]byte{
		reply(0x80, cmdReadEncM2, count[0], count[1], count[2], count[3], 0x02),
	}}
	rc := NewRoboClaw(p, 0x80)

	got, status, err := rc.ReadEncoder(M2)
	if err != nil {
		t.Fatalf("ReadEncoder: %v", err)
	}
	if got != -5 || status != 0x02 {
		t.Errorf("ReadEncoder = (%d, %#x), want (-5, 0x2)", got, status)
	}
	if !bytes.Equal(p.writes[0], []byte{0x80, cmdReadEncM2}) {
		t.Errorf("request = % x", p.writes[0])
	}
}

func TestReadEncoderBadCRC(t *testing.T) {
	bad := reply(0x80, cmdReadEncM1, 0, 0, 0, 1, 0)
	bad[len(bad)-1] ^= 0xFF
	p := &fakePort{replies: [][]byte{bad, bad, bad}}
	rc := NewRoboClaw(p, 0x80)

	_, _, err := rc.ReadEncoder(M1)
	if !errors.Is(err, ErrCRC) {
		t.Fatalf("err = %v, want ErrCRC", err)
	}
}

func TestReadEncoderRecoversFromTimeout(t *testing.T) {
	p := &fakePort{replies: [][]byte{
		{0x00, 0x00},
		reply(0x80, cmdReadEncM1, 0, 0, 0x01, 0x00, 0),
	}}
	rc := NewRoboClaw(p, 0x80)

	got, _, err := rc.ReadEncoder(M1)
	if err != nil {
		t.Fatalf("ReadEncoder: %v", err)
	}
	if got != 256 {
		t.Errorf("count = %d, want 256", got)
	}
}

func TestBadChannel(t *testing.T) {
	rc := NewRoboClaw(&fakePort{}, 0x80)
	if _, _, err := rc.ReadEncoder(Channel(3)); !errors.Is(err, ErrBadChannel) {
		t.Errorf("ReadEncoder err = %v", err)
	}
	if err := rc.DriveBackward(Channel(0), 1); !errors.Is(err, ErrBadChannel) {
		t.Errorf("DriveBackward err = %v", err)
	}
}

func TestReadStatus(t *testing.T) {
	p := &fakePort{replies: [][]byte{reply(0x80, cmdReadStatus, 0x01, 0x04)}}
	rc := NewRoboClaw(p, 0x80)

	got, err := rc.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if got != 0x0104 {
		t.Errorf("status = %#04x, want 0x0104", got)
	}
}

func TestReadVersion(t *testing.T) {
	banner := []byte("USB Roboclaw 2x7a v4.1.34\n\x00")
	p := &fakePort{replies: [][]byte{reply(0x80, cmdReadVersion, banner...)}}
	rc := NewRoboClaw(p, 0x80)

	got, err := rc.ReadVersion()
	if err != nil {
		t.Fatalf("ReadVersion: %v", err)
	}
	if got != "USB Roboclaw 2x7a v4.1.34" {
		t.Errorf("version = %q", got)
	}
}

func TestClose(t *testing.T) {
	p := &fakePort{}
	if err := NewRoboClaw(p, 0x80).Close(); err != nil {
		t.Fatal(err)
	}
	if !p.closed {
		t.Error("port not closed")
	}
}
