package transcriber

import (
	"encoding/binary"
	"testing"
)

func TestUlawToLinear_KnownValues(t *testing.T) {
	cases := []struct {
		in   byte
		want int16
	}{
		{0xFF, 0},      // positive zero
		{0x7F, 0},      // negative zero
		{0x80, 32124},  // maximum positive magnitude
		{0x00, -32124}, // maximum negative magnitude
	}
	for _, c := range cases {
		if got := ulawToLinear(c.in); got != c.want {
			t.Errorf("ulawToLinear(%#02x): got %d, want %d", c.in, got, c.want)
		}
	}
}

func TestUlawToLinear_SignSymmetry(t *testing.T) {
	// Bytes differing only in the sign bit expand to opposite samples.
	for u := byte(0); u < 0x80; u++ {
		pos := ulawToLinear(u | 0x80)
		neg := ulawToLinear(u)
		if pos != -neg {
			t.Fatalf("sign asymmetry at %#02x: %d vs %d", u, pos, neg)
		}
	}
}

func TestUlawToWAV_Layout(t *testing.T) {
	wav := ulawToWAV([]byte{0xFF, 0xFF}, 8000)

	if len(wav) != 44+4 {
		t.Fatalf("length: got %d, want 48", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if format := binary.LittleEndian.Uint16(wav[20:22]); format != 1 {
		t.Errorf("audio format: got %d, want 1 (PCM)", format)
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 8000 {
		t.Errorf("sample rate: got %d", rate)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:36]); bits != 16 {
		t.Errorf("bits per sample: got %d", bits)
	}
	if dataLen := binary.LittleEndian.Uint32(wav[40:44]); dataLen != 4 {
		t.Errorf("data length: got %d, want 4", dataLen)
	}
	// Two silence samples.
	if s := int16(binary.LittleEndian.Uint16(wav[44:46])); s != 0 {
		t.Errorf("first sample: got %d, want 0", s)
	}
}

func TestEnabled(t *testing.T) {
	var nilT *Transcriber
	if nilT.Enabled() {
		t.Error("nil transcriber must report disabled")
	}
	if (&Transcriber{}).Enabled() {
		t.Error("transcriber without model must report disabled")
	}
	if !(&Transcriber{model: "whisper-1"}).Enabled() {
		t.Error("configured transcriber must report enabled")
	}
}
