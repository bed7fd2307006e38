package tts_test

import (
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/tts"
)

func newPipeline(t *testing.T, mode config.PlaybackMode, codec string) (*tts.Pipeline, string) {
	t.Helper()
	root := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := tts.NewPipeline(log, mode, root, codec, 8000, "call-1")
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p, root
}

// artifactPath resolves a "sound:" media reference back to the file on disk.
func artifactPath(t *testing.T, ref, codec string) string {
	t.Helper()
	if !strings.HasPrefix(ref, "sound:") {
		t.Fatalf("media ref %q missing sound: prefix", ref)
	}
	switch codec {
	case "pcm16":
		return strings.TrimPrefix(ref, "sound:") + ".wav"
	default:
		return strings.TrimPrefix(ref, "sound:") + ".ulaw"
	}
}

func TestFullChunk_AccumulatesUntilStreamEnd(t *testing.T) {
	p, root := newPipeline(t, config.PlaybackFullChunk, "g711_ulaw")

	for _, chunk := range [][]byte{{1, 2}, {3, 4}} {
		ref, err := p.IngestChunk("resp-1", chunk)
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
		if ref != "" {
			t.Fatalf("full_chunk ingest must not emit a ref, got %q", ref)
		}
	}

	ref, err := p.EndOfResponse("resp-1")
	if err != nil {
		t.Fatalf("end of response: %v", err)
	}
	if ref == "" {
		t.Fatal("expected a media ref at stream end")
	}

	path := artifactPath(t, ref, "g711_ulaw")
	if !strings.HasPrefix(path, filepath.Join(root, "openai")) {
		t.Errorf("artifact outside the full-chunk dir: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "\x01\x02\x03\x04" {
		t.Errorf("artifact content: got %x", data)
	}
}

func TestFullChunk_EmptyResponseEmitsNothing(t *testing.T) {
	p, _ := newPipeline(t, config.PlaybackFullChunk, "g711_ulaw")

	ref, err := p.EndOfResponse("resp-1")
	if err != nil {
		t.Fatalf("end of response: %v", err)
	}
	if ref != "" {
		t.Errorf("empty response must not emit a ref, got %q", ref)
	}
}

func TestStream_EmitsPerChunkAndBackup(t *testing.T) {
	p, root := newPipeline(t, config.PlaybackStream, "g711_ulaw")

	ref1, err := p.IngestChunk("resp-1", []byte{1, 2})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	ref2, err := p.IngestChunk("resp-1", []byte{3, 4})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if ref1 == "" || ref2 == "" || ref1 == ref2 {
		t.Fatalf("expected distinct per-chunk refs, got %q and %q", ref1, ref2)
	}

	if _, err := p.EndOfResponse("resp-1"); err != nil {
		t.Fatalf("end of response: %v", err)
	}

	backups, err := filepath.Glob(filepath.Join(root, "openai_stream_backup", "*"))
	if err != nil || len(backups) != 1 {
		t.Fatalf("backup files: got %v (err %v), want exactly one", backups, err)
	}
	data, err := os.ReadFile(backups[0])
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(data) != "\x01\x02\x03\x04" {
		t.Errorf("backup should concatenate all chunks, got %x", data)
	}
}

func TestAbandonResponse_DropsAccumulation(t *testing.T) {
	p, _ := newPipeline(t, config.PlaybackFullChunk, "g711_ulaw")

	if _, err := p.IngestChunk("resp-1", []byte{1, 2}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	p.AbandonResponse()

	ref, err := p.EndOfResponse("resp-1")
	if err != nil {
		t.Fatalf("end of response: %v", err)
	}
	if ref != "" {
		t.Errorf("abandoned response must not emit a ref, got %q", ref)
	}
}

func TestNewResponseResetsOldAccumulation(t *testing.T) {
	p, _ := newPipeline(t, config.PlaybackFullChunk, "g711_ulaw")

	if _, err := p.IngestChunk("resp-1", []byte{1, 2}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := p.IngestChunk("resp-2", []byte{9}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	ref, err := p.EndOfResponse("resp-2")
	if err != nil {
		t.Fatalf("end of response: %v", err)
	}
	data, err := os.ReadFile(artifactPath(t, ref, "g711_ulaw"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "\x09" {
		t.Errorf("artifact should only hold the new response, got %x", data)
	}
}

func TestPCM16ArtifactCarriesWAVHeader(t *testing.T) {
	p, _ := newPipeline(t, config.PlaybackFullChunk, "pcm16")

	audio := []byte{0, 1, 0, 2, 0, 3, 0, 4}
	if _, err := p.IngestChunk("resp-1", audio); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	ref, err := p.EndOfResponse("resp-1")
	if err != nil {
		t.Fatalf("end of response: %v", err)
	}

	data, err := os.ReadFile(artifactPath(t, ref, "pcm16"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(data) != 44+len(audio) {
		t.Fatalf("artifact length: got %d, want %d", len(data), 44+len(audio))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 8000 {
		t.Errorf("sample rate: got %d, want 8000", rate)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != 16 {
		t.Errorf("bits per sample: got %d, want 16", bits)
	}
	if dataLen := binary.LittleEndian.Uint32(data[40:44]); dataLen != uint32(len(audio)) {
		t.Errorf("data chunk length: got %d, want %d", dataLen, len(audio))
	}
}

func TestCleanup_DeletesArtifacts(t *testing.T) {
	p, _ := newPipeline(t, config.PlaybackStream, "g711_ulaw")

	if _, err := p.IngestChunk("resp-1", []byte{1}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := p.IngestChunk("resp-1", []byte{2}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	files := append([]string(nil), p.Files()...)
	if len(files) == 0 {
		t.Fatal("no artifacts tracked")
	}

	p.Cleanup()

	for _, f := range files {
		if _, err := os.Stat(f); !os.IsNotExist(err) {
			t.Errorf("artifact survived cleanup: %s", f)
		}
	}
	if len(p.Files()) != 0 {
		t.Errorf("tracked files not reset: %v", p.Files())
	}
}
