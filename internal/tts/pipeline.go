// Package tts turns synthesized-speech chunks from the inference session
// into playable PBX sound artifacts.
//
// Two playback modes exist. In full_chunk mode all chunks of a model
// response are accumulated and written as one artifact when the response's
// audio stream ends. In stream mode every chunk becomes its own artifact
// immediately, so playback can start while the model is still speaking; a
// concatenated backup of the whole response is kept alongside.
//
// Artifacts live under the PBX sounds root and are tracked so call cleanup
// can delete them.
package tts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/voxgate/voxgate/internal/config"
)

const (
	fullChunkDir  = "openai"
	streamDir     = "openai_stream_chunks"
	streamBackDir = "openai_stream_backup"
)

// Pipeline manages the TTS artifacts of one call. All methods are invoked
// from the owning call task; the pipeline needs no locking.
type Pipeline struct {
	log        *slog.Logger
	mode       config.PlaybackMode
	root       string
	codec      string
	sampleRate int
	callID     string

	// full_chunk accumulation for the response in progress.
	buf        []byte
	responseID string

	// backup holds the open stream-mode backup file, if any.
	backup *os.File

	seq   int
	files []string
}

// NewPipeline creates the per-call pipeline and ensures the artifact
// directories exist.
func NewPipeline(log *slog.Logger, mode config.PlaybackMode, root, codec string, sampleRate int, callID string) (*Pipeline, error) {
	for _, dir := range []string{fullChunkDir, streamDir, streamBackDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("tts: create artifact dir: %w", err)
		}
	}
	return &Pipeline{
		log:        log,
		mode:       mode,
		root:       root,
		codec:      codec,
		sampleRate: sampleRate,
		callID:     callID,
	}, nil
}

// IngestChunk consumes one synthesized audio chunk of the given response.
// In stream mode it returns the media reference of the freshly written
// chunk artifact; in full_chunk mode it accumulates and returns "".
func (p *Pipeline) IngestChunk(responseID string, audio []byte) (string, error) {
	if p.responseID != responseID {
		p.startResponse(responseID)
	}

	if p.mode == config.PlaybackFullChunk {
		p.buf = append(p.buf, audio...)
		return "", nil
	}

	p.seq++
	name := fmt.Sprintf("%s-%s-%04d%s", p.callID, shortID(responseID), p.seq, extensionFor(p.codec))
	path := filepath.Join(p.root, streamDir, name)
	if err := p.writeArtifact(path, audio); err != nil {
		return "", err
	}
	if p.backup != nil {
		if _, err := p.backup.Write(audio); err != nil {
			p.log.Warn("tts backup write failed", "call_id", p.callID, "error", err)
		}
	}
	return mediaRef(path), nil
}

// EndOfResponse finalizes the response's artifacts. In full_chunk mode it
// writes the accumulated audio and returns its media reference; in stream
// mode it closes the backup file and returns "".
func (p *Pipeline) EndOfResponse(responseID string) (string, error) {
	defer func() {
		p.buf = nil
		p.responseID = ""
		p.closeBackup()
	}()

	if p.mode != config.PlaybackFullChunk {
		return "", nil
	}
	if len(p.buf) == 0 {
		return "", nil
	}

	p.seq++
	name := fmt.Sprintf("%s-%s-%04d%s", p.callID, shortID(responseID), p.seq, extensionFor(p.codec))
	path := filepath.Join(p.root, fullChunkDir, name)
	if err := p.writeArtifact(path, p.buf); err != nil {
		return "", err
	}
	return mediaRef(path), nil
}

// AbandonResponse drops any accumulated audio of the response in progress,
// e.g. after a barge-in invalidated it.
func (p *Pipeline) AbandonResponse() {
	p.buf = nil
	p.responseID = ""
	p.closeBackup()
}

// Cleanup deletes every artifact the pipeline created. Best-effort; missing
// files are ignored.
func (p *Pipeline) Cleanup() {
	p.closeBackup()
	for _, f := range p.files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			p.log.Warn("tts artifact delete failed", "call_id", p.callID, "path", f, "error", err)
		}
	}
	p.files = nil
}

// Files returns the artifacts created so far. Used in tests.
func (p *Pipeline) Files() []string { return p.files }

func (p *Pipeline) startResponse(responseID string) {
	p.buf = nil
	p.responseID = responseID
	p.closeBackup()

	if p.mode == config.PlaybackStream {
		name := fmt.Sprintf("%s-%s-backup%s", p.callID, shortID(responseID), extensionFor(p.codec))
		path := filepath.Join(p.root, streamBackDir, name)
		f, err := os.Create(path)
		if err != nil {
			p.log.Warn("tts backup create failed", "call_id", p.callID, "error", err)
			return
		}
		p.backup = f
		p.files = append(p.files, path)
	}
}

func (p *Pipeline) writeArtifact(path string, audio []byte) error {
	data := audio
	if extensionFor(p.codec) == ".wav" {
		data = append(wavHeader(len(audio), p.sampleRate), audio...)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("tts: write artifact: %w", err)
	}
	p.files = append(p.files, path)
	return nil
}

func (p *Pipeline) closeBackup() {
	if p.backup != nil {
		p.backup.Close()
		p.backup = nil
	}
}

// mediaRef converts an artifact path into the PBX media reference, which is
// the absolute path without its extension.
func mediaRef(path string) string {
	return "sound:" + strings.TrimSuffix(path, filepath.Ext(path))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
