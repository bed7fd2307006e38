// Package transcriber provides asynchronous fallback transcription of
// caller audio via the OpenAI transcription API.
//
// The realtime session normally delivers caller transcripts itself; when a
// turn ends without one, the orchestrator hands the turn's buffered audio
// here so the conversation log still gets a caller-side record. The µ-law
// telephony audio is converted to 16-bit PCM WAV before upload.
package transcriber

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Transcriber uploads audio for transcription. A nil Transcriber is valid
// and reports itself disabled.
type Transcriber struct {
	client oai.Client
	model  string
}

// New constructs a transcriber for the given model (e.g. "whisper-1").
func New(apiKey, model string, opts ...option.RequestOption) *Transcriber {
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Transcriber{
		client: oai.NewClient(reqOpts...),
		model:  model,
	}
}

// Enabled reports whether fallback transcription is configured.
func (t *Transcriber) Enabled() bool { return t != nil && t.model != "" }

// TranscribeULaw transcribes 8 kHz µ-law caller audio.
func (t *Transcriber) TranscribeULaw(ctx context.Context, ulaw []byte, sampleRate int) (string, error) {
	if !t.Enabled() {
		return "", fmt.Errorf("transcriber: not configured")
	}
	if len(ulaw) == 0 {
		return "", nil
	}

	wav := ulawToWAV(ulaw, sampleRate)
	resp, err := t.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(t.model),
	})
	if err != nil {
		return "", fmt.Errorf("transcriber: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// ulawToWAV decodes µ-law samples to 16-bit linear PCM and wraps them in a
// RIFF/WAVE container.
func ulawToWAV(ulaw []byte, sampleRate int) []byte {
	dataLen := len(ulaw) * 2
	out := make([]byte, 0, 44+dataLen)
	out = append(out, wavHeader(dataLen, sampleRate)...)

	var sample [2]byte
	for _, u := range ulaw {
		binary.LittleEndian.PutUint16(sample[:], uint16(ulawToLinear(u)))
		out = append(out, sample[0], sample[1])
	}
	return out
}

// ulawToLinear expands one µ-law byte per ITU-T G.711.
func ulawToLinear(u byte) int16 {
	u = ^u
	t := (int16(u&0x0F)<<3 + 0x84) << ((u & 0x70) >> 4)
	if u&0x80 != 0 {
		return 0x84 - t
	}
	return t - 0x84
}

func wavHeader(dataLen, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8

	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1)
	binary.LittleEndian.PutUint16(h[22:24], numChannels)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], numChannels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}
