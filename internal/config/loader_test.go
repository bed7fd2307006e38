package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/config"
)

// ── env loading ───────────────────────────────────────────────────────────────

// setRequiredEnv sets the minimum variables FromEnv needs to validate.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ARI_USERNAME", "gw")
	t.Setenv("ARI_PASSWORD", "secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8089" {
		t.Errorf("listen addr: got %q, want %q", cfg.Server.ListenAddr, ":8089")
	}
	if cfg.Recognition.Mode != config.RecognitionImmediate {
		t.Errorf("recognition mode: got %q, want immediate", cfg.Recognition.Mode)
	}
	if cfg.Recognition.VADActivation != config.VADActivationAfterPrompt {
		t.Errorf("vad activation: got %q, want afterPrompt", cfg.Recognition.VADActivation)
	}
	if cfg.TTS.Mode != config.PlaybackFullChunk {
		t.Errorf("tts mode: got %q, want full_chunk", cfg.TTS.Mode)
	}
	if cfg.DTMF.Terminator != "#" {
		t.Errorf("dtmf terminator: got %q, want #", cfg.DTMF.Terminator)
	}
	if cfg.Profile.InputCodec != "g711_ulaw" || cfg.Profile.SampleRate != 8000 {
		t.Errorf("profile audio defaults: got %q/%d", cfg.Profile.InputCodec, cfg.Profile.SampleRate)
	}
}

func TestFromEnv_FractionalSeconds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BARGE_IN_DELAY_SECONDS", "1.5")
	t.Setenv("SPEECH_END_SILENCE_TIMEOUT_SECONDS", "0.75")

	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Recognition.BargeInDelay != 1500*time.Millisecond {
		t.Errorf("barge-in delay: got %v, want 1.5s", cfg.Recognition.BargeInDelay)
	}
	if cfg.Recognition.SpeechEndSilence != 750*time.Millisecond {
		t.Errorf("speech-end silence: got %v, want 750ms", cfg.Recognition.SpeechEndSilence)
	}
}

func TestFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("ARI_USERNAME", "")
	t.Setenv("ARI_PASSWORD", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := config.FromEnv()
	if err == nil {
		t.Fatal("expected error for missing credentials, got nil")
	}
	if !strings.Contains(err.Error(), "ARI_USERNAME") {
		t.Errorf("error should mention ARI_USERNAME, got: %v", err)
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("error should mention OPENAI_API_KEY, got: %v", err)
	}
}

func TestFromEnv_InvalidMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RECOGNITION_ACTIVATION_MODE", "psychic")

	_, err := config.FromEnv()
	if err == nil {
		t.Fatal("expected error for invalid recognition mode, got nil")
	}
	if !strings.Contains(err.Error(), "RECOGNITION_ACTIVATION_MODE") {
		t.Errorf("error should name the variable, got: %v", err)
	}
}

// ── profile loading ───────────────────────────────────────────────────────────

const sampleProfile = `
instructions: You are a friendly phone assistant.
greeting: "sound:welcome"
voice: alloy
sample_rate: 8000
tools:
  - name: lookup_order
    description: Look up an order by number.
    parameters:
      type: object
      properties:
        order_number:
          type: string
`

func TestProfileFromReader_Valid(t *testing.T) {
	p, err := config.ProfileFromReader(strings.NewReader(sampleProfile))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.Voice != "alloy" {
		t.Errorf("voice: got %q, want alloy", p.Voice)
	}
	if p.Greeting != "sound:welcome" {
		t.Errorf("greeting: got %q", p.Greeting)
	}
	if len(p.Tools) != 1 || p.Tools[0].Name != "lookup_order" {
		t.Fatalf("tools: got %+v", p.Tools)
	}
	if p.Tools[0].Parameters["type"] != "object" {
		t.Errorf("tool parameters not decoded: %+v", p.Tools[0].Parameters)
	}
}

func TestProfileFromReader_UnknownField(t *testing.T) {
	_, err := config.ProfileFromReader(strings.NewReader("persona: grumpy\n"))
	if err == nil {
		t.Fatal("expected error for unknown profile field, got nil")
	}
}
