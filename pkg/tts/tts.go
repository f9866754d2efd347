// Package tts speaks emitted sentences.
//
// A Provider turns text into audio. A Speaker sits between the sentence
// emitter and a Provider: it accepts sentences without ever blocking the
// caller, synthesizes them in order on its own goroutine, and hands the
// audio to a Player.
//
//	provider, _ := tts.NewOpenAI(tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
//	speaker := tts.NewSpeaker(provider, tts.NewDirPlayer("out/"))
//	go speaker.Run(ctx)
//	speaker.Say(tts.Line{Speaker: "ava", Voice: tts.VoiceNova, Text: "Hello there!"})
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio in the given voice. An empty voice
	// selects the provider default.
	Synthesize(ctx context.Context, text, voice string) (*AudioResult, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult is a complete synthesis result.
type AudioResult struct {
	// Audio contains the encoded audio.
	Audio []byte

	// Format describes the audio encoding.
	Format AudioFormat

	// Duration is the estimated playback duration, when known.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request latency in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// Encoding is an audio container or codec.
type Encoding string

const (
	EncodingMP3  Encoding = "mp3"
	EncodingOpus Encoding = "opus"
	EncodingAAC  Encoding = "aac"
	EncodingFLAC Encoding = "flac"
	EncodingWAV  Encoding = "wav"
	EncodingPCM  Encoding = "pcm" // 24kHz mono PCM16
)

// Extension returns the file extension for the encoding.
func (e Encoding) Extension() string {
	if e == EncodingPCM {
		return ".pcm"
	}
	if e == "" {
		return ".bin"
	}
	return "." + string(e)
}

// SampleRate returns the sample rate OpenAI uses for the encoding.
func (e Encoding) SampleRate() int {
	if e == EncodingPCM {
		return 24000
	}
	return 44100
}
