package tts_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-parley/pkg/tts"
)

func TestMockProvider(t *testing.T) {
	mock := tts.NewMock()
	ctx := context.Background()

	t.Run("Synthesize returns audio", func(t *testing.T) {
		result, err := mock.Synthesize(ctx, "Hello world", tts.VoiceNova)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Audio) == 0 {
			t.Error("expected audio data")
		}
		if result.CharCount != 11 {
			t.Errorf("expected 11 chars, got %d", result.CharCount)
		}
		if result.Format.SampleRate != 24000 {
			t.Errorf("expected 24000 sample rate, got %d", result.Format.SampleRate)
		}
	})

	t.Run("Health returns nil", func(t *testing.T) {
		if err := mock.Health(ctx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Calls are tracked", func(t *testing.T) {
		if len(mock.Calls()) != 2 {
			t.Errorf("expected 2 calls, got %d", len(mock.Calls()))
		}
		if mock.CallCount("Synthesize") != 1 {
			t.Errorf("expected 1 Synthesize call, got %d", mock.CallCount("Synthesize"))
		}
		first := mock.Calls()[0]
		if first.Voice != tts.VoiceNova {
			t.Errorf("expected voice nova, got %q", first.Voice)
		}
	})

	t.Run("Reset clears calls", func(t *testing.T) {
		mock.Reset()
		if len(mock.Calls()) != 0 {
			t.Error("expected calls to be cleared")
		}
		if mock.LastCall() != nil {
			t.Error("expected no last call")
		}
	})
}

func TestMockWithError(t *testing.T) {
	testErr := errors.New("test error")
	mock := tts.WithError(testErr)
	ctx := context.Background()

	if _, err := mock.Synthesize(ctx, "Hello", ""); !errors.Is(err, testErr) {
		t.Errorf("expected test error, got %v", err)
	}
	if err := mock.Health(ctx); !errors.Is(err, testErr) {
		t.Errorf("expected test error, got %v", err)
	}
}

func TestMockWithLatency(t *testing.T) {
	mock := tts.WithLatency(tts.NewMock(), 50*time.Millisecond)

	t.Run("Synthesize has latency", func(t *testing.T) {
		start := time.Now()
		if _, err := mock.Synthesize(context.Background(), "Hello", ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("expected at least 50ms latency, got %v", elapsed)
		}
	})

	t.Run("Context cancellation works", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		if _, err := mock.Synthesize(ctx, "Hello", ""); err == nil {
			t.Error("expected context deadline error")
		}
	})
}

func TestFunctionalOptions(t *testing.T) {
	cfg := tts.DefaultConfig()
	cfg.Apply(
		tts.WithVoice(tts.VoiceOnyx),
		tts.WithModel(tts.ModelTTS1HD),
		tts.WithTimeout(5*time.Second),
		tts.WithFormat(tts.EncodingOpus),
		tts.WithSpeed(1.25),
	)

	if cfg.Voice != tts.VoiceOnyx {
		t.Errorf("expected voice onyx, got %s", cfg.Voice)
	}
	if cfg.Model != tts.ModelTTS1HD {
		t.Errorf("expected model tts-1-hd, got %s", cfg.Model)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", cfg.Timeout)
	}
	if cfg.Format != tts.EncodingOpus {
		t.Errorf("expected opus format, got %s", cfg.Format)
	}
	if cfg.Speed != 1.25 {
		t.Errorf("expected speed 1.25, got %v", cfg.Speed)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []tts.Option
		want error
	}{
		{"missing key", nil, tts.ErrNoAPIKey},
		{"valid", []tts.Option{tts.WithAPIKey("k")}, nil},
		{"speed too low", []tts.Option{tts.WithAPIKey("k"), tts.WithSpeed(0.1)}, tts.ErrInvalidSpeed},
		{"speed too high", []tts.Option{tts.WithAPIKey("k"), tts.WithSpeed(5)}, tts.ErrInvalidSpeed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tts.DefaultConfig()
			cfg.Apply(tt.opts...)
			if err := cfg.Validate(); err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEncoding(t *testing.T) {
	tests := []struct {
		encoding   tts.Encoding
		ext        string
		sampleRate int
	}{
		{tts.EncodingMP3, ".mp3", 44100},
		{tts.EncodingOpus, ".opus", 44100},
		{tts.EncodingPCM, ".pcm", 24000},
		{"", ".bin", 44100},
	}

	for _, tt := range tests {
		t.Run(string(tt.encoding), func(t *testing.T) {
			if got := tt.encoding.Extension(); got != tt.ext {
				t.Errorf("Extension() = %q, want %q", got, tt.ext)
			}
			if got := tt.encoding.SampleRate(); got != tt.sampleRate {
				t.Errorf("SampleRate() = %d, want %d", got, tt.sampleRate)
			}
		})
	}
}

func TestAPIError(t *testing.T) {
	t.Run("IsRateLimited", func(t *testing.T) {
		err := &tts.APIError{StatusCode: 429, Message: "rate limited"}
		if !err.IsRateLimited() || !err.IsRetryable() {
			t.Error("expected rate limit to be retryable")
		}
	})

	t.Run("IsServerError", func(t *testing.T) {
		for _, code := range []int{500, 502, 503, 504} {
			err := &tts.APIError{StatusCode: code}
			if !err.IsServerError() || !err.IsRetryable() {
				t.Errorf("expected retryable server error for %d", code)
			}
		}
	})

	t.Run("Client errors are final", func(t *testing.T) {
		err := &tts.APIError{StatusCode: 400}
		if err.IsRetryable() {
			t.Error("expected 400 not to be retryable")
		}
	})

	t.Run("Error message format", func(t *testing.T) {
		err := &tts.APIError{
			StatusCode: 400,
			Message:    "bad request",
			Code:       "invalid_input",
			Provider:   "openai",
		}
		if msg := err.Error(); msg != "tts [openai]: API error 400 (invalid_input): bad request" {
			t.Errorf("unexpected error message: %s", msg)
		}
	})
}

func TestOpenAISynthesize(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("expected /audio/speech, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("expected bearer key, got %q", auth)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["voice"] != tts.VoiceFable || body["input"] != "Hello there!" || body["response_format"] != "mp3" {
			t.Errorf("unexpected payload: %v", body)
		}
		w.Write([]byte("ID3-audio"))
	}))
	defer server.Close()

	p, err := tts.NewOpenAI(
		tts.WithAPIKey("test-key"),
		tts.WithBaseURL(server.URL),
		tts.WithRetry(2, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	defer p.Close()

	result, err := p.Synthesize(context.Background(), "Hello there!", tts.VoiceFable)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(result.Audio) != "ID3-audio" || result.Format.Encoding != tts.EncodingMP3 {
		t.Errorf("unexpected result: %+v", result)
	}
	if calls.Load() != 2 {
		t.Errorf("expected one retry, got %d calls", calls.Load())
	}
}

func TestOpenAIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			w.WriteHeader(http.StatusUnauthorized)
		} else {
			w.WriteHeader(http.StatusBadRequest)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "bad voice", "code": "invalid_voice"},
		})
	}))
	defer server.Close()

	p, _ := tts.NewOpenAI(tts.WithAPIKey("k"), tts.WithBaseURL(server.URL+"/"))

	_, err := p.Synthesize(context.Background(), "Hi", "robot")
	var apiErr *tts.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Code != "invalid_voice" {
		t.Errorf("unexpected error: %v", apiErr)
	}

	if err := p.Health(context.Background()); err == nil {
		t.Error("expected health failure")
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	t.Run("NewChain requires backends", func(t *testing.T) {
		if _, err := tts.NewChain(nil); err != tts.ErrProviderUnavailable {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}
	})

	t.Run("Primary serves when healthy", func(t *testing.T) {
		primary, fallback := tts.NewMock(), tts.NewMock()

		chain, _ := tts.NewChain([]tts.Provider{primary, fallback})
		defer chain.Close()

		if _, err := chain.Synthesize(ctx, "Hello", "alloy"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if primary.CallCount("Synthesize") != 1 || fallback.CallCount("Synthesize") != 0 {
			t.Error("expected only the primary to be called")
		}
	})

	t.Run("Fails over on a server error", func(t *testing.T) {
		var from []string
		chain, _ := tts.NewChain(
			[]tts.Provider{tts.WithError(&tts.APIError{StatusCode: 503, Provider: "openai"}), tts.NewMock()},
			tts.WithFailoverHook(func(name string, err error) { from = append(from, name) }),
		)
		defer chain.Close()

		result, err := chain.Synthesize(ctx, "Hello", "")
		if err != nil || result == nil {
			t.Fatalf("expected fallback result, got %v", err)
		}
		if len(from) != 1 || from[0] != "primary" {
			t.Errorf("failovers = %v, want [primary]", from)
		}
	})

	t.Run("Rejected line does not fail over", func(t *testing.T) {
		bad := &tts.APIError{StatusCode: 400, Message: "input too long", Provider: "openai"}
		fallback := tts.NewMock()
		chain, _ := tts.NewChain([]tts.Provider{tts.WithError(bad), fallback})

		if _, err := chain.Synthesize(ctx, "Hello", ""); !errors.Is(err, bad) {
			t.Errorf("err = %v, want the 400 unchanged", err)
		}
		if fallback.CallCount("Synthesize") != 0 {
			t.Error("fallback should not be called")
		}
	})

	t.Run("All backends fail", func(t *testing.T) {
		first, last := errors.New("fail 1"), errors.New("fail 2")
		chain, _ := tts.NewChain([]tts.Provider{tts.WithError(first), tts.WithError(last)})
		defer chain.Close()

		_, err := chain.Synthesize(ctx, "Hello", "")
		var chainErr *tts.ChainError
		if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
			t.Errorf("expected ChainError with 2 errors, got %v", err)
		}
		if !errors.Is(err, first) || !errors.Is(err, last) {
			t.Error("expected ChainError to unwrap to every backend error")
		}
	})

	t.Run("Health passes with one reachable backend", func(t *testing.T) {
		chain, _ := tts.NewChain([]tts.Provider{tts.WithError(errors.New("down")), tts.NewMock()})
		if err := chain.Health(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestProviderError(t *testing.T) {
	inner := errors.New("connection failed")
	err := tts.WrapError("openai", inner)

	if err.Error() != "tts [openai]: connection failed" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("expected wrapped error to unwrap")
	}
	if tts.WrapError("openai", nil) != nil {
		t.Error("expected nil for nil error")
	}
}
