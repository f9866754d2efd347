package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the number of lines a Speaker buffers before dropping.
const DefaultQueueSize = 32

// Line is one sentence queued for speech.
type Line struct {
	Speaker    string
	Voice      string
	Text       string
	Generation uint64
}

// Player consumes synthesized audio.
type Player interface {
	Play(ctx context.Context, line Line, audio *AudioResult) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, line Line, audio *AudioResult) error

// Play calls f.
func (f PlayerFunc) Play(ctx context.Context, line Line, audio *AudioResult) error {
	return f(ctx, line, audio)
}

// SpeakerOption configures a Speaker.
type SpeakerOption func(*Speaker)

// WithQueueSize sets the number of buffered lines.
func WithQueueSize(n int) SpeakerOption {
	return func(s *Speaker) {
		if n > 0 {
			s.queue = make(chan Line, n)
		}
	}
}

// WithDropHook is called for every line rejected because the queue is full
// or the speaker is closed.
func WithDropHook(fn func(Line)) SpeakerOption {
	return func(s *Speaker) {
		s.onDrop = fn
	}
}

// WithStaleCheck lets the speaker skip lines that became obsolete while
// queued, e.g. after the conversation was interrupted.
func WithStaleCheck(fn func(Line) bool) SpeakerOption {
	return func(s *Speaker) {
		s.stale = fn
	}
}

// WithSpeakerLogger sets the speaker's logger.
func WithSpeakerLogger(logger *slog.Logger) SpeakerOption {
	return func(s *Speaker) {
		s.logger = logger
	}
}

// Speaker synthesizes queued lines in order on a single worker goroutine.
// Say never blocks: when the queue is full the line is dropped.
type Speaker struct {
	provider Provider
	player   Player
	queue    chan Line
	done     chan struct{}
	once     sync.Once
	closed   atomic.Bool
	spoken   atomic.Int64
	onDrop   func(Line)
	stale    func(Line) bool
	logger   *slog.Logger
}

// NewSpeaker creates a speaker. Call Run to start playback.
func NewSpeaker(provider Provider, player Player, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		provider: provider,
		player:   player,
		queue:    make(chan Line, DefaultQueueSize),
		done:     make(chan struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tts.speaker")
	return s
}

// Say queues a line. It reports false if the line was dropped.
func (s *Speaker) Say(line Line) bool {
	if strings.TrimSpace(line.Text) == "" {
		return true
	}
	if s.closed.Load() {
		s.drop(line, "closed")
		return false
	}
	select {
	case s.queue <- line:
		return true
	default:
		s.drop(line, "queue full")
		return false
	}
}

func (s *Speaker) drop(line Line, reason string) {
	s.logger.Warn("speech dropped", "speaker", line.Speaker, "reason", reason)
	if s.onDrop != nil {
		s.onDrop(line)
	}
}

// Run synthesizes and plays queued lines until ctx is done or Close is
// called. Synthesis and playback errors are logged and skipped.
func (s *Speaker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case line := <-s.queue:
			s.speak(ctx, line)
		}
	}
}

func (s *Speaker) speak(ctx context.Context, line Line) {
	if s.stale != nil && s.stale(line) {
		s.logger.Debug("skipping stale line", "speaker", line.Speaker, "generation", line.Generation)
		return
	}

	audio, err := s.provider.Synthesize(ctx, line.Text, line.Voice)
	if err != nil {
		s.logger.Warn("synthesis failed", "speaker", line.Speaker, "error", err)
		return
	}
	if err := s.player.Play(ctx, line, audio); err != nil {
		s.logger.Warn("playback failed", "speaker", line.Speaker, "error", err)
		return
	}
	s.spoken.Add(1)
}

// Flush discards every queued line and returns how many were removed.
func (s *Speaker) Flush() int {
	n := 0
	for {
		select {
		case <-s.queue:
			n++
		default:
			return n
		}
	}
}

// Pending returns the number of queued lines.
func (s *Speaker) Pending() int {
	return len(s.queue)
}

// Spoken returns the number of lines played successfully.
func (s *Speaker) Spoken() int64 {
	return s.spoken.Load()
}

// Close stops the worker. Lines queued afterwards are dropped.
func (s *Speaker) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

// DirPlayer writes each synthesized line to a numbered file in a directory.
type DirPlayer struct {
	dir string
	n   atomic.Int64
}

// NewDirPlayer returns a player writing into dir, created on first use.
func NewDirPlayer(dir string) *DirPlayer {
	return &DirPlayer{dir: dir}
}

// Play writes the audio to <dir>/<seq>-<speaker><ext>.
func (p *DirPlayer) Play(ctx context.Context, line Line, audio *AudioResult) error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	seq := p.n.Add(1)
	name := fmt.Sprintf("%04d-%s%s", seq, safeName(line.Speaker), audio.Format.Encoding.Extension())
	return os.WriteFile(filepath.Join(p.dir, name), audio.Audio, 0644)
}

func safeName(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

var _ Player = (*DirPlayer)(nil)
