package main

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/internal/httpc"
	"github.com/teslashibe/go-parley/internal/log"
	"github.com/teslashibe/go-parley/pkg/classifier"
	"github.com/teslashibe/go-parley/pkg/dialogue"
	"github.com/teslashibe/go-parley/pkg/history"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/metrics"
	"github.com/teslashibe/go-parley/pkg/tts"
	"github.com/teslashibe/go-parley/pkg/turn"
)

// app is the wired conversation shared by the chat and serve commands.
type app struct {
	session  config.Session
	roster   *turn.Roster
	provider inference.Provider
	store    *history.Store
	loop     *dialogue.Loop
	speaker  *tts.Speaker
	logger   *slog.Logger
}

func newApp(cfg config.Config, sinks ...dialogue.Sink) (*app, error) {
	logger := log.L()

	session, err := config.LoadSession(cfg.SessionPath)
	if err != nil {
		return nil, err
	}
	roster, err := session.Roster()
	if err != nil {
		return nil, fmt.Errorf("build roster: %w", err)
	}

	provider, err := newProvider(cfg.OpenAI, logger)
	if err != nil {
		return nil, err
	}

	gateway := classifier.New(provider,
		classifier.WithModel(cfg.OpenAI.ClassifierModel),
		classifier.WithAttemptHook(func(q turn.Question, _ int, err error) {
			metrics.RecordClassifierAttempt(string(q), err)
		}),
		classifier.WithLogger(logger),
	)

	director, err := turn.NewDirector(roster, gateway, append(session.DirectorOptions(), turn.WithLogger(logger))...)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("build director: %w", err)
	}

	store, err := openHistory(cfg.HistoryPath)
	if err != nil {
		provider.Close()
		return nil, err
	}

	a := &app{
		session:  session,
		roster:   roster,
		provider: provider,
		store:    store,
		logger:   logger,
	}

	// The reply model is left to each backend's default so a fallback
	// endpoint can serve its own model.
	opts := []dialogue.Option{
		dialogue.WithStopMarkers(session.StopMarkers...),
		dialogue.WithPreserveNewlines(session.PreserveNewlines),
		dialogue.WithLogger(logger),
	}
	for _, s := range sinks {
		opts = append(opts, dialogue.WithSink(s))
	}

	if cfg.SpeechDir != "" {
		synth, err := newSynthesizer(cfg.OpenAI, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("speech: %w", err)
		}
		a.speaker = tts.NewSpeaker(synth, tts.NewDirPlayer(cfg.SpeechDir),
			tts.WithDropHook(func(tts.Line) { metrics.RecordSpeechDropped() }),
			tts.WithStaleCheck(func(l tts.Line) bool { return a.loop.Stale(l.Generation) }),
			tts.WithSpeakerLogger(logger),
		)
		opts = append(opts, dialogue.WithSink(speechSink(a.speaker, roster)))
		logger.Info("speech enabled", "dir", cfg.SpeechDir)
	}

	a.loop, err = dialogue.New(director, provider, store, session.DialoguePersonas(), opts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("session ready",
		"session", a.loop.SessionID(),
		"personas", len(roster.AIs()),
		"history", store.Len(),
	)
	return a, nil
}

// runSpeaker plays queued speech until ctx is done. It returns at once
// when speech is disabled.
func (a *app) runSpeaker(ctx context.Context) error {
	if a.speaker == nil {
		return nil
	}
	return a.speaker.Run(ctx)
}

// Close saves history and releases the transport.
func (a *app) Close() error {
	if a.speaker != nil {
		a.speaker.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to save history", "error", err)
	}
	return a.provider.Close()
}

// newProvider builds the chat transport. With a fallback endpoint
// configured it is a chain that fails over to it.
func newProvider(cfg config.OpenAIConfig, logger *slog.Logger) (inference.Provider, error) {
	primary, err := newClient(cfg.BaseURL, cfg.APIKeys, cfg.Model, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.Fallback.Enabled() {
		return primary, nil
	}

	fb := cfg.Fallback
	fallback, err := newClient(fb.BaseURL, cmp.Or(fb.APIKeys, cfg.APIKeys), cmp.Or(fb.Model, cfg.Model), logger)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("fallback: %w", err)
	}
	logger.Info("chat fallback enabled", "base_url", fb.BaseURL)
	return inference.NewChain([]inference.Provider{primary, fallback},
		inference.WithChainLogger(logger),
		inference.WithFailoverHook(func(from string, _ error) {
			metrics.RecordFailover("chat", from)
		}),
	)
}

func newClient(baseURL, keys, model string, logger *slog.Logger) (*inference.Client, error) {
	opts := []inference.Option{
		inference.WithBaseURL(baseURL),
		inference.WithModel(model),
		inference.WithHTTPClient(httpc.NewClient(httpc.DefaultTimeout)),
		inference.WithLogger(logger),
	}
	if keys != "" {
		ring, err := inference.NewKeyRing(keys)
		if err != nil {
			return nil, err
		}
		opts = append(opts, inference.WithKeyRing(ring))
	}
	return inference.NewClient(opts...)
}

// newSynthesizer builds the speech backend, chained to the fallback
// endpoint when one is configured.
func newSynthesizer(cfg config.OpenAIConfig, logger *slog.Logger) (tts.Provider, error) {
	primary, err := tts.NewOpenAI(
		tts.WithAPIKey(firstKey(cfg.APIKeys)),
		tts.WithFormat(tts.EncodingMP3),
		tts.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	if !cfg.Fallback.Enabled() {
		return primary, nil
	}

	fallback, err := tts.NewOpenAI(
		tts.WithBaseURL(cfg.Fallback.BaseURL),
		tts.WithAPIKey(firstKey(cmp.Or(cfg.Fallback.APIKeys, cfg.APIKeys))),
		tts.WithFormat(tts.EncodingMP3),
		tts.WithLogger(logger),
	)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("fallback: %w", err)
	}
	return tts.NewChain([]tts.Provider{primary, fallback},
		tts.WithChainLogger(logger),
		tts.WithFailoverHook(func(from string, _ error) {
			metrics.RecordFailover("speech", from)
		}),
	)
}

func openHistory(path string) (*history.Store, error) {
	if path == "" {
		return history.New(), nil
	}
	store, err := history.NewWithFile(path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

// speechSink queues every sentence for synthesis. Personas without a
// configured voice get one from tts.Voices by roster position.
func speechSink(s *tts.Speaker, r *turn.Roster) dialogue.Sink {
	return dialogue.SinkFuncs{
		Sentence: func(e dialogue.SentenceEvent) {
			s.Say(tts.Line{
				Speaker:    e.SpeakerName,
				Voice:      voiceFor(r, e.Speaker, e.Voice),
				Text:       e.Sentence.Text,
				Generation: e.Generation,
			})
		},
	}
}

func voiceFor(r *turn.Roster, id turn.ParticipantID, configured string) string {
	if configured != "" {
		return configured
	}
	for i, p := range r.AIs() {
		if p.ID == id {
			return tts.Voices[i%len(tts.Voices)]
		}
	}
	return tts.Voices[0]
}

func firstKey(keys string) string {
	first, _, _ := strings.Cut(keys, ",")
	return strings.TrimSpace(first)
}
