package tts_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-parley/pkg/tts"
)

// recordingPlayer forwards every played line to a channel.
type recordingPlayer chan tts.Line

func (p recordingPlayer) Play(ctx context.Context, line tts.Line, audio *tts.AudioResult) error {
	p <- line
	return nil
}

func waitLine(t *testing.T, ch <-chan tts.Line) tts.Line {
	t.Helper()
	select {
	case line := <-ch:
		return line
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for playback")
		return tts.Line{}
	}
}

func TestSpeakerPlaysInOrder(t *testing.T) {
	mock := tts.NewMock()
	played := make(recordingPlayer, 4)
	speaker := tts.NewSpeaker(mock, played)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go speaker.Run(ctx)

	speaker.Say(tts.Line{Speaker: "ava", Voice: tts.VoiceNova, Text: "Hello there!"})
	speaker.Say(tts.Line{Speaker: "ava", Voice: tts.VoiceNova, Text: "How are you?"})

	if got := waitLine(t, played).Text; got != "Hello there!" {
		t.Errorf("first line = %q", got)
	}
	if got := waitLine(t, played).Text; got != "How are you?" {
		t.Errorf("second line = %q", got)
	}
	if call := mock.LastCall(); call == nil || call.Voice != tts.VoiceNova {
		t.Errorf("expected voice to reach the provider, got %+v", call)
	}
}

func TestSpeakerDropsWhenFull(t *testing.T) {
	var dropped []tts.Line
	speaker := tts.NewSpeaker(tts.NewMock(), make(recordingPlayer, 1),
		tts.WithQueueSize(1),
		tts.WithDropHook(func(l tts.Line) { dropped = append(dropped, l) }),
	)

	// No worker running: the second line cannot fit.
	if !speaker.Say(tts.Line{Speaker: "ava", Text: "One."}) {
		t.Fatal("expected first line to be queued")
	}
	if speaker.Say(tts.Line{Speaker: "bo", Text: "Two."}) {
		t.Fatal("expected second line to be dropped")
	}
	if len(dropped) != 1 || dropped[0].Speaker != "bo" {
		t.Errorf("unexpected drops: %+v", dropped)
	}
	if speaker.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", speaker.Pending())
	}
}

func TestSpeakerIgnoresBlankText(t *testing.T) {
	speaker := tts.NewSpeaker(tts.NewMock(), make(recordingPlayer, 1), tts.WithQueueSize(1))
	if !speaker.Say(tts.Line{Text: "   "}) {
		t.Error("blank text should not count as a drop")
	}
	if speaker.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", speaker.Pending())
	}
}

func TestSpeakerFlush(t *testing.T) {
	speaker := tts.NewSpeaker(tts.NewMock(), make(recordingPlayer, 1))
	for _, text := range []string{"A.", "B.", "C."} {
		speaker.Say(tts.Line{Text: text})
	}
	if n := speaker.Flush(); n != 3 {
		t.Errorf("Flush() = %d, want 3", n)
	}
	if speaker.Pending() != 0 {
		t.Errorf("Pending() = %d after flush", speaker.Pending())
	}
}

func TestSpeakerSkipsStaleLines(t *testing.T) {
	mock := tts.NewMock()
	played := make(recordingPlayer, 4)
	speaker := tts.NewSpeaker(mock, played,
		tts.WithStaleCheck(func(l tts.Line) bool { return l.Generation < 2 }),
	)

	speaker.Say(tts.Line{Text: "Old.", Generation: 1})
	speaker.Say(tts.Line{Text: "New.", Generation: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go speaker.Run(ctx)

	if got := waitLine(t, played).Text; got != "New." {
		t.Errorf("played %q, want New.", got)
	}
	if mock.CallCount("Synthesize") != 1 {
		t.Errorf("expected stale line to skip synthesis, got %d calls", mock.CallCount("Synthesize"))
	}
}

func TestSpeakerSurvivesSynthesisErrors(t *testing.T) {
	mock := tts.NewMock()
	ok := mock.SynthesizeFunc
	mock.SynthesizeFunc = func(ctx context.Context, text, voice string) (*tts.AudioResult, error) {
		if text == "Broken." {
			return nil, errors.New("boom")
		}
		return ok(ctx, text, voice)
	}
	played := make(recordingPlayer, 4)
	speaker := tts.NewSpeaker(mock, played)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go speaker.Run(ctx)

	speaker.Say(tts.Line{Text: "Broken."})
	speaker.Say(tts.Line{Text: "Fine."})

	if got := waitLine(t, played).Text; got != "Fine." {
		t.Errorf("played %q, want Fine.", got)
	}
}

func TestSpeakerClose(t *testing.T) {
	speaker := tts.NewSpeaker(tts.NewMock(), make(recordingPlayer, 1))

	done := make(chan error, 1)
	go func() { done <- speaker.Run(context.Background()) }()

	speaker.Close()
	speaker.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after Close")
	}

	if speaker.Say(tts.Line{Text: "Late."}) {
		t.Error("expected lines after Close to be dropped")
	}
}

func TestDirPlayer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audio")
	player := tts.NewDirPlayer(dir)

	audio := &tts.AudioResult{Audio: []byte("mp3"), Format: tts.AudioFormat{Encoding: tts.EncodingMP3}}
	if err := player.Play(context.Background(), tts.Line{Speaker: "Ava Lin"}, audio); err != nil {
		t.Fatalf("Play: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "0001-Ava_Lin.mp3"))
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if string(data) != "mp3" {
		t.Errorf("unexpected audio %q", data)
	}
}
