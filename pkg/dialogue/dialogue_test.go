package dialogue

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/teslashibe/go-parley/pkg/history"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/turn"
)

func testRoster(t *testing.T) *turn.Roster {
	t.Helper()
	return turn.MustRoster("Sam",
		turn.Participant{ID: "ava", DisplayName: "Ava"},
		turn.Participant{ID: "bo", DisplayName: "Bo"},
	)
}

// recorder is a Sink that keeps everything it sees.
type recorder struct {
	mu        sync.Mutex
	sentences []SentenceEvent
	turns     []TurnEvent
}

func (r *recorder) OnSentence(e SentenceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sentences = append(r.sentences, e)
}

func (r *recorder) OnTurn(e TurnEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, e)
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sentences))
	for i, s := range r.sentences {
		out[i] = s.Sentence.Text
	}
	return out
}

// scriptedProvider streams a fixed reply per speaker, identified by the
// "(you)" marker in the system prompt.
func scriptedProvider(replies map[string][]string) *inference.Mock {
	m := inference.NewMock("")
	m.StreamFunc = func(ctx context.Context, req *inference.ChatRequest) (inference.Stream, error) {
		sys := req.Messages[0].Content
		for name, deltas := range replies {
			if strings.Contains(sys, "- "+name+" (you)") {
				return inference.NewStaticStream(deltas...), nil
			}
		}
		return inference.NewStaticStream(), nil
	}
	return m
}

// funcStream calls next for every Recv.
type funcStream struct {
	next func(i int) (*inference.StreamChunk, error)
	i    int
}

func (s *funcStream) Recv() (*inference.StreamChunk, error) {
	s.i++
	return s.next(s.i)
}

func (s *funcStream) Close() error { return nil }

func newLoop(t *testing.T, gw turn.Gateway, provider inference.Provider, opts ...Option) (*Loop, *recorder) {
	t.Helper()
	director, err := turn.NewDirector(testRoster(t), gw)
	if err != nil {
		t.Fatalf("NewDirector: %v", err)
	}
	rec := &recorder{}
	opts = append(opts, WithSink(rec))
	loop, err := New(director, provider, history.New(), []Persona{
		{ID: "ava", Prompt: "You are cheerful.", Voice: "nova"},
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return loop, rec
}

func TestHumanSays_StreamsReplyAndReturnsFloor(t *testing.T) {
	provider := scriptedProvider(map[string][]string{
		"Ava": {"Hello", " there", "! How", " are you?"},
	})
	loop, rec := newLoop(t, nil, provider)

	turns, err := loop.HumanSays(context.Background(), "Ava, say hi.")
	if err != nil {
		t.Fatalf("HumanSays: %v", err)
	}

	if want := []string{"Hello there!", "How are you?"}; !reflect.DeepEqual(rec.texts(), want) {
		t.Errorf("sentences = %q, want %q", rec.texts(), want)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Decision.Addressee != "ava" || turns[0].Decision.NextSpeaker != "ava" {
		t.Errorf("human turn decision = %+v", turns[0].Decision)
	}
	if turns[1].Speaker != "ava" || turns[1].Decision.NextSpeaker != turn.Human {
		t.Errorf("ava turn = %+v", turns[1])
	}
	if turns[1].Utterance != "Hello there! How are you?" {
		t.Errorf("utterance = %q", turns[1].Utterance)
	}

	entries := loop.History().All()
	if len(entries) != 2 || entries[0].Role != history.RoleHuman || entries[1].Speaker != "ava" {
		t.Errorf("history = %+v", entries)
	}
	if loop.State() != WaitingForHuman {
		t.Errorf("State() = %v", loop.State())
	}

	rec.mu.Lock()
	first := rec.sentences[0]
	rec.mu.Unlock()
	if first.Voice != "nova" || first.SpeakerName != "Ava" || first.Generation != loop.Generation() {
		t.Errorf("sentence event = %+v", first)
	}
}

func TestHumanSays_AIHandsToAI(t *testing.T) {
	gw := turn.GatewayFunc(func(ctx context.Context, req turn.Request) (turn.Response, error) {
		if req.Question == turn.AskNextSpeaker && req.CurrentSpeaker == "ava" {
			return turn.Response{Label: "bo", Reason: "ava asked bo"}, nil
		}
		return turn.Response{Label: "human"}, nil
	})
	provider := scriptedProvider(map[string][]string{
		"Ava": {"Bo, what do you think?"},
		"Bo":  {"I think Sam should decide."},
	})
	loop, _ := newLoop(t, gw, provider)

	turns, err := loop.HumanSays(context.Background(), "Ava, pick a movie.")
	if err != nil {
		t.Fatalf("HumanSays: %v", err)
	}

	var speakers []turn.ParticipantID
	for _, tv := range turns {
		speakers = append(speakers, tv.Speaker)
	}
	if want := []turn.ParticipantID{turn.Human, "ava", "bo"}; !reflect.DeepEqual(speakers, want) {
		t.Errorf("speakers = %v, want %v", speakers, want)
	}
	if turns[1].Decision.Addressee != "bo" || turns[1].Decision.Listener != "bo" {
		t.Errorf("ava decision = %+v", turns[1].Decision)
	}
	if provider.CallCount("Stream") != 2 {
		t.Errorf("Stream calls = %d, want 2", provider.CallCount("Stream"))
	}
}

func TestHumanSays_StopMarkerEndsReply(t *testing.T) {
	provider := scriptedProvider(map[string][]string{
		"Ava": {"Sure thing.", "\n[Bo]: I disagree."},
	})
	loop, rec := newLoop(t, nil, provider)

	if _, err := loop.HumanSays(context.Background(), "Ava?"); err != nil {
		t.Fatalf("HumanSays: %v", err)
	}
	if want := []string{"Sure thing."}; !reflect.DeepEqual(rec.texts(), want) {
		t.Errorf("sentences = %q, want %q", rec.texts(), want)
	}

	req := provider.LastCall().Request
	if !contains(req.Stop, "\n[Bo]:") || !contains(req.Stop, "[Sam]:") {
		t.Errorf("stop sequences = %q", req.Stop)
	}
	if contains(req.Stop, "[Ava]:") {
		t.Error("reply catalog should not stop on the speaker's own tag")
	}
	if req.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d", req.MaxTokens)
	}
}

func TestHumanSays_OwnNamePrefixKept(t *testing.T) {
	provider := scriptedProvider(map[string][]string{
		"Ava": {"[Ava]: Hi Sam, nice to see you."},
	})
	loop, rec := newLoop(t, nil, provider)

	if _, err := loop.HumanSays(context.Background(), "Ava?"); err != nil {
		t.Fatalf("HumanSays: %v", err)
	}
	if want := []string{"Hi Sam, nice to see you."}; !reflect.DeepEqual(rec.texts(), want) {
		t.Errorf("sentences = %q, want %q", rec.texts(), want)
	}
}

func TestHumanSays_Interrupt(t *testing.T) {
	var loop *Loop
	provider := inference.NewMock("")
	provider.StreamFunc = func(ctx context.Context, req *inference.ChatRequest) (inference.Stream, error) {
		return &funcStream{next: func(i int) (*inference.StreamChunk, error) {
			switch i {
			case 1:
				return &inference.StreamChunk{Delta: "First sentence here. "}, nil
			case 2:
				return &inference.StreamChunk{Delta: "Second sentence here. "}, nil
			case 3:
				loop.Interrupt()
				return &inference.StreamChunk{Delta: "And a third sentence that is long. "}, nil
			}
			return &inference.StreamChunk{Delta: "More text after the interrupt. "}, nil
		}}, nil
	}
	loop, rec := newLoop(t, nil, provider)
	before := loop.Generation()

	turns, err := loop.HumanSays(context.Background(), "Ava, talk.")
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if len(turns) != 1 {
		t.Errorf("got %d turns, want only the human turn", len(turns))
	}
	if want := []string{"First sentence here.", "Second sentence here."}; !reflect.DeepEqual(rec.texts(), want) {
		t.Errorf("sentences = %q, want %q", rec.texts(), want)
	}
	if loop.History().Len() != 1 {
		t.Errorf("interrupted reply must not reach history, len = %d", loop.History().Len())
	}
	if loop.Generation() != before+2 {
		t.Errorf("Generation() = %d, want %d", loop.Generation(), before+2)
	}
}

func TestHumanSays_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := inference.NewMock("")
	provider.StreamFunc = func(_ context.Context, req *inference.ChatRequest) (inference.Stream, error) {
		return &funcStream{next: func(i int) (*inference.StreamChunk, error) {
			if i == 2 {
				cancel()
			}
			return &inference.StreamChunk{Delta: "Talking and talking. "}, nil
		}}, nil
	}

	var asked int
	gw := turn.GatewayFunc(func(ctx context.Context, req turn.Request) (turn.Response, error) {
		asked++
		return turn.Response{Label: "ava"}, nil
	})
	loop, _ := newLoop(t, gw, provider)

	_, err := loop.HumanSays(ctx, "Hello everyone")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if loop.History().Len() != 1 {
		t.Errorf("history len = %d, want 1", loop.History().Len())
	}
	// Only the human's addressee was classified; the cancelled reply never reached the director.
	if asked != 1 {
		t.Errorf("gateway asked %d times, want 1", asked)
	}
}

func TestHumanSays_StreamError(t *testing.T) {
	provider := inference.WithError(errors.New("upstream down"))
	loop, rec := newLoop(t, nil, provider)

	turns, err := loop.HumanSays(context.Background(), "Ava?")
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("err = %v", err)
	}
	if len(turns) != 1 || len(rec.texts()) != 0 {
		t.Errorf("turns=%d sentences=%d", len(turns), len(rec.texts()))
	}
	if loop.State() != WaitingForHuman {
		t.Errorf("State() = %v", loop.State())
	}
}

func TestHumanSays_TruncatedStream(t *testing.T) {
	provider := inference.NewMock("")
	provider.StreamFunc = func(ctx context.Context, req *inference.ChatRequest) (inference.Stream, error) {
		return &funcStream{next: func(i int) (*inference.StreamChunk, error) {
			if i == 1 {
				return &inference.StreamChunk{Delta: "Half a thought"}, nil
			}
			return nil, io.ErrUnexpectedEOF
		}}, nil
	}
	loop, rec := newLoop(t, nil, provider)

	if _, err := loop.HumanSays(context.Background(), "Ava?"); err != nil {
		t.Fatalf("HumanSays: %v", err)
	}
	if want := []string{"Half a thought"}; !reflect.DeepEqual(rec.texts(), want) {
		t.Errorf("sentences = %q, want %q", rec.texts(), want)
	}
}

func TestHumanSays_EmptyReply(t *testing.T) {
	loop, _ := newLoop(t, nil, scriptedProvider(nil))

	turns, err := loop.HumanSays(context.Background(), "Ava?")
	if err != nil {
		t.Fatalf("HumanSays: %v", err)
	}
	if len(turns) != 1 || loop.History().Len() != 1 {
		t.Errorf("turns=%d history=%d", len(turns), loop.History().Len())
	}
}

func TestHumanSays_Empty(t *testing.T) {
	loop, _ := newLoop(t, nil, scriptedProvider(nil))
	if _, err := loop.HumanSays(context.Background(), "  "); !errors.Is(err, ErrEmptyUtterance) {
		t.Errorf("err = %v, want ErrEmptyUtterance", err)
	}
}

func TestHumanSaysTo_Override(t *testing.T) {
	provider := scriptedProvider(map[string][]string{"Bo": {"Here I am."}})
	loop, _ := newLoop(t, nil, provider)

	turns, err := loop.HumanSaysTo(context.Background(), "Ava, or maybe not.", "bo")
	if err != nil {
		t.Fatalf("HumanSaysTo: %v", err)
	}
	if turns[0].Decision.Addressee != "bo" || turns[1].Speaker != "bo" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestNew_UnknownPersona(t *testing.T) {
	director, _ := turn.NewDirector(testRoster(t), nil)
	_, err := New(director, inference.NewMock(""), nil, []Persona{{ID: "zed"}})
	if !errors.Is(err, ErrUnknownPersona) {
		t.Errorf("err = %v, want ErrUnknownPersona", err)
	}

	_, err = New(director, inference.NewMock(""), nil, nil, WithContextWindow(0))
	if !errors.Is(err, ErrInvalidContextWindow) {
		t.Errorf("err = %v, want ErrInvalidContextWindow", err)
	}
}

func TestSessionCatalog(t *testing.T) {
	c, err := SessionCatalog(testRoster(t), "<END>")
	if err != nil {
		t.Fatalf("SessionCatalog: %v", err)
	}
	markers := c.Markers()
	for _, want := range []string{"<|im_end|>", "\nUser:", "<END>", "\n[Sam]:", "[Sam]:", "\n[Ava]:", "[Ava]:", "[Bo]:"} {
		if !contains(markers, want) {
			t.Errorf("catalog missing %q", want)
		}
	}

	if _, err := SessionCatalog(testRoster(t), ""); err == nil {
		t.Error("expected empty marker to fail")
	}
}

func TestBuildReplyPrompt(t *testing.T) {
	r := testRoster(t)
	recent := []history.Entry{
		history.NewEntry("human", history.RoleHuman, "Hi all"),
		history.NewEntry("bo", history.RoleAssistant, "Hey Sam"),
	}
	msgs := BuildReplyPrompt(r, Persona{ID: "ava", Prompt: "Speak like a pirate."}, recent)

	if len(msgs) != 2 || msgs[0].Role != inference.RoleSystem {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	sys := msgs[0].Content
	for _, want := range []string{"You are Ava", "Speak like a pirate.", "- Sam (the human)", "- Ava (you)", "- Bo"} {
		if !strings.Contains(sys, want) {
			t.Errorf("system prompt missing %q:\n%s", want, sys)
		}
	}
	user := msgs[1].Content
	if !strings.Contains(user, "[Sam]: Hi all\n[Bo]: Hey Sam\n") || !strings.HasSuffix(user, "It is your turn, Ava.") {
		t.Errorf("unexpected conversation:\n%s", user)
	}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, true)
	c.OnSentence(SentenceEvent{SpeakerName: "Ava"})
	c.OnTurn(TurnEvent{Decision: turn.Decision{Addressee: "bo", NextSpeaker: turn.Human, Filter: turn.FilterNoRepeat}})

	want := "[Ava] \n  -> to bo, next human (no_repeat)\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	NewConsole(&buf, false).OnTurn(TurnEvent{})
	if buf.Len() != 0 {
		t.Errorf("decisions should be hidden, got %q", buf.String())
	}
}

func TestStateString(t *testing.T) {
	if WaitingForHuman.String() != "waiting_for_human" || ProcessingUtterance.String() != "processing_utterance" {
		t.Error("unexpected state names")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
