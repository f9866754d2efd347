package emitter

import (
	"reflect"
	"strings"
	"testing"

	"github.com/teslashibe/go-parley/pkg/segment"
	"github.com/teslashibe/go-parley/pkg/stopseq"
)

func newTestEmitter(t *testing.T, got *[]string) *Emitter {
	t.Helper()
	catalog := stopseq.MustCatalog(stopseq.DefaultMarkers...)
	return New(Config{
		Catalog:   catalog,
		Segmenter: segment.New(catalog.Markers()...),
		Sink: func(s Sentence) {
			*got = append(*got, s.Text)
		},
	})
}

func TestEmitter_StreamsInOrder(t *testing.T) {
	var got []string
	em := newTestEmitter(t, &got)

	for _, d := range []string{"Hello", " there", "! How", " are you?"} {
		if state := em.Write(d); state != Streaming {
			t.Fatalf("Write(%q) state = %v, want streaming", d, state)
		}
	}
	if want := []string{"Hello there!"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("before close got %q, want %q", got, want)
	}

	em.Close()
	want := []string{"Hello there!", "How are you?"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
	if em.State() != Finished {
		t.Errorf("State() = %v, want finished", em.State())
	}
	if em.Utterance() != "Hello there! How are you?" {
		t.Errorf("Utterance() = %q", em.Utterance())
	}
}

func TestEmitter_NeverEmitsTwice(t *testing.T) {
	var got []string
	em := newTestEmitter(t, &got)

	text := "First sentence here. Second one follows! And a third, which is longer? Done."
	for _, r := range text {
		em.Write(string(r))
	}
	em.Close()
	em.Close()

	seen := map[string]bool{}
	for _, s := range got {
		if seen[s] {
			t.Errorf("sentence %q emitted twice", s)
		}
		seen[s] = true
	}
	if joined := strings.Join(got, " "); joined != text {
		t.Errorf("joined = %q, want %q", joined, text)
	}
}

func TestEmitter_MatchesFinalSegmentation(t *testing.T) {
	text := "The value is 3.5 today. Great news!\nAnother line follows here."
	for _, preserve := range []bool{false, true} {
		var got []string
		em := New(Config{
			PreserveNewlines: preserve,
			Sink:             func(s Sentence) { got = append(got, s.Text) },
		})
		for _, r := range text {
			em.Write(string(r))
		}
		em.Close()

		var want []string
		for _, s := range segment.Segment(text, preserve, true) {
			want = append(want, s.Content())
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("preserve=%v: got %q, want %q", preserve, got, want)
		}
	}
}

func TestEmitter_GrowingPunctuationRun(t *testing.T) {
	for _, text := range []string{
		"I am not so sure about that... Maybe later?",
		"Hmm... Really?! That is surprising news.",
	} {
		var got []string
		em := New(Config{Sink: func(s Sentence) { got = append(got, s.Text) }})
		for _, r := range text {
			em.Write(string(r))
		}
		em.Close()

		var want []string
		for _, s := range segment.Segment(text, false, true) {
			want = append(want, s.Content())
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%q: got %q, want %q", text, got, want)
		}
	}
}

func TestEmitter_StopMarkerFinishes(t *testing.T) {
	var got []string
	em := newTestEmitter(t, &got)

	em.Write("Fine. See you")
	if want := []string{"Fine."}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}

	if state := em.Write("<|im_end|>extra words."); state != Finished {
		t.Fatalf("state = %v, want finished", state)
	}
	if !em.Stopped() {
		t.Error("Stopped() = false, want true")
	}
	if want := []string{"Fine.", "See you"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}

	em.Write(" More text.")
	em.Close()
	if len(got) != 2 {
		t.Errorf("emitted after finish: %q", got)
	}
}

func TestEmitter_PartialMarkerHeldBack(t *testing.T) {
	var got []string
	em := newTestEmitter(t, &got)

	em.Write("Okay then. Talk soon\nYo")
	if want := []string{"Okay then."}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	em.Write("u: hi there")
	if em.State() != Finished {
		t.Fatalf("state = %v, want finished", em.State())
	}
	if want := []string{"Okay then.", "Talk soon"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEmitter_SkipsBlankSentences(t *testing.T) {
	var got []Sentence
	em := New(Config{Sink: func(s Sentence) { got = append(got, s) }})

	em.Write("Hello there, friend. (sighs)")
	em.Close()

	if len(got) != 1 || got[0].Text != "Hello there, friend." {
		t.Fatalf("got %+v", got)
	}
	if p := em.Progress(); p.EmittedCount != 2 {
		t.Errorf("EmittedCount = %d, want 2", p.EmittedCount)
	}
}

func TestEmitter_PendingTail(t *testing.T) {
	em := New(Config{})
	em.Write("Hello there! How")

	p := em.Progress()
	if p.EmittedCount != 1 {
		t.Errorf("EmittedCount = %d, want 1", p.EmittedCount)
	}
	if p.PendingTailLength != len(" How") {
		t.Errorf("PendingTailLength = %d, want %d", p.PendingTailLength, len(" How"))
	}

	em.Close()
	if p := em.Progress(); p.PendingTailLength != 0 {
		t.Errorf("PendingTailLength after close = %d", p.PendingTailLength)
	}
}

func TestEmitter_DisplayName(t *testing.T) {
	var got []string
	em := New(Config{
		DisplayName: "Sam",
		Sink:        func(s Sentence) { got = append(got, s.Text) },
	})
	em.Write("Nice to meet you, {{user}}.")
	em.Close()

	if want := []string{"Nice to meet you, Sam."}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEmitter_Discard(t *testing.T) {
	var got []string
	em := New(Config{Sink: func(s Sentence) { got = append(got, s.Text) }})

	em.Write("This is pending")
	em.Discard()
	em.Write(" and more.")
	em.Close()

	if len(got) != 0 {
		t.Errorf("got %q after discard", got)
	}
	if em.State() != Finished {
		t.Errorf("State() = %v, want finished", em.State())
	}
}

func TestEmitter_NewlineAnchored(t *testing.T) {
	var got []Sentence
	em := New(Config{
		PreserveNewlines: true,
		Sink:             func(s Sentence) { got = append(got, s) },
	})
	em.Write("First paragraph is here.\n\nSecond paragraph is here.")
	em.Close()

	if len(got) != 2 {
		t.Fatalf("got %d sentences: %+v", len(got), got)
	}
	if got[0].NewlineAnchored || !got[1].NewlineAnchored {
		t.Errorf("anchoring = %v, %v", got[0].NewlineAnchored, got[1].NewlineAnchored)
	}
	if want := "First paragraph is here.\nSecond paragraph is here."; em.Utterance() != want {
		t.Errorf("Utterance() = %q, want %q", em.Utterance(), want)
	}
}
