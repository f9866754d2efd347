package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/pkg/dialogue"
	"github.com/teslashibe/go-parley/pkg/turn"
)

var chatDecisions bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the personas from the terminal",
	Long: `Chat reads your lines from stdin and prints the personas' replies sentence
by sentence as they stream in.

Start a line with @Name to address a persona directly. Typing while the
personas are still talking interrupts them. /history prints the
conversation so far and /quit exits.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatDecisions, "decisions", false, "Print turn-taking decisions")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	a, err := newApp(cfg, dialogue.NewConsole(out, chatDecisions))
	if err != nil {
		return err
	}
	defer a.Close()

	go func() {
		if err := a.runSpeaker(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("speaker stopped", "error", err)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintf(out, "Talking with %s. /quit to exit.\n", personaNames(a.roster))

	var flush func()
	if a.speaker != nil {
		flush = func() { a.speaker.Flush() }
	}
	r := &lineRunner{loop: a.loop, flush: flush, onErr: func(err error) {
		fmt.Fprintf(out, "! %v\n", err)
	}}
	defer r.interrupt()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				r.wait()
				return nil
			}

			switch strings.TrimSpace(line) {
			case "":
				continue
			case "/quit", "/exit":
				return nil
			case "/history":
				printHistory(out, a)
				continue
			}

			text, addressee := parseInput(a.roster, line)
			r.start(ctx, text, addressee)
		}
	}
}

// humanSayer is the part of dialogue.Loop the chat command drives.
type humanSayer interface {
	HumanSaysTo(ctx context.Context, text string, addressee turn.ParticipantID) ([]dialogue.TurnEvent, error)
	Interrupt()
}

// lineRunner processes one human line at a time. A new line interrupts the
// one in flight. Each line runs under its own context, so an interrupt
// issued before the goroutine reaches the loop still takes effect.
type lineRunner struct {
	loop  humanSayer
	flush func()
	onErr func(error)

	cancel context.CancelFunc
	done   chan struct{}
}

func (r *lineRunner) start(ctx context.Context, text string, addressee turn.ParticipantID) {
	r.interrupt()

	lineCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done

	go func() {
		defer close(done)
		defer cancel()
		_, err := r.loop.HumanSaysTo(lineCtx, text, addressee)
		switch {
		case err == nil, errors.Is(err, dialogue.ErrInterrupted), errors.Is(err, context.Canceled):
		default:
			if r.onErr != nil {
				r.onErr(err)
			}
		}
	}()
}

// interrupt stops the line in flight, if any, and waits for it to return.
func (r *lineRunner) interrupt() {
	if r.done == nil {
		return
	}
	select {
	case <-r.done:
	default:
		r.cancel()
		r.loop.Interrupt()
		if r.flush != nil {
			r.flush()
		}
		<-r.done
	}
	r.cancel, r.done = nil, nil
}

// wait blocks until the line in flight finishes on its own.
func (r *lineRunner) wait() {
	if r.done != nil {
		<-r.done
	}
}

// parseInput splits a leading "@Name" off a line. An unknown name is left
// in the text.
func parseInput(r *turn.Roster, line string) (string, turn.ParticipantID) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "@") {
		return line, ""
	}
	label, rest, _ := strings.Cut(line[1:], " ")
	label = strings.TrimRight(label, ",:")
	id, ok := r.Resolve(label)
	if !ok || id == turn.Human {
		return line, ""
	}
	return strings.TrimSpace(rest), id
}

func personaNames(r *turn.Roster) string {
	ais := r.AIs()
	names := make([]string, len(ais))
	for i, p := range ais {
		names[i] = p.Name()
	}
	return strings.Join(names, ", ")
}

func printHistory(w io.Writer, a *app) {
	for _, e := range a.store.All() {
		fmt.Fprintf(w, "%s: %s\n", a.roster.Name(turn.ParticipantID(e.Speaker)), e.Text)
	}
}
