package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/internal/log"
	"github.com/teslashibe/go-parley/pkg/hub"
)

var (
	watchURL   string
	watchTurns bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a running server's sentence feed",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "ws://localhost:8080", "Server base URL")
	watchCmd.Flags().BoolVar(&watchTurns, "turns", false, "Follow turn decisions instead of sentences")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed := "/ws/sentences"
	if watchTurns {
		feed = "/ws/turns"
	}
	u, err := url.Parse(watchURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	u = u.JoinPath(feed)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	out := cmd.OutOrStdout()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := printFrame(out, data); err != nil {
			log.Debug("skipping frame", "error", err)
		}
	}
}

type watchFrame struct {
	Speaker     string `json:"speaker_name"`
	Text        string `json:"text"`
	Utterance   string `json:"utterance"`
	Addressee   string `json:"addressee"`
	NextSpeaker string `json:"next_speaker"`
	Filter      string `json:"filter"`
}

// printFrame renders one hub envelope.
func printFrame(w io.Writer, data []byte) error {
	var env hub.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	var f watchFrame
	if err := json.Unmarshal(env.Data, &f); err != nil {
		return err
	}

	switch env.Type {
	case "sentence":
		fmt.Fprintf(w, "[%s] %s\n", f.Speaker, f.Text)
	case "turn":
		fmt.Fprintf(w, "%s: %s\n  -> to %s, next %s", f.Speaker, f.Utterance, f.Addressee, f.NextSpeaker)
		if f.Filter != "" {
			fmt.Fprintf(w, " (%s)", f.Filter)
		}
		fmt.Fprintln(w)
	default:
		return errors.New("unknown frame type " + env.Type)
	}
	return nil
}
