package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/pkg/history"
	"github.com/teslashibe/go-parley/pkg/transcript"
)

var (
	exportTitle  string
	exportDryRun bool
)

var exportCmd = &cobra.Command{
	Use:   "export [history-file]",
	Short: "Export a conversation to Google Docs",
	Long: `Export formats a saved conversation history as a transcript and
creates a Google Doc holding it. The first run prints a consent URL and
asks for the authorization code; the token is stored for later runs.

The history file defaults to PARLEY_HISTORY.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportTitle, "title", "", "Document title")
	exportCmd.Flags().BoolVar(&exportDryRun, "dry-run", false, "Print the transcript instead of exporting it")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	path := cfg.HistoryPath
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return errors.New("no history file: pass one or set PARLEY_HISTORY")
	}

	store, err := history.NewWithFile(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	entries := store.All()
	if len(entries) == 0 {
		return fmt.Errorf("%s holds no conversation", path)
	}

	session, err := config.LoadSession(cfg.SessionPath)
	if err != nil {
		return err
	}
	roster, err := session.Roster()
	if err != nil {
		return err
	}

	title := exportTitle
	if title == "" {
		title = transcript.Title(entries[0].Timestamp)
	}
	text := transcript.Format(title, entries, roster)

	out := cmd.OutOrStdout()
	if exportDryRun {
		fmt.Fprint(out, text)
		return nil
	}

	client, err := transcript.NewDocsClient(transcript.DocsConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		TokenPath:    cfg.Google.TokenPath,
	})
	if err != nil {
		return err
	}

	if !client.Authenticated() {
		fmt.Fprintf(out, "Open this URL to authorize access to Google Docs:\n\n  %s\n\nPaste the code parameter from the redirect: ", client.AuthURL("parley"))
		code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && strings.TrimSpace(code) == "" {
			return fmt.Errorf("read code: %w", err)
		}
		if err := client.Exchange(cmd.Context(), strings.TrimSpace(code)); err != nil {
			return err
		}
	}

	docID, err := client.Create(cmd.Context(), title, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, transcript.DocURL(docID))
	return nil
}
