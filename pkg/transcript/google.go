package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"
)

var (
	// ErrMissingCredentials is returned without a client ID and secret.
	ErrMissingCredentials = errors.New("transcript: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")

	// ErrNotAuthenticated is returned before the OAuth flow completed.
	ErrNotAuthenticated = errors.New("transcript: not authenticated with Google")
)

// DocsConfig configures the Google Docs client.
type DocsConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenPath    string

	// Endpoint overrides the Docs API base URL.
	Endpoint string

	Timeout time.Duration
	Logger  *slog.Logger
}

// DocsClient handles OAuth2 authentication and Google Docs API operations.
type DocsClient struct {
	config    *oauth2.Config
	endpoint  string
	tokenPath string
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.RWMutex
	token   *oauth2.Token
	service *docs.Service
}

// NewDocsClient creates a client and loads any stored token.
func NewDocsClient(cfg DocsConfig) (*DocsClient, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8080/oauth/callback"
	}
	if cfg.TokenPath == "" {
		home, _ := os.UserHomeDir()
		cfg.TokenPath = filepath.Join(home, ".parley", "google_token.json")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &DocsClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{docs.DocumentsScope, "https://www.googleapis.com/auth/drive.file"},
			Endpoint:     google.Endpoint,
		},
		endpoint:  cfg.Endpoint,
		tokenPath: cfg.TokenPath,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.With("component", "transcript.docs"),
	}

	if tok, err := c.loadToken(); err == nil {
		if err := c.setToken(tok); err != nil {
			c.logger.Warn("stored token unusable", "error", err)
		}
	}
	return c, nil
}

// Authenticated reports whether a token is available. Expired tokens with
// a refresh token still count; the transport refreshes them.
func (c *DocsClient) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != nil && (c.token.Valid() || c.token.RefreshToken != "")
}

// AuthURL returns the consent URL for the OAuth flow.
func (c *DocsClient) AuthURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange completes the OAuth flow with the authorization code and stores
// the token.
func (c *DocsClient) Exchange(ctx context.Context, code string) error {
	tok, err := c.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if err := c.setToken(tok); err != nil {
		return err
	}
	if err := c.saveToken(tok); err != nil {
		c.logger.Warn("failed to save token", "error", err)
	}
	return nil
}

// Disconnect forgets the token and removes it from disk.
func (c *DocsClient) Disconnect() error {
	c.mu.Lock()
	c.token = nil
	c.service = nil
	c.mu.Unlock()

	if err := os.Remove(c.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// Create makes a new document holding content and returns its ID.
func (c *DocsClient) Create(ctx context.Context, title, content string) (string, error) {
	service, err := c.docs()
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	created, err := service.Documents.Create(&docs.Document{Title: title}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}

	if content != "" {
		_, err = service.Documents.BatchUpdate(created.DocumentId, &docs.BatchUpdateDocumentRequest{
			Requests: []*docs.Request{insertAt(1, content)},
		}).Context(ctx).Do()
		if err != nil {
			return created.DocumentId, fmt.Errorf("created document but failed to add content: %w", err)
		}
	}

	c.logger.Info("transcript exported", "doc", created.DocumentId, "chars", len(content))
	return created.DocumentId, nil
}

// Append adds content to the end of an existing document.
func (c *DocsClient) Append(ctx context.Context, docID, content string) error {
	service, err := c.docs()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	doc, err := service.Documents.Get(docID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}

	// The body always ends with a newline the API will not let us write past.
	index := int64(1)
	if doc.Body != nil && len(doc.Body.Content) > 0 {
		index = doc.Body.Content[len(doc.Body.Content)-1].EndIndex - 1
	}

	_, err = service.Documents.BatchUpdate(docID, &docs.BatchUpdateDocumentRequest{
		Requests: []*docs.Request{insertAt(index, content)},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// DocURL returns the URL to view a Google Doc.
func DocURL(docID string) string {
	return fmt.Sprintf("https://docs.google.com/document/d/%s/edit", docID)
}

func insertAt(index int64, text string) *docs.Request {
	return &docs.Request{
		InsertText: &docs.InsertTextRequest{
			Location: &docs.Location{Index: index},
			Text:     text,
		},
	}
}

func (c *DocsClient) docs() (*docs.Service, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.service == nil {
		return nil, ErrNotAuthenticated
	}
	return c.service, nil
}

func (c *DocsClient) setToken(tok *oauth2.Token) error {
	ctx := context.Background()
	opts := []option.ClientOption{option.WithHTTPClient(c.config.Client(ctx, tok))}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	service, err := docs.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create docs service: %w", err)
	}

	c.mu.Lock()
	c.token = tok
	c.service = service
	c.mu.Unlock()
	return nil
}

func (c *DocsClient) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(c.tokenPath)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (c *DocsClient) saveToken(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(c.tokenPath), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.tokenPath, data, 0600)
}
