package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleConfig configures access to Google Docs. Credentials are tried in
// order: HTTPClient, a stored OAuth token, a service account file, then
// application default credentials.
type GoogleConfig struct {
	// ClientID and ClientSecret identify the OAuth app that issued the
	// token stored at TokenPath.
	ClientID     string
	ClientSecret string
	TokenPath    string

	// CredentialsFile is a service account JSON key.
	CredentialsFile string

	// Endpoint overrides the Docs API base URL.
	Endpoint string

	// HTTPClient, when set, is used as is.
	HTTPClient *http.Client

	// Timeout bounds each document fetch.
	Timeout time.Duration
}

// GoogleDocs reads document text through the Google Docs API.
type GoogleDocs struct {
	service *docs.Service
	timeout time.Duration
}

// NewGoogleDocs creates a Google Docs reader.
func NewGoogleDocs(ctx context.Context, cfg GoogleConfig) (*GoogleDocs, error) {
	var opts []option.ClientOption

	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))

	case cfg.TokenPath != "":
		token, err := loadToken(cfg.TokenPath)
		if err != nil {
			return nil, fmt.Errorf("documents: load google token: %w", err)
		}
		oauthConfig := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{docs.DocumentsReadonlyScope},
			Endpoint:     google.Endpoint,
		}
		opts = append(opts, option.WithHTTPClient(oauthConfig.Client(ctx, token)))

	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("documents: read google credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, docs.DocumentsReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("documents: parse google credentials: %w", err)
		}
		opts = append(opts, option.WithTokenSource(creds.TokenSource))

	default:
		ts, err := google.DefaultTokenSource(ctx, docs.DocumentsReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("documents: google default credentials: %w", err)
		}
		opts = append(opts, option.WithTokenSource(ts))
	}

	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := docs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("documents: create docs service: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleDocs{service: service, timeout: timeout}, nil
}

// Read returns the plain text of the document with the given id.
func (g *GoogleDocs) Read(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty document id", ErrInvalidName)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	doc, err := g.service.Documents.Get(id).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return "", fmt.Errorf("%w: google doc %s", ErrNotFound, id)
		}
		return "", fmt.Errorf("documents: get google doc %s: %w", id, err)
	}
	return docText(doc), nil
}

// docText flattens paragraph text runs, including those inside tables.
func docText(doc *docs.Document) string {
	if doc.Body == nil {
		return ""
	}
	var b strings.Builder
	writeElements(&b, doc.Body.Content)
	return b.String()
}

func writeElements(b *strings.Builder, elems []*docs.StructuralElement) {
	for _, elem := range elems {
		switch {
		case elem.Paragraph != nil:
			for _, pe := range elem.Paragraph.Elements {
				if pe.TextRun != nil {
					b.WriteString(pe.TextRun.Content)
				}
			}
		case elem.Table != nil:
			for _, row := range elem.Table.TableRows {
				for _, cell := range row.TableCells {
					writeElements(b, cell.Content)
				}
			}
		}
	}
}

// loadToken loads an OAuth token saved as JSON.
func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}
