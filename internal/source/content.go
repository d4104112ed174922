package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// SecurityPolicy is the document's watermark policy.
type SecurityPolicy struct {
	WatermarkEnabled bool   `json:"watermarkEnabled"`
	WatermarkText    string `json:"watermarkText"`
	WatermarkOpacity int    `json:"watermarkOpacity"`
}

// DocumentContent is the structured content of a document node, as needed
// to assemble a render payload.
type DocumentContent struct {
	Content        json.RawMessage `json:"content"`
	Checkpoint     string          `json:"checkpoint"`
	BaseVersion    int64           `json:"baseVersion"`
	SecurityPolicy *SecurityPolicy `json:"securityPolicy"`
}

// OpenToken is a short-lived token scoped to one document, consumed by the
// render service when it opens the document.
type OpenToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
	Scope     string `json:"scope"`
}

// DocumentContent fetches the structured content of a document.
func (c *Client) DocumentContent(ctx context.Context, docKey string) (*DocumentContent, error) {
	var out DocumentContent

	path := "/api/v1/documents/" + url.PathEscape(docKey) + "/content"
	if err := c.DoJSON(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, fmt.Errorf("source: fetching document content: %w", err)
	}

	if len(out.Content) == 0 {
		return nil, fmt.Errorf("source: document %s returned no content", docKey)
	}

	return &out, nil
}

// OpenToken resolves an open token scoped to a document's dentry key.
func (c *Client) OpenToken(ctx context.Context, dentryKey string) (*OpenToken, error) {
	in := map[string]string{"dentryKey": dentryKey}

	var out OpenToken
	if err := c.DoJSON(ctx, http.MethodPost, "/api/v1/documents/open-token", in, &out, true); err != nil {
		return nil, fmt.Errorf("source: resolving open token: %w", err)
	}

	if out.Token == "" {
		return nil, fmt.Errorf("source: empty open token for %s", dentryKey)
	}

	return &out, nil
}

// SheetContent fetches the structured tabular content of a spreadsheet.
func (c *Client) SheetContent(ctx context.Context, docKey string) (json.RawMessage, error) {
	var out struct {
		Content json.RawMessage `json:"content"`
	}

	path := "/api/v1/sheets/" + url.PathEscape(docKey) + "/content"
	if err := c.DoJSON(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, fmt.Errorf("source: fetching sheet content: %w", err)
	}

	if len(out.Content) == 0 {
		return nil, fmt.Errorf("source: sheet %s returned no content", docKey)
	}

	return out.Content, nil
}

// DownloadURL returns a pre-authenticated URL for a node's original file.
func (c *Client) DownloadURL(ctx context.Context, nodeID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}

	path := "/api/v1/nodes/" + url.PathEscape(nodeID) + "/download"
	if err := c.DoJSON(ctx, http.MethodGet, path, nil, &out, false); err != nil {
		return "", fmt.Errorf("source: requesting download URL: %w", err)
	}

	if out.URL == "" {
		return "", fmt.Errorf("source: no download URL for %s", nodeID)
	}

	return out.URL, nil
}

// Download fetches a node's original file bytes.
func (c *Client) Download(ctx context.Context, nodeID string) ([]byte, error) {
	u, err := c.DownloadURL(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	data, err := c.DoPreAuth(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("source: downloading %s: %w", nodeID, err)
	}

	return data, nil
}
