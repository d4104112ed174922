package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
)

// Listing and parsing batch sizes.
const (
	listPageSize     = 100
	defaultParseSize = 10
	maxListPages     = 1000
)

// Document is one file pushed to a dataset. Meta, when non-empty, is
// attached as document metadata after the upload.
type Document struct {
	FileName    string
	ContentType string
	Data        []byte
	Meta        map[string]any
}

// UpsertResult reports the destination document id and whether a new
// document was created.
type UpsertResult struct {
	DocID   string
	Created bool
}

// DocumentInfo is one entry of a dataset listing.
type DocumentInfo struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Size       int64          `json:"size"`
	Run        string         `json:"run"`
	MetaFields map[string]any `json:"meta_fields"`
}

func datasetPath(datasetID string) string {
	return "/api/v1/datasets/" + url.PathEscape(datasetID)
}

// Upsert creates doc in datasetID, or replaces the file of docID in place
// when docID is set. A docID that no longer exists downstream is recreated.
func (c *Client) Upsert(ctx context.Context, datasetID, docID string, doc Document) (UpsertResult, error) {
	body, contentType, err := multipartBody(doc)
	if err != nil {
		return UpsertResult{}, err
	}

	var res UpsertResult

	if docID != "" {
		path := datasetPath(datasetID) + "/documents/" + url.PathEscape(docID) + "/file"

		_, err := c.do(ctx, request{method: http.MethodPut, path: path, body: body, contentType: contentType})

		switch {
		case err == nil:
			res = UpsertResult{DocID: docID}
		case errors.Is(err, ErrNotFound):
			c.logger.Warn("destination document missing, recreating",
				slog.String("dataset_id", datasetID),
				slog.String("doc_id", docID),
			)
		default:
			return UpsertResult{}, fmt.Errorf("destination: updating %s: %w", docID, err)
		}
	}

	if res.DocID == "" {
		id, err := c.create(ctx, datasetID, body, contentType)
		if err != nil {
			return UpsertResult{}, err
		}

		res = UpsertResult{DocID: id, Created: true}
	}

	if len(doc.Meta) > 0 {
		if err := c.SetMetadata(ctx, datasetID, res.DocID, doc.Meta); err != nil {
			c.logger.Warn("setting document metadata failed",
				slog.String("doc_id", res.DocID),
				slog.String("error", err.Error()),
			)
		}
	}

	c.logger.Info("document pushed",
		slog.String("dataset_id", datasetID),
		slog.String("doc_id", res.DocID),
		slog.Bool("created", res.Created),
		slog.Int("bytes", len(doc.Data)),
	)

	return res, nil
}

func (c *Client) create(ctx context.Context, datasetID string, body []byte, contentType string) (string, error) {
	data, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        datasetPath(datasetID) + "/documents",
		body:        body,
		contentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("destination: creating document: %w", err)
	}

	var created []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("destination: decoding created document: %w", err)
	}

	if len(created) == 0 || created[0].ID == "" {
		return "", fmt.Errorf("destination: %w: create returned no document id", ErrRejected)
	}

	return created[0].ID, nil
}

// SetMetadata replaces the metadata fields of a document.
func (c *Client) SetMetadata(ctx context.Context, datasetID, docID string, meta map[string]any) error {
	path := datasetPath(datasetID) + "/documents/" + url.PathEscape(docID)

	if _, err := c.doJSON(ctx, http.MethodPut, path, map[string]any{"meta_fields": meta}); err != nil {
		return fmt.Errorf("destination: updating metadata of %s: %w", docID, err)
	}

	return nil
}

// Parse asks the destination to ingest docIDs, batchSize ids per request.
// Every batch is attempted; the returned error joins batch failures.
func (c *Client) Parse(ctx context.Context, datasetID string, docIDs []string, batchSize int) error {
	if batchSize <= 0 {
		batchSize = defaultParseSize
	}

	var errs []error

	for start := 0; start < len(docIDs); start += batchSize {
		batch := docIDs[start:min(start+batchSize, len(docIDs))]

		if _, err := c.doJSON(ctx, http.MethodPost, datasetPath(datasetID)+"/chunks",
			map[string]any{"document_ids": batch}); err != nil {
			errs = append(errs, fmt.Errorf("destination: parsing batch at %d: %w", start, err))

			continue
		}

		c.logger.Info("parse triggered",
			slog.String("dataset_id", datasetID),
			slog.Int("documents", len(batch)),
		)
	}

	return errors.Join(errs...)
}

// Delete removes docIDs from a dataset.
func (c *Client) Delete(ctx context.Context, datasetID string, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	if _, err := c.doJSON(ctx, http.MethodDelete, datasetPath(datasetID)+"/documents",
		map[string]any{"ids": docIDs}); err != nil {
		return fmt.Errorf("destination: deleting %d documents: %w", len(docIDs), err)
	}

	c.logger.Info("documents deleted",
		slog.String("dataset_id", datasetID),
		slog.Int("documents", len(docIDs)),
	)

	return nil
}

// List returns every document in a dataset.
func (c *Client) List(ctx context.Context, datasetID string) ([]DocumentInfo, error) {
	var out []DocumentInfo

	for page := 1; page <= maxListPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(listPageSize))

		data, err := c.do(ctx, request{
			method: http.MethodGet,
			path:   datasetPath(datasetID) + "/documents?" + q.Encode(),
		})
		if err != nil {
			return nil, fmt.Errorf("destination: listing page %d: %w", page, err)
		}

		var resp struct {
			Docs  []DocumentInfo `json:"docs"`
			Total int            `json:"total"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("destination: decoding listing: %w", err)
		}

		out = append(out, resp.Docs...)

		if len(resp.Docs) < listPageSize || (resp.Total > 0 && len(out) >= resp.Total) {
			break
		}
	}

	return out, nil
}

// multipartBody encodes doc as a multipart form with a single "file" part.
func multipartBody(doc Document) ([]byte, string, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, doc.FileName))

	ct := doc.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}

	h.Set("Content-Type", ct)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("destination: building upload form: %w", err)
	}

	if _, err := part.Write(doc.Data); err != nil {
		return nil, "", fmt.Errorf("destination: building upload form: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("destination: building upload form: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}
