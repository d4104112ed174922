package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Pagination limits for children listing.
const (
	defaultPageSize = 100
	maxPagesPerNode = 200
)

// nodeResponse is the wire shape of a node. Resolution responses carry
// nodeId; listing items carry id.
type nodeResponse struct {
	ID          string `json:"id"`
	NodeID      string `json:"nodeId"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Extension   string `json:"extension"`
	ContentType string `json:"contentType"`
	DocKey      string `json:"docKey"`
	DentryKey   string `json:"dentryKey"`
	HasChildren bool   `json:"hasChildren"`
	UpdatedTime int64  `json:"updatedTime"`
}

type childrenResponse struct {
	Items      []nodeResponse `json:"items"`
	NextCursor string         `json:"nextCursor"`
}

// Page is one page of a children listing.
type Page struct {
	Items      []Node
	NextCursor string
}

func (r *nodeResponse) toNode() Node {
	id := r.ID
	if id == "" {
		id = r.NodeID
	}

	n := Node{
		ID:          id,
		Name:        SanitizeName(r.Name),
		Type:        Classify(Markers{Kind: r.Type, Extension: r.Extension, ContentType: r.ContentType}),
		DocKey:      r.DocKey,
		DentryKey:   r.DentryKey,
		HasChildren: r.HasChildren,
		Extension:   strings.ToLower(r.Extension),
		ContentType: r.ContentType,
	}

	if r.UpdatedTime > 0 {
		n.UpdatedAt = time.UnixMilli(r.UpdatedTime).UTC()
	}

	return n
}

// NodeIDFromRef extracts a node id from a bare id or a node URL. For URLs
// the trailing path segment is the id; query and fragment are ignored.
func NodeIDFromRef(ref string) string {
	ref = strings.TrimSpace(ref)

	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
		ref = u.Path
	} else if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}

	ref = strings.TrimRight(ref, "/")
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}

	return ref
}

// Resolve turns a node id or node URL into a classified Node. A missing node
// returns an error wrapping ErrNodeNotFound.
func (c *Client) Resolve(ctx context.Context, ref string) (*Node, error) {
	id := NodeIDFromRef(ref)
	if id == "" {
		return nil, fmt.Errorf("source: %w: empty node reference %q", ErrBadRequest, ref)
	}

	var resp nodeResponse
	if err := c.DoJSON(ctx, http.MethodGet, "/api/v1/nodes/"+url.PathEscape(id), nil, &resp, false); err != nil {
		return nil, fmt.Errorf("source: resolving %s: %w", id, err)
	}

	if resp.ID == "" && resp.NodeID == "" {
		resp.NodeID = id
	}

	n := resp.toNode()
	_, rule := classify(Markers{Kind: resp.Type, Extension: resp.Extension, ContentType: resp.ContentType})

	c.logger.Debug("resolved node",
		slog.String("node_id", n.ID),
		slog.String("type", string(n.Type)),
		slog.String("rule", rule),
	)

	return &n, nil
}

// ListChildren returns one page of a folder's children. An empty cursor
// requests the first page.
func (c *Client) ListChildren(ctx context.Context, folderID, cursor string) (*Page, error) {
	q := url.Values{}
	q.Set("pageSize", fmt.Sprint(c.pageSize))

	if cursor != "" {
		q.Set("cursor", cursor)
	}

	path := "/api/v1/nodes/" + url.PathEscape(folderID) + "/children?" + q.Encode()

	var resp childrenResponse
	if err := c.DoJSON(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, fmt.Errorf("source: listing children of %s: %w", folderID, err)
	}

	page := &Page{
		Items:      make([]Node, 0, len(resp.Items)),
		NextCursor: resp.NextCursor,
	}

	for i := range resp.Items {
		page.Items = append(page.Items, resp.Items[i].toNode())
	}

	return page, nil
}

// WalkOptions tunes a tree walk.
type WalkOptions struct {
	// OnRootCursor is called with the cursor of each subsequent page of the
	// root folder before it is fetched, so callers can checkpoint traversal
	// position.
	OnRootCursor func(cursor string)
}

// errStopWalk unwinds the recursion when the consumer stops iterating.
var errStopWalk = errors.New("source: walk stopped")

// Walk traverses the subtree under rootID depth-first and yields every
// non-folder node. Any node flagged hasChildren is descended into, whatever
// its type; a folder without the flag is not listed. The first listing
// error, including ErrListingTruncated, is yielded once and ends the walk.
func (c *Client) Walk(ctx context.Context, rootID string, opts WalkOptions) iter.Seq2[Node, error] {
	return func(yield func(Node, error) bool) {
		err := c.walk(ctx, rootID, true, opts, func(n Node) bool {
			return yield(n, nil)
		})

		if err != nil && !errors.Is(err, errStopWalk) {
			yield(Node{}, err)
		}
	}
}

func (c *Client) walk(ctx context.Context, folderID string, isRoot bool, opts WalkOptions, emit func(Node) bool) error {
	seen := make(map[string]bool)
	cursor := ""

	for pages := 0; pages < maxPagesPerNode; pages++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("source: walk canceled: %w", err)
		}

		if isRoot && cursor != "" && opts.OnRootCursor != nil {
			opts.OnRootCursor(cursor)
		}

		page, err := c.ListChildren(ctx, folderID, cursor)
		if err != nil {
			return err
		}

		for i := range page.Items {
			n := page.Items[i]

			if n.Type != TypeFolder && !emit(n) {
				return errStopWalk
			}

			if n.HasChildren {
				if err := c.walk(ctx, n.ID, false, opts, emit); err != nil {
					return err
				}
			}
		}

		next := page.NextCursor
		if next == "" || len(page.Items) == 0 || next == cursor || seen[next] {
			return nil
		}

		seen[next] = true
		cursor = next
	}

	return fmt.Errorf("%w: folder %s has more than %d pages", ErrListingTruncated, folderID, maxPagesPerNode)
}
