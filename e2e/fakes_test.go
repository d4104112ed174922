//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
)

// fakeNode is one node served by the fake source service.
type fakeNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Extension   string `json:"extension,omitempty"`
	HasChildren bool   `json:"hasChildren"`
	UpdatedTime int64  `json:"updatedTime"`

	parent  string
	content string
}

// fakeSource serves node resolution, children listings and pre-signed
// downloads. Once expired is set, every authenticated call answers 401.
type fakeSource struct {
	srv *httptest.Server

	mu      sync.Mutex
	nodes   map[string]*fakeNode
	order   []string
	expired bool
}

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()

	f := &fakeSource{nodes: make(map[string]*fakeNode)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/nodes/{id}", f.authed(f.handleNode))
	mux.HandleFunc("GET /api/v1/nodes/{id}/children", f.authed(f.handleChildren))
	mux.HandleFunc("GET /api/v1/nodes/{id}/download", f.authed(f.handleDownload))
	mux.HandleFunc("GET /blob/{id}", f.handleBlob)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeSource) URL() string { return f.srv.URL }

func (f *fakeSource) add(n *fakeNode) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nodes[n.ID] = n
	f.order = append(f.order, n.ID)
}

func (f *fakeSource) folder(id, parent string) {
	f.add(&fakeNode{ID: id, Name: id, Type: "folder", HasChildren: true, UpdatedTime: 1, parent: parent})
}

func (f *fakeSource) file(id, name, ext, parent, content string, updated int64) {
	f.add(&fakeNode{ID: id, Name: name, Type: "file", Extension: ext, UpdatedTime: updated, parent: parent, content: content})
}

func (f *fakeSource) touch(id, content string, updated int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nodes[id].content = content
	f.nodes[id].UpdatedTime = updated
}

func (f *fakeSource) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.nodes, id)
}

func (f *fakeSource) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.expired = true
}

func (f *fakeSource) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		expired := f.expired
		f.mu.Unlock()

		if expired || r.Header.Get("Authorization") == "" {
			http.Error(w, `{"message":"session expired"}`, http.StatusUnauthorized)

			return
		}

		h(w, r)
	}
}

func (f *fakeSource) lookup(id string) (fakeNode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[id]
	if !ok {
		return fakeNode{}, false
	}

	return *n, true
}

func (f *fakeSource) handleNode(w http.ResponseWriter, r *http.Request) {
	n, ok := f.lookup(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)

		return
	}

	writeJSON(w, n)
}

func (f *fakeSource) handleChildren(w http.ResponseWriter, r *http.Request) {
	parent := r.PathValue("id")

	f.mu.Lock()

	items := []fakeNode{}

	for _, id := range f.order {
		if n, ok := f.nodes[id]; ok && n.parent == parent {
			items = append(items, *n)
		}
	}

	f.mu.Unlock()

	writeJSON(w, map[string]any{"items": items, "nextCursor": ""})
}

func (f *fakeSource) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := f.lookup(id); !ok {
		http.NotFound(w, r)

		return
	}

	writeJSON(w, map[string]string{"url": f.srv.URL + "/blob/" + id})
}

func (f *fakeSource) handleBlob(w http.ResponseWriter, r *http.Request) {
	n, ok := f.lookup(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)

		return
	}

	io.WriteString(w, n.content) //nolint:errcheck // test server
}

// fakeDoc is one document held by the fake index.
type fakeDoc struct {
	Name    string
	Content string
	Meta    map[string]any
}

// fakeIndex is a single-dataset document index.
type fakeIndex struct {
	srv *httptest.Server

	mu      sync.Mutex
	docs    map[string]*fakeDoc
	nextID  int
	creates int
	updates int
	parsed  []string
	deleted []string
}

func newFakeIndex(t *testing.T) *fakeIndex {
	t.Helper()

	f := &fakeIndex{docs: make(map[string]*fakeDoc)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/datasets/{ds}/documents", f.handleList)
	mux.HandleFunc("POST /api/v1/datasets/{ds}/documents", f.handleCreate)
	mux.HandleFunc("PUT /api/v1/datasets/{ds}/documents/{doc}/file", f.handleReplace)
	mux.HandleFunc("PUT /api/v1/datasets/{ds}/documents/{doc}", f.handleMeta)
	mux.HandleFunc("POST /api/v1/datasets/{ds}/chunks", f.handleParse)
	mux.HandleFunc("DELETE /api/v1/datasets/{ds}/documents", f.handleDelete)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeIndex) URL() string { return f.srv.URL }

func (f *fakeIndex) doc(id string) (fakeDoc, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.docs[id]
	if !ok {
		return fakeDoc{}, false
	}

	return *d, true
}

func (f *fakeIndex) counts() (creates, updates, docs int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.creates, f.updates, len(f.docs)
}

func (f *fakeIndex) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.deleted...)
}

// inject adds a document the sync never created, as a crashed run would
// leave behind.
func (f *fakeIndex) inject(id, name, nodeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.docs[id] = &fakeDoc{Name: name, Meta: map[string]any{"node_id": nodeID}}
}

func readUpload(r *http.Request) (name, content string, err error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "", "", err
	}

	part, err := multipart.NewReader(r.Body, params["boundary"]).NextPart()
	if err != nil {
		return "", "", err
	}

	data, err := io.ReadAll(part)
	if err != nil {
		return "", "", err
	}

	return part.FileName(), string(data), nil
}

// handleList serves every document on one page.
func (f *fakeIndex) handleList(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()

	docs := make([]map[string]any, 0, len(f.docs))
	for _, id := range slices.Sorted(maps.Keys(f.docs)) {
		d := f.docs[id]
		docs = append(docs, map[string]any{"id": id, "name": d.Name, "meta_fields": d.Meta})
	}

	f.mu.Unlock()

	writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"docs": docs, "total": len(docs)}})
}

func (f *fakeIndex) handleCreate(w http.ResponseWriter, r *http.Request) {
	name, content, err := readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("doc-%d", f.nextID)
	f.docs[id] = &fakeDoc{Name: name, Content: content}
	f.creates++
	f.mu.Unlock()

	writeJSON(w, map[string]any{"code": 0, "data": []map[string]string{{"id": id}}})
}

func (f *fakeIndex) handleReplace(w http.ResponseWriter, r *http.Request) {
	name, content, err := readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	f.mu.Lock()
	d, ok := f.docs[r.PathValue("doc")]
	if ok {
		d.Name, d.Content = name, content
		f.updates++
	}
	f.mu.Unlock()

	if !ok {
		http.Error(w, `{"code":102,"message":"document not found"}`, http.StatusNotFound)

		return
	}

	writeJSON(w, map[string]any{"code": 0})
}

func (f *fakeIndex) handleMeta(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MetaFields map[string]any `json:"meta_fields"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	f.mu.Lock()
	if d, ok := f.docs[r.PathValue("doc")]; ok {
		d.Meta = body.MetaFields
	}
	f.mu.Unlock()

	writeJSON(w, map[string]any{"code": 0})
}

func (f *fakeIndex) handleParse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DocumentIDs []string `json:"document_ids"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	f.mu.Lock()
	f.parsed = append(f.parsed, body.DocumentIDs...)
	f.mu.Unlock()

	writeJSON(w, map[string]any{"code": 0})
}

func (f *fakeIndex) handleDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	f.mu.Lock()
	for _, id := range body.IDs {
		delete(f.docs, id)
	}

	f.deleted = append(f.deleted, body.IDs...)
	f.mu.Unlock()

	writeJSON(w, map[string]any{"code": 0})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck // test server
}
