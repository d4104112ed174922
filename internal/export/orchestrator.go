package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tonimelisma/docsync/internal/source"
)

// Kind identifies the render pipeline an export job runs through.
type Kind string

// Export job kinds.
const (
	KindDocument    Kind = "document-render"
	KindSpreadsheet Kind = "spreadsheet-render"
)

// Status is an export job's lifecycle state:
// submitted -> running -> {success, failed}.
type Status string

// Job statuses.
const (
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
)

// Job is one submitted export job. It is created by submission and passed
// by value into the poller; it is never stored beyond a single Export call.
type Job struct {
	JobID        string
	Kind         Kind
	SourceNodeID string
	Status       Status
	ResultURL    string
}

// ContentSource fetches the structured content a payload is assembled from.
// Satisfied by *source.Client.
type ContentSource interface {
	DocumentContent(ctx context.Context, docKey string) (*source.DocumentContent, error)
	OpenToken(ctx context.Context, dentryKey string) (*source.OpenToken, error)
	SheetContent(ctx context.Context, docKey string) (json.RawMessage, error)
}

// OrgProvider supplies the organization id. Satisfied by *source.Session.
type OrgProvider interface {
	OrgID(ctx context.Context) (string, error)
}

// Transport talks to the render service and to pre-authenticated storage
// URLs. Satisfied by a *source.Client pointed at the render service.
type Transport interface {
	DoJSON(ctx context.Context, method, path string, in, out any, requireOrg bool) error
	DoPreAuth(ctx context.Context, method, rawURL string, body []byte, header http.Header) ([]byte, error)
}

// Options configures render requests and polling.
type Options struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	Locale       string
	AppVersion   string
	PrintStyle   string
}

// Orchestrator runs export jobs for one node at a time. It holds no per-job
// state between calls.
type Orchestrator struct {
	content ContentSource
	render  Transport
	org     OrgProvider
	opts    Options
	logger  *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
	nowFunc   func() time.Time
}

// NewOrchestrator creates an export orchestrator.
func NewOrchestrator(content ContentSource, render Transport, org OrgProvider, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		content:   content,
		render:    render,
		org:       org,
		opts:      opts,
		logger:    logger,
		sleepFunc: timeSleep,
		nowFunc:   time.Now,
	}
}

// KindFor returns the export kind for a node type, and false when the type
// is not exportable.
func KindFor(t source.NodeType) (Kind, bool) {
	switch t {
	case source.TypeDocument:
		return KindDocument, true
	case source.TypeSpreadsheet:
		return KindSpreadsheet, true
	default:
		return "", false
	}
}

// Export renders node and returns the rendered artifact.
//
// Retry policy: a failed upload is retried once with the same payload; a job
// that times out is resubmitted once; a failed render is retried once with a
// freshly assembled payload. Payload assembly and submission failures, and
// session expiry, are not retried.
func (o *Orchestrator) Export(ctx context.Context, node *source.Node) (*Artifact, error) {
	kind, ok := KindFor(node.Type)
	if !ok || node.DocKey == "" {
		return nil, fmt.Errorf("%w: node %s (%s) has no exportable content", ErrPayloadAssembly, node.ID, node.Type)
	}

	format := formatFor(kind)

	renderRetried := false

	for {
		resultURL, err := o.render1(ctx, node, kind, format)
		if err == nil {
			return o.fetchResult(ctx, node, kind, format, resultURL)
		}

		if errors.Is(err, ErrRenderFailed) && !renderRetried && !errors.Is(err, source.ErrSessionExpired) {
			renderRetried = true

			o.logger.Warn("render failed, resubmitting with fresh payload",
				slog.String("node_id", node.ID),
				slog.String("error", err.Error()),
			)

			continue
		}

		return nil, err
	}
}

// render1 assembles, uploads, submits, and waits for one render attempt.
func (o *Orchestrator) render1(ctx context.Context, node *source.Node, kind Kind, format string) (string, error) {
	body, err := o.buildPayload(ctx, node)
	if err != nil {
		return "", err
	}

	storagePath, err := o.uploadWithRetry(ctx, node, body)
	if err != nil {
		return "", err
	}

	timeoutRetried := false

	for {
		job, err := o.submit(ctx, node, kind, format, storagePath)
		if err != nil {
			return "", err
		}

		o.logger.Info("export job submitted",
			slog.String("node_id", node.ID),
			slog.String("job_id", job.JobID),
			slog.String("kind", string(kind)),
		)

		job, err = o.poll(ctx, job)
		if err == nil {
			return job.ResultURL, nil
		}

		if errors.Is(err, ErrExportTimeout) && !timeoutRetried {
			timeoutRetried = true

			o.logger.Warn("export job timed out, resubmitting",
				slog.String("node_id", node.ID),
				slog.String("job_id", job.JobID),
			)

			continue
		}

		return "", err
	}
}

func (o *Orchestrator) uploadWithRetry(ctx context.Context, node *source.Node, body []byte) (string, error) {
	storagePath, err := o.upload(ctx, body)
	if err == nil || errors.Is(err, source.ErrSessionExpired) {
		return storagePath, err
	}

	o.logger.Warn("payload upload failed, retrying",
		slog.String("node_id", node.ID),
		slog.String("error", err.Error()),
	)

	return o.upload(ctx, body)
}

type presignRequest struct {
	Size        int    `json:"size"`
	ContentKind string `json:"contentKind"`
}

type presignResponse struct {
	UploadURL   string `json:"uploadUrl"`
	StoragePath string `json:"storagePath"`
}

// upload places the payload in object storage: a presign call on the render
// service, then a direct PUT of the exact bytes with no credentials and an
// empty content type.
func (o *Orchestrator) upload(ctx context.Context, body []byte) (string, error) {
	var pre presignResponse

	err := o.render.DoJSON(ctx, http.MethodPost, "/api/v1/storage/presign",
		presignRequest{Size: len(body), ContentKind: "application/json"}, &pre, true)
	if err != nil {
		return "", fmt.Errorf("%w: presign: %w", ErrUpload, err)
	}

	if pre.UploadURL == "" || pre.StoragePath == "" {
		return "", fmt.Errorf("%w: presign returned no upload target", ErrUpload)
	}

	if _, err := o.render.DoPreAuth(ctx, http.MethodPut, pre.UploadURL, body, http.Header{"Content-Type": {""}}); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	return pre.StoragePath, nil
}

type submitRequest struct {
	Kind        Kind   `json:"kind"`
	NodeID      string `json:"nodeId"`
	StoragePath string `json:"storagePath"`
	Format      string `json:"format"`
}

type jobResponse struct {
	JobID  string `json:"jobId"`
	Status Status `json:"status"`
	URL    string `json:"url"`
	Error  string `json:"error"`
}

// submit creates the export job. A result URL returned at creation is
// authoritative and finishes the job immediately.
func (o *Orchestrator) submit(ctx context.Context, node *source.Node, kind Kind, format, storagePath string) (Job, error) {
	var resp jobResponse

	err := o.render.DoJSON(ctx, http.MethodPost, "/api/v1/export/jobs", submitRequest{
		Kind:        kind,
		NodeID:      node.ID,
		StoragePath: storagePath,
		Format:      format,
	}, &resp, true)
	if err != nil {
		return Job{}, fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	if resp.JobID == "" && resp.URL == "" {
		return Job{}, fmt.Errorf("%w: response carried neither job id nor result", ErrSubmission)
	}

	job := Job{
		JobID:        resp.JobID,
		Kind:         kind,
		SourceNodeID: node.ID,
		Status:       StatusSubmitted,
		ResultURL:    resp.URL,
	}

	if job.ResultURL != "" {
		job.Status = StatusSuccess
	}

	return job, nil
}

// poll waits for job to finish at a fixed interval, bounded by the poll
// timeout. Transient status errors are logged and polling continues.
func (o *Orchestrator) poll(ctx context.Context, job Job) (Job, error) {
	if job.Status == StatusSuccess {
		return job, nil
	}

	deadline := o.nowFunc().Add(o.opts.PollTimeout)
	path := "/api/v1/export/jobs/" + url.PathEscape(job.JobID)

	for {
		var resp jobResponse

		err := o.render.DoJSON(ctx, http.MethodGet, path, nil, &resp, true)

		switch {
		case errors.Is(err, source.ErrSessionExpired):
			return job, fmt.Errorf("%w: polling %s: %w", ErrRenderFailed, job.JobID, err)
		case err != nil:
			if ctx.Err() != nil {
				return job, fmt.Errorf("export: polling %s canceled: %w", job.JobID, ctx.Err())
			}

			o.logger.Warn("export status check failed",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
		default:
			job.Status = resp.Status

			switch resp.Status {
			case StatusSuccess:
				if job.ResultURL == "" {
					job.ResultURL = resp.URL
				}

				if job.ResultURL == "" {
					return job, fmt.Errorf("%w: job %s succeeded without a result", ErrRenderFailed, job.JobID)
				}

				return job, nil
			case StatusFailed:
				return job, fmt.Errorf("%w: job %s: %s", ErrRenderFailed, job.JobID, resp.Error)
			}
		}

		if !o.nowFunc().Before(deadline) {
			return job, fmt.Errorf("%w: job %s still %s after %s", ErrExportTimeout, job.JobID, job.Status, o.opts.PollTimeout)
		}

		if err := o.sleepFunc(ctx, o.opts.PollInterval); err != nil {
			return job, fmt.Errorf("export: polling %s canceled: %w", job.JobID, err)
		}
	}
}

// fetchResult downloads the rendered artifact from its pre-authenticated URL.
func (o *Orchestrator) fetchResult(ctx context.Context, node *source.Node, kind Kind, format, resultURL string) (*Artifact, error) {
	data, err := o.render.DoPreAuth(ctx, http.MethodGet, resultURL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty artifact for node %s", ErrFetch, node.ID)
	}

	o.logger.Info("export complete",
		slog.String("node_id", node.ID),
		slog.String("kind", string(kind)),
		slog.Int("bytes", len(data)),
	)

	return newArtifact(node, kind, format, resultURL, data), nil
}

func formatFor(kind Kind) string {
	if kind == KindSpreadsheet {
		return formatXLSX
	}

	return formatPDF
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
