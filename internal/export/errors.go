// Package export renders documents and spreadsheets through the render
// service's asynchronous export jobs: payload assembly, object-storage
// upload, job submission, completion polling, and result retrieval.
package export

import "errors"

// Sentinel errors for each export stage. Errors returned by Export wrap
// exactly one of these; session expiry additionally wraps
// source.ErrSessionExpired.
var (
	ErrPayloadAssembly = errors.New("export: payload assembly failed")
	ErrUpload          = errors.New("export: upload failed")
	ErrSubmission      = errors.New("export: job submission failed")
	ErrExportTimeout   = errors.New("export: job did not finish in time")
	ErrRenderFailed    = errors.New("export: render failed")
	ErrFetch           = errors.New("export: fetching result failed")
)
