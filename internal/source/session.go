package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/docsync/internal/tokenfile"
)

// Request headers carrying session identity.
const (
	headerAuthorization = "Authorization"
	headerOrgID         = "X-Org-Id"
)

// orgLookupFunc fetches the organization id for a bearer token. Installed by
// NewClient so the session can resolve the org on first demand.
type orgLookupFunc func(ctx context.Context, bearer string) (string, error)

// Session supplies authentication headers for the source and render
// services. The bearer token and organization id are read from the
// credential file once and cached for the process lifetime. Once a call
// reports the session as expired, every later call fails fast until the
// credential file is replaced by an external re-login.
//
// All HTTP calls made on behalf of a Session go through Serialize, so calls
// sharing the session run strictly one at a time.
type Session struct {
	path   string
	logger *slog.Logger

	// gate is a one-slot semaphore serializing calls on this session.
	gate chan struct{}

	mu        sync.Mutex
	cred      *tokenfile.File
	orgID     string
	expired   bool
	orgLookup orgLookupFunc
}

// NewSession creates a session backed by the credential file at path.
func NewSession(path string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		path:   path,
		logger: logger,
		gate:   make(chan struct{}, 1),
	}
}

// CredentialPath returns the credential file this session reads.
func (s *Session) CredentialPath() string {
	return s.path
}

// AuthHeaders returns the headers that authenticate a request. When
// requireOrg is set, the organization id header is included, resolving it
// from the service on first use. Errors wrap ErrSessionExpired when no
// valid session exists.
func (s *Session) AuthHeaders(ctx context.Context, requireOrg bool) (http.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	h := make(http.Header)
	h.Set(headerAuthorization, s.cred.Token.Type()+" "+s.cred.Token.AccessToken)

	if !requireOrg {
		return h, nil
	}

	if s.orgID == "" {
		org, err := s.resolveOrgLocked(ctx)
		if err != nil {
			return nil, err
		}

		s.orgID = org
	}

	h.Set(headerOrgID, s.orgID)

	return h, nil
}

// OrgID returns the cached organization id, resolving it under the call
// gate if needed. Must not be called from inside Serialize.
func (s *Session) OrgID(ctx context.Context) (string, error) {
	var org string

	err := s.Serialize(ctx, func() error {
		h, err := s.AuthHeaders(ctx, true)
		if err != nil {
			return err
		}

		org = h.Get(headerOrgID)

		return nil
	})

	return org, err
}

// IsValid reports whether a usable, unexpired session credential is
// available. It never makes a network call.
func (s *Session) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked() == nil
}

// MarkExpired records that the service rejected the session. All later
// AuthHeaders calls fail with ErrSessionExpired until a different token is
// written to the credential file.
func (s *Session) MarkExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.expired {
		s.logger.Warn("source session marked expired",
			slog.String("credential_file", s.path),
		)
	}

	s.expired = true
}

// reload re-reads the credential file and drops the cached session when the
// access token differs from the cached one. Rewrites that keep the token,
// such as caching the organization id, leave the session untouched, so a
// rejected token stays expired. An unreadable file is ignored; the login
// flow may be mid-write.
func (s *Session) reload() bool {
	cred, err := tokenfile.Load(s.path)
	if err != nil || cred == nil || cred.Token == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred != nil && s.cred.Token.AccessToken == cred.Token.AccessToken {
		return false
	}

	s.cred = nil
	s.orgID = ""
	s.expired = false

	return true
}

// Serialize runs fn while holding the session's call gate. Waiting for the
// gate honors ctx.
func (s *Session) Serialize(ctx context.Context, fn func() error) error {
	select {
	case s.gate <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("source: waiting for session: %w", ctx.Err())
	}

	defer func() { <-s.gate }()

	return fn()
}

// Watch reloads the session whenever a new token lands in the credential
// file. It blocks until ctx is canceled.
func (s *Session) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("source: creating credential watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("source: watching %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}

			if s.reload() {
				s.logger.Info("new credential detected, session reloaded",
					slog.String("credential_file", s.path),
				)
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			s.logger.Warn("credential watcher error",
				slog.String("error", watchErr.Error()),
			)
		}
	}
}

// loadLocked ensures a valid credential is cached. Caller holds s.mu.
func (s *Session) loadLocked() error {
	if s.expired {
		return fmt.Errorf("%w: re-login required", ErrSessionExpired)
	}

	if s.cred == nil {
		cred, err := tokenfile.Load(s.path)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}

		if cred == nil {
			return fmt.Errorf("%w: no credential at %s", ErrSessionExpired, s.path)
		}

		s.cred = cred
		s.orgID = cred.OrgID()
	}

	if !s.cred.Token.Valid() {
		s.expired = true

		return fmt.Errorf("%w: credential expired at %s", ErrSessionExpired,
			s.cred.Token.Expiry.Format("2006-01-02T15:04:05Z07:00"))
	}

	return nil
}

// resolveOrgLocked looks up the organization id and caches it in the
// credential file so later processes skip the lookup. Caller holds s.mu.
func (s *Session) resolveOrgLocked(ctx context.Context) (string, error) {
	if s.orgLookup == nil {
		return "", fmt.Errorf("%w: organization id unknown", ErrSessionExpired)
	}

	org, err := s.orgLookup(ctx, s.cred.Token.Type()+" "+s.cred.Token.AccessToken)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			s.expired = true
		}

		return "", fmt.Errorf("source: resolving organization: %w", err)
	}

	if org == "" {
		return "", fmt.Errorf("%w: service returned no organization", ErrSessionExpired)
	}

	if err := tokenfile.MergeMeta(s.path, map[string]string{tokenfile.MetaOrgID: org}); err != nil {
		s.logger.Warn("could not cache organization id",
			slog.String("error", err.Error()),
		)
	}

	return org, nil
}
