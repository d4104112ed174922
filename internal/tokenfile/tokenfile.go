// Package tokenfile reads and writes the session credential file. The file
// is written by the external login flow and read by the source session; it
// holds a bearer token plus cached session metadata such as the
// organization id.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/docsync/internal/atomicfile"
)

// FilePerms restricts credential files to owner-only read/write.
const FilePerms = 0o600

// Metadata keys cached alongside the token.
const (
	MetaOrgID   = "org_id"
	MetaAccount = "account"
)

// ErrMissingToken is returned when the file exists but carries no token.
var ErrMissingToken = errors.New("tokenfile: missing token field (re-login required)")

// File is the on-disk format for the credential file.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// OrgID returns the cached organization id, or "".
func (f *File) OrgID() string {
	if f == nil {
		return ""
	}

	return f.Meta[MetaOrgID]
}

// Load reads a credential file from disk. Returns (nil, nil) if the file
// does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil || tf.Token.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingToken, path)
	}

	return &tf, nil
}

// Save writes a credential file atomically with 0600 permissions. Never
// logs token values.
func Save(path string, tf *File) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	if err := atomicfile.Write(path, data, FilePerms); err != nil {
		return fmt.Errorf("tokenfile: %w", err)
	}

	return nil
}

// MergeMeta reads the current credential file, merges new metadata keys
// (new keys overwrite existing), and saves. Returns an error if the file
// does not exist.
func MergeMeta(path string, meta map[string]string) error {
	tf, err := Load(path)
	if err != nil {
		return fmt.Errorf("reading credential for metadata update: %w", err)
	}

	if tf == nil {
		return fmt.Errorf("tokenfile: no credential file at %s", path)
	}

	if tf.Meta == nil {
		tf.Meta = make(map[string]string, len(meta))
	}

	maps.Copy(tf.Meta, meta)

	return Save(path, tf)
}
