package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/docsync/internal/source"
)

func newSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Check the source session credential",
		Long: `Report whether the session credential file holds a usable, unexpired
token. Makes no network calls. Exits with status 2 when the session has
expired so the re-login flow can be triggered from scripts.`,
		RunE: runSession,
	}
}

type sessionOutput struct {
	CredentialFile string `json:"credential_file"`
	State          string `json:"state"`
}

func runSession(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	s := source.NewSession(cc.Cfg.CredentialPath(), cc.Logger)

	out := sessionOutput{CredentialFile: s.CredentialPath(), State: sessionStateExpired}
	if s.IsValid() {
		out.State = sessionStateValid
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		fmt.Printf("Session: %s (%s)\n", out.State, out.CredentialFile)
	}

	if out.State != sessionStateValid {
		return fmt.Errorf("credential %s: %w", out.CredentialFile, source.ErrSessionExpired)
	}

	return nil
}
