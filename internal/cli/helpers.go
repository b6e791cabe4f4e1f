package cli

import (
	"context"

	"github.com/spf13/afero"
)

// cmdContext returns the context used for the lifetime of a single command
// invocation. The CLI is a one-shot process, so a bare background context
// is all any command needs.
func cmdContext() context.Context {
	return context.Background()
}

// realFs is the filesystem every command runs against. Tests inject
// afero.NewMemMapFs() directly into the packages under internal/scheduler
// instead of going through the CLI layer.
func realFs() afero.Fs {
	return afero.NewOsFs()
}
