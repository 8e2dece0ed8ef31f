// Package file builds the file-backed stores rooted in the agent
// workspace: markdown memory, JSON sessions, daily journal.
package file

import (
	"fmt"
	"path/filepath"

	"github.com/nextlevelbuilder/hermit/internal/journal"
	"github.com/nextlevelbuilder/hermit/internal/memory"
	"github.com/nextlevelbuilder/hermit/internal/sessions"
	"github.com/nextlevelbuilder/hermit/internal/store"
)

// NewStores opens the file-backed stores under workspace. The concrete
// managers satisfy the store interfaces directly; the Archive slot stays
// nil and is wired separately when enabled.
func NewStores(workspace string) (*store.Stores, error) {
	mem, err := memory.NewStore(workspace)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	jour, err := journal.NewStore(workspace)
	if err != nil {
		return nil, fmt.Errorf("open journal store: %w", err)
	}
	sess := sessions.NewManager(filepath.Join(workspace, "sessions"))

	return &store.Stores{
		Memory:   mem,
		Sessions: sess,
		Journal:  jour,
	}, nil
}
