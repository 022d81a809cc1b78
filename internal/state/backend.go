// Package state persists the per-tenant StateStore. Two interchangeable
// backends exist: a single-tenant file store and a multi-tenant SQLite
// store. Save is a whole-document overwrite in both.
package state

import (
	"context"

	"github.com/celadon-dev/celadon/internal/model"
)

// Backend loads and saves one tenant's StateStore. Load returns an empty
// store when none exists yet; "not found" is never an error. Both
// implementations apply the legacy IdeaEvent migration before returning.
type Backend interface {
	Load(ctx context.Context, tenant string) (*model.StateStore, error)
	Save(ctx context.Context, tenant string, s *model.StateStore) error

	// WritePRD mirrors one PRD version to a file for external inspection.
	WritePRD(tenant, projectID string, version int, content string) (path string, err error)
}
