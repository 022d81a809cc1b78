package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/model"
)

const stateFileName = "state.json"

// FileBackend stores each tenant's StateStore as a single JSON document
// inside the tenant directory. The tenant string is the directory path.
type FileBackend struct {
	logger zerolog.Logger
}

// NewFileBackend creates a file-backed state backend.
func NewFileBackend(logger zerolog.Logger) *FileBackend {
	return &FileBackend{logger: logger.With().Str("component", "filestore").Logger()}
}

// Load reads <tenant>/state.json. A missing file yields an empty store.
func (b *FileBackend) Load(_ context.Context, tenant string) (*model.StateStore, error) {
	path := filepath.Join(tenant, stateFileName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return model.NewStateStore(), nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "read state file %s", path)
	}

	s := model.NewStateStore()
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "decode state file %s", path)
	}
	s.Normalize()
	s.MigrateIdeaEvents()
	return s, nil
}

// Save overwrites the tenant's state document atomically: the JSON is
// written to a temp file and renamed over the target, so a crash mid-write
// never leaves a truncated document behind.
func (b *FileBackend) Save(_ context.Context, tenant string, s *model.StateStore) error {
	if err := os.MkdirAll(tenant, 0o750); err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "create tenant dir %s", tenant)
	}
	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "encode state")
	}
	path := filepath.Join(tenant, stateFileName)
	if err := renameio.WriteFile(path, payload, 0o600); err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "write state file %s", path)
	}
	b.logger.Debug().Str("path", path).Int("bytes", len(payload)).Msg("state saved")
	return nil
}

// WritePRD mirrors a PRD version to <tenant>/prd/<project>/v<N>.md.
func (b *FileBackend) WritePRD(tenant, projectID string, version int, content string) (string, error) {
	dir := filepath.Join(tenant, "prd", projectID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", apperr.Wrap(apperr.KindPersistence, err, "create prd dir %s", dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("v%d.md", version))
	if err := renameio.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", apperr.Wrap(apperr.KindPersistence, err, "write prd file %s", path)
	}
	return path, nil
}
