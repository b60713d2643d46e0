package importer

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
	"github.com/marginote/marginote/internal/gitsource"
	"github.com/marginote/marginote/internal/logger"
	"github.com/marginote/marginote/internal/storage"
)

// Syncer reconciles configured sources with the highlights table. Re-import is
// additive: existing highlights keep their flashcards and scheduling state,
// highlights missing from the source are soft-deleted, and reappearing ones
// are restored.
type Syncer struct {
	db       *storage.DB
	log      *logger.Logger
	reposDir string
}

// NewSyncer creates a syncer cloning git sources under reposDir.
func NewSyncer(db *storage.DB, log *logger.Logger, reposDir string) *Syncer {
	return &Syncer{db: db, log: log.With("service", "importer"), reposDir: reposDir}
}

// RunAll reconciles every configured source.
func (s *Syncer) RunAll(now time.Time) error {
	s.log.Info("starting import for all sources")
	sources, err := s.db.GetAllSources()
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}
	if len(sources) == 0 {
		s.log.Info("no sources configured")
		return nil
	}

	if err := os.MkdirAll(s.reposDir, 0o755); err != nil {
		return fmt.Errorf("failed to create repos directory: %w", err)
	}

	for _, source := range sources {
		s.log.Info("syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

		scanPath := source.Path
		if source.Type == "git" {
			localPath, err := gitURLToLocalPath(s.reposDir, source.Path)
			if err != nil {
				s.log.Error("cannot determine local path for git source", "url", source.Path, "error", err)
				continue
			}
			if err := gitsource.Sync(source.Path, localPath, s.log); err != nil {
				s.log.Error("git sync failed", "url", source.Path, "error", err)
				continue
			}
			scanPath = localPath
		}

		if err := s.reconcile(source, scanPath, now); err != nil {
			s.log.Error("reconcile failed", "id", source.ID, "path", scanPath, "error", err)
		}
	}
	s.log.Info("import complete")
	return nil
}

// reconcile walks a local directory, imports every highlight it finds, and
// soft-deletes database rows no longer present in the source.
func (s *Syncer) reconcile(source storage.Source, scanPath string, now time.Time) error {
	foundHashes := make(map[string]bool)
	var parsed, inserted, restored int
	var parseErrors []error

	walkErr := filepath.WalkDir(scanPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		fileHighlights, parseErr := ParseFile(path)
		if parseErr != nil {
			parseErrors = append(parseErrors, fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}

		for _, ph := range fileHighlights {
			parsed++
			hash := Hash(ph)
			foundHashes[hash] = true

			existing, findErr := s.db.FindHighlightByHash(source.UserID, hash)
			if findErr != nil {
				parseErrors = append(parseErrors, fmt.Errorf("lookup for %s: %w", hash, findErr))
				continue
			}
			switch {
			case existing == nil:
				h := domain.Highlight{
					ID:        uuid.New(),
					UserID:    source.UserID,
					BookTitle: ph.BookTitle,
					Author:    ph.Author,
					Content:   ph.Content,
					Note:      ph.Note,
					Hash:      hash,
					Tags:      ph.Tags,
					CreatedAt: now,
				}
				if insertErr := s.db.InsertHighlight(h, source.ID); insertErr != nil {
					parseErrors = append(parseErrors, fmt.Errorf("insert for %s: %w", hash, insertErr))
					continue
				}
				inserted++
			case existing.Deleted():
				if restoreErr := s.db.RestoreHighlight(existing.ID); restoreErr != nil {
					parseErrors = append(parseErrors, fmt.Errorf("restore for %s: %w", hash, restoreErr))
					continue
				}
				restored++
			}
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("failed to walk %s: %w", scanPath, walkErr)
	}

	existing, err := s.db.HighlightsBySource(source.ID)
	if err != nil {
		return fmt.Errorf("failed to list highlights for source %d: %w", source.ID, err)
	}

	var removed int
	for _, h := range existing {
		if foundHashes[h.Hash] || h.Deleted() {
			continue
		}
		if err := s.db.SoftDeleteHighlight(h.ID, now); err != nil {
			s.log.Warn("failed to soft-delete missing highlight", "hash", h.Hash, "error", err)
			continue
		}
		removed++
	}

	if err := s.db.UpdateSourceLastScanned(source.ID); err != nil {
		s.log.Warn("failed to update last scanned", "source_id", source.ID, "error", err)
	}

	s.log.Info("reconciliation complete",
		"path", scanPath,
		"parsed", parsed,
		"inserted", inserted,
		"restored", restored,
		"soft_deleted", removed,
		"errors", len(parseErrors),
	)
	for _, e := range parseErrors {
		s.log.Warn("import issue", "error", e)
	}
	return nil
}

// gitURLToLocalPath maps a clone URL to a stable on-disk path under baseDir.
// Handles https URLs and scp-style git@host:user/repo.git addresses.
func gitURLToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http") {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitized := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, parsedURL.Host, sanitized), nil
}
