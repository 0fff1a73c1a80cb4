package account

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"optimizer-backend/internal/documents"
	"optimizer-backend/internal/optimizations"
)

// Service moves guest-owned data onto an authenticated account. Uploads and
// optimization history both move, so a guest who signs in keeps everything,
// including a paused session waiting on a continuation token.
type Service struct {
	DocRepo documents.DocumentsRepo
	OptRepo optimizations.Repo
}

type ClaimResult struct {
	MigratedDocuments     int `json:"migratedDocuments"`
	MigratedOptimizations int `json:"migratedOptimizations"`
}

func NewService(docRepo documents.DocumentsRepo, optRepo optimizations.Repo) *Service {
	return &Service{DocRepo: docRepo, OptRepo: optRepo}
}

// ClaimGuest reassigns everything the guest owns. When both repos share a
// Postgres database the move is one transaction; otherwise each repo claims
// its own records.
func (s *Service) ClaimGuest(ctx context.Context, guestUserID, authedUserID string) (ClaimResult, error) {
	if strings.TrimSpace(guestUserID) == "" || strings.TrimSpace(authedUserID) == "" {
		return ClaimResult{}, errors.New("guestUserID and authedUserID are required")
	}

	if docPG, ok := s.DocRepo.(*documents.PGRepo); ok && docPG != nil && docPG.DB != nil {
		if optPG, ok := s.OptRepo.(*optimizations.PGRepo); ok && optPG != nil && optPG.DB != nil {
			return claimWithTx(ctx, docPG.DB, guestUserID, authedUserID)
		}
	}

	docCount, err := claimDocs(ctx, s.DocRepo, guestUserID, authedUserID)
	if err != nil {
		return ClaimResult{}, err
	}
	optCount, err := claimOptimizations(ctx, s.OptRepo, guestUserID, authedUserID)
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{MigratedDocuments: docCount, MigratedOptimizations: optCount}, nil
}

func claimWithTx(ctx context.Context, db *sql.DB, guestUserID, authedUserID string) (ClaimResult, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ClaimResult{}, err
	}
	defer tx.Rollback()

	docRes, err := tx.ExecContext(ctx,
		`UPDATE documents SET user_id = $1 WHERE user_id = $2 AND deleted_at IS NULL`,
		authedUserID, guestUserID)
	if err != nil {
		return ClaimResult{}, err
	}
	docCount, _ := docRes.RowsAffected()

	optRes, err := tx.ExecContext(ctx,
		`UPDATE optimization_sessions SET user_id = $1 WHERE user_id = $2`,
		authedUserID, guestUserID)
	if err != nil {
		return ClaimResult{}, err
	}
	optCount, _ := optRes.RowsAffected()

	// Pending continuations must follow their sessions or resuming after
	// sign-in would fail the token ownership check.
	if _, err := tx.ExecContext(ctx,
		`UPDATE optimization_continuations SET user_id = $1 WHERE user_id = $2`,
		authedUserID, guestUserID); err != nil {
		return ClaimResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{MigratedDocuments: int(docCount), MigratedOptimizations: int(optCount)}, nil
}

// guestClaimer is the optional repo capability the non-transactional path
// relies on; both memory repos implement it.
type guestClaimer interface {
	ClaimGuest(ctx context.Context, guestUserID, authedUserID string) (int, error)
}

func claimDocs(ctx context.Context, repo documents.DocumentsRepo, guestUserID, authedUserID string) (int, error) {
	if claimer, ok := repo.(guestClaimer); ok {
		return claimer.ClaimGuest(ctx, guestUserID, authedUserID)
	}
	return 0, errors.New("documents repo does not support claim")
}

func claimOptimizations(ctx context.Context, repo optimizations.Repo, guestUserID, authedUserID string) (int, error) {
	if claimer, ok := repo.(guestClaimer); ok {
		return claimer.ClaimGuest(ctx, guestUserID, authedUserID)
	}
	return 0, errors.New("optimizations repo does not support claim")
}
