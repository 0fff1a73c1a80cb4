package account

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"optimizer-backend/internal/documents"
	"optimizer-backend/internal/optimizations"
)

func TestClaimGuestUsesOneTransactionForPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	guestUserID := "guest:11111111-1111-1111-1111-111111111111"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE documents SET user_id").
		WithArgs("user-1", guestUserID).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE optimization_sessions SET user_id").
		WithArgs("user-1", guestUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE optimization_continuations SET user_id").
		WithArgs("user-1", guestUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := NewService(&documents.PGRepo{DB: db}, &optimizations.PGRepo{DB: db})
	result, err := svc.ClaimGuest(context.Background(), guestUserID, "user-1")
	if err != nil {
		t.Fatalf("ClaimGuest: %v", err)
	}
	if result.MigratedDocuments != 2 {
		t.Fatalf("expected 2 migrated documents, got %d", result.MigratedDocuments)
	}
	if result.MigratedOptimizations != 1 {
		t.Fatalf("expected 1 migrated optimization, got %d", result.MigratedOptimizations)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaimGuestRollsBackOnSessionUpdateFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	guestUserID := "guest:22222222-2222-2222-2222-222222222222"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE documents SET user_id").
		WithArgs("user-1", guestUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE optimization_sessions SET user_id").
		WithArgs("user-1", guestUserID).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	svc := NewService(&documents.PGRepo{DB: db}, &optimizations.PGRepo{DB: db})
	if _, err := svc.ClaimGuest(context.Background(), guestUserID, "user-1"); err == nil {
		t.Fatal("expected error when session update fails")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaimGuestRejectsBlankIDs(t *testing.T) {
	svc := NewService(documents.NewMemoryRepo(), optimizations.NewMemoryRepo())
	if _, err := svc.ClaimGuest(context.Background(), "", "user-1"); err == nil {
		t.Fatal("expected error for blank guest id")
	}
	if _, err := svc.ClaimGuest(context.Background(), "guest:abc", "  "); err == nil {
		t.Fatal("expected error for blank authed id")
	}
}
