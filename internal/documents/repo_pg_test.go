package documents

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func documentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "file_name", "original_filename", "mime_type", "content_type",
		"size_bytes", "storage_provider", "storage_key", "extracted_text_key", "extracted_at", "created_at",
	})
}

func TestPGRepoCreateFillsDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	created := time.Now().UTC()
	mock.ExpectExec("INSERT INTO documents").
		WithArgs(
			"doc-1", "user-1", "resume.pdf",
			"resume.pdf", // original filename falls back to file name
			"application/pdf",
			"application/pdf", // content type falls back to mime type
			int64(2048),
			"local", // provider default
			sql.NullString{}, // empty storage key stays NULL
			created,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := &PGRepo{DB: db}
	err = repo.Create(context.Background(), Document{
		ID:        "doc-1",
		UserID:    "user-1",
		FileName:  "resume.pdf",
		MimeType:  "application/pdf",
		SizeBytes: 2048,
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDScansNullableColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	extractedAt := time.Now().UTC().Add(-time.Minute)
	rows := documentRows().AddRow(
		"doc-1", "user-1", "resume.pdf", "Resume (1).pdf", "application/pdf", "application/pdf",
		int64(2048), "s3", "ab12cd/resume.pdf", "ab12cd/resume.pdf.extracted.txt", extractedAt, time.Now().UTC(),
	)
	mock.ExpectQuery("FROM documents").
		WithArgs("user-1", "doc-1").
		WillReturnRows(rows)

	repo := &PGRepo{DB: db}
	doc, err := repo.GetByID(context.Background(), "user-1", "doc-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if doc.OriginalFilename != "Resume (1).pdf" {
		t.Fatalf("expected original filename to decode, got %q", doc.OriginalFilename)
	}
	if doc.ExtractedTextKey != "ab12cd/resume.pdf.extracted.txt" {
		t.Fatalf("expected extracted key to decode, got %q", doc.ExtractedTextKey)
	}
	if doc.ExtractedAt == nil || !doc.ExtractedAt.Equal(extractedAt) {
		t.Fatalf("expected extraction timestamp, got %v", doc.ExtractedAt)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery("FROM documents").
		WithArgs("user-1", "missing").
		WillReturnError(sql.ErrNoRows)

	repo := &PGRepo{DB: db}
	if _, err := repo.GetByID(context.Background(), "user-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoClaimGuestCountsRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("UPDATE documents").
		WithArgs("user-1", "guest:g1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	repo := &PGRepo{DB: db}
	moved, err := repo.ClaimGuest(context.Background(), "guest:g1", "user-1")
	if err != nil {
		t.Fatalf("ClaimGuest: %v", err)
	}
	if moved != 3 {
		t.Fatalf("expected 3 documents claimed, got %d", moved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
