package health

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestCheckWithoutDatabase(t *testing.T) {
	svc := NewService(nil)
	st := svc.Check(context.Background())
	if !st.OK {
		t.Fatal("expected OK without a database")
	}
	if st.Database != "memory" {
		t.Fatalf("expected database \"memory\", got %q", st.Database)
	}
}

func TestCheckReportsUnreachableDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	st := NewService(db).Check(context.Background())
	if st.OK {
		t.Fatal("expected OK false when ping fails")
	}
	if st.Database != "unavailable" {
		t.Fatalf("expected database \"unavailable\", got %q", st.Database)
	}
}
