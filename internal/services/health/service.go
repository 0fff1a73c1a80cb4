package health

import (
	"context"
	"database/sql"
	"time"

	"optimizer-backend/internal/shared/storage/db"
)

// Service answers readiness probes. A nil database means the API is running
// on in-memory repositories, which is healthy in dev but worth surfacing.
type Service struct {
	DB *sql.DB
}

// NewService constructs a new health service.
func NewService(database *sql.DB) *Service {
	return &Service{DB: database}
}

// Status is the payload returned by GET /health.
type Status struct {
	OK            bool   `json:"ok"`
	Database      string `json:"database"`
	SchemaVersion int64  `json:"schemaVersion,omitempty"`
}

const pingTimeout = 2 * time.Second

// Check pings the database and reports the applied migration version. It
// never returns an error; a degraded dependency shows up as OK false so the
// probe can still decode the body.
func (s *Service) Check(ctx context.Context) Status {
	if s == nil || s.DB == nil {
		return Status{OK: true, Database: "memory"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.DB.PingContext(pingCtx); err != nil {
		return Status{OK: false, Database: "unavailable"}
	}

	st := Status{OK: true, Database: "ok"}
	if version, err := db.SchemaVersion(ctx, s.DB); err == nil {
		st.SchemaVersion = version
	}
	return st
}
