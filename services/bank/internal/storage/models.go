package storage

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one row of the append-only operation audit trail. Amounts
// are stored as strings so the numeric type is never narrowed by the driver.
type AuditRecord struct {
	ID            uuid.UUID
	Operation     string
	Principal     string
	Asset         string
	Amount        string
	Status        string
	Reason        string
	CorrelationID string
	CreatedAt     time.Time
}
