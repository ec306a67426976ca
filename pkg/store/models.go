package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type LogementModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Reference string `gorm:"uniqueIndex;not null"`
	Address   string `gorm:"not null"`
	Rent      float64
	Status    string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type CandidatureModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	LogementID       int64  `gorm:"not null;index"`
	LastName         string `gorm:"not null"`
	FirstName        string `gorm:"not null"`
	Email            string `gorm:"not null;index"`
	Phone            string `gorm:"not null"`
	EmploymentStatus string
	TrialPeriod      string
	IncomeBracket    string
	IncomeType       string
	HousingSituation string
	NoticeGiven      string
	OccupantCount    int
	GuaranteeScheme  string
	Status           string    `gorm:"not null;index"`
	SubmittedAt      time.Time `gorm:"not null;index"`
	ResponseToken    *string   `gorm:"uniqueIndex"`
	RespondedAt      *time.Time
	VisitAt          *time.Time
}

type DocumentModel struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	CandidatureID    int64     `gorm:"not null;index"`
	Category         string    `gorm:"not null"`
	OriginalFilename string    `gorm:"not null"`
	StoragePath      string    `gorm:"not null"`
	ContentType      string    `gorm:"not null"`
	SizeBytes        int64     `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

type LeaseLinkModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	LogementID  int64     `gorm:"not null;index"`
	TenantName  string    `gorm:"not null"`
	TenantEmail string    `gorm:"not null"`
	Token       string    `gorm:"uniqueIndex;not null"`
	Status      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"not null"`
	SignedAt    *time.Time
	SignerIP    string
}

type AuditModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	EntityID  string         `gorm:"not null;index"`
	Action    string         `gorm:"not null"`
	Details   datatypes.JSON `gorm:"type:jsonb"`
	SourceIP  string
	Actor     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}
