package domain

import "time"

type CandidatureStatus string

const (
	StatusEnCours         CandidatureStatus = "en_cours"
	StatusAccepte         CandidatureStatus = "accepte"
	StatusRefuse          CandidatureStatus = "refuse"
	StatusVisitePlanifiee CandidatureStatus = "visite_planifiee"
)

// Label returns the wording shown to applicants and staff.
func (s CandidatureStatus) Label() string {
	switch s {
	case StatusEnCours:
		return "En cours"
	case StatusAccepte:
		return "Accepté"
	case StatusRefuse:
		return "Refusé"
	case StatusVisitePlanifiee:
		return "Visite planifiée"
	default:
		return string(s)
	}
}

// Terminal reports whether the token-response path may no longer change the status.
func (s CandidatureStatus) Terminal() bool {
	return s != StatusEnCours
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to CandidatureStatus) bool {
	switch from {
	case StatusEnCours:
		return to == StatusAccepte || to == StatusRefuse
	case StatusAccepte:
		return to == StatusVisitePlanifiee
	default:
		return false
	}
}

type LogementStatus string

const (
	LogementDisponible   LogementStatus = "disponible"
	LogementEnAttente    LogementStatus = "en_attente"
	LogementLoue         LogementStatus = "loue"
	LogementIndisponible LogementStatus = "indisponible"
)

type LeaseStatus string

const (
	LeasePending LeaseStatus = "en_attente"
	LeaseSigned  LeaseStatus = "signe"
	LeaseExpired LeaseStatus = "expire"
)

type Logement struct {
	ID        int64          `json:"id"`
	Reference string         `json:"reference"`
	Address   string         `json:"address"`
	Rent      float64        `json:"rent"`
	Status    LogementStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type Candidature struct {
	ID               int64             `json:"id"`
	LogementID       int64             `json:"logementId"`
	LastName         string            `json:"lastName"`
	FirstName        string            `json:"firstName"`
	Email            string            `json:"email"`
	Phone            string            `json:"phone"`
	EmploymentStatus string            `json:"employmentStatus"`
	TrialPeriod      string            `json:"trialPeriod"`
	IncomeBracket    string            `json:"incomeBracket"`
	IncomeType       string            `json:"incomeType"`
	HousingSituation string            `json:"housingSituation"`
	NoticeGiven      string            `json:"noticeGiven"`
	OccupantCount    int               `json:"occupantCount"`
	GuaranteeScheme  string            `json:"guaranteeScheme"`
	Status           CandidatureStatus `json:"status"`
	SubmittedAt      time.Time         `json:"submittedAt"`
	ResponseToken    string            `json:"-"`
	RespondedAt      *time.Time        `json:"respondedAt,omitempty"`
	VisitAt          *time.Time        `json:"visitAt,omitempty"`
}

// FullName returns "Prénom Nom".
func (c Candidature) FullName() string {
	if c.FirstName == "" {
		return c.LastName
	}
	return c.FirstName + " " + c.LastName
}

type Document struct {
	ID               int64     `json:"id"`
	CandidatureID    int64     `json:"candidatureId"`
	Category         string    `json:"category"`
	OriginalFilename string    `json:"originalFilename"`
	StoragePath      string    `json:"-"`
	ContentType      string    `json:"contentType"`
	SizeBytes        int64     `json:"sizeBytes"`
	CreatedAt        time.Time `json:"createdAt"`
}

type LeaseLink struct {
	ID          int64       `json:"id"`
	LogementID  int64       `json:"logementId"`
	TenantName  string      `json:"tenantName"`
	TenantEmail string      `json:"tenantEmail"`
	Token       string      `json:"token,omitempty"`
	Status      LeaseStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	ExpiresAt   time.Time   `json:"expiresAt"`
	SignedAt    *time.Time  `json:"signedAt,omitempty"`
	SignerIP    string      `json:"signerIp,omitempty"`
}

// EffectiveStatus folds expiry into the stored status.
func (l LeaseLink) EffectiveStatus(now time.Time) LeaseStatus {
	if l.Status == LeasePending && !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt) {
		return LeaseExpired
	}
	return l.Status
}

type AuditEntry struct {
	ID        int64          `json:"id"`
	EntityID  string         `json:"entityId"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	SourceIP  string         `json:"sourceIp,omitempty"`
	Actor     string         `json:"actor"`
	CreatedAt time.Time      `json:"createdAt"`
}
