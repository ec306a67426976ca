package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"gestloc/pkg/domain"
)

const migrateLockID int64 = 51874022

const defaultListLimit = 100

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&LogementModel{}, &CandidatureModel{}, &DocumentModel{}, &LeaseLinkModel{}, &AuditModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'document_models'
					AND constraint_name = 'document_models_candidature_id_fkey'
				) THEN
					ALTER TABLE document_models
					ADD CONSTRAINT document_models_candidature_id_fkey
					FOREIGN KEY (candidature_id) REFERENCES candidature_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'candidature_models'
					AND constraint_name = 'candidature_models_logement_id_fkey'
				) THEN
					ALTER TABLE candidature_models
					ADD CONSTRAINT candidature_models_logement_id_fkey
					FOREIGN KEY (logement_id) REFERENCES logement_models(id);
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'lease_link_models'
					AND constraint_name = 'lease_link_models_logement_id_fkey'
				) THEN
					ALTER TABLE lease_link_models
					ADD CONSTRAINT lease_link_models_logement_id_fkey
					FOREIGN KEY (logement_id) REFERENCES logement_models(id);
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateLogement inserts a logement and returns it with its id.
func (s *GormStore) CreateLogement(ctx context.Context, l domain.Logement) (domain.Logement, error) {
	model := logementToModel(l)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Logement{}, err
	}
	return logementFromModel(model), nil
}

// GetLogement retrieves a logement.
func (s *GormStore) GetLogement(ctx context.Context, id int64) (domain.Logement, bool, error) {
	var model LogementModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Logement{}, false, nil
		}
		return domain.Logement{}, false, err
	}
	return logementFromModel(model), true, nil
}

// ListLogements returns logements ordered by reference, optionally filtered by status.
func (s *GormStore) ListLogements(ctx context.Context, status domain.LogementStatus) ([]domain.Logement, error) {
	var models []LogementModel
	tx := s.db.WithContext(ctx).Order("reference ASC")
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Logement, 0, len(models))
	for _, m := range models {
		res = append(res, logementFromModel(m))
	}
	return res, nil
}

// SetLogementStatus updates a logement's availability.
func (s *GormStore) SetLogementStatus(ctx context.Context, id int64, status domain.LogementStatus) error {
	res := s.db.WithContext(ctx).Model(&LogementModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCandidature retrieves a candidature.
func (s *GormStore) GetCandidature(ctx context.Context, id int64) (domain.Candidature, bool, error) {
	return s.firstCandidature(ctx, "id = ?", id)
}

// GetCandidatureByToken looks a candidature up by its response token.
func (s *GormStore) GetCandidatureByToken(ctx context.Context, token string) (domain.Candidature, bool, error) {
	if token == "" {
		return domain.Candidature{}, false, nil
	}
	return s.firstCandidature(ctx, "response_token = ?", token)
}

func (s *GormStore) firstCandidature(ctx context.Context, query string, arg any) (domain.Candidature, bool, error) {
	var model CandidatureModel
	if err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Candidature{}, false, nil
		}
		return domain.Candidature{}, false, err
	}
	return candidatureFromModel(model), true, nil
}

// ListCandidatures returns candidatures newest first.
func (s *GormStore) ListCandidatures(ctx context.Context, f CandidatureFilter) ([]domain.Candidature, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	tx := s.db.WithContext(ctx).Order("submitted_at DESC").Limit(limit).Offset(max(f.Offset, 0))
	if f.Status != "" {
		tx = tx.Where("status = ?", string(f.Status))
	}
	if f.LogementID > 0 {
		tx = tx.Where("logement_id = ?", f.LogementID)
	}
	var models []CandidatureModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Candidature, 0, len(models))
	for _, m := range models {
		res = append(res, candidatureFromModel(m))
	}
	return res, nil
}

// ListDocuments returns the documents of one candidature in upload order.
func (s *GormStore) ListDocuments(ctx context.Context, candidatureID int64) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).Where("candidature_id = ?", candidatureID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// UpdateCandidatureStatus applies a guarded status change under a row lock.
func (s *GormStore) UpdateCandidatureStatus(ctx context.Context, id int64, change StatusChange) (domain.Candidature, error) {
	var out domain.Candidature
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model CandidatureModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		out = candidatureFromModel(model)
		if !slices.Contains(change.From, out.Status) {
			return ErrStatusConflict
		}
		updates := map[string]any{"status": string(change.To)}
		if change.RespondedAt != nil {
			updates["responded_at"] = *change.RespondedAt
		}
		if change.VisitAt != nil {
			updates["visit_at"] = *change.VisitAt
		}
		if err := tx.Model(&CandidatureModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		out.Status = change.To
		if change.RespondedAt != nil {
			out.RespondedAt = change.RespondedAt
		}
		if change.VisitAt != nil {
			out.VisitAt = change.VisitAt
		}
		return nil
	})
	return out, err
}

// CreateLeaseLink inserts a lease link.
func (s *GormStore) CreateLeaseLink(ctx context.Context, l domain.LeaseLink) (domain.LeaseLink, error) {
	model := leaseToModel(l)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.LeaseLink{}, err
	}
	return leaseFromModel(model), nil
}

// GetLeaseLinkByToken looks a lease link up by token.
func (s *GormStore) GetLeaseLinkByToken(ctx context.Context, token string) (domain.LeaseLink, bool, error) {
	var model LeaseLinkModel
	if err := s.db.WithContext(ctx).First(&model, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LeaseLink{}, false, nil
		}
		return domain.LeaseLink{}, false, err
	}
	return leaseFromModel(model), true, nil
}

// ListLeaseLinks returns lease links newest first.
func (s *GormStore) ListLeaseLinks(ctx context.Context) ([]domain.LeaseLink, error) {
	var models []LeaseLinkModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.LeaseLink, 0, len(models))
	for _, m := range models {
		res = append(res, leaseFromModel(m))
	}
	return res, nil
}

// SignLeaseLink marks a pending, unexpired link signed and the logement rented.
// A pending link found past its expiry is stored as expired and reported as a
// conflict.
func (s *GormStore) SignLeaseLink(ctx context.Context, token, signerIP string, at time.Time) (domain.LeaseLink, error) {
	var (
		out      domain.LeaseLink
		conflict bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model LeaseLinkModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "token = ?", token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		out = leaseFromModel(model)
		switch out.EffectiveStatus(at) {
		case domain.LeasePending:
		case domain.LeaseExpired:
			conflict = true
			if out.Status == domain.LeaseExpired {
				return nil
			}
			out.Status = domain.LeaseExpired
			return tx.Model(&LeaseLinkModel{}).Where("id = ?", model.ID).Update("status", string(domain.LeaseExpired)).Error
		default:
			conflict = true
			return nil
		}
		if err := tx.Model(&LeaseLinkModel{}).Where("id = ?", model.ID).Updates(map[string]any{
			"status":    string(domain.LeaseSigned),
			"signed_at": at,
			"signer_ip": signerIP,
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&LogementModel{}).Where("id = ?", model.LogementID).Updates(map[string]any{
			"status":     string(domain.LogementLoue),
			"updated_at": at,
		}).Error; err != nil {
			return err
		}
		out.Status = domain.LeaseSigned
		out.SignedAt = &at
		out.SignerIP = signerIP
		return nil
	})
	if err == nil && conflict {
		err = ErrStatusConflict
	}
	return out, err
}

// AppendAudit records an audit entry.
func (s *GormStore) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	model, err := auditToModel(e)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// InTx runs fn in a database transaction.
func (s *GormStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockLogement(ctx context.Context, id int64) (domain.Logement, bool, error) {
	var model LogementModel
	if err := t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Logement{}, false, nil
		}
		return domain.Logement{}, false, err
	}
	return logementFromModel(model), true, nil
}

func (t *gormTx) CreateCandidature(ctx context.Context, c domain.Candidature) (domain.Candidature, error) {
	model := candidatureToModel(c)
	model.ID = 0
	if err := t.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Candidature{}, err
	}
	return candidatureFromModel(model), nil
}

func (t *gormTx) CreateDocument(ctx context.Context, d domain.Document) (domain.Document, error) {
	model := documentToModel(d)
	model.ID = 0
	if err := t.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Document{}, err
	}
	return documentFromModel(model), nil
}

func logementToModel(l domain.Logement) LogementModel {
	return LogementModel{
		ID:        l.ID,
		Reference: l.Reference,
		Address:   l.Address,
		Rent:      l.Rent,
		Status:    string(l.Status),
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

func logementFromModel(m LogementModel) domain.Logement {
	return domain.Logement{
		ID:        m.ID,
		Reference: m.Reference,
		Address:   m.Address,
		Rent:      m.Rent,
		Status:    domain.LogementStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func candidatureToModel(c domain.Candidature) CandidatureModel {
	var token *string
	if c.ResponseToken != "" {
		t := c.ResponseToken
		token = &t
	}
	return CandidatureModel{
		ID:               c.ID,
		LogementID:       c.LogementID,
		LastName:         c.LastName,
		FirstName:        c.FirstName,
		Email:            c.Email,
		Phone:            c.Phone,
		EmploymentStatus: c.EmploymentStatus,
		TrialPeriod:      c.TrialPeriod,
		IncomeBracket:    c.IncomeBracket,
		IncomeType:       c.IncomeType,
		HousingSituation: c.HousingSituation,
		NoticeGiven:      c.NoticeGiven,
		OccupantCount:    c.OccupantCount,
		GuaranteeScheme:  c.GuaranteeScheme,
		Status:           string(c.Status),
		SubmittedAt:      c.SubmittedAt,
		ResponseToken:    token,
		RespondedAt:      c.RespondedAt,
		VisitAt:          c.VisitAt,
	}
}

func candidatureFromModel(m CandidatureModel) domain.Candidature {
	c := domain.Candidature{
		ID:               m.ID,
		LogementID:       m.LogementID,
		LastName:         m.LastName,
		FirstName:        m.FirstName,
		Email:            m.Email,
		Phone:            m.Phone,
		EmploymentStatus: m.EmploymentStatus,
		TrialPeriod:      m.TrialPeriod,
		IncomeBracket:    m.IncomeBracket,
		IncomeType:       m.IncomeType,
		HousingSituation: m.HousingSituation,
		NoticeGiven:      m.NoticeGiven,
		OccupantCount:    m.OccupantCount,
		GuaranteeScheme:  m.GuaranteeScheme,
		Status:           domain.CandidatureStatus(m.Status),
		SubmittedAt:      m.SubmittedAt,
		RespondedAt:      m.RespondedAt,
		VisitAt:          m.VisitAt,
	}
	if m.ResponseToken != nil {
		c.ResponseToken = *m.ResponseToken
	}
	return c
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:               d.ID,
		CandidatureID:    d.CandidatureID,
		Category:         d.Category,
		OriginalFilename: d.OriginalFilename,
		StoragePath:      d.StoragePath,
		ContentType:      d.ContentType,
		SizeBytes:        d.SizeBytes,
		CreatedAt:        d.CreatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:               m.ID,
		CandidatureID:    m.CandidatureID,
		Category:         m.Category,
		OriginalFilename: m.OriginalFilename,
		StoragePath:      m.StoragePath,
		ContentType:      m.ContentType,
		SizeBytes:        m.SizeBytes,
		CreatedAt:        m.CreatedAt,
	}
}

func leaseToModel(l domain.LeaseLink) LeaseLinkModel {
	return LeaseLinkModel{
		ID:          l.ID,
		LogementID:  l.LogementID,
		TenantName:  l.TenantName,
		TenantEmail: l.TenantEmail,
		Token:       l.Token,
		Status:      string(l.Status),
		CreatedAt:   l.CreatedAt,
		ExpiresAt:   l.ExpiresAt,
		SignedAt:    l.SignedAt,
		SignerIP:    l.SignerIP,
	}
}

func leaseFromModel(m LeaseLinkModel) domain.LeaseLink {
	return domain.LeaseLink{
		ID:          m.ID,
		LogementID:  m.LogementID,
		TenantName:  m.TenantName,
		TenantEmail: m.TenantEmail,
		Token:       m.Token,
		Status:      domain.LeaseStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
		SignedAt:    m.SignedAt,
		SignerIP:    m.SignerIP,
	}
}

func auditToModel(e domain.AuditEntry) (AuditModel, error) {
	var details datatypes.JSON
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return AuditModel{}, fmt.Errorf("marshal audit details: %w", err)
		}
		details = datatypes.JSON(raw)
	}
	return AuditModel{
		EntityID:  e.EntityID,
		Action:    e.Action,
		Details:   details,
		SourceIP:  e.SourceIP,
		Actor:     e.Actor,
		CreatedAt: e.CreatedAt,
	}, nil
}
