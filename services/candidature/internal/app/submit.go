package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/mail"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"gestloc/internal/audit"
	"gestloc/internal/util"
	"gestloc/pkg/domain"
	"gestloc/pkg/store"
)

// Form field names of a submission, in the order they are checked.
const (
	FieldName             = "name"
	FieldFirstName        = "firstname"
	FieldEmail            = "email"
	FieldPhone            = "phone"
	FieldUnitID           = "unit_id"
	FieldEmploymentStatus = "employment_status"
	FieldTrialPeriod      = "trial_period"
	FieldIncomeBracket    = "income_bracket"
	FieldIncomeType       = "income_type"
	FieldHousingSituation = "housing_situation"
	FieldNoticeGiven      = "notice_given"
	FieldOccupantCount    = "occupant_count"
	FieldGuaranteeScheme  = "guarantee_scheme"
)

// RequiredFields lists every scalar field a submission must carry.
var RequiredFields = []string{
	FieldName,
	FieldFirstName,
	FieldEmail,
	FieldPhone,
	FieldUnitID,
	FieldEmploymentStatus,
	FieldTrialPeriod,
	FieldIncomeBracket,
	FieldIncomeType,
	FieldHousingSituation,
	FieldNoticeGiven,
	FieldOccupantCount,
	FieldGuaranteeScheme,
}

const defaultCategory = "autre"

// Upload is one file entry of a submission. Open failing is a transport error.
type Upload struct {
	Category string
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// SubmitRequest is a decoded candidature form.
type SubmitRequest struct {
	Fields    map[string]string
	FormToken string
	SessionID string
	Consent   string
	Uploads   []Upload
	SourceIP  string
}

// SubmitResult describes a stored candidature.
type SubmitResult struct {
	CandidatureID int64
	Documents     int
	Skipped       int
}

type submission struct {
	candidature domain.Candidature
	logementID  int64
}

// Submit validates and stores a candidature with its documents. Nothing is
// persisted unless at least one document is stored; files written by an
// aborted attempt are removed.
func (a *App) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	logger := util.LoggerFromContext(ctx)

	ok, err := a.formTokens.Verify(ctx, req.SessionID, req.FormToken)
	if err != nil {
		return SubmitResult{}, persistenceError("verify form token", err)
	}
	if !ok {
		return SubmitResult{}, &ValidationError{Err: ErrInvalidFormToken}
	}
	sub, err := a.validateSubmission(req)
	if err != nil {
		return SubmitResult{}, err
	}

	logement, found, err := a.store.GetLogement(ctx, sub.logementID)
	if err != nil {
		return SubmitResult{}, persistenceError("load logement", err)
	}
	if !found || logement.Status != domain.LogementDisponible {
		return SubmitResult{}, ErrLogementUnavailable
	}

	var (
		result  SubmitResult
		written []string
		created domain.Candidature
	)
	txErr := a.store.InTx(ctx, func(tx store.Tx) error {
		locked, found, err := tx.LockLogement(ctx, sub.logementID)
		if err != nil {
			return persistenceError("lock logement", err)
		}
		if !found || locked.Status != domain.LogementDisponible {
			return ErrLogementUnavailable
		}
		logement = locked

		cand := sub.candidature
		cand.Status = domain.StatusEnCours
		cand.SubmittedAt = a.now()
		cand.ResponseToken = uuid.NewString()
		created, err = tx.CreateCandidature(ctx, cand)
		if err != nil {
			return persistenceError("insert candidature", err)
		}

		for i, up := range req.Uploads {
			if err := ctx.Err(); err != nil {
				return err
			}
			seq := i + 1
			doc, key, err := a.storeUpload(ctx, created.ID, seq, up)
			if key != "" {
				written = append(written, key)
			}
			if err != nil {
				result.Skipped++
				logger.Info("document skipped", "candidature_id", created.ID, "seq", seq, "reason", err)
				continue
			}
			if _, err := tx.CreateDocument(ctx, doc); err != nil {
				return persistenceError("insert document", err)
			}
			result.Documents++
		}
		if result.Documents == 0 {
			return ErrNoValidDocument
		}
		return nil
	})
	if txErr != nil {
		a.removeWritten(ctx, written)
		if _, user := UserMessage(txErr); !user {
			logger.Error("candidature submission failed", "logement_id", sub.logementID, "err", txErr)
		}
		return SubmitResult{}, txErr
	}
	result.CandidatureID = created.ID

	a.audit.Log(ctx, audit.ActorSystem, audit.EntityID(created.ID), audit.ActionCandidatureSubmitted, map[string]any{
		"logement_id": created.LogementID,
		"documents":   result.Documents,
		"skipped":     result.Skipped,
	}, req.SourceIP)
	warnNotification(ctx, created.ID, a.notifier.submitted(ctx, created, logement, result.Documents)...)

	logger.Info("candidature submitted", "candidature_id", created.ID, "logement_id", created.LogementID, "documents", result.Documents)
	return result, nil
}

// storeUpload validates and writes one upload. key is non-empty only once the
// file reached storage.
func (a *App) storeUpload(ctx context.Context, candidatureID int64, seq int, up Upload) (domain.Document, string, error) {
	if up.Open == nil {
		return domain.Document{}, "", errors.New("upload has no content")
	}
	rc, err := up.Open()
	if err != nil {
		return domain.Document{}, "", fmt.Errorf("open upload: %w", err)
	}
	accepted, err := a.validator.Validate(rc, up.Size)
	_ = rc.Close()
	if err != nil {
		return domain.Document{}, "", err
	}
	key, err := a.documents.Save(ctx, candidatureID, seq, accepted)
	if err != nil {
		return domain.Document{}, "", err
	}
	return domain.Document{
		CandidatureID:    candidatureID,
		Category:         sanitizeCategory(up.Category),
		OriginalFilename: displayFilename(up.Filename),
		StoragePath:      key,
		ContentType:      accepted.MIME,
		SizeBytes:        accepted.Size,
		CreatedAt:        a.now(),
	}, key, nil
}

func (a *App) removeWritten(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	cleanupCtx := context.WithoutCancel(ctx)
	logger := util.LoggerFromContext(ctx)
	for _, key := range keys {
		if err := a.documents.Remove(cleanupCtx, key); err != nil {
			logger.Error("orphaned document not removed", "key", key, "err", err)
		}
	}
}

// validateSubmission runs the request-level checks that need no storage.
func (a *App) validateSubmission(req SubmitRequest) (submission, error) {
	fields := make(map[string]string, len(RequiredFields))
	for _, name := range RequiredFields {
		v := strings.TrimSpace(req.Fields[name])
		if v == "" {
			return submission{}, fieldError(name, ErrFieldMissing)
		}
		fields[name] = v
	}
	if len(req.Uploads) == 0 || strings.TrimSpace(req.Uploads[0].Filename) == "" {
		return submission{}, &ValidationError{Err: ErrNoDocuments}
	}
	if !isTruthy(req.Consent) {
		return submission{}, &ValidationError{Err: ErrConsentRequired}
	}

	email, err := normalizeEmail(fields[FieldEmail])
	if err != nil {
		return submission{}, &ValidationError{Err: ErrInvalidEmail}
	}
	logementID, err := positiveInt(fields[FieldUnitID])
	if err != nil {
		return submission{}, fieldError(FieldUnitID, ErrFieldInvalid)
	}
	occupants, err := positiveInt(fields[FieldOccupantCount])
	if err != nil {
		return submission{}, fieldError(FieldOccupantCount, ErrFieldInvalid)
	}

	return submission{
		logementID: logementID,
		candidature: domain.Candidature{
			LogementID:       logementID,
			LastName:         html.EscapeString(fields[FieldName]),
			FirstName:        html.EscapeString(fields[FieldFirstName]),
			Email:            email,
			Phone:            html.EscapeString(fields[FieldPhone]),
			EmploymentStatus: fields[FieldEmploymentStatus],
			TrialPeriod:      fields[FieldTrialPeriod],
			IncomeBracket:    fields[FieldIncomeBracket],
			IncomeType:       fields[FieldIncomeType],
			HousingSituation: fields[FieldHousingSituation],
			NoticeGiven:      fields[FieldNoticeGiven],
			OccupantCount:    int(occupants),
			GuaranteeScheme:  fields[FieldGuaranteeScheme],
		},
	}, nil
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "on", "true", "oui", "yes":
		return true
	default:
		return false
	}
}

// normalizeEmail accepts a bare addr-spec with a dotted domain.
func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", err
	}
	if addr.Address != raw || addr.Name != "" {
		return "", errors.New("display names are not accepted")
	}
	at := strings.LastIndex(raw, "@")
	domainPart := raw[at+1:]
	if !strings.Contains(domainPart, ".") || strings.HasPrefix(domainPart, ".") || strings.HasSuffix(domainPart, ".") {
		return "", errors.New("domain must be fully qualified")
	}
	return strings.ToLower(raw), nil
}

func positiveInt(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > 1<<31-1 {
		return 0, fmt.Errorf("out of range: %d", n)
	}
	return n, nil
}

// sanitizeCategory keeps a short lowercase label made of letters, digits, '_' and '-'.
func sanitizeCategory(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if b.Len() >= 50 {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return defaultCategory
	}
	return b.String()
}

// displayFilename trims the client name to a printable base name for display.
func displayFilename(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndexAny(raw, `/\`); i >= 0 {
		raw = raw[i+1:]
	}
	raw = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
	if len([]rune(raw)) > 255 {
		raw = string([]rune(raw)[:255])
	}
	return raw
}
