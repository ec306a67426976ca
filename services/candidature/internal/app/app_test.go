package app

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"gestloc/internal/csrf"
	"gestloc/internal/docstore"
	"gestloc/internal/intake"
	"gestloc/pkg/domain"
	"gestloc/pkg/mail"
	"gestloc/pkg/storage"
	"gestloc/pkg/store"
)

var (
	validPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
	validPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []mail.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingSender) sentTo(addr string) []mail.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []mail.Message
	for _, m := range r.msgs {
		if m.To == addr {
			out = append(out, m)
		}
	}
	return out
}

// fixture runs the app on in-memory storage with a settable clock.
type fixture struct {
	app      *App
	store    *store.MemoryStore
	files    *storage.FileStore
	tokens   *csrf.Store
	sender   *recordingSender
	logement domain.Logement
	session  string
	token    string
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemoryStore()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	persister, err := docstore.NewPersister(files)
	if err != nil {
		t.Fatalf("persister: %v", err)
	}
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tokens, err := csrf.NewStore(client, "test:csrf", time.Hour)
	if err != nil {
		t.Fatalf("csrf store: %v", err)
	}
	renderer, err := mail.NewRenderer("Agence Test", time.UTC)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	f := &fixture{
		store:   mem,
		files:   files,
		tokens:  tokens,
		sender:  &recordingSender{},
		session: "session-1",
		now:     time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}

	a, err := New(Config{
		Store:         mem,
		Objects:       files,
		Validator:     intake.NewValidator(intake.Options{}),
		Documents:     persister,
		FormTokens:    tokens,
		Renderer:      renderer,
		Mailer:        f.sender,
		AdminEmail:    "agence@example.com",
		PublicBaseURL: "https://agence.example/",
		LeaseTTL:      48 * time.Hour,
		Now:           func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	f.app = a
	f.logement, err = mem.CreateLogement(ctx, domain.Logement{Reference: "APT-12", Address: "12 rue des Lilas", Rent: 850, Status: domain.LogementDisponible})
	if err != nil {
		t.Fatalf("create logement: %v", err)
	}
	f.token, err = a.IssueFormToken(ctx, f.session)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return f
}

// submitOne stores a candidature with a single valid document.
func (f *fixture) submitOne(t *testing.T) domain.Candidature {
	t.Helper()
	res, err := f.app.Submit(context.Background(), f.request(upload("piece_identite", "identite.pdf", validPDF)))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	cand, _, _ := f.store.GetCandidature(context.Background(), res.CandidatureID)
	return cand
}

func (f *fixture) request(uploads ...Upload) SubmitRequest {
	return SubmitRequest{
		Fields: map[string]string{
			FieldName:             "Martin",
			FieldFirstName:        "Claire",
			FieldEmail:            "claire.martin@example.com",
			FieldPhone:            "0612345678",
			FieldUnitID:           strconv.FormatInt(f.logement.ID, 10),
			FieldEmploymentStatus: "cdi",
			FieldTrialPeriod:      "non",
			FieldIncomeBracket:    "2500-3000",
			FieldIncomeType:       "salaire",
			FieldHousingSituation: "locataire",
			FieldNoticeGiven:      "oui",
			FieldOccupantCount:    "2",
			FieldGuaranteeScheme:  "visale",
		},
		FormToken: f.token,
		SessionID: f.session,
		Consent:   "on",
		Uploads:   uploads,
		SourceIP:  "203.0.113.7",
	}
}

func upload(category, filename string, data []byte) Upload {
	return Upload{
		Category: category,
		Filename: filename,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func (f *fixture) storedFiles(t *testing.T) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(f.files.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk storage: %v", err)
	}
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without store")
	}
}
