package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"gestloc/pkg/domain"
)

// MemoryStore keeps everything in-process for tests; services always run on
// GormStore. Transactions work on a copy of the state that replaces the live
// state only when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
	// documentErr, when set, fails every document insert inside a transaction.
	documentErr error
}

type memoryState struct {
	logements    map[int64]domain.Logement
	candidatures map[int64]domain.Candidature
	documents    map[int64]domain.Document
	leases       map[int64]domain.LeaseLink
	audit        []domain.AuditEntry
	nextID       int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memoryState{
		logements:    make(map[int64]domain.Logement),
		candidatures: make(map[int64]domain.Candidature),
		documents:    make(map[int64]domain.Document),
		leases:       make(map[int64]domain.LeaseLink),
	}}
}

func (s memoryState) clone() memoryState {
	return memoryState{
		logements:    maps.Clone(s.logements),
		candidatures: maps.Clone(s.candidatures),
		documents:    maps.Clone(s.documents),
		leases:       maps.Clone(s.leases),
		audit:        slices.Clone(s.audit),
		nextID:       s.nextID,
	}
}

func (s *memoryState) newID() int64 {
	s.nextID++
	return s.nextID
}

// CreateLogement inserts a logement.
func (m *MemoryStore) CreateLogement(_ context.Context, l domain.Logement) (domain.Logement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = m.state.newID()
	m.state.logements[l.ID] = l
	return l, nil
}

// GetLogement retrieves a logement by ID.
func (m *MemoryStore) GetLogement(_ context.Context, id int64) (domain.Logement, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.state.logements[id]
	return l, ok, nil
}

// ListLogements returns logements sorted by reference.
func (m *MemoryStore) ListLogements(_ context.Context, status domain.LogementStatus) ([]domain.Logement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Logement, 0, len(m.state.logements))
	for _, l := range m.state.logements {
		if status != "" && l.Status != status {
			continue
		}
		res = append(res, l)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Reference < res[j].Reference })
	return res, nil
}

// SetLogementStatus updates a logement's availability.
func (m *MemoryStore) SetLogementStatus(_ context.Context, id int64, status domain.LogementStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.state.logements[id]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	l.UpdatedAt = time.Now().UTC()
	m.state.logements[id] = l
	return nil
}

// GetCandidature retrieves a candidature by ID.
func (m *MemoryStore) GetCandidature(_ context.Context, id int64) (domain.Candidature, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.candidatures[id]
	return c, ok, nil
}

// GetCandidatureByToken looks a candidature up by response token.
func (m *MemoryStore) GetCandidatureByToken(_ context.Context, token string) (domain.Candidature, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" {
		return domain.Candidature{}, false, nil
	}
	for _, c := range m.state.candidatures {
		if c.ResponseToken == token {
			return c, true, nil
		}
	}
	return domain.Candidature{}, false, nil
}

// ListCandidatures returns candidatures newest first.
func (m *MemoryStore) ListCandidatures(_ context.Context, f CandidatureFilter) ([]domain.Candidature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Candidature, 0, len(m.state.candidatures))
	for _, c := range m.state.candidatures {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.LogementID > 0 && c.LogementID != f.LogementID {
			continue
		}
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].SubmittedAt.Equal(res[j].SubmittedAt) {
			return res[i].ID > res[j].ID
		}
		return res[i].SubmittedAt.After(res[j].SubmittedAt)
	})
	offset := min(max(f.Offset, 0), len(res))
	res = res[offset:]
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// ListDocuments returns the documents of a candidature in insertion order.
func (m *MemoryStore) ListDocuments(_ context.Context, candidatureID int64) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Document, 0)
	for _, d := range m.state.documents {
		if d.CandidatureID == candidatureID {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// UpdateCandidatureStatus applies a guarded status change.
func (m *MemoryStore) UpdateCandidatureStatus(_ context.Context, id int64, change StatusChange) (domain.Candidature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.candidatures[id]
	if !ok {
		return domain.Candidature{}, ErrNotFound
	}
	if !slices.Contains(change.From, c.Status) {
		return c, ErrStatusConflict
	}
	c.Status = change.To
	if change.RespondedAt != nil {
		c.RespondedAt = change.RespondedAt
	}
	if change.VisitAt != nil {
		c.VisitAt = change.VisitAt
	}
	m.state.candidatures[id] = c
	return c, nil
}

// CreateLeaseLink inserts a lease link.
func (m *MemoryStore) CreateLeaseLink(_ context.Context, l domain.LeaseLink) (domain.LeaseLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = m.state.newID()
	m.state.leases[l.ID] = l
	return l, nil
}

// GetLeaseLinkByToken looks a lease link up by token.
func (m *MemoryStore) GetLeaseLinkByToken(_ context.Context, token string) (domain.LeaseLink, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.state.leases {
		if l.Token == token {
			return l, true, nil
		}
	}
	return domain.LeaseLink{}, false, nil
}

// ListLeaseLinks returns lease links newest first.
func (m *MemoryStore) ListLeaseLinks(_ context.Context) ([]domain.LeaseLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := slices.Collect(maps.Values(m.state.leases))
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

// SignLeaseLink marks a pending, unexpired link signed and the logement rented.
// An expired pending link is stored as expired.
func (m *MemoryStore) SignLeaseLink(_ context.Context, token, signerIP string, at time.Time) (domain.LeaseLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, l := range m.state.leases {
		if l.Token != token {
			continue
		}
		switch l.EffectiveStatus(at) {
		case domain.LeasePending:
		case domain.LeaseExpired:
			l.Status = domain.LeaseExpired
			m.state.leases[id] = l
			return l, ErrStatusConflict
		default:
			return l, ErrStatusConflict
		}
		l.Status = domain.LeaseSigned
		l.SignedAt = &at
		l.SignerIP = signerIP
		m.state.leases[id] = l
		if logement, ok := m.state.logements[l.LogementID]; ok {
			logement.Status = domain.LogementLoue
			logement.UpdatedAt = at
			m.state.logements[l.LogementID] = logement
		}
		return l, nil
	}
	return domain.LeaseLink{}, ErrNotFound
}

// AppendAudit records an audit entry.
func (m *MemoryStore) AppendAudit(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.state.audit) + 1)
	m.state.audit = append(m.state.audit, e)
	return nil
}

// AuditEntries returns a copy of the audit trail.
func (m *MemoryStore) AuditEntries() []domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.state.audit)
}

// CandidatureCount returns the number of committed candidatures.
func (m *MemoryStore) CandidatureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.candidatures)
}

// DocumentCount returns the number of committed documents.
func (m *MemoryStore) DocumentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.documents)
}

// InTx serializes transactions and commits the working copy only on success.
func (m *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(&memoryTx{state: &work, documentErr: m.documentErr}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work
	return nil
}

// FailDocumentInserts makes later CreateDocument calls return err. A nil err
// restores normal behaviour.
func (m *MemoryStore) FailDocumentInserts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documentErr = err
}

type memoryTx struct {
	state       *memoryState
	documentErr error
}

func (t *memoryTx) LockLogement(_ context.Context, id int64) (domain.Logement, bool, error) {
	l, ok := t.state.logements[id]
	return l, ok, nil
}

func (t *memoryTx) CreateCandidature(_ context.Context, c domain.Candidature) (domain.Candidature, error) {
	c.ID = t.state.newID()
	t.state.candidatures[c.ID] = c
	return c, nil
}

func (t *memoryTx) CreateDocument(_ context.Context, d domain.Document) (domain.Document, error) {
	if t.documentErr != nil {
		return domain.Document{}, t.documentErr
	}
	if _, ok := t.state.candidatures[d.CandidatureID]; !ok {
		return domain.Document{}, ErrNotFound
	}
	d.ID = t.state.newID()
	t.state.documents[d.ID] = d
	return d, nil
}
