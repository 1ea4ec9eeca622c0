package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
)

// memState is the committed content of the fake database.
type memState struct {
	sessions    map[string]models.Session
	enrollments map[string]models.Enrollment
	waitlist    map[string]models.WaitlistEntry
}

func (s memState) clone() memState {
	out := memState{
		sessions:    make(map[string]models.Session, len(s.sessions)),
		enrollments: make(map[string]models.Enrollment, len(s.enrollments)),
		waitlist:    make(map[string]models.WaitlistEntry, len(s.waitlist)),
	}
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	for k, v := range s.enrollments {
		out.enrollments[k] = v
	}
	for k, v := range s.waitlist {
		out.waitlist[k] = v
	}
	return out
}

// memoryEngine is a serializable in-memory unit of work. Each Do works on a
// private copy that replaces the committed state only when fn succeeds.
type memoryEngine struct {
	mu     sync.Mutex
	state  memState
	faults map[string]error
}

func newMemoryEngine() *memoryEngine {
	return &memoryEngine{
		state:  memState{sessions: map[string]models.Session{}, enrollments: map[string]models.Enrollment{}, waitlist: map[string]models.WaitlistEntry{}},
		faults: map[string]error{},
	}
}

func (m *memoryEngine) Do(_ context.Context, fn func(tx engineTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{state: m.state.clone(), savepoints: map[string]memState{}, faults: m.faults}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *memoryEngine) addSession(s models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.sessions[s.ID] = s
}

func (m *memoryEngine) addEnrollment(e models.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.enrollments[e.ID] = e
}

func (m *memoryEngine) addWaitlist(w models.WaitlistEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.waitlist[w.ID] = w
}

func (m *memoryEngine) session(id string) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.sessions[id]
}

func (m *memoryEngine) enrollment(id string) models.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.enrollments[id]
}

func (m *memoryEngine) enrollmentsOf(studentID string) []models.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Enrollment
	for _, e := range m.state.enrollments {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memoryEngine) waitlistOf(sessionID, studentID string) []models.WaitlistEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WaitlistEntry
	for _, w := range m.state.waitlist {
		if w.SessionID == sessionID && w.StudentID == studentID {
			out = append(out, w)
		}
	}
	return out
}

func (m *memoryEngine) seatHolders(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.state.enrollments {
		if e.SessionID == sessionID && e.HoldsSeat() {
			n++
		}
	}
	return n
}

type memTx struct {
	state      memState
	savepoints map[string]memState
	faults     map[string]error
}

func (t *memTx) fault(op string) error {
	return t.faults[op]
}

func (t *memTx) Ledger() ledgerStore          { return memLedger{t} }
func (t *memTx) Sessions() sessionStore       { return memSessions{t} }
func (t *memTx) Enrollments() enrollmentStore { return memEnrollments{t} }
func (t *memTx) Waitlist() waitlistStore      { return memWaitlist{t} }

func (t *memTx) Savepoint(_ context.Context, name string) error {
	t.savepoints[name] = t.state.clone()
	return nil
}

func (t *memTx) RollbackToSavepoint(_ context.Context, name string) error {
	snap, ok := t.savepoints[name]
	if !ok {
		return sql.ErrTxDone
	}
	t.state = snap.clone()
	return nil
}

func (t *memTx) ReleaseSavepoint(_ context.Context, name string) error {
	delete(t.savepoints, name)
	return nil
}

type memLedger struct{ tx *memTx }

func (l memLedger) TryReserve(_ context.Context, sessionID string, now time.Time) (bool, error) {
	if err := l.tx.fault("TryReserve"); err != nil {
		return false, err
	}
	s, ok := l.tx.state.sessions[sessionID]
	if !ok {
		return false, appErrors.ErrInvalidSession
	}
	if !s.Enrollable(now) {
		return false, appErrors.ErrSessionNotEnrollable
	}
	if s.EnrolledCount >= s.Capacity {
		return false, nil
	}
	s.EnrolledCount++
	s.UpdatedAt = now
	l.tx.state.sessions[sessionID] = s
	return true, nil
}

func (l memLedger) Release(_ context.Context, sessionID string, now time.Time) error {
	s, ok := l.tx.state.sessions[sessionID]
	if !ok {
		return nil
	}
	if s.EnrolledCount > 0 {
		s.EnrolledCount--
	}
	s.UpdatedAt = now
	l.tx.state.sessions[sessionID] = s
	return nil
}

func (l memLedger) IsFull(_ context.Context, sessionID string) (bool, error) {
	s, ok := l.tx.state.sessions[sessionID]
	if !ok {
		return false, appErrors.ErrInvalidSession
	}
	return s.IsFull(), nil
}

type memSessions struct{ tx *memTx }

func (r memSessions) FindByID(_ context.Context, id string) (*models.Session, error) {
	s, ok := r.tx.state.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (r memSessions) LockByID(ctx context.Context, id string) (*models.Session, error) {
	if err := r.tx.fault("LockSession"); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

func (r memSessions) UpdateStatus(_ context.Context, id string, status models.SessionStatus, at time.Time) error {
	s, ok := r.tx.state.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Status = status
	s.UpdatedAt = at
	r.tx.state.sessions[id] = s
	return nil
}

func (r memSessions) Delete(_ context.Context, id string) error {
	delete(r.tx.state.sessions, id)
	return nil
}

func (r memSessions) NextWaitlistPosition(_ context.Context, id string) (int64, error) {
	s, ok := r.tx.state.sessions[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	s.WaitlistSeq++
	r.tx.state.sessions[id] = s
	return s.WaitlistSeq, nil
}

type memEnrollments struct{ tx *memTx }

func (r memEnrollments) LockByID(_ context.Context, id string) (*models.Enrollment, error) {
	e, ok := r.tx.state.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (r memEnrollments) FindActiveByStudentClass(_ context.Context, studentID, classID string) (*models.Enrollment, error) {
	for _, e := range r.tx.state.enrollments {
		if e.StudentID == studentID && e.ClassID == classID && e.HoldsSeat() {
			return &e, nil
		}
	}
	return nil, sql.ErrNoRows
}

// holdsIndex emulates the partial unique index on active pending/approved records.
func (r memEnrollments) holdsIndex(candidate models.Enrollment) bool {
	if !candidate.HoldsSeat() {
		return false
	}
	for id, e := range r.tx.state.enrollments {
		if id != candidate.ID && e.StudentID == candidate.StudentID && e.ClassID == candidate.ClassID && e.HoldsSeat() {
			return true
		}
	}
	return false
}

func (r memEnrollments) Create(_ context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if r.holdsIndex(*enrollment) {
		return appErrors.Wrap(sql.ErrTxDone, appErrors.ErrAlreadyEnrolled.Code, appErrors.ErrAlreadyEnrolled.Status, appErrors.ErrAlreadyEnrolled.Message)
	}
	r.tx.state.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (r memEnrollments) update(id string, fn func(e *models.Enrollment)) error {
	e, ok := r.tx.state.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	fn(&e)
	r.tx.state.enrollments[id] = e
	return nil
}

func (r memEnrollments) ApplyReview(_ context.Context, id string, review models.EnrollmentReview) error {
	return r.update(id, func(e *models.Enrollment) {
		at := review.At
		e.Status = review.Status
		if review.Status == models.EnrollmentStatusApproved {
			e.ApprovedAt = &at
		} else {
			e.RejectedAt = &at
		}
		admin := review.AdminID
		e.AdminID = &admin
		if review.Notes != nil {
			e.AdminNotes = review.Notes
		}
		e.UpdatedAt = at
	})
}

func (r memEnrollments) Cancel(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(e *models.Enrollment) {
		e.Status = models.EnrollmentStatusRejected
		e.RejectedAt = &at
		e.CancelledAt = &at
		e.UpdatedAt = at
	})
}

func (r memEnrollments) ResetToPending(_ context.Context, id, adminID string, notes *string, at time.Time) error {
	e, ok := r.tx.state.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.Status = models.EnrollmentStatusPending
	if r.holdsIndex(e) {
		return appErrors.Wrap(sql.ErrTxDone, appErrors.ErrAlreadyEnrolled.Code, appErrors.ErrAlreadyEnrolled.Status, appErrors.ErrAlreadyEnrolled.Message)
	}
	e.ApprovedAt, e.RejectedAt, e.CancelledAt = nil, nil, nil
	e.AdminID = &adminID
	if notes != nil {
		e.AdminNotes = notes
	}
	e.UpdatedAt = at
	r.tx.state.enrollments[id] = e
	return nil
}

func (r memEnrollments) UpdatePayment(_ context.Context, id string, status models.PaymentStatus, at time.Time) error {
	return r.update(id, func(e *models.Enrollment) {
		e.PaymentStatus = status
		e.UpdatedAt = at
	})
}

func (r memEnrollments) ArchiveBySession(_ context.Context, sessionID, pendingNote string, at time.Time) ([]models.Enrollment, error) {
	var archived []models.Enrollment
	for id, e := range r.tx.state.enrollments {
		if e.SessionID != sessionID || e.Type != models.EnrollmentTypeActive {
			continue
		}
		if e.Status == models.EnrollmentStatusPending {
			note := pendingNote
			e.Status = models.EnrollmentStatusRejected
			e.RejectedAt = &at
			e.AdminNotes = &note
		}
		e.Type = models.EnrollmentTypeHistorical
		e.ArchivedAt = &at
		e.UpdatedAt = at
		r.tx.state.enrollments[id] = e
		archived = append(archived, e)
	}
	return archived, nil
}

func (r memEnrollments) RejectSeatHolders(_ context.Context, sessionID, note string, at time.Time) ([]models.Enrollment, error) {
	var rejected []models.Enrollment
	for id, e := range r.tx.state.enrollments {
		if e.SessionID != sessionID || !e.HoldsSeat() {
			continue
		}
		n := note
		e.Status = models.EnrollmentStatusRejected
		e.RejectedAt = &at
		e.AdminNotes = &n
		e.UpdatedAt = at
		r.tx.state.enrollments[id] = e
		rejected = append(rejected, e)
	}
	return rejected, nil
}

func (r memEnrollments) ListSeatHolders(_ context.Context, sessionID string) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, e := range r.tx.state.enrollments {
		if e.SessionID == sessionID && e.HoldsSeat() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memEnrollments) ListByStudent(_ context.Context, studentID string) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, e := range r.tx.state.enrollments {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.After(out[j].EnrolledAt) })
	return out, nil
}

func (r memEnrollments) ListSessionsToArchive(_ context.Context, limit int) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, e := range r.tx.state.enrollments {
		s, ok := r.tx.state.sessions[e.SessionID]
		if !ok || s.Status != models.SessionStatusCompleted || e.Type != models.EnrollmentTypeActive || seen[e.SessionID] {
			continue
		}
		seen[e.SessionID] = true
		out = append(out, e.SessionID)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r memEnrollments) List(_ context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var matched []models.Enrollment
	for _, e := range r.tx.state.enrollments {
		if filter.ClassID != "" && e.ClassID != filter.ClassID {
			continue
		}
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	start := (filter.Page - 1) * filter.PageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

type memWaitlist struct{ tx *memTx }

func (r memWaitlist) FindActive(_ context.Context, sessionID, studentID string) (*models.WaitlistEntry, error) {
	for _, w := range r.tx.state.waitlist {
		if w.SessionID == sessionID && w.StudentID == studentID && w.Active() {
			return &w, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memWaitlist) FindLatest(_ context.Context, sessionID, studentID string) (*models.WaitlistEntry, error) {
	var latest *models.WaitlistEntry
	for _, w := range r.tx.state.waitlist {
		if w.SessionID != sessionID || w.StudentID != studentID {
			continue
		}
		if latest == nil || w.Position > latest.Position {
			entry := w
			latest = &entry
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	return latest, nil
}

func (r memWaitlist) Create(ctx context.Context, entry *models.WaitlistEntry) error {
	if _, err := r.FindActive(ctx, entry.SessionID, entry.StudentID); err == nil {
		return appErrors.Wrap(sql.ErrTxDone, appErrors.ErrAlreadyWaitlisted.Code, appErrors.ErrAlreadyWaitlisted.Status, appErrors.ErrAlreadyWaitlisted.Message)
	}
	r.tx.state.waitlist[entry.ID] = *entry
	return nil
}

func (r memWaitlist) NextWaiting(_ context.Context, sessionID string) (*models.WaitlistEntry, error) {
	if err := r.tx.fault("NextWaiting"); err != nil {
		return nil, err
	}
	var head *models.WaitlistEntry
	for _, w := range r.tx.state.waitlist {
		if w.SessionID != sessionID || w.Status != models.WaitlistStatusWaiting {
			continue
		}
		if head == nil || w.Position < head.Position {
			entry := w
			head = &entry
		}
	}
	if head == nil {
		return nil, sql.ErrNoRows
	}
	return head, nil
}

func (r memWaitlist) UpdateStatus(_ context.Context, id string, status models.WaitlistStatus, at time.Time) error {
	w, ok := r.tx.state.waitlist[id]
	if !ok {
		return sql.ErrNoRows
	}
	w.Status = status
	w.UpdatedAt = at
	if status == models.WaitlistStatusOffered {
		w.OfferedAt = &at
	}
	r.tx.state.waitlist[id] = w
	return nil
}

func (r memWaitlist) DeleteActive(_ context.Context, sessionID, studentID string) (bool, error) {
	deleted := false
	for id, w := range r.tx.state.waitlist {
		if w.SessionID == sessionID && w.StudentID == studentID && w.Active() {
			delete(r.tx.state.waitlist, id)
			deleted = true
		}
	}
	return deleted, nil
}

func (r memWaitlist) WithdrawBySession(_ context.Context, sessionID string, at time.Time) ([]models.WaitlistEntry, error) {
	var out []models.WaitlistEntry
	for id, w := range r.tx.state.waitlist {
		if w.SessionID == sessionID && w.Active() {
			w.Status = models.WaitlistStatusWithdrawn
			w.UpdatedAt = at
			r.tx.state.waitlist[id] = w
			out = append(out, w)
		}
	}
	return out, nil
}

func (r memWaitlist) ExpireOffersBefore(_ context.Context, cutoff, at time.Time, limit int) ([]models.WaitlistEntry, error) {
	var out []models.WaitlistEntry
	for id, w := range r.tx.state.waitlist {
		if len(out) == limit {
			break
		}
		if w.Status == models.WaitlistStatusOffered && w.OfferedAt != nil && w.OfferedAt.Before(cutoff) {
			w.Status = models.WaitlistStatusExpired
			w.UpdatedAt = at
			r.tx.state.waitlist[id] = w
			out = append(out, w)
		}
	}
	return out, nil
}

func (r memWaitlist) CountWaiting(_ context.Context, sessionID string) (int, error) {
	n := 0
	for _, w := range r.tx.state.waitlist {
		if w.SessionID == sessionID && w.Status == models.WaitlistStatusWaiting {
			n++
		}
	}
	return n, nil
}

func (r memWaitlist) ListActiveByStudent(_ context.Context, studentID string) ([]models.WaitlistEntry, error) {
	var out []models.WaitlistEntry
	for _, w := range r.tx.state.waitlist {
		if w.StudentID == studentID && w.Active() {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r memWaitlist) ListPromotableSessions(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var out []string
	for id, s := range r.tx.state.sessions {
		if !s.Enrollable(now) || s.IsFull() {
			continue
		}
		if n, _ := r.CountWaiting(ctx, id); n > 0 {
			out = append(out, id)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...models.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}
