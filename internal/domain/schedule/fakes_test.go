package schedule

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/weekplan/internal/directory"
	"github.com/ehr/weekplan/internal/domain/plan"
	"github.com/ehr/weekplan/internal/domain/template"
	"github.com/ehr/weekplan/internal/ledger"
	"github.com/ehr/weekplan/internal/platform/auth"
	"github.com/ehr/weekplan/internal/platform/events"
)

// -- Mock Repository --

type mockRepo struct {
	mu     sync.Mutex
	scheds map[uuid.UUID]*Schedule
}

func newMockRepo() *mockRepo {
	return &mockRepo{scheds: map[uuid.UUID]*Schedule{}}
}

func withIDs(days []plan.Day) []plan.Day {
	out := plan.Clone(days, false)
	for i := range out {
		if out[i].ID == uuid.Nil {
			out[i].ID = uuid.New()
		}
		for j := range out[i].Intervals {
			if out[i].Intervals[j].ID == uuid.Nil {
				out[i].Intervals[j].ID = uuid.New()
			}
		}
		for j := range out[i].Blocks {
			if out[i].Blocks[j].ID == uuid.Nil {
				out[i].Blocks[j].ID = uuid.New()
			}
		}
	}
	return out
}

func keyEqual(a, b NaturalKey) bool {
	return a.Mode == b.Mode && sameDoctor(a.DoctorID, b.DoctorID) && a.WeekStartDate.Equal(b.WeekStartDate.Time)
}

func (m *mockRepo) Create(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.scheds {
		if other.Status != StatusArchived && keyEqual(other.Key(), s.Key()) {
			return ErrDuplicateKey
		}
	}
	s.ID = uuid.New()
	s.Version = 1
	if s.Status == "" {
		s.Status = StatusDraft
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	s.Days = withIDs(s.Days)
	m.scheds[s.ID] = s.Clone()
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scheds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *mockRepo) FindActive(_ context.Context, key NaturalKey) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scheds {
		if s.Status != StatusArchived && keyEqual(s.Key(), key) {
			return s.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) UpdateIfVersion(_ context.Context, id uuid.UUID, expected int, mutate func(*Schedule) error) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.scheds[id]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Version != expected {
		return nil, &VersionMismatchError{Expected: expected, Actual: stored.Version}
	}
	s := stored.Clone()
	if err := mutate(s); err != nil {
		return nil, err
	}
	s.Version = expected + 1
	s.UpdatedAt = time.Now()
	s.Days = withIDs(s.Days)
	m.scheds[id] = s.Clone()
	return s, nil
}

func (m *mockRepo) Search(_ context.Context, p SearchParams, limit, offset int) ([]*Schedule, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Schedule
	for _, s := range m.scheds {
		if p.Mode != nil && s.Owner.Mode() != *p.Mode {
			continue
		}
		if p.DoctorID != nil && !sameDoctor(s.Owner.DoctorID(), p.DoctorID) {
			continue
		}
		if p.WeekStartDate != nil && !s.WeekStartDate.Equal(p.WeekStartDate.Time) {
			continue
		}
		if p.Status != nil && s.Status != *p.Status {
			continue
		}
		cp := s.Clone()
		cp.Days = nil
		result = append(result, cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, len(result), nil
}

func (m *mockRepo) OverrideDoctors(_ context.Context, week plan.Date) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, s := range m.scheds {
		if s.Status != StatusArchived && s.Owner.Mode() == plan.ModeDoctorOverride && s.WeekStartDate.Equal(week.Time) {
			ids = append(ids, *s.Owner.DoctorID())
		}
	}
	return ids, nil
}

// -- Fake Ledger --

type fakeLedger struct {
	mu      sync.Mutex
	slots   map[ledger.Key]ledger.Slot
	err     error
	applies int
	// bookOnApply books these slot keys just before the next Apply runs.
	bookOnApply []ledger.Key
	// dropOnApply removes these entries just before the next Apply runs.
	dropOnApply []ledger.Key
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{slots: map[ledger.Key]ledger.Slot{}}
}

func normKey(k ledger.Key) ledger.Key {
	k.Date = plan.DateOf(k.Date.Time)
	return k
}

func (l *fakeLedger) book(k ledger.Key, sessionType plan.SessionType, capacity int) uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	appt := uuid.New()
	k = normKey(k)
	s := l.slots[k]
	s.Key = k
	if s.SessionType == "" {
		s.SessionType = sessionType
		s.Capacity = capacity
	}
	s.AppointmentID = &appt
	l.slots[k] = s
	return appt
}

func (l *fakeLedger) FindSlot(_ context.Context, k ledger.Key) (*ledger.Slot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[normKey(k)]
	if !ok {
		return nil, ledger.ErrSlotNotFound
	}
	return &s, nil
}

func (l *fakeLedger) ListSlots(_ context.Context, doctorID uuid.UUID, from, to plan.Date) ([]ledger.Slot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	var out []ledger.Slot
	for k, s := range l.slots {
		if k.DoctorID == doctorID && !k.Date.Before(from.Time) && !k.Date.After(to.Time) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotKey() < out[j].SlotKey() })
	return out, nil
}

func (l *fakeLedger) upsert(s ledger.Slot) error {
	s.Key = normKey(s.Key)
	if cur, ok := l.slots[s.Key]; ok && cur.HasBookedAppointment() {
		return ledger.ErrSlotBooked
	}
	l.slots[s.Key] = s
	return nil
}

func (l *fakeLedger) remove(k ledger.Key) error {
	k = normKey(k)
	cur, ok := l.slots[k]
	if !ok || (!cur.MachineGenerated() && !cur.HasBookedAppointment()) {
		return ledger.ErrSlotNotFound
	}
	if cur.HasBookedAppointment() {
		return ledger.ErrSlotBooked
	}
	delete(l.slots, k)
	return nil
}

func (l *fakeLedger) UpsertSlot(_ context.Context, s ledger.Slot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.upsert(s)
}

func (l *fakeLedger) DeleteSlot(_ context.Context, k ledger.Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.remove(k); !errors.Is(err, ledger.ErrSlotNotFound) {
		return err
	}
	return nil
}

func (l *fakeLedger) Apply(_ context.Context, writes []ledger.Write) ([]ledger.Key, error) {
	l.mu.Lock()
	pending := l.bookOnApply
	l.bookOnApply = nil
	for _, k := range l.dropOnApply {
		delete(l.slots, normKey(k))
	}
	l.dropOnApply = nil
	l.mu.Unlock()
	for _, k := range pending {
		l.book(k, plan.SessionOPD, 1)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.applies++
	var skipped []ledger.Key
	for _, w := range writes {
		var err error
		if w.Op == ledger.OpDelete {
			err = l.remove(w.Slot.Key)
		} else {
			err = l.upsert(w.Slot)
		}
		if errors.Is(err, ledger.ErrSlotBooked) || errors.Is(err, ledger.ErrSlotNotFound) {
			skipped = append(skipped, w.Slot.Key)
			continue
		}
		if err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// -- Fake Directory --

type fakeDirectory struct {
	doctors     []directory.Doctor
	departments []directory.Department
	holidays    []directory.Holiday
	err         error
}

func (d *fakeDirectory) ListDoctors(_ context.Context, departmentID *uuid.UUID) ([]directory.Doctor, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := []directory.Doctor{}
	for _, doc := range d.doctors {
		if departmentID == nil || (doc.DepartmentID != nil && *doc.DepartmentID == *departmentID) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (d *fakeDirectory) ListDepartments(context.Context) ([]directory.Department, error) {
	if d.err != nil {
		return nil, d.err
	}
	return append([]directory.Department{}, d.departments...), nil
}

func (d *fakeDirectory) GetDoctor(_ context.Context, id uuid.UUID) (*directory.Doctor, error) {
	if d.err != nil {
		return nil, d.err
	}
	for _, doc := range d.doctors {
		if doc.ID == id {
			cp := doc
			return &cp, nil
		}
	}
	return nil, directory.ErrDoctorNotFound
}

func (d *fakeDirectory) ListHolidays(_ context.Context, from, to plan.Date) ([]directory.Holiday, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := []directory.Holiday{}
	for _, h := range d.holidays {
		if !h.Date.Before(from.Time) && !h.Date.After(to.Time) {
			out = append(out, h)
		}
	}
	return out, nil
}

// -- Fake Templates --

type fakeTemplates struct {
	items map[uuid.UUID]*template.Template
}

func (f *fakeTemplates) Snapshot(_ context.Context, id uuid.UUID, _ *int) (*template.Template, error) {
	t, ok := f.items[id]
	if !ok {
		return nil, errTemplateNotFound
	}
	cp := *t
	cp.Days = plan.Clone(t.Days, false)
	return &cp, nil
}

func (f *fakeTemplates) Applicable(context.Context, *uuid.UUID, *uuid.UUID) ([]*template.Template, error) {
	out := []*template.Template{}
	for _, t := range f.items {
		out = append(out, t)
	}
	return out, nil
}

var errTemplateNotFound = errors.New("template not found")

// -- Recording publisher --

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// -- Harness --

type harness struct {
	svc       *Service
	repo      *mockRepo
	ledger    *fakeLedger
	dir       *fakeDirectory
	templates *fakeTemplates
	events    *recordingPublisher
}

var fixedNow = time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC)

func newHarness() *harness {
	h := &harness{
		repo:      newMockRepo(),
		ledger:    newFakeLedger(),
		dir:       &fakeDirectory{},
		templates: &fakeTemplates{items: map[uuid.UUID]*template.Template{}},
		events:    &recordingPublisher{},
	}
	h.svc = NewService(h.repo, h.templates, h.ledger, h.dir, h.dir, h.events, nil, zerolog.Nop(),
		Options{BatchSize: 3, Location: time.UTC})
	h.svc.now = func() time.Time { return fixedNow }
	return h
}

func userCtx() context.Context {
	return context.WithValue(context.Background(), auth.UserIDKey, "planner-1")
}

func mustDate(s string) plan.Date {
	d, err := plan.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func iv(start, end string, typ plan.SessionType, capacity int) plan.Interval {
	return plan.Interval{StartTime: plan.MustClock(start), EndTime: plan.MustClock(end), SessionType: typ, Capacity: capacity}
}

func blk(start, end, typ string) plan.Block {
	return plan.Block{StartTime: plan.MustClock(start), EndTime: plan.MustClock(end), BlockType: typ}
}

func day(dow plan.DayOfWeek, intervals []plan.Interval, blocks ...plan.Block) plan.Day {
	if blocks == nil {
		blocks = []plan.Block{}
	}
	return plan.Day{DayOfWeek: dow, Intervals: intervals, Blocks: blocks}
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }
