package usecases

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"support_flow/internal/entities"
	"support_flow/internal/repository"
)

type fakeTicketStore struct {
	mu      sync.Mutex
	tickets map[int64]*entities.Ticket
	nextID  int64

	existing   map[string]bool
	duplicates int
	notes      []entities.TicketNote
	createErr  error
}

func newFakeTicketStore() *fakeTicketStore {
	return &fakeTicketStore{tickets: map[int64]*entities.Ticket{}, existing: map[string]bool{}}
}

func (f *fakeTicketStore) NumberExists(_ context.Context, number string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[number], nil
}

func (f *fakeTicketStore) Create(_ context.Context, t *entities.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.duplicates > 0 {
		f.duplicates--
		return repository.ErrDuplicate
	}
	f.nextID++
	t.ID = f.nextID
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	stored := *t
	f.tickets[t.ID] = &stored
	f.existing[t.TicketNumber] = true
	return nil
}

func (f *fakeTicketStore) GetByID(_ context.Context, id int64) (*entities.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (f *fakeTicketStore) GetByNumber(_ context.Context, number string) (*entities.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tickets {
		if t.TicketNumber == number {
			out := *t
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTicketStore) List(_ context.Context, filter repository.TicketFilter) ([]entities.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Ticket
	for _, t := range f.tickets {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.CustomerID != 0 && t.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTicketStore) Update(_ context.Context, t *entities.Ticket, note *entities.TicketNote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tickets[t.ID]; !ok {
		return repository.ErrNotFound
	}
	if note != nil {
		note.TicketID = t.ID
		f.notes = append(f.notes, *note)
		t.Notes = append(t.Notes, *note)
	}
	stored := *t
	f.tickets[t.ID] = &stored
	return nil
}

type fakeMessages struct {
	mu       sync.Mutex
	messages []entities.Message
	nextID   int64
	err      error
}

func (f *fakeMessages) Create(_ context.Context, m *entities.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.nextID++
	m.ID = f.nextID
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeMessages) Recent(_ context.Context, conversationID int64, limit int) ([]entities.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessages) byDirection(d entities.Direction) []entities.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Message
	for _, m := range f.messages {
		if m.Direction == d {
			out = append(out, m)
		}
	}
	return out
}

type slotKey struct {
	date string
	slot entities.Slot
}

type fakeAppointmentStore struct {
	mu           sync.Mutex
	appointments map[int64]*entities.Appointment
	nextID       int64
}

func newFakeAppointmentStore() *fakeAppointmentStore {
	return &fakeAppointmentStore{appointments: map[int64]*entities.Appointment{}}
}

func (f *fakeAppointmentStore) countLocked(date time.Time, slot entities.Slot, excludeID int64) int {
	n := 0
	for _, a := range f.appointments {
		if a.ID == excludeID || a.Status == entities.AppointmentCancelled {
			continue
		}
		if a.DateString() == date.Format(entities.DateLayout) && a.Slot == slot {
			n++
		}
	}
	return n
}

func (f *fakeAppointmentStore) CountActive(_ context.Context, date time.Time, slot entities.Slot, excludeID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countLocked(date, slot, excludeID), nil
}

func (f *fakeAppointmentStore) Book(_ context.Context, a *entities.Appointment, capacity int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countLocked(a.Date, a.Slot, 0) >= capacity {
		return false, nil
	}
	f.nextID++
	a.ID = f.nextID
	stored := *a
	f.appointments[a.ID] = &stored
	return true, nil
}

func (f *fakeAppointmentStore) Update(_ context.Context, a *entities.Appointment, capacity int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.appointments[a.ID]; !ok {
		return false, repository.ErrNotFound
	}
	if capacity > 0 && f.countLocked(a.Date, a.Slot, a.ID) >= capacity {
		return false, nil
	}
	stored := *a
	f.appointments[a.ID] = &stored
	return true, nil
}

func (f *fakeAppointmentStore) SetStatus(_ context.Context, id int64, status entities.AppointmentStatus) (*entities.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a.Status = status
	out := *a
	return &out, nil
}

func (f *fakeAppointmentStore) GetByID(_ context.Context, id int64) (*entities.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (f *fakeAppointmentStore) List(_ context.Context, filter repository.AppointmentFilter) ([]entities.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Appointment
	for _, a := range f.appointments {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAppointmentStore) Occupancy(_ context.Context, from, to time.Time) (map[string]map[entities.Slot]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]map[entities.Slot]int{}
	for _, a := range f.appointments {
		if a.Status == entities.AppointmentCancelled || a.Date.Before(from) || a.Date.After(to) {
			continue
		}
		key := a.DateString()
		if out[key] == nil {
			out[key] = map[entities.Slot]int{}
		}
		out[key][a.Slot]++
	}
	return out, nil
}

type fakeCustomers struct {
	mu        sync.Mutex
	customers map[string]*entities.Customer
	nextID    int64
}

func newFakeCustomers() *fakeCustomers {
	return &fakeCustomers{customers: map[string]*entities.Customer{}}
}

func (f *fakeCustomers) GetByPhone(_ context.Context, phone string) (*entities.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[phone]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (f *fakeCustomers) Create(_ context.Context, c *entities.Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.customers[c.PhoneNumber]; ok {
		return repository.ErrDuplicate
	}
	f.nextID++
	c.ID = f.nextID
	stored := *c
	f.customers[c.PhoneNumber] = &stored
	return nil
}

func (f *fakeCustomers) Touch(context.Context, int64, time.Time) error { return nil }

type fakeConversations struct {
	mu            sync.Mutex
	conversations map[int64]*entities.Conversation
	nextID        int64

	// casFailures makes the next n CompareAndSetState calls lose the race.
	casFailures int
	casCalls    int
	closed      []int64
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{conversations: map[int64]*entities.Conversation{}}
}

func (f *fakeConversations) GetByID(_ context.Context, id int64) (*entities.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (f *fakeConversations) GetActiveByCustomer(_ context.Context, customerID int64) (*entities.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations {
		if c.CustomerID == customerID && c.Status == entities.ConversationActive {
			out := *c
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeConversations) Create(_ context.Context, c *entities.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	c.Status = entities.ConversationActive
	c.LastActivity = c.StartedAt
	stored := *c
	f.conversations[c.ID] = &stored
	return nil
}

func (f *fakeConversations) CompareAndSetState(_ context.Context, id, expectedVersion int64, next entities.FlowState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.casCalls++
	c, ok := f.conversations[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if f.casFailures > 0 {
		f.casFailures--
		c.StateVersion++
		return false, nil
	}
	if c.StateVersion != expectedVersion {
		return false, nil
	}
	c.FlowState = next
	c.StateVersion++
	return true, nil
}

func (f *fakeConversations) Touch(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conversations[id]; ok && at.After(c.LastActivity) {
		c.LastActivity = at
	}
	return nil
}

func (f *fakeConversations) Close(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[id]
	if !ok || c.Status != entities.ConversationActive {
		return nil
	}
	c.Status = entities.ConversationClosed
	c.EndedAt = &at
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeConversations) state(id int64) entities.FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversations[id].FlowState
}

type fakeClassifier struct {
	analysis entities.Analysis
	err      error
	calls    int
	history  []entities.Message
}

func (f *fakeClassifier) Analyze(_ context.Context, _ string, history []entities.Message, _ *entities.Customer) (entities.Analysis, error) {
	f.calls++
	f.history = history
	return f.analysis, f.err
}

type sentMessage struct {
	to      string
	content string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeMessenger) SendMessage(_ context.Context, to, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, content: content})
	return f.err
}

type publishedEvent struct {
	key   string
	event any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, key string, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{key: key, event: event})
	return f.err
}

type fakeLimiter struct {
	allow bool
}

func (f fakeLimiter) Allow(string) bool { return f.allow }

type fakeUserStore struct {
	users  map[string]*entities.User
	nextID int
	err    error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]*entities.User{}}
}

func (f *fakeUserStore) Create(_ context.Context, u *entities.User) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.users[u.Username]; ok {
		return errors.Join(repository.ErrDuplicate, errors.New("unique violation"))
	}
	f.nextID++
	u.ID = f.nextID
	u.IsActive = true
	stored := *u
	f.users[u.Username] = &stored
	return nil
}

func (f *fakeUserStore) GetByUsername(_ context.Context, username string) (*entities.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (f *fakeUserStore) List(context.Context) ([]entities.User, error) {
	var out []entities.User
	for _, u := range f.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
