package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campusline/intake/internal/models"
)

// MemoryStore is a Repository kept in process memory. It is used when no
// DATABASE_URL is configured and by tests. A single mutex serializes every
// call, so check-and-update operations are atomic; InTx holds the mutex for
// the whole callback and restores a snapshot when the callback fails.
type MemoryStore struct {
	mu    *sync.Mutex
	state *memState
	inTx  bool
}

type memState struct {
	organizations map[string]models.Organization
	chats         map[string]models.Chat
	sessions      map[string]models.ChatSession
	messages      []models.Message
	slots         map[string]models.AvailabilitySlot
	appointments  map[string]models.Appointment
	contacts      map[string]models.Contact
	leads         map[string]models.Lead
	directory     []models.DirectoryContact
	capabilities  map[string]models.BotCapability
	finance       []models.FinanceItem
	complaints    []models.Complaint
}

var _ Repository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		state: &memState{
			organizations: map[string]models.Organization{},
			chats:         map[string]models.Chat{},
			sessions:      map[string]models.ChatSession{},
			slots:         map[string]models.AvailabilitySlot{},
			appointments:  map[string]models.Appointment{},
			contacts:      map[string]models.Contact{},
			leads:         map[string]models.Lead{},
			capabilities:  map[string]models.BotCapability{},
		},
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		organizations: make(map[string]models.Organization, len(st.organizations)),
		chats:         make(map[string]models.Chat, len(st.chats)),
		sessions:      make(map[string]models.ChatSession, len(st.sessions)),
		messages:      append([]models.Message(nil), st.messages...),
		slots:         make(map[string]models.AvailabilitySlot, len(st.slots)),
		appointments:  make(map[string]models.Appointment, len(st.appointments)),
		contacts:      make(map[string]models.Contact, len(st.contacts)),
		leads:         make(map[string]models.Lead, len(st.leads)),
		directory:     append([]models.DirectoryContact(nil), st.directory...),
		capabilities:  make(map[string]models.BotCapability, len(st.capabilities)),
		finance:       append([]models.FinanceItem(nil), st.finance...),
		complaints:    append([]models.Complaint(nil), st.complaints...),
	}
	for k, v := range st.organizations {
		c.organizations[k] = v
	}
	for k, v := range st.chats {
		c.chats[k] = v
	}
	for k, v := range st.sessions {
		c.sessions[k] = v
	}
	for k, v := range st.slots {
		c.slots[k] = v
	}
	for k, v := range st.appointments {
		c.appointments[k] = v
	}
	for k, v := range st.contacts {
		c.contacts[k] = v
	}
	for k, v := range st.leads {
		c.leads[k] = v
	}
	for k, v := range st.capabilities {
		c.capabilities[k] = v
	}
	return c
}

func (m *MemoryStore) do(fn func(st *memState) error) error {
	if !m.inTx {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	return fn(m.state)
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(r Repository) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&MemoryStore{mu: m.mu, state: m.state, inTx: true}); err != nil {
		*m.state = *snapshot
		return err
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func now() time.Time {
	return time.Now().UTC()
}

func newID() string {
	return uuid.NewString()
}

// ─── Seeding ─────────────────────────────────────────────────────────────────

func (m *MemoryStore) PutOrganization(o models.Organization) models.Organization {
	if o.ID == "" {
		o.ID = newID()
	}
	_ = m.do(func(st *memState) error {
		st.organizations[o.ID] = o
		return nil
	})
	return o
}

func (m *MemoryStore) PutChat(c models.Chat) models.Chat {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
		c.UpdatedAt = c.CreatedAt
	}
	_ = m.do(func(st *memState) error {
		st.chats[c.ID] = c
		return nil
	})
	return c
}

func (m *MemoryStore) PutSession(s models.ChatSession) models.ChatSession {
	if s.ID == "" {
		s.ID = newID()
	}
	_ = m.do(func(st *memState) error {
		st.sessions[s.ID] = s
		return nil
	})
	return s
}

func (m *MemoryStore) PutSlot(s models.AvailabilitySlot) models.AvailabilitySlot {
	if s.ID == "" {
		s.ID = newID()
	}
	_ = m.do(func(st *memState) error {
		st.slots[s.ID] = s
		return nil
	})
	return s
}

func (m *MemoryStore) PutAppointment(a models.Appointment) models.Appointment {
	if a.ID == "" {
		a.ID = newID()
	}
	_ = m.do(func(st *memState) error {
		st.appointments[a.ID] = a
		return nil
	})
	return a
}

func (m *MemoryStore) PutDirectoryContact(d models.DirectoryContact) models.DirectoryContact {
	if d.ID == "" {
		d.ID = newID()
	}
	_ = m.do(func(st *memState) error {
		st.directory = append(st.directory, d)
		return nil
	})
	return d
}

func (m *MemoryStore) PutCapability(c models.BotCapability, items ...models.FinanceItem) models.BotCapability {
	if c.ID == "" {
		c.ID = newID()
	}
	_ = m.do(func(st *memState) error {
		st.capabilities[c.ID] = c
		for _, it := range items {
			if it.ID == "" {
				it.ID = newID()
			}
			it.CapabilityID = c.ID
			st.finance = append(st.finance, it)
		}
		return nil
	})
	return c
}

// Leads returns every lead of the organization.
func (m *MemoryStore) Leads(orgID string) []models.Lead {
	var out []models.Lead
	_ = m.do(func(st *memState) error {
		for _, l := range st.leads {
			if l.OrganizationID == orgID {
				out = append(out, l)
			}
		}
		return nil
	})
	return out
}

// Messages returns the chat's messages in insertion order.
func (m *MemoryStore) Messages(chatID string) []models.Message {
	var out []models.Message
	_ = m.do(func(st *memState) error {
		for _, msg := range st.messages {
			if msg.ChatID == chatID {
				out = append(out, msg)
			}
		}
		return nil
	})
	return out
}

func (m *MemoryStore) Complaints(orgID string) []models.Complaint {
	var out []models.Complaint
	_ = m.do(func(st *memState) error {
		for _, c := range st.complaints {
			if c.OrganizationID == orgID {
				out = append(out, c)
			}
		}
		return nil
	})
	return out
}

// ─── Organizations & chats ───────────────────────────────────────────────────

func (m *MemoryStore) GetOrganization(ctx context.Context, id string) (models.Organization, error) {
	var o models.Organization
	err := m.do(func(st *memState) error {
		v, ok := st.organizations[id]
		if !ok {
			return ErrNotFound
		}
		o = v
		return nil
	})
	return o, err
}

func (m *MemoryStore) GetChat(ctx context.Context, id string) (models.Chat, error) {
	var c models.Chat
	err := m.do(func(st *memState) error {
		v, ok := st.chats[id]
		if !ok {
			return ErrNotFound
		}
		c = v
		return nil
	})
	return c, err
}

func (m *MemoryStore) SetChatHandoff(ctx context.Context, chatID string, requested bool) error {
	return m.do(func(st *memState) error {
		c, ok := st.chats[chatID]
		if !ok {
			return ErrNotFound
		}
		c.RequestedHandoff = requested
		c.UpdatedAt = now()
		st.chats[chatID] = c
		return nil
	})
}

// ─── Sessions ────────────────────────────────────────────────────────────────

func (m *MemoryStore) GetSession(ctx context.Context, id string) (models.ChatSession, error) {
	var s models.ChatSession
	err := m.do(func(st *memState) error {
		v, ok := st.sessions[id]
		if !ok {
			return ErrNotFound
		}
		s = v
		return nil
	})
	return s, err
}

func (m *MemoryStore) EnsureSession(ctx context.Context, chatID string) (models.ChatSession, bool, error) {
	var (
		session models.ChatSession
		created bool
	)
	err := m.do(func(st *memState) error {
		chat, ok := st.chats[chatID]
		if !ok {
			return ErrNotFound
		}
		if chat.ActiveSessionID != nil {
			if cur, ok := st.sessions[*chat.ActiveSessionID]; ok && cur.Status == models.SessionActive {
				session = cur
				return nil
			}
		}
		ts := now()
		session = models.ChatSession{
			ID:             newID(),
			ChatID:         chat.ID,
			OrganizationID: chat.OrganizationID,
			Status:         models.SessionActive,
			AIEnabled:      true,
			CreatedAt:      ts,
			UpdatedAt:      ts,
		}
		st.sessions[session.ID] = session
		id := session.ID
		chat.ActiveSessionID = &id
		chat.UpdatedAt = ts
		st.chats[chat.ID] = chat
		created = true
		return nil
	})
	return session, created, err
}

func (m *MemoryStore) AttachConversation(ctx context.Context, sessionID, conversationID string) (models.ChatSession, error) {
	var s models.ChatSession
	err := m.do(func(st *memState) error {
		v, ok := st.sessions[sessionID]
		if !ok {
			return ErrNotFound
		}
		if v.ConversationID == nil {
			id := conversationID
			v.ConversationID = &id
			v.UpdatedAt = now()
			st.sessions[sessionID] = v
		}
		s = v
		return nil
	})
	return s, err
}

func (m *MemoryStore) DetachConversation(ctx context.Context, sessionID, conversationID string) error {
	return m.do(func(st *memState) error {
		v, ok := st.sessions[sessionID]
		if !ok {
			return ErrNotFound
		}
		if v.ConversationID != nil && *v.ConversationID == conversationID {
			v.ConversationID = nil
			v.UpdatedAt = now()
			st.sessions[sessionID] = v
		}
		return nil
	})
}

func (m *MemoryStore) updateSession(sessionID string, fn func(s *models.ChatSession)) error {
	return m.do(func(st *memState) error {
		v, ok := st.sessions[sessionID]
		if !ok {
			return ErrNotFound
		}
		fn(&v)
		v.UpdatedAt = now()
		st.sessions[sessionID] = v
		return nil
	})
}

func (m *MemoryStore) MarkSessionResponded(ctx context.Context, sessionID string, at time.Time) error {
	return m.updateSession(sessionID, func(s *models.ChatSession) {
		s.LastResponseAt = &at
	})
}

func (m *MemoryStore) SetSessionHandover(ctx context.Context, sessionID string) error {
	return m.updateSession(sessionID, func(s *models.ChatSession) {
		s.Status = models.SessionHandover
		s.AIEnabled = false
	})
}

func (m *MemoryStore) ConcludeChat(ctx context.Context, chatID string) error {
	return m.do(func(st *memState) error {
		chat, ok := st.chats[chatID]
		if !ok {
			return ErrNotFound
		}
		ts := now()
		if chat.ActiveSessionID != nil {
			if s, ok := st.sessions[*chat.ActiveSessionID]; ok && s.Status != models.SessionClosed {
				s.Status = models.SessionClosed
				s.AIEnabled = false
				s.ClosedAt = &ts
				s.UpdatedAt = ts
				st.sessions[s.ID] = s
			}
		}
		chat.ActiveSessionID = nil
		chat.RequestedHandoff = false
		chat.UpdatedAt = ts
		st.chats[chatID] = chat
		return nil
	})
}

// ─── Messages ────────────────────────────────────────────────────────────────

func (m *MemoryStore) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	err := m.do(func(st *memState) error {
		msg.ID = newID()
		msg.CreatedAt = now()
		st.messages = append(st.messages, msg)
		return nil
	})
	return msg, err
}

// ─── Slots ───────────────────────────────────────────────────────────────────

func (m *MemoryStore) GetSlot(ctx context.Context, id string) (models.AvailabilitySlot, error) {
	var s models.AvailabilitySlot
	err := m.do(func(st *memState) error {
		v, ok := st.slots[id]
		if !ok {
			return ErrNotFound
		}
		s = v
		return nil
	})
	return s, err
}

func (m *MemoryStore) ReserveSlot(ctx context.Context, id string) (models.AvailabilitySlot, error) {
	var s models.AvailabilitySlot
	err := m.do(func(st *memState) error {
		v, ok := st.slots[id]
		if !ok || !v.Bookable() {
			return ErrSlotUnavailable
		}
		v.AppointmentsCount++
		st.slots[id] = v
		s = v
		return nil
	})
	return s, err
}

func (m *MemoryStore) ReleaseSlot(ctx context.Context, id string) (models.AvailabilitySlot, error) {
	var s models.AvailabilitySlot
	err := m.do(func(st *memState) error {
		v, ok := st.slots[id]
		if !ok {
			return ErrNotFound
		}
		if v.AppointmentsCount > 0 {
			v.AppointmentsCount--
		}
		st.slots[id] = v
		s = v
		return nil
	})
	return s, err
}

func (m *MemoryStore) ListOpenSlots(ctx context.Context, orgID string, from, to time.Time) ([]models.AvailabilitySlot, error) {
	var out []models.AvailabilitySlot
	err := m.do(func(st *memState) error {
		for _, s := range st.slots {
			if s.OrganizationID != orgID || !s.Bookable() {
				continue
			}
			if s.StartsAt.Before(from) || !s.StartsAt.Before(to) {
				continue
			}
			out = append(out, s)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, err
}

func (m *MemoryStore) FindSlotsByStart(ctx context.Context, orgID string, startsAt time.Time) ([]models.AvailabilitySlot, error) {
	var out []models.AvailabilitySlot
	err := m.do(func(st *memState) error {
		for _, s := range st.slots {
			if s.OrganizationID == orgID && s.StartsAt.Equal(startsAt) {
				out = append(out, s)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppointmentsCount == out[j].AppointmentsCount {
			return out[i].ID < out[j].ID
		}
		return out[i].AppointmentsCount < out[j].AppointmentsCount
	})
	return out, err
}

// ─── Appointments ────────────────────────────────────────────────────────────

func (m *MemoryStore) InsertAppointment(ctx context.Context, a models.Appointment) (models.Appointment, error) {
	err := m.do(func(st *memState) error {
		a.ID = newID()
		a.CreatedAt = now()
		a.UpdatedAt = a.CreatedAt
		st.appointments[a.ID] = a
		return nil
	})
	return a, err
}

func (m *MemoryStore) GetAppointment(ctx context.Context, id string) (models.Appointment, error) {
	var a models.Appointment
	err := m.do(func(st *memState) error {
		v, ok := st.appointments[id]
		if !ok {
			return ErrNotFound
		}
		a = v
		return nil
	})
	return a, err
}

func (m *MemoryStore) LockAppointment(ctx context.Context, id string) (models.Appointment, error) {
	return m.GetAppointment(ctx, id)
}

func (m *MemoryStore) CancelAppointment(ctx context.Context, id string, at time.Time) (models.Appointment, bool, error) {
	var (
		a       models.Appointment
		changed bool
	)
	err := m.do(func(st *memState) error {
		v, ok := st.appointments[id]
		if !ok {
			return ErrNotFound
		}
		if v.Status == models.AppointmentScheduled {
			v.Status = models.AppointmentCancelled
			v.CancelledAt = &at
			v.UpdatedAt = now()
			st.appointments[id] = v
			changed = true
		}
		a = v
		return nil
	})
	return a, changed, err
}

func (m *MemoryStore) MoveAppointment(ctx context.Context, id string, slot models.AvailabilitySlot, notes string) (models.Appointment, error) {
	var a models.Appointment
	err := m.do(func(st *memState) error {
		v, ok := st.appointments[id]
		if !ok {
			return ErrNotFound
		}
		slotID := slot.ID
		v.SlotID = &slotID
		v.StartsAt = slot.StartsAt
		v.EndsAt = slot.EndsAt
		v.Notes = notes
		v.UpdatedAt = now()
		st.appointments[id] = v
		a = v
		return nil
	})
	return a, err
}

func (m *MemoryStore) NextScheduledAppointment(ctx context.Context, orgID, leadID string, after time.Time) (models.Appointment, error) {
	var (
		best  models.Appointment
		found bool
	)
	err := m.do(func(st *memState) error {
		for _, a := range st.appointments {
			if a.OrganizationID != orgID || a.LeadID != leadID || a.Status != models.AppointmentScheduled || a.StartsAt.Before(after) {
				continue
			}
			if !found || a.StartsAt.Before(best.StartsAt) {
				best = a
				found = true
			}
		}
		if !found {
			return ErrNotFound
		}
		return nil
	})
	return best, err
}

// ─── Contacts & leads ────────────────────────────────────────────────────────

func (m *MemoryStore) FindContact(ctx context.Context, orgID, waID, phone string) (models.Contact, error) {
	var (
		byPhone models.Contact
		found   bool
		out     models.Contact
	)
	err := m.do(func(st *memState) error {
		for _, c := range st.contacts {
			if c.OrganizationID != orgID {
				continue
			}
			if waID != "" && c.WAID == waID {
				out = c
				return nil
			}
			if phone != "" && c.Phone == phone && !found {
				byPhone = c
				found = true
			}
		}
		if !found {
			return ErrNotFound
		}
		out = byPhone
		return nil
	})
	return out, err
}

func (m *MemoryStore) InsertContact(ctx context.Context, c models.Contact) (models.Contact, error) {
	err := m.do(func(st *memState) error {
		c.ID = newID()
		c.CreatedAt = now()
		c.UpdatedAt = c.CreatedAt
		st.contacts[c.ID] = c
		return nil
	})
	return c, err
}

func (m *MemoryStore) UpdateContact(ctx context.Context, c models.Contact) (models.Contact, error) {
	err := m.do(func(st *memState) error {
		prev, ok := st.contacts[c.ID]
		if !ok {
			return ErrNotFound
		}
		c.OrganizationID = prev.OrganizationID
		c.CreatedAt = prev.CreatedAt
		c.UpdatedAt = now()
		st.contacts[c.ID] = c
		return nil
	})
	return c, err
}

func (m *MemoryStore) GetLeadByChat(ctx context.Context, orgID, waChatID string) (models.Lead, error) {
	var out models.Lead
	err := m.do(func(st *memState) error {
		for _, l := range st.leads {
			if l.OrganizationID == orgID && l.WAChatID == waChatID {
				out = l
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (m *MemoryStore) InsertLead(ctx context.Context, l models.Lead) (models.Lead, error) {
	err := m.do(func(st *memState) error {
		for id, existing := range st.leads {
			if existing.OrganizationID == l.OrganizationID && existing.WAChatID == l.WAChatID {
				l.ID = id
				l.CreatedAt = existing.CreatedAt
				l.Source = existing.Source
				l.Status = existing.Status
				l.UpdatedAt = now()
				st.leads[id] = l
				return nil
			}
		}
		l.ID = newID()
		l.CreatedAt = now()
		l.UpdatedAt = l.CreatedAt
		st.leads[l.ID] = l
		return nil
	})
	return l, err
}

func (m *MemoryStore) UpdateLead(ctx context.Context, l models.Lead) (models.Lead, error) {
	err := m.do(func(st *memState) error {
		prev, ok := st.leads[l.ID]
		if !ok {
			return ErrNotFound
		}
		l.OrganizationID = prev.OrganizationID
		l.WAChatID = prev.WAChatID
		l.Source = prev.Source
		l.Status = prev.Status
		l.CreatedAt = prev.CreatedAt
		l.UpdatedAt = now()
		st.leads[l.ID] = l
		return nil
	})
	return l, err
}

// ─── Reference data ──────────────────────────────────────────────────────────

func (m *MemoryStore) ListDirectoryContacts(ctx context.Context, orgID string) ([]models.DirectoryContact, error) {
	var out []models.DirectoryContact
	err := m.do(func(st *memState) error {
		for _, d := range st.directory {
			if d.OrganizationID == orgID && d.IsActive {
				out = append(out, d)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (m *MemoryStore) GetCapability(ctx context.Context, orgID, slug string) (models.BotCapability, error) {
	var out models.BotCapability
	err := m.do(func(st *memState) error {
		for _, c := range st.capabilities {
			if c.OrganizationID == orgID && c.Slug == slug {
				out = c
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (m *MemoryStore) GetFinanceItem(ctx context.Context, capabilityID, item string) (models.FinanceItem, error) {
	var out models.FinanceItem
	err := m.do(func(st *memState) error {
		for _, f := range st.finance {
			if f.CapabilityID == capabilityID && strings.EqualFold(f.Item, item) {
				out = f
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (m *MemoryStore) InsertComplaint(ctx context.Context, c models.Complaint) (models.Complaint, error) {
	err := m.do(func(st *memState) error {
		c.ID = newID()
		c.CreatedAt = now()
		st.complaints = append(st.complaints, c)
		return nil
	})
	return c, err
}
