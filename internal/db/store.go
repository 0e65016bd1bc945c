package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusline/intake/internal/models"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store is the Postgres Repository.
type Store struct {
	Pool *pgxpool.Pool

	q  querier
	tx pgx.Tx
}

var _ Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool, q: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) InTx(ctx context.Context, fn func(r Repository) error) error {
	return s.inTx(ctx, func(tx *Store) error { return fn(tx) })
}

func (s *Store) inTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&Store{Pool: s.Pool, q: tx, tx: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ─── Organizations & chats ───────────────────────────────────────────────────

func (s *Store) GetOrganization(ctx context.Context, id string) (models.Organization, error) {
	var o models.Organization
	err := s.q.QueryRow(ctx, `
		SELECT id, name, timezone, wa_phone_number_id, wa_access_token, ai_topic
		FROM organizations WHERE id = $1
	`, id).Scan(&o.ID, &o.Name, &o.Timezone, &o.WAPhoneNumberID, &o.WAAccessToken, &o.AITopic)
	return o, notFound(err)
}

const chatCols = `id, organization_id, wa_chat_id, phone, active_session_id, requested_handoff, created_at, updated_at`

func scanChat(row rowScanner) (models.Chat, error) {
	var c models.Chat
	err := row.Scan(&c.ID, &c.OrganizationID, &c.WAChatID, &c.Phone, &c.ActiveSessionID, &c.RequestedHandoff, &c.CreatedAt, &c.UpdatedAt)
	return c, notFound(err)
}

func (s *Store) GetChat(ctx context.Context, id string) (models.Chat, error) {
	return scanChat(s.q.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1`, id))
}

func (s *Store) SetChatHandoff(ctx context.Context, chatID string, requested bool) error {
	tag, err := s.q.Exec(ctx, `UPDATE chats SET requested_handoff = $1, updated_at = NOW() WHERE id = $2`, requested, chatID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Sessions ────────────────────────────────────────────────────────────────

const sessionCols = `id, chat_id, organization_id, status, ai_enabled, conversation_id, created_at, updated_at, last_response_at, closed_at`

func scanSession(row rowScanner) (models.ChatSession, error) {
	var cs models.ChatSession
	err := row.Scan(&cs.ID, &cs.ChatID, &cs.OrganizationID, &cs.Status, &cs.AIEnabled, &cs.ConversationID, &cs.CreatedAt, &cs.UpdatedAt, &cs.LastResponseAt, &cs.ClosedAt)
	return cs, notFound(err)
}

func (s *Store) GetSession(ctx context.Context, id string) (models.ChatSession, error) {
	return scanSession(s.q.QueryRow(ctx, `SELECT `+sessionCols+` FROM chat_sessions WHERE id = $1`, id))
}

func (s *Store) EnsureSession(ctx context.Context, chatID string) (models.ChatSession, bool, error) {
	var (
		session models.ChatSession
		created bool
	)
	err := s.inTx(ctx, func(tx *Store) error {
		chat, err := scanChat(tx.q.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1 FOR UPDATE`, chatID))
		if err != nil {
			return err
		}
		if chat.ActiveSessionID != nil {
			current, err := tx.GetSession(ctx, *chat.ActiveSessionID)
			switch {
			case err == nil && current.Status == models.SessionActive:
				session = current
				return nil
			case err != nil && !errors.Is(err, ErrNotFound):
				return err
			}
		}

		session, err = scanSession(tx.q.QueryRow(ctx, `
			INSERT INTO chat_sessions (chat_id, organization_id, status, ai_enabled, created_at, updated_at)
			VALUES ($1, $2, $3, TRUE, NOW(), NOW())
			RETURNING `+sessionCols, chat.ID, chat.OrganizationID, models.SessionActive))
		if err != nil {
			return err
		}
		if _, err := tx.q.Exec(ctx, `UPDATE chats SET active_session_id = $1, updated_at = NOW() WHERE id = $2`, session.ID, chat.ID); err != nil {
			return err
		}
		created = true
		return nil
	})
	return session, created, err
}

func (s *Store) AttachConversation(ctx context.Context, sessionID, conversationID string) (models.ChatSession, error) {
	if _, err := s.q.Exec(ctx, `
		UPDATE chat_sessions SET conversation_id = $1, updated_at = NOW()
		WHERE id = $2 AND conversation_id IS NULL
	`, conversationID, sessionID); err != nil {
		return models.ChatSession{}, err
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Store) DetachConversation(ctx context.Context, sessionID, conversationID string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE chat_sessions SET conversation_id = NULL, updated_at = NOW()
		WHERE id = $1 AND conversation_id = $2
	`, sessionID, conversationID)
	return err
}

func (s *Store) MarkSessionResponded(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.q.Exec(ctx, `UPDATE chat_sessions SET last_response_at = $1, updated_at = NOW() WHERE id = $2`, at, sessionID)
	return err
}

func (s *Store) SetSessionHandover(ctx context.Context, sessionID string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE chat_sessions SET status = $1, ai_enabled = FALSE, updated_at = NOW()
		WHERE id = $2
	`, models.SessionHandover, sessionID)
	return err
}

func (s *Store) ConcludeChat(ctx context.Context, chatID string) error {
	return s.inTx(ctx, func(tx *Store) error {
		chat, err := scanChat(tx.q.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1 FOR UPDATE`, chatID))
		if err != nil {
			return err
		}
		if chat.ActiveSessionID != nil {
			if _, err := tx.q.Exec(ctx, `
				UPDATE chat_sessions SET status = $1, ai_enabled = FALSE, closed_at = NOW(), updated_at = NOW()
				WHERE id = $2 AND status <> $1
			`, models.SessionClosed, *chat.ActiveSessionID); err != nil {
				return err
			}
		}
		_, err = tx.q.Exec(ctx, `
			UPDATE chats SET requested_handoff = FALSE, active_session_id = NULL, updated_at = NOW()
			WHERE id = $1
		`, chatID)
		return err
	})
}

// ─── Messages ────────────────────────────────────────────────────────────────

func (s *Store) InsertMessage(ctx context.Context, m models.Message) (models.Message, error) {
	err := s.q.QueryRow(ctx, `
		INSERT INTO messages (organization_id, chat_id, session_id, direction, body, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`, m.OrganizationID, m.ChatID, m.SessionID, m.Direction, m.Body, m.ExternalID).Scan(&m.ID, &m.CreatedAt)
	return m, err
}

// ─── Slots ───────────────────────────────────────────────────────────────────

const slotCols = `id, organization_id, starts_at, ends_at, campus, max_appointments, appointments_count, is_active, is_blocked`

func scanSlot(row rowScanner) (models.AvailabilitySlot, error) {
	var sl models.AvailabilitySlot
	err := row.Scan(&sl.ID, &sl.OrganizationID, &sl.StartsAt, &sl.EndsAt, &sl.Campus, &sl.MaxAppointments, &sl.AppointmentsCount, &sl.IsActive, &sl.IsBlocked)
	return sl, notFound(err)
}

func collectSlots(rows pgx.Rows, err error) ([]models.AvailabilitySlot, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AvailabilitySlot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

func (s *Store) GetSlot(ctx context.Context, id string) (models.AvailabilitySlot, error) {
	return scanSlot(s.q.QueryRow(ctx, `SELECT `+slotCols+` FROM availability_slots WHERE id = $1`, id))
}

func (s *Store) ReserveSlot(ctx context.Context, id string) (models.AvailabilitySlot, error) {
	sl, err := scanSlot(s.q.QueryRow(ctx, `
		UPDATE availability_slots
		SET appointments_count = appointments_count + 1, updated_at = NOW()
		WHERE id = $1
			AND is_active
			AND NOT is_blocked
			AND appointments_count < max_appointments
		RETURNING `+slotCols, id))
	if errors.Is(err, ErrNotFound) {
		return models.AvailabilitySlot{}, ErrSlotUnavailable
	}
	return sl, err
}

func (s *Store) ReleaseSlot(ctx context.Context, id string) (models.AvailabilitySlot, error) {
	return scanSlot(s.q.QueryRow(ctx, `
		UPDATE availability_slots
		SET appointments_count = GREATEST(appointments_count - 1, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING `+slotCols, id))
}

func (s *Store) ListOpenSlots(ctx context.Context, orgID string, from, to time.Time) ([]models.AvailabilitySlot, error) {
	return collectSlots(s.q.Query(ctx, `
		SELECT `+slotCols+` FROM availability_slots
		WHERE organization_id = $1
			AND starts_at >= $2 AND starts_at < $3
			AND is_active AND NOT is_blocked
			AND appointments_count < max_appointments
		ORDER BY starts_at ASC, id ASC
	`, orgID, from, to))
}

func (s *Store) FindSlotsByStart(ctx context.Context, orgID string, startsAt time.Time) ([]models.AvailabilitySlot, error) {
	return collectSlots(s.q.Query(ctx, `
		SELECT `+slotCols+` FROM availability_slots
		WHERE organization_id = $1 AND starts_at = $2
		ORDER BY appointments_count ASC, id ASC
	`, orgID, startsAt))
}

// ─── Appointments ────────────────────────────────────────────────────────────

const appointmentCols = `id, organization_id, lead_id, slot_id, starts_at, ends_at, type, status, notes, created_at, updated_at, cancelled_at`

func scanAppointment(row rowScanner) (models.Appointment, error) {
	var a models.Appointment
	err := row.Scan(&a.ID, &a.OrganizationID, &a.LeadID, &a.SlotID, &a.StartsAt, &a.EndsAt, &a.Type, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt, &a.CancelledAt)
	return a, notFound(err)
}

func (s *Store) InsertAppointment(ctx context.Context, a models.Appointment) (models.Appointment, error) {
	return scanAppointment(s.q.QueryRow(ctx, `
		INSERT INTO appointments (organization_id, lead_id, slot_id, starts_at, ends_at, type, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING `+appointmentCols,
		a.OrganizationID, a.LeadID, a.SlotID, a.StartsAt, a.EndsAt, a.Type, a.Status, a.Notes))
}

func (s *Store) GetAppointment(ctx context.Context, id string) (models.Appointment, error) {
	return scanAppointment(s.q.QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id))
}

func (s *Store) LockAppointment(ctx context.Context, id string) (models.Appointment, error) {
	return scanAppointment(s.q.QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
}

func (s *Store) CancelAppointment(ctx context.Context, id string, at time.Time) (models.Appointment, bool, error) {
	a, err := scanAppointment(s.q.QueryRow(ctx, `
		UPDATE appointments SET status = $1, cancelled_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
		RETURNING `+appointmentCols, models.AppointmentCancelled, at, id, models.AppointmentScheduled))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Appointment{}, false, err
	}
	a, err = s.GetAppointment(ctx, id)
	return a, false, err
}

func (s *Store) MoveAppointment(ctx context.Context, id string, slot models.AvailabilitySlot, notes string) (models.Appointment, error) {
	return scanAppointment(s.q.QueryRow(ctx, `
		UPDATE appointments
		SET slot_id = $1, starts_at = $2, ends_at = $3, notes = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING `+appointmentCols, slot.ID, slot.StartsAt, slot.EndsAt, notes, id))
}

func (s *Store) NextScheduledAppointment(ctx context.Context, orgID, leadID string, after time.Time) (models.Appointment, error) {
	return scanAppointment(s.q.QueryRow(ctx, `
		SELECT `+appointmentCols+` FROM appointments
		WHERE organization_id = $1 AND lead_id = $2 AND status = $3 AND starts_at >= $4
		ORDER BY starts_at ASC LIMIT 1
	`, orgID, leadID, models.AppointmentScheduled, after))
}

// ─── Contacts & leads ────────────────────────────────────────────────────────

const contactCols = `id, organization_id, name, phone, email, wa_id, created_at, updated_at`

func scanContact(row rowScanner) (models.Contact, error) {
	var c models.Contact
	err := row.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Phone, &c.Email, &c.WAID, &c.CreatedAt, &c.UpdatedAt)
	return c, notFound(err)
}

func (s *Store) FindContact(ctx context.Context, orgID, waID, phone string) (models.Contact, error) {
	return scanContact(s.q.QueryRow(ctx, `
		SELECT `+contactCols+` FROM crm_contacts
		WHERE organization_id = $1
			AND (($2 <> '' AND wa_id = $2) OR ($3 <> '' AND phone = $3))
		ORDER BY (wa_id = $2) DESC, updated_at DESC
		LIMIT 1
	`, orgID, waID, phone))
}

func (s *Store) InsertContact(ctx context.Context, c models.Contact) (models.Contact, error) {
	return scanContact(s.q.QueryRow(ctx, `
		INSERT INTO crm_contacts (organization_id, name, phone, email, wa_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING `+contactCols, c.OrganizationID, c.Name, c.Phone, c.Email, c.WAID))
}

func (s *Store) UpdateContact(ctx context.Context, c models.Contact) (models.Contact, error) {
	return scanContact(s.q.QueryRow(ctx, `
		UPDATE crm_contacts SET name = $1, phone = $2, email = $3, wa_id = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING `+contactCols, c.Name, c.Phone, c.Email, c.WAID, c.ID))
}

const leadCols = `id, organization_id, contact_id, wa_chat_id, contact_name, contact_phone, contact_email,
	student_first_name, student_last_name_paternal, student_last_name_maternal, grade_interest,
	school_year, campus, summary, source, status, created_at, updated_at`

func scanLead(row rowScanner) (models.Lead, error) {
	var l models.Lead
	err := row.Scan(&l.ID, &l.OrganizationID, &l.ContactID, &l.WAChatID, &l.ContactName, &l.ContactPhone, &l.ContactEmail,
		&l.StudentFirstName, &l.StudentLastNamePaternal, &l.StudentLastNameMaternal, &l.GradeInterest,
		&l.SchoolYear, &l.Campus, &l.Summary, &l.Source, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	return l, notFound(err)
}

func (s *Store) GetLeadByChat(ctx context.Context, orgID, waChatID string) (models.Lead, error) {
	return scanLead(s.q.QueryRow(ctx, `SELECT `+leadCols+` FROM leads WHERE organization_id = $1 AND wa_chat_id = $2`, orgID, waChatID))
}

// InsertLead relies on the (organization_id, wa_chat_id) unique index: a
// concurrent insert for the same chat turns into an update.
func (s *Store) InsertLead(ctx context.Context, l models.Lead) (models.Lead, error) {
	return scanLead(s.q.QueryRow(ctx, `
		INSERT INTO leads (organization_id, contact_id, wa_chat_id, contact_name, contact_phone, contact_email,
			student_first_name, student_last_name_paternal, student_last_name_maternal, grade_interest,
			school_year, campus, summary, source, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15, NOW(), NOW())
		ON CONFLICT (organization_id, wa_chat_id) DO UPDATE SET
			contact_id = EXCLUDED.contact_id,
			contact_name = EXCLUDED.contact_name,
			contact_phone = EXCLUDED.contact_phone,
			contact_email = EXCLUDED.contact_email,
			student_first_name = EXCLUDED.student_first_name,
			student_last_name_paternal = EXCLUDED.student_last_name_paternal,
			student_last_name_maternal = EXCLUDED.student_last_name_maternal,
			grade_interest = EXCLUDED.grade_interest,
			school_year = EXCLUDED.school_year,
			campus = EXCLUDED.campus,
			summary = EXCLUDED.summary,
			updated_at = NOW()
		RETURNING `+leadCols,
		l.OrganizationID, l.ContactID, l.WAChatID, l.ContactName, l.ContactPhone, l.ContactEmail,
		l.StudentFirstName, l.StudentLastNamePaternal, l.StudentLastNameMaternal, l.GradeInterest,
		l.SchoolYear, l.Campus, l.Summary, l.Source, l.Status))
}

func (s *Store) UpdateLead(ctx context.Context, l models.Lead) (models.Lead, error) {
	return scanLead(s.q.QueryRow(ctx, `
		UPDATE leads SET
			contact_id = $1, contact_name = $2, contact_phone = $3, contact_email = $4,
			student_first_name = $5, student_last_name_paternal = $6, student_last_name_maternal = $7,
			grade_interest = $8, school_year = $9, campus = $10, summary = $11, updated_at = NOW()
		WHERE id = $12
		RETURNING `+leadCols,
		l.ContactID, l.ContactName, l.ContactPhone, l.ContactEmail,
		l.StudentFirstName, l.StudentLastNamePaternal, l.StudentLastNameMaternal,
		l.GradeInterest, l.SchoolYear, l.Campus, l.Summary, l.ID))
}

// ─── Reference data ──────────────────────────────────────────────────────────

func (s *Store) ListDirectoryContacts(ctx context.Context, orgID string) ([]models.DirectoryContact, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, organization_id, name, role, area, email, phone, extension,
			share_email, share_phone, share_extension, is_active
		FROM directory_contacts
		WHERE organization_id = $1 AND is_active
		ORDER BY name ASC
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DirectoryContact
	for rows.Next() {
		var d models.DirectoryContact
		if err := rows.Scan(&d.ID, &d.OrganizationID, &d.Name, &d.Role, &d.Area, &d.Email, &d.Phone, &d.Extension,
			&d.ShareEmail, &d.SharePhone, &d.ShareExtension, &d.IsActive); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetCapability(ctx context.Context, orgID, slug string) (models.BotCapability, error) {
	var c models.BotCapability
	err := s.q.QueryRow(ctx, `
		SELECT id, organization_id, slug, enabled FROM bot_capabilities
		WHERE organization_id = $1 AND slug = $2
	`, orgID, slug).Scan(&c.ID, &c.OrganizationID, &c.Slug, &c.Enabled)
	return c, notFound(err)
}

func (s *Store) GetFinanceItem(ctx context.Context, capabilityID, item string) (models.FinanceItem, error) {
	var f models.FinanceItem
	err := s.q.QueryRow(ctx, `
		SELECT id, capability_id, item, value, notes, valid_from, valid_until
		FROM bot_capability_finance
		WHERE capability_id = $1 AND lower(item) = lower($2)
		LIMIT 1
	`, capabilityID, item).Scan(&f.ID, &f.CapabilityID, &f.Item, &f.Value, &f.Notes, &f.ValidFrom, &f.ValidUntil)
	return f, notFound(err)
}

func (s *Store) InsertComplaint(ctx context.Context, c models.Complaint) (models.Complaint, error) {
	err := s.q.QueryRow(ctx, `
		INSERT INTO bot_complaints (organization_id, chat_id, summary, channel, customer_name, customer_contact, capability_slug, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at
	`, c.OrganizationID, c.ChatID, c.Summary, c.Channel, c.CustomerName, c.CustomerContact, c.CapabilitySlug).Scan(&c.ID, &c.CreatedAt)
	return c, err
}
