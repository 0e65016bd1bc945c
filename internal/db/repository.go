package db

import (
	"context"
	"errors"
	"time"

	"github.com/campusline/intake/internal/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrSlotUnavailable = errors.New("slot unavailable")
)

// Repository is the organization-scoped record store used by the pipeline.
// Implementations must make EnsureSession and the slot counter updates
// atomic with respect to concurrent callers.
type Repository interface {
	// InTx runs fn against a repository bound to a single transaction.
	// Calls made on a repository that is already transactional join it.
	InTx(ctx context.Context, fn func(r Repository) error) error
	Ping(ctx context.Context) error

	GetOrganization(ctx context.Context, id string) (models.Organization, error)
	GetChat(ctx context.Context, id string) (models.Chat, error)

	GetSession(ctx context.Context, id string) (models.ChatSession, error)
	// EnsureSession returns the chat's active session, creating a new one
	// when the pointer is empty or the referenced session is not active.
	EnsureSession(ctx context.Context, chatID string) (models.ChatSession, bool, error)
	// AttachConversation sets the conversation id only if none is set yet
	// and returns the session as stored afterwards.
	AttachConversation(ctx context.Context, sessionID, conversationID string) (models.ChatSession, error)
	// DetachConversation clears the conversation id if it still equals the
	// given one.
	DetachConversation(ctx context.Context, sessionID, conversationID string) error
	MarkSessionResponded(ctx context.Context, sessionID string, at time.Time) error
	SetSessionHandover(ctx context.Context, sessionID string) error
	SetChatHandoff(ctx context.Context, chatID string, requested bool) error
	// ConcludeChat closes the active session and clears the handoff flag
	// and the session pointer.
	ConcludeChat(ctx context.Context, chatID string) error

	InsertMessage(ctx context.Context, m models.Message) (models.Message, error)

	GetSlot(ctx context.Context, id string) (models.AvailabilitySlot, error)
	// ReserveSlot increments the counter iff the slot is bookable, returning
	// ErrSlotUnavailable otherwise.
	ReserveSlot(ctx context.Context, id string) (models.AvailabilitySlot, error)
	// ReleaseSlot decrements the counter, floored at zero.
	ReleaseSlot(ctx context.Context, id string) (models.AvailabilitySlot, error)
	// ListOpenSlots returns bookable slots with from <= starts_at < to.
	ListOpenSlots(ctx context.Context, orgID string, from, to time.Time) ([]models.AvailabilitySlot, error)
	FindSlotsByStart(ctx context.Context, orgID string, startsAt time.Time) ([]models.AvailabilitySlot, error)

	InsertAppointment(ctx context.Context, a models.Appointment) (models.Appointment, error)
	GetAppointment(ctx context.Context, id string) (models.Appointment, error)
	// LockAppointment reads the appointment and holds it for the rest of the
	// surrounding transaction.
	LockAppointment(ctx context.Context, id string) (models.Appointment, error)
	// CancelAppointment flips a scheduled appointment to cancelled. The
	// boolean is false when the appointment was not scheduled.
	CancelAppointment(ctx context.Context, id string, at time.Time) (models.Appointment, bool, error)
	MoveAppointment(ctx context.Context, id string, slot models.AvailabilitySlot, notes string) (models.Appointment, error)
	NextScheduledAppointment(ctx context.Context, orgID, leadID string, after time.Time) (models.Appointment, error)

	FindContact(ctx context.Context, orgID, waID, phone string) (models.Contact, error)
	InsertContact(ctx context.Context, c models.Contact) (models.Contact, error)
	UpdateContact(ctx context.Context, c models.Contact) (models.Contact, error)
	GetLeadByChat(ctx context.Context, orgID, waChatID string) (models.Lead, error)
	InsertLead(ctx context.Context, l models.Lead) (models.Lead, error)
	UpdateLead(ctx context.Context, l models.Lead) (models.Lead, error)

	ListDirectoryContacts(ctx context.Context, orgID string) ([]models.DirectoryContact, error)
	GetCapability(ctx context.Context, orgID, slug string) (models.BotCapability, error)
	GetFinanceItem(ctx context.Context, capabilityID, item string) (models.FinanceItem, error)
	InsertComplaint(ctx context.Context, c models.Complaint) (models.Complaint, error)
}
