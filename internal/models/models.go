package models

import "time"

const (
	SessionActive   = "active"
	SessionHandover = "handover"
	SessionClosed   = "closed"
)

const (
	AppointmentScheduled  = "scheduled"
	AppointmentInProgress = "in_progress"
	AppointmentCompleted  = "completed"
	AppointmentCancelled  = "cancelled"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type Organization struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Timezone        string `json:"timezone"`
	WAPhoneNumberID string `json:"wa_phone_number_id"`
	WAAccessToken   string `json:"-"`
	AITopic         string `json:"ai_topic"`
}

type Chat struct {
	ID               string    `json:"id"`
	OrganizationID   string    `json:"organization_id"`
	WAChatID         string    `json:"wa_chat_id"`
	Phone            string    `json:"phone"`
	ActiveSessionID  *string   `json:"active_session_id"`
	RequestedHandoff bool      `json:"requested_handoff"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ChatSession struct {
	ID             string     `json:"id"`
	ChatID         string     `json:"chat_id"`
	OrganizationID string     `json:"organization_id"`
	Status         string     `json:"status"`
	AIEnabled      bool       `json:"ai_enabled"`
	ConversationID *string    `json:"conversation_id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastResponseAt *time.Time `json:"last_response_at"`
	ClosedAt       *time.Time `json:"closed_at"`
}

type AvailabilitySlot struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organization_id"`
	StartsAt          time.Time `json:"starts_at"`
	EndsAt            time.Time `json:"ends_at"`
	Campus            string    `json:"campus"`
	MaxAppointments   int       `json:"max_appointments"`
	AppointmentsCount int       `json:"appointments_count"`
	IsActive          bool      `json:"is_active"`
	IsBlocked         bool      `json:"is_blocked"`
}

// Bookable reports whether one more appointment fits in the slot.
func (s AvailabilitySlot) Bookable() bool {
	return s.IsActive && !s.IsBlocked && s.AppointmentsCount < s.MaxAppointments
}

func (s AvailabilitySlot) RemainingCapacity() int {
	if r := s.MaxAppointments - s.AppointmentsCount; r > 0 {
		return r
	}
	return 0
}

type Appointment struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	LeadID         string     `json:"lead_id"`
	SlotID         *string    `json:"slot_id"`
	StartsAt       time.Time  `json:"starts_at"`
	EndsAt         time.Time  `json:"ends_at"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	Notes          string     `json:"notes"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CancelledAt    *time.Time `json:"cancelled_at"`
}

type Contact struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	Email          string    `json:"email"`
	WAID           string    `json:"wa_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Lead struct {
	ID                      string    `json:"id"`
	OrganizationID          string    `json:"organization_id"`
	ContactID               string    `json:"contact_id"`
	WAChatID                string    `json:"wa_chat_id"`
	ContactName             string    `json:"contact_name"`
	ContactPhone            string    `json:"contact_phone"`
	ContactEmail            string    `json:"contact_email"`
	StudentFirstName        string    `json:"student_first_name"`
	StudentLastNamePaternal string    `json:"student_last_name_paternal"`
	StudentLastNameMaternal string    `json:"student_last_name_maternal"`
	GradeInterest           string    `json:"grade_interest"`
	SchoolYear              string    `json:"school_year"`
	Campus                  string    `json:"campus"`
	Summary                 string    `json:"summary"`
	Source                  string    `json:"source"`
	Status                  string    `json:"status"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

type DirectoryContact struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	Area           string `json:"area"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Extension      string `json:"extension"`
	ShareEmail     bool   `json:"share_email"`
	SharePhone     bool   `json:"share_phone"`
	ShareExtension bool   `json:"share_extension"`
	IsActive       bool   `json:"is_active"`
}

type BotCapability struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Slug           string `json:"slug"`
	Enabled        bool   `json:"enabled"`
}

type FinanceItem struct {
	ID           string     `json:"id"`
	CapabilityID string     `json:"capability_id"`
	Item         string     `json:"item"`
	Value        string     `json:"value"`
	Notes        string     `json:"notes"`
	ValidFrom    *time.Time `json:"valid_from"`
	ValidUntil   *time.Time `json:"valid_until"`
}

type Complaint struct {
	ID              string    `json:"id"`
	OrganizationID  string    `json:"organization_id"`
	ChatID          string    `json:"chat_id"`
	Summary         string    `json:"summary"`
	Channel         string    `json:"channel"`
	CustomerName    string    `json:"customer_name"`
	CustomerContact string    `json:"customer_contact"`
	CapabilitySlug  string    `json:"capability_slug"`
	CreatedAt       time.Time `json:"created_at"`
}

type Message struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	ChatID         string    `json:"chat_id"`
	SessionID      *string   `json:"session_id"`
	Direction      string    `json:"direction"`
	Body           string    `json:"body"`
	ExternalID     string    `json:"external_id"`
	CreatedAt      time.Time `json:"created_at"`
}
