// Package leads resolves the contact and lead behind a chat.
package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"

	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/models"
	"github.com/campusline/intake/internal/validation"
)

const SourceWhatsApp = "whatsapp"

var ErrMissingFields = errors.New("missing required lead fields")

// MissingFieldsError carries the names of the blank required fields.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required lead fields: %s", strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrMissingFields
}

// Args are the lead fields collected by the assistant.
type Args struct {
	ContactName             string `json:"contact_name" validate:"required"`
	ContactPhone            string `json:"contact_phone" validate:"required"`
	ContactEmail            string `json:"contact_email"`
	StudentFirstName        string `json:"student_first_name" validate:"required"`
	StudentLastNamePaternal string `json:"student_last_name_paternal" validate:"required"`
	StudentLastNameMaternal string `json:"student_last_name_maternal"`
	GradeInterest           string `json:"grade_interest" validate:"required"`
	SchoolYear              string `json:"school_year"`
	Campus                  string `json:"campus"`
	Summary                 string `json:"summary"`
}

// Identity scopes a lead to one chat of one organization.
type Identity struct {
	OrganizationID string
	WAChatID       string
	WAID           string
}

type Result struct {
	LeadID    string
	ContactID string
	Created   bool
}

type Upserter struct {
	Region    string
	Validator *validator.Validate
}

func NewUpserter(region string) *Upserter {
	return &Upserter{Region: region, Validator: validation.New()}
}

// Validate trims every field and reports blank required ones.
func (u *Upserter) Validate(args *Args) error {
	trimArgs(args)
	if err := u.Validator.Struct(args); err != nil {
		if fields := validation.Fields(err); len(fields) > 0 {
			return &MissingFieldsError{Fields: fields}
		}
		return err
	}
	return nil
}

// EnsureLead creates or updates the contact and the chat's lead. Repeating
// the call with the same identity updates the same rows.
func (u *Upserter) EnsureLead(ctx context.Context, r db.Repository, id Identity, args Args) (Result, error) {
	if err := u.Validate(&args); err != nil {
		return Result{}, err
	}
	phone := NormalizePhone(args.ContactPhone, u.Region)
	waID := strings.TrimSpace(id.WAID)

	var out Result
	err := r.InTx(ctx, func(tx db.Repository) error {
		contact, err := tx.FindContact(ctx, id.OrganizationID, waID, phone)
		switch {
		case err == nil:
			contact.Name = args.ContactName
			contact.Phone = phone
			if args.ContactEmail != "" {
				contact.Email = args.ContactEmail
			}
			if contact.WAID == "" {
				contact.WAID = waID
			}
			contact, err = tx.UpdateContact(ctx, contact)
			if err != nil {
				return fmt.Errorf("update contact: %w", err)
			}
		case errors.Is(err, db.ErrNotFound):
			contact, err = tx.InsertContact(ctx, models.Contact{
				OrganizationID: id.OrganizationID,
				Name:           args.ContactName,
				Phone:          phone,
				Email:          args.ContactEmail,
				WAID:           waID,
			})
			if err != nil {
				return fmt.Errorf("insert contact: %w", err)
			}
		default:
			return fmt.Errorf("find contact: %w", err)
		}
		out.ContactID = contact.ID

		lead, err := tx.GetLeadByChat(ctx, id.OrganizationID, id.WAChatID)
		switch {
		case err == nil:
			applyArgs(&lead, args, contact.ID, phone)
			lead, err = tx.UpdateLead(ctx, lead)
			if err != nil {
				return fmt.Errorf("update lead: %w", err)
			}
		case errors.Is(err, db.ErrNotFound):
			lead = models.Lead{
				OrganizationID: id.OrganizationID,
				WAChatID:       id.WAChatID,
				Source:         SourceWhatsApp,
				Status:         "new",
			}
			applyArgs(&lead, args, contact.ID, phone)
			lead, err = tx.InsertLead(ctx, lead)
			if err != nil {
				return fmt.Errorf("insert lead: %w", err)
			}
			out.Created = true
		default:
			return fmt.Errorf("find lead: %w", err)
		}
		out.LeadID = lead.ID
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return out, nil
}

// LeadForChat returns the chat's existing lead.
func LeadForChat(ctx context.Context, r db.Repository, id Identity) (models.Lead, error) {
	return r.GetLeadByChat(ctx, id.OrganizationID, id.WAChatID)
}

func applyArgs(l *models.Lead, args Args, contactID, phone string) {
	l.ContactID = contactID
	l.ContactName = args.ContactName
	l.ContactPhone = phone
	l.StudentFirstName = args.StudentFirstName
	l.StudentLastNamePaternal = args.StudentLastNamePaternal
	l.GradeInterest = args.GradeInterest
	// optional fields keep their previous value when omitted
	if args.ContactEmail != "" {
		l.ContactEmail = args.ContactEmail
	}
	if args.StudentLastNameMaternal != "" {
		l.StudentLastNameMaternal = args.StudentLastNameMaternal
	}
	if args.SchoolYear != "" {
		l.SchoolYear = args.SchoolYear
	}
	if args.Campus != "" {
		l.Campus = args.Campus
	}
	if args.Summary != "" {
		l.Summary = args.Summary
	}
}

func trimArgs(a *Args) {
	for _, f := range []*string{
		&a.ContactName, &a.ContactPhone, &a.ContactEmail,
		&a.StudentFirstName, &a.StudentLastNamePaternal, &a.StudentLastNameMaternal,
		&a.GradeInterest, &a.SchoolYear, &a.Campus, &a.Summary,
	} {
		*f = strings.TrimSpace(*f)
	}
}

// NormalizePhone returns the E.164 form of raw when it parses as a valid
// number for region (or as an international number written without "+").
// Anything else is reduced to its digits.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if region == "" {
		region = "MX"
	}
	candidates := []string{raw}
	if !strings.HasPrefix(raw, "+") {
		candidates = append(candidates, "+"+digitsOnly(raw))
	}
	for _, c := range candidates {
		num, err := phonenumbers.Parse(c, region)
		if err != nil || !phonenumbers.IsValidNumber(num) {
			continue
		}
		return phonenumbers.Format(num, phonenumbers.E164)
	}
	return digitsOnly(raw)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
