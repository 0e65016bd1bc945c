package tools

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/campusline/intake/internal/models"
)

var stopwords = map[string]bool{
	"de": true, "del": true, "la": true, "el": true, "los": true, "las": true,
	"un": true, "una": true, "y": true, "a": true, "en": true, "con": true,
	"para": true, "por": true, "que": true, "quien": true, "es": true, "me": true,
	"al": true, "se": true, "mi": true, "su": true, "contacto": true,
}

// fold lowercases s and strips diacritics.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func tokens(s string) []string {
	fields := strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// bestContact scores each contact by how many query tokens prefix a token
// of its name, role or area. Ties keep the earlier contact.
func bestContact(query string, contacts []models.DirectoryContact) (models.DirectoryContact, bool) {
	q := tokens(query)
	if len(q) == 0 {
		return models.DirectoryContact{}, false
	}
	var (
		best      models.DirectoryContact
		bestScore int
	)
	for _, c := range contacts {
		hay := tokens(c.Name + " " + c.Role + " " + c.Area)
		score := 0
		for _, qt := range q {
			for _, ht := range hay {
				if strings.HasPrefix(ht, qt) {
					score++
					break
				}
			}
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore > 0
}

// shareable returns the contact's public card: name, role and area always,
// email, phone and extension only when individually flagged.
func shareable(c models.DirectoryContact) Result {
	out := Result{
		"status": StatusOK,
		"name":   c.Name,
		"role":   c.Role,
	}
	if c.Area != "" {
		out["area"] = c.Area
	}
	if c.ShareEmail && c.Email != "" {
		out["email"] = c.Email
	}
	if c.SharePhone && c.Phone != "" {
		out["phone"] = c.Phone
	}
	if c.ShareExtension && c.Extension != "" {
		out["extension"] = c.Extension
	}
	return out
}
