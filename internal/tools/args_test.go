package tools

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusline/intake/internal/validation"
)

func TestDecodeArgs(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{"object", `{"query":"  admisiones "}`, map[string]string{"query": "admisiones"}},
		{"string encoded", `"{\"query\":\"caja\"}"`, map[string]string{"query": "caja"}},
		{"empty", ``, map[string]string{}},
		{"null", `null`, map[string]string{}},
		{"blank string", `"  "`, map[string]string{}},
		{"scalars", `{"n":3,"f":2.5,"b":true,"z":null}`, map[string]string{"n": "3", "f": "2.5", "b": "true", "z": ""}},
		{"nested", `{"o":{"a":1}}`, map[string]string{"o": `{"a":1}`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeArgs(json.RawMessage(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range []string{`[1,2]`, `42`, `"not json"`, `{`} {
		_, err := decodeArgs(json.RawMessage(bad))
		assert.ErrorIs(t, err, ErrInvalidArguments, bad)
	}
}

func TestParse(t *testing.T) {
	v := validation.New()

	inv, err := Parse(Call{Name: "launch_rockets"}, v)
	require.NoError(t, err)
	assert.Equal(t, Unrecognized{Name: "launch_rockets"}, inv)

	inv, err = Parse(Call{Name: "get_finance_info", Arguments: json.RawMessage(`{"capability_slug":"finanzas","item":"Colegiatura"}`)}, v)
	require.NoError(t, err)
	assert.Equal(t, FinanceQuery{CapabilitySlug: "finanzas", Item: "Colegiatura"}, inv)

	_, err = Parse(Call{Name: "create_complaint", Arguments: json.RawMessage(`{"summary":"x"}`)}, v)
	var mf *MissingFieldsError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, []string{"channel", "customer_name", "customer_contact"}, mf.Fields)

	inv, err = Parse(Call{Name: "schedule_visit", Arguments: json.RawMessage(`{"preferred_date":"2025-03-10","preferred_time":"tarde","contact_name":"Ana"}`)}, v)
	require.NoError(t, err)
	visit := inv.(VisitRequest)
	assert.Equal(t, "Ana", visit.Lead.ContactName)
	assert.Equal(t, "tarde", visit.PreferredTime)
}

func TestVisitStart(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)

	cases := []struct {
		date, clock string
		want        time.Time
		note        string
	}{
		{"2025-03-10", "mañana", time.Date(2025, 3, 10, 10, 0, 0, 0, loc), "Preferencia: mañana"},
		{"2025-03-10", "Manana", time.Date(2025, 3, 10, 10, 0, 0, 0, loc), "Preferencia: manana"},
		{"2025-03-10", "tarde", time.Date(2025, 3, 10, 16, 0, 0, 0, loc), "Preferencia: tarde"},
		{"2025-03-10", "09:30", time.Date(2025, 3, 10, 9, 30, 0, 0, loc), ""},
		{"2025-03-10", "09:30:15", time.Date(2025, 3, 10, 9, 30, 15, 0, loc), ""},
		{"2025-03-10", "4:15 pm", time.Date(2025, 3, 10, 16, 15, 0, 0, loc), ""},
		{"2025-03-10", "11 a.m.", time.Date(2025, 3, 10, 11, 0, 0, 0, loc), ""},
	}
	for _, tc := range cases {
		got, note, err := visitStart(tc.date, tc.clock, loc)
		require.NoError(t, err, tc.clock)
		assert.True(t, tc.want.Equal(got), "%s: got %s", tc.clock, got)
		assert.Equal(t, tc.note, note)
	}

	for _, bad := range [][2]string{{"10/03/2025", "10:00"}, {"2025-03-10", "noche"}, {"2025-03-10", "25:00"}} {
		_, _, err := visitStart(bad[0], bad[1], loc)
		assert.ErrorIs(t, err, ErrInvalidDatetime)
	}
}

func TestBestContact(t *testing.T) {
	assert.Equal(t, "sofia garcia", fold("Sofía García"))
	assert.Equal(t, []string{"director", "admisiones"}, tokens("¿Quién es el director de Admisiones?"))
}
