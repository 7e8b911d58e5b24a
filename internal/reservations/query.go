package reservations

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConfigurationFilter selects appointment configurations. Nil fields match all.
type ConfigurationFilter struct {
	IDs       []uuid.UUID
	Status    *ConfigurationStatus
	Published *bool
	Date      *time.Time
	From      *time.Time // inclusive
	To        *time.Time // exclusive
}

// SlotFilter selects slots. Nil fields match all.
type SlotFilter struct {
	IDs              []uuid.UUID
	ConfigurationIDs []uuid.UUID
	Status           *SlotStatus
	From             *time.Time // inclusive, on ref_date
	To               *time.Time // inclusive, on ref_date
	ForUpdate        bool
}

type whereBuilder struct {
	conds []string
	args  []any
}

// add appends a condition whose single %s placeholder becomes the next $n.
func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(w.args))))
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func buildConfigurationQuery(f ConfigurationFilter) (string, []any) {
	var w whereBuilder
	if len(f.IDs) > 0 {
		w.add("id = ANY(%s::uuid[])", idStrings(f.IDs))
	}
	if f.Status != nil {
		w.add("status = %s", string(*f.Status))
	}
	if f.Published != nil {
		w.add("is_published = %s", *f.Published)
	}
	if f.Date != nil {
		w.add("appointment_date = %s", dateOnly(*f.Date))
	}
	if f.From != nil {
		w.add("appointment_date >= %s", dateOnly(*f.From))
	}
	if f.To != nil {
		w.add("appointment_date < %s", dateOnly(*f.To))
	}
	return "SELECT " + configurationColumns + " FROM appointment_configurations" + w.sql() +
		" ORDER BY appointment_date", w.args
}

func buildSlotQuery(f SlotFilter) (string, []any) {
	var w whereBuilder
	if len(f.IDs) > 0 {
		w.add("id = ANY(%s::uuid[])", idStrings(f.IDs))
	}
	if len(f.ConfigurationIDs) > 0 {
		w.add("configuration_id = ANY(%s::uuid[])", idStrings(f.ConfigurationIDs))
	}
	if f.Status != nil {
		w.add("status = %s", string(*f.Status))
	}
	if f.From != nil {
		w.add("ref_date >= %s", dateOnly(*f.From))
	}
	if f.To != nil {
		w.add("ref_date <= %s", dateOnly(*f.To))
	}
	q := "SELECT " + slotColumns + " FROM slots" + w.sql() + " ORDER BY ref_date, start_time"
	if f.ForUpdate {
		q += " FOR UPDATE"
	}
	return q, w.args
}
