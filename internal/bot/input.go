package bot

import (
	"errors"
	"strings"

	"github.com/parusinf/timesheets-parus-bot/internal/models"
)

// Validation errors. They are answered inline and never change state.
var (
	ErrInvalidTaxID    = errors.New("tax id must contain 10 digits")
	ErrInvalidFullName = errors.New("full name must contain family and first name")
)

const taxIDLength = 10

// ValidateTaxID accepts exactly ten ASCII digits.
func ValidateTaxID(s string) error {
	if len(s) != taxIDLength {
		return ErrInvalidTaxID
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return ErrInvalidTaxID
		}
	}
	return nil
}

// ParseFullName splits "Family First [Middle]". Everything after the first
// name is the middle name; when it is omitted Middle stays nil.
func ParseFullName(s string) (models.PersonName, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return models.PersonName{}, ErrInvalidFullName
	}

	name := models.PersonName{Family: fields[0], First: fields[1]}
	if len(fields) > 2 {
		middle := strings.Join(fields[2:], " ")
		name.Middle = &middle
	}
	return name, nil
}

// normalizeCommand returns the command carried by an event, treating a
// plain-text "cancel" as the command.
func normalizeCommand(ev Event) (string, bool) {
	switch ev.Kind {
	case KindCommand:
		cmd := strings.TrimPrefix(strings.TrimSpace(ev.Command), "/")
		// strip a "@botname" suffix
		if before, _, ok := strings.Cut(cmd, "@"); ok {
			cmd = before
		}
		return strings.ToLower(cmd), true
	case KindText:
		if strings.EqualFold(strings.TrimSpace(ev.Text), CommandCancel) {
			return CommandCancel, true
		}
	}
	return "", false
}
