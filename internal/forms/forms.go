// Package forms classifies form fields into a controlled vocabulary and
// identifies submit controls, so the bridge can autofill by field meaning
// rather than raw selectors.
package forms

import (
	"strings"
)

// Field types. Anything unrecognized falls back to FieldText.
const (
	FieldEmail    = "email"
	FieldPassword = "password"
	FieldName     = "name"
	FieldPhone    = "phone"
	FieldText     = "text"
)

// RawField is what the in-page detection script reports per input.
type RawField struct {
	Name         string `json:"name"`
	ID           string `json:"id"`
	Type         string `json:"type"`
	Placeholder  string `json:"placeholder"`
	Autocomplete string `json:"autocomplete"`
	Label        string `json:"label"`
	Selector     string `json:"selector"`
}

// RawForm is one form-like grouping from the detection script.
type RawForm struct {
	Selector string      `json:"selector"`
	Fields   []RawField  `json:"fields"`
	Buttons  []RawButton `json:"buttons"`
}

// RawButton is a candidate submit control.
type RawButton struct {
	Selector string `json:"selector"`
	Type     string `json:"type"`
	Text     string `json:"text"`
}

// FieldDescriptor is a classified field addressable for autofill.
type FieldDescriptor struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	Selector  string `json:"selector"`
	FieldType string `json:"fieldType"`
}

// FormRecord describes one detected form. Records are addressed by their
// position in the detection result (formIndex).
type FormRecord struct {
	Index        int               `json:"index"`
	Selector     string            `json:"selector"`
	Fields       []FieldDescriptor `json:"fields"`
	SubmitButton string            `json:"submitButton,omitempty"`
}

// Classify maps a raw field onto the controlled vocabulary using its
// type/name/id/placeholder/autocomplete hints, checked in that order.
func Classify(f RawField) string {
	typ := strings.ToLower(f.Type)
	switch typ {
	case "email":
		return FieldEmail
	case "password":
		return FieldPassword
	case "tel":
		return FieldPhone
	}

	hints := strings.ToLower(strings.Join([]string{
		f.Autocomplete, f.Name, f.ID, f.Placeholder, f.Label,
	}, " "))

	switch {
	case containsAny(hints, "email", "e-mail"):
		return FieldEmail
	case containsAny(hints, "password", "passwd", "pwd"):
		return FieldPassword
	case containsAny(hints, "phone", "mobile", "tel"):
		return FieldPhone
	case containsAny(hints, "name", "fname", "lname", "surname"):
		return FieldName
	default:
		return FieldText
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Build turns raw detection output into ordered form records.
func Build(raw []RawForm) []FormRecord {
	records := make([]FormRecord, 0, len(raw))
	for i, rf := range raw {
		rec := FormRecord{
			Index:    i,
			Selector: rf.Selector,
			Fields:   make([]FieldDescriptor, 0, len(rf.Fields)),
		}
		for _, f := range rf.Fields {
			rec.Fields = append(rec.Fields, FieldDescriptor{
				Name:      f.Name,
				ID:        f.ID,
				Selector:  f.Selector,
				FieldType: Classify(f),
			})
		}
		rec.SubmitButton = pickSubmit(rf.Buttons)
		records = append(records, rec)
	}
	return records
}

// pickSubmit chooses the likeliest submit control: explicit type=submit
// first, then button text that reads like a submission, then the last
// button in the form (conventional placement).
func pickSubmit(buttons []RawButton) string {
	for _, b := range buttons {
		if strings.EqualFold(b.Type, "submit") {
			return b.Selector
		}
	}
	for _, b := range buttons {
		text := strings.ToLower(b.Text)
		if containsAny(text, "submit", "sign in", "sign up", "log in", "login", "register", "continue", "search", "send", "go") {
			return b.Selector
		}
	}
	if len(buttons) > 0 {
		return buttons[len(buttons)-1].Selector
	}
	return ""
}

// MatchField finds the field for an autofill key: inferred field type
// first, then raw name/id. Returns nil when nothing matches.
func MatchField(rec *FormRecord, key string) *FieldDescriptor {
	k := strings.ToLower(key)
	for i := range rec.Fields {
		if rec.Fields[i].FieldType == k {
			return &rec.Fields[i]
		}
	}
	for i := range rec.Fields {
		if strings.EqualFold(rec.Fields[i].Name, key) || strings.EqualFold(rec.Fields[i].ID, key) {
			return &rec.Fields[i]
		}
	}
	return nil
}
