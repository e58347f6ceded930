package entity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is returned for a draft missing a required field.
var ErrValidation = errors.New("validation failed")

// Package is one internet service package offered on the site. ID is
// assigned by the server; a package without one is a draft.
type Package struct {
	ID       *int64   `json:"id,omitempty"`
	Name     string   `json:"name"`
	Speed    string   `json:"speed"`
	Price    string   `json:"price"`
	Features []string `json:"features"`
}

// Draft is the package creation form. Features is kept as the raw
// comma-separated input.
type Draft struct {
	Name     string
	Speed    string
	Price    string
	Features string
}

// Draft form fields.
const (
	FieldName     = "name"
	FieldSpeed    = "speed"
	FieldPrice    = "price"
	FieldFeatures = "features"
)

// Set assigns one form field by name.
func (d *Draft) Set(field, value string) error {
	switch field {
	case FieldName:
		d.Name = value
	case FieldSpeed:
		d.Speed = value
	case FieldPrice:
		d.Price = value
	case FieldFeatures:
		d.Features = value
	default:
		return fmt.Errorf("unknown package field %q", field)
	}
	return nil
}

// Validate requires name, speed and price. An empty feature list is fine.
func (d Draft) Validate() error {
	var missing []string
	if strings.TrimSpace(d.Name) == "" {
		missing = append(missing, FieldName)
	}
	if strings.TrimSpace(d.Speed) == "" {
		missing = append(missing, FieldSpeed)
	}
	if strings.TrimSpace(d.Price) == "" {
		missing = append(missing, FieldPrice)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Package converts the draft into the create request body.
func (d Draft) Package() Package {
	return Package{
		Name:     strings.TrimSpace(d.Name),
		Speed:    strings.TrimSpace(d.Speed),
		Price:    strings.TrimSpace(d.Price),
		Features: ParseFeatures(d.Features),
	}
}

// ParseFeatures splits a comma-separated list, trimming entries and
// dropping empty ones. The result is never nil.
func ParseFeatures(s string) []string {
	out := []string{}
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
