package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a profile does not exist.
var ErrNotFound = errors.New("profile not found")

// Profiling status values.
const (
	StatusNotStarted = "NOT_STARTED"
	StatusInProgress = "IN_PROGRESS"
	StatusComplete   = "COMPLETE"
)

// Intake field names, in ask order.
const (
	FieldName                 = "name"
	FieldMedicalConditions    = "medical_conditions"
	FieldCurrentMedications   = "current_medications"
	FieldRestrictionsOrAllerg = "dietary_restrictions_or_allergies"
)

// Profile is a patient's intake record, keyed by the channel sender ID.
// Medical list fields are stored as comma-separated strings.
type Profile struct {
	ID                  string     `json:"id"` // conversation sender ID, e.g. "whatsapp:+5215512345678"
	Name                string     `json:"name,omitempty"`
	Age                 int        `json:"age,omitempty"`
	MedicalConditions   string     `json:"medical_conditions,omitempty"`  // e.g. "CKD Stage 3, Diabetes Type 2"
	CurrentMedications  string     `json:"current_medications,omitempty"` // e.g. "Warfarin, Lisinopril"
	DietaryRestrictions string     `json:"dietary_restrictions,omitempty"`
	FoodAllergies       string     `json:"food_allergies,omitempty"`
	Status              string     `json:"status"`
	LastQuestionAsked   string     `json:"last_question_asked,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	CompletedAt         *time.Time `json:"profiling_completed_at,omitempty"`
}

// MissingFields returns the intake fields not yet filled, in ask order.
// Restrictions and allergies count as one slot: answering either suffices.
func (p *Profile) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, FieldName)
	}
	if strings.TrimSpace(p.MedicalConditions) == "" {
		missing = append(missing, FieldMedicalConditions)
	}
	if strings.TrimSpace(p.CurrentMedications) == "" {
		missing = append(missing, FieldCurrentMedications)
	}
	if strings.TrimSpace(p.DietaryRestrictions) == "" && strings.TrimSpace(p.FoodAllergies) == "" {
		missing = append(missing, FieldRestrictionsOrAllerg)
	}
	return missing
}

// IsComplete reports whether every intake field has been collected.
func (p *Profile) IsComplete() bool {
	return len(p.MissingFields()) == 0
}

// ContextString renders the profile as compact prompt context. It is fed
// to the dietitian prompt and the retriever for safety filtering.
func (p *Profile) ContextString() string {
	var parts []string
	if p.Name != "" {
		parts = append(parts, "Patient: "+p.Name)
	}
	if p.Age > 0 {
		parts = append(parts, fmt.Sprintf("Age: %d", p.Age))
	}
	if p.MedicalConditions != "" {
		parts = append(parts, "Medical Conditions: "+p.MedicalConditions)
	}
	if p.CurrentMedications != "" {
		parts = append(parts, "Current Medications: "+p.CurrentMedications)
	}
	if p.DietaryRestrictions != "" {
		parts = append(parts, "Dietary Restrictions: "+p.DietaryRestrictions)
	}
	if p.FoodAllergies != "" {
		parts = append(parts, "Food Allergies: "+p.FoodAllergies)
	}
	return strings.Join(parts, "\n")
}

// ProfileStore persists patient profiles.
type ProfileStore interface {
	// Get returns the profile for id, or ErrNotFound.
	Get(id string) (*Profile, error)
	// Save inserts or updates the profile. Timestamps are managed by
	// the store: CreatedAt on first insert, UpdatedAt on every save.
	Save(p *Profile) error
	// Delete removes the profile. Deleting a missing id is not an error.
	Delete(id string) error
	// List returns all profiles ordered by most recently updated.
	List() ([]*Profile, error)
	// Close releases the underlying database handle.
	Close() error
}
