package pg

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/nutribot/internal/store"
)

// PGProfileStore implements store.ProfileStore backed by Postgres.
type PGProfileStore struct {
	db *sql.DB
}

func NewPGProfileStore(db *sql.DB) *PGProfileStore {
	return &PGProfileStore{db: db}
}

func (s *PGProfileStore) Get(id string) (*store.Profile, error) {
	p := &store.Profile{}
	var completedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, name, age, medical_conditions, current_medications,
		        dietary_restrictions, food_allergies, status, last_question_asked,
		        created_at, updated_at, completed_at
		 FROM profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Age, &p.MedicalConditions, &p.CurrentMedications,
		&p.DietaryRestrictions, &p.FoodAllergies, &p.Status, &p.LastQuestionAsked,
		&p.CreatedAt, &p.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return p, nil
}

func (s *PGProfileStore) Save(p *store.Profile) error {
	now := time.Now()
	if p.Status == "" {
		p.Status = store.StatusNotStarted
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	var completedAt interface{}
	if p.CompletedAt != nil {
		completedAt = *p.CompletedAt
	}

	_, err := s.db.Exec(
		`INSERT INTO profiles (id, name, age, medical_conditions, current_medications,
		    dietary_restrictions, food_allergies, status, last_question_asked,
		    created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		    name = EXCLUDED.name, age = EXCLUDED.age,
		    medical_conditions = EXCLUDED.medical_conditions,
		    current_medications = EXCLUDED.current_medications,
		    dietary_restrictions = EXCLUDED.dietary_restrictions,
		    food_allergies = EXCLUDED.food_allergies,
		    status = EXCLUDED.status,
		    last_question_asked = EXCLUDED.last_question_asked,
		    updated_at = EXCLUDED.updated_at,
		    completed_at = EXCLUDED.completed_at`,
		p.ID, p.Name, p.Age, p.MedicalConditions, p.CurrentMedications,
		p.DietaryRestrictions, p.FoodAllergies, p.Status, p.LastQuestionAsked,
		p.CreatedAt, p.UpdatedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *PGProfileStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

func (s *PGProfileStore) List() ([]*store.Profile, error) {
	rows, err := s.db.Query(
		`SELECT id, name, age, medical_conditions, current_medications,
		        dietary_restrictions, food_allergies, status, last_question_asked,
		        created_at, updated_at, completed_at
		 FROM profiles ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var result []*store.Profile
	for rows.Next() {
		p := &store.Profile{}
		var completedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.Name, &p.Age, &p.MedicalConditions, &p.CurrentMedications,
			&p.DietaryRestrictions, &p.FoodAllergies, &p.Status, &p.LastQuestionAsked,
			&p.CreatedAt, &p.UpdatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if completedAt.Valid {
			p.CompletedAt = &completedAt.Time
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *PGProfileStore) Close() error {
	return s.db.Close()
}
