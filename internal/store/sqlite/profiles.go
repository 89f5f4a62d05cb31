// Package sqlite provides the standalone-mode profile store backed by a
// local SQLite database file.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/nutribot/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL DEFAULT '',
	age                  INTEGER NOT NULL DEFAULT 0,
	medical_conditions   TEXT NOT NULL DEFAULT '',
	current_medications  TEXT NOT NULL DEFAULT '',
	dietary_restrictions TEXT NOT NULL DEFAULT '',
	food_allergies       TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'NOT_STARTED',
	last_question_asked  TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL,
	completed_at         TIMESTAMP
);
`

// ProfileStore implements store.ProfileStore on SQLite.
type ProfileStore struct {
	db *sql.DB
}

// NewProfileStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store in tests.
func NewProfileStore(path string) (*ProfileStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single connection: modernc sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &ProfileStore{db: db}, nil
}

func (s *ProfileStore) Get(id string) (*store.Profile, error) {
	p := &store.Profile{}
	var completedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, name, age, medical_conditions, current_medications,
		        dietary_restrictions, food_allergies, status, last_question_asked,
		        created_at, updated_at, completed_at
		 FROM profiles WHERE id = ?`, id,
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

func (s *ProfileStore) Save(p *store.Profile) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		    name = excluded.name, age = excluded.age,
		    medical_conditions = excluded.medical_conditions,
		    current_medications = excluded.current_medications,
		    dietary_restrictions = excluded.dietary_restrictions,
		    food_allergies = excluded.food_allergies,
		    status = excluded.status,
		    last_question_asked = excluded.last_question_asked,
		    updated_at = excluded.updated_at,
		    completed_at = excluded.completed_at`,
		p.ID, p.Name, p.Age, p.MedicalConditions, p.CurrentMedications,
		p.DietaryRestrictions, p.FoodAllergies, p.Status, p.LastQuestionAsked,
		p.CreatedAt, p.UpdatedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *ProfileStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

func (s *ProfileStore) List() ([]*store.Profile, error) {
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

func (s *ProfileStore) Close() error {
	return s.db.Close()
}
