// Package storage - identity persistence with mutation history
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"identity-orchestrator/internal/models"
)

// IdentityStore handles identity database operations
type IdentityStore struct {
	db *Database
}

// NewIdentityStore creates a new IdentityStore
func NewIdentityStore(db *Database) *IdentityStore {
	return &IdentityStore{db: db}
}

// Save inserts or replaces the identity of a profile together with its mutation list
func (s *IdentityStore) Save(identity models.Identity) error {
	traits, err := json.Marshal(identity.Traits)
	if err != nil {
		return fmt.Errorf("failed to encode traits: %w", err)
	}
	behavior, err := json.Marshal(identity.BehaviorPattern)
	if err != nil {
		return fmt.Errorf("failed to encode behavior pattern: %w", err)
	}

	err = s.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO identities (profile_id, id, generation, consistency, traits, behavior, created_at, last_mutated_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(profile_id) DO UPDATE SET
				id = excluded.id,
				generation = excluded.generation,
				consistency = excluded.consistency,
				traits = excluded.traits,
				behavior = excluded.behavior,
				last_mutated_at = excluded.last_mutated_at,
				updated_at = excluded.updated_at
		`, identity.ProfileID, identity.ID, identity.Generation, identity.Consistency,
			string(traits), string(behavior), identity.CreatedAt, identity.LastMutatedAt, time.Now())
		if err != nil {
			return fmt.Errorf("failed to save identity: %w", err)
		}

		// the in-memory list is already capped, so the table mirrors it
		if _, err := tx.Exec(`DELETE FROM identity_mutations WHERE profile_id = ?`, identity.ProfileID); err != nil {
			return fmt.Errorf("failed to clear mutations: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO identity_mutations (id, profile_id, seq, field, old_value, new_value, reason, gradual, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare mutation insert: %w", err)
		}
		defer stmt.Close()

		for seq, m := range identity.Mutations {
			oldValue, err := json.Marshal(m.OldValue)
			if err != nil {
				return fmt.Errorf("failed to encode mutation %s: %w", m.ID, err)
			}
			newValue, err := json.Marshal(m.NewValue)
			if err != nil {
				return fmt.Errorf("failed to encode mutation %s: %w", m.ID, err)
			}
			if _, err := stmt.Exec(m.ID, identity.ProfileID, seq, m.Field,
				string(oldValue), string(newValue), string(m.Reason), m.Gradual, m.Timestamp); err != nil {
				return fmt.Errorf("failed to save mutation %s: %w", m.ID, err)
			}
		}
		return nil
	})
	return err
}

// Get retrieves the identity of a profile, or ErrNotFound
func (s *IdentityStore) Get(profileID string) (models.Identity, error) {
	var (
		identity         models.Identity
		traits, behavior string
	)
	err := s.db.db.QueryRow(`
		SELECT profile_id, id, generation, consistency, traits, behavior, created_at, last_mutated_at
		FROM identities WHERE profile_id = ?
	`, profileID).Scan(
		&identity.ProfileID, &identity.ID, &identity.Generation, &identity.Consistency,
		&traits, &behavior, &identity.CreatedAt, &identity.LastMutatedAt,
	)
	if err == sql.ErrNoRows {
		return models.Identity{}, fmt.Errorf("identity for profile %s: %w", profileID, ErrNotFound)
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to get identity: %w", err)
	}
	if err := decodeIdentity(&identity, traits, behavior); err != nil {
		return models.Identity{}, err
	}

	mutations, err := s.mutations(`WHERE profile_id = ?`, profileID)
	if err != nil {
		return models.Identity{}, err
	}
	identity.Mutations = mutations[profileID]
	if identity.Mutations == nil {
		identity.Mutations = []models.MutationRecord{}
	}
	return identity, nil
}

// List returns every stored identity ordered by profile id
func (s *IdentityStore) List() ([]models.Identity, error) {
	rows, err := s.db.db.Query(`
		SELECT profile_id, id, generation, consistency, traits, behavior, created_at, last_mutated_at
		FROM identities ORDER BY profile_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}

	var identities []models.Identity
	for rows.Next() {
		var (
			identity         models.Identity
			traits, behavior string
		)
		if err := rows.Scan(
			&identity.ProfileID, &identity.ID, &identity.Generation, &identity.Consistency,
			&traits, &behavior, &identity.CreatedAt, &identity.LastMutatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		if err := decodeIdentity(&identity, traits, behavior); err != nil {
			rows.Close()
			return nil, err
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// mutations are loaded after the identity cursor is closed: the pool holds one connection
	mutations, err := s.mutations("")
	if err != nil {
		return nil, err
	}
	for i := range identities {
		identities[i].Mutations = mutations[identities[i].ProfileID]
		if identities[i].Mutations == nil {
			identities[i].Mutations = []models.MutationRecord{}
		}
	}
	return identities, nil
}

// Delete removes the identity of a profile and its mutation history
func (s *IdentityStore) Delete(profileID string) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM identity_mutations WHERE profile_id = ?`, profileID); err != nil {
			return fmt.Errorf("failed to delete mutations: %w", err)
		}
		result, err := tx.Exec(`DELETE FROM identities WHERE profile_id = ?`, profileID)
		if err != nil {
			return fmt.Errorf("failed to delete identity: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("identity for profile %s: %w", profileID, ErrNotFound)
		}
		return nil
	})
}

// mutations loads mutation records grouped by profile, in append order
func (s *IdentityStore) mutations(where string, args ...any) (map[string][]models.MutationRecord, error) {
	rows, err := s.db.db.Query(`
		SELECT id, profile_id, field, old_value, new_value, reason, gradual, created_at
		FROM identity_mutations `+where+`
		ORDER BY profile_id, seq
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get mutations: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.MutationRecord)
	for rows.Next() {
		var (
			m                  models.MutationRecord
			profileID          string
			oldValue, newValue string
			reason             string
		)
		if err := rows.Scan(&m.ID, &profileID, &m.Field, &oldValue, &newValue, &reason, &m.Gradual, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		if err := json.Unmarshal([]byte(oldValue), &m.OldValue); err != nil {
			return nil, fmt.Errorf("failed to decode mutation %s: %w", m.ID, err)
		}
		if err := json.Unmarshal([]byte(newValue), &m.NewValue); err != nil {
			return nil, fmt.Errorf("failed to decode mutation %s: %w", m.ID, err)
		}
		m.Reason = models.MutationReason(reason)
		out[profileID] = append(out[profileID], m)
	}
	return out, rows.Err()
}

func decodeIdentity(identity *models.Identity, traits, behavior string) error {
	if err := json.Unmarshal([]byte(traits), &identity.Traits); err != nil {
		return fmt.Errorf("failed to decode traits of %s: %w", identity.ProfileID, err)
	}
	if err := json.Unmarshal([]byte(behavior), &identity.BehaviorPattern); err != nil {
		return fmt.Errorf("failed to decode behavior pattern of %s: %w", identity.ProfileID, err)
	}
	return nil
}
