package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"famschedule/internal/model"
)

// ParticipantRepository stores the user's contacts.
type ParticipantRepository struct {
	db *DB
}

func (r *ParticipantRepository) Create(ctx context.Context, p *model.Participant) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Priority <= 0 {
		p.Priority = 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO participants (id, name, email, group_type, priority) VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Email, p.GroupType, p.Priority)
	if err != nil {
		return fmt.Errorf("inserting participant: %w", err)
	}
	return nil
}

func (r *ParticipantRepository) Get(ctx context.Context, id string) (*model.Participant, error) {
	var p model.Participant
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, group_type, priority FROM participants WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.GroupType, &p.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying participant: %w", err)
	}
	return &p, nil
}

// List returns every participant, most important first.
func (r *ParticipantRepository) List(ctx context.Context) ([]model.Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, email, group_type, priority FROM participants ORDER BY priority, name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	out := []model.Participant{}
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.GroupType, &p.Priority); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ParticipantRepository) Update(ctx context.Context, p *model.Participant) error {
	if p.Priority <= 0 {
		p.Priority = 1
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE participants SET name = ?, email = ?, group_type = ?, priority = ? WHERE id = ?
	`, p.Name, p.Email, p.GroupType, p.Priority, p.ID)
	if err != nil {
		return fmt.Errorf("updating participant: %w", err)
	}
	return requireAffected(res)
}

// Delete removes the participant; group memberships go with it.
func (r *ParticipantRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM participants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting participant: %w", err)
	}
	return requireAffected(res)
}
