package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"famschedule/internal/model"
)

// GroupRepository stores contact groups and their ordered member lists.
type GroupRepository struct {
	db *DB
}

func (r *GroupRepository) Create(ctx context.Context, g *model.Group) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Priority <= 0 {
		g.Priority = 1
	}

	return r.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO contact_groups (id, name, type, priority) VALUES (?, ?, ?, ?)
		`, g.ID, g.Name, g.Type, g.Priority); err != nil {
			return fmt.Errorf("inserting group: %w", err)
		}
		return writeMembers(ctx, tx, g)
	})
}

func (r *GroupRepository) Get(ctx context.Context, id string) (*model.Group, error) {
	var g model.Group
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, type, priority FROM contact_groups WHERE id = ?
	`, id).Scan(&g.ID, &g.Name, &g.Type, &g.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying group: %w", err)
	}

	if g.MemberIDs, err = r.memberIDs(ctx, g.ID); err != nil {
		return nil, err
	}
	return &g, nil
}

// List returns every group ordered by priority then name.
func (r *GroupRepository) List(ctx context.Context) ([]model.Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, type, priority FROM contact_groups ORDER BY priority, name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}

	groups := []model.Group{}
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Type, &g.Priority); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range groups {
		if groups[i].MemberIDs, err = r.memberIDs(ctx, groups[i].ID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// Update overwrites the group's fields and member list.
func (r *GroupRepository) Update(ctx context.Context, g *model.Group) error {
	if g.Priority <= 0 {
		g.Priority = 1
	}
	return r.db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE contact_groups SET name = ?, type = ?, priority = ? WHERE id = ?
		`, g.Name, g.Type, g.Priority, g.ID)
		if err != nil {
			return fmt.Errorf("updating group: %w", err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, g.ID); err != nil {
			return fmt.Errorf("clearing members: %w", err)
		}
		return writeMembers(ctx, tx, g)
	})
}

func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM contact_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	return requireAffected(res)
}

// Members resolves the group's members in stored order.
func (r *GroupRepository) Members(ctx context.Context, groupID string) ([]model.Participant, error) {
	if _, err := r.Get(ctx, groupID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.email, p.group_type, p.priority
		FROM group_members m JOIN participants p ON p.id = m.participant_id
		WHERE m.group_id = ?
		ORDER BY m.position
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	out := []model.Participant{}
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.GroupType, &p.Priority); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *GroupRepository) memberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT participant_id FROM group_members WHERE group_id = ? ORDER BY position
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying member ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func writeMembers(ctx context.Context, tx *sql.Tx, g *model.Group) error {
	seen := make(map[string]bool, len(g.MemberIDs))
	for i, id := range g.MemberIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, participant_id, position) VALUES (?, ?, ?)
		`, g.ID, id, i); err != nil {
			return fmt.Errorf("adding member %s: %w", id, err)
		}
	}
	return nil
}
