package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"famschedule/internal/model"
	"famschedule/internal/recurrence"
)

// EventRepository stores event definitions. Expanded instances are never
// persisted; instance IDs passed to Get, Update or Delete address their
// definition.
type EventRepository struct {
	db *DB
}

const eventColumns = `id, title, description, location, color, start_at, end_at, tz,
	all_day, recurrence, recurrence_custom, importance, guest_ids, source, owner_id, external_id`

// Create inserts ev, assigning an ID when it has none.
func (r *EventRepository) Create(ctx context.Context, ev *model.Event) error {
	prepareEvent(ev)
	if err := insertEvent(ctx, r.db, ev); err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// Get returns the definition addressed by id (definition or instance ID).
func (r *EventRepository) Get(ctx context.Context, id string) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, recurrence.DefinitionID(id))

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return &ev, nil
}

// Update overwrites the definition addressed by ev.ID.
func (r *EventRepository) Update(ctx context.Context, ev *model.Event) error {
	ev.ID = recurrence.DefinitionID(ev.ID)
	prepareEvent(ev)

	guests, err := json.Marshal(ev.GuestIDs)
	if err != nil {
		return fmt.Errorf("encoding guests: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE events SET
			title = ?, description = ?, location = ?, color = ?, start_at = ?, end_at = ?, tz = ?,
			all_day = ?, recurrence = ?, recurrence_custom = ?, importance = ?, guest_ids = ?,
			source = ?, owner_id = ?, external_id = ?
		WHERE id = ?
	`,
		ev.Title, ev.Description, ev.Location, ev.Color,
		formatTime(ev.Start), formatTime(ev.End), ev.Start.Location().String(),
		ev.AllDay, string(ev.Recurrence), ev.RecurrenceCustom, ev.Importance, string(guests),
		ev.Source, ev.OwnerID, ev.ExternalID, ev.ID,
	)
	if err != nil {
		return fmt.Errorf("updating event: %w", err)
	}
	return requireAffected(res)
}

// Delete removes the definition addressed by id.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, recurrence.DefinitionID(id))
	if err != nil {
		return fmt.Errorf("deleting event: %w", err)
	}
	return requireAffected(res)
}

// List returns every stored definition ordered by start.
func (r *EventRepository) List(ctx context.Context) ([]model.Event, error) {
	return r.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY start_at, id`)
}

// ListByOwner returns the definitions occupying ownerID's time. An empty
// ownerID selects the application user's events.
func (r *EventRepository) ListByOwner(ctx context.Context, ownerID string) ([]model.Event, error) {
	return r.query(ctx, `SELECT `+eventColumns+` FROM events WHERE owner_id = ? ORDER BY start_at, id`, ownerID)
}

// ReplaceFeed atomically swaps every event imported from source for events.
func (r *EventRepository) ReplaceFeed(ctx context.Context, source string, events []model.Event) error {
	return r.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE source = ?`, source); err != nil {
			return fmt.Errorf("clearing feed %s: %w", source, err)
		}
		for i := range events {
			ev := events[i]
			ev.Source = source
			prepareEvent(&ev)
			if err := insertEvent(ctx, tx, &ev); err != nil {
				return fmt.Errorf("inserting feed event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

func (r *EventRepository) query(ctx context.Context, q string, args ...any) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func prepareEvent(ev *model.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Source == "" {
		ev.Source = model.SourceLocal
	}
	ev.Recurrence = model.ParseRecurrence(string(ev.Recurrence))
	if ev.GuestIDs == nil {
		ev.GuestIDs = []string{}
	}
}

func insertEvent(ctx context.Context, q queryable, ev *model.Event) error {
	guests, err := json.Marshal(ev.GuestIDs)
	if err != nil {
		return fmt.Errorf("encoding guests: %w", err)
	}

	_, err = q.ExecContext(ctx, `INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Title, ev.Description, ev.Location, ev.Color,
		formatTime(ev.Start), formatTime(ev.End), ev.Start.Location().String(),
		ev.AllDay, string(ev.Recurrence), ev.RecurrenceCustom, ev.Importance, string(guests),
		ev.Source, ev.OwnerID, ev.ExternalID,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (model.Event, error) {
	var (
		ev             model.Event
		start, end, tz string
		rec, guests    string
	)
	if err := s.Scan(
		&ev.ID, &ev.Title, &ev.Description, &ev.Location, &ev.Color,
		&start, &end, &tz,
		&ev.AllDay, &rec, &ev.RecurrenceCustom, &ev.Importance, &guests,
		&ev.Source, &ev.OwnerID, &ev.ExternalID,
	); err != nil {
		return ev, err
	}

	var err error
	if ev.Start, err = parseTime(start, tz); err != nil {
		return ev, fmt.Errorf("event %s start: %w", ev.ID, err)
	}
	if ev.End, err = parseTime(end, tz); err != nil {
		return ev, fmt.Errorf("event %s end: %w", ev.ID, err)
	}
	ev.Recurrence = model.ParseRecurrence(rec)
	if err := json.Unmarshal([]byte(guests), &ev.GuestIDs); err != nil {
		return ev, fmt.Errorf("event %s guests: %w", ev.ID, err)
	}
	return ev, nil
}

// storedTime keeps a fixed number of fractional digits so stored values
// sort lexically within one offset. time.RFC3339Nano parses it back.
const storedTime = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.Format(storedTime)
}

// parseTime restores an instant and, when tz names a loadable zone, its
// location, so recurrence arithmetic keeps working in the original zone.
func parseTime(v, tz string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return t, err
	}
	if tz == "" || tz == "Local" {
		return t, nil
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		return t.In(loc), nil
	}
	return t, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
