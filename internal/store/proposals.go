package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"famschedule/internal/model"
)

// ProposalRepository stores suggested group events and member responses.
type ProposalRepository struct {
	db *DB
}

// Create stores p. When p has no responses, one pending response is added
// for the application user (named selfName) and one per member.
func (r *ProposalRepository) Create(ctx context.Context, p *model.Proposal, selfName string, members []model.Participant) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if len(p.Responses) == 0 {
		if selfName == "" {
			selfName = "You"
		}
		p.Responses = append(p.Responses, model.ProposalResponse{
			MemberID: model.SelfMemberID, MemberName: selfName, Status: model.ResponsePending,
		})
		for _, m := range members {
			p.Responses = append(p.Responses, model.ProposalResponse{
				MemberID: m.ID, MemberName: m.Name, Status: model.ResponsePending,
			})
		}
	}

	return r.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO proposals (id, group_id, title, suggested_start, suggested_end, created_at, tz)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.GroupID, p.Title, formatTime(p.SuggestedStart), formatTime(p.SuggestedEnd), formatTime(p.CreatedAt),
			p.SuggestedStart.Location().String()); err != nil {
			return fmt.Errorf("inserting proposal: %w", err)
		}
		for i, resp := range p.Responses {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO proposal_responses (proposal_id, member_id, member_name, status, position)
				VALUES (?, ?, ?, ?, ?)
			`, p.ID, resp.MemberID, resp.MemberName, string(resp.Status), i); err != nil {
				return fmt.Errorf("inserting response for %s: %w", resp.MemberID, err)
			}
		}
		return nil
	})
}

func (r *ProposalRepository) Get(ctx context.Context, id string) (*model.Proposal, error) {
	p, err := scanProposal(r.db.QueryRowContext(ctx, `
		SELECT `+proposalColumns+` FROM proposals WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying proposal: %w", err)
	}
	if p.Responses, err = r.responses(ctx, p.ID); err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns proposals newest first.
func (r *ProposalRepository) List(ctx context.Context) ([]model.Proposal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+proposalColumns+` FROM proposals ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying proposals: %w", err)
	}

	out := []model.Proposal{}
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		if out[i].Responses, err = r.responses(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Respond records memberID's answer. It returns ErrNotFound when the
// proposal or the member's response slot does not exist.
func (r *ProposalRepository) Respond(ctx context.Context, proposalID, memberID string, status model.ResponseStatus) (*model.Proposal, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid response status %q", status)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE proposal_responses SET status = ? WHERE proposal_id = ? AND member_id = ?
	`, string(status), proposalID, memberID)
	if err != nil {
		return nil, fmt.Errorf("updating response: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return r.Get(ctx, proposalID)
}

func (r *ProposalRepository) responses(ctx context.Context, proposalID string) ([]model.ProposalResponse, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT member_id, member_name, status FROM proposal_responses
		WHERE proposal_id = ? ORDER BY position
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("querying responses: %w", err)
	}
	defer rows.Close()

	out := []model.ProposalResponse{}
	for rows.Next() {
		var (
			resp   model.ProposalResponse
			status string
		)
		if err := rows.Scan(&resp.MemberID, &resp.MemberName, &status); err != nil {
			return nil, fmt.Errorf("scanning response: %w", err)
		}
		resp.Status = model.ResponseStatus(status)
		out = append(out, resp)
	}
	return out, rows.Err()
}

const proposalColumns = `id, group_id, title, suggested_start, suggested_end, created_at, tz`

// scanProposal restores every timestamp in the zone the suggestion was
// made in.
func scanProposal(s scanner) (model.Proposal, error) {
	var (
		p                       model.Proposal
		start, end, created, tz string
	)
	if err := s.Scan(&p.ID, &p.GroupID, &p.Title, &start, &end, &created, &tz); err != nil {
		return p, err
	}

	var err error
	if p.SuggestedStart, err = parseTime(start, tz); err != nil {
		return p, err
	}
	if p.SuggestedEnd, err = parseTime(end, tz); err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTime(created, tz); err != nil {
		return p, err
	}
	return p, nil
}
