package model

import (
	"sort"
	"strings"
	"time"
)

// Recurrence is the repeat rule attached to an event definition.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceYearly  Recurrence = "yearly"
	// RecurrenceCustom carries a human-readable rule in Event.RecurrenceCustom
	// and is never expanded.
	RecurrenceCustom Recurrence = "custom"
)

// ParseRecurrence normalizes a stored or user-supplied recurrence value.
// Anything outside the known set is treated as RecurrenceNone.
func ParseRecurrence(s string) Recurrence {
	switch r := Recurrence(strings.ToLower(strings.TrimSpace(s))); r {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly, RecurrenceCustom:
		return r
	default:
		return RecurrenceNone
	}
}

// Repeats reports whether the recurrence is mechanically expanded.
func (r Recurrence) Repeats() bool {
	switch r {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
		return true
	default:
		return false
	}
}

// SourceLocal marks events created through the API rather than imported
// from a feed. Imported events carry the feed ID as Source.
const SourceLocal = "local"

// Event is a scheduled block of time. Stored events are definitions;
// recurrence expansion produces instances that share every field except
// ID, Start and End.
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Color       string `json:"color,omitempty"`

	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`

	Recurrence       Recurrence `json:"recurrence"`
	RecurrenceCustom string     `json:"recurrence_custom,omitempty"`

	Importance string   `json:"importance,omitempty"`
	GuestIDs   []string `json:"guest_ids,omitempty"`

	// Source is SourceLocal or the ID of the feed the event was imported from.
	Source string `json:"source"`
	// OwnerID is the participant whose time this event occupies. Empty means
	// the application user.
	OwnerID string `json:"owner_id,omitempty"`
	// ExternalID is the UID assigned by the external calendar, if any.
	ExternalID string `json:"external_id,omitempty"`
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Participant is a contact the user schedules with. Lower Priority values
// are more important; 1 is the most important rank.
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	GroupType string `json:"group_type,omitempty"`
	Priority  int    `json:"priority"`
}

// SortByPriority returns a copy of ps ordered most-important first. Equal
// ranks keep their input order.
func SortByPriority(ps []Participant) []Participant {
	out := make([]Participant, len(ps))
	copy(out, ps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Group is a named set of participants, e.g. a family.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type,omitempty"`
	Priority  int      `json:"priority"`
	MemberIDs []string `json:"member_ids"`
}

// Slot is a suggested meeting window.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Reason    string    `json:"reason"`
	Conflicts int       `json:"conflicts"`
}

type ResponseStatus string

const (
	ResponsePending  ResponseStatus = "pending"
	ResponseAccepted ResponseStatus = "accepted"
	ResponseDenied   ResponseStatus = "denied"
)

// Valid reports whether s is one of the known response states.
func (s ResponseStatus) Valid() bool {
	switch s {
	case ResponsePending, ResponseAccepted, ResponseDenied:
		return true
	default:
		return false
	}
}

// SelfMemberID identifies the application user in proposal responses.
const SelfMemberID = "current-user"

type ProposalResponse struct {
	MemberID   string         `json:"member_id"`
	MemberName string         `json:"member_name"`
	Status     ResponseStatus `json:"status"`
}

// Proposal is a suggested group event awaiting responses from every member.
type Proposal struct {
	ID             string             `json:"id"`
	GroupID        string             `json:"group_id"`
	Title          string             `json:"title"`
	SuggestedStart time.Time          `json:"suggested_start"`
	SuggestedEnd   time.Time          `json:"suggested_end"`
	Responses      []ProposalResponse `json:"responses"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Status folds the individual responses: any denial denies the proposal,
// unanimous acceptance accepts it, otherwise it is still pending.
func (p Proposal) Status() ResponseStatus {
	if len(p.Responses) == 0 {
		return ResponsePending
	}
	accepted := 0
	for _, r := range p.Responses {
		switch r.Status {
		case ResponseDenied:
			return ResponseDenied
		case ResponseAccepted:
			accepted++
		}
	}
	if accepted == len(p.Responses) {
		return ResponseAccepted
	}
	return ResponsePending
}
