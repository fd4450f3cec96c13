// -----------------------------------------------------------------------
// Change - Moderated ledger entry produced by a collection run
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"time"
)

// ChangeStatus represents the moderation state of a change
type ChangeStatus string

const (
	ChangeStatusPending      ChangeStatus = "pending"
	ChangeStatusApproved     ChangeStatus = "approved"
	ChangeStatusRejected     ChangeStatus = "rejected"
	ChangeStatusAutoApproved ChangeStatus = "auto_approved"
	ChangeStatusFailed       ChangeStatus = "failed" // Approved but apply hit an integrity error
)

// Reviewed reports whether the change has left the pending state
func (s ChangeStatus) Reviewed() bool {
	return s != ChangeStatusPending
}

// ChangeType represents the entity operation a change proposes
type ChangeType string

const (
	ChangeTypeCreate ChangeType = "create"
	ChangeTypeUpdate ChangeType = "update"
	ChangeTypeDelete ChangeType = "delete"
)

// HintKind classifies the duplicate detector's verdict for a candidate
type HintKind string

const (
	HintNew       HintKind = "NEW"
	HintExisting  HintKind = "EXISTING"
	HintAmbiguous HintKind = "AMBIGUOUS"
)

// DuplicateHint records what the detector found for a collected candidate
type DuplicateHint struct {
	Kind HintKind `json:"kind"`
	// MatchID is the matched entity when Kind is EXISTING
	MatchID string `json:"match_id,omitempty"`
	// CandidateIDs are the colliding entities when Kind is AMBIGUOUS
	CandidateIDs []string `json:"candidate_ids,omitempty"`
}

// FieldDiff describes one proposed field transition.
// Old is the stored value at diff time and doubles as the optimistic
// concurrency check during apply.
type FieldDiff struct {
	Field string `json:"field"`
	Old   string `json:"old,omitempty"`
	New   string `json:"new"`
}

// Change is one reviewable ledger entry. A change transitions out of
// pending exactly once; terminal review states are absorbing.
type Change struct {
	ID         string     `json:"id" badgerhold:"key"`
	EntityType EntityType `json:"entity_type" badgerhold:"index"`
	ChangeType ChangeType `json:"change_type"`

	// EntityID is empty for create changes until apply assigns one
	EntityID string `json:"entity_id,omitempty" badgerhold:"index"`
	JobID    string `json:"job_id" badgerhold:"index"`

	// Payload is the full candidate entity for creates, and is unused
	// for updates (the Diff carries the proposal) and deletes.
	Payload json.RawMessage `json:"payload,omitempty"`
	Diff    []FieldDiff     `json:"diff,omitempty"`

	// BaseVersion is the entity version the diff was computed against
	BaseVersion int `json:"base_version,omitempty"`

	Hint       DuplicateHint `json:"hint"`
	Confidence float64       `json:"confidence"`

	Status        ChangeStatus `json:"status" badgerhold:"index"`
	ReviewedBy    string       `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time   `json:"reviewed_at,omitempty"`
	ReviewNote    string       `json:"review_note,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`

	SourceURL string    `json:"source_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SetPayload marshals the candidate entity into the change
func (c *Change) SetPayload(entity interface{}) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	c.Payload = data
	return nil
}

// DiffFields returns the set of field names the change touches
func (c *Change) DiffFields() []string {
	fields := make([]string, len(c.Diff))
	for i, d := range c.Diff {
		fields[i] = d.Field
	}
	return fields
}
