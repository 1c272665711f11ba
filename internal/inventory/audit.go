package inventory

import "time"

// Notes attached to audit entries written by the import pipeline.
const (
	NoteImportCreate = "import:create"
	NoteImportUpdate = "import:update"
)

// Actor identifies who triggered a change. It is passed explicitly from the
// entry point down to the audit writer.
type Actor struct {
	RequesterID string `json:"requester_id"`
	IPAddress   string `json:"ip_address,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// AuditEntry is one row of inventory_audit_logs describing a quantity delta
// for a single item.
type AuditEntry struct {
	ID               int64     `json:"id"`
	ItemID           int64     `json:"item_id"`
	RunID            string    `json:"run_id"`
	RequesterID      string    `json:"requester_id"`
	IPAddress        string    `json:"ip_address,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	PreviousQuantity int64     `json:"previous_quantity"`
	CurrentQuantity  int64     `json:"current_quantity"`
	Delta            int64     `json:"delta"`
	Note             string    `json:"note"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewQuantityChange builds an entry moving itemID from previous to current.
func NewQuantityChange(itemID int64, previous, current int64, note, runID string, actor Actor, now time.Time) AuditEntry {
	return AuditEntry{
		ItemID:           itemID,
		RunID:            runID,
		RequesterID:      actor.RequesterID,
		IPAddress:        actor.IPAddress,
		UserAgent:        actor.UserAgent,
		PreviousQuantity: previous,
		CurrentQuantity:  current,
		Delta:            current - previous,
		Note:             note,
		CreatedAt:        now,
	}
}
