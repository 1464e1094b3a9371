package domain

// Status labels visible on the ticket store.
const (
	LabelReady         = "ready"
	LabelInProgress    = "in-progress"
	LabelNeedsInput    = "needs-input"
	LabelReviewNeeded  = "review-needed"
	LabelCompleted     = "completed"
	LabelUnrecoverable = "unrecoverable-state"
	LabelEpic          = "epic"
)

// Prefixes for qualified labels (phase:dev, wave:2, epic:7, violation:scope).
const (
	PhaseLabelPrefix     = "phase:"
	WaveLabelPrefix      = "wave:"
	EpicLabelPrefix      = "epic:"
	ViolationLabelPrefix = "violation:"
)

// WorkItem is one unit of trackable work, backed by a store issue.
type WorkItem struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	State     string   `json:"state" enum:"open,closed"`
	Phase     string   `json:"phase"`
	Labels    []string `json:"labels,omitempty"`
	Assignee  string   `json:"assignee,omitempty"`
	Epic      int      `json:"epic,omitempty"`
	Wave      string   `json:"wave,omitempty"`
	Revision  int64    `json:"revision"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
	ClosedAt  *string  `json:"closed_at,omitempty" format:"date-time"`
}

// Epic groups child work items into ordered waves. Epics are themselves
// issues carrying the "epic" label; children reference them via epic:<n>.
type Epic struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Waves      int    `json:"waves"`
	ActiveWave string `json:"active_wave,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// WaveStatus summarizes one wave of an epic's plan.
type WaveStatus struct {
	Wave     string `json:"wave"`
	Total    int    `json:"total"`
	Done     int    `json:"done"`
	Eligible bool   `json:"eligible"`
	Active   bool   `json:"active,omitempty"`
}

// ScopeDeclaration is a write-once claim of exclusive and excluded
// resources for a work item. It lives in the item's comment stream and
// expires when the item closes.
type ScopeDeclaration struct {
	Item      int      `json:"item"`
	ActorID   string   `json:"actor_id"`
	Claimed   []string `json:"claimed"`
	Excluded  []string `json:"excluded,omitempty"`
	Sequence  int64    `json:"sequence"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

// ScopeConflict is an advisory overlap between two declarations.
type ScopeConflict struct {
	Item      int      `json:"item"`
	Other     int      `json:"other"`
	Resources []string `json:"resources"`
	Resolved  bool     `json:"resolved"`
}

// StatusEvent is one comment in a work item's history.
type StatusEvent struct {
	ID        int64  `json:"id"`
	Item      int    `json:"item"`
	ActorID   string `json:"actor_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Violation tracks repeat rule breaches for one (actor, kind, item) key.
type Violation struct {
	ID        string `json:"id"`
	Item      int    `json:"item"`
	ActorID   string `json:"actor_id"`
	Kind      string `json:"kind"`
	Count     int    `json:"count"`
	Level     string `json:"level" enum:"reminder,warning,block"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Escalation addresses a human maintainer when review cycles run away.
type Escalation struct {
	Item      int    `json:"item"`
	Cycle     int    `json:"cycle"`
	Addressee string `json:"addressee"`
	Note      string `json:"note"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is one row of the engine's append-only audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Epic       string `json:"epic,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
