package domain

// ChangeOp describes what happened to an entity.
type ChangeOp string

const (
	OpCreated ChangeOp = "created"
	OpUpdated ChangeOp = "updated"
	OpDeleted ChangeOp = "deleted"
)

// Change is a notification that an entity was written. It carries identity
// only; observers re-read authoritative state from the store.
type Change struct {
	Entity EntityKind `json:"entity"`
	ID     string     `json:"id"`
	Op     ChangeOp   `json:"op"`
	Seq    int64      `json:"seq,omitempty"`

	// Origin names the remote node a change was relayed from. Empty for
	// changes made by this process.
	Origin string `json:"origin,omitempty"`
}

// Key identifies the entity a change refers to, for coalescing.
func (c Change) Key() string {
	return string(c.Entity) + "/" + c.ID
}

// Notifier receives changes after a write commits. Implementations must not
// block the writer and must tolerate being unavailable.
type Notifier interface {
	Notify(changes ...Change)
}

// NopNotifier discards changes.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(...Change) {}
