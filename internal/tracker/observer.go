package tracker

// RemoveReason says why a record left the store.
type RemoveReason string

const (
	// RemoveCleanup means the caller requested cleanup without retention.
	RemoveCleanup RemoveReason = "cleanup"
	// RemoveSwept means the garbage collector reclaimed the record.
	RemoveSwept RemoveReason = "swept"
)

// Observer receives lifecycle notifications from an Executor.
//
// Observers are called synchronously while the executor holds its lock, in
// the order the events happen. They must not call back into the Executor.
type Observer interface {
	// Dispatched is called for every dispatch. deduped is true when an
	// existing record answered the signature and no transport call was made.
	Dispatched(area string, snap Snapshot, deduped bool)

	// Settled is called once per record, when it becomes terminal.
	Settled(area string, snap Snapshot)

	// Removed is called when a record leaves the store.
	Removed(area string, snap Snapshot, reason RemoveReason)

	// StaleCompletion is called when a transport call settles after its
	// record was removed, or after Close stopped accepting settlements. The
	// completion is dropped.
	StaleCompletion(area string, id string)
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// the notifications you need.
type NopObserver struct{}

func (NopObserver) Dispatched(string, Snapshot, bool) {}
func (NopObserver) Settled(string, Snapshot) {}
func (NopObserver) Removed(string, Snapshot, RemoveReason) {}
func (NopObserver) StaleCompletion(string, string) {}
