// Package txncontext holds the per-held-lock scratch state a caller
// accumulates between acquiring a lock and releasing it: a staged update,
// or a staged delete, neither of which touches the data file until the
// lock is released.
package txncontext

// Context is the scratch buffer attached to one held lock. A zero Context
// has no pending write and is not marked deleted.
type Context struct {
	recordNumber int
	pendingData  []string
	hasPending   bool
	deleted      bool
}

// New returns a fresh, empty context for the given record number.
func New(recordNumber int) *Context {
	return &Context{recordNumber: recordNumber}
}

// RecordNumber returns the record this context stages writes for.
func (c *Context) RecordNumber() int {
	return c.recordNumber
}

// StageUpdate records data as the pending write. If a delete has already
// been staged, the assignment is dropped — matching the original source's
// TransactionContext.update, which silently no-ops once isDeleted is set.
// Design notes record this as an intentional replication, not a bug: delete
// always wins over a later staged update, in either order.
func (c *Context) StageUpdate(data []string) {
	if c.deleted {
		return
	}
	c.pendingData = data
	c.hasPending = true
}

// StageDelete marks the record for deletion on commit and clears any
// previously staged update, matching the original source's
// TransactionContext.delete(). Once set it cannot be undone by a later
// StageUpdate within the same lock hold.
func (c *Context) StageDelete() {
	c.deleted = true
	c.pendingData = nil
	c.hasPending = false
}

// IsDeleted reports whether a delete has been staged.
func (c *Context) IsDeleted() bool {
	return c.deleted
}

// Pending returns the staged update data and whether one was staged. If
// IsDeleted is true, the caller must ignore this regardless of hasPending —
// delete wins.
func (c *Context) Pending() ([]string, bool) {
	return c.pendingData, c.hasPending
}
