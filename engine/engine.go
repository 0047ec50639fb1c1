// Package engine composes the physical file, the primary-key index, and
// the row-level lock manager into the eight primitives a caller sees:
// read, create, update, delete, find, lock, unlock, and isLocked.
//
// Every write goes through the lock protocol: a caller locks a record,
// stages an update or delete against the transaction context attached to
// that lock, and the staged change is committed to the data file (or
// discarded, on rollback) only when the caller unlocks. Create is the one
// exception — it allocates and commits its row immediately, since there is
// nothing to contend over until the row exists.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"recorddb/datafile"
	"recorddb/dbschema"
	"recorddb/lockmgr"
	"recorddb/pkindex"
)

// CallerId identifies a session across the lock/stage/commit protocol.
type CallerId = lockmgr.CallerId

// NewCallerId mints a fresh session identity.
func NewCallerId() CallerId {
	return lockmgr.NewCallerId()
}

// blockSize is the number of slots scanned per read during Find's linear
// fallback, matching the legacy block-read contract in datafile.GetBlock.
const blockSize = 1000

// Engine is the top-level handle to one open data file and its logical
// schema. An Engine is safe for concurrent use.
type Engine struct {
	mu sync.RWMutex // serializes index mutation against concurrent commits

	file   *datafile.File
	schema *dbschema.Schema
	locks  *lockmgr.Manager
	index  *pkindex.Index
	log    *logrus.Entry
}

// Open opens path, builds the primary-key index by a full scan, and starts
// the lock manager's deadlock watchdog.
func Open(path string, schema *dbschema.Schema, lockCfg lockmgr.Config, log *logrus.Entry) (*Engine, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	file, err := datafile.Open(path, schema, log)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		file:   file,
		schema: schema,
		locks:  lockmgr.New(lockCfg, log.WithField("component", "lockmgr")),
		index:  pkindex.New(),
		log:    log,
	}

	if err := e.rebuildIndex(); err != nil {
		file.Close()
		return nil, err
	}
	return e, nil
}

// Close releases the data file and stops the lock manager's watchdog.
func (e *Engine) Close() error {
	e.locks.Close()
	return e.file.Close()
}

func (e *Engine) rebuildIndex() error {
	e.index.Clear()

	recNo := 0
	for {
		block, err := e.file.GetBlock(recNo, blockSize)
		if err != nil {
			return &FatalIOError{Op: "rebuildIndex", Err: err}
		}
		if block == nil || block.Len() == 0 {
			return nil
		}
		for i := 0; i < block.Len(); i++ {
			row := block.At(i)
			if row.Deleted {
				recNo++
				continue
			}
			cols, err := row.Columns()
			if err != nil {
				return &FatalIOError{Op: "rebuildIndex: decoding row", Err: err}
			}
			key := e.keyFromColumns(cols)
			e.index.Insert(key, recNo)
			recNo++
		}
	}
}

func (e *Engine) keyFromColumns(cols []string) pkindex.Key {
	pkIdx := e.schema.PrimaryKeyIndices()
	values := make([]string, len(pkIdx))
	for i, idx := range pkIdx {
		values[i] = cols[idx]
	}
	return pkindex.NewKey(values)
}

// Read returns the current, committed content of recNo. It does not
// require the caller to hold a lock, and it never sees another caller's
// uncommitted staged writes — those only become visible on Unlock.
func (e *Engine) Read(recNo int) ([]string, error) {
	row, err := e.file.GetRecord(recNo)
	if err != nil {
		return nil, &FatalIOError{Op: "Read", Err: err}
	}
	if row == nil {
		return nil, &RecordNotFoundError{RecordNumber: recNo}
	}
	return row.Columns()
}

// Create inserts a new record with the given column data, in schema order,
// and returns its record number. It fails with DuplicateKeyError if
// another live record already shares data's primary key. Create takes the
// engine-wide mutex for its whole duration, serving as the "in-engine
// monitor" spec §4.8.2 requires so two concurrent creators never target
// the same free slot.
func (e *Engine) Create(data []string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	padded := padTo(data, e.schema.ColumnCount())
	key := e.keyFromColumns(padded)
	if _, exists := e.index.Lookup(key); exists {
		return 0, &DuplicateKeyError{Key: key.String()}
	}
	if dup, err := e.scanForDuplicateLocked(key); err != nil {
		return 0, err
	} else if dup {
		// The index missed it but a live row with this PK already exists
		// on disk — confirm via linear scan before trusting the index.
		return 0, &DuplicateKeyError{Key: key.String()}
	}

	row := e.file.NewRow()
	row.SetData(data)

	recNo, err := e.file.Add(row)
	if err != nil {
		return 0, &FatalIOError{Op: "Create", Err: err}
	}

	e.index.Insert(key, recNo)

	// Defensive: a record number freed by a prior commit-of-delete can, in
	// principle, still carry a stale lock cell (e.g. a caller that deleted
	// it without ever unlocking, then had the cell force-released by the
	// watchdog after this Add already reused the slot). Force it clear so
	// the new occupant of recNo doesn't inherit someone else's lock state.
	e.locks.ForceRelease(recNo)

	e.log.WithFields(logrus.Fields{"record": recNo}).Debug("engine: record created")
	return recNo, nil
}

// scanForDuplicateLocked performs the linear exact-match confirmation scan
// spec §4.8.2 calls for when the index reports no existing PK: the index is
// an acceleration structure, not the source of truth, so Create double
// checks against the file itself before committing to "absent". Callers
// hold e.mu.
func (e *Engine) scanForDuplicateLocked(key pkindex.Key) (bool, error) {
	recNo := 0
	for {
		block, err := e.file.GetBlock(recNo, blockSize)
		if err != nil {
			return false, &FatalIOError{Op: "Create: duplicate scan", Err: err}
		}
		if block == nil || block.Len() == 0 {
			return false, nil
		}
		for i := 0; i < block.Len(); i++ {
			row := block.At(i)
			if row.Deleted {
				recNo++
				continue
			}
			cols, err := row.Columns()
			if err != nil {
				return false, &FatalIOError{Op: "Create: duplicate scan decode", Err: err}
			}
			if e.keyFromColumns(cols) == key {
				return true, nil
			}
			recNo++
		}
	}
}

// Lock blocks until recNo's row-level lock is held by caller, ctx is
// canceled, or the lock pool is exhausted. Locking the same record twice
// under the same caller is a no-op; any writes already staged stay staged.
func (e *Engine) Lock(ctx context.Context, caller CallerId, recNo int) error {
	if _, err := e.Read(recNo); err != nil {
		return err
	}
	if _, err := e.locks.Lock(ctx, recNo, caller); err != nil {
		return translateLockErr(recNo, err)
	}
	return nil
}

// IsLocked reports whether recNo is currently locked, and by whom.
func (e *Engine) IsLocked(recNo int) (CallerId, bool) {
	return e.locks.Has(recNo)
}

// Update stages a full replacement of recNo's column data. The caller must
// already hold recNo's lock. The write is not visible to Read, nor applied
// to the data file, until Unlock commits it — and Unlock is where the
// primary-key-unchanged invariant is enforced (spec §4.8.7), since that's
// the only point a staged write is compared against the row it would
// actually replace. If recNo's context already has a staged delete,
// StageUpdate silently drops this call (see txncontext.Context.StageUpdate).
func (e *Engine) Update(caller CallerId, recNo int, data []string) error {
	txn, err := e.locks.Context(recNo, caller)
	if err != nil {
		return &TransactionError{Detail: fmt.Sprintf("update record %d: %v", recNo, err)}
	}
	txn.StageUpdate(data)
	return nil
}

// Delete stages recNo for deletion. The caller must already hold recNo's
// lock. Deletion wins over any update staged before or after it within the
// same lock hold, and is only applied to the data file on Unlock.
func (e *Engine) Delete(caller CallerId, recNo int) error {
	txn, err := e.locks.Context(recNo, caller)
	if err != nil {
		return &TransactionError{Detail: fmt.Sprintf("delete record %d: %v", recNo, err)}
	}
	txn.StageDelete()
	return nil
}

// Unlock commits recNo's staged delete or update (if any) to the data file
// and the primary-key index, then releases the lock. A lock held with no
// staged writes is released with no effect on the file.
func (e *Engine) Unlock(caller CallerId, recNo int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	txn, err := e.locks.Context(recNo, caller)
	if err != nil {
		return &TransactionError{Detail: err.Error()}
	}
	// Release only after the commit below has run (or failed), so no other
	// caller can lock and read recNo while its staged change is in flight.
	defer e.locks.Unlock(recNo, caller)

	oldRow, readErr := e.file.GetRecord(recNo)
	if readErr != nil {
		return &FatalIOError{Op: "Unlock: reading prior content", Err: readErr}
	}

	switch {
	case txn.IsDeleted():
		if oldRow == nil {
			return &RecordNotFoundError{RecordNumber: recNo}
		}
		cols, _ := oldRow.Columns()
		e.index.Remove(e.keyFromColumns(cols))
		if err := e.file.Delete(recNo); err != nil {
			return &FatalIOError{Op: "Unlock: committing delete", Err: err}
		}
		e.log.WithField("record", recNo).Debug("engine: delete committed")

	default:
		data, hasPending := txn.Pending()
		if !hasPending {
			return nil
		}
		if oldRow == nil {
			return &RecordNotFoundError{RecordNumber: recNo}
		}

		oldCols, _ := oldRow.Columns()
		oldKey := e.keyFromColumns(oldCols)
		newKey := e.keyFromColumns(padTo(data, e.schema.ColumnCount()))
		if newKey != oldKey {
			// spec §4.8.7: an update must never change a record's primary
			// key. Callers that want to rename must delete+create instead.
			// The staged write is discarded along with the lock; the file
			// and index are left exactly as they were.
			return &TransactionError{Detail: fmt.Sprintf(
				"record %d: update would change primary key from %q to %q", recNo, oldKey, newKey)}
		}

		e.index.Remove(oldKey)

		row := e.file.NewRow()
		row.SetData(data)
		if err := e.file.Update(recNo, row); err != nil {
			return &FatalIOError{Op: "Unlock: committing update", Err: err}
		}

		e.index.Insert(newKey, recNo)
		e.log.WithField("record", recNo).Debug("engine: update committed")
	}

	return nil
}

// ReleaseAllOwnedBy force-releases every lock caller holds without
// committing any staged writes — equivalent to an abrupt session end.
func (e *Engine) ReleaseAllOwnedBy(caller CallerId) []int {
	return e.locks.ReleaseAllOwnedBy(caller)
}

// LockSnapshot returns diagnostic information about every currently-held
// lock, for cmd inspect and similar tooling.
func (e *Engine) LockSnapshot() []lockmgr.LockInfo {
	return e.locks.Snapshot()
}

// Find returns the record numbers and column data of every live record
// matching criteria. A nil entry in criteria matches any value for that
// column; a non-nil entry matches records whose trimmed column value has
// that string as a prefix. Find returns RecordNotFoundError, not an empty
// slice, when nothing matches.
func (e *Engine) Find(criteria []*string) ([]int, [][]string, error) {
	if e.allPrimaryKeyColumnsSet(criteria) {
		return e.findByPrimaryKey(criteria)
	}
	return e.findByScan(criteria)
}

func (e *Engine) allPrimaryKeyColumnsSet(criteria []*string) bool {
	for _, idx := range e.schema.PrimaryKeyIndices() {
		if idx >= len(criteria) || criteria[idx] == nil {
			return false
		}
	}
	return true
}

// findByPrimaryKey consults the index first. On a hit it still re-reads and
// re-checks the row (the index can point at a record whose content no
// longer matches non-PK criteria) rather than returning the PK match
// unconditionally as DBMainImpl.find/spec §4.8.8 do; a non-PK criterion
// supplied alongside a full PK can therefore fall through to a scan where
// the original would have returned the single PK-matched record directly.
// On a miss it falls through to a full scan — the index can lag a file
// built or touched outside this Engine — and, per spec §4.8.8,
// opportunistically populates the index with every PK it sees along the
// way, not just the one being searched for.
func (e *Engine) findByPrimaryKey(criteria []*string) ([]int, [][]string, error) {
	pkIdx := e.schema.PrimaryKeyIndices()
	values := make([]string, len(pkIdx))
	for i, idx := range pkIdx {
		values[i] = *criteria[idx]
	}
	key := pkindex.NewKey(values)

	e.mu.RLock()
	recNo, ok := e.index.Lookup(key)
	e.mu.RUnlock()
	if ok {
		cols, err := e.Read(recNo)
		if err == nil && matches(cols, criteria) {
			return []int{recNo}, [][]string{cols}, nil
		}
		if err != nil {
			if _, isNotFound := err.(*RecordNotFoundError); !isNotFound {
				return nil, nil, err
			}
		}
		// Stale index entry (deleted, or no longer matches): fall through
		// to the scan below instead of trusting it.
	}

	return e.findByScanPopulatingIndex(criteria)
}

func (e *Engine) findByScan(criteria []*string) ([]int, [][]string, error) {
	return e.scan(criteria, false)
}

func (e *Engine) findByScanPopulatingIndex(criteria []*string) ([]int, [][]string, error) {
	return e.scan(criteria, true)
}

func (e *Engine) scan(criteria []*string, populateIndex bool) ([]int, [][]string, error) {
	var recNos []int
	var rows [][]string

	recNo := 0
	for {
		block, err := e.file.GetBlock(recNo, blockSize)
		if err != nil {
			return nil, nil, &FatalIOError{Op: "Find", Err: err}
		}
		if block == nil || block.Len() == 0 {
			break
		}
		for i := 0; i < block.Len(); i++ {
			row := block.At(i)
			if row.Deleted {
				recNo++
				continue
			}
			cols, err := row.Columns()
			if err != nil {
				return nil, nil, &FatalIOError{Op: "Find: decoding row", Err: err}
			}
			if populateIndex {
				e.mu.Lock()
				e.index.Insert(e.keyFromColumns(cols), recNo)
				e.mu.Unlock()
			}
			if matches(cols, criteria) {
				recNos = append(recNos, recNo)
				rows = append(rows, cols)
			}
			recNo++
		}
	}

	if len(recNos) == 0 {
		return nil, nil, &RecordNotFoundError{RecordNumber: -1}
	}
	return recNos, rows, nil
}

func matches(cols []string, criteria []*string) bool {
	for i, want := range criteria {
		if want == nil {
			continue
		}
		if i >= len(cols) {
			return false
		}
		if !strings.HasPrefix(strings.TrimSpace(cols[i]), strings.TrimSpace(*want)) {
			return false
		}
	}
	return true
}

func padTo(data []string, n int) []string {
	if len(data) >= n {
		return data
	}
	padded := make([]string, n)
	copy(padded, data)
	return padded
}

func translateLockErr(recNo int, err error) error {
	if _, ok := err.(*lockmgr.PoolExhaustedError); ok {
		return &FatalIOError{Op: fmt.Sprintf("Lock(%d)", recNo), Err: err}
	}
	return &TransactionError{Detail: err.Error()}
}
