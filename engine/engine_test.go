package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recorddb/datafile"
	"recorddb/dbschema"
	"recorddb/fileschema"
	"recorddb/lockmgr"
)

var testMagic = [4]byte{'R', 'D', 'B', '1'}

func onDiskV2Fields() []fileschema.Field {
	return []fileschema.Field{
		{Name: dbschema.Name, Length: 64}, // pre-split name+room
		{Name: dbschema.Location, Length: 64},
		{Name: dbschema.Size, Length: 4},
		{Name: dbschema.Smoking, Length: 1},
		{Name: dbschema.Rate, Length: 8},
		{Name: dbschema.Date, Length: 10},
		{Name: dbschema.Owner, Length: 8},
	}
}

func testLockConfig() lockmgr.Config {
	return lockmgr.Config{
		Capacity:        16,
		DeadlockTimeout: 200 * time.Millisecond,
		RecheckInterval: 10 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rooms.db")
	require.NoError(t, datafile.Create(path, testMagic, onDiskV2Fields()))

	e, err := Open(path, dbschema.V2(), testLockConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func sampleRow() []string {
	return []string{"Palace", "101", "NYC", "2", "N", "199.99", "2026-01-01", "alice"}
}

func TestCreateThenRead(t *testing.T) {
	e := newTestEngine(t)

	recNo, err := e.Create(sampleRow())
	require.NoError(t, err)

	cols, err := e.Read(recNo)
	require.NoError(t, err)
	require.Equal(t, sampleRow(), cols)
}

func TestCreateRejectsDuplicatePrimaryKey(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Create(sampleRow())
	require.NoError(t, err)

	_, err = e.Create(sampleRow())
	require.Error(t, err)
	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
}

func TestReadMissingRecordIsNotFound(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Read(42)
	require.Error(t, err)
	var notFound *RecordNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestLockUpdateUnlockCommitsChange(t *testing.T) {
	e := newTestEngine(t)
	caller := NewCallerId()
	ctx := context.Background()

	recNo, err := e.Create(sampleRow())
	require.NoError(t, err)

	require.NoError(t, e.Lock(ctx, caller, recNo))

	updated := append([]string{}, sampleRow()...)
	updated[5] = "249.99" // rate, not part of the primary key
	require.NoError(t, e.Update(caller, recNo, updated))

	// Not yet visible — the write is staged until Unlock.
	cols, err := e.Read(recNo)
	require.NoError(t, err)
	require.Equal(t, "199.99", cols[5])

	require.NoError(t, e.Unlock(caller, recNo))

	cols, err = e.Read(recNo)
	require.NoError(t, err)
	require.Equal(t, "249.99", cols[5])
}

func TestUnlockRejectsPrimaryKeyChange(t *testing.T) {
	e := newTestEngine(t)
	caller := NewCallerId()
	ctx := context.Background()

	recNo, err := e.Create(sampleRow())
	require.NoError(t, err)

	require.NoError(t, e.Lock(ctx, caller, recNo))

	renamed := append([]string{}, sampleRow()...)
	renamed[0] = "Grand" // name is part of the primary key
	require.NoError(t, e.Update(caller, recNo, renamed))

	err = e.Unlock(caller, recNo)
	require.Error(t, err)
	var txnErr *TransactionError
	require.ErrorAs(t, err, &txnErr)

	// The original row must be untouched.
	cols, err := e.Read(recNo)
	require.NoError(t, err)
	require.Equal(t, "Palace", cols[0])
}

func TestLockDeleteUnlockRemovesRecord(t *testing.T) {
	e := newTestEngine(t)
	caller := NewCallerId()
	ctx := context.Background()

	recNo, err := e.Create(sampleRow())
	require.NoError(t, err)

	require.NoError(t, e.Lock(ctx, caller, recNo))
	require.NoError(t, e.Delete(caller, recNo))
	require.NoError(t, e.Unlock(caller, recNo))

	_, err = e.Read(recNo)
	require.Error(t, err)
	var notFound *RecordNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDeleteThenCreateSamePrimaryKeySucceeds(t *testing.T) {
	e := newTestEngine(t)
	caller := NewCallerId()
	ctx := context.Background()

	recNo, err := e.Create(sampleRow())
	require.NoError(t, err)

	require.NoError(t, e.Lock(ctx, caller, recNo))
	require.NoError(t, e.Delete(caller, recNo))
	require.NoError(t, e.Unlock(caller, recNo))

	newRecNo, err := e.Create(sampleRow())
	require.NoError(t, err)
	require.Equal(t, recNo, newRecNo, "the freed slot should be reused")
}

func TestUpdateStagedAfterDeleteIsDropped(t *testing.T) {
	e := newTestEngine(t)
	caller := NewCallerId()
	ctx := context.Background()

	recNo, err := e.Create(sampleRow())
	require.NoError(t, err)

	require.NoError(t, e.Lock(ctx, caller, recNo))
	require.NoError(t, e.Delete(caller, recNo))
	require.NoError(t, e.Update(caller, recNo, sampleRow())) // must be a no-op
	require.NoError(t, e.Unlock(caller, recNo))

	_, err = e.Read(recNo)
	require.Error(t, err, "the delete must still win and commit")
}

func TestFindByPrimaryKeyExactMatch(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create(sampleRow())
	require.NoError(t, err)

	name, room, location := "Palace", "101", "NYC"
	criteria := make([]*string, 8)
	criteria[0] = &name
	criteria[1] = &room
	criteria[2] = &location

	recNos, rows, err := e.Find(criteria)
	require.NoError(t, err)
	require.Len(t, recNos, 1)
	require.Equal(t, sampleRow(), rows[0])
}

func TestFindNoMatchIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create(sampleRow())
	require.NoError(t, err)

	name := "Nonexistent"
	criteria := make([]*string, 8)
	criteria[0] = &name

	_, _, err = e.Find(criteria)
	require.Error(t, err)
	var notFound *RecordNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestFindByScanOnPartialCriteria(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create(sampleRow())
	require.NoError(t, err)

	other := append([]string{}, sampleRow()...)
	other[1] = "102"
	_, err = e.Create(other)
	require.NoError(t, err)

	location := "NYC"
	criteria := make([]*string, 8)
	criteria[2] = &location

	recNos, _, err := e.Find(criteria)
	require.NoError(t, err)
	require.Len(t, recNos, 2, "a partial primary-key criterion must scan and match every live record sharing it")
}

func TestIsLockedReflectsHeldLock(t *testing.T) {
	e := newTestEngine(t)
	caller := NewCallerId()
	ctx := context.Background()

	recNo, err := e.Create(sampleRow())
	require.NoError(t, err)

	_, locked := e.IsLocked(recNo)
	require.False(t, locked)

	require.NoError(t, e.Lock(ctx, caller, recNo))
	owner, locked := e.IsLocked(recNo)
	require.True(t, locked)
	require.Equal(t, caller, owner)

	require.NoError(t, e.Unlock(caller, recNo))
	_, locked = e.IsLocked(recNo)
	require.False(t, locked)
}

func TestReleaseAllOwnedByDiscardsStagedWrites(t *testing.T) {
	e := newTestEngine(t)
	caller := NewCallerId()
	ctx := context.Background()

	recNo, err := e.Create(sampleRow())
	require.NoError(t, err)

	require.NoError(t, e.Lock(ctx, caller, recNo))
	updated := append([]string{}, sampleRow()...)
	updated[5] = "1.00"
	require.NoError(t, e.Update(caller, recNo, updated))

	released := e.ReleaseAllOwnedBy(caller)
	require.Equal(t, []int{recNo}, released)

	cols, err := e.Read(recNo)
	require.NoError(t, err)
	require.Equal(t, "199.99", cols[5], "a staged write must never commit without a clean Unlock")
}

func TestLockSnapshotReportsHeldLocks(t *testing.T) {
	e := newTestEngine(t)
	caller := NewCallerId()
	ctx := context.Background()

	recNo, err := e.Create(sampleRow())
	require.NoError(t, err)
	require.NoError(t, e.Lock(ctx, caller, recNo))

	infos := e.LockSnapshot()
	require.Len(t, infos, 1)
	require.Equal(t, recNo, infos[0].RecordNumber)
}
