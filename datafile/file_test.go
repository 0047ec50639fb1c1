package datafile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"recorddb/dbschema"
	"recorddb/fileschema"
)

var testMagic = [4]byte{'R', 'D', 'B', '1'}

// onDiskV2Fields mirrors cmd/recorddb/seed.go's collapse of dbschema.V2 back
// into the physical, unsplit "name" field a V2 file carries on disk.
func onDiskV2Fields() []fileschema.Field {
	return []fileschema.Field{
		{Name: dbschema.Name, Length: 64}, // 56 (name) + 8 (room), pre-split
		{Name: dbschema.Location, Length: 64},
		{Name: dbschema.Size, Length: 4},
		{Name: dbschema.Smoking, Length: 1},
		{Name: dbschema.Rate, Length: 8},
		{Name: dbschema.Date, Length: 10},
		{Name: dbschema.Owner, Length: 8},
	}
}

func newTestFile(t *testing.T) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rooms.db")
	require.NoError(t, Create(path, testMagic, onDiskV2Fields()))

	f, err := Open(path, dbschema.V2(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestOpenAppliesNameRoomSplit(t *testing.T) {
	f := newTestFile(t)

	assert := require.New(t)
	assert.True(f.FileSchema().IsFieldPresent("room"))
	assert.Equal(8, f.FileSchema().FieldCount())
}

func TestAddThenGetRecordRoundTrip(t *testing.T) {
	f := newTestFile(t)

	row := f.NewRow()
	row.SetData([]string{"Palace", "101", "NYC", "2", "N", "199.99", "2026-01-01", "alice"})

	recNo, err := f.Add(row)
	require.NoError(t, err)
	require.Equal(t, 0, recNo, "the first record in a fresh file must land in slot 0")

	got, err := f.GetRecord(recNo)
	require.NoError(t, err)
	require.NotNil(t, got)

	cols, err := got.Columns()
	require.NoError(t, err)
	require.Equal(t, []string{"Palace", "101", "NYC", "2", "N", "199.99", "2026-01-01", "alice"}, cols)
}

func TestGetRecordReturnsNilPastEOF(t *testing.T) {
	f := newTestFile(t)

	row, err := f.GetRecord(5)
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestDeleteThenGetRecordReturnsNil(t *testing.T) {
	f := newTestFile(t)

	row := f.NewRow()
	row.SetData([]string{"Palace", "101", "NYC"})
	recNo, err := f.Add(row)
	require.NoError(t, err)

	require.NoError(t, f.Delete(recNo))

	got, err := f.GetRecord(recNo)
	require.NoError(t, err)
	require.Nil(t, got, "a deleted slot must read back as absent")
}

func TestAddReusesDeletedSlot(t *testing.T) {
	f := newTestFile(t)

	row := f.NewRow()
	row.SetData([]string{"Palace"})
	first, err := f.Add(row)
	require.NoError(t, err)

	require.NoError(t, f.Delete(first))

	row2 := f.NewRow()
	row2.SetData([]string{"Grand"})
	second, err := f.Add(row2)
	require.NoError(t, err)

	require.Equal(t, first, second, "Add must reuse the first deleted slot rather than appending")
}

func TestUpdateOverwritesContentAndClearsCache(t *testing.T) {
	f := newTestFile(t)

	row := f.NewRow()
	row.SetData([]string{"Palace"})
	recNo, err := f.Add(row)
	require.NoError(t, err)

	// Warm the cache.
	_, err = f.GetRecord(recNo)
	require.NoError(t, err)

	updated := f.NewRow()
	updated.SetData([]string{"Grand"})
	require.NoError(t, f.Update(recNo, updated))

	got, err := f.GetRecord(recNo)
	require.NoError(t, err)
	name, err := got.GetString(0)
	require.NoError(t, err)
	require.Equal(t, "Grand", name)
}

func TestGetBlockReadsConsecutiveSlots(t *testing.T) {
	f := newTestFile(t)

	for _, name := range []string{"A", "B", "C"} {
		row := f.NewRow()
		row.SetData([]string{name})
		_, err := f.Add(row)
		require.NoError(t, err)
	}

	block, err := f.GetBlock(0, 3)
	require.NoError(t, err)
	require.NotNil(t, block)
	require.Equal(t, 3, block.Len())

	for i, want := range []string{"A", "B", "C"} {
		row := block.At(i)
		require.False(t, row.Deleted)
		got, err := row.GetString(0)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestGetBlockPastEOFReturnsNil(t *testing.T) {
	f := newTestFile(t)
	block, err := f.GetBlock(10, 5)
	require.NoError(t, err)
	require.Nil(t, block)
}

func TestOpenRejectsMismatchedRecordLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	fields := onDiskV2Fields()
	require.NoError(t, Create(path, testMagic, fields))

	// Tamper with the header's declared record length so it disagrees with
	// the schema section that follows it.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[4] = 0xFF // high byte of the 4-byte record length

	require.NoError(t, os.WriteFile(path, raw, 0644))

	_, err = Open(path, dbschema.V2(), nil)
	require.Error(t, err)
	var formatErr *FormatError
	require.ErrorAs(t, err, &formatErr)
}
