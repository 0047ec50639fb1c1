// Package datafile implements the single-threaded, random-access binary
// file described in spec §3 and §4.4: a fixed header, a schema section, and
// a dense run of (1+R)-byte slots. All methods serialize on one mutex so a
// seek and the read/write that follows it are atomic from the point of view
// of any other caller.
package datafile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	ristretto "github.com/dgraph-io/ristretto/v2"
	"github.com/sirupsen/logrus"

	"recorddb/dbschema"
	"recorddb/fileschema"
)

const deletedFlag = 0x01
const liveFlag = 0x00

// FormatError reports that the file's header, schema section, or a read
// block violate the invariants in spec §3. It is always fatal to Open; when
// raised from GetBlock it means the file is corrupt, not merely short.
type FormatError struct {
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("datafile: format error: %s", e.Detail)
}

// File is the random-access physical file. Every exported method takes mu,
// so a seek and its paired read/write never interleave with another
// caller's.
type File struct {
	mu sync.Mutex

	f      *os.File
	header Header
	schema *fileschema.Schema

	dataStart    int64
	recordStored int // 1 + R, the on-disk width of one slot

	// cache is a best-effort, bounded read cache of decoded rows keyed by
	// record number. It exists purely to avoid re-decoding hot records; it
	// is invalidated on every write and is never consulted for
	// correctness — a cache miss always falls back to disk.
	cache *ristretto.Cache[int, *Row]

	log *logrus.Entry
}

// Open parses path's header and schema section, validates R against the sum
// of declared field lengths, and applies the name/room split logical
// defines if it isn't already present on disk (spec §3's "in-memory schema
// override").
func Open(path string, logical *dbschema.Schema, log *logrus.Entry) (*File, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	osFile, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("datafile: opening %s: %w", path, err)
	}

	header, err := readHeader(osFile)
	if err != nil {
		osFile.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FormatError{Detail: fmt.Sprintf("%s: truncated header", path)}
		}
		return nil, err
	}

	schema, err := readFileSchema(osFile, int(header.NumberOfFieldsInRecord))
	if err != nil {
		osFile.Close()
		return nil, &FormatError{Detail: fmt.Sprintf("%s: truncated schema section: %v", path, err)}
	}

	if int(header.RecordLength) != schema.TotalLength() {
		osFile.Close()
		return nil, &FormatError{Detail: fmt.Sprintf(
			"%s: header record length %d disagrees with schema total %d",
			path, header.RecordLength, schema.TotalLength())}
	}
	if int(header.NumberOfFieldsInRecord) != schema.FieldCount() {
		osFile.Close()
		return nil, &FormatError{Detail: fmt.Sprintf(
			"%s: header field count %d disagrees with schema field count %d",
			path, header.NumberOfFieldsInRecord, schema.FieldCount())}
	}

	dataStart, err := osFile.Seek(0, io.SeekCurrent)
	if err != nil {
		osFile.Close()
		return nil, fmt.Errorf("datafile: locating data section: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[int, *Row]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		osFile.Close()
		return nil, fmt.Errorf("datafile: building read cache: %w", err)
	}

	file := &File{
		f:            osFile,
		header:       header,
		schema:       schema,
		dataStart:    dataStart,
		recordStored: int(header.RecordLength) + 1,
		cache:        cache,
		log:          log,
	}

	if err := file.applyLogicalSplit(logical); err != nil {
		osFile.Close()
		return nil, err
	}

	return file, nil
}

// applyLogicalSplit implements DBMainImpl.initPhysicalFile: if the logical
// schema declares both "name" and "room" but the on-disk schema has a
// single, wider "name" field, split it in memory. Reopening a file whose
// on-disk schema already has a "room" field is a no-op.
func (f *File) applyLogicalSplit(logical *dbschema.Schema) error {
	if logical.ColumnIndex(dbschema.Room) < 0 {
		return nil // this logical schema doesn't need the split (e.g. V1).
	}
	if f.schema.IsFieldPresent(dbschema.Room) {
		return nil // already split on a prior open; back-compatible no-op.
	}

	fieldNo, err := f.schema.IndexOf(dbschema.Name)
	if err != nil {
		return &FormatError{Detail: "schema has no 'name' field to split"}
	}

	ok := f.schema.Split(fieldNo, []fileschema.Field{
		{Name: dbschema.Name, Length: logical.ColumnLength(dbschema.Name)},
		{Name: dbschema.Room, Length: logical.ColumnLength(dbschema.Room)},
	})
	if !ok {
		return &FormatError{Detail: "failed to split 'name' field into 'name'+'room'"}
	}
	f.header.NumberOfFieldsInRecord = uint16(f.schema.FieldCount())
	return nil
}

// FileSchema exposes the (possibly split) physical schema, e.g. for cmd
// inspect.
func (f *File) FileSchema() *fileschema.Schema {
	return f.schema
}

// NewRow returns an empty row sized for this file's schema.
func (f *File) NewRow() *Row {
	return NewRow(f.schema)
}

func (f *File) slotOffset(recNo int) int64 {
	return f.dataStart + int64(recNo)*int64(f.recordStored)
}

// GetRecord returns slot recNo's row, or nil if the slot is deleted or past
// EOF.
func (f *File) GetRecord(recNo int) (*Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache.Get(recNo); ok {
		return cached.clone(), nil
	}

	row, err := f.readSlotLocked(recNo)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	f.cache.Set(recNo, row, int64(len(row.Content)))
	return row.clone(), nil
}

func (f *File) readSlotLocked(recNo int) (*Row, error) {
	buf := make([]byte, f.recordStored)
	n, err := f.f.ReadAt(buf, f.slotOffset(recNo))
	if err != nil {
		if err == io.EOF || n < f.recordStored {
			return nil, nil
		}
		return nil, fmt.Errorf("datafile: reading record %d: %w", recNo, err)
	}

	row := NewRow(f.schema)
	row.Deleted = buf[0] == deletedFlag
	copy(row.Content, buf[1:])

	if row.Deleted {
		return nil, nil
	}
	return row, nil
}

// RecordBlock is a single buffered read of several consecutive slots,
// decoded lazily. Deleted rows are included; callers filter them.
type RecordBlock struct {
	schema *fileschema.Schema
	buf    []byte
	stride int
	count  int
}

// Len returns the number of slots in the block.
func (b *RecordBlock) Len() int { return b.count }

// At decodes the i-th slot in the block.
func (b *RecordBlock) At(i int) *Row {
	offset := i * b.stride
	row := NewRow(b.schema)
	row.Deleted = b.buf[offset] == deletedFlag
	copy(row.Content, b.buf[offset+1:offset+b.stride])
	return row
}

// GetBlock reads up to count consecutive slots starting at fromRecNo in one
// buffered read. It returns nil when fromRecNo is at or past EOF. A short
// read whose length isn't an exact multiple of the slot size is a format
// error, not a silently truncated block.
func (f *File) GetBlock(fromRecNo, count int) (*RecordBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := f.recordStored * count
	buf := make([]byte, want)

	offset := 0
	for offset < want {
		n, err := f.f.ReadAt(buf[offset:], f.slotOffset(fromRecNo)+int64(offset))
		offset += n
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("datafile: reading block at %d: %w", fromRecNo, err)
		}
		if n == 0 {
			break
		}
	}

	if offset == 0 {
		return nil, nil
	}
	if offset%f.recordStored != 0 {
		return nil, &FormatError{Detail: fmt.Sprintf(
			"block starting at record %d has length %d, not a multiple of slot size %d",
			fromRecNo, offset, f.recordStored)}
	}

	return &RecordBlock{schema: f.schema, buf: buf[:offset], stride: f.recordStored, count: offset / f.recordStored}, nil
}

// Add writes row at the first deleted slot (or EOF if none), clearing the
// deletion flag, and returns the chosen record number.
func (f *File) Add(row *Row) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	recNo, err := f.firstAvailableSlotLocked()
	if err != nil {
		return 0, err
	}

	if err := f.writeSlotLocked(recNo, false, row); err != nil {
		return 0, err
	}

	f.cache.Del(recNo)
	return recNo, nil
}

func (f *File) firstAvailableSlotLocked() (int, error) {
	buf := make([]byte, f.recordStored)
	recNo := 0
	for {
		n, err := f.f.ReadAt(buf, f.slotOffset(recNo))
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("datafile: scanning for free slot: %w", err)
		}
		if n < f.recordStored {
			return recNo, nil // past EOF
		}
		if buf[0] == deletedFlag {
			return recNo, nil
		}
		recNo++
	}
}

// Update overwrites slot recNo's content with row, always clearing the
// deletion flag (a commit via unlock is always a live write).
func (f *File) Update(recNo int, row *Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.writeSlotLocked(recNo, false, row); err != nil {
		return err
	}
	f.cache.Del(recNo)
	return nil
}

// Delete flips recNo's deletion flag without touching its stored content.
func (f *File) Delete(recNo int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := make([]byte, f.recordStored)
	if _, err := f.f.ReadAt(buf, f.slotOffset(recNo)); err != nil {
		return fmt.Errorf("datafile: reading record %d for delete: %w", recNo, err)
	}
	buf[0] = deletedFlag
	if _, err := f.f.WriteAt(buf, f.slotOffset(recNo)); err != nil {
		return fmt.Errorf("datafile: writing deletion flag for record %d: %w", recNo, err)
	}

	f.cache.Del(recNo)
	return nil
}

func (f *File) writeSlotLocked(recNo int, deleted bool, row *Row) error {
	buf := make([]byte, f.recordStored)
	if deleted {
		buf[0] = deletedFlag
	} else {
		buf[0] = liveFlag
	}
	copy(buf[1:], row.Content)

	if _, err := f.f.WriteAt(buf, f.slotOffset(recNo)); err != nil {
		return fmt.Errorf("datafile: writing record %d: %w", recNo, err)
	}
	return nil
}

// Close flushes and closes the underlying OS file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.f.Close()
}

// Create writes a brand-new, empty data file at path with the given file
// schema and zero data rows. Used by cmd seed (SPEC_FULL.md §"Supplemented
// features" #4); the original format has no tooling for this because its
// data files always pre-existed.
func Create(path string, magic [4]byte, fields []fileschema.Field) error {
	schema := fileschema.New(fields)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("datafile: creating %s: %w", path, err)
	}
	defer f.Close()

	buf := encodeHeader(magic, uint32(schema.TotalLength()), uint16(schema.FieldCount()))
	buf = append(buf, encodeFileSchema(fields)...)

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("datafile: writing header for %s: %w", path, err)
	}
	return nil
}
