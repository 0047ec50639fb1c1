package datafile

import (
	"recorddb/bytecodec"
	"recorddb/fileschema"
)

// Row is one record's content, exclusive of the deletion flag, parsed
// against a fileschema.Schema. Field n in Columns()/SetData() corresponds
// to field n of that schema — which, after datafile.Open has applied the
// name/room split, lines up one-to-one with the logical schema the Engine
// was constructed with.
type Row struct {
	Deleted bool
	Content []byte
	schema  *fileschema.Schema
}

// NewRow returns a zero-valued row sized to schema's total field width.
func NewRow(schema *fileschema.Schema) *Row {
	return &Row{Content: make([]byte, schema.TotalLength()), schema: schema}
}

// SetData overwrites every field for which data has an entry. An empty
// string clears the corresponding field; data entries beyond the schema's field
// count are ignored.
func (r *Row) SetData(data []string) {
	count := r.schema.FieldCount()
	if len(data) < count {
		count = len(data)
	}

	for i := 0; i < count; i++ {
		offset, err := r.schema.CumulativeLengthBefore(i)
		if err != nil {
			continue
		}
		length, err := r.schema.FieldLength(i)
		if err != nil {
			continue
		}

		for j := offset; j < offset+length; j++ {
			r.Content[j] = 0x00
		}

		if data[i] == "" {
			continue
		}
		src, err := bytecodec.EncodeString(data[i], bytecodec.Charset)
		if err != nil || src == nil {
			continue
		}
		copyLen := len(src)
		if copyLen > length {
			copyLen = length
		}
		copy(r.Content[offset:offset+copyLen], src)
	}
}

// GetString decodes field i.
func (r *Row) GetString(i int) (string, error) {
	length, err := r.schema.FieldLength(i)
	if err != nil {
		return "", err
	}
	offset, err := r.schema.CumulativeLengthBefore(i)
	if err != nil {
		return "", err
	}
	return bytecodec.DecodeString(r.Content, offset, length, bytecodec.Charset)
}

// Columns decodes every field, in schema order.
func (r *Row) Columns() ([]string, error) {
	count := r.schema.FieldCount()
	cols := make([]string, count)
	for i := 0; i < count; i++ {
		s, err := r.GetString(i)
		if err != nil {
			return nil, err
		}
		cols[i] = s
	}
	return cols, nil
}

// clone returns a deep copy, used when handing rows across the cache
// boundary so callers can't mutate cached content in place.
func (r *Row) clone() *Row {
	cp := &Row{Deleted: r.Deleted, schema: r.schema}
	cp.Content = make([]byte, len(r.Content))
	copy(cp.Content, r.Content)
	return cp
}
