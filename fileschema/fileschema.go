// Package fileschema describes the ordered, fixed-width field list stored in
// a data file's schema section (see datafile.Header). It supports one
// in-memory transformation — splitting a field into several contiguous
// sub-fields — that is never written back to disk; it only changes how
// records already on disk are parsed.
package fileschema

import "fmt"

// FieldNotExistError is returned when a field name or index is not present
// in the schema.
type FieldNotExistError struct {
	Detail string
}

func (e *FieldNotExistError) Error() string {
	return fmt.Sprintf("fileschema: field not found: %s", e.Detail)
}

// Field is one physical field: a name and a byte width.
type Field struct {
	Name   string
	Length int
}

// Schema is the ordered list of physical fields parsed from a data file's
// schema section.
type Schema struct {
	fields []Field
}

// New builds a Schema from an already-parsed, ordered field list.
func New(fields []Field) *Schema {
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return &Schema{fields: cp}
}

// FieldCount returns the number of fields currently in the schema,
// reflecting any prior Split calls.
func (s *Schema) FieldCount() int {
	return len(s.fields)
}

// FieldLength returns the width in bytes of field i.
func (s *Schema) FieldLength(i int) (int, error) {
	if i < 0 || i >= len(s.fields) {
		return 0, &FieldNotExistError{Detail: fmt.Sprintf("index %d", i)}
	}
	return s.fields[i].Length, nil
}

// FieldName returns the name of field i.
func (s *Schema) FieldName(i int) (string, error) {
	if i < 0 || i >= len(s.fields) {
		return "", &FieldNotExistError{Detail: fmt.Sprintf("index %d", i)}
	}
	return s.fields[i].Name, nil
}

// CumulativeLengthBefore returns the sum of the lengths of every field
// preceding field i — i.e. field i's byte offset within a record.
func (s *Schema) CumulativeLengthBefore(i int) (int, error) {
	if i < 0 || i >= len(s.fields) {
		return 0, &FieldNotExistError{Detail: fmt.Sprintf("index %d", i)}
	}
	total := 0
	for j := 0; j < i; j++ {
		total += s.fields[j].Length
	}
	return total, nil
}

// IndexOf returns the position of the named field.
func (s *Schema) IndexOf(name string) (int, error) {
	for i, f := range s.fields {
		if f.Name == name {
			return i, nil
		}
	}
	return -1, &FieldNotExistError{Detail: name}
}

// IsFieldPresent reports whether name exists in the schema.
func (s *Schema) IsFieldPresent(name string) bool {
	_, err := s.IndexOf(name)
	return err == nil
}

// TotalLength is the sum of every field's length — the record's on-disk
// width excluding the deletion flag byte.
func (s *Schema) TotalLength() int {
	total := 0
	for _, f := range s.fields {
		total += f.Length
	}
	return total
}

// Fields returns a copy of the current field list, in order.
func (s *Schema) Fields() []Field {
	cp := make([]Field, len(s.fields))
	copy(cp, s.fields)
	return cp
}

// Split replaces field i with newFields, inserted in order at position i.
// The sum of newFields' lengths must equal the original field's length.
// This never touches disk; it only changes how Schema parses records that
// are already laid out on disk with the original, wider field.
//
// Split is idempotent in the sense the caller is expected to enforce:
// calling it again after a field with one of the new field's names already
// exists is the caller's bug, not something Split itself detects — callers
// (see datafile.Open) check IsFieldPresent first.
func (s *Schema) Split(i int, newFields []Field) bool {
	if i < 0 || i >= len(s.fields) {
		return false
	}

	original := s.fields[i]
	total := 0
	for _, f := range newFields {
		total += f.Length
	}
	if total != original.Length {
		return false
	}

	next := make([]Field, 0, len(s.fields)+len(newFields)-1)
	next = append(next, s.fields[:i]...)
	next = append(next, newFields...)
	next = append(next, s.fields[i+1:]...)
	s.fields = next

	return true
}
