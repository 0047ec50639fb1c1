// Package dbschema describes the logical, business-level view of a record —
// as opposed to fileschema.Schema, which describes the physical, on-disk
// layout. Logical columns map onto physical fields; a logical schema can
// have more columns than the file has fields, when one physical field has
// been split (see fileschema.Schema.Split and datafile.Open).
package dbschema

// Well-known column names shared by both schema generations. Kept as
// constants because datafile.Open matches on them by name when deciding
// whether to split the on-disk "name" field.
const (
	Name     = "name"
	Room     = "room"
	Location = "location"
	Size     = "size"
	Smoking  = "smoking"
	Rate     = "rate"
	Date     = "date"
	Owner    = "owner"
)

// Column is one logical field: a name, a width, and whether it participates
// in the primary key.
type Column struct {
	Name        string
	Length      int
	IsPrimaryKy bool
	Description string
}

// Schema is the fixed, ordered list of logical columns an Engine is
// instantiated with for the lifetime of its data file.
type Schema struct {
	columns []Column
}

// New builds a Schema from an ordered column list.
func New(columns []Column) *Schema {
	cp := make([]Column, len(columns))
	copy(cp, columns)
	return &Schema{columns: cp}
}

// PrimaryKeyIndices returns, in schema order, the positions of every column
// marked as part of the primary key.
func (s *Schema) PrimaryKeyIndices() []int {
	var idx []int
	for i, c := range s.columns {
		if c.IsPrimaryKy {
			idx = append(idx, i)
		}
	}
	return idx
}

// ColumnIndex returns the position of the named column, or -1 if absent.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnLength returns the width of the named column, or 0 if absent.
func (s *Schema) ColumnLength(name string) int {
	for _, c := range s.columns {
		if c.Name == name {
			return c.Length
		}
	}
	return 0
}

// ColumnNames returns every column name in schema order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

// ColumnCount returns the number of logical columns.
func (s *Schema) ColumnCount() int {
	return len(s.columns)
}

// V1 is the schema that maps one-to-one onto the on-disk file schema: its
// primary key is (name, location). Kept for back-compatibility with data
// files that predate the room split; not used by default, but openable.
func V1() *Schema {
	return New([]Column{
		{Name: Name, Length: 56, IsPrimaryKy: true, Description: "Hotel Name"},
		{Name: Location, Length: 64, IsPrimaryKy: true, Description: "City"},
		{Name: Size, Length: 4, Description: "Maximum occupancy of this room"},
		{Name: Smoking, Length: 1, Description: "Is the room smoking or non-smoking"},
		{Name: Rate, Length: 8, Description: "Price per night"},
		{Name: Date, Length: 10, Description: "Date available"},
		{Name: Owner, Length: 8, Description: "Customer holding this record"},
	})
}

// V2 adds the "room" column, splitting the on-disk "name" field into a
// 56-byte name and an 8-byte room number. Its primary key is
// (name, room, location). This is the schema the engine uses by default.
func V2() *Schema {
	return New([]Column{
		{Name: Name, Length: 56, IsPrimaryKy: true, Description: "Hotel Name"},
		{Name: Room, Length: 8, IsPrimaryKy: true, Description: "Room number"},
		{Name: Location, Length: 64, IsPrimaryKy: true, Description: "City"},
		{Name: Size, Length: 4, Description: "Maximum occupancy of this room"},
		{Name: Smoking, Length: 1, Description: "Is the room smoking or non-smoking"},
		{Name: Rate, Length: 8, Description: "Price per night"},
		{Name: Date, Length: 10, Description: "Date available"},
		{Name: Owner, Length: 8, Description: "Customer holding this record"},
	})
}
