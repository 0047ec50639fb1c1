package dbschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestV1Schema(t *testing.T) {
	s := V1()

	assert.Equal(t, 7, s.ColumnCount())
	assert.Equal(t, []int{0, 1}, s.PrimaryKeyIndices())
	assert.Equal(t, 56, s.ColumnLength(Name))
	assert.Equal(t, 0, s.ColumnLength("does-not-exist"))
	assert.Equal(t, -1, s.ColumnIndex("does-not-exist"))
}

func TestV2Schema(t *testing.T) {
	s := V2()

	assert.Equal(t, 8, s.ColumnCount())
	assert.Equal(t, []int{0, 1, 2}, s.PrimaryKeyIndices())

	names := s.ColumnNames()
	assert.Equal(t, []string{Name, Room, Location, Size, Smoking, Rate, Date, Owner}, names)
}

func TestSchemaNewCopiesInput(t *testing.T) {
	cols := []Column{{Name: "a", Length: 1, IsPrimaryKy: true}}
	s := New(cols)
	cols[0].Length = 99

	assert.Equal(t, 1, s.ColumnLength("a"), "Schema must not alias the caller's slice")
}
