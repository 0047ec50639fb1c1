package txncontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewContextIsEmpty(t *testing.T) {
	c := New(7)

	assert.Equal(t, 7, c.RecordNumber())
	assert.False(t, c.IsDeleted())

	data, hasPending := c.Pending()
	assert.False(t, hasPending)
	assert.Nil(t, data)
}

func TestStageUpdateRecordsPendingData(t *testing.T) {
	c := New(1)
	c.StageUpdate([]string{"a", "b"})

	data, hasPending := c.Pending()
	assert.True(t, hasPending)
	assert.Equal(t, []string{"a", "b"}, data)
	assert.False(t, c.IsDeleted())
}

func TestStageDeleteThenUpdateIsDropped(t *testing.T) {
	c := New(1)
	c.StageDelete()
	c.StageUpdate([]string{"too", "late"})

	assert.True(t, c.IsDeleted())
	_, hasPending := c.Pending()
	assert.False(t, hasPending, "an update staged after a delete must be silently dropped")
}

func TestStageUpdateThenDeleteWins(t *testing.T) {
	c := New(1)
	c.StageUpdate([]string{"first"})
	c.StageDelete()

	assert.True(t, c.IsDeleted(), "delete must win regardless of staging order")
}
