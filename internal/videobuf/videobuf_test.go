package videobuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommitPublishesLatest(t *testing.T) {
	db := New()
	assert.True(t, db.Empty())

	w := db.BeginWrite()
	w.Data = []byte{1, 2, 3}
	w.Width, w.Height = 1, 1
	db.Commit()

	f := db.ReadLatest()
	assert.Equal(t, []byte{1, 2, 3}, f.Data)
	assert.False(t, db.Empty())
}

func TestStaleFramesDiscarded(t *testing.T) {
	db := New()

	w := db.BeginWrite()
	w.Data = []byte{1}
	db.Commit()

	w = db.BeginWrite()
	w.Data = []byte{2}
	db.Commit()

	f := db.ReadLatest()
	assert.Equal(t, []byte{2}, f.Data)
}

func TestSequenceNumberMonotonic(t *testing.T) {
	db := New()
	var last uint64
	for i := 0; i < 5; i++ {
		w := db.BeginWrite()
		w.Data = []byte{byte(i)}
		db.Commit()
		f := db.ReadLatest()
		assert.Greater(t, f.SequenceNumber, last)
		last = f.SequenceNumber
	}
}
