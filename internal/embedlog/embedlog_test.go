package embedlog

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLog(t *testing.T) *Log {
	t.Helper()
	return New(nil, filepath.Join(t.TempDir(), FileName))
}

func TestRecoverMissingFile(t *testing.T) {
	l := newLog(t)

	res, err := l.Recover()
	require.NoError(t, err)
	assert.Zero(t, res.Dim)
	assert.Empty(t, res.Vectors)
}

func TestAppendAndRecover(t *testing.T) {
	l := newLog(t)

	_, err := l.AppendBatch(3, []Record{
		{Key: 1, Vector: []float32{1, 0, 0}},
		{Key: 2, Vector: []float32{0, 1, 0}},
	})
	require.NoError(t, err)

	res, err := l.Recover()
	require.NoError(t, err)
	assert.Equal(t, 3, res.Dim)
	assert.Equal(t, int64(2), res.Records)
	assert.Equal(t, []float32{1, 0, 0}, res.Vectors[1])
	assert.Equal(t, []float32{0, 1, 0}, res.Vectors[2])
}

func TestLatestRecordWins(t *testing.T) {
	l := newLog(t)

	_, err := l.AppendBatch(2, []Record{{Key: 7, Vector: []float32{1, 1}}})
	require.NoError(t, err)
	_, err = l.AppendBatch(2, []Record{{Key: 7, Vector: []float32{2, 2}}})
	require.NoError(t, err)

	res, err := l.Recover()
	require.NoError(t, err)
	require.Len(t, res.Vectors, 1)
	assert.Equal(t, []float32{2, 2}, res.Vectors[7])
}

func TestTombstoneRecordDeletesKey(t *testing.T) {
	l := newLog(t)

	_, err := l.AppendBatch(2, []Record{
		{Key: 1, Vector: []float32{1, 2}},
		{Key: 2, Vector: []float32{3, 4}},
	})
	require.NoError(t, err)

	_, err = l.AppendBatch(2, []Record{
		{Key: 1, Vector: []float32{math.MaxFloat32, math.MaxFloat32}},
	})
	require.NoError(t, err)

	res, err := l.Recover()
	require.NoError(t, err)
	assert.NotContains(t, res.Vectors, uint64(1))
	assert.Equal(t, []float32{3, 4}, res.Vectors[2])
}

func TestReinsertAfterTombstone(t *testing.T) {
	l := newLog(t)

	_, err := l.AppendBatch(1, []Record{
		{Key: 5, Vector: []float32{1}},
		{Key: 5, Vector: []float32{math.MaxFloat32}},
		{Key: 5, Vector: []float32{9}},
	})
	require.NoError(t, err)

	res, err := l.Recover()
	require.NoError(t, err)
	assert.Equal(t, []float32{9}, res.Vectors[5])
}

func TestMismatchedRecordSkipped(t *testing.T) {
	l := newLog(t)

	skipped, err := l.AppendBatch(2, []Record{
		{Key: 1, Vector: []float32{1, 2}},
		{Key: 2, Vector: []float32{1, 2, 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)

	res, err := l.Recover()
	require.NoError(t, err)
	assert.Len(t, res.Vectors, 1)
}

func TestTruncatedTailSkipped(t *testing.T) {
	l := newLog(t)

	_, err := l.AppendBatch(2, []Record{{Key: 1, Vector: []float32{1, 2}}})
	require.NoError(t, err)

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xde, 0xad, 0xbe})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err := l.Recover()
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.TrailingBytes)
	assert.Equal(t, []float32{1, 2}, res.Vectors[1])
}

func TestRemove(t *testing.T) {
	l := newLog(t)

	require.NoError(t, l.Remove()) // absent file is fine

	_, err := l.AppendBatch(1, []Record{{Key: 1, Vector: []float32{1}}})
	require.NoError(t, err)
	require.NoError(t, l.Remove())

	res, err := l.Recover()
	require.NoError(t, err)
	assert.Empty(t, res.Vectors)
}
