package chunk

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitJoinRoundTrip(t *testing.T) {
	random := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 2, 7, 64, 1000, 4096} {
		data := make([]byte, n)
		random.Read(data)
		for _, size := range []int{1, 2, 3, 64, 5000} {
			chunks, err := Split(data, size)
			require.NoError(t, err)
			res, err := Join(chunks)
			require.NoError(t, err)
			require.True(t, bytes.Equal(data, res.Data), "n=%d size=%d", n, size)
		}
	}
}

func TestSplitSizes(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 10)
	chunks, err := Split(data, 3)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	for _, c := range chunks[:3] {
		assert.Len(t, c, 3)
	}
	assert.Len(t, chunks[3], 1)
}

func TestSplitEmpty(t *testing.T) {
	chunks, err := Split(nil, 4)
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestSplitSmallerThanChunk(t *testing.T) {
	chunks, err := Split([]byte("ABCDE"), 1<<20)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, []byte("ABCDE"), chunks[0])
}

func TestSplitInvalidSize(t *testing.T) {
	_, err := Split([]byte("a"), 0)
	require.ErrorIs(t, err, ErrInvalidChunkSize)
	_, err = Split([]byte("a"), -1)
	require.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestSplitDoc1(t *testing.T) {
	chunks, err := Split([]byte("ABCDE"), 2)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("AB"), []byte("CD"), []byte("E")}, chunks)
}

func TestJoinGap(t *testing.T) {
	chunks := [][]byte{[]byte("AB"), nil, []byte("E")}
	_, err := Join(chunks)
	require.ErrorIs(t, err, ErrChunkGap)
	var gap *GapError
	require.True(t, errors.As(err, &gap))
	require.Equal(t, 1, gap.Index)
	require.Equal(t, 3, gap.Total)

	res, err := Join(chunks, AllowGaps())
	require.NoError(t, err)
	require.Equal(t, []byte("ABE"), res.Data)
	require.Equal(t, []int{1}, res.Skipped)
	require.Equal(t, 2, res.Present)
}

func TestJoinEmptyChunkIsNotGap(t *testing.T) {
	res, err := Join([][]byte{[]byte("A"), {}, []byte("B")})
	require.NoError(t, err)
	require.Equal(t, []byte("AB"), res.Data)
}

func TestKeys(t *testing.T) {
	require.Equal(t, "doc1chunk0", Key("doc1", 0))
	require.Equal(t, []string{"doc1chunk0", "doc1chunk1", "doc1chunk2"}, Keys("doc1", 0, 3))
	require.Nil(t, Keys("doc1", 3, 3))
}

func TestParseKey(t *testing.T) {
	for _, tc := range []struct {
		in    string
		key   string
		index int
		ok    bool
	}{
		{"doc1chunk0", "doc1", 0, true},
		{"doc1chunk12", "doc1", 12, true},
		{"achunk1chunk3", "achunk1", 3, true},
		{"chunk5", "", 5, true},
		{"doc1chunk", "", 0, false},
		{"doc1chunk01", "", 0, false},
		{"doc1chunkx", "", 0, false},
		{"doc1", "", 0, false},
	} {
		key, index, ok := ParseKey(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		if ok {
			require.Equal(t, tc.key, key, tc.in)
			require.Equal(t, tc.index, index, tc.in)
		}
	}
}
