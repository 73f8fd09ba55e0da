package rdtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkingCoversPayload(t *testing.T) {
	sizes := []int{0, 1, 1023, 1024, 1025, 2500, 150000, 65499 * 3}
	chunkSizes := []int{1, 1024, 60000, MaxChunkSize}

	for _, size := range sizes {
		for _, chunkSize := range chunkSizes {
			count := ChunkCount(size, chunkSize)
			assert.Equal(t, (size+chunkSize-1)/chunkSize, count, "size=%d chunk=%d", size, chunkSize)

			payload := make([]byte, size)
			sum := 0
			for seq := 0; seq < count; seq++ {
				chunk := Chunk(payload, seq, chunkSize)
				require.LessOrEqual(t, len(chunk), chunkSize)
				require.Equal(t, chunkLen(size, seq, chunkSize), len(chunk))
				sum += len(chunk)
			}
			assert.Equal(t, size, sum, "size=%d chunk=%d", size, chunkSize)
		}
	}
}

func TestChunkSizesOfReferencePayload(t *testing.T) {
	payload := make([]byte, 150000)
	require.Equal(t, 3, ChunkCount(len(payload), 60000))
	assert.Len(t, Chunk(payload, 0, 60000), 60000)
	assert.Len(t, Chunk(payload, 1, 60000), 60000)
	assert.Len(t, Chunk(payload, 2, 60000), 30000)
}

func TestReceivedSet(t *testing.T) {
	rs := newReceivedSet(5)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, rs.missing(MaxGapEntries))

	assert.True(t, rs.add(0))
	assert.False(t, rs.add(0), "duplicates are not new")
	assert.False(t, rs.add(5), "out of range is ignored")
	assert.True(t, rs.add(3))
	assert.True(t, rs.has(3))
	assert.False(t, rs.has(9))

	assert.Equal(t, []uint32{1, 2, 4}, rs.missing(MaxGapEntries))
	assert.Equal(t, []uint32{1, 2}, rs.missing(2))
	assert.False(t, rs.complete())

	rs.add(1)
	rs.add(2)
	rs.add(4)
	assert.True(t, rs.complete())
	assert.Empty(t, rs.missing(MaxGapEntries))
}

func TestPendingBuffer(t *testing.T) {
	pb := newPendingBuffer(2)
	pb.put(0, []byte("a"))
	pb.put(1, []byte("b"))

	chunk, ok := pb.get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), chunk)
	assert.Equal(t, 2, pb.len())

	pb.release()
	_, ok = pb.get(0)
	assert.False(t, ok)
}
