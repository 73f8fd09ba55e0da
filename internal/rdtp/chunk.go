package rdtp

// ChunkCount returns how many chunks of chunkSize bytes cover size bytes
func ChunkCount(size, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// Chunk returns the bytes of chunk seq. The last chunk may be shorter than
// chunkSize. The result aliases payload.
func Chunk(payload []byte, seq, chunkSize int) []byte {
	start := seq * chunkSize
	end := min(start+chunkSize, len(payload))
	return payload[start:end]
}

// chunkLen returns the expected length of chunk seq of a size-byte payload
func chunkLen(size, seq, chunkSize int) int {
	start := seq * chunkSize
	return min(chunkSize, size-start)
}

// pendingBuffer keeps every chunk handed to the network until the transfer
// reaches a terminal state, since datagrams cannot be recalled for resending
type pendingBuffer struct {
	chunks map[uint32][]byte
}

func newPendingBuffer(capacity int) *pendingBuffer {
	return &pendingBuffer{chunks: make(map[uint32][]byte, capacity)}
}

func (p *pendingBuffer) put(seq uint32, chunk []byte) {
	p.chunks[seq] = chunk
}

func (p *pendingBuffer) get(seq uint32) ([]byte, bool) {
	chunk, ok := p.chunks[seq]
	return chunk, ok
}

func (p *pendingBuffer) len() int {
	return len(p.chunks)
}

// release drops every chunk. Only called once the transfer is over.
func (p *pendingBuffer) release() {
	clear(p.chunks)
}

// receivedSet tracks which sequence numbers of a transfer have arrived
type receivedSet struct {
	seen  []bool
	count int
}

func newReceivedSet(total int) *receivedSet {
	return &receivedSet{seen: make([]bool, total)}
}

// add records seq and reports whether it was new
func (r *receivedSet) add(seq uint32) bool {
	if int(seq) >= len(r.seen) || r.seen[seq] {
		return false
	}
	r.seen[seq] = true
	r.count++
	return true
}

func (r *receivedSet) has(seq uint32) bool {
	return int(seq) < len(r.seen) && r.seen[seq]
}

func (r *receivedSet) total() int {
	return len(r.seen)
}

func (r *receivedSet) complete() bool {
	return r.count == len(r.seen)
}

// missing lists up to limit absent sequence numbers in ascending order
func (r *receivedSet) missing(limit int) []uint32 {
	out := make([]uint32, 0, min(limit, len(r.seen)-r.count))
	for seq, ok := range r.seen {
		if len(out) == limit {
			break
		}
		if !ok {
			out = append(out, uint32(seq))
		}
	}
	return out
}
