// Package rdtp implements the Reliable Datagram Transfer Protocol: a payload
// is burst as sequence-numbered chunks over UDP, the receiver reports the
// gaps, and the sender retransmits exactly the missing chunks until the
// receiver confirms nothing is missing.
package rdtp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Kind identifies the type of an RDTP packet
type Kind uint8

const (
	KindData Kind = iota
	KindInit
	KindTerminate
	KindGapReport
	KindStatus
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindData:
		return "Data"
	case KindInit:
		return "Init"
	case KindTerminate:
		return "Terminate"
	case KindGapReport:
		return "GapReport"
	case KindStatus:
		return "Status"
	default:
		return "Unknown"
	}
}

// Reserved values of the leading marker field. Non-negative markers are data
// sequence numbers.
const (
	markerInit      int32 = -1
	markerTerminate int32 = -2
	markerGapReport int32 = -3
	markerStatus    int32 = -4
)

const (
	markerSize = 4
	// DataHeaderSize is the marker plus the highest-known-sequence field
	DataHeaderSize = 8
	// initBodySize is the announced total size. The chunk size may follow
	// it as an optional extension field.
	initBodySize         = 4
	initExtendedBodySize = 8

	// MaxDatagramSize is the largest UDP payload over IPv4
	MaxDatagramSize = 65507
	// MaxChunkSize is the largest chunk that fits one datagram
	MaxChunkSize = MaxDatagramSize - DataHeaderSize
	// MaxGapEntries bounds the missing list of one gap report to one datagram
	MaxGapEntries = (MaxDatagramSize - markerSize - 4) / 4
	// MaxPayloadSize is the largest payload one transfer can announce
	MaxPayloadSize = math.MaxInt32
	// MaxChunks bounds the number of chunks of one transfer so that an
	// announcement cannot make the receiver allocate without limit
	MaxChunks = 1 << 20

	maxSequence = math.MaxInt32
)

// Packet is one decoded RDTP datagram. Which fields are meaningful depends on
// Kind.
type Packet struct {
	Kind Kind

	// Data
	Seq     uint32
	Highest uint32 // highest sequence the sender wants acknowledged this round
	Payload []byte

	// Init and init-ack
	TotalSize uint32
	ChunkSize uint32 // 0 when not on the wire; the receiver then uses its configured size

	// Gap report
	Missing []uint32
}

// DataPacket creates a data chunk packet
func DataPacket(seq, highest uint32, payload []byte) Packet {
	return Packet{Kind: KindData, Seq: seq, Highest: highest, Payload: payload}
}

// InitPacket creates an init (or init-ack) packet announcing a transfer. A
// zero chunkSize leaves the chunk size field off the wire.
func InitPacket(totalSize, chunkSize uint32) Packet {
	return Packet{Kind: KindInit, TotalSize: totalSize, ChunkSize: chunkSize}
}

// TerminatePacket creates a terminate (or terminate-ack) packet
func TerminatePacket() Packet {
	return Packet{Kind: KindTerminate}
}

// GapReportPacket creates a gap report listing missing sequence numbers
func GapReportPacket(missing []uint32) Packet {
	return Packet{Kind: KindGapReport, Missing: missing}
}

// StatusPacket creates a status request asking the receiver for a gap report
func StatusPacket() Packet {
	return Packet{Kind: KindStatus}
}

// Encode serializes a packet into its wire format
func Encode(p Packet) ([]byte, error) {
	switch p.Kind {
	case KindData:
		if p.Seq > maxSequence || p.Highest > maxSequence {
			return nil, framingError("sequence %d/%d out of range", p.Seq, p.Highest)
		}
		if len(p.Payload) > MaxChunkSize {
			return nil, framingError("chunk of %d bytes exceeds %d", len(p.Payload), MaxChunkSize)
		}
		buf := make([]byte, DataHeaderSize+len(p.Payload))
		binary.BigEndian.PutUint32(buf[0:], p.Seq)
		binary.BigEndian.PutUint32(buf[4:], p.Highest)
		copy(buf[DataHeaderSize:], p.Payload)
		return buf, nil

	case KindInit:
		size := initBodySize
		if p.ChunkSize != 0 {
			size = initExtendedBodySize
		}
		buf := make([]byte, markerSize+size)
		putMarker(buf, markerInit)
		binary.BigEndian.PutUint32(buf[4:], p.TotalSize)
		if p.ChunkSize != 0 {
			binary.BigEndian.PutUint32(buf[8:], p.ChunkSize)
		}
		return buf, nil

	case KindTerminate:
		buf := make([]byte, markerSize)
		putMarker(buf, markerTerminate)
		return buf, nil

	case KindStatus:
		buf := make([]byte, markerSize)
		putMarker(buf, markerStatus)
		return buf, nil

	case KindGapReport:
		if len(p.Missing) > MaxGapEntries {
			return nil, framingError("gap report of %d entries exceeds %d", len(p.Missing), MaxGapEntries)
		}
		buf := make([]byte, markerSize+4+4*len(p.Missing))
		putMarker(buf, markerGapReport)
		binary.BigEndian.PutUint32(buf[4:], uint32(len(p.Missing)))
		for i, seq := range p.Missing {
			if seq > maxSequence {
				return nil, framingError("missing sequence %d out of range", seq)
			}
			binary.BigEndian.PutUint32(buf[8+4*i:], seq)
		}
		return buf, nil

	default:
		return nil, framingError("unknown packet kind %d", p.Kind)
	}
}

// Decode parses a datagram. The returned packet does not alias b.
func Decode(b []byte) (Packet, error) {
	if len(b) < markerSize {
		return Packet{}, framingError("datagram of %d bytes is shorter than the marker", len(b))
	}

	marker := int32(binary.BigEndian.Uint32(b))
	body := b[markerSize:]

	switch {
	case marker >= 0:
		if len(body) < 4 {
			return Packet{}, framingError("data packet %d is missing its header", marker)
		}
		highest := int32(binary.BigEndian.Uint32(body))
		if highest < 0 {
			return Packet{}, framingError("data packet %d has negative highest sequence %d", marker, highest)
		}
		return DataPacket(uint32(marker), uint32(highest), bytes.Clone(body[4:])), nil

	case marker == markerInit:
		switch len(body) {
		case initBodySize:
			return InitPacket(binary.BigEndian.Uint32(body), 0), nil
		case initExtendedBodySize:
			chunkSize := binary.BigEndian.Uint32(body[4:])
			if chunkSize == 0 {
				return Packet{}, framingError("init announces a zero chunk size")
			}
			return InitPacket(binary.BigEndian.Uint32(body), chunkSize), nil
		default:
			return Packet{}, framingError("init body is %d bytes, want %d or %d", len(body), initBodySize, initExtendedBodySize)
		}

	case marker == markerTerminate:
		if len(body) != 0 {
			return Packet{}, framingError("terminate packet carries %d unexpected bytes", len(body))
		}
		return TerminatePacket(), nil

	case marker == markerStatus:
		if len(body) != 0 {
			return Packet{}, framingError("status packet carries %d unexpected bytes", len(body))
		}
		return StatusPacket(), nil

	case marker == markerGapReport:
		if len(body) < 4 {
			return Packet{}, framingError("gap report is missing its count")
		}
		count := int32(binary.BigEndian.Uint32(body))
		if count < 0 || int(count) > MaxGapEntries {
			return Packet{}, framingError("gap report count %d out of range", count)
		}
		if want := 4 + 4*int(count); len(body) != want {
			return Packet{}, framingError("gap report body is %d bytes, want %d", len(body), want)
		}
		missing := make([]uint32, count)
		for i := range missing {
			seq := int32(binary.BigEndian.Uint32(body[4+4*i:]))
			if seq < 0 {
				return Packet{}, framingError("gap report lists negative sequence %d", seq)
			}
			missing[i] = uint32(seq)
		}
		return GapReportPacket(missing), nil

	default:
		return Packet{}, framingError("unknown marker %d", marker)
	}
}

func putMarker(buf []byte, marker int32) {
	binary.BigEndian.PutUint32(buf, uint32(marker))
}

// String returns a short human readable form of the packet for logs
func (p Packet) String() string {
	switch p.Kind {
	case KindData:
		return fmt.Sprintf("Data(seq=%d highest=%d len=%d)", p.Seq, p.Highest, len(p.Payload))
	case KindInit:
		if p.ChunkSize == 0 {
			return fmt.Sprintf("Init(size=%d)", p.TotalSize)
		}
		return fmt.Sprintf("Init(size=%d chunk=%d)", p.TotalSize, p.ChunkSize)
	case KindGapReport:
		return fmt.Sprintf("GapReport(missing=%d)", len(p.Missing))
	default:
		return p.Kind.String()
	}
}
