package ipfrag

import (
	"time"

	"github.com/google/gopacket"
	"github.com/pkg/errors"
)

var (
	// ErrIncomplete is returned when stitching a stream that has not received every fragment.
	ErrIncomplete = errors.New("datagram incomplete")
	// ErrCoverageGap is returned when the fragments do not cover the datagram contiguously.
	ErrCoverageGap = errors.New("coverage gap")
	// ErrUnknownPayload is returned when the payload builder rejects the stitched bytes.
	ErrUnknownPayload = errors.New("payload not recognized")
)

// Fragment is one received byte range of a datagram. Offset is in bytes.
type Fragment struct {
	Offset  int
	Payload []byte
}

// Datagram is the result of a successful stitch.
type Datagram struct {
	Header  Header
	Data    []byte
	Payload gopacket.Packet
}

// Stream collects the fragments of a single datagram, sorted by offset with
// one fragment per offset.
type Stream struct {
	fragments        []Fragment
	receivedSize     int
	totalSize        int
	receivedTerminal bool
	header           Header
	lastSeen         time.Time
	timeout          time.Duration
}

func NewStream(timeout time.Duration) *Stream {
	return &Stream{timeout: timeout}
}

// Absorb stores a fragment. If the stream already holds fragments and more
// than the timeout has passed since the last one, the stream is wiped first
// and Absorb reports true. The payload is copied.
func (s *Stream) Absorb(timestamp time.Time, offset int, payload []byte, moreFragments bool, header Header) bool {
	var timedOut bool
	if len(s.fragments) > 0 && timestamp.Sub(s.lastSeen) > s.timeout {
		s.clear()
		timedOut = true
	}
	s.lastSeen = timestamp

	fragment := Fragment{Offset: offset, Payload: append([]byte(nil), payload...)}

	i := 0
	for i < len(s.fragments) && offset > s.fragments[i].Offset {
		i++
	}
	if i < len(s.fragments) && s.fragments[i].Offset == offset {
		// newest wins
		s.receivedSize -= len(s.fragments[i].Payload)
		s.fragments[i] = fragment
	} else {
		s.fragments = append(s.fragments, Fragment{})
		copy(s.fragments[i+1:], s.fragments[i:])
		s.fragments[i] = fragment
	}
	s.receivedSize += len(payload)

	if !moreFragments {
		s.totalSize = offset + len(payload)
		s.receivedTerminal = true
	}
	if offset == 0 {
		s.header = header
	}
	return timedOut
}

func (s *Stream) clear() {
	s.fragments = nil
	s.receivedSize = 0
	s.totalSize = 0
	s.receivedTerminal = false
	s.header = Header{}
}

// IsComplete reports whether the terminal fragment arrived, the received byte
// count equals the datagram size and the first fragment starts at offset 0.
func (s *Stream) IsComplete() bool {
	if !s.receivedTerminal || s.receivedSize != s.totalSize {
		return false
	}
	return len(s.fragments) > 0 && s.fragments[0].Offset == 0
}

// Stitch concatenates the fragments in offset order and hands the result to
// builder along with the protocol of the first fragment.
func (s *Stream) Stitch(builder PayloadBuilder) (*Datagram, error) {
	if !s.IsComplete() {
		return nil, ErrIncomplete
	}
	b := newBuffer(s.totalSize)
	expected := 0
	for _, f := range s.fragments {
		if f.Offset != expected {
			return nil, errors.Wrapf(ErrCoverageGap, "expected offset %d, fragment at %d", expected, f.Offset)
		}
		b.writeBytes(f.Payload)
		expected += len(f.Payload)
	}

	data := b.bytes()
	payload := builder.Build(s.header.Protocol, data)
	if payload == nil {
		return nil, errors.Wrapf(ErrUnknownPayload, "protocol %s, %d bytes", s.header.Protocol, len(data))
	}
	return &Datagram{Header: s.header.clone(), Data: data, Payload: payload}, nil
}

// Fragments returns the held fragments in offset order. The slice is a copy
// but payloads are shared.
func (s *Stream) Fragments() []Fragment {
	return append([]Fragment(nil), s.fragments...)
}

func (s *Stream) Len() int {
	return len(s.fragments)
}

func (s *Stream) ReceivedSize() int {
	return s.receivedSize
}

// TotalSize is only meaningful once the terminal fragment has been received.
func (s *Stream) TotalSize() (int, bool) {
	return s.totalSize, s.receivedTerminal
}

func (s *Stream) LastSeen() time.Time {
	return s.lastSeen
}

func (s *Stream) Header() Header {
	return s.header.clone()
}
