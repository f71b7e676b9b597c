package ipfrag

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testEpoch  = time.Unix(1500000000, 0)
	testHeader = Header{
		Version:  4,
		IHL:      5,
		Id:       0x1234,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
)

type testFragment struct {
	offset  int
	payload string
	more    bool
}

func absorbAll(s *Stream, at time.Time, fragments ...testFragment) {
	for _, f := range fragments {
		s.Absorb(at, f.offset, []byte(f.payload), f.more, testHeader)
	}
}

func permutations(fragments []testFragment) [][]testFragment {
	if len(fragments) <= 1 {
		return [][]testFragment{append([]testFragment(nil), fragments...)}
	}
	var out [][]testFragment
	for i := range fragments {
		rest := make([]testFragment, 0, len(fragments)-1)
		rest = append(rest, fragments[:i]...)
		rest = append(rest, fragments[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]testFragment{fragments[i]}, p...))
		}
	}
	return out
}

func TestStreamOrderIndependence(t *testing.T) {
	fragments := []testFragment{
		{0, "AAAAAAAA", true},
		{8, "BBBBBBBB", true},
		{16, "CCCCCCCC", true},
		{24, "DDD", false},
	}
	orders := permutations(fragments)
	require.Len(t, orders, 24)

	for _, order := range orders {
		s := NewStream(DefaultTimeout)
		for i, f := range order {
			assert.False(t, s.IsComplete(), "complete after %d of %d fragments: %v", i, len(order), order)
			s.Absorb(testEpoch, f.offset, []byte(f.payload), f.more, testHeader)
		}
		require.True(t, s.IsComplete(), "%v", order)

		datagram, err := s.Stitch(RawBuilder{})
		require.NoError(t, err, "%v", order)
		assert.Equal(t, "AAAAAAAABBBBBBBBCCCCCCCCDDD", string(datagram.Data))
		assert.Equal(t, testHeader, datagram.Header)
	}
}

func TestStreamFragmentsSorted(t *testing.T) {
	s := NewStream(DefaultTimeout)
	absorbAll(s, testEpoch,
		testFragment{16, "cc", false},
		testFragment{0, "aaaaaaaa", true},
		testFragment{8, "bbbbbbbb", true},
	)
	var offsets []int
	for _, f := range s.Fragments() {
		offsets = append(offsets, f.Offset)
	}
	assert.Equal(t, []int{0, 8, 16}, offsets)
}

func TestStreamDuplicateReplacement(t *testing.T) {
	s := NewStream(DefaultTimeout)
	absorbAll(s, testEpoch,
		testFragment{0, "AAAAAAAA", true},
		testFragment{0, "ZZZZZZZZ", true},
	)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 8, s.ReceivedSize())

	absorbAll(s, testEpoch, testFragment{8, "BB", false})
	require.True(t, s.IsComplete())

	datagram, err := s.Stitch(RawBuilder{})
	require.NoError(t, err)
	assert.Equal(t, "ZZZZZZZZBB", string(datagram.Data))
}

func TestStreamDuplicateDifferentLength(t *testing.T) {
	s := NewStream(DefaultTimeout)
	absorbAll(s, testEpoch,
		testFragment{0, "AAAAAAAAAAAAAAAA", true},
		testFragment{0, "AAAAAAAA", true},
		testFragment{8, "BB", false},
	)
	assert.Equal(t, 10, s.ReceivedSize())
	assert.True(t, s.IsComplete())
}

func TestStreamCountsMatchButGap(t *testing.T) {
	// 0..24 and 8..16 overlap, 24..32 is never received, yet 24+8+8 == 40.
	s := NewStream(DefaultTimeout)
	absorbAll(s, testEpoch,
		testFragment{0, "AAAAAAAAAAAAAAAAAAAAAAAA", true},
		testFragment{8, "BBBBBBBB", true},
		testFragment{32, "CCCCCCCC", false},
	)
	total, ok := s.TotalSize()
	require.True(t, ok)
	assert.Equal(t, 40, total)
	assert.Equal(t, 40, s.ReceivedSize())
	require.True(t, s.IsComplete())

	datagram, err := s.Stitch(RawBuilder{})
	assert.Nil(t, datagram)
	assert.Equal(t, ErrCoverageGap, errors.Cause(err))
}

func TestStreamSizeMismatchIncomplete(t *testing.T) {
	s := NewStream(DefaultTimeout)
	absorbAll(s, testEpoch,
		testFragment{0, "AAAAAAAAAAAAAAAA", true},
		testFragment{24, "BBBBBBBBBBBBBBBB", false},
	)
	assert.Equal(t, 32, s.ReceivedSize())
	assert.False(t, s.IsComplete())

	_, err := s.Stitch(RawBuilder{})
	assert.Equal(t, ErrIncomplete, err)
}

func TestStreamMissingFirstFragment(t *testing.T) {
	// total 24 and received 24, but nothing starts at offset 0
	s := NewStream(DefaultTimeout)
	absorbAll(s, testEpoch,
		testFragment{8, "AAAAAAAA", true},
		testFragment{16, "BBBBBBBB", false},
		testFragment{24, "CCCCCCCC", true},
	)
	total, _ := s.TotalSize()
	assert.Equal(t, 24, total)
	assert.Equal(t, 24, s.ReceivedSize())
	assert.False(t, s.IsComplete())
}

func TestStreamLaterTerminalWins(t *testing.T) {
	s := NewStream(DefaultTimeout)
	absorbAll(s, testEpoch,
		testFragment{8, "AAAAAAAA", false},
		testFragment{16, "BBBBBBBB", false},
	)
	total, ok := s.TotalSize()
	assert.True(t, ok)
	assert.Equal(t, 24, total)
}

func TestStreamTimeoutReset(t *testing.T) {
	s := NewStream(DefaultTimeout)
	assert.False(t, s.Absorb(testEpoch, 0, []byte("AAAAAAAA"), true, testHeader))
	assert.True(t, s.Absorb(testEpoch.Add(3000000*time.Microsecond), 8, []byte("BB"), false, testHeader))

	require.Equal(t, 1, s.Len())
	assert.Equal(t, []Fragment{{Offset: 8, Payload: []byte("BB")}}, s.Fragments())
	assert.Equal(t, 2, s.ReceivedSize())
	assert.Equal(t, Header{}, s.Header())
	assert.False(t, s.IsComplete())
	assert.Equal(t, testEpoch.Add(3*time.Second), s.LastSeen())
}

func TestStreamTimeoutBoundary(t *testing.T) {
	s := NewStream(DefaultTimeout)
	s.Absorb(testEpoch, 0, []byte("AAAAAAAA"), true, testHeader)
	assert.False(t, s.Absorb(testEpoch.Add(DefaultTimeout), 8, []byte("BB"), false, testHeader))
	assert.True(t, s.IsComplete())
}

func TestStreamPayloadCopied(t *testing.T) {
	payload := []byte("AAAAAAAA")
	s := NewStream(DefaultTimeout)
	s.Absorb(testEpoch, 0, payload, false, testHeader)
	payload[0] = 'Z'

	datagram, err := s.Stitch(RawBuilder{})
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", string(datagram.Data))
}

func TestStreamBuilderRejects(t *testing.T) {
	s := NewStream(DefaultTimeout)
	s.Absorb(testEpoch, 0, []byte("AAAAAAAA"), false, testHeader)

	var gotProtocol layers.IPProtocol
	datagram, err := s.Stitch(PayloadBuilderFunc(func(protocol layers.IPProtocol, data []byte) gopacket.Packet {
		gotProtocol = protocol
		return nil
	}))
	assert.Nil(t, datagram)
	assert.Equal(t, ErrUnknownPayload, errors.Cause(err))
	assert.Equal(t, layers.IPProtocolUDP, gotProtocol)
}

func TestStreamHeaderCopied(t *testing.T) {
	s := NewStream(DefaultTimeout)
	header := testHeader.clone()
	header.Options = []layers.IPv4Option{{OptionType: 7, OptionLength: 3, OptionData: []byte{4}}}
	s.Absorb(testEpoch, 0, []byte("AAAAAAAA"), false, header)

	got := s.Header()
	got.SrcIP[0] = 99
	got.Options[0].OptionData[0] = 99

	datagram, err := s.Stitch(RawBuilder{})
	require.NoError(t, err)
	datagram.Header.DstIP[0] = 99

	assert.Equal(t, header, s.Header())
	assert.Equal(t, net.IP{10, 0, 0, 1}, s.Header().SrcIP)
	assert.Equal(t, net.IP{10, 0, 0, 2}, s.Header().DstIP)
	assert.Equal(t, byte(4), s.Header().Options[0].OptionData[0])
}
