package ipfrag

import (
	"math"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("ipfrag")

// Status is the outcome of processing one packet.
type Status int

const (
	// NotFragmented packets are returned untouched.
	NotFragmented Status = iota
	// Fragmented means the fragment was stored and the datagram is still incomplete.
	Fragmented
	// Reassembled means the packet now carries the whole datagram.
	Reassembled
	// Failed means every byte was accounted for but the datagram could not be
	// stitched or decoded. Its fragments have been dropped.
	Failed
)

func (s Status) String() string {
	switch s {
	case NotFragmented:
		return "not fragmented"
	case Fragmented:
		return "fragmented"
	case Reassembled:
		return "reassembled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Reassembler reassembles fragmented IPv4 datagrams. It is not safe for
// concurrent use; run one per capture loop or serialize access.
type Reassembler struct {
	Config   *Config
	Counters [CounterMax]uint64
	streams  map[Key]*Stream
}

// NewReassembler creates a reassembler. Zero config fields take their defaults.
func NewReassembler(config *Config) *Reassembler {
	return &Reassembler{
		Config:  config.withDefaults(),
		streams: make(map[Key]*Stream),
	}
}

// ProcessPacket runs the IPv4 layer of packet through Process using the
// packet's capture timestamp.
func (r *Reassembler) ProcessPacket(packet gopacket.Packet) (Status, *Datagram) {
	ip, _ := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if ip == nil {
		r.Counters[CounterNumPacketsProcessed]++
		r.Counters[CounterNumPacketsNotFragmented]++
		return NotFragmented, nil
	}
	return r.Process(packet.Metadata().Timestamp, ip)
}

// Process absorbs one packet. When the packet completes a datagram, ip is
// rewritten in place with the header of the first fragment and the stitched
// payload, and the datagram is returned along with Reassembled.
func (r *Reassembler) Process(timestamp time.Time, ip *layers.IPv4) (Status, *Datagram) {
	r.Counters[CounterNumPacketsProcessed]++
	if ip == nil || len(ip.Payload) == 0 || !isFragmented(ip) {
		r.Counters[CounterNumPacketsNotFragmented]++
		return NotFragmented, nil
	}

	key := MakeKey(ip.Id, ip.SrcIP, ip.DstIP)
	if len(r.streams) > r.Config.MaxStreams {
		r.sweep(timestamp)
	}

	stream, ok := r.streams[key]
	if !ok {
		log.Debugf("[%s] new stream id %d %s <-> %s", r.Config.Name, key.Id, key.Addresses.Low, key.Addresses.High)
		stream = NewStream(r.Config.Timeout)
		r.streams[key] = stream
	}

	offset := int(ip.FragOffset) * 8
	more := ip.Flags&layers.IPv4MoreFragments != 0
	held := stream.Len()
	if stream.Absorb(timestamp, offset, ip.Payload, more, headerOf(ip)) {
		log.Debugf("[%s] stream id %d timed out, discarded %d fragments", r.Config.Name, key.Id, held)
		r.Counters[CounterNumStreamsTimedOut]++
	} else if stream.Len() == held {
		r.Counters[CounterNumFragmentsReplaced]++
	}
	r.Counters[CounterNumFragmentsReceived]++
	log.Debugf("[%s] received fragment id %d offset %d (%d bytes, more %t)", r.Config.Name, key.Id, offset, len(ip.Payload), more)

	if !stream.IsComplete() {
		return Fragmented, nil
	}

	datagram, err := stream.Stitch(r.Config.Builder)
	delete(r.streams, key)
	if err != nil {
		log.Warningf("[%s] dropping datagram id %d: %v", r.Config.Name, key.Id, err)
		r.Counters[CounterNumDatagramsFailed]++
		return Failed, nil
	}

	datagram.Header.apply(ip)
	ip.Payload = datagram.Data
	ip.FragOffset = 0
	ip.Flags = 0
	if n := int(ip.IHL)*4 + len(datagram.Data); n <= math.MaxUint16 {
		ip.Length = uint16(n)
	} else {
		log.Warningf("[%s] datagram id %d is %d bytes, too long for the IPv4 length field", r.Config.Name, key.Id, n)
		ip.Length = 0
	}
	log.Debugf("[%s] reassembled datagram id %d (%d bytes)", r.Config.Name, key.Id, len(datagram.Data))
	r.Counters[CounterNumDatagramsReassembled]++
	return Reassembled, datagram
}

// sweep drops every stream that has been idle longer than the timeout.
func (r *Reassembler) sweep(timestamp time.Time) {
	var swept int
	for key, stream := range r.streams {
		if timestamp.Sub(stream.LastSeen()) > r.Config.Timeout {
			delete(r.streams, key)
			swept++
		}
	}
	if swept > 0 {
		log.Debugf("[%s] swept %d stale streams, %d left", r.Config.Name, swept, len(r.streams))
	}
	r.Counters[CounterNumStreamsSwept] += uint64(swept)
}

// Len returns the number of datagrams currently being collected.
func (r *Reassembler) Len() int {
	return len(r.streams)
}

// Reset drops every stream and zeroes the counters.
func (r *Reassembler) Reset() {
	r.streams = make(map[Key]*Stream)
	r.Counters = [CounterMax]uint64{}
}

func isFragmented(ip *layers.IPv4) bool {
	return ip.Flags&layers.IPv4MoreFragments != 0 || ip.FragOffset != 0
}

const (
	CounterNumPacketsProcessed = iota
	CounterNumPacketsNotFragmented
	CounterNumFragmentsReceived
	CounterNumFragmentsReplaced
	CounterNumStreamsTimedOut
	CounterNumStreamsSwept
	CounterNumDatagramsReassembled
	CounterNumDatagramsFailed
	CounterMax
)

// CounterNames are printable names for the counters, in counter order.
var CounterNames = [CounterMax]string{
	"packets processed",
	"packets not fragmented",
	"fragments received",
	"fragments replaced",
	"streams timed out",
	"streams swept",
	"datagrams reassembled",
	"datagrams failed",
}
