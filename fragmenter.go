package ipfrag

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// FragmentDatagram splits payload into serialized IPv4 packets carrying at most
// fragmentSize payload bytes each, using header for every fragment. The
// fragment size is rounded down to a multiple of 8. A payload that fits in
// one fragment produces a single unfragmented packet.
func FragmentDatagram(header *layers.IPv4, payload []byte, fragmentSize int) ([][]byte, error) {
	if fragmentSize < 8 {
		return nil, errors.Errorf("fragment size %d is smaller than 8 bytes", fragmentSize)
	}
	fragmentSize &^= 7
	var extra int
	if len(payload)%fragmentSize != 0 {
		extra = 1
	}
	numFragments := len(payload)/fragmentSize + extra
	if numFragments == 0 {
		numFragments = 1
	}
	if (numFragments-1)*fragmentSize/8 > 0x1FFF {
		return nil, errors.Errorf("payload of %d bytes needs fragment offsets beyond the 13 bit field", len(payload))
	}

	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	q := newBufferFromRef(payload)
	packets := make([][]byte, 0, numFragments)

	for fragmentId := 0; fragmentId < numFragments; fragmentId++ {
		offset := q.pos
		bytesToCopy := fragmentSize
		if bytesToCopy > q.remaining() {
			bytesToCopy = q.remaining()
		}
		chunk, _ := q.getBytes(bytesToCopy)

		ip := *header
		ip.Version = 4
		ip.FragOffset = uint16(offset / 8)
		ip.Flags = header.Flags &^ layers.IPv4MoreFragments
		if numFragments > 1 {
			ip.Flags &^= layers.IPv4DontFragment
		}
		if fragmentId != numFragments-1 {
			ip.Flags |= layers.IPv4MoreFragments
		}

		buf := gopacket.NewSerializeBuffer()
		if err := gopacket.SerializeLayers(buf, opts, &ip, gopacket.Payload(chunk)); err != nil {
			return nil, errors.Wrapf(err, "serializing fragment %d of %d", fragmentId, numFragments)
		}
		packets = append(packets, buf.Bytes())
		log.Debugf("fragment %d of %d at offset %d (%d bytes)", fragmentId, numFragments, offset, len(chunk))
	}
	return packets, nil
}
