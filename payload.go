package ipfrag

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// PayloadBuilder turns the stitched bytes of a datagram into the next-layer
// packet for its protocol. Build returns nil when the protocol is not
// recognized or the bytes are not valid for it.
type PayloadBuilder interface {
	Build(protocol layers.IPProtocol, data []byte) gopacket.Packet
}

// PayloadBuilderFunc adapts a function to PayloadBuilder.
type PayloadBuilderFunc func(protocol layers.IPProtocol, data []byte) gopacket.Packet

func (f PayloadBuilderFunc) Build(protocol layers.IPProtocol, data []byte) gopacket.Packet {
	return f(protocol, data)
}

// DecodingBuilder decodes the payload with the gopacket layer type registered
// for the protocol number. Only a failure of that first layer rejects the
// bytes; layers above it, such as an application decoder picked by port, may
// fail and leave a decode failure in the returned packet.
type DecodingBuilder struct {
	Options gopacket.DecodeOptions
}

func (b DecodingBuilder) Build(protocol layers.IPProtocol, data []byte) gopacket.Packet {
	layerType := protocol.LayerType()
	if layerType == gopacket.LayerTypeZero {
		return nil
	}
	packet := gopacket.NewPacket(data, layerType, b.Options)
	first := packet.Layer(layerType)
	if first == nil {
		return nil
	}
	if packet.ErrorLayer() != nil {
		// some decoders add their layer before reporting its own error
		dl, ok := first.(gopacket.DecodingLayer)
		if !ok || dl.DecodeFromBytes(packet.Data(), gopacket.NilDecodeFeedback) != nil {
			return nil
		}
	}
	return packet
}

// RawBuilder wraps the payload as an opaque gopacket.Payload regardless of protocol.
type RawBuilder struct{}

func (RawBuilder) Build(_ layers.IPProtocol, data []byte) gopacket.Packet {
	return gopacket.NewPacket(data, gopacket.LayerTypePayload, gopacket.Default)
}
