package ipfrag

import (
	"net"

	"github.com/google/gopacket/layers"
)

// Header is a snapshot of the IPv4 header fields of a first fragment, taken
// without its payload. Slices are copied on the way in and on the way out.
type Header struct {
	Version  uint8
	IHL      uint8
	TOS      uint8
	Id       uint16
	TTL      uint8
	Protocol layers.IPProtocol
	SrcIP    net.IP
	DstIP    net.IP
	Options  []layers.IPv4Option
}

func headerOf(ip *layers.IPv4) Header {
	return Header{
		Version:  ip.Version,
		IHL:      ip.IHL,
		TOS:      ip.TOS,
		Id:       ip.Id,
		TTL:      ip.TTL,
		Protocol: ip.Protocol,
		SrcIP:    copyIP(ip.SrcIP),
		DstIP:    copyIP(ip.DstIP),
		Options:  copyOptions(ip.Options),
	}
}

func (h Header) clone() Header {
	h.SrcIP = copyIP(h.SrcIP)
	h.DstIP = copyIP(h.DstIP)
	h.Options = copyOptions(h.Options)
	return h
}

// apply writes the snapshot onto ip. Fragmentation fields and payload are left alone.
func (h Header) apply(ip *layers.IPv4) {
	ip.Version = h.Version
	ip.IHL = h.IHL
	ip.TOS = h.TOS
	ip.Id = h.Id
	ip.TTL = h.TTL
	ip.Protocol = h.Protocol
	ip.SrcIP = copyIP(h.SrcIP)
	ip.DstIP = copyIP(h.DstIP)
	ip.Options = copyOptions(h.Options)
}

func copyIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	return append(net.IP(nil), ip...)
}

func copyOptions(options []layers.IPv4Option) []layers.IPv4Option {
	if len(options) == 0 {
		return nil
	}
	out := make([]layers.IPv4Option, len(options))
	for i, o := range options {
		out[i] = o
		out[i].OptionData = append([]byte(nil), o.OptionData...)
	}
	return out
}
