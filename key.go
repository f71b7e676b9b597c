package ipfrag

import (
	"bytes"
	"net"
)

// Address is an IPv4 address in network byte order.
type Address [4]byte

func addressOf(ip net.IP) Address {
	var a Address
	copy(a[:], ip.To4())
	return a
}

func (a Address) String() string {
	return net.IP(a[:]).String()
}

// AddressPair holds two addresses in ascending order, so both directions of
// a conversation produce the same pair.
type AddressPair struct {
	Low, High Address
}

// MakeAddressPair orders a and b.
func MakeAddressPair(a, b Address) AddressPair {
	if bytes.Compare(a[:], b[:]) < 0 {
		return AddressPair{Low: a, High: b}
	}
	return AddressPair{Low: b, High: a}
}

// Key identifies a logical datagram. Forward and reverse traffic sharing an
// identifier map to the same key.
type Key struct {
	Id        uint16
	Addresses AddressPair
}

func MakeKey(id uint16, src, dst net.IP) Key {
	return Key{
		Id:        id,
		Addresses: MakeAddressPair(addressOf(src), addressOf(dst)),
	}
}
