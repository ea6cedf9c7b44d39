package platform

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// EnableOOB turns on the control-message flags needed to recover the real
// local address of a packet received on a UDP socket bound to a wildcard
// address.  Without it, a Handle created for a UDP conversation can only
// report the wildcard bind address as its local address instead of the
// interface the peer actually reached.
func EnableOOB(c net.PacketConn) (err4, err6 error) {
	err6 = ipv6.NewPacketConn(c).SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, true)
	err4 = ipv4.NewPacketConn(c).SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true)

	return err4, err6
}

// LocalAddrFromOOB extracts the destination address carried in a UDP
// packet's out-of-band control data, falling back to fallback when no
// destination information could be parsed (e.g. the platform didn't attach
// any, or EnableOOB was never called).
func LocalAddrFromOOB(oob []byte, port int, fallback net.Addr) (addr net.Addr) {
	if cm := parseIPv4ControlMessage(oob); cm != nil && cm.Dst != nil {
		return &net.UDPAddr{IP: cm.Dst, Port: port}
	}

	if cm := parseIPv6ControlMessage(oob); cm != nil && cm.Dst != nil {
		return &net.UDPAddr{IP: cm.Dst, Port: port}
	}

	return fallback
}

func parseIPv4ControlMessage(oob []byte) (cm *ipv4.ControlMessage) {
	cm = &ipv4.ControlMessage{}
	if cm.Parse(oob) != nil {
		return nil
	}

	return cm
}

func parseIPv6ControlMessage(oob []byte) (cm *ipv6.ControlMessage) {
	cm = &ipv6.ControlMessage{}
	if cm.Parse(oob) != nil {
		return nil
	}

	return cm
}
