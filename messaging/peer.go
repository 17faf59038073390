package messaging

import (
	"fmt"
	"net"
	"strconv"
)

// Address is the broadcast address by which a node identifies itself to its
// peers - a host without a port. The messaging ports are uniform across the
// cluster and supplied by configuration.
type Address string

// PeerID names a peer: its broadcast address plus the core the message
// originates from or is destined to. Connections are not routed per core, so
// the connection caches are keyed by the address only; the core id is kept for
// stats display. PeerID has no equality or ordering method of its own: the
// built-in == compares both fields.
type PeerID struct {
	Addr   Address
	CoreID int
}

func (p PeerID) String() string {
	return fmt.Sprintf("%s:%d", p.Addr, p.CoreID)
}

func netAddr(host Address, port int) string {
	return net.JoinHostPort(string(host), strconv.Itoa(port))
}
