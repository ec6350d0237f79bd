// Package routing implements the proxy's source-IP-keyed routing table:
// resolving route specifications to addresses, merging duplicate source
// IPs, and looking routes up by source IP or by the descriptor currently
// bound to them.
package routing

import "net"

// Family distinguishes an address's IP version.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv4 {
		return "ipv4"
	}
	return "ipv6"
}

func classify(ip net.IP) Family {
	if ip.To4() != nil {
		return IPv4
	}
	return IPv6
}

// NoFD marks a route with no descriptor currently bound to it.
const NoFD = -1

// Route maps a canonical source IP to a target address and port. Its
// address fields are set once at creation (by config load or an `add`
// command) or overwritten wholesale by a later merge; SourceFD is the
// only field mutated as pairs come and go.
type Route struct {
	SourceIP     string
	SourceFamily Family
	TargetIP     string
	TargetFamily Family
	TargetPort   uint16
	SourceFD     int // currently-bound accepted descriptor, or NoFD
}

// Bound reports whether the route currently has an active pair.
func (r *Route) Bound() bool {
	return r.SourceFD != NoFD
}
