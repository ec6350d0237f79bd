package routing

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/vkardon/tcproxy/internal/perr"
)

// Resolver resolves a host to its ordered list of addresses. The core
// treats name resolution as a synchronous external collaborator (§1); a
// production Table uses net.DefaultResolver via NewResolver, while tests
// inject a fixed table.
type Resolver func(host string) ([]net.IP, error)

// NewResolver returns a Resolver backed by the standard library's
// resolver, preserving the order addresses are returned in.
func NewResolver() Resolver {
	return func(host string) ([]net.IP, error) {
		return net.LookupIP(host)
	}
}

// Evict is called when a merge forcibly displaces a route that has an
// active pair (§4.B policy 2). The Table does not own descriptors or the
// reactor; it asks its owner to tear the pair down.
type Evict func(sourceFD int)

// Table is an ordered sequence of routes keyed by source IP. New routes
// are prepended so a just-added route takes priority over a stale
// duplicate further down the list during reinsertion.
type Table struct {
	routes  []*Route
	resolve Resolver
	evict   Evict
}

// New creates an empty routing table.
func New(resolve Resolver, evict Evict) *Table {
	if resolve == nil {
		resolve = NewResolver()
	}
	if evict == nil {
		evict = func(int) {}
	}
	return &Table{resolve: resolve, evict: evict}
}

// chooseTarget picks the route's target address from a resolved list,
// preferring IPv4 on ties (§4.B).
func chooseTarget(addrs []net.IP) (net.IP, Family, error) {
	if len(addrs) == 0 {
		return nil, 0, perr.ErrNoTargetAddr
	}
	for _, ip := range addrs {
		if classify(ip) == IPv4 {
			return ip, IPv4, nil
		}
	}
	return addrs[0], classify(addrs[0]), nil
}

// Add resolves sourceHost and targetHost and inserts one route per
// source address, all sharing the same resolved target (§4.B).
func (t *Table) Add(sourceHost, targetHost string, targetPort uint16) error {
	targetAddrs, err := t.resolve(targetHost)
	if err != nil {
		return perr.Wrap(err, "resolve target host "+targetHost)
	}
	targetIP, targetFamily, err := chooseTarget(targetAddrs)
	if err != nil {
		return fmt.Errorf("target host %s: %w", targetHost, err)
	}

	sourceAddrs, err := t.resolve(sourceHost)
	if err != nil {
		return perr.Wrap(err, "resolve source host "+sourceHost)
	}
	if len(sourceAddrs) == 0 {
		return fmt.Errorf("source host %s: %w", sourceHost, perr.ErrNoTargetAddr)
	}

	for _, srcIP := range sourceAddrs {
		t.upsert(&Route{
			SourceIP:     srcIP.String(),
			SourceFamily: classify(srcIP),
			TargetIP:     targetIP.String(),
			TargetFamily: targetFamily,
			TargetPort:   targetPort,
			SourceFD:     NoFD,
		})
	}
	return nil
}

// upsert implements the merge policy of §4.B for a single resolved
// source address.
func (t *Table) upsert(next *Route) {
	existing := t.byIP(next.SourceIP)
	if existing == nil {
		t.routes = append([]*Route{next}, t.routes...)
		return
	}

	if existing.Bound() {
		// An operator-issued route change takes effect immediately and
		// evicts any traffic still bound to the previous target.
		t.evict(existing.SourceFD)
		existing.SourceFD = NoFD
	}
	existing.TargetIP = next.TargetIP
	existing.TargetFamily = next.TargetFamily
	existing.TargetPort = next.TargetPort
}

func (t *Table) byIP(ip string) *Route {
	for _, r := range t.routes {
		if r.SourceIP == ip {
			return r
		}
	}
	return nil
}

// LookupByIP returns the route for the given canonical source IP, if any.
func (t *Table) LookupByIP(ip string) (*Route, bool) {
	r := t.byIP(ip)
	return r, r != nil
}

// LookupByFD returns the route whose SourceFD currently equals fd, if
// any.
func (t *Table) LookupByFD(fd int) (*Route, bool) {
	for _, r := range t.routes {
		if r.SourceFD == fd {
			return r, true
		}
	}
	return nil, false
}

// Len returns the number of routes currently in the table.
func (t *Table) Len() int {
	return len(t.routes)
}

// ParseSpec splits a "<source_host> <target_host>:<port>" route
// specification as read from the config file or an `add` command
// (§4.A, §4.F).
func ParseSpec(spec string) (sourceHost, targetHost string, targetPort uint16, err error) {
	fields := strings.Fields(spec)
	if len(fields) != 2 {
		return "", "", 0, fmt.Errorf("%w: route spec %q: want \"<source> <target>:<port>\"", perr.ErrConfigInvalid, spec)
	}

	sourceHost = fields[0]

	i := strings.LastIndexByte(fields[1], ':')
	if i < 0 {
		return "", "", 0, fmt.Errorf("%w: route spec %q: target missing \":<port>\"", perr.ErrConfigInvalid, spec)
	}
	targetHost = fields[1][:i]

	port, err := strconv.ParseUint(fields[1][i+1:], 10, 16)
	if err != nil || port == 0 {
		return "", "", 0, fmt.Errorf("%w: route spec %q: invalid target port", perr.ErrConfigInvalid, spec)
	}

	return sourceHost, targetHost, uint16(port), nil
}
