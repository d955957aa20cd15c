package msg

// LocationKind selects an outbound destination.
type LocationKind int

const (
	// LocPubsub fans out to all adapters via the downstream channel.
	LocPubsub LocationKind = iota + 1
	// LocClient targets a single operator session.
	LocClient
	// LocClients targets a subset of operator sessions, or all of them when
	// the list is nil.
	LocClients
	// LocBroadcast targets both the pub/sub channel and every operator
	// session.
	LocBroadcast
)

// ClientAddr identifies an authenticated operator session.
type ClientAddr struct {
	Name string
	Addr string
}

// Location routes an outbound response. It never crosses the wire.
type Location struct {
	Kind   LocationKind
	Client ClientAddr   // LocClient
	List   []ClientAddr // LocClients, nil means every session
}

func Pubsub() Location    { return Location{Kind: LocPubsub} }
func Broadcast() Location { return Location{Kind: LocBroadcast} }

func Client(name, addr string) Location {
	return Location{Kind: LocClient, Client: ClientAddr{Name: name, Addr: addr}}
}

// AllClients targets every authenticated operator session.
func AllClients() Location { return Location{Kind: LocClients} }

func Clients(list []ClientAddr) Location {
	return Location{Kind: LocClients, List: list}
}

// Frame is a raw inbound message paired with where it came from.
type Frame struct {
	Origin Location
	Data   []byte
}

// Outbound is a routed response awaiting serialization.
type Outbound struct {
	Loc      Location
	Response Response
}
