package enum

// CoordKind represents the provenance of a topic's coordinates.
type CoordKind int

const (
	// CoordKindNone means the topic has no usable coordinates.
	CoordKindNone CoordKind = iota

	// CoordKindExact marks coordinates stated explicitly in the title.
	CoordKindExact
	// CoordKindFromAddress marks coordinates derived by geocoding an address.
	CoordKindFromAddress
)

// String returns the name of the coordinate provenance.
func (k CoordKind) String() string {
	switch k {
	case CoordKindNone:
		return "none"
	case CoordKindExact:
		return "exact"
	case CoordKindFromAddress:
		return "from_address"
	default:
		return "unknown"
	}
}

// Usable reports whether coordinates of this provenance may be used for
// distance filtering and location messages.
func (k CoordKind) Usable() bool {
	return k != CoordKindNone
}
