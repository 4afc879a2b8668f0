// Package directory abstracts the downstream protocol directory. The
// directory itself (registration, whitelisting, TVL bookkeeping) is an
// external collaborator; the engine only needs "does this protocol id exist
// and is it whitelisted".
package directory

// Protocol is the metadata the engine consumes per downstream target.
type Protocol struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Whitelisted bool   `json:"whitelisted"`
}

// Directory supplies protocol metadata by id.
type Directory interface {
	// Protocol returns the protocol for id, or false when unknown.
	Protocol(id uint64) (Protocol, bool)
	// IDs returns all known protocol ids in ascending order.
	IDs() []uint64
}

// Static is a fixed in-process directory, suitable for deployments where the
// real directory service is fronted elsewhere and for tests.
type Static struct {
	protocols map[uint64]Protocol
	order     []uint64
}

// NewStatic builds a directory from a fixed protocol set.
func NewStatic(protocols []Protocol) *Static {
	s := &Static{protocols: make(map[uint64]Protocol, len(protocols))}
	for _, p := range protocols {
		if _, dup := s.protocols[p.ID]; dup {
			continue
		}
		s.protocols[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	return s
}

// DefaultProtocols returns the four reference integration targets the
// optimizer allocates across out of the box.
func DefaultProtocols() []Protocol {
	return []Protocol{
		{ID: 1, Name: "stable-lending", Category: "lending", Whitelisted: true},
		{ID: 2, Name: "amm-liquidity", Category: "dex", Whitelisted: true},
		{ID: 3, Name: "liquid-staking", Category: "staking", Whitelisted: true},
		{ID: 4, Name: "yield-vault", Category: "yield", Whitelisted: true},
	}
}

// Protocol implements Directory.
func (s *Static) Protocol(id uint64) (Protocol, bool) {
	p, ok := s.protocols[id]
	return p, ok
}

// IDs implements Directory.
func (s *Static) IDs() []uint64 {
	out := make([]uint64, len(s.order))
	copy(out, s.order)
	return out
}
