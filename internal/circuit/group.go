package circuit

import (
	"github.com/JosineyJr/paydispatch/pkg/payments"
	"github.com/rs/zerolog"
)

// Group holds one independent breaker per processor.
type Group struct {
	breakers map[payments.ProcessorID]*Breaker
	order    []payments.ProcessorID
}

func NewGroup(s Settings, logger *zerolog.Logger, ids ...payments.ProcessorID) *Group {
	g := &Group{breakers: make(map[payments.ProcessorID]*Breaker, len(ids))}
	for _, id := range ids {
		g.breakers[id] = New(id, s, logger)
		g.order = append(g.order, id)
	}
	return g
}

// Get returns nil for processors the group does not know.
func (g *Group) Get(id payments.ProcessorID) *Breaker {
	return g.breakers[id]
}

func (g *Group) Eligible(id payments.ProcessorID) bool {
	b := g.breakers[id]
	return b != nil && b.Eligible()
}

func (g *Group) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.breakers[id].Snapshot())
	}
	return out
}
