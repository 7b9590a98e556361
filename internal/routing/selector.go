package routing

import (
	"github.com/JosineyJr/paydispatch/pkg/payments"
)

type HealthSource interface {
	Health(id payments.ProcessorID) payments.ProcessorHealth
}

type BreakerSource interface {
	Eligible(id payments.ProcessorID) bool
}

// Selector ranks processors for a payment. The cheapest healthy processor
// whose breaker is not open goes first; the remaining eligible ones follow
// so a failed attempt can move on.
type Selector struct {
	health   HealthSource
	breakers BreakerSource
	byFee    []payments.ProcessorID
	gamble   bool
}

// NewSelector expects byFee in ascending fee order. With gamble set, a
// payment still goes out when no processor reports healthy, cheapest first.
func NewSelector(health HealthSource, breakers BreakerSource, gamble bool, byFee ...payments.ProcessorID) *Selector {
	if len(byFee) == 0 {
		byFee = payments.Processors
	}
	return &Selector{
		health:   health,
		breakers: breakers,
		byFee:    byFee,
		gamble:   gamble,
	}
}

// Select returns the candidates in attempt order. An empty result means no
// processor is available now and the payment should wait.
func (s *Selector) Select(p payments.Payment) []payments.ProcessorID {
	eligible := make([]payments.ProcessorID, 0, len(s.byFee))
	for _, id := range s.byFee {
		if s.breakers.Eligible(id) {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	ranked := make([]payments.ProcessorID, 0, len(eligible))
	var unhealthy []payments.ProcessorID
	for _, id := range eligible {
		if s.health.Health(id).Healthy {
			ranked = append(ranked, id)
		} else {
			unhealthy = append(unhealthy, id)
		}
	}

	if len(ranked) == 0 && !s.gamble {
		return nil
	}
	return append(ranked, unhealthy...)
}
