package paymentgateway

import (
	"math/rand"
	"sync"

	gw "github.com/frahmantamala/pos-payments/internal/core/datamodel/paymentgateway"
)

// FailurePolicy decides whether a gateway call fails to communicate.
type FailurePolicy func(op gw.Operation) bool

// SettlementPolicy decides whether a pending PIX charge has been paid by the time it is polled.
type SettlementPolicy func(txID string) bool

// DeclinePolicy decides whether the issuer declines a card authorization.
type DeclinePolicy func(req *gw.CardAuthorizationRequest) bool

func NeverFail() FailurePolicy {
	return func(gw.Operation) bool { return false }
}

func AlwaysFail() FailurePolicy {
	return func(gw.Operation) bool { return true }
}

// FailOn fails only the listed operations.
func FailOn(ops ...gw.Operation) FailurePolicy {
	set := make(map[gw.Operation]struct{}, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return func(op gw.Operation) bool {
		_, ok := set[op]
		return ok
	}
}

func AlwaysSettle() SettlementPolicy {
	return func(string) bool { return true }
}

func NeverSettle() SettlementPolicy {
	return func(string) bool { return false }
}

func NeverDecline() DeclinePolicy {
	return func(*gw.CardAuthorizationRequest) bool { return false }
}

func AlwaysDecline() DeclinePolicy {
	return func(*gw.CardAuthorizationRequest) bool { return true }
}

// Dice is a goroutine-safe random source shared by the probability policies.
type Dice struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewDice(seed int64) *Dice {
	return &Dice{rng: rand.New(rand.NewSource(seed))}
}

// Roll returns true with probability p.
func (d *Dice) Roll(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Float64() < p
}

func (d *Dice) Intn(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Intn(n)
}

func FailureProbability(rate float64, dice *Dice) FailurePolicy {
	return func(gw.Operation) bool { return dice.Roll(rate) }
}

func SettlementProbability(p float64, dice *Dice) SettlementPolicy {
	return func(string) bool { return dice.Roll(p) }
}

func DeclineProbability(rate float64, dice *Dice) DeclinePolicy {
	return func(*gw.CardAuthorizationRequest) bool { return dice.Roll(rate) }
}
