package accounts

import (
	"fmt"
	"math/rand"
)

// eligibleLocked filters the pool down to accounts that can take a request:
// enabled, quota available, and not in a failure streak.
func (s *Store) eligibleLocked() []*Account {
	var out []*Account
	for _, id := range s.order {
		acct := s.accounts[id]
		s.maybeResetQuotaLocked(acct)
		if !acct.Config.Enabled {
			continue
		}
		if acct.Quota.Exhausted() {
			continue
		}
		if acct.State.ConsecutiveFailures >= maxConsecutiveFailures {
			continue
		}
		out = append(out, acct)
	}
	return out
}

// GetBestAccount applies the configured rotation strategy to the eligible
// accounts and returns the winner, or nil when no account is usable.
func (s *Store) GetBestAccount() (*Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}

	eligible := s.eligibleLocked()
	if len(eligible) == 0 {
		return nil, nil
	}

	var sel *Selection
	switch s.strategy {
	case StrategyRoundRobin:
		sel = s.pickRoundRobinLocked(eligible)
	case StrategyFailover:
		sel = pickFailover(eligible)
	case StrategyRandom:
		sel = pickRandom(eligible)
	default:
		sel = pickLeastUsed(eligible)
	}

	s.log.Debug().
		Str("account", sel.Account.Config.ID).
		Str("strategy", string(s.strategy)).
		Str("reason", sel.Reason).
		Msg("account selected")
	return sel, nil
}

// pickLeastUsed prefers the lowest quota usage, breaking ties by priority.
func pickLeastUsed(eligible []*Account) *Selection {
	best := eligible[0]
	for _, acct := range eligible[1:] {
		if acct.Quota.Used < best.Quota.Used {
			best = acct
			continue
		}
		if acct.Quota.Used == best.Quota.Used && acct.Config.Priority < best.Config.Priority {
			best = acct
		}
	}
	return &Selection{
		Account: best,
		Reason:  fmt.Sprintf("least used (%d/%d queries today)", best.Quota.Used, best.Quota.Limit),
	}
}

// pickRoundRobinLocked advances past the previous pick in pool order.
func (s *Store) pickRoundRobinLocked(eligible []*Account) *Selection {
	eligibleSet := make(map[string]*Account, len(eligible))
	for _, acct := range eligible {
		eligibleSet[acct.Config.ID] = acct
	}

	n := len(s.order)
	for i := 1; i <= n; i++ {
		idx := (s.lastRoundRobin + i) % n
		if acct, ok := eligibleSet[s.order[idx]]; ok {
			s.lastRoundRobin = idx
			return &Selection{Account: acct, Reason: "round robin rotation"}
		}
	}
	// Unreachable while eligible is non-empty; keep a sane fallback anyway.
	return &Selection{Account: eligible[0], Reason: "round robin rotation"}
}

// pickFailover takes the highest-priority account (lowest number).
func pickFailover(eligible []*Account) *Selection {
	best := eligible[0]
	for _, acct := range eligible[1:] {
		if acct.Config.Priority < best.Config.Priority {
			best = acct
		}
	}
	return &Selection{
		Account: best,
		Reason:  fmt.Sprintf("failover priority %d", best.Config.Priority),
	}
}

func pickRandom(eligible []*Account) *Selection {
	acct := eligible[rand.Intn(len(eligible))]
	return &Selection{Account: acct, Reason: "random selection"}
}
