// Package accounts manages the pool of Google accounts used to drive
// NotebookLM sessions: encrypted credentials, daily quota, runtime login
// state, and the rotation policy that picks the account for the next request.
package accounts

import "time"

// SessionStatus describes the freshness of an account's browser session.
type SessionStatus string

const (
	SessionValid    SessionStatus = "valid"
	SessionExpiring SessionStatus = "expiring"
	SessionExpired  SessionStatus = "expired"
	SessionUnknown  SessionStatus = "unknown"
)

// Strategy selects which eligible account services the next request.
type Strategy string

const (
	StrategyLeastUsed  Strategy = "least_used"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyFailover   Strategy = "failover"
	StrategyRandom     Strategy = "random"
)

// ValidStrategy reports whether s is a known rotation strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyLeastUsed, StrategyRoundRobin, StrategyFailover, StrategyRandom:
		return true
	}
	return false
}

// Config is the immutable identity of an account, persisted in accounts.json.
type Config struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Enabled        bool      `json:"enabled"`
	Priority       int       `json:"priority"` // lower = tried first
	HasCredentials bool      `json:"hasCredentials"`
	HasTotp        bool      `json:"hasTotp"`
	CreatedAt      time.Time `json:"createdAt"`
	Notes          string    `json:"notes,omitempty"`
}

// EncryptedCredentials is the at-rest form of an account's secrets, one file
// per account. Values are vault ciphertext triples.
type EncryptedCredentials struct {
	EmailEncrypted      string    `json:"emailEncrypted"`
	PasswordEncrypted   string    `json:"passwordEncrypted"`
	TotpSecretEncrypted string    `json:"totpSecretEncrypted,omitempty"`
	EncryptedAt         time.Time `json:"encryptedAt"`
}

// Credentials holds decrypted secrets. They exist only transiently around a
// login attempt and must never be logged unmasked.
type Credentials struct {
	Email      string
	Password   string
	TotpSecret string
}

// Quota tracks daily usage against an account's request limit.
type Quota struct {
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	ResetAt     time.Time `json:"resetAt"` // next midnight UTC
	LastUpdated time.Time `json:"lastUpdated"`
}

// Exhausted reports whether the quota allows no further requests.
func (q Quota) Exhausted() bool { return q.Used >= q.Limit }

// State is the mutable runtime status of an account.
type State struct {
	SessionStatus       SessionStatus `json:"sessionStatus"`
	LastActivity        *time.Time    `json:"lastActivity"`
	LastLoginAttempt    *time.Time    `json:"lastLoginAttempt"`
	LoginFailures       int           `json:"loginFailures"`       // lifetime counter
	ConsecutiveFailures int           `json:"consecutiveFailures"` // reset on success
	LastError           string        `json:"lastError,omitempty"`
}

// Account aggregates everything the system knows about one login identity.
type Account struct {
	Config Config `json:"config"`
	Quota  Quota  `json:"quota"`
	State  State  `json:"state"`

	// ProfileDir is the persistent browser profile owned by this account.
	// StateFilePath is where its authenticated storage state is persisted.
	ProfileDir    string `json:"profileDir"`
	StateFilePath string `json:"stateFilePath"`
}

// Health is the result of a per-account health check.
type Health struct {
	AccountID      string     `json:"accountId"`
	Email          string     `json:"email"`
	Enabled        bool       `json:"enabled"`
	SessionValid   bool       `json:"sessionValid"`
	QuotaRemaining int        `json:"quotaRemaining"`
	QuotaPercent   float64    `json:"quotaPercent"`
	LastActivity   *time.Time `json:"lastActivity"`
	Issues         []string   `json:"issues"`
}

// Selection is a rotation decision: the winning account and a short
// human-readable explanation of why it won.
type Selection struct {
	Account *Account
	Reason  string
}
