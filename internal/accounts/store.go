package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlmcp/nlmcp/internal/vault"
)

// ErrNotInitialized is returned by mutating operations before Initialize.
var ErrNotInitialized = errors.New("account store not initialized")

const (
	defaultQuotaLimit      = 50 // NotebookLM free-tier daily query budget
	defaultKeepAliveHours  = 6
	maxConsecutiveFailures = 3
)

// poolFile is the on-disk shape of accounts.json.
type poolFile struct {
	Accounts               []Config `json:"accounts"`
	RotationStrategy       Strategy `json:"rotationStrategy"`
	KeepAliveIntervalHours int      `json:"keepAliveIntervalHours"`
	AutoLoginEnabled       bool     `json:"autoLoginEnabled"`
	AlertWebhook           string   `json:"alertWebhook,omitempty"`
}

// runtimeFile holds the mutable per-account quota and state, one file per
// account next to its credentials.
type runtimeFile struct {
	Quota Quota `json:"quota"`
	State State `json:"state"`
}

// Store owns the account pool: accounts.json, per-account credential and
// runtime files, and the profile directories. All mutation funnels through
// the store mutex and persists before returning.
type Store struct {
	mu sync.Mutex

	dataDir string
	vault   *vault.Vault
	log     zerolog.Logger

	initialized bool
	accounts    map[string]*Account
	order       []string // insertion order, for listing and round robin

	strategy       Strategy
	autoLogin      bool
	keepAliveHours int
	alertWebhook   string

	lastRoundRobin int // index into order of the last round-robin pick
}

// NewStore returns an uninitialized store rooted at dataDir.
func NewStore(dataDir string, v *vault.Vault, log zerolog.Logger) *Store {
	return &Store{
		dataDir:        dataDir,
		vault:          v,
		log:            log,
		accounts:       make(map[string]*Account),
		strategy:       StrategyLeastUsed,
		autoLogin:      true,
		keepAliveHours: defaultKeepAliveHours,
		lastRoundRobin: -1,
	}
}

func (s *Store) poolPath() string            { return filepath.Join(s.dataDir, "accounts.json") }
func (s *Store) accountsDir() string         { return filepath.Join(s.dataDir, "accounts") }
func (s *Store) accountDir(id string) string { return filepath.Join(s.accountsDir(), id) }

func (s *Store) credentialsPath(id string) string {
	return filepath.Join(s.accountDir(id), "credentials.json")
}

func (s *Store) runtimePath(id string) string {
	return filepath.Join(s.accountDir(id), "runtime.json")
}

// Initialize creates the accounts directory and a default pool file when
// absent, then loads every account into memory. It is idempotent.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	if err := os.MkdirAll(s.accountsDir(), 0o755); err != nil {
		return fmt.Errorf("create accounts dir: %w", err)
	}

	data, err := os.ReadFile(s.poolPath())
	switch {
	case os.IsNotExist(err):
		if err := s.persistPoolLocked(); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("read accounts file: %w", err)
	default:
		var pool poolFile
		if err := json.Unmarshal(data, &pool); err != nil {
			return fmt.Errorf("parse accounts file: %w", err)
		}
		if ValidStrategy(pool.RotationStrategy) {
			s.strategy = pool.RotationStrategy
		}
		s.autoLogin = pool.AutoLoginEnabled
		if pool.KeepAliveIntervalHours > 0 {
			s.keepAliveHours = pool.KeepAliveIntervalHours
		}
		s.alertWebhook = pool.AlertWebhook
		for i := range pool.Accounts {
			cfg := pool.Accounts[i]
			acct := &Account{
				Config:        cfg,
				Quota:         s.loadQuota(cfg.ID),
				State:         s.loadState(cfg.ID),
				ProfileDir:    filepath.Join(s.accountDir(cfg.ID), "profile"),
				StateFilePath: filepath.Join(s.accountDir(cfg.ID), "state.json"),
			}
			s.accounts[cfg.ID] = acct
			s.order = append(s.order, cfg.ID)
		}
	}

	s.initialized = true
	s.log.Info().Int("accounts", len(s.accounts)).Msg("account store initialized")
	return nil
}

func (s *Store) loadQuota(id string) Quota {
	q := Quota{Limit: defaultQuotaLimit, ResetAt: nextMidnightUTC(time.Now())}
	data, err := os.ReadFile(s.runtimePath(id))
	if err != nil {
		return q
	}
	var rt runtimeFile
	if err := json.Unmarshal(data, &rt); err != nil {
		return q
	}
	return rt.Quota
}

func (s *Store) loadState(id string) State {
	st := State{SessionStatus: SessionUnknown}
	data, err := os.ReadFile(s.runtimePath(id))
	if err != nil {
		return st
	}
	var rt runtimeFile
	if err := json.Unmarshal(data, &rt); err != nil {
		return st
	}
	return rt.State
}

// AddOption customizes a new account.
type AddOption func(*Config)

// WithPriority sets the failover priority (lower = tried first).
func WithPriority(p int) AddOption { return func(c *Config) { c.Priority = p } }

// WithNotes attaches free-form operator notes.
func WithNotes(n string) AddOption { return func(c *Config) { c.Notes = n } }

// WithDisabled creates the account disabled.
func WithDisabled() AddOption { return func(c *Config) { c.Enabled = false } }

// AddAccount encrypts and stores credentials for a new account and returns
// its generated id. totpSecret may be empty.
func (s *Store) AddAccount(email, password, totpSecret string, opts ...AddOption) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return "", ErrNotInitialized
	}

	id := s.nextIDLocked()
	cfg := Config{
		ID:             id,
		Email:          email,
		Enabled:        true,
		Priority:       len(s.order) + 1,
		HasCredentials: true,
		HasTotp:        totpSecret != "",
		CreatedAt:      time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	emailEnc, err := s.vault.Encrypt(email)
	if err != nil {
		return "", fmt.Errorf("encrypt email: %w", err)
	}
	passwordEnc, err := s.vault.Encrypt(password)
	if err != nil {
		return "", fmt.Errorf("encrypt password: %w", err)
	}
	creds := EncryptedCredentials{
		EmailEncrypted:    emailEnc,
		PasswordEncrypted: passwordEnc,
		EncryptedAt:       time.Now().UTC(),
	}
	if totpSecret != "" {
		totpEnc, err := s.vault.Encrypt(totpSecret)
		if err != nil {
			return "", fmt.Errorf("encrypt totp secret: %w", err)
		}
		creds.TotpSecretEncrypted = totpEnc
	}

	dir := s.accountDir(id)
	if err := os.MkdirAll(filepath.Join(dir, "profile"), 0o755); err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	if err := writeJSONFile(s.credentialsPath(id), creds, 0o600); err != nil {
		return "", fmt.Errorf("persist credentials: %w", err)
	}

	acct := &Account{
		Config: cfg,
		Quota: Quota{
			Limit:       defaultQuotaLimit,
			ResetAt:     nextMidnightUTC(time.Now()),
			LastUpdated: time.Now().UTC(),
		},
		State:         State{SessionStatus: SessionUnknown},
		ProfileDir:    filepath.Join(dir, "profile"),
		StateFilePath: filepath.Join(dir, "state.json"),
	}
	s.accounts[id] = acct
	s.order = append(s.order, id)

	if err := s.persistAccountLocked(id); err != nil {
		return "", err
	}
	if err := s.persistPoolLocked(); err != nil {
		return "", err
	}

	s.log.Info().Str("account", id).Str("email", vault.MaskEmail(email)).Msg("account added")
	return id, nil
}

// nextIDLocked generates a time-based id, bumping past collisions so two
// adds in the same millisecond stay distinct.
func (s *Store) nextIDLocked() string {
	ms := time.Now().UnixMilli()
	for {
		id := fmt.Sprintf("account-%d", ms)
		if _, exists := s.accounts[id]; !exists {
			return id
		}
		ms++
	}
}

// RemoveAccount deletes an account and every file associated with it.
// It returns false when the id is unknown.
func (s *Store) RemoveAccount(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return false, ErrNotInitialized
	}
	if _, ok := s.accounts[id]; !ok {
		return false, nil
	}

	delete(s.accounts, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if err := os.RemoveAll(s.accountDir(id)); err != nil {
		return false, fmt.Errorf("remove account files: %w", err)
	}
	if err := s.persistPoolLocked(); err != nil {
		return false, err
	}

	s.log.Info().Str("account", id).Msg("account removed")
	return true, nil
}

// GetAccount returns the live account aggregate, or nil when unknown.
// Callers must treat the returned value as owned by the store.
func (s *Store) GetAccount(id string) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

// ListAccounts returns accounts in insertion order.
func (s *Store) ListAccounts() []*Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.accounts[id])
	}
	return out
}

// AccountCount returns the number of configured accounts.
func (s *Store) AccountCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// HasAccounts reports whether any account is configured.
func (s *Store) HasAccounts() bool { return s.AccountCount() > 0 }

// GetCredentials decrypts and returns an account's credentials, or nil when
// the account does not exist. Decrypted values must be discarded after use.
func (s *Store) GetCredentials(id string) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return nil, nil
	}

	data, err := os.ReadFile(s.credentialsPath(id))
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var enc EncryptedCredentials
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	email, err := s.vault.Decrypt(enc.EmailEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt email: %w", err)
	}
	password, err := s.vault.Decrypt(enc.PasswordEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt password: %w", err)
	}
	creds := &Credentials{Email: email, Password: password}
	if enc.TotpSecretEncrypted != "" {
		totp, err := s.vault.Decrypt(enc.TotpSecretEncrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypt totp secret: %w", err)
		}
		creds.TotpSecret = totp
	}
	return creds, nil
}

// RecordUsage counts one completed question against the account's quota and
// bumps its activity timestamp.
func (s *Store) RecordUsage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("record usage: unknown account %s", id)
	}

	s.maybeResetQuotaLocked(acct)
	now := time.Now().UTC()
	acct.Quota.Used++
	acct.Quota.LastUpdated = now
	acct.State.LastActivity = &now

	return s.persistAccountLocked(id)
}

// RecordLoginFailure marks a failed login attempt: both failure counters
// increment and the session is considered expired.
func (s *Store) RecordLoginFailure(id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("record login failure: unknown account %s", id)
	}

	now := time.Now().UTC()
	acct.State.LoginFailures++
	acct.State.ConsecutiveFailures++
	acct.State.LastError = message
	acct.State.SessionStatus = SessionExpired
	acct.State.LastLoginAttempt = &now

	s.log.Warn().
		Str("account", id).
		Int("consecutive", acct.State.ConsecutiveFailures).
		Str("error", message).
		Msg("login failure recorded")

	return s.persistAccountLocked(id)
}

// RecordLoginSuccess clears the failure streak and marks the session valid.
func (s *Store) RecordLoginSuccess(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("record login success: unknown account %s", id)
	}

	now := time.Now().UTC()
	acct.State.ConsecutiveFailures = 0
	acct.State.LastError = ""
	acct.State.SessionStatus = SessionValid
	acct.State.LastLoginAttempt = &now
	acct.State.LastActivity = &now

	return s.persistAccountLocked(id)
}

// UpdateSessionStatus overrides the tracked session status for an account.
func (s *Store) UpdateSessionStatus(id string, status SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("update session status: unknown account %s", id)
	}
	acct.State.SessionStatus = status
	return s.persistAccountLocked(id)
}

// RotationStrategy returns the pool-wide selection strategy.
func (s *Store) RotationStrategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// SetRotationStrategy changes and persists the pool-wide strategy.
func (s *Store) SetRotationStrategy(strategy Strategy) error {
	if !ValidStrategy(strategy) {
		return fmt.Errorf("unknown rotation strategy %q", strategy)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategy = strategy
	return s.persistPoolLocked()
}

// AutoLoginEnabled reports the pool-wide auto-login toggle.
func (s *Store) AutoLoginEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoLogin
}

// SetAutoLoginEnabled changes and persists the auto-login toggle.
func (s *Store) SetAutoLoginEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoLogin = enabled
	return s.persistPoolLocked()
}

// HealthCheck evaluates every account and returns its findings.
func (s *Store) HealthCheck() []Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Health, 0, len(s.order))
	for _, id := range s.order {
		acct := s.accounts[id]
		s.maybeResetQuotaLocked(acct)

		h := Health{
			AccountID:      acct.Config.ID,
			Email:          acct.Config.Email,
			Enabled:        acct.Config.Enabled,
			SessionValid:   acct.State.SessionStatus == SessionValid,
			QuotaRemaining: acct.Quota.Limit - acct.Quota.Used,
			LastActivity:   acct.State.LastActivity,
			Issues:         []string{},
		}
		if acct.Quota.Limit > 0 {
			h.QuotaPercent = float64(acct.Quota.Used) / float64(acct.Quota.Limit) * 100
		}
		if !acct.Config.Enabled {
			h.Issues = append(h.Issues, "Account disabled")
		}
		if acct.Quota.Exhausted() {
			h.Issues = append(h.Issues, "Quota exhausted")
		}
		if acct.State.ConsecutiveFailures >= maxConsecutiveFailures {
			h.Issues = append(h.Issues, fmt.Sprintf("%d consecutive login failures", acct.State.ConsecutiveFailures))
		}
		if _, err := os.Stat(acct.StateFilePath); err != nil {
			h.Issues = append(h.Issues, "No state file (needs login)")
		}
		out = append(out, h)
	}
	return out
}

// maybeResetQuotaLocked rolls the daily counter over once the reset boundary
// has passed. Used never decreases otherwise.
func (s *Store) maybeResetQuotaLocked(acct *Account) {
	now := time.Now()
	if !acct.Quota.ResetAt.IsZero() && now.Before(acct.Quota.ResetAt) {
		return
	}
	acct.Quota.Used = 0
	acct.Quota.ResetAt = nextMidnightUTC(now)
	acct.Quota.LastUpdated = now.UTC()
}

func nextMidnightUTC(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

func (s *Store) persistPoolLocked() error {
	pool := poolFile{
		Accounts:               make([]Config, 0, len(s.order)),
		RotationStrategy:       s.strategy,
		KeepAliveIntervalHours: s.keepAliveHours,
		AutoLoginEnabled:       s.autoLogin,
		AlertWebhook:           s.alertWebhook,
	}
	for _, id := range s.order {
		pool.Accounts = append(pool.Accounts, s.accounts[id].Config)
	}
	if err := writeJSONFile(s.poolPath(), pool, 0o644); err != nil {
		return fmt.Errorf("persist accounts file: %w", err)
	}
	return nil
}

func (s *Store) persistAccountLocked(id string) error {
	acct := s.accounts[id]
	rt := runtimeFile{Quota: acct.Quota, State: acct.State}
	if err := writeJSONFile(s.runtimePath(id), rt, 0o644); err != nil {
		return fmt.Errorf("persist account %s: %w", id, err)
	}
	return nil
}

// writeJSONFile writes JSON atomically: temp file in the same directory,
// then rename over the destination.
func writeJSONFile(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
