package accounts

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlmcp/nlmcp/internal/vault"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	v := vault.New("", filepath.Join(dir, "encryption.key"), zerolog.Nop())
	s := NewStore(dir, v, zerolog.Nop())
	require.NoError(t, s.Initialize())
	return s
}

func TestMutationsRequireInitialize(t *testing.T) {
	dir := t.TempDir()
	v := vault.New("", filepath.Join(dir, "encryption.key"), zerolog.Nop())
	s := NewStore(dir, v, zerolog.Nop())

	_, err := s.AddAccount("a@gmail.com", "pw", "")
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = s.GetBestAccount()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitializeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Initialize())
	assert.Equal(t, 0, s.AccountCount())
}

func TestAddAccount(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddAccount("test@gmail.com", "password123", "JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^account-\d+$`), id)

	acct := s.GetAccount(id)
	require.NotNil(t, acct)
	assert.Equal(t, "test@gmail.com", acct.Config.Email)
	assert.True(t, acct.Config.Enabled)
	assert.True(t, acct.Config.HasCredentials)
	assert.True(t, acct.Config.HasTotp)
	assert.Equal(t, defaultQuotaLimit, acct.Quota.Limit)
	assert.Equal(t, SessionUnknown, acct.State.SessionStatus)

	// Credentials land encrypted on disk, never in the clear.
	raw, err := os.ReadFile(filepath.Join(s.dataDir, "accounts", id, "credentials.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password123")
	assert.NotContains(t, string(raw), "JBSWY3DPEHPK3PXP")
}

func TestAddAccountIDsAreUnique(t *testing.T) {
	s := newTestStore(t)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		id, err := s.AddAccount("u@gmail.com", "pw", "")
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestGetCredentialsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddAccount("who@gmail.com", "s3cret", "TOTPSECRET")
	require.NoError(t, err)

	creds, err := s.GetCredentials(id)
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "who@gmail.com", creds.Email)
	assert.Equal(t, "s3cret", creds.Password)
	assert.Equal(t, "TOTPSECRET", creds.TotpSecret)

	missing, err := s.GetCredentials("account-0")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRemoveAccount(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddAccount("gone@gmail.com", "pw", "")
	require.NoError(t, err)

	removed, err := s.RemoveAccount(id)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Nil(t, s.GetAccount(id))
	assert.NoDirExists(t, filepath.Join(s.dataDir, "accounts", id))

	removed, err = s.RemoveAccount(id)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	v := vault.New("", filepath.Join(dir, "encryption.key"), zerolog.Nop())

	s1 := NewStore(dir, v, zerolog.Nop())
	require.NoError(t, s1.Initialize())
	id, err := s1.AddAccount("persist@gmail.com", "pw", "")
	require.NoError(t, err)
	require.NoError(t, s1.RecordUsage(id))
	require.NoError(t, s1.SetRotationStrategy(StrategyFailover))

	s2 := NewStore(dir, v, zerolog.Nop())
	require.NoError(t, s2.Initialize())
	acct := s2.GetAccount(id)
	require.NotNil(t, acct)
	assert.Equal(t, "persist@gmail.com", acct.Config.Email)
	assert.Equal(t, 1, acct.Quota.Used)
	assert.Equal(t, StrategyFailover, s2.RotationStrategy())

	creds, err := s2.GetCredentials(id)
	require.NoError(t, err)
	assert.Equal(t, "pw", creds.Password)
}

func TestRecordUsageAndQuotaReset(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AddAccount("q@gmail.com", "pw", "")
	require.NoError(t, err)

	require.NoError(t, s.RecordUsage(id))
	require.NoError(t, s.RecordUsage(id))
	acct := s.GetAccount(id)
	assert.Equal(t, 2, acct.Quota.Used)
	assert.NotNil(t, acct.State.LastActivity)

	// Force the reset boundary into the past; the next usage rolls over.
	acct.Quota.ResetAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.RecordUsage(id))
	assert.Equal(t, 1, acct.Quota.Used)
	assert.True(t, acct.Quota.ResetAt.After(time.Now()))
}

func TestLoginFailureBookkeeping(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AddAccount("fail@gmail.com", "pw", "")
	require.NoError(t, err)

	require.NoError(t, s.RecordLoginFailure(id, "captcha wall"))
	require.NoError(t, s.RecordLoginFailure(id, "password rejected"))

	acct := s.GetAccount(id)
	assert.Equal(t, 2, acct.State.LoginFailures)
	assert.Equal(t, 2, acct.State.ConsecutiveFailures)
	assert.Equal(t, "password rejected", acct.State.LastError)
	assert.Equal(t, SessionExpired, acct.State.SessionStatus)
	assert.NotNil(t, acct.State.LastLoginAttempt)

	// Success clears the streak but not the lifetime counter.
	require.NoError(t, s.RecordLoginSuccess(id))
	assert.Equal(t, 2, acct.State.LoginFailures)
	assert.Equal(t, 0, acct.State.ConsecutiveFailures)
	assert.Empty(t, acct.State.LastError)
	assert.Equal(t, SessionValid, acct.State.SessionStatus)
}

func TestHealthCheck(t *testing.T) {
	s := newTestStore(t)

	healthy, err := s.AddAccount("ok@gmail.com", "pw", "")
	require.NoError(t, err)
	exhausted, err := s.AddAccount("empty@gmail.com", "pw", "")
	require.NoError(t, err)

	// Give the healthy account a state file; leave the other without one and
	// burn through its quota.
	require.NoError(t, os.WriteFile(s.GetAccount(healthy).StateFilePath, []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(s.GetAccount(exhausted).StateFilePath, []byte("{}"), 0o600))
	s.GetAccount(exhausted).Quota.Used = defaultQuotaLimit
	require.NoError(t, s.RecordLoginSuccess(healthy))

	report := s.HealthCheck()
	require.Len(t, report, 2)

	byID := map[string]Health{}
	for _, h := range report {
		byID[h.AccountID] = h
	}

	assert.Empty(t, byID[healthy].Issues)
	assert.True(t, byID[healthy].SessionValid)
	assert.Contains(t, byID[exhausted].Issues, "Quota exhausted")

	// Drop the second account's state file to trigger the login finding.
	require.NoError(t, os.Remove(s.GetAccount(exhausted).StateFilePath))
	report = s.HealthCheck()
	for _, h := range report {
		if h.AccountID == exhausted {
			assert.Contains(t, h.Issues, "No state file (needs login)")
		}
	}
}

func TestDefaultsAndToggles(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, StrategyLeastUsed, s.RotationStrategy())
	assert.True(t, s.AutoLoginEnabled())

	assert.Error(t, s.SetRotationStrategy("spin_wheel"))
	require.NoError(t, s.SetRotationStrategy(StrategyRoundRobin))
	assert.Equal(t, StrategyRoundRobin, s.RotationStrategy())

	require.NoError(t, s.SetAutoLoginEnabled(false))
	assert.False(t, s.AutoLoginEnabled())
}

func TestListAccountsOrder(t *testing.T) {
	s := newTestStore(t)

	first, err := s.AddAccount("a@gmail.com", "pw", "")
	require.NoError(t, err)
	second, err := s.AddAccount("b@gmail.com", "pw", "")
	require.NoError(t, err)

	list := s.ListAccounts()
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].Config.ID)
	assert.Equal(t, second, list[1].Config.ID)
	assert.True(t, s.HasAccounts())
}
