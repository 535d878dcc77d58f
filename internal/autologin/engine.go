// Package autologin drives the Google sign-in flow for pool accounts whose
// sessions have expired: email, password, optional TOTP challenge, and the
// interstitial screens Google layers on top. A successful login persists the
// authenticated browser state so future sessions skip the flow entirely.
package autologin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"

	"github.com/nlmcp/nlmcp/internal/accounts"
	"github.com/nlmcp/nlmcp/internal/authstate"
	"github.com/nlmcp/nlmcp/internal/browser"
)

const (
	notebookLMURL = "https://notebooklm.google.com"

	// Per-step wait for a login form element to render.
	defaultStepTimeout = 15 * time.Second
	// Wait for the optional TOTP prompt before assuming there is none.
	defaultTotpWait = 5 * time.Second
	// Wait for the post-login redirect back to NotebookLM.
	defaultRedirectTimeout = 30 * time.Second
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrNoCredentials   = errors.New("no credentials available")
)

// SelectorNotFoundError means a login step's element never rendered. Google
// has either changed the flow or raised a wall automation cannot pass, so a
// human needs to log the account in once by hand.
type SelectorNotFoundError struct {
	Step      string
	Selectors []string
}

func (e *SelectorNotFoundError) Error() string {
	return fmt.Sprintf("login step %q: none of %d known selectors appeared", e.Step, len(e.Selectors))
}

// ChallengeError means Google raised a captcha or verification challenge.
type ChallengeError struct {
	Selector string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("verification challenge detected (%s)", e.Selector)
}

// Result describes one login attempt.
type Result struct {
	Success   bool
	AccountID string
	Err       error
	Duration  time.Duration

	// RequiresManualIntervention marks failures automation cannot retry its
	// way out of: missing credentials, captchas, unrecognized flows.
	RequiresManualIntervention bool
}

// accountStore is the slice of the account pool the engine needs.
type accountStore interface {
	GetAccount(id string) *accounts.Account
	GetCredentials(id string) (*accounts.Credentials, error)
	RecordLoginFailure(id, message string) error
	RecordLoginSuccess(id string) error
	GetBestAccount() (*accounts.Selection, error)
}

// pageOpener hands out browser pages bound to account profiles.
type pageOpener interface {
	AcquirePage(ctx context.Context, profileDir string) (browser.Page, error)
	ReleasePage(p browser.Page)
}

// Engine runs automated logins against the account pool.
type Engine struct {
	store   accountStore
	browser pageOpener
	log     zerolog.Logger

	stepTimeout     time.Duration
	totpWait        time.Duration
	redirectTimeout time.Duration
	pollInterval    time.Duration
}

func NewEngine(store accountStore, opener pageOpener, log zerolog.Logger) *Engine {
	return &Engine{
		store:           store,
		browser:         opener,
		log:             log,
		stepTimeout:     defaultStepTimeout,
		totpWait:        defaultTotpWait,
		redirectTimeout: defaultRedirectTimeout,
		pollInterval:    250 * time.Millisecond,
	}
}

// LoginAccount signs one account in. Every failure is recorded against the
// account's state so rotation can route around repeat offenders.
func (e *Engine) LoginAccount(ctx context.Context, accountID string) Result {
	start := time.Now()
	res := Result{AccountID: accountID}

	acct := e.store.GetAccount(accountID)
	if acct == nil {
		res.Err = ErrAccountNotFound
		res.Duration = time.Since(start)
		return res
	}

	creds, err := e.store.GetCredentials(accountID)
	if err == nil && (creds == nil || creds.Email == "" || creds.Password == "") {
		err = ErrNoCredentials
	}
	if err != nil {
		e.store.RecordLoginFailure(accountID, err.Error())
		res.Err = err
		res.RequiresManualIntervention = errors.Is(err, ErrNoCredentials)
		res.Duration = time.Since(start)
		return res
	}

	e.log.Info().Str("account", accountID).Msg("starting automated login")

	page, err := e.browser.AcquirePage(ctx, acct.ProfileDir)
	if err != nil {
		e.store.RecordLoginFailure(accountID, err.Error())
		res.Err = fmt.Errorf("open browser: %w", err)
		res.Duration = time.Since(start)
		return res
	}
	defer e.browser.ReleasePage(page)

	if err := e.runLoginFlow(ctx, page, creds); err != nil {
		e.store.RecordLoginFailure(accountID, err.Error())
		res.Err = err
		res.RequiresManualIntervention = needsHuman(err)
		res.Duration = time.Since(start)
		e.log.Warn().Str("account", accountID).Err(err).
			Bool("manual", res.RequiresManualIntervention).Msg("automated login failed")
		return res
	}

	if err := e.persistState(ctx, page, acct); err != nil {
		e.store.RecordLoginFailure(accountID, err.Error())
		res.Err = fmt.Errorf("persist auth state: %w", err)
		res.Duration = time.Since(start)
		return res
	}

	e.store.RecordLoginSuccess(accountID)
	res.Success = true
	res.Duration = time.Since(start)
	e.log.Info().Str("account", accountID).Dur("took", res.Duration).Msg("automated login succeeded")
	return res
}

// LoginBestAccount picks the rotation winner and logs it in.
func (e *Engine) LoginBestAccount(ctx context.Context) Result {
	sel, err := e.store.GetBestAccount()
	if err != nil {
		return Result{Err: fmt.Errorf("select account: %w", err)}
	}
	if sel == nil {
		return Result{Err: errors.New("no eligible account available")}
	}
	return e.LoginAccount(ctx, sel.Account.Config.ID)
}

// runLoginFlow walks the sign-in state machine on an already-open page.
func (e *Engine) runLoginFlow(ctx context.Context, page browser.Page, creds *accounts.Credentials) error {
	if err := page.Navigate(ctx, notebookLMURL); err != nil {
		return err
	}

	loc, err := page.Location(ctx)
	if err != nil {
		return err
	}
	if onNotebookLM(loc) {
		e.log.Debug().Msg("session already authenticated, skipping login flow")
		return nil
	}

	if sel := e.findPresent(ctx, page, challengeSelectors); sel != "" {
		return &ChallengeError{Selector: sel}
	}

	// Email step. An existing profile sometimes lands directly on the
	// password prompt for the remembered account.
	if sel, err := e.waitAny(ctx, page, emailInputSelectors, e.stepTimeout); err == nil {
		if err := page.Type(ctx, sel, creds.Email); err != nil {
			return fmt.Errorf("enter email: %w", err)
		}
		if err := e.clickAny(ctx, page, emailNextSelectors, "email next"); err != nil {
			return err
		}
	} else if e.findPresent(ctx, page, passwordInputSelectors) == "" {
		return &SelectorNotFoundError{Step: "email", Selectors: emailInputSelectors}
	}

	// Password step.
	sel, err := e.waitAny(ctx, page, passwordInputSelectors, e.stepTimeout)
	if err != nil {
		if ch := e.findPresent(ctx, page, challengeSelectors); ch != "" {
			return &ChallengeError{Selector: ch}
		}
		return &SelectorNotFoundError{Step: "password", Selectors: passwordInputSelectors}
	}
	if err := page.Type(ctx, sel, creds.Password); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}
	if err := e.clickAny(ctx, page, passwordNextSelectors, "password next"); err != nil {
		return err
	}

	// Optional TOTP challenge. The code is generated at submission time so
	// a slow password step cannot hand Google an expired window.
	if sel, err := e.waitAny(ctx, page, totpInputSelectors, e.totpWait); err == nil {
		if creds.TotpSecret == "" {
			return &SelectorNotFoundError{Step: "totp secret missing", Selectors: totpInputSelectors}
		}
		code, err := totp.GenerateCode(creds.TotpSecret, time.Now())
		if err != nil {
			return fmt.Errorf("generate totp code: %w", err)
		}
		if err := page.Type(ctx, sel, code); err != nil {
			return fmt.Errorf("enter totp code: %w", err)
		}
		if err := e.clickAny(ctx, page, totpNextSelectors, "totp next"); err != nil {
			return err
		}
	}

	e.dismissInterstitials(ctx, page)

	return e.awaitRedirect(ctx, page)
}

// awaitRedirect polls until the browser lands back on NotebookLM.
func (e *Engine) awaitRedirect(ctx context.Context, page browser.Page) error {
	deadline := time.Now().Add(e.redirectTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		loc, err := page.Location(ctx)
		if err == nil && onNotebookLM(loc) {
			return nil
		}
		e.dismissInterstitials(ctx, page)
		time.Sleep(e.pollInterval)
	}
	loc, _ := page.Location(ctx)
	return fmt.Errorf("login did not reach NotebookLM (stuck at %s)", loc)
}

// dismissInterstitials clicks through optional post-login screens. Absent
// screens are the normal case; click errors are ignored.
func (e *Engine) dismissInterstitials(ctx context.Context, page browser.Page) {
	for _, sel := range interstitialSelectors {
		n, err := page.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}
		if visible, err := page.Visible(ctx, sel, 0); err != nil || !visible {
			continue
		}
		if err := page.Click(ctx, sel); err == nil {
			e.log.Debug().Str("selector", sel).Msg("dismissed interstitial")
		}
	}
}

// waitAny polls until one of the candidate selectors is visible.
func (e *Engine) waitAny(ctx context.Context, page browser.Page, selectors []string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if sel := e.findPresent(ctx, page, selectors); sel != "" {
			return sel, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("no selector appeared within %s", timeout)
		}
		time.Sleep(e.pollInterval)
	}
}

func (e *Engine) findPresent(ctx context.Context, page browser.Page, selectors []string) string {
	for _, sel := range selectors {
		n, err := page.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}
		if visible, err := page.Visible(ctx, sel, 0); err == nil && visible {
			return sel
		}
	}
	return ""
}

func (e *Engine) clickAny(ctx context.Context, page browser.Page, selectors []string, step string) error {
	sel, err := e.waitAny(ctx, page, selectors, e.stepTimeout)
	if err != nil {
		return &SelectorNotFoundError{Step: step, Selectors: selectors}
	}
	if err := page.Click(ctx, sel); err != nil {
		return fmt.Errorf("click %s: %w", step, err)
	}
	return nil
}

// persistState captures cookies and session storage into the account's
// state file.
func (e *Engine) persistState(ctx context.Context, page browser.Page, acct *accounts.Account) error {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return err
	}

	st := &authstate.State{}
	for _, c := range cookies {
		st.Cookies = append(st.Cookies, authstate.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
		})
	}

	var storage map[string]string
	if err := page.Evaluate(ctx, `Object.fromEntries(Object.entries(sessionStorage))`, &storage); err == nil && len(storage) > 0 {
		st.SessionStorage = map[string]map[string]string{notebookLMURL: storage}
	}

	mgr := authstate.NewManager(filepath.Dir(acct.StateFilePath), e.log)
	return mgr.Save(st)
}

// needsHuman reports whether the failure is one a retry cannot fix.
func needsHuman(err error) bool {
	var selErr *SelectorNotFoundError
	var chErr *ChallengeError
	return errors.As(err, &selErr) || errors.As(err, &chErr) || errors.Is(err, ErrNoCredentials)
}

func onNotebookLM(loc string) bool {
	return strings.Contains(loc, "notebooklm.google.com") &&
		!strings.Contains(loc, "accounts.google.com")
}
