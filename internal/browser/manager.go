package browser

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// Manager allocates Chrome instances, one per persistent profile directory.
// A profile directory can back at most one live browser at a time; Chrome
// itself corrupts the profile when two processes share it. Each AcquirePage
// opens its own tab in that browser, so callers sharing a profile never
// share page state.
type Manager struct {
	headless bool
	debug    bool
	log      zerolog.Logger

	mu    sync.Mutex
	owned map[string]*instance // keyed by profile dir
}

// instance is one Chrome process. refs counts the tabs handed out; the
// process stays up until the last one is released.
type instance struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	refs          int
}

// NewManager returns a manager. Headless controls Chrome's display mode for
// every instance it starts.
func NewManager(headless, debug bool, log zerolog.Logger) *Manager {
	return &Manager{
		headless: headless,
		debug:    debug,
		log:      log,
		owned:    make(map[string]*instance),
	}
}

// AcquirePage opens a new tab in the Chrome instance bound to profileDir,
// starting the instance first if needed. Every call returns a distinct page.
func (m *Manager) AcquirePage(ctx context.Context, profileDir string) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.owned[profileDir]
	if ok {
		// Probe the existing process before opening a tab in it.
		if err := chromedp.Run(inst.browserCtx); err != nil {
			m.log.Warn().Str("profile", profileDir).Msg("stale browser instance, restarting")
			m.shutdownLocked(profileDir)
			ok = false
		}
	}
	if !ok {
		var err error
		inst, err = m.startLocked(profileDir)
		if err != nil {
			return nil, err
		}
	}

	tabCtx, cancelTab := chromedp.NewContext(inst.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		return nil, fmt.Errorf("open tab on %s: %w", profileDir, err)
	}
	inst.refs++
	return &page{ctx: tabCtx, cancel: cancelTab, profileDir: profileDir}, nil
}

func (m *Manager) startLocked(profileDir string) (*instance, error) {
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("headless", m.headless),
		chromedp.Flag("window-size", "1280,800"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("remote-debugging-port", "0"),
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	var browserCtx context.Context
	var cancelBrowser context.CancelFunc
	if m.debug {
		browserCtx, cancelBrowser = chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
			m.log.Debug().Msgf("chromedp: "+format, args...)
		}))
	} else {
		browserCtx, cancelBrowser = chromedp.NewContext(allocCtx)
	}

	// First Run call launches the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start browser on %s: %w", profileDir, err)
	}

	inst := &instance{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}
	m.owned[profileDir] = inst
	m.log.Info().Str("profile", profileDir).Bool("headless", m.headless).Msg("browser started")
	return inst, nil
}

// ReleasePage closes the tab behind p. Its Chrome instance shuts down once
// the last tab on the profile is gone.
func (m *Manager) ReleasePage(p Page) {
	tab, ok := p.(*page)
	if !ok {
		return
	}
	tab.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.owned[tab.profileDir]
	if !ok {
		return
	}
	inst.refs--
	if inst.refs <= 0 {
		m.shutdownLocked(tab.profileDir)
	}
}

func (m *Manager) shutdownLocked(profileDir string) {
	inst, ok := m.owned[profileDir]
	if !ok {
		return
	}
	inst.cancelBrowser()
	inst.cancelAlloc()
	delete(m.owned, profileDir)
	m.log.Debug().Str("profile", profileDir).Msg("browser released")
}

// Close shuts down every browser the manager owns.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for dir := range m.owned {
		m.shutdownLocked(dir)
	}
}
