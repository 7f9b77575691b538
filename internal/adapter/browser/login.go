package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"cartpilot/internal/domain"
	"cartpilot/internal/infra/config"
)

// Phase labels a step of the interactive login flow.
type Phase string

const (
	PhaseCreating      Phase = "creating"
	PhaseAwaitingLogin Phase = "awaiting_login"
	PhaseReady         Phase = "ready"
)

// Progress reports a phase change to the caller, typically for CLI display.
type Progress struct {
	SessionID string
	Phase     Phase
}

// loginPollInterval is how often the open browser is checked for a
// completed login.
const loginPollInterval = 2 * time.Second

// LoginFlow drives an interactive browser login and persists the resulting
// profile as a registry session. Each session gets its own Chrome
// user-data-dir, so cookies never leak between accounts.
type LoginFlow struct {
	cfg         config.BrowserConfig
	profilesDir string
	registry    domain.SessionRegistry
	bus         domain.EventBus
	logger      *slog.Logger
}

// NewLoginFlow creates a login flow rooted at the given profiles directory.
func NewLoginFlow(cfg config.BrowserConfig, profilesDir string, reg domain.SessionRegistry, bus domain.EventBus, logger *slog.Logger) *LoginFlow {
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 5 * time.Minute
	}
	return &LoginFlow{
		cfg:         cfg,
		profilesDir: profilesDir,
		registry:    reg,
		bus:         bus,
		logger:      logger,
	}
}

// ProfilePath returns the user-data-dir for a session id.
func (f *LoginFlow) ProfilePath(sessionID string) string {
	return filepath.Join(f.profilesDir, sessionID)
}

// ValidateSessionID rejects ids that would escape the profiles directory or
// collide with filesystem special names.
func ValidateSessionID(id string) error {
	if id == "" {
		return domain.NewDomainError("browser.Login", domain.ErrInvalidInput, "session id must not be empty")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return domain.NewDomainError("browser.Login", domain.ErrInvalidInput, fmt.Sprintf("session id %q must not contain path separators", id))
	}
	return nil
}

// Login opens a browser window on the login page and waits for the user to
// complete the login, then records the session in the registry. The progress
// callback may be nil.
func (f *LoginFlow) Login(ctx context.Context, sessionID string, progress func(Progress)) (*domain.SessionRecord, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	report := func(phase Phase) {
		if progress != nil {
			progress(Progress{SessionID: sessionID, Phase: phase})
		}
	}
	report(PhaseCreating)

	profilePath := f.ProfilePath(sessionID)
	if err := os.MkdirAll(profilePath, 0o700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	// Copy default options to avoid mutating the package-level slice.
	opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
	copy(opts, chromedp.DefaultExecAllocatorOptions[:])
	opts = append(opts,
		chromedp.UserDataDir(profilePath),
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1280, 720),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	// Start the browser by running an empty action. The CDP session binds to
	// the context passed to the first Run, so browserCtx must not be wrapped
	// in a timeout here.
	startDone := make(chan error, 1)
	go func() { startDone <- chromedp.Run(browserCtx) }()
	select {
	case err := <-startDone:
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-time.After(f.cfg.LoginTimeout):
		return nil, fmt.Errorf("start browser: timed out after %v", f.cfg.LoginTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f.logger.Info("login browser started", "session_id", sessionID, "url", f.cfg.LoginURL)

	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(f.cfg.LoginURL),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(actx context.Context) error {
			return page.BringToFront().Do(actx)
		}),
	); err != nil {
		return nil, fmt.Errorf("open login page: %w", err)
	}
	report(PhaseAwaitingLogin)

	if err := f.waitForLogin(browserCtx, sessionID); err != nil {
		return nil, err
	}
	report(PhaseReady)

	now := time.Now()
	rec := domain.SessionRecord{
		ID:          sessionID,
		ProfilePath: profilePath,
		Valid:       true,
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	if err := f.registry.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	f.emitCreated(ctx, sessionID, profilePath)
	f.logger.Info("session created", "session_id", sessionID, "profile", profilePath)
	return &rec, nil
}

// waitForLogin polls the open browser until the page leaves the login path
// or the logged-in marker appears, bounded by the configured timeout.
func (f *LoginFlow) waitForLogin(browserCtx context.Context, sessionID string) error {
	deadline := time.NewTimer(f.cfg.LoginTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(loginPollInterval)
	defer tick.Stop()

	for {
		select {
		case <-browserCtx.Done():
			return fmt.Errorf("browser closed before login completed: %w", browserCtx.Err())
		case <-deadline.C:
			return domain.NewSubSystemError("browser", "LoginFlow.Login", domain.ErrTimeout,
				fmt.Sprintf("login for %q not completed within %v", sessionID, f.cfg.LoginTimeout))
		case <-tick.C:
			done, err := f.loginComplete(browserCtx)
			if err != nil {
				f.logger.Debug("login poll failed", "session_id", sessionID, "error", err)
				continue
			}
			if done {
				return nil
			}
		}
	}
}

func (f *LoginFlow) loginComplete(browserCtx context.Context) (bool, error) {
	tctx, cancel := context.WithTimeout(browserCtx, loginPollInterval)
	defer cancel()

	if f.cfg.ReadyQuery != "" {
		var present bool
		expr := fmt.Sprintf("document.querySelector(%q) !== null", f.cfg.ReadyQuery)
		if err := chromedp.Run(tctx, chromedp.Evaluate(expr, &present)); err != nil {
			return false, err
		}
		if present {
			return true, nil
		}
	}

	if f.cfg.LoginPath != "" {
		var location string
		if err := chromedp.Run(tctx, chromedp.Location(&location)); err != nil {
			return false, err
		}
		u, err := url.Parse(location)
		if err != nil {
			return false, err
		}
		return !strings.HasPrefix(u.Path, f.cfg.LoginPath), nil
	}

	return false, nil
}

func (f *LoginFlow) emitCreated(ctx context.Context, sessionID, profilePath string) {
	if f.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{"profile_path": profilePath})
	f.bus.Publish(ctx, domain.Event{
		Type:      domain.EventSessionCreated,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   payload,
	})
}
