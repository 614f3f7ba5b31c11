package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/cookiekeeper/internal/browser/stealth"
	"github.com/xkilldash9x/cookiekeeper/internal/config"
	"github.com/xkilldash9x/cookiekeeper/internal/cookies"
)

const loginPollInterval = 500 * time.Millisecond

// Identity is the account a session logs in with. Secret is never logged.
type Identity struct {
	Account string
	Secret  string
}

// WarmUpFailure records one warm-up page that did not load.
type WarmUpFailure struct {
	URL string
	Err error
}

// Session drives one Chrome instance through login, warm-up and cookie
// extraction. Sessions are single-use; Close is always safe to call.
type Session struct {
	cfg      config.BrowserConfig
	timeouts config.TimeoutsConfig
	persona  stealth.Persona
	filter   jarFilter
	matcher  loginMatcher
	logger   *zap.Logger

	// allocOpts is replaceable in tests.
	allocOpts []chromedp.ExecAllocatorOption

	mu            sync.Mutex
	state         State
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewSession prepares a session. Chrome is not started until Open.
func NewSession(cfg config.BrowserConfig, timeouts config.TimeoutsConfig, logger *zap.Logger) *Session {
	return &Session{
		cfg:       cfg,
		timeouts:  timeouts,
		persona:   stealth.FromConfig(cfg),
		filter:    newJarFilter(cfg.ExcludedCookies, cfg.CookieDomains),
		matcher:   newLoginMatcher(cfg),
		logger:    logger.Named("browser"),
		allocOpts: AllocatorOptions(cfg),
		state:     StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrSessionState, s.state, to)
	}
	s.state = to
	return nil
}

func (s *Session) require(want State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != want {
		return fmt.Errorf("%w: expected %s, session is %s", ErrSessionState, want, s.state)
	}
	return nil
}

// bounded derives a context on the tab that expires after d or when ctx ends,
// whichever comes first. Cancelling it never closes the tab. A step abandoned
// by its caller can reach here after Close; that is ErrSessionState.
func (s *Session) bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	tab := s.browserCtx
	s.mu.Unlock()
	if tab == nil {
		return nil, func() {}, fmt.Errorf("%w: session closed before the step started", ErrSessionState)
	}
	c, cancel := context.WithTimeout(tab, d)
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancel()
	}, nil
}

// fail closes the session after a failed step and returns err unchanged.
func (s *Session) fail(err error) error {
	if closeErr := s.Close(context.Background()); closeErr != nil {
		s.logger.Warn("Cleanup after failed step reported an error.", zap.Error(closeErr))
	}
	return err
}

// Open starts Chrome, applies the stealth persona and loads targetURL.
func (s *Session) Open(ctx context.Context, targetURL string) error {
	if err := s.transition(StateOpening); err != nil {
		return err
	}

	// The allocator and browser contexts are rooted in Background: their
	// lifetime is ended by Close, not by the caller's deadline.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), s.allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(s.logger.Sugar().Debugf),
		chromedp.WithErrorf(s.logger.Sugar().Debugf),
	)
	s.mu.Lock()
	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.mu.Unlock()

	// 1. Launch. The first Run must use the unbounded browser context, or the
	// browser would be torn down when a step deadline fires.
	launched := make(chan error, 1)
	go func() { launched <- chromedp.Run(browserCtx) }()
	select {
	case err := <-launched:
		if err != nil {
			return s.fail(fmt.Errorf("%w: starting browser: %w", ErrNavigation, err))
		}
	case <-ctx.Done():
		browserCancel()
		<-launched
		return s.fail(fmt.Errorf("%w: starting browser: %w", ErrNavigation, ctx.Err()))
	}

	// 2. Persona, then the page itself.
	navCtx, cancel, err := s.bounded(ctx, s.timeouts.Navigation)
	defer cancel()
	if err != nil {
		return s.fail(err)
	}
	err = chromedp.Run(navCtx,
		stealth.Apply(s.persona, s.logger),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return s.fail(fmt.Errorf("%w: loading %s: %w", ErrNavigation, targetURL, err))
	}
	s.logger.Info("Browser session opened.", zap.String("url", targetURL))
	return nil
}

// Authenticate fills in the identifier and password forms and waits for the
// flow to land on a success page.
func (s *Session) Authenticate(ctx context.Context, id Identity) error {
	if err := s.transition(StateAuthenticating); err != nil {
		return err
	}

	loginCtx, cancel, err := s.bounded(ctx, s.timeouts.Login)
	defer cancel()
	if err != nil {
		return s.fail(err)
	}

	// 1. Identifier.
	if err := s.fillField(loginCtx, s.cfg.IdentifierSelector, id.Account, s.cfg.IdentifierNext); err != nil {
		return s.fail(fmt.Errorf("%w: identifier step: %w", ErrNavigation, err))
	}
	s.logger.Debug("Identifier submitted.")

	// 2. Password.
	if err := s.fillField(loginCtx, s.cfg.PasswordSelector, id.Secret, s.cfg.PasswordNext); err != nil {
		return s.fail(fmt.Errorf("%w: password step: %w", ErrNavigation, err))
	}
	s.logger.Debug("Password submitted.")

	// 3. Wait for the outcome.
	status, location, err := s.awaitLogin(loginCtx)
	switch {
	case err != nil:
		return s.fail(err)
	case status == loginChallenged:
		if terr := s.transition(StateChallenged); terr != nil {
			return s.fail(terr)
		}
		s.logger.Warn("Login was interrupted by a challenge.", zap.String("location", redactQuery(location)))
		return s.fail(fmt.Errorf("%w: at %s", ErrChallengeRequired, redactQuery(location)))
	}

	if err := s.transition(StateAuthenticated); err != nil {
		return s.fail(err)
	}
	s.logger.Info("Login completed.", zap.String("location", redactQuery(location)))
	return nil
}

// fillField waits for selector, types value into it and advances with the
// next button, or Enter when none is configured.
func (s *Session) fillField(ctx context.Context, selector, value, next string) error {
	fieldCtx, cancel := context.WithTimeout(ctx, s.timeouts.Field)
	defer cancel()
	if err := chromedp.Run(fieldCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("field %q did not appear: %w", selector, err)
	}

	advance := chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery)
	if next != "" {
		advance = chromedp.Click(next, chromedp.ByQuery, chromedp.NodeVisible)
	}
	err := chromedp.Run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
		advance,
	)
	if err != nil {
		// The value may be the secret; never include it.
		return fmt.Errorf("could not submit field %q: %w", selector, err)
	}
	return nil
}

// awaitLogin polls the page until it is classified or the post-login timeout
// expires. An unresolved page is treated as a challenge.
func (s *Session) awaitLogin(ctx context.Context) (loginStatus, string, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.timeouts.PostLogin)
	defer cancel()

	check := challengeCheck(s.cfg.ChallengeSelectors)
	ticker := time.NewTicker(loginPollInterval)
	defer ticker.Stop()

	var location string
	for {
		var challenged bool
		err := chromedp.Run(pollCtx,
			chromedp.Location(&location),
			chromedp.Evaluate(check, &challenged),
		)
		if err == nil {
			if status := s.matcher.classify(location, challenged); status != loginPending {
				return status, location, nil
			}
		} else if pollCtx.Err() == nil {
			// Mid-navigation evaluations fail routinely; keep polling.
			s.logger.Debug("Login poll failed.", zap.Error(err))
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return loginPending, location, fmt.Errorf("%w: waiting for login: %w", ErrChallengeRequired, ctx.Err())
			}
			return loginChallenged, location, nil
		case <-ticker.C:
		}
	}
}

// VisitWarmUpPages loads each page in turn so the account looks used. Failures
// are collected, never fatal.
func (s *Session) VisitWarmUpPages(ctx context.Context, urls []string) []WarmUpFailure {
	if err := s.require(StateAuthenticated); err != nil {
		failures := make([]WarmUpFailure, 0, len(urls))
		for _, u := range urls {
			failures = append(failures, WarmUpFailure{URL: u, Err: err})
		}
		return failures
	}

	limit := rate.Inf
	if s.timeouts.WarmUpInterval > 0 {
		limit = rate.Every(s.timeouts.WarmUpInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var failures []WarmUpFailure
	for i, u := range urls {
		if err := limiter.Wait(ctx); err != nil {
			for _, rest := range urls[i:] {
				failures = append(failures, WarmUpFailure{URL: rest, Err: err})
			}
			break
		}
		if err := s.visit(ctx, u); err != nil {
			s.logger.Warn("Warm-up page failed.", zap.String("url", u), zap.Error(err))
			failures = append(failures, WarmUpFailure{URL: u, Err: err})
			continue
		}
		s.logger.Debug("Warm-up page visited.", zap.String("url", u))
	}
	return failures
}

func (s *Session) visit(ctx context.Context, u string) error {
	navCtx, cancel, err := s.bounded(ctx, s.timeouts.Navigation+s.timeouts.PostLoadWait)
	defer cancel()
	if err != nil {
		return err
	}
	tasks := chromedp.Tasks{
		chromedp.Navigate(u),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.timeouts.PostLoadWait > 0 {
		tasks = append(tasks, chromedp.Sleep(s.timeouts.PostLoadWait))
	}
	if err := chromedp.Run(navCtx, tasks); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNavigation, u, err)
	}
	return nil
}

// ExtractCookies reads the browser-wide jar and returns the retained cookies
// in deterministic order.
func (s *Session) ExtractCookies(ctx context.Context) ([]cookies.Cookie, error) {
	if err := s.transition(StateExtracting); err != nil {
		return nil, err
	}

	readCtx, cancel, err := s.bounded(ctx, s.timeouts.Navigation)
	defer cancel()
	if err != nil {
		return nil, s.fail(err)
	}

	var raw []*network.Cookie
	err = chromedp.Run(readCtx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, s.fail(fmt.Errorf("%w: %w", ErrExtraction, err))
	}

	jar := s.filter.apply(raw)
	if len(jar) == 0 {
		return nil, s.fail(fmt.Errorf("%w: no cookies for %v (browser held %d)", ErrExtraction, s.cfg.CookieDomains, len(raw)))
	}
	s.logger.Info("Cookies extracted.", zap.Int("kept", len(jar)), zap.Int("seen", len(raw)))
	return jar, nil
}

// Close shuts the browser down and kills its process group. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	browserCtx, browserCancel, allocCancel := s.browserCtx, s.browserCancel, s.allocCancel
	s.browserCtx, s.browserCancel, s.allocCancel = nil, nil, nil
	s.mu.Unlock()

	if allocCancel == nil {
		return nil
	}

	// 1. Ask the browser to exit, bounded by the close timeout.
	var closeErr error
	exited := false
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(browserCtx) }()
	timer := time.NewTimer(s.timeouts.Close)
	defer timer.Stop()
	select {
	case closeErr = <-done:
		exited = true
	case <-timer.C:
		closeErr = fmt.Errorf("browser did not exit within %s", s.timeouts.Close)
	case <-ctx.Done():
		closeErr = ctx.Err()
	}

	// 2. Tear down the tab, the browser and the process regardless.
	browserCancel()
	allocCancel()
	killProcessGroups()
	if !exited {
		// Cancel returns once the process is gone.
		<-done
	}

	if closeErr != nil && !errors.Is(closeErr, context.Canceled) {
		s.logger.Debug("Browser did not close cleanly; process killed.", zap.Error(closeErr))
	}
	s.logger.Debug("Browser session closed.")
	return nil
}
