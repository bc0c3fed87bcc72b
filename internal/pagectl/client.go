package pagectl

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stillpointlabs/vidmark/internal/types"
)

// bindingName is the page-callable hook the bootstrap uses to emit events
// back to the agent.
const bindingName = "__vidmarkEmit__"

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
}

type tabSession struct {
	info TabHandle

	mu           sync.Mutex
	sessionID    string // CDP session ID from Target.attachToTarget
	bootstrapped bool   // domains enabled, binding + bootstrap script installed
}

// Client tracks the browser's page targets and runs probes on them. One
// Client serves the whole coordinator; supervisors address tabs by id.
type Client struct {
	cdpURL      string
	tabFilter   string
	evalTimeout time.Duration

	mu           sync.Mutex
	cdp          *rawCDP
	tabs         map[string]*tabSession
	sessionToTab map[string]string
	unregister   []func()

	tabLocksMu sync.Mutex
	tabLocks   map[string]*sync.Mutex

	subMu       sync.RWMutex
	bindingSubs map[string]func(payload string)
	loadSubs    map[string]func()
}

func NewClient(cdpURL, tabFilter string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:       cdpURL,
		tabFilter:    strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout:  evalTimeout,
		tabs:         make(map[string]*tabSession),
		sessionToTab: make(map[string]string),
		tabLocks:     make(map[string]*sync.Mutex),
		bindingSubs:  make(map[string]func(payload string)),
		loadSubs:     make(map[string]func()),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return types.NewError(types.CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("pagectl connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return types.NewError(types.CodeCDPUnavailable, "connect to CDP failed", err)
	}

	c.unregister = append(c.unregister,
		c.cdp.registerEventHandler("Runtime.bindingCalled", c.onBindingCalled),
		c.cdp.registerEventHandler("Page.loadEventFired", c.onLoadEventFired),
		c.cdp.registerEventHandler("Page.javascriptDialogOpening", c.onDialogOpening),
		c.cdp.registerEventHandler("Target.detachedFromTarget", c.onDetached),
	)

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("pagectl initial tab sync failed", "error", err)
		c.cleanupLocked()
		return types.NewError(types.CodeCDPUnavailable, "connect to CDP failed", err)
	}

	slog.Info("pagectl connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	for _, un := range c.unregister {
		un()
	}
	c.unregister = nil

	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for tabID, session := range c.tabs {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("pagectl detach cleanup failed", "tab_id", tabID, "error", err)
				}
				cancel()
				session.sessionID = ""
				session.bootstrapped = false
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[string]*tabSession)
	c.sessionToTab = make(map[string]string)
}

// SyncTabs refreshes the target list and returns the tracked tabs sorted by
// id. The agent's tab-sync job diffs this against its supervisors.
func (c *Client) SyncTabs(ctx context.Context) ([]TabHandle, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("pagectl tab sync failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	tabs := make([]TabHandle, 0, len(c.tabs))
	for _, s := range c.tabs {
		if s != nil {
			tabs = append(tabs, s.info)
		}
	}
	c.mu.Unlock()

	sort.Slice(tabs, func(i, j int) bool { return tabs[i].TabID < tabs[j].TabID })
	slog.Debug("pagectl tabs", "count", len(tabs))
	return tabs, nil
}

// Tab returns the tracked handle for a tab id.
func (c *Client) Tab(tabID string) (TabHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.tabs[tabID]
	if s == nil {
		return TabHandle{}, types.NewError(types.CodeTabNotFound, "tab not found: "+tabID, nil)
	}
	return s.info, nil
}

// OnBinding registers the handler receiving raw bootstrap event payloads
// for one tab. Returns an unregister func. One handler per tab; a second
// registration replaces the first.
func (c *Client) OnBinding(tabID string, fn func(payload string)) func() {
	c.subMu.Lock()
	c.bindingSubs[tabID] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		if _, ok := c.bindingSubs[tabID]; ok {
			delete(c.bindingSubs, tabID)
		}
		c.subMu.Unlock()
	}
}

// OnPageLoad registers the handler fired when the tab commits a fresh
// document (hard navigation or reload). Same replacement semantics as
// OnBinding.
func (c *Client) OnPageLoad(tabID string, fn func()) func() {
	c.subMu.Lock()
	c.loadSubs[tabID] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.loadSubs, tabID)
		c.subMu.Unlock()
	}
}

func (c *Client) onBindingCalled(sessionID string, params json.RawMessage) {
	var p struct {
		Name    string `json:"name"`
		Payload string `json:"payload"`
	}
	if json.Unmarshal(params, &p) != nil || p.Name != bindingName {
		return
	}
	tabID := c.tabForSession(sessionID)
	if tabID == "" {
		return
	}
	c.subMu.RLock()
	fn := c.bindingSubs[tabID]
	c.subMu.RUnlock()
	if fn != nil {
		fn(p.Payload)
	}
}

func (c *Client) onLoadEventFired(sessionID string, _ json.RawMessage) {
	tabID := c.tabForSession(sessionID)
	if tabID == "" {
		return
	}
	slog.Debug("pagectl page load", "tab_id", tabID)
	c.subMu.RLock()
	fn := c.loadSubs[tabID]
	c.subMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// onDialogOpening dismisses page dialogs: an open dialog halts the page's
// event loop, which would wedge every probe on that tab.
func (c *Client) onDialogOpening(sessionID string, params json.RawMessage) {
	var p struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	_ = json.Unmarshal(params, &p)
	slog.Warn("pagectl dismissing page dialog", "type", p.Type, "message", p.Message)

	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cdp.handleJavaScriptDialog(ctx, sessionID, false); err != nil {
		slog.Warn("pagectl dialog dismiss failed", "error", err)
	}
}

func (c *Client) onDetached(_ string, params json.RawMessage) {
	var p struct {
		SessionID string `json:"sessionId"`
		TargetID  string `json:"targetId"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}
	c.mu.Lock()
	tabID := c.sessionToTab[p.SessionID]
	delete(c.sessionToTab, p.SessionID)
	session := c.tabs[tabID]
	c.mu.Unlock()
	if session == nil {
		return
	}
	session.mu.Lock()
	if session.sessionID == p.SessionID {
		session.sessionID = ""
		session.bootstrapped = false
	}
	session.mu.Unlock()
	slog.Debug("pagectl session detached", "tab_id", tabID)
}

func (c *Client) tabForSession(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToTab[sessionID]
}

// EvalOnTab runs a wrapped probe on a tab, decoding the envelope into out.
// Transient failures trigger one recovery (reconnect or tab resync) and a
// single retry.
func (c *Client) EvalOnTab(ctx context.Context, tabID, js string, out any) error {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return types.NewError(types.CodeTabNotFound, "tab id is required", nil)
	}

	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	// First attempt.
	session, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		slog.Warn("pagectl tab resolve failed", "tab_id", tabID, "error", err)
	} else {
		err = c.evalOnSession(ctx, session, tabID, js, out)
	}
	if err == nil {
		return nil
	}
	if !c.shouldRetry(err) {
		return err
	}

	// Retry after recovery.
	slog.Warn("pagectl eval retry after transient failure", "tab_id", tabID, "error", err)
	if c.asCode(err, types.CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("pagectl reconnect failed during retry", "tab_id", tabID, "error", recErr)
			return recErr
		}
	} else {
		if syncErr := c.refreshTabs(ctx); syncErr != nil {
			slog.Warn("pagectl tab refresh failed during retry", "tab_id", tabID, "error", syncErr)
		}
	}

	session, err = c.resolveTabSession(ctx, tabID)
	if err != nil {
		slog.Warn("pagectl tab resolve failed (retry)", "tab_id", tabID, "error", err)
		return err
	}
	return c.evalOnSession(ctx, session, tabID, js, out)
}

func (c *Client) evalOnSession(ctx context.Context, session *tabSession, tabID, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return types.NewError(types.CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session, tabID)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("pagectl eval failed", "tab_id", tabID, "error", err)
		// Reset session so a fresh attach happens on retry.
		session.mu.Lock()
		session.sessionID = ""
		session.bootstrapped = false
		session.mu.Unlock()

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return types.NewError(types.CodeEvalTimeout, "evaluation timed out", err)
		}
		return types.NewError(types.CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return types.NewError(types.CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		switch code {
		case "":
			code = types.CodeEvalFailure
		case codeBootstrapMissing:
			// The document predates our session prep (e.g. attach raced a
			// navigation). Re-run the bootstrap once, then retry the probe.
			if rbErr := c.rebootstrap(ctx, cdp, session, tabID); rbErr == nil {
				return c.evalOnSession(ctx, session, tabID, js, out)
			}
			code = types.CodeEvalFailure
		}
		return types.NewError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return types.NewError(types.CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// ensureSession returns a prepared CDP session for the tab, attaching and
// bootstrapping if needed.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession, tabID string) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" && session.bootstrapped {
		return session.sessionID, nil
	}

	if session.sessionID == "" {
		sid, err := cdp.attachToTarget(ctx, tabID)
		if err != nil {
			return "", types.NewError(types.CodeCDPUnavailable, "attach to target failed", err)
		}
		session.sessionID = sid
		c.mu.Lock()
		c.sessionToTab[sid] = tabID
		c.mu.Unlock()
		slog.Debug("pagectl session attached", "tab_id", tabID, "session_id", sid)
	}

	if err := c.prepareSessionLocked(ctx, cdp, session); err != nil {
		return "", err
	}
	return session.sessionID, nil
}

// prepareSessionLocked enables the Runtime and Page domains, registers the
// event binding, and installs the bootstrap for current and future
// documents. Caller holds session.mu.
func (c *Client) prepareSessionLocked(ctx context.Context, cdp *rawCDP, session *tabSession) error {
	if session.bootstrapped {
		return nil
	}
	sid := session.sessionID
	if err := cdp.enableRuntimeDomain(ctx, sid); err != nil {
		return types.NewError(types.CodeCDPUnavailable, "enable runtime domain failed", err)
	}
	if err := cdp.enablePageDomain(ctx, sid); err != nil {
		return types.NewError(types.CodeCDPUnavailable, "enable page domain failed", err)
	}
	if err := cdp.addBinding(ctx, sid, bindingName); err != nil {
		return types.NewError(types.CodeCDPUnavailable, "add binding failed", err)
	}
	if _, err := cdp.addScriptOnNewDocument(ctx, sid, bootstrapJS); err != nil {
		return types.NewError(types.CodeCDPUnavailable, "install bootstrap script failed", err)
	}
	// The current document was loaded before the injection registration.
	if _, err := cdp.evaluate(ctx, sid, bootstrapJS); err != nil {
		return types.NewError(types.CodeEvalFailure, "bootstrap eval failed", err)
	}
	session.bootstrapped = true
	slog.Debug("pagectl session bootstrapped", "session_id", sid)
	return nil
}

func (c *Client) rebootstrap(ctx context.Context, cdp *rawCDP, session *tabSession, tabID string) error {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.sessionID == "" {
		return types.NewError(types.CodeCDPUnavailable, "no session for tab "+tabID, nil)
	}
	if _, err := cdp.evaluate(ctx, session.sessionID, bootstrapJS); err != nil {
		return types.NewError(types.CodeEvalFailure, "bootstrap eval failed", err)
	}
	return nil
}

// Screenshot captures the tab as base64 PNG data (fixture capture).
func (c *Client) Screenshot(ctx context.Context, tabID string) (string, error) {
	c.mu.Lock()
	cdp := c.cdp
	session := c.tabs[tabID]
	c.mu.Unlock()
	if cdp == nil {
		return "", types.NewError(types.CodeCDPUnavailable, "CDP client not connected", nil)
	}
	if session == nil {
		return "", types.NewError(types.CodeTabNotFound, "tab not found: "+tabID, nil)
	}
	sid, err := c.ensureSession(ctx, cdp, session, tabID)
	if err != nil {
		return "", err
	}
	data, err := cdp.captureScreenshot(ctx, sid, "png", 0)
	if err != nil {
		return "", types.NewError(types.CodeEvalFailure, "screenshot failed", err)
	}
	return data, nil
}

func (c *Client) resolveTabSession(ctx context.Context, tabID string) (*tabSession, error) {
	session, found := c.lookupTabSession(tabID)
	if found {
		return session, nil
	}

	if err := c.refreshTabs(ctx); err != nil {
		return nil, err
	}

	session, found = c.lookupTabSession(tabID)
	if found {
		return session, nil
	}
	return nil, types.NewError(types.CodeTabNotFound, "tab not found: "+tabID, nil)
}

func (c *Client) lookupTabSession(tabID string) (*tabSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.tabs[tabID]
	if session == nil {
		return nil, false
	}
	return session, true
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.syncTabsLocked(ctx)
	c.mu.Unlock()
	if err == nil {
		return nil
	}
	return types.NewError(types.CodeCDPUnavailable, "failed to list targets", err)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return types.NewError(types.CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return err
	}

	expected := make(map[string]TabHandle)
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !trackableURL(t.URL) {
			continue
		}
		if c.tabFilter != "" && !strings.Contains(strings.ToLower(t.URL), c.tabFilter) {
			continue
		}
		expected[string(t.TargetID)] = TabHandle{
			TabID: string(t.TargetID),
			URL:   t.URL,
			Title: t.Title,
		}
	}

	for tabID, session := range c.tabs {
		if _, ok := expected[tabID]; ok {
			continue
		}
		if session != nil {
			session.mu.Lock()
			if session.sessionID != "" {
				delete(c.sessionToTab, session.sessionID)
			}
			session.mu.Unlock()
		}
		delete(c.tabs, tabID)
	}

	for tabID, info := range expected {
		session := c.tabs[tabID]
		if session != nil {
			session.info = info
			continue
		}
		c.tabs[tabID] = &tabSession{info: info}
	}

	// Prune per-tab locks for tabs no longer present.
	c.tabLocksMu.Lock()
	for id := range c.tabLocks {
		if _, ok := c.tabs[id]; !ok {
			delete(c.tabLocks, id)
		}
	}
	c.tabLocksMu.Unlock()

	slog.Debug("pagectl tab sync", "targets", len(targets), "tracked", len(c.tabs))
	return nil
}

// trackableURL filters out browser-internal pages that can never host
// media and reject script injection.
func trackableURL(u string) bool {
	lu := strings.ToLower(u)
	return strings.HasPrefix(lu, "http://") || strings.HasPrefix(lu, "https://") ||
		strings.HasPrefix(lu, "file://")
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) tabLock(tabID string) *sync.Mutex {
	c.tabLocksMu.Lock()
	defer c.tabLocksMu.Unlock()
	m, ok := c.tabLocks[tabID]
	if !ok {
		m = &sync.Mutex{}
		c.tabLocks[tabID] = m
	}
	return m
}

func (c *Client) shouldRetry(err error) bool {
	var coded *types.CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case types.CodeCDPUnavailable:
		return true
	case types.CodeTabNotFound:
		return false
	case types.CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *types.CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}
