// Package chrome manages a bounded pool of headless Chrome tabs.
//
// One Chrome process is started lazily per pool; every lease is a separate
// target (tab) inside it. Tabs are reset and recycled between renders and
// destroyed when a render leaves them in an unknown state.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"html2image/internal/config"
	"html2image/internal/domain"
	"html2image/internal/infra/logging"
)

const (
	resetTimeout   = 3 * time.Second
	tabOpenTimeout = 10 * time.Second
)

// Tab is one leased rendering context. Ctx carries the chromedp target and
// must only be used by the holder of the lease.
type Tab struct {
	ID      uint64
	Ctx     context.Context
	cancel  context.CancelFunc
	Created time.Time
	Uses    int
}

func (t *Tab) close() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Stats is a point-in-time view of the pool used for observability.
type Stats struct {
	Enabled      bool      `json:"enabled"`
	Capacity     int       `json:"capacity"`
	Idle         int       `json:"idle"`
	InUse        int       `json:"in_use"`
	Warm         int       `json:"warm"`
	Created      int       `json:"created"`
	Discarded    int       `json:"discarded"`
	PoolSizeConf int       `json:"pool_size_conf"`
	ProfileDir   string    `json:"profile_dir"`
	Restarts     int       `json:"restarts"`
	LastRestart  time.Time `json:"last_restart"`
	LastError    string    `json:"last_error,omitempty"`
}

// Pool hands out exclusive leases on Chrome tabs. The number of concurrent
// leases is bounded by the capacity of sem.
type Pool struct {
	cfg config.Config

	// sem holds one token per lease that can be granted right now.
	sem chan struct{}

	mu          sync.Mutex
	idle        []*Tab
	leased      map[uint64]*Tab
	nextID      uint64
	created     int
	discarded   int
	lastOpenErr error
	closed      bool
	restarts    int
	lastRestart time.Time

	// startSlot serializes browser startup and shutdown. It is a channel so
	// waiters can give up when their context ends.
	startSlot     chan struct{}
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	started       bool
	profileDir    string

	// start, open and reset are replaced in tests so the pool can run
	// without Chrome.
	start func(ctx context.Context) error
	open  func(ctx context.Context) (*Tab, error)
	reset func(tab *Tab) error
}

// NewPool prepares a pool of cfg.Render.PoolSize tabs. Chrome itself is not
// started until the first tab is needed.
func NewPool(cfg config.Config) (*Pool, error) {
	if cfg.Render.PoolSize <= 0 {
		return nil, errors.New("chrome pool disabled: render.pool_size must be >= 1")
	}
	p := &Pool{
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.Render.PoolSize),
		startSlot: make(chan struct{}, 1),
		leased:    make(map[uint64]*Tab),
	}
	for i := 0; i < cfg.Render.PoolSize; i++ {
		p.sem <- struct{}{}
	}
	if err := p.newAllocator(); err != nil {
		return nil, err
	}
	p.start = func(ctx context.Context) error {
		_, err := p.ensureBrowser(ctx)
		return err
	}
	p.open = p.openChromeTab
	p.reset = resetChromeTab
	return p, nil
}

// newPoolWith builds a pool around custom tab factories.
func newPoolWith(size int, open func(ctx context.Context) (*Tab, error), reset func(*Tab) error) *Pool {
	p := &Pool{
		sem:       make(chan struct{}, size),
		startSlot: make(chan struct{}, 1),
		leased:    make(map[uint64]*Tab),
		start:     func(context.Context) error { return nil },
		open:      open,
		reset:     reset,
	}
	p.cfg.Render.PoolSize = size
	for i := 0; i < size; i++ {
		p.sem <- struct{}{}
	}
	return p
}

func createProfileDir(cfg config.Config) (string, error) {
	base := cfg.Render.UserDataDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("cannot create chrome profile base %s: %w", base, err)
	}
	dir, err := os.MkdirTemp(base, "html2image-chrome-*")
	if err != nil {
		return "", fmt.Errorf("cannot create chrome profile dir: %w", err)
	}
	return dir, nil
}

func allocatorOptions(cfg config.Config, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		// Force software rendering and avoid Vulkan/ANGLE issues in minimal container environments.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("font-render-hinting", "none"),
	)
	if cfg.Render.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.Render.ChromePath))
	}
	if cfg.Render.ChromeNoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

// newAllocator creates a fresh profile directory and exec allocator. Callers
// hold startSlot or have exclusive access to p.
func (p *Pool) newAllocator() error {
	dir, err := createProfileDir(p.cfg)
	if err != nil {
		return err
	}
	p.profileDir = dir
	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), allocatorOptions(p.cfg, dir)...)
	var cancel context.CancelFunc
	p.browserCtx, cancel = chromedp.NewContext(p.allocCtx)
	// chromedp's cancel blocks forever when called twice after a failed
	// allocation.
	p.browserCancel = sync.OnceFunc(cancel)
	p.started = false
	return nil
}

func (p *Pool) lockStart(ctx context.Context) error {
	select {
	case p.startSlot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) unlockStart() { <-p.startSlot }

// ensureBrowser starts Chrome once, restarting it if the previous process
// died. Waiting for a concurrent startup honours ctx.
func (p *Pool) ensureBrowser(ctx context.Context) (context.Context, error) {
	if err := p.lockStart(ctx); err != nil {
		return nil, fmt.Errorf("chrome startup: %w", err)
	}
	defer p.unlockStart()

	if p.isClosed() {
		return nil, domain.ErrPoolClosed
	}
	if p.browserCtx == nil {
		if err := p.newAllocator(); err != nil {
			return nil, err
		}
	}
	if p.started && p.browserCtx.Err() == nil {
		return p.browserCtx, nil
	}
	if p.started {
		logging.Warn("Chrome process gone, restarting", "profile_dir", p.profileDir)
		if err := p.restartLocked(); err != nil {
			return nil, err
		}
	}

	timeout := p.cfg.Render.StartupTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	// The first Run allocates the browser and binds it to browserCtx, so it
	// cannot receive a deadline-carrying child context.
	if err := runFirst(ctx, p.browserCtx, p.browserCancel, timeout); err != nil {
		logging.Error("Chrome failed to start", "profile_dir", p.profileDir, "error", err)
		p.shutdownBrowser()
		p.browserCtx, p.browserCancel = nil, nil
		// The next attempt gets a fresh allocator.
		return nil, fmt.Errorf("chrome startup: %w", err)
	}
	p.started = true
	logging.Info("Chrome started", "profile_dir", p.profileDir, "pool_size", cap(p.sem))
	return p.browserCtx, nil
}

// runFirst performs the initial chromedp.Run on target, bounded by timeout and ctx.
func runFirst(ctx, target context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(target) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			cancel()
		}
		return err
	case <-timer.C:
		cancel()
		return context.DeadlineExceeded
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (p *Pool) openChromeTab(ctx context.Context) (*Tab, error) {
	browserCtx, err := p.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	cancel := sync.OnceFunc(tabCancel)
	if err := runFirst(ctx, tabCtx, cancel, tabOpenTimeout); err != nil {
		return nil, fmt.Errorf("open chrome tab: %w", err)
	}
	return &Tab{Ctx: tabCtx, cancel: cancel}, nil
}

// resetChromeTab clears per-render emulation state and unloads the document.
func resetChromeTab(tab *Tab) error {
	ctx, cancel := context.WithTimeout(tab.Ctx, resetTimeout)
	defer cancel()
	return chromedp.Run(ctx,
		emulation.ClearDeviceMetricsOverride(),
		emulation.SetDefaultBackgroundColorOverride(),
		chromedp.Navigate("about:blank"),
	)
}

// Acquire leases a tab exclusively to the caller. It blocks until a tab is
// free or ctx ends, in which case the error wraps both domain.ErrPoolExhausted
// and the context error.
func (p *Pool) Acquire(ctx context.Context) (*Tab, error) {
	if p.isClosed() {
		return nil, domain.ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPoolExhausted, err)
	}
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", domain.ErrPoolExhausted, ctx.Err())
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.sem <- struct{}{}
			return nil, domain.ErrPoolClosed
		}
		n := len(p.idle)
		if n == 0 {
			p.mu.Unlock()
			break
		}
		tab := p.idle[n-1]
		p.idle = p.idle[:n-1]
		if tab.Ctx != nil && tab.Ctx.Err() != nil {
			// The browser went away while the tab sat idle.
			p.discarded++
			p.mu.Unlock()
			tab.close()
			continue
		}
		tab.Uses++
		p.leased[tab.ID] = tab
		p.mu.Unlock()
		return tab, nil
	}

	tab, err := p.open(ctx)
	p.mu.Lock()
	p.lastOpenErr = err
	if err != nil {
		p.mu.Unlock()
		p.sem <- struct{}{}
		if errors.Is(err, domain.ErrPoolClosed) {
			return nil, domain.ErrPoolClosed
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrPoolExhausted, err)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrEngineCrash, err)
	}
	p.nextID++
	tab.ID = p.nextID
	tab.Created = time.Now()
	tab.Uses = 1
	p.created++
	p.leased[tab.ID] = tab
	p.mu.Unlock()
	return tab, nil
}

// Release ends a lease. A tab whose render failed with a crash, timeout or
// interrupted session is destroyed; otherwise it is reset and returned to the
// free list, or destroyed if the reset fails. Releasing a tab that is not
// currently leased is a no-op.
func (p *Pool) Release(tab *Tab, renderErr error) {
	if tab == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.leased[tab.ID]; !ok {
		p.mu.Unlock()
		logging.Warn("Release of a tab that is not leased", "tab", tab.ID)
		return
	}
	delete(p.leased, tab.ID)
	closed := p.closed
	p.mu.Unlock()

	keep := !closed && !mustDiscard(renderErr)
	if keep {
		if err := p.reset(tab); err != nil {
			logging.Warn("Chrome tab reset failed, discarding", "tab", tab.ID, "error", err)
			keep = false
		}
	}

	p.mu.Lock()
	if keep && !p.closed {
		p.idle = append(p.idle, tab)
	} else {
		keep = false
		p.discarded++
	}
	p.mu.Unlock()

	if !keep {
		tab.close()
	}
	p.sem <- struct{}{}
}

func mustDiscard(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, domain.ErrEngineCrash) ||
		errors.Is(err, domain.ErrRenderTimeout) ||
		IsSessionInterrupted(err) ||
		IsCrash(err)
}

// Healthy reports whether the pool can hand out tabs: it is open and either
// holds a live warm tab or Chrome is running (starting it if needed, bounded
// by ctx). A pool whose tabs are all leased is still healthy.
func (p *Pool) Healthy(ctx context.Context) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	for _, t := range p.idle {
		if t.Ctx != nil && t.Ctx.Err() == nil {
			p.mu.Unlock()
			return true
		}
	}
	p.mu.Unlock()

	// A slow startup keeps going after ctx ends so the next check can see it.
	res := make(chan error, 1)
	go func() { res <- p.start(context.WithoutCancel(ctx)) }()
	select {
	case err := <-res:
		if err != nil {
			logging.Warn("Chrome health check failed", "error", err)
			return false
		}
		return true
	case <-ctx.Done():
		return false
	}
}

// Restart replaces the Chrome process and profile directory. Idle tabs are
// destroyed; leased tabs are discarded when released.
func (p *Pool) Restart() error {
	if p.isClosed() {
		return errors.New("chrome pool closed")
	}
	if err := p.lockStart(context.Background()); err != nil {
		return err
	}
	defer p.unlockStart()
	return p.restartLocked()
}

func (p *Pool) restartLocked() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.discarded += len(idle)
	p.restarts++
	p.lastRestart = time.Now()
	p.mu.Unlock()

	for _, t := range idle {
		t.close()
	}
	p.shutdownBrowser()
	return p.newAllocator()
}

func (p *Pool) shutdownBrowser() {
	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	if p.profileDir != "" {
		_ = os.RemoveAll(p.profileDir)
		p.profileDir = ""
	}
}

// Stats returns capacity and usage counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lastErr string
	if p.lastOpenErr != nil {
		lastErr = p.lastOpenErr.Error()
	}
	return Stats{
		Enabled:      !p.closed,
		Capacity:     cap(p.sem),
		Idle:         len(p.sem),
		InUse:        len(p.leased),
		Warm:         len(p.idle),
		Created:      p.created,
		Discarded:    p.discarded,
		PoolSizeConf: p.cfg.Render.PoolSize,
		ProfileDir:   p.profileDir,
		Restarts:     p.restarts,
		LastRestart:  p.lastRestart,
		LastError:    lastErr,
	}
}

// Close destroys all tabs and the Chrome process. It is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, t := range idle {
		t.close()
	}
	// Blocks until a startup in progress has given up or finished.
	_ = p.lockStart(context.Background())
	p.shutdownBrowser()
	p.unlockStart()
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// IsSessionInterrupted reports errors after which the tab's state is unknown.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return IsCrash(err)
}

// IsCrash reports errors raised when the target or the browser went away.
func IsCrash(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, chromedp.ErrChannelClosed) ||
		errors.Is(err, chromedp.ErrInvalidTarget) ||
		errors.Is(err, chromedp.ErrInvalidContext) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"target closed", "target crashed", "session closed", "websocket", "inspector.detached", "no target with given id", "browser closed"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
