package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/listing"
)

const defaultActionTimeout = 60 * time.Second

// ChromedpConfig contains configuration for the chromedp performer
type ChromedpConfig struct {
	// BaseURL is the marketplace origin, e.g. https://www.example-market.com
	BaseURL string
	// DefaultTimeout bounds a single action
	DefaultTimeout time.Duration
	// RemoteURL points at a remote Chrome instance; empty launches one
	RemoteURL string
	// Headless mode (default: true)
	Headless bool
	// NoSandbox runs Chrome without sandbox (required for Docker/root)
	NoSandbox bool
	// Logger for debug output
	Logger *zap.Logger
}

// ImageSource resolves stored photo keys to image bytes. The image store
// implements it.
type ImageSource interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// ChromedpPerformer drives the marketplace UI via the Chrome DevTools
// Protocol. One allocator is shared; each action gets a fresh browser context
// so account sessions never bleed into each other.
type ChromedpPerformer struct {
	config      *ChromedpConfig
	logger      *zap.Logger
	images      ImageSource
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// PerformerOption configures a ChromedpPerformer
type PerformerOption func(*ChromedpPerformer)

// WithImageSource lets publish actions attach stored listing photos
func WithImageSource(images ImageSource) PerformerOption {
	return func(p *ChromedpPerformer) {
		p.images = images
	}
}

// NewChromedpPerformer creates a chromedp-backed performer
func NewChromedpPerformer(config *ChromedpConfig, opts ...PerformerOption) (*ChromedpPerformer, error) {
	if config == nil {
		config = &ChromedpConfig{}
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("browser: base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("browser: invalid base URL: %w", err)
	}
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = defaultActionTimeout
	}
	if !config.Headless {
		config.Headless = true
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &ChromedpPerformer{
		config: config,
		logger: logger.Named("browser"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.initAllocator()
	return p, nil
}

func (p *ChromedpPerformer) initAllocator() {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
	)

	if p.config.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}

	if p.config.RemoteURL != "" {
		p.allocCtx, p.allocCancel = chromedp.NewRemoteAllocator(context.Background(), p.config.RemoteURL)
	} else {
		p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
}

// Perform runs one action in a fresh browser context carrying the account's
// session cookies
func (p *ChromedpPerformer) Perform(ctx context.Context, session Session, spec ActionSpec) (*RawResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cookies, err := ParseSessionCookies(session.Cookies)
	if err != nil {
		return nil, err
	}

	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.config.DefaultTimeout)
	defer cancel()

	var stagedPhotos []string
	if p.images != nil && spec.Kind == job.KindPublish && spec.Content != nil && len(spec.Content.ImageKeys) > 0 {
		dir, paths, err := p.stagePhotos(ctx, spec.Content.ImageKeys)
		if err != nil {
			return nil, fmt.Errorf("browser: staging listing photos: %w", err)
		}
		defer os.RemoveAll(dir)
		stagedPhotos = paths
	}

	browserCtx, browserCancel := chromedp.NewContext(p.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			p.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	defer browserCancel()

	// Bind the browser context lifetime to the caller's deadline.
	go func() {
		<-ctx.Done()
		browserCancel()
	}()

	result := &RawResult{}
	tasks := chromedp.Tasks{
		p.setCookiesAction(cookies),
		chromedp.Navigate(p.actionURL(spec)),
	}
	tasks = append(tasks, p.actionSteps(spec, stagedPhotos, result)...)
	tasks = append(tasks, p.collectMarkers(result))

	if err := chromedp.Run(browserCtx, tasks); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("browser: executing %s: %w", spec.Kind, err)
	}

	result.Duration = time.Since(started)

	p.logger.Debug("Action performed",
		zap.String("kind", spec.Kind.String()),
		zap.String("account_id", session.AccountID.String()),
		zap.Bool("completed", result.Completed),
		zap.Bool("clean", result.Markers.Clean()),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// Close releases the shared allocator
func (p *ChromedpPerformer) Close() error {
	if p.allocCancel != nil {
		p.allocCancel()
	}
	return nil
}

func (p *ChromedpPerformer) setCookiesAction(cookies []SessionCookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.Expires != nil {
				epoch := cdp.TimeSinceEpoch(*c.Expires)
				param = param.WithExpires(&epoch)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("browser: setting cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

// actionURL maps an action to its marketplace page
func (p *ChromedpPerformer) actionURL(spec ActionSpec) string {
	base := p.config.BaseURL
	switch spec.Kind {
	case job.KindPublish:
		return base + "/sell/new"
	case job.KindBump:
		return fmt.Sprintf("%s/listings/%s", base, url.PathEscape(spec.RemoteID))
	case job.KindSyncPull, job.KindSyncPush:
		return fmt.Sprintf("%s/listings/%s/edit", base, url.PathEscape(spec.RemoteID))
	case job.KindFollow:
		return fmt.Sprintf("%s/users/%s", base, url.PathEscape(spec.Payload["target_user"]))
	case job.KindMessage:
		return fmt.Sprintf("%s/messages/new?to=%s", base, url.QueryEscape(spec.Payload["recipient"]))
	default:
		return base
	}
}

// actionSteps returns the per-kind UI interaction
func (p *ChromedpPerformer) actionSteps(spec ActionSpec, stagedPhotos []string, result *RawResult) []chromedp.Action {
	switch spec.Kind {
	case job.KindPublish, job.KindSyncPush:
		return p.listingFormSteps(spec, stagedPhotos, result)
	case job.KindBump:
		return []chromedp.Action{
			chromedp.Click(`button[data-action="bump"]`, chromedp.ByQuery),
			p.waitSettled(),
			p.readCompleted(result, `document.querySelector('.bump-confirmation') !== null`),
		}
	case job.KindFollow:
		return []chromedp.Action{
			chromedp.Click(`button[data-action="follow"]`, chromedp.ByQuery),
			p.waitSettled(),
			p.readCompleted(result, `document.querySelector('button[data-action="unfollow"]') !== null`),
		}
	case job.KindMessage:
		return []chromedp.Action{
			chromedp.SendKeys(`textarea[name="message"]`, spec.Payload["text"], chromedp.ByQuery),
			chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
			p.waitSettled(),
			p.readCompleted(result, `document.querySelector('.message-sent') !== null`),
		}
	case job.KindSyncPull:
		return []chromedp.Action{
			p.waitSettled(),
			p.readSnapshot(spec, result),
		}
	default:
		return nil
	}
}

// listingFormSteps fills and submits the listing form, then reads back the
// remote id and version the platform assigned
func (p *ChromedpPerformer) listingFormSteps(spec ActionSpec, stagedPhotos []string, result *RawResult) []chromedp.Action {
	content := spec.Content
	steps := []chromedp.Action{
		clearAndType(`input[name="title"]`, content.Title),
		clearAndType(`textarea[name="description"]`, content.Description),
		clearAndType(`input[name="price"]`, content.Price.StringFixed(2)),
	}
	if len(stagedPhotos) > 0 {
		steps = append(steps, chromedp.SetUploadFiles(`input[type="file"]`, stagedPhotos, chromedp.ByQuery))
	}
	steps = append(steps,
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		p.waitSettled(),
	)

	steps = append(steps, chromedp.ActionFunc(func(ctx context.Context) error {
		var remoteID, version string
		if err := chromedp.Evaluate(
			`(document.querySelector('[data-listing-id]')?.getAttribute('data-listing-id')) || ''`,
			&remoteID,
		).Do(ctx); err != nil {
			return err
		}
		if err := chromedp.Evaluate(
			`(document.querySelector('[data-listing-version]')?.getAttribute('data-listing-version')) || ''`,
			&version,
		).Do(ctx); err != nil {
			return err
		}

		result.RemoteID = remoteID
		if v, err := strconv.ParseInt(version, 10, 64); err == nil {
			result.RemoteVersion = v
		}
		result.Completed = remoteID != ""
		return nil
	}))
	return steps
}

// readSnapshot scrapes the remote listing state from the edit page
func (p *ChromedpPerformer) readSnapshot(spec ActionSpec, result *RawResult) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var title, description, price, version string
		reads := []struct {
			expr string
			dst  *string
		}{
			{`document.querySelector('input[name="title"]')?.value || ''`, &title},
			{`document.querySelector('textarea[name="description"]')?.value || ''`, &description},
			{`document.querySelector('input[name="price"]')?.value || ''`, &price},
			{`(document.querySelector('[data-listing-version]')?.getAttribute('data-listing-version')) || ''`, &version},
		}
		for _, r := range reads {
			if err := chromedp.Evaluate(r.expr, r.dst).Do(ctx); err != nil {
				return err
			}
		}

		if title == "" && version == "" {
			// Nothing scraped; markers will say why.
			return nil
		}

		snap := &listing.RemoteSnapshot{
			RemoteID:  spec.RemoteID,
			UpdatedAt: time.Now(),
			Content: listing.Content{
				Title:       title,
				Description: description,
			},
		}
		if v, err := strconv.ParseInt(version, 10, 64); err == nil {
			snap.Version = v
		}
		if parsed, err := decimal.NewFromString(price); err == nil {
			snap.Content.Price = parsed
		}

		result.Snapshot = snap
		result.Completed = true
		return nil
	})
}

// readCompleted evaluates a page predicate and records whether the action
// visibly completed
func (p *ChromedpPerformer) readCompleted(result *RawResult, expr string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return chromedp.Evaluate(expr, &result.Completed).Do(ctx)
	})
}

// collectMarkers records the anti-abuse signals present on the final page
func (p *ChromedpPerformer) collectMarkers(result *RawResult) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		checks := []struct {
			expr string
			dst  *bool
		}{
			{`document.querySelector('.g-recaptcha, [data-captcha], iframe[src*="captcha"]') !== null`, &result.Markers.Captcha},
			{`document.querySelector('.blocked-page, [data-blocked]') !== null`, &result.Markers.BlockPage},
			{`document.querySelector('.rate-limit-banner, [data-rate-limited]') !== null`, &result.Markers.RateLimitBanner},
			{`document.querySelector('form[action*="login"], input[name="password"]') !== null`, &result.Markers.LoginRequired},
			{`document.querySelector('.account-disabled, [data-account-banned]') !== null`, &result.Markers.AccountDisabled},
			{`document.querySelector('.not-found, [data-404]') !== null`, &result.Markers.NotFound},
		}
		for _, c := range checks {
			if err := chromedp.Evaluate(c.expr, c.dst).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// stagePhotos downloads stored photos into a temp dir so the file input can
// pick them up. The caller removes the dir after the action.
func (p *ChromedpPerformer) stagePhotos(ctx context.Context, keys []string) (string, []string, error) {
	dir, err := os.MkdirTemp("", "listing-photos-")
	if err != nil {
		return "", nil, err
	}
	paths := make([]string, 0, len(keys))
	for _, key := range keys {
		data, err := p.images.Fetch(ctx, key)
		if err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("fetching %s: %w", key, err)
		}
		name := filepath.Join(dir, filepath.Base(key))
		if err := os.WriteFile(name, data, 0o600); err != nil {
			os.RemoveAll(dir)
			return "", nil, err
		}
		paths = append(paths, name)
	}
	return dir, paths, nil
}

// waitSettled waits for the page to finish reacting to a submit
func (p *ChromedpPerformer) waitSettled() chromedp.Action {
	return chromedp.Sleep(500 * time.Millisecond)
}

func clearAndType(selector, value string) chromedp.Action {
	return chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	}
}

var _ Performer = (*ChromedpPerformer)(nil)
