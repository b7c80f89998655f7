// Package browser owns the headless-Chrome allocator pool shared by the
// vision and DOM extraction stages.
package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Pool hands out exec-allocator contexts so stages reuse browser processes
// instead of launching one per navigation.
type Pool struct {
	allocators sync.Pool
	timeout    time.Duration
	userAgent  string
}

// NewPool builds the allocator pool. navigateTimeout bounds every
// navigation run issued through the pool.
func NewPool(maxConcurrency int, navigateTimeout time.Duration, userAgent string) *Pool {
	p := &Pool{timeout: navigateTimeout, userAgent: userAgent}
	p.allocators.New = func() interface{} {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(userAgent),
		)
		allocCtx, _ := chromedp.NewExecAllocator(context.Background(), opts...)
		return allocCtx
	}

	// Pre-warm the pool
	for i := 0; i < maxConcurrency; i++ {
		allocCtx := p.allocators.Get().(context.Context)
		p.allocators.Put(allocCtx)
	}
	return p
}

// Page is the rendered state the extraction stages need.
type Page struct {
	HTML       string
	HTTPStatus int
	Title      string
	FinalURL   string
}

// currencyCookieActions pins the marketplace currency before navigation so
// rendered prices match the domain default.
func currencyCookieActions(domain, currency string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if currency == "" {
			return nil
		}
		return network.SetCookie("i18n-prefs", currency).
			WithDomain("." + domain).
			WithPath("/").
			WithSecure(true).
			Do(ctx)
	})
}

// statusCapture records the HTTP status of the first main-document
// response seen during a navigation. Challenge pages often answer 429/503
// for the document itself while subresources still load fine, so only
// document responses count.
type statusCapture struct {
	status atomic.Int64
}

func (s *statusCapture) listen(ev interface{}) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument {
		return
	}
	s.status.CompareAndSwap(0, resp.Response.Status)
}

func (s *statusCapture) Status() int {
	return int(s.status.Load())
}

// run executes actions in a fresh browser context drawn from the pool,
// bounded by the pool timeout. It reports the main-document HTTP status,
// or 0 when no document response was observed.
func (p *Pool) run(ctx context.Context, actions ...chromedp.Action) (int, error) {
	allocCtx := p.allocators.Get().(context.Context)
	defer p.allocators.Put(allocCtx)

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, p.timeout)
	defer cancelTimeout()

	// Honor the caller's deadline when it is tighter.
	if deadline, ok := ctx.Deadline(); ok {
		var cancelOuter context.CancelFunc
		taskCtx, cancelOuter = context.WithDeadline(taskCtx, deadline)
		defer cancelOuter()
	}

	var capture statusCapture
	chromedp.ListenTarget(taskCtx, capture.listen)

	withNetwork := append([]chromedp.Action{network.Enable()}, actions...)
	err := chromedp.Run(taskCtx, withNetwork...)
	return capture.Status(), err
}

// Render navigates to url, waits readyWait for either a product-title or
// price-ready DOM signal, and returns the rendered document with the
// main-document HTTP status. extra actions run after the document is
// captured, inside the same navigation.
func (p *Pool) Render(ctx context.Context, url, domain, currency string, readyWait time.Duration, extra ...chromedp.Action) (Page, error) {
	var page Page
	actions := []chromedp.Action{
		currencyCookieActions(domain, currency),
		chromedp.Navigate(url),
		waitForAny(readyWait, "#productTitle", ".a-price .a-offscreen"),
		chromedp.Title(&page.Title),
		chromedp.Location(&page.FinalURL),
		chromedp.OuterHTML("html", &page.HTML),
	}
	actions = append(actions, extra...)
	status, err := p.run(ctx, actions...)
	if err != nil {
		return Page{}, fmt.Errorf("render %s: %w", url, err)
	}
	page.HTTPStatus = status
	return page, nil
}

// Screenshot navigates and captures a full-page screenshot for the vision
// stage.
func (p *Pool) Screenshot(ctx context.Context, url, domain, currency string, settle time.Duration) (Page, []byte, error) {
	var page Page
	var shot []byte
	status, err := p.run(ctx,
		currencyCookieActions(domain, currency),
		chromedp.Navigate(url),
		chromedp.Sleep(settle),
		chromedp.Title(&page.Title),
		chromedp.Location(&page.FinalURL),
		chromedp.FullScreenshot(&shot, 90),
	)
	if err != nil {
		return Page{}, nil, fmt.Errorf("screenshot %s: %w", url, err)
	}
	page.HTTPStatus = status
	return page, shot, nil
}

// waitForAny polls for the first selector to appear, giving up quietly after
// the bounded wait. Some challenge pages never produce either signal; the
// caller still wants the document for blocked classification.
func waitForAny(wait time.Duration, selectors ...string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.Now().Add(wait)
		for time.Now().Before(deadline) {
			for _, sel := range selectors {
				var found bool
				script := fmt.Sprintf("document.querySelector(%q) !== null", sel)
				if err := chromedp.Evaluate(script, &found).Do(ctx); err == nil && found {
					return nil
				}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
			}
		}
		return nil
	})
}
