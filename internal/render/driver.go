package render

import (
	"context"
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// viewport describes the emulated device for one render, in CSS pixels.
type viewport struct {
	Width       int
	Height      int
	Scale       float64
	Transparent bool
}

// driver is the browser surface the engine needs. Every call runs against
// the chromedp target carried by ctx.
type driver interface {
	SetViewport(ctx context.Context, vp viewport) error
	Load(ctx context.Context, doc string, settle time.Duration) error
	ContentHeight(ctx context.Context) (int, error)
	Capture(ctx context.Context, width, height int) ([]byte, error)
}

type cdpDriver struct{}

func (cdpDriver) SetViewport(ctx context.Context, vp viewport) error {
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), vp.Scale, false),
	}
	if vp.Transparent {
		actions = append(actions, emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{}))
	}
	return chromedp.Run(ctx, actions...)
}

// Load replaces the tab's document and waits until it has finished loading,
// web fonts included.
func (cdpDriver) Load(ctx context.Context, doc string, settle time.Duration) error {
	var ready, fonts bool
	return chromedp.Run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, doc).Do(ctx)
		}),
		chromedp.Poll(`document.readyState === "complete"`, &ready, chromedp.WithPollingInterval(25*time.Millisecond)),
		chromedp.Evaluate(`document.fonts ? document.fonts.ready.then(() => true) : true`, &fonts,
			func(p *runtime.EvaluateParams) *runtime.EvaluateParams { return p.WithAwaitPromise(true) }),
		chromedp.Sleep(settle),
	)
}

// ContentHeight returns the document's rendered height in CSS pixels.
func (cdpDriver) ContentHeight(ctx context.Context) (int, error) {
	var height int
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, cssContentSize, err := page.GetLayoutMetrics().Do(ctx)
		if err != nil {
			return err
		}
		if cssContentSize != nil {
			height = int(math.Ceil(cssContentSize.Height))
		}
		return nil
	}))
	return height, err
}

// Capture screenshots exactly the width x height area at the page origin.
// Output pixels are scaled by the emulated device scale factor.
func (cdpDriver) Capture(ctx context.Context, width, height int) ([]byte, error) {
	var buf []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{X: 0, Y: 0, Width: float64(width), Height: float64(height), Scale: 1}).
			WithCaptureBeyondViewport(true).
			WithFromSurface(true).
			Do(ctx)
		return err
	}))
	return buf, err
}
