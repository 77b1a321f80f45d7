package visual

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	captureTimeout = 20 * time.Second
	// echarts animates the first paint.
	settleDelay = 1500 * time.Millisecond
)

// chrome remembers whether a browser could be started in this process.
var chrome struct {
	once sync.Once
	err  error
}

func headlessAvailable(ctx context.Context) error {
	chrome.once.Do(func() {
		probe, cancel := chromedp.NewContext(ctx)
		defer cancel()
		chrome.err = chromedp.Run(probe)
	})
	return chrome.err
}

// capturePNG loads an HTML report from disk and screenshots the full page.
func capturePNG(ctx context.Context, htmlPath string, width, height int) ([]byte, error) {
	if err := headlessAvailable(ctx); err != nil {
		return nil, fmt.Errorf("headless chrome unavailable: %w", err)
	}
	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return nil, err
	}
	tab, closeTab := chromedp.NewContext(ctx)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, captureTimeout)
	defer cancel()

	var shot []byte
	err = chromedp.Run(tab,
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate("file://"+filepath.ToSlash(abs)),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		// Quality 100 selects PNG encoding.
		chromedp.FullScreenshot(&shot, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", filepath.Base(abs), err)
	}
	return shot, nil
}
