// Package capture screenshots the HTML weekly view with headless Chromium.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	appLog "weeklycal/internal/log"
)

// Default capture parameters. They match the layout of the /calendar page.
const (
	DefaultWidth   = 1200
	DefaultHeight  = 825
	DefaultTimeout = 30 * time.Second
)

// readySelector is present once /calendar has finished rendering.
const readySelector = `[data-ready="true"]`

var (
	ErrNoURL    = errors.New("capture: URL is required")
	ErrNoOutput = errors.New("capture: output path is required")
)

type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/calendar".
	URL string

	// Output is where the PNG is written. It is replaced atomically.
	Output string

	// Width and Height are the viewport in pixels; zero means the default.
	Width  int
	Height int

	// Timeout bounds the whole capture; zero means DefaultTimeout.
	Timeout time.Duration
}

func (o Options) normalize() (Options, error) {
	if o.URL == "" {
		return o, ErrNoURL
	}
	if o.Output == "" {
		return o, ErrNoOutput
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o, nil
}

// CapturePNG navigates a headless Chromium to opts.URL, waits for the page
// to mark itself ready and writes a full-page PNG to opts.Output.
func CapturePNG(parent context.Context, opts Options) error {
	opts, err := opts.normalize()
	if err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	start := time.Now()
	var png []byte
	err = chromedp.Run(ctx, chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		// Let web fonts finish painting.
		chromedp.Sleep(300 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	})
	if err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := writeFile(opts.Output, png); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Info("capture written", "output", opts.Output, "bytes", len(png), "elapsed", time.Since(start).String())
	return nil
}

// writeFile replaces path with data via a temp file in the same directory.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".capture-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
