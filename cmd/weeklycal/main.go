package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"weeklycal/internal/capture"
	"weeklycal/internal/config"
	"weeklycal/internal/document"
	"weeklycal/internal/ics"
	appLog "weeklycal/internal/log"
	"weeklycal/internal/refresh"
	"weeklycal/internal/render"
	"weeklycal/internal/source"
	"weeklycal/internal/web"
	"weeklycal/internal/websocket"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	input      string
	lang       string
	tz         string
	format     string
	logLevel   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	applyFlags(conf, flags)
	appLog.Setup(conf.LogLevel)

	appLog.Info("weeklycal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"language", conf.Language,
		"week_start", conf.WeekStart,
		"source", conf.Source.String(),
		"refresh", conf.RefreshCron,
		"stale_after", conf.StaleAfter().String(),
		"capture", conf.Capture.Enabled,
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flags.once {
		if err := runOnce(ctx, conf, flags, os.Stdout); err != nil {
			appLog.Error("render failed", err)
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, conf); err != nil {
		appLog.Error("server failed", err)
		os.Exit(1)
	}
	appLog.Info("weeklycal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/weeklycal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Render the schedule once to stdout and exit")
	flag.StringVar(&cfg.input, "input", "", "Source document file for -once, '-' for stdin (default: configured source)")
	flag.StringVar(&cfg.lang, "lang", "", "Language (overrides config if set)")
	flag.StringVar(&cfg.tz, "tz", "", "Display time zone (overrides config if set)")
	flag.StringVar(&cfg.format, "format", "json", "Output format for -once: json or ics")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")

	flag.Parse()
	return cfg
}

// applyFlags lets non-empty CLI values override the config file.
func applyFlags(conf *config.Config, flags flagConfig) {
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.lang != "" {
		conf.Language = flags.lang
	}
	if flags.tz != "" {
		conf.Timezone = flags.tz
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
}

// runOnce is the batch context: one document in, one serialized schedule
// out.
func runOnce(ctx context.Context, conf *config.Config, flags flagConfig, out io.Writer) error {
	raw, err := readInput(ctx, conf, flags.input)
	if err != nil {
		return err
	}
	settings := render.Settings{Language: conf.Language, TimeZone: conf.Timezone}
	now := time.Now()

	var body []byte
	switch flags.format {
	case "", "json":
		body, err = render.Render(raw, settings, now)
	case "ics":
		body, err = renderICS(raw, settings, now)
	default:
		return fmt.Errorf("unknown format %q", flags.format)
	}
	if err != nil {
		return err
	}
	_, err = out.Write(body)
	return err
}

func readInput(ctx context.Context, conf *config.Config, input string) ([]byte, error) {
	switch input {
	case "-":
		return io.ReadAll(os.Stdin)
	case "":
		res, err := source.NewFetcher(conf.CacheDir).Fetch(ctx, conf.Source)
		if err != nil {
			return nil, err
		}
		return res.Body, nil
	default:
		res, err := source.NewFetcher(conf.CacheDir).Fetch(ctx, source.Source{Path: input})
		if err != nil {
			return nil, err
		}
		return res.Body, nil
	}
}

func renderICS(raw []byte, settings render.Settings, now time.Time) ([]byte, error) {
	doc, err := document.Parse(raw)
	if err != nil {
		return nil, err
	}
	settings = settings.Normalize()
	table := render.Schedule(doc, settings, now)
	meta := render.LocalizedMeta(doc.Meta, settings.Language)
	return ics.Export(table, ics.Options{
		Name:        meta.Title,
		Description: meta.Desc,
		TimeZone:    settings.TimeZone,
		Now:         now,
	})
}

// serve is the interactive context: keep the source fresh, push refresh
// notifications to displays and serve HTTP until ctx is done.
func serve(ctx context.Context, conf *config.Config) error {
	refresher := refresh.New(source.NewFetcher(conf.CacheDir), conf.Source, conf.StaleAfter())
	hub := websocket.NewHub()

	var captureCh chan struct{}
	if conf.Capture.Enabled {
		captureCh = make(chan struct{}, 1)
		go runCapturePipeline(ctx, conf, captureCh)
	}

	refresher.Subscribe(func(snap *refresh.Snapshot) {
		hub.Broadcast(websocket.Refreshed(len(snap.Document.Events), snap.FetchedAt))
		if captureCh != nil {
			select {
			case captureCh <- struct{}{}:
			default:
			}
		}
	})

	if _, err := refresher.Refresh(ctx, true); err != nil {
		appLog.Warn("initial refresh failed; serving once a refresh succeeds", "err", err)
	}
	if err := refresher.Start(ctx, conf.RefreshCron); err != nil {
		return err
	}

	err := web.NewServer(conf, refresher, hub).ListenAndServe(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// runCapturePipeline screenshots /calendar after each refresh. Triggers that
// arrive while a capture runs are coalesced into one.
func runCapturePipeline(ctx context.Context, conf *config.Config, trigger <-chan struct{}) {
	base := localURL(conf)
	if err := waitHealthy(ctx, base, 10*time.Second); err != nil {
		appLog.Warn("capture: server not reachable", "err", err)
	}

	opts := capture.Options{
		URL:    base + "/calendar",
		Output: conf.Capture.Output,
		Width:  conf.Capture.Width,
		Height: conf.Capture.Height,
	}
	if conf.BasicAuth != nil && conf.BasicAuth.Username != "" {
		u, err := url.Parse(opts.URL)
		if err == nil {
			u.User = url.UserPassword(conf.BasicAuth.Username, conf.BasicAuth.Password)
			opts.URL = u.String()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			if err := capture.CapturePNG(ctx, opts); err != nil {
				appLog.Error("capture failed", err, "output", opts.Output)
			}
		}
	}
}

// localURL is the base URL the capture browser uses to reach this process.
func localURL(conf *config.Config) string {
	host, port, err := net.SplitHostPort(conf.Listen)
	if err != nil {
		return "http://" + conf.Listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func waitHealthy(ctx context.Context, base string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
		if err != nil {
			return err
		}
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
