package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"talkgrab/browser"
	"talkgrab/capture"
	"talkgrab/config"
	"talkgrab/cookies"
	"talkgrab/drm"
	"talkgrab/fetch"
	"talkgrab/internal/orchestrator"
	"talkgrab/internal/store"
	"talkgrab/official"
)

func main() {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zapConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:      "talkgrab",
		Usage:     "download cookie-authenticated conference and stream videos",
		ArgsUsage: "[URL-or-links-file ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "config.toml",
				Usage: "load settings from `FILE`",
			},
			&cli.StringFlag{
				Name:  "output-root",
				Usage: "save downloads under `DIR` (per-domain subdirectories)",
			},
			&cli.StringFlag{
				Name:  "links-file",
				Usage: "read URLs from `FILE`, one per line",
			},
			&cli.StringFlag{
				Name:  "browser",
				Usage: "browser to read cookies from (chrome, brave, edge, chromium, safari)",
			},
			&cli.StringFlag{
				Name:  "browser-profile",
				Usage: "browser profile name, e.g. 'Default' or 'Profile 1'",
			},
			&cli.StringFlag{
				Name:  "cookies-file",
				Usage: "Netscape-format cookie `FILE`, overrides profile lookup",
			},
			&cli.StringFlag{
				Name:  "state-db",
				Usage: "task state database `FILE` (default: <output-root>/.talkgrab.db)",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "maximum tasks processed in parallel",
			},
			&cli.BoolFlag{
				Name:  "retry",
				Usage: "re-queue tasks that failed in earlier runs",
			},
			&cli.BoolFlag{
				Name:  "headful",
				Usage: "show the capture browser window",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("verbose") {
				zapConfig.Level.SetLevel(zapcore.DebugLevel)
			}
			return run(ctx, c)
		},
		HideHelpCommand: true,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Sugar().Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	applyFlags(&cfg, c)
	if err := cfg.Validate(); err != nil {
		return err
	}

	urls, err := gatherURLs(c, cfg)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		zap.S().Info("no valid URLs to download")
		return nil
	}

	if err := os.MkdirAll(cfg.OutputRoot, 0o755); err != nil {
		return fmt.Errorf("creating output root: %w", err)
	}
	statePath := cfg.StateDB
	if statePath == "" {
		statePath = filepath.Join(cfg.OutputRoot, ".talkgrab.db")
	}
	taskStore, err := store.Open(statePath)
	if err != nil {
		return err
	}
	defer taskStore.Close()

	orc, err := buildOrchestrator(cfg, taskStore, c.Bool("retry"), c.Bool("headful"))
	if err != nil {
		return err
	}

	zap.S().Infow("starting downloads",
		"count", len(urls),
		"browser", cfg.Browser,
		"profile", cfg.BrowserProfile,
		"output_root", cfg.OutputRoot,
		"concurrency", cfg.Concurrency,
	)
	summary, err := orc.Run(ctx, urls)
	if err != nil {
		return err
	}

	report(summary, cfg.OutputRoot)
	if runErr := summary.Err(); runErr != nil {
		return fmt.Errorf("%d task(s) failed", len(summary.Failed))
	}
	return nil
}

func applyFlags(cfg *config.Config, c *cli.Context) {
	if v := c.String("output-root"); v != "" {
		cfg.OutputRoot = v
	}
	if v := c.String("links-file"); v != "" {
		cfg.LinksFile = v
	}
	if v := c.String("browser"); v != "" {
		cfg.Browser = v
	}
	if v := c.String("browser-profile"); v != "" {
		cfg.BrowserProfile = v
	}
	if v := c.String("cookies-file"); v != "" {
		cfg.CookiesFile = v
	}
	if v := c.String("state-db"); v != "" {
		cfg.StateDB = v
	}
	if v := c.Int("concurrency"); v > 0 {
		cfg.Concurrency = v
	}
}

// gatherURLs merges positional inputs (URLs and/or link files) with the
// configured links file. Positional inputs take precedence: the links
// file is only consulted when none are given.
func gatherURLs(c *cli.Context, cfg config.Config) ([]string, error) {
	var urls []string
	var err error
	if c.Args().Len() > 0 {
		urls, err = resolveInputs(c.Args().Slice())
	} else {
		urls, err = readLinksFile(cfg.LinksFile)
	}
	if err != nil {
		return nil, err
	}
	return validURLs(urls), nil
}

func buildOrchestrator(cfg config.Config, taskStore *store.Store, retryFailed, headful bool) (*orchestrator.Orchestrator, error) {
	cookieProvider := cookies.NewProvider(cookies.Selector{
		Browser:     cfg.Browser,
		Profile:     cfg.BrowserProfile,
		CookiesFile: cfg.CookiesFile,
	})

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	runner := fetch.NewRunner("yt-dlp", func(percent float64) {
		_ = bar.Set(int(percent))
	})

	chrome := browser.NewChrome(!headful)
	agent := capture.NewAgent(chrome, capture.Config{Timeout: cfg.CaptureTimeout})

	return orchestrator.New(orchestrator.Config{
		Store:            taskStore,
		Cookies:          cookieProvider,
		Direct:           fetch.NewDirect(runner, cookieProvider, cfg.OutputRoot),
		Capture:          agent,
		Classify:         drm.Classify,
		Official:         official.New(chrome, cfg.OutputRoot, official.Config{Timeout: cfg.OfficialTimeout}),
		Concurrency:      cfg.Concurrency,
		UnknownDRMPolicy: cfg.UnknownDRMPolicy,
		RetryFailed:      retryFailed,
	})
}

// report logs the final per-task summary and writes titles.txt for each
// domain where every task succeeded.
func report(summary *orchestrator.Summary, outputRoot string) {
	log := zap.S()
	for _, r := range summary.Succeeded {
		log.Infow("succeeded", "url", r.URL, "file", r.MediaRef)
	}
	for _, r := range summary.Failed {
		log.Warnw("failed", "url", r.URL, "code", r.Code, "reason", r.Reason)
	}
	for _, r := range summary.Skipped {
		log.Infow("skipped", "url", r.URL, "code", r.Code)
	}
	log.Infow("run complete",
		"succeeded", len(summary.Succeeded),
		"failed", len(summary.Failed),
		"skipped", len(summary.Skipped),
	)
	writeTitles(summary, outputRoot)
}

func writeTitles(summary *orchestrator.Summary, outputRoot string) {
	stats := summary.DomainStats()
	byDomain := make(map[string][]string)
	for _, r := range summary.Succeeded {
		domain := domainOf(r.URL)
		name := filepath.Base(r.MediaRef)
		name = name[:len(name)-len(filepath.Ext(name))]
		byDomain[domain] = append(byDomain[domain], name)
	}
	for domain, titles := range byDomain {
		entry := stats[domain]
		if entry[0] == 0 || entry[1] != entry[0] {
			continue
		}
		path := filepath.Join(outputRoot, domain, "titles.txt")
		content := ""
		for _, t := range titles {
			content += t + "\n"
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			zap.S().Warnw("failed to write titles file", "domain", domain, "error", err)
		} else {
			zap.S().Infow("wrote titles file", "path", path, "count", len(titles))
		}
	}
}
