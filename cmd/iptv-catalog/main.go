// Command iptv-catalog builds a merged IPTV catalog from configured upstreams
// and serves it to IPTV clients.
//
//	build            Fetch every source, filter, merge and save the catalog
//	import-feed      Append the public channel feed to the saved catalog
//	import-registry  Append the manual asset registry to the saved catalog
//	serve            Load the catalog (building it if missing) and serve it; SIGHUP reloads
//	check            Probe a running server (and optionally the upstreams)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/config"
	"github.com/plextuner/iptv-catalog/internal/health"
	"github.com/plextuner/iptv-catalog/internal/httpclient"
	"github.com/plextuner/iptv-catalog/internal/ledger"
	"github.com/plextuner/iptv-catalog/internal/logging"
	"github.com/plextuner/iptv-catalog/internal/logo"
	"github.com/plextuner/iptv-catalog/internal/metrics"
	"github.com/plextuner/iptv-catalog/internal/pipeline"
	"github.com/plextuner/iptv-catalog/internal/safeurl"
	"github.com/plextuner/iptv-catalog/internal/server"
)

func main() {
	_ = config.LoadEnvFile(".env")

	buildCmd := flag.NewFlagSet("build", flag.ExitOnError)
	buildCatalog := buildCmd.String("catalog", "", "Catalog JSON path (default: json_save_path or IPTV_CATALOG_CATALOG)")

	feedCmd := flag.NewFlagSet("import-feed", flag.ExitOnError)
	feedCatalog := feedCmd.String("catalog", "", "Catalog JSON path to append to")

	registryCmd := flag.NewFlagSet("import-registry", flag.ExitOnError)
	registryCatalog := registryCmd.String("catalog", "", "Catalog JSON path to append to")
	registryFile := registryCmd.String("file", "", "Registry file (default: s3_uploads.csv_file)")

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveCatalog := serveCmd.String("catalog", "", "Catalog JSON path")
	serveAddr := serveCmd.String("addr", "", "Listen address (default: port of base_url, else :8080)")

	checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
	checkBaseURL := checkCmd.String("base-url", "", "Server to probe (default: base_url)")
	checkUpstream := checkCmd.Bool("upstream", false, "Also probe configured panel hosts and playlist URLs")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <build|import-feed|import-registry|serve|check> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  build            Fetch all sources and save a fresh catalog\n")
		fmt.Fprintf(os.Stderr, "  import-feed      Append the public channel feed to the catalog\n")
		fmt.Fprintf(os.Stderr, "  import-registry  Append the manual asset registry to the catalog\n")
		fmt.Fprintf(os.Stderr, "  serve            Serve the catalog (builds it first if missing)\n")
		fmt.Fprintf(os.Stderr, "  check            Probe a running server\n")
		fmt.Fprintf(os.Stderr, "Config file: IPTV_CATALOG_CONFIG (default config.json)\n")
		os.Exit(1)
	}

	cfgPath := os.Getenv("IPTV_CATALOG_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New("iptv-catalog", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "build":
		_ = buildCmd.Parse(os.Args[2:])
		setIfNotEmpty(&cfg.CatalogPath, *buildCatalog)
		p, done := mustPipeline(cfg, log)
		defer done()
		if _, err := p.Build(ctx); err != nil {
			log.WithError(err).Fatal("build failed")
		}

	case "import-feed":
		_ = feedCmd.Parse(os.Args[2:])
		setIfNotEmpty(&cfg.CatalogPath, *feedCatalog)
		p, done := mustPipeline(cfg, log)
		defer done()
		if _, _, err := p.ImportFeed(ctx); err != nil {
			log.WithError(err).Fatal("feed import failed")
		}

	case "import-registry":
		_ = registryCmd.Parse(os.Args[2:])
		setIfNotEmpty(&cfg.CatalogPath, *registryCatalog)
		setIfNotEmpty(&cfg.Registry.File, *registryFile)
		p, done := mustPipeline(cfg, log)
		defer done()
		if _, _, err := p.ImportRegistry(ctx); err != nil {
			log.WithError(err).Fatal("registry import failed")
		}

	case "serve":
		_ = serveCmd.Parse(os.Args[2:])
		setIfNotEmpty(&cfg.CatalogPath, *serveCatalog)
		setIfNotEmpty(&cfg.Addr, *serveAddr)
		if err := cfg.RequireCredentials(); err != nil {
			log.WithError(err).Fatal("refusing to serve")
		}
		c, err := catalog.Load(cfg.CatalogPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.WithField("path", cfg.CatalogPath).Info("no saved catalog; building")
			p, done := mustPipeline(cfg, log)
			c, err = p.Build(ctx)
			done()
			if err != nil {
				log.WithError(err).Fatal("build failed")
			}
		case err != nil:
			metrics.RecordCatalogLoad(false)
			log.WithError(err).Fatal("catalog unusable")
		}
		metrics.RecordCatalogLoad(true)
		srv := server.New(cfg, c, log)
		go reloadOnHangup(ctx, srv, cfg.CatalogPath, log)
		if err := srv.Run(ctx, cfg.Addr, cfg.MaxConns); err != nil {
			log.WithError(err).Fatal("server")
		}

	case "check":
		_ = checkCmd.Parse(os.Args[2:])
		base := cfg.BaseURL
		setIfNotEmpty(&base, *checkBaseURL)
		if err := cfg.RequireCredentials(); err != nil {
			log.WithError(err).Fatal("check needs a credential")
		}
		cred := cfg.Credentials[0]
		if err := health.CheckServer(ctx, base, cred.Username, cred.Password); err != nil {
			log.WithError(err).Fatal("server check failed")
		}
		log.WithField("base_url", base).Info("server OK")
		if *checkUpstream {
			if failed := checkUpstreams(ctx, cfg, log); failed > 0 {
				log.WithField("failed", failed).Fatal("upstream check failed")
			}
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// mustPipeline wires the pipeline for cfg. done releases the ledger.
func mustPipeline(cfg *config.Config, log *logrus.Entry) (*pipeline.Pipeline, func()) {
	p := &pipeline.Pipeline{
		Config: cfg,
		Client: httpclient.WithTimeout(cfg.FetchTimeout),
		Log:    log,
	}
	logos, err := logo.New(cfg.LogoDir, httpclient.WithTimeout(cfg.LogoTimeout), log.WithField("component", "logo"))
	if err != nil {
		log.WithError(err).Warn("logos disabled")
	} else {
		p.Logos = logos
	}
	done := func() {}
	if cfg.LedgerPath != "" {
		l, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			log.WithError(err).Fatal("ledger")
		}
		p.Ledger = l
		done = func() { l.Close() }
	}
	return p, done
}

// reloadOnHangup swaps in the saved catalog on SIGHUP. A catalog that fails
// to load or validate is logged and the current one keeps serving.
func reloadOnHangup(ctx context.Context, srv *server.Server, path string, log logrus.FieldLogger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			reload(srv, path, log)
		}
	}
}

func reload(srv *server.Server, path string, log logrus.FieldLogger) bool {
	c, err := catalog.Load(path)
	metrics.RecordCatalogLoad(err == nil)
	if err != nil {
		log.WithError(err).Error("catalog reload failed; keeping current catalog")
		return false
	}
	srv.Swap(c)
	log.WithFields(logrus.Fields{"live": len(c.LiveStreams), "movies": len(c.MovieStreams)}).Info("catalog reloaded")
	return true
}

func checkUpstreams(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) int {
	var urls []string
	for _, ep := range cfg.Endpoints {
		urls = append(urls, ep.Host)
	}
	for _, pl := range cfg.Playlists {
		if safeurl.Fetchable(pl.URL) {
			urls = append(urls, pl.URL)
		}
	}
	failed := 0
	for _, u := range urls {
		entry := log.WithField("upstream", httpclient.Redact(u))
		if err := health.CheckUpstream(ctx, u); err != nil {
			entry.WithError(err).Warn("upstream check failed")
			failed++
			continue
		}
		entry.Info("upstream OK")
	}
	return failed
}
