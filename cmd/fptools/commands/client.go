package commands

import (
	"context"
	"log/slog"
	"os"

	"fptools-backend/lib/configutil"
	"fptools-backend/lib/kvstore"
	"fptools-backend/lib/logbuf"
	"fptools-backend/lib/pacing"
	"fptools-backend/lib/scrapers/funpay/chat"
	"fptools-backend/lib/scrapers/funpay/core"
	"fptools-backend/lib/scrapers/funpay/lots"
	"fptools-backend/lib/scrapers/funpay/orders"
	"fptools-backend/lib/scrapers/funpay/raise"
	"fptools-backend/services/agent"
)

type Config struct {
	GoldenKey string `json:"goldenKey"`
	BaseUrl   string `json:"baseUrl"`
	DataDir   string `json:"dataDir"`
}

func fatal(message string, err error) {
	slog.Error(message, "err", err.Error())
	os.Exit(1)
}

// toolkit bundles everything a subcommand may need, built once off
// the config file.
type toolkit struct {
	Config   Config
	Core     *core.Client
	Store    *kvstore.Store
	Chat     chat.Client
	Lots     lots.Client
	Orders   orders.Client
	Raise    raise.Client
	Settings *agent.StoreSettings
	Log      *logbuf.Buffer
}

func createToolkit(ctx context.Context) toolkit {
	cfg, err := configutil.ReadConfig[Config](configPath)
	if err != nil {
		fatal("failed to read config", err)
	}
	if cfg.GoldenKey == "" {
		fatal("config is missing the session key", os.ErrInvalid)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = ".fptools"
	}

	coreClient, err := core.NewClient(ctx, core.ClientOptions{
		BaseUrl:   cfg.BaseUrl,
		GoldenKey: cfg.GoldenKey,
	})
	if err != nil {
		fatal("failed to initialize client", err)
	}
	slog.Debug("session configured", "key", logbuf.Mask(cfg.GoldenKey))

	store, err := kvstore.Open(cfg.DataDir)
	if err != nil {
		fatal("failed to open data dir", err)
	}

	return toolkit{
		Config:   cfg,
		Core:     coreClient,
		Store:    store,
		Chat:     chat.NewClient(coreClient),
		Lots:     lots.NewClient(coreClient, lots.NewInactiveCache(store)),
		Orders:   orders.NewClient(coreClient),
		Raise:    raise.NewClient(coreClient, store, pacing.Default()),
		Settings: agent.NewStoreSettings(store),
		Log:      logbuf.New(0),
	}
}

func (t toolkit) Close() {
	if err := t.Store.Close(); err != nil {
		slog.Warn("failed to close data dir", "err", err)
	}
}
