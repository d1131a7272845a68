package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openclob/tokenex/params"
	"github.com/openclob/tokenex/pkg/api"
	"github.com/openclob/tokenex/pkg/exchange"
	"github.com/openclob/tokenex/pkg/feed"
	"github.com/openclob/tokenex/pkg/ledger"
	"github.com/openclob/tokenex/pkg/storage"
	"github.com/openclob/tokenex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = filepath.Join(cfg.DataDir, "exchanged.log")
	}

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	if !common.IsHexAddress(cfg.Market.Operator) {
		sugar.Fatalw("invalid_operator_address", "operator", cfg.Market.Operator)
	}
	operator := common.HexToAddress(cfg.Market.Operator)

	// ---- Asset ledgers ----
	base := ledger.NewToken("Base Token", cfg.Market.BaseAsset)
	quote := ledger.NewToken("Quote Token", cfg.Market.QuoteAsset)
	ledgers := map[string]*ledger.Token{
		cfg.Market.BaseAsset:  base,
		cfg.Market.QuoteAsset: quote,
	}

	// ---- Exchange ----
	exch := exchange.NewExchange(sugar)
	pair := exchange.Pair{
		Symbol:     cfg.Market.Symbol,
		BaseAsset:  cfg.Market.BaseAsset,
		QuoteAsset: cfg.Market.QuoteAsset,
	}
	eng, err := exch.Register(pair, base, quote, operator)
	if err != nil {
		sugar.Fatalw("pair_register_failed", "symbol", pair.Symbol, "err", err)
	}

	// ---- Trade history (pebble) ----
	trades, err := storage.NewTradeStore(filepath.Join(cfg.DataDir, "trades"))
	if err != nil {
		sugar.Fatalw("trade_store_failed", "err", err)
	}
	defer trades.Close()

	// ---- Trade feed (kafka, optional) ----
	var publisher *feed.Publisher
	if cfg.Feed.Enabled {
		publisher = feed.NewPublisher(cfg.Feed.Brokers, cfg.Feed.Topic, sugar)
		defer publisher.Close()
		sugar.Infow("trade_feed_enabled", "brokers", cfg.Feed.Brokers, "topic", cfg.Feed.Topic)
	}

	// ---- API Server ----
	apiServer := api.NewServer(exch, ledgers, trades, cfg.API.CORSOrigins, sugar)

	// Every committed trade fans out to history, the feed and websocket
	// subscribers. Runs under the engine lock; none of these call back in.
	eng.OnTrade = func(t exchange.Trade) {
		if err := trades.SaveTrade(t); err != nil {
			sugar.Errorw("trade_save_failed", "trade", t.ID, "err", err)
		}
		if publisher != nil {
			publisher.PublishTrade(t)
		}
		apiServer.BroadcastTrade(t)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("exchanged_started",
		"pair", pair.Symbol,
		"base", pair.BaseAsset,
		"quote", pair.QuoteAsset,
		"operator", operator.Hex(),
		"api_addr", cfg.API.Addr)

	<-ctx.Done()
	sugar.Info("shutting down")
}
