// Command ccnd runs a single Core Channel Node: chain indexers, the
// pending-tx/pending-message processors, the five message-type handlers,
// P2P inbound/outbound, HTTP inbound, the Balance Reconciler, and CAS GC,
// all sharing one relational store and one CAS backend set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"alephccn/balance"
	"alephccn/chain"
	"alephccn/config"
	"alephccn/handlers"
	"alephccn/ingress"
	"alephccn/observability/logging"
	telemetry "alephccn/observability/otel"
	"alephccn/p2p"
	"alephccn/pending"
	"alephccn/storage/cas"
	"alephccn/storage/rs"
	"alephccn/types"
)

// ptpPollInterval is how often PTP drains pending_tx into pending_message.
// There is no per-deployment tuning need for this one, unlike the chain
// indexers' per-chain poll interval, so it is a constant rather than a
// config field.
const (
	ptpPollInterval  = 2 * time.Second
	poolPollInterval = 500 * time.Millisecond
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to ccnd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("ccnd: load config: %v", err)
	}

	logger := logging.Setup(cfg.Logging.Service, cfg.Logging.Env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Logging.Service,
		Environment: cfg.Logging.Env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("ccnd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	store, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("ccnd: open store: %v", err)
	}
	defer store.Close()

	localCAS, err := cas.NewLocal(cfg.CAS.LocalRoot)
	if err != nil {
		log.Fatalf("ccnd: open local CAS: %v", err)
	}
	var ipfsCAS cas.Backend
	if cfg.CAS.IPFSAPI != "" {
		ipfsCAS = cas.NewIPFS(cfg.CAS.IPFSAPI, 30*time.Second)
	}
	backends := cas.Backends{Local: localCAS, IPFS: ipfsCAS}

	registry := handlers.NewRegistry(cfg.Pending.AggregateTiebreak, cfg.Pending.StoreGraceTemp.Duration,
		cfg.Pending.StoreGraceNormal.Duration, backends)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	indexers, err := buildIndexers(logger, store, cfg.Chains)
	if err != nil {
		log.Fatalf("ccnd: build chain indexers: %v", err)
	}
	for _, idx := range indexers {
		idx := idx
		go func() {
			if err := idx.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("ccnd: chain indexer exited", "error", err)
				stop()
			}
		}()
	}

	ptp := pending.NewPTP(logger, store, localCAS, cfg.Pending.MaxRetries, cfg.Pending.FetchTimeout.Duration)
	go func() {
		ticker := time.NewTicker(ptpPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if _, err := ptp.Tick(rootCtx, cfg.Pending.BatchSize); err != nil {
					logger.Error("ccnd: ptp tick failed", "error", err)
				}
			}
		}
	}()

	var publisher pending.Publisher
	var wsClient *p2p.WS
	if cfg.P2P.Endpoint != "" {
		wsClient, err = p2p.Dial(rootCtx, cfg.P2P.Endpoint)
		if err != nil {
			log.Fatalf("ccnd: dial p2p endpoint: %v", err)
		}
		defer wsClient.Close()

		limiter := p2p.NewRateLimiter(cfg.P2P.PublishRate, int(cfg.P2P.PublishRate))
		outbound := p2p.NewOutbound(wsClient, cfg.P2P.Topic, limiter)
		publisher = outbound

		inbound := p2p.NewInbound(logger, store, wsClient, cfg.P2P.Topic).WithHighWatermark(cfg.Pending.HighWatermark)
		go func() {
			if err := inbound.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("ccnd: p2p inbound exited", "error", err)
				stop()
			}
		}()
	}

	perTypeConcurrency := make(map[types.MessageType]int, len(cfg.Pending.PerTypeConcurrency))
	for k, v := range cfg.Pending.PerTypeConcurrency {
		perTypeConcurrency[types.MessageType(k)] = v
	}

	pmp := pending.NewPMP(logger, store, backends, registry, publisher, cfg.Pending.MaxRetries, cfg.Pending.FetchTimeout.Duration)
	pool := pending.NewPool(logger, pmp, cfg.Pending.Workers, cfg.Pending.BatchSize,
		poolPollInterval, cfg.Pending.ClaimTimeout.Duration, allowedMessageTypes(), perTypeConcurrency)

	gc := cas.NewGC(logger, store, backends, cfg.CAS.GCInterval.Duration)
	go func() {
		if err := gc.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("ccnd: cas gc exited", "error", err)
			stop()
		}
	}()

	reconciler := balance.New(balance.Config{
		Logger: logger, Store: store, Interval: cfg.Balance.Interval.Duration, Grace: cfg.Pending.StoreGraceNormal.Duration,
		BytesPerBalanceUnit: cfg.Balance.BytesPerBalanceUnit, ReportDir: cfg.Balance.ReportDir, Parquet: cfg.Balance.Parquet,
	})
	go func() {
		if err := reconciler.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("ccnd: balance reconciler exited", "error", err)
			stop()
		}
	}()

	httpServer := &http.Server{Addr: cfg.HTTP.ListenAddress, Handler: ingress.NewRouter(store, cfg.Pending.HighWatermark)}
	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pending.ShutdownGrace.Duration)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ccnd: http inbound exited", "error", err)
			stop()
		}
	}()

	if err := pool.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ccnd: pending pool exited", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg config.StoreConfig) (rs.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return rs.OpenGorm(cfg.DSN)
	default:
		return rs.OpenSQL(cfg.DSN)
	}
}

// buildIndexers constructs one chain.Indexer per configured chain,
// selecting the EVM client for ETH/BNB and the generic REST poller
// (keyed by decode function) for NULS2/Tezos.
func buildIndexers(logger *slog.Logger, store rs.Store, chains []config.ChainConfig) ([]*chain.Indexer, error) {
	httpDoer := &http.Client{Timeout: 30 * time.Second}
	indexers := make([]*chain.Indexer, 0, len(chains))
	for _, c := range chains {
		var client chain.Client
		switch types.Chain(strings.ToUpper(c.Chain)) {
		case types.ChainETH, types.ChainBNB:
			evmClient, err := chain.DialEVMClient(c.RPCEndpoint)
			if err != nil {
				return nil, fmt.Errorf("dial evm endpoint for %s: %w", c.Chain, err)
			}
			client = chain.NewEVM(types.Chain(strings.ToUpper(c.Chain)), evmClient, common.HexToAddress(c.ContractAddress),
				c.ConfirmationDepth, c.Window)
		case types.ChainNULS2:
			client = chain.NewNULS2(httpDoer, c.RPCEndpoint, c.ContractAddress, c.ConfirmationDepth)
		case types.ChainTezos:
			client = chain.NewTezos(httpDoer, c.RPCEndpoint, c.ContractAddress, c.ConfirmationDepth)
		default:
			return nil, fmt.Errorf("unsupported chain %q", c.Chain)
		}
		indexers = append(indexers, chain.NewIndexer(logger, client, store, c.PollInterval.Duration))
	}
	return indexers, nil
}

func allowedMessageTypes() []types.MessageType {
	return []types.MessageType{types.TypeAggregate, types.TypePost, types.TypeStore, types.TypeForget, types.TypeProgram}
}
