package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"olocus/internal/anchor"
	"olocus/internal/attestation"
	"olocus/internal/audit"
	"olocus/internal/credential"
	"olocus/internal/crypto"
	"olocus/internal/device"
	"olocus/internal/friendship"
	jwttoken "olocus/internal/jwt_token"
	"olocus/internal/ledger"
	"olocus/internal/nullifier"
	"olocus/internal/platform/config"
	"olocus/internal/platform/httpserver"
	"olocus/internal/platform/logger"
	"olocus/internal/platform/metrics"
	platformredis "olocus/internal/platform/redis"
	"olocus/internal/ratelimit"
	httptransport "olocus/internal/transport/http"
	"olocus/internal/trust"
	"olocus/internal/visit"
	"olocus/pkg/domain"
)

const signingKeyID = "device-key"

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	did, err := domain.ParseDID(cfg.Device.DID)
	if err != nil {
		return err
	}

	keys := crypto.NewMemoryKeyStore()
	if _, err := keys.GenerateSigningKey(ctx, signingKeyID); err != nil {
		return err
	}

	chain := ledger.NewChain(did, signingKeyID, time.Now().UTC())
	log.Info("chain created", "chain_id", chain.ID, "owner", chain.Owner)

	// Stores: postgres when a DSN is configured, in-memory otherwise.
	blockStore := ledger.BlockStore(ledger.NewInMemoryBlockStore())
	anchorStore := anchor.Store(anchor.NewInMemoryStore())
	registry := nullifier.Registry(nullifier.NewInMemoryRegistry())

	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		pgBlocks := ledger.NewPostgresBlockStore(db)
		pgAnchors := anchor.NewPostgresStore(db)
		pgNullifiers := nullifier.NewPostgresRegistry(db)
		for _, ensure := range []func(context.Context) error{
			pgBlocks.EnsureSchema, pgAnchors.EnsureSchema, pgNullifiers.EnsureSchema,
		} {
			if err := ensure(ctx); err != nil {
				return err
			}
		}
		blockStore, anchorStore, registry = pgBlocks, pgAnchors, pgNullifiers
		log.Info("postgres stores enabled")
	}

	if cfg.Redis.URL != "" {
		redisClient, err := platformredis.New(cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		registry = nullifier.NewRedisRegistry(redisClient.Client)
		log.Info("redis nullifier registry enabled")
	}

	lgr, err := ledger.New(chain, blockStore, keys, ledger.WithLogger(log))
	if err != nil {
		return err
	}

	visitStore := visit.NewInMemoryStore()
	aggregator := visit.NewAggregator(visit.DefaultConfig(),
		visit.WithHistory(visitStore), visit.WithLogger(log))

	tsa := buildTimestampAuthority(cfg.TSA, log)
	anchorCfg := anchor.Config{
		BacklogCap:     cfg.Anchor.BacklogCap,
		TokenTolerance: cfg.Anchor.TokenTolerance,
		LateLimit:      cfg.Anchor.LateLimit,
	}
	anchorOpts := []anchor.ServiceOption{anchor.WithLogger(log)}
	if cfg.Chain.RPCURL != "" && cfg.Chain.PrivateKey != "" {
		submitter, err := anchor.NewEthereumSubmitter(cfg.Chain.RPCURL, cfg.Chain.PrivateKey, cfg.Chain.ToAddress)
		if err != nil {
			return err
		}
		anchorOpts = append(anchorOpts, anchor.WithChainSubmitter(submitter))
		log.Info("blockchain anchoring enabled", "rpc", cfg.Chain.RPCURL)
	}
	anchors := anchor.NewService(anchorCfg, anchorStore, visitStore, blockStore, keys, tsa, anchorOpts...)

	issuer := credential.NewIssuer(anchorStore, keys, credential.WithLogger(log))
	friendStore := friendship.NewInMemoryStore()
	friends := friendship.NewEstablisher(did, signingKeyID, keys, friendStore,
		friendship.WithLogger(log))
	engine := attestation.NewEngine(did, chain.ID, signingKeyID, keys, visitStore, friendStore,
		attestation.WithLogger(log))

	promMetrics := metrics.New()

	auditInbox := make(chan audit.Event, 256)
	auditStore := audit.NewInMemoryStore()
	publisher := audit.NewPublisher(auditInbox, audit.WithPublisherLogger(log))
	worker := audit.NewWorker(auditStore, auditInbox, audit.WithWorkerLogger(log))

	batchSink := func(ctx context.Context, b attestation.Batch) {
		promMetrics.BatchesFlushed.Inc()
		publisher.Emit(audit.Event{
			Actor:   did,
			Action:  audit.ActionBatchFlushed,
			Subject: b.ID.String(),
		})
	}
	batches := attestation.NewBuilder(attestation.DefaultBatchConfig(), did, signingKeyID, keys,
		batchSink, attestation.WithBuilderLogger(log))

	jwtKey := cfg.Server.JWTSigningKey
	if jwtKey == "" {
		jwtKey = randomHex(32)
		log.Warn("OLOCUS_JWT_SIGNING_KEY unset, generated an ephemeral key")
	}
	jwtService := jwttoken.NewService(jwtKey, "olocus", "olocus-api")
	bootstrap, err := jwtService.GenerateAccessToken(did, chain.ID, 24*time.Hour)
	if err != nil {
		return err
	}
	log.Info("bootstrap access token issued", "token", bootstrap)

	limiter := ratelimit.NewSlidingWindowLimiter(cfg.Server.RateLimitPerMinute, time.Minute)
	limitKey := func(r *http.Request) string {
		if did := httptransport.GetDID(r.Context()); did != "" {
			return did.String()
		}
		return r.RemoteAddr
	}
	limitMW := ratelimit.New(limiter, limitKey,
		ratelimit.WithLogger(log),
		ratelimit.WithDisabled(cfg.Server.RateLimitPerMinute <= 0))

	handler := httptransport.NewHandler(httptransport.Deps{
		Ledger:      lgr,
		Blocks:      blockStore,
		Aggregator:  aggregator,
		Visits:      visitStore,
		Anchors:     anchors,
		AnchorStore: anchorStore,
		Issuer:      issuer,
		Engine:      engine,
		Batches:     batches,
		Friends:     friends,
		FriendStore: friendStore,
		Scorer:      trust.NewScorer(trust.DefaultPolicy()),
		Registry:    registry,
		Device:      device.NewService(cfg.Device.IntegrityEnabled),
		Audit:       publisher,
		Metrics:     promMetrics,
		RateLimit:   limitMW,
		Logger:      log,
	})
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler, jwtService))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := batches.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		log.Info("starting olocus engine", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func buildTimestampAuthority(cfg config.TSA, log *slog.Logger) anchor.TimestampAuthority {
	if cfg.PrimaryURL == "" {
		log.Warn("OLOCUS_TSA_URL unset, anchors will park until an authority is reachable")
	}
	authorities := []anchor.TimestampAuthority{
		anchor.NewHTTPTimestampAuthority(cfg.PrimaryURL, cfg.Timeout),
	}
	for _, url := range cfg.BackupURLs {
		authorities = append(authorities, anchor.NewHTTPTimestampAuthority(url, cfg.Timeout))
	}
	return anchor.NewFallbackAuthority(authorities, anchor.WithFallbackLogger(log))
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
