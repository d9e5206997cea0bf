package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/earmark/internal/auth"
	"github.com/dukerupert/earmark/internal/backup"
	"github.com/dukerupert/earmark/internal/billing"
	"github.com/dukerupert/earmark/internal/chat"
	"github.com/dukerupert/earmark/internal/config"
	"github.com/dukerupert/earmark/internal/content"
	"github.com/dukerupert/earmark/internal/database"
	"github.com/dukerupert/earmark/internal/entitlement"
	"github.com/dukerupert/earmark/internal/extract"
	"github.com/dukerupert/earmark/internal/library"
	"github.com/dukerupert/earmark/internal/llm"
	"github.com/dukerupert/earmark/internal/logging"
	"github.com/dukerupert/earmark/internal/push"
	"github.com/dukerupert/earmark/internal/server"
	"github.com/dukerupert/earmark/internal/store"
	"github.com/dukerupert/earmark/internal/transcribe"
	ws "github.com/dukerupert/earmark/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		slog.Error("earmark exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	kv := store.NewKVStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(logger.With("component", "websocket"))

	engine := entitlement.New(kv, logger.With("component", "entitlement"))
	contentStore := content.New(kv, logger.With("component", "content"), content.WithOnChange(hub.Publish))
	authSvc := auth.NewService(kv, cfg.JWTSecret, cfg.TokenTTL, logger)
	pushRegistry := push.NewRegistry(kv, logger.With("component", "push"))

	var billingSvc *billing.Service
	if cfg.Billing.Enabled() {
		billingSvc = billing.NewService(billing.NewClient(cfg.Billing), engine, kv, logger.With("component", "billing"))
	} else {
		logger.Info("Stripe keys not set, checkout is disabled")
	}

	reload := func() error {
		if err := engine.Load(); err != nil {
			return err
		}
		if err := contentStore.Load(); err != nil {
			return err
		}
		if err := pushRegistry.Load(); err != nil {
			return err
		}
		if billingSvc != nil {
			if err := billingSvc.Load(); err != nil {
				return err
			}
		}
		return authSvc.Load()
	}
	if err := reload(); err != nil {
		return err
	}

	transcriber := transcribe.WithRetry(
		transcribe.NewClient(cfg.Transcription),
		logger,
		transcribe.WithMaxRetries(cfg.TranscribeRetries),
	)
	workerOpts := []transcribe.WorkerOption{transcribe.WithDelay(cfg.TranscribeDelay)}

	var notifier *push.Notifier
	if cfg.Push.Enabled() {
		notifier = push.NewNotifier(push.NewService(cfg.Push), pushRegistry, contentStore, logger)
		workerOpts = append(workerOpts, transcribe.WithOnDone(notifier.TranscriptionDone))
	} else {
		logger.Info("VAPID keys not set, push notifications are disabled")
	}
	worker := transcribe.NewWorker(transcriber, contentStore, logger, workerOpts...)

	var completer chat.Completer = llm.Disabled{}
	if cfg.GeminiAPIKey != "" {
		gem, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.ChatTimeout)
		if err != nil {
			return err
		}
		defer gem.Close()
		completer = gem
	} else {
		logger.Warn("EARMARK_GEMINI_API_KEY not set, chat and summaries are disabled")
	}

	extractor := extract.NewDocconv(logger, cfg.Readability)
	lib := library.NewService(engine, contentStore, worker, extractor, logger)
	chatSvc := chat.NewService(contentStore, engine, completer, logger)

	backupMgr := backup.NewManager(cfg.Backup, kv, func() error {
		if err := reload(); err != nil {
			return err
		}
		hub.Broadcast(ws.NewMessage("backup", "restored", "", nil))
		return nil
	}, func(s backup.Status) {
		hub.Broadcast(ws.NewMessage("backup", string(s.State), "", map[string]any{
			"in_progress": s.InProgress,
			"error":       s.Error,
		}))
	}, logger)

	srv := server.New(server.Deps{
		Auth:        authSvc,
		Engine:      engine,
		Store:       contentStore,
		Library:     lib,
		Chat:        chatSvc,
		Backup:      backupMgr,
		Hub:         hub,
		CORSOrigins: cfg.CORSOrigins,

		Billing:        billingSvc,
		Push:           notifier,
		VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	backupMgr.Start(ctx)
	if notifier != nil {
		notifier.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("earmark starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.RateLimiter().Run(gctx, time.Hour)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)

		backupMgr.Stop()
		worker.Stop()
		if notifier != nil {
			notifier.Stop()
		}
		srv.ChatHandler().Wait()
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
