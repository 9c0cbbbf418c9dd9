package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/converso-ai/converso/backend/internal/config"
	"github.com/converso-ai/converso/backend/internal/handler"
	"github.com/converso-ai/converso/backend/internal/model/chat"
	"github.com/converso-ai/converso/backend/internal/model/directory"
	"github.com/converso-ai/converso/backend/internal/service/analyzer"
	"github.com/converso-ai/converso/backend/internal/service/escalation"
	"github.com/converso-ai/converso/backend/internal/service/gateway"
	"github.com/converso-ai/converso/backend/internal/service/reply"
	routerService "github.com/converso-ai/converso/backend/internal/service/router"
	"github.com/converso-ai/converso/backend/internal/store/sqlite"

	analysismodel "github.com/converso-ai/converso/backend/internal/model/analysis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	log.Printf("database ready at %s", cfg.Storage.Path)

	profiles := directory.NewMemoryStore(directory.Seed())

	// The gateway runs both LLM paths. Without credentials it stays
	// disabled and the service answers from direct rules and fallbacks.
	var gatewaySvc *gateway.Service
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
			log.Println("continuing without LLM functionality")
		} else {
			gatewaySvc, err = gateway.NewService(ctx, chatModel, cfg.AI.Timeout)
			if err != nil {
				log.Printf("warning: failed to compile gateway chains: %v", err)
				gatewaySvc = nil
			} else {
				log.Println("LLM gateway initialized successfully")
			}
		}
	} else {
		log.Println("ark credentials not configured, running without LLM")
	}
	if gatewaySvc == nil {
		gatewaySvc, err = gateway.NewService(ctx, nil, cfg.AI.Timeout)
		if err != nil {
			log.Fatalf("failed to initialize disabled gateway: %v", err)
		}
	}

	dispatcher := escalation.NewDispatcher(db)

	// The analyzer's observer feeds the router, which does not exist yet;
	// the indirection resolves once wiring completes below.
	var routerSvc *routerService.Service
	analyzerSvc := analyzer.NewService(
		gatewayClassifier{gatewaySvc},
		db,
		dispatcher,
		analyzer.Config{
			Workers:           cfg.Analysis.Workers,
			HighThreshold:     cfg.Analysis.HighThreshold,
			CriticalThreshold: cfg.Analysis.CriticalThreshold,
		},
		analyzer.WithSentimentObserver(func(userID, tenantID string, label analysismodel.Label, intensity float64) {
			if routerSvc != nil {
				routerSvc.RecordSentiment(userID, tenantID, label, intensity)
			}
		}),
	)

	responder := reply.NewService(gatewaySvc, profiles, db)
	routerSvc = routerService.NewService(db, responder, analyzerSvc, profiles, routerService.Config{})

	analyzerSvc.Start()
	defer analyzerSvc.Close()

	router := handler.NewRouter(routerSvc, dispatcher, db)

	startServer(ctx, cfg.Server, router)
}

// gatewayClassifier adapts the gateway's judgment to the analyzer's input.
type gatewayClassifier struct {
	svc *gateway.Service
}

func (g gatewayClassifier) Enabled() bool { return g.svc.Enabled() }

func (g gatewayClassifier) ClassifySentiment(ctx context.Context, history []chat.Message, text string) (analyzer.Classification, error) {
	judged, err := g.svc.ClassifySentiment(ctx, history, text)
	if err != nil {
		return analyzer.Classification{}, err
	}
	return analyzer.Classification{
		Label:           judged.Label,
		Intensity:       judged.Intensity,
		Category:        judged.Category,
		Blocking:        judged.Blocking,
		SuggestedAction: judged.SuggestedAction,
		Reason:          judged.Reason,
	}, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Converso backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
