package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	orchestratorx "github.com/tanpawarit/ticker-agent/agent/agents/orchestrator"
	apix "github.com/tanpawarit/ticker-agent/agent/api"
	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	decisionx "github.com/tanpawarit/ticker-agent/agent/decision"
	llmx "github.com/tanpawarit/ticker-agent/agent/llm"
	statex "github.com/tanpawarit/ticker-agent/agent/state"
	toolx "github.com/tanpawarit/ticker-agent/agent/tool"
	configx "github.com/tanpawarit/ticker-agent/pkg/config"
	_ "github.com/tanpawarit/ticker-agent/pkg/logger/autoload"
	marketx "github.com/tanpawarit/ticker-agent/pkg/market"
	retryx "github.com/tanpawarit/ticker-agent/pkg/retry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpCfg := configx.MustNew[apix.Config]("HTTP")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	llmRetryCfg := configx.MustNew[retryx.Config]("LLM_RETRY")
	dataRetryCfg := configx.MustNew[retryx.Config]("DATA_RETRY")
	storeCfg := configx.MustNew[statex.StoreConfig]("SESSION_STORE")
	marketCfg := configx.MustNew[marketx.Config]("MARKET")
	orchestratorCfg := configx.MustNew[orchestratorx.Config]("AGENT")
	decisionCfg := configx.MustNew[decisionx.Config]("AGENT")

	store, err := statex.NewStore(ctx, *storeCfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", storeCfg.Driver).Msg("failed to open session store")
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	planner, err := llmx.NewClient(ctx, *llmCfg, contractx.AgentTypePlanner)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize planner model")
	}
	summarizer, err := llmx.NewClient(ctx, *llmCfg, contractx.AgentTypeSummarizer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize summarizer model")
	}

	yahoo := marketx.NewYahooClient(*marketCfg)
	tools, err := toolx.NewRegistry(yahoo, yahoo, summarizer,
		toolx.WithDataRetry(*dataRetryCfg),
		toolx.WithModelRetry(*llmRetryCfg),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tool registry")
	}

	engine, err := decisionx.New(planner, tools.Describe(), *decisionCfg, decisionx.WithRetry(*llmRetryCfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize decision engine")
	}

	agent, err := orchestratorx.New(store, engine, tools, *orchestratorCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize orchestrator")
	}

	srv := apix.NewServer(*httpCfg, apix.NewRouter(*httpCfg, log.Logger, agent))

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("store", storeCfg.Driver).
			Str("provider", llmCfg.Provider).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	stop()

	log.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}
	log.Info().Msg("server stopped")
}
