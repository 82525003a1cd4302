package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	llmx "github.com/tanpawarit/ticker-agent/agent/llm"
	toolx "github.com/tanpawarit/ticker-agent/agent/tool"
	toolserverx "github.com/tanpawarit/ticker-agent/agent/toolserver"
	configx "github.com/tanpawarit/ticker-agent/pkg/config"
	logx "github.com/tanpawarit/ticker-agent/pkg/logger"
	marketx "github.com/tanpawarit/ticker-agent/pkg/market"
	retryx "github.com/tanpawarit/ticker-agent/pkg/retry"
)

var version = "dev"

func main() {
	// stdout carries the MCP stream in stdio mode.
	logx.InitWriter(os.Stderr, *configx.MustNew[logx.Config]("LOG"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mcpCfg := configx.MustNew[toolserverx.Config]("MCP")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	llmRetryCfg := configx.MustNew[retryx.Config]("LLM_RETRY")
	dataRetryCfg := configx.MustNew[retryx.Config]("DATA_RETRY")
	marketCfg := configx.MustNew[marketx.Config]("MARKET")

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

	if err := toolserverx.Serve(ctx, *mcpCfg, toolserverx.New(tools, version)); err != nil {
		log.Fatal().Err(err).Str("transport", mcpCfg.Transport).Msg("mcp server failed")
	}
	log.Info().Msg("mcp server stopped")
}
