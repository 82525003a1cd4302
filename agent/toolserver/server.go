package toolserver

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	toolx "github.com/tanpawarit/ticker-agent/agent/tool"
)

const ServerName = "ticker-tools"

const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

type Config struct {
	Transport       string        `split_words:"true" default:"stdio"`
	Addr            string        `split_words:"true" default:":8081"`
	BaseURL         string        `envconfig:"BASE_URL" split_words:"true"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
}

// Dispatcher runs one tool invocation; toolx.Registry satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv contractx.ToolInvocation) contractx.ToolResult
}

var argDescriptions = map[string]string{
	toolx.ArgTicker:   "Ticker symbol, e.g. AAPL, BRK-B or ^GSPC",
	toolx.ArgDays:     "Lookback window in calendar days, 1-90 (default 30)",
	toolx.ArgHeadline: "Headline text to expand",
}

// New exposes every catalogued tool over MCP. Tool failures come back as
// error results, never as protocol errors.
func New(tools Dispatcher, version string) *server.MCPServer {
	s := server.NewMCPServer(ServerName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, spec := range toolx.Specs() {
		s.AddTool(toolFor(spec), handlerFor(tools, spec.Name))
	}
	return s
}

func toolFor(spec toolx.Spec) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.Desc)}
	param := func(name string, required bool) mcp.ToolOption {
		props := []mcp.PropertyOption{mcp.Description(argDescriptions[name])}
		if required {
			props = append(props, mcp.Required())
		}
		if name == toolx.ArgDays {
			return mcp.WithNumber(name, props...)
		}
		return mcp.WithString(name, props...)
	}
	for _, name := range spec.Required {
		opts = append(opts, param(name, true))
	}
	for _, name := range spec.Optional {
		opts = append(opts, param(name, false))
	}
	return mcp.NewTool(spec.Name, opts...)
}

func handlerFor(tools Dispatcher, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := tools.Dispatch(ctx, invocation(name, req.GetArguments()))
		if !res.Success {
			return mcp.NewToolResultError(res.Error), nil
		}
		return mcp.NewToolResultText(res.Output), nil
	}
}

// invocation flattens MCP JSON arguments into the string map tools take.
// Whole numbers lose their fraction so days=7 arrives as "7".
func invocation(name string, args map[string]any) contractx.ToolInvocation {
	flat := make(map[string]string, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case nil:
		case string:
			flat[k] = strings.TrimSpace(val)
		case float64:
			flat[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			flat[k] = fmt.Sprint(val)
		}
	}
	return contractx.ToolInvocation{Tool: name, Args: flat}
}

// Serve runs s on the configured transport until ctx is done.
func Serve(ctx context.Context, cfg Config, s *server.MCPServer) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", TransportStdio:
		stdio := server.NewStdioServer(s)
		stdio.SetErrorLogger(stdlog.New(log.Logger, "", 0))
		log.Info().Str("transport", TransportStdio).Msg("mcp server listening")
		err := stdio.Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil

	case TransportSSE:
		var opts []server.SSEOption
		if cfg.BaseURL != "" {
			opts = append(opts, server.WithBaseURL(cfg.BaseURL))
		}
		sse := server.NewSSEServer(s, opts...)

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("transport", TransportSSE).Str("addr", cfg.Addr).Msg("mcp server listening")
			errCh <- sse.Start(cfg.Addr)
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return sse.Shutdown(shutdownCtx)

	default:
		return fmt.Errorf("%w: unknown mcp transport %q", contractx.ErrValidation, cfg.Transport)
	}
}
