package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	nodex "github.com/tanpawarit/ticker-agent/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/ticker-agent/agent/state"
	transcriptx "github.com/tanpawarit/ticker-agent/agent/transcript"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidTurns   = nodex.ErrInvalidTurns
)

type Config struct {
	DefaultTicker    string `split_words:"true" default:"AAPL"`
	DefaultDays      int    `split_words:"true" default:"30"`
	DefaultSessionID string `split_words:"true" default:"default"`
}

// Orchestrator runs the bounded decide/dispatch loop for one request at a
// time per session.
type Orchestrator struct {
	store  statex.Store
	engine contractx.DecisionEngine
	tools  contractx.ToolRegistry
	locks  *statex.KeyedLocker

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	defaults nodex.Defaults
	now      func() time.Time
}

func New(
	store statex.Store,
	engine contractx.DecisionEngine,
	tools contractx.ToolRegistry,
	cfg Config,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if engine == nil {
		return nil, errors.New("decision engine is required")
	}
	if tools == nil {
		return nil, errors.New("tool registry is required")
	}

	o := &Orchestrator{
		store:  store,
		engine: engine,
		tools:  tools,
		locks:  statex.NewKeyedLocker(),
		defaults: nodex.Defaults{
			Ticker:    strings.ToUpper(strings.TrimSpace(cfg.DefaultTicker)),
			Days:      cfg.DefaultDays,
			SessionID: strings.TrimSpace(cfg.DefaultSessionID),
		},
		now: time.Now,
	}

	graphRunner, err := o.compileRunGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

func (o *Orchestrator) sessionID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	if o.defaults.SessionID != "" {
		return o.defaults.SessionID
	}
	return contractx.DefaultSessionID
}

// Run handles one agent request. The session lock is held from load to save,
// so concurrent requests for the same session are serialized.
func (o *Orchestrator) Run(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResponse, error) {
	req.SessionID = o.sessionID(req.SessionID)
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Str("session_id", req.SessionID).Logger()
	started := time.Now()

	unlock, err := o.locks.Lock(ctx, req.SessionID)
	if err != nil {
		return contractx.AgentResponse{}, err
	}
	defer unlock()

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{Request: req})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Warn().Err(ctxErr).Msg("run canceled, session not saved")
			return contractx.AgentResponse{}, ctxErr
		}
		logger.Error().Err(err).Msg("run failed")
		return contractx.AgentResponse{}, err
	}

	logger.Info().
		Int("steps", out.Loop.Steps).
		Int("tool_calls", out.Loop.ToolCalls).
		Bool("budget_exhausted", out.Loop.Exhausted).
		Int("turns", len(out.Session.Turns)).
		Dur("elapsed", time.Since(started)).
		Msg("run completed")

	return contractx.AgentResponse{
		Turns:  statex.CloneTurns(out.Session.Turns),
		Pretty: out.Pretty,
	}, nil
}

// Session returns the stored session, or an empty one for an unseen id.
func (o *Orchestrator) Session(ctx context.Context, id string) (contractx.AgentResponse, error) {
	st, err := nodex.LoadOrCreate(ctx, o.store, o.sessionID(id), o.now())
	if err != nil {
		return contractx.AgentResponse{}, err
	}
	return contractx.AgentResponse{
		Turns:  statex.CloneTurns(st.Turns),
		Pretty: transcriptx.Format(st.Turns),
	}, nil
}

// ClearSession deletes the session. Clearing an unseen id is not an error.
func (o *Orchestrator) ClearSession(ctx context.Context, id string) error {
	id = o.sessionID(id)

	unlock, err := o.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := o.store.Delete(ctx, id); err != nil && !errors.Is(err, statex.ErrStateNotFound) {
		return fmt.Errorf("%w: delete %s: %w", contractx.ErrSessionStorage, id, err)
	}
	log.Info().Str("session_id", id).Msg("session cleared")
	return nil
}
