package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	statex "github.com/tanpawarit/ticker-agent/agent/state"
	transcriptx "github.com/tanpawarit/ticker-agent/agent/transcript"
)

// SaveSession persists the session once, at the end of the loop. A done
// context skips the write.
func SaveSession(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in.Session.Touch(in.Now)
	if err := in.Session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: state validation failed: %w", contractx.ErrSessionStorage, err)
	}

	in.Session.Version++
	if err := store.Save(ctx, in.Session); err != nil {
		return nil, fmt.Errorf("%w: save %s: %w", contractx.ErrSessionStorage, in.SessionID, err)
	}
	return in, nil
}

func Render(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Session == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	return GraphOutput{
		Session: in.Session,
		Pretty:  transcriptx.Format(in.Session.Turns),
		Loop:    in.Loop,
	}, nil
}
