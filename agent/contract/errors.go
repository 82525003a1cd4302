package contract

import "errors"

var (
	ErrModelInvoke       = errors.New("model invoke failed")
	ErrMalformedDecision = errors.New("model response violates decision protocol")
	ErrPromptMissing     = errors.New("required prompt is missing")
	ErrValidation        = errors.New("validation failed")

	ErrUnknownTool     = errors.New("unknown tool")
	ErrMissingArgument = errors.New("missing required argument")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrToolsDisabled   = errors.New("tool calls are disabled for this request")

	ErrSessionStorage = errors.New("session storage failed")
)
