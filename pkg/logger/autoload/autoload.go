// Package autoload initializes the global logger from LOG_* settings when
// imported.
package autoload

import (
	configx "github.com/tanpawarit/ticker-agent/pkg/config"
	logx "github.com/tanpawarit/ticker-agent/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
