package alert

import (
	"github.com/smallbiznis/splitledger/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("alert",
	fx.Provide(slack.New),
	fx.Provide(NewNotifier),
)
