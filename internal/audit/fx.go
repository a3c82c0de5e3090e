package audit

import (
	"github.com/smallbiznis/splitledger/internal/audit/repository"
	"github.com/smallbiznis/splitledger/internal/audit/service"
	"go.uber.org/fx"
)

// Module records triage outcomes and admin changes to audit_logs.
var Module = fx.Module("audit",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
