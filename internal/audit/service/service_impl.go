package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/splitledger/internal/audit/domain"
	"github.com/smallbiznis/splitledger/internal/clock"
	obsctx "github.com/smallbiznis/splitledger/internal/observability/context"
	"github.com/smallbiznis/splitledger/pkg/db/pagination"
	"github.com/smallbiznis/splitledger/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: c,
	}
}

// Record writes entry outside any caller transaction, so an audit row
// survives even when the operation it describes is rolled back.
func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	row := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		OrgID:      s.orgID(ctx, entry.OrgID),
		Action:     action,
		TargetType: orDefault(entry.TargetType, "unknown"),
		TargetID:   optional(entry.TargetID),
		Metadata:   datatypes.JSONMap(s.metadata(ctx, entry.Metadata)),
		CreatedAt:  s.clock.Now().UTC(),
	}
	row.ActorType, row.ActorID = actor(ctx, entry)

	if err := s.repo.Insert(ctx, s.db, &row); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	if req.OrgID == 0 {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidOrganization
	}
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTimeRange
	}
	cursor, err := decodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		OrgID:      req.OrgID,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, limit, encodeCursor)
	if len(items) > limit {
		items = items[:limit]
	}
	resp := auditdomain.ListResponse{PageInfo: *pageInfo, AuditLogs: make([]auditdomain.AuditLog, 0, len(items))}
	for _, item := range items {
		if item != nil {
			resp.AuditLogs = append(resp.AuditLogs, *item)
		}
	}
	return resp, nil
}

// metadata copies the caller's fields and stamps request tracing ids.
func (s *Service) metadata(ctx context.Context, in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+3)
	for key, value := range in {
		if key != "" {
			out[key] = value
		}
	}
	for key, value := range map[string]string{
		"request_id":     obsctx.RequestIDFromContext(ctx),
		"correlation_id": correlation.ExtractCorrelationID(ctx),
		"provider":       obsctx.ProviderFromContext(ctx),
	} {
		if _, set := out[key]; !set && value != "" {
			out[key] = value
		}
	}
	return out
}

func (s *Service) orgID(ctx context.Context, id snowflake.ID) *snowflake.ID {
	if id == 0 {
		parsed, err := snowflake.ParseString(obsctx.OrgIDFromContext(ctx))
		if err != nil || parsed == 0 {
			return nil
		}
		id = parsed
	}
	return &id
}

func actor(ctx context.Context, entry auditdomain.Entry) (string, *string) {
	kind, id := string(entry.ActorType), entry.ActorID
	if kind == "" {
		kind, id = obsctx.ActorFromContext(ctx)
		if entry.ActorID != "" {
			id = entry.ActorID
		}
	}
	return orDefault(kind, string(auditdomain.ActorTypeSystem)), optional(id)
}

func decodeCursor(token string) (*auditdomain.AuditCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}, nil
}

func encodeCursor(item *auditdomain.AuditLog) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        item.ID.String(),
		CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

func orDefault(value, fallback string) string {
	if value = strings.TrimSpace(value); value == "" {
		return fallback
	}
	return value
}

func optional(value string) *string {
	if value = strings.TrimSpace(value); value == "" {
		return nil
	}
	return &value
}
