// Package alert routes money-affecting incidents to operators.
package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/splitledger/internal/config"
	"github.com/smallbiznis/splitledger/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	Reason   string
	Severity Severity
	Message  string
	Fields   map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Slack slack.Provider
}

type Service struct {
	log     *zap.Logger
	slack   slack.Provider
	channel string
}

func NewNotifier(p Params) Notifier {
	return &Service{
		log:     p.Log.Named("alert"),
		slack:   p.Slack,
		channel: strings.TrimSpace(p.Cfg.Alert.SlackChannel),
	}
}

// Notify always logs; Slack delivery failures are logged and returned but
// never lose the log line.
func (s *Service) Notify(ctx context.Context, alert Alert) error {
	if alert.Severity == "" {
		alert.Severity = SeverityCritical
	}

	fields := []zap.Field{
		zap.String("reason", alert.Reason),
		zap.String("severity", string(alert.Severity)),
	}
	for _, key := range sortedKeys(alert.Fields) {
		fields = append(fields, zap.String(key, alert.Fields[key]))
	}
	s.log.Error(alert.Message, fields...)

	if s.slack == nil {
		return nil
	}
	if err := s.slack.PostMessage(ctx, s.channel, format(alert)); err != nil {
		s.log.Warn("failed to deliver alert to slack", zap.String("reason", alert.Reason), zap.Error(err))
		return err
	}
	return nil
}

func format(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", strings.ToUpper(string(alert.Severity)), alert.Reason, alert.Message)
	for _, key := range sortedKeys(alert.Fields) {
		fmt.Fprintf(&b, "\n• %s: %s", key, alert.Fields[key])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
