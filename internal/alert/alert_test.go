package alert

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSlack struct {
	channel  string
	messages []string
	err      error
}

func (r *recordingSlack) PostMessage(ctx context.Context, channelID string, message string) error {
	r.channel = channelID
	r.messages = append(r.messages, message)
	return r.err
}

func TestNotifyLogsAndPostsToSlack(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	slack := &recordingSlack{}
	n := &Service{log: zap.New(core), slack: slack, channel: "#ledger-alerts"}

	err := n.Notify(context.Background(), Alert{
		Reason:  "sale_not_found",
		Message: "settlement event references unknown sale",
		Fields:  map[string]string{"sale_id": "42", "provider": "stripe"},
	})
	assert.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("settlement event references unknown sale").Len())
	assert.Equal(t, "#ledger-alerts", slack.channel)
	if assert.Len(t, slack.messages, 1) {
		assert.Contains(t, slack.messages[0], "[CRITICAL] sale_not_found")
		assert.Contains(t, slack.messages[0], "provider: stripe")
	}
}

func TestNotifyKeepsLogWhenSlackFails(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	n := &Service{log: zap.New(core), slack: &recordingSlack{err: errors.New("down")}}

	err := n.Notify(context.Background(), Alert{Reason: "superseded", Severity: SeverityWarning, Message: "late event"})
	assert.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessage("late event").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to deliver alert to slack").Len())
}
