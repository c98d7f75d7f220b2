package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"
)

// LogSender always fires; it is the zero-config default sender,
// grounded on the teacher's LogNotifier.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, ac Context) error {
	s.log.WarnContext(ctx, "alert.fired",
		"workflow", ac.WorkflowName,
		"failure_count", ac.FailureCount,
		"first_failure", ac.FirstFailure,
		"last_success", ac.LastSuccess,
		"exception_frequency", ac.ExceptionFrequency,
		"step_frequency", ac.StepFrequency,
	)
	return nil
}

// SlackSender posts an alert to a Slack channel. It is wrapped in a
// sony/gobreaker circuit breaker so a slow or down Slack API fails
// fast rather than blocking the executor's failure path — the
// teacher's ProtectedNotifier "wrap an external call" shape, here
// delegated to the library instead of a hand-rolled state machine.
type SlackSender struct {
	client  *slack.Client
	channel string
	cb      *gobreaker.CircuitBreaker
}

func NewSlackSender(token, channel string) *SlackSender {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alert-slack",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &SlackSender{client: slack.New(token), channel: channel, cb: cb}
}

func (s *SlackSender) Send(ctx context.Context, ac Context) error {
	_, err := s.cb.Execute(func() (any, error) {
		_, _, err := s.client.PostMessageContext(ctx, s.channel,
			slack.MsgOptionText(s.formatMessage(ac), false),
		)
		return nil, err
	})
	return err
}

func (s *SlackSender) formatMessage(ac Context) string {
	return fmt.Sprintf(
		"*%s* failed %d time(s) since %s (last success: %s)\nexceptions: %v\nsteps: %v",
		ac.WorkflowName, ac.FailureCount, ac.FirstFailure.Format(time.RFC3339),
		formatLastSuccess(ac.LastSuccess), ac.ExceptionFrequency, ac.StepFrequency,
	)
}

func formatLastSuccess(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
