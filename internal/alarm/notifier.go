package alarm

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Notification is one alarm delivery to one recipient.
type Notification struct {
	AlarmID         string
	UserID          string
	Recipient       string
	Action          string
	EventPath       string
	EventUID        string
	RecurrenceID    string
	Summary         string
	Description     string
	Location        string
	OccurrenceStart time.Time
	DueDate         time.Time
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. It stands in for the mail
// and websocket senders.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.logger.Info().
		Str("alarm_id", msg.AlarmID).
		Str("action", msg.Action).
		Str("recipient", msg.Recipient).
		Str("event_uid", msg.EventUID).
		Str("summary", msg.Summary).
		Time("occurrence_start", msg.OccurrenceStart).
		Time("due", msg.DueDate).
		Msg("alarm notification")
	return nil
}
