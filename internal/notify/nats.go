package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/nats-io/nats.go"

	"commute-briefing/internal/briefing"
	"commute-briefing/internal/transit"
)

// NATSNotifier pushes every published snapshot onto a NATS subject,
// together with a rendered title and body suitable for forwarding to a
// phone notification as-is.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
	metrics NotifierMetrics
}

// NotifierMetrics tracks connection state. Publish outcomes are
// counted by the coordinator, which sees every notifier.
type NotifierMetrics interface {
	SetConnected(connected bool)
}

func NewNATSNotifier(url, subject string, m NotifierMetrics) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name("commute-briefing"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.SetConnected(true)
	}
	return &NATSNotifier{nc: nc, subject: subjectToken(subject), metrics: m}, nil
}

func (n *NATSNotifier) Close() {
	if n.nc != nil {
		n.nc.Drain()
		n.nc.Close()
	}
}

// Message is the wire payload: rendered text plus the full snapshot for
// consumers that want the raw fields.
type Message struct {
	Title    string             `json:"title"`
	Body     string             `json:"body"`
	Snapshot *briefing.Snapshot `json:"snapshot"`
}

func (n *NATSNotifier) Publish(ctx context.Context, s *briefing.Snapshot) error {
	b, err := json.Marshal(Message{
		Title:    RenderTitle(s),
		Body:     RenderBody(s),
		Snapshot: s,
	})
	if err != nil {
		return err
	}
	if err := n.nc.Publish(n.subject, b); err != nil {
		return err
	}
	return n.nc.FlushWithContext(ctx)
}

// RenderTitle returns the notification headline for a snapshot.
func RenderTitle(s *briefing.Snapshot) string {
	if s.IssueDetected {
		return "Commute issue detected"
	}
	return "Commute briefing"
}

// RenderBody returns the notification body, one fact per line.
func RenderBody(s *briefing.Snapshot) string {
	var lines []string

	if !s.OfficeDay.IsOfficeDay {
		if kw := s.OfficeDay.MatchedKeyword; kw != "" {
			lines = append(lines, fmt.Sprintf("No commute today (%s)", kw))
		} else {
			lines = append(lines, "No commute today")
		}
	}

	if s.TrafficMinutes != nil {
		line := fmt.Sprintf("Traffic: %.0f min", *s.TrafficMinutes)
		if s.DelayMinutes != nil && *s.DelayMinutes > 0 {
			line += fmt.Sprintf(" (+%.0f vs usual %.0f)", *s.DelayMinutes, s.BaselineMinutes)
		}
		lines = append(lines, line)
	} else {
		lines = append(lines, "Traffic: unavailable")
	}

	if s.OfficeDay.IsOfficeDay {
		lines = append(lines, busLine(s))
	}

	lines = append(lines, fmt.Sprintf("Quota: %d/%d used",
		s.Quota.UsedManual+s.Quota.UsedAuto, s.Quota.DailyQuota))

	return strings.Join(lines, "\n")
}

func busLine(s *briefing.Snapshot) string {
	if s.BusSource == briefing.SourceUnavailable || s.NextBus == nil {
		return "Next bus: unavailable"
	}
	nb := s.NextBus
	line := "Next bus: " + nb.Route
	if nb.EtaMinutes != transit.DueUnknown {
		line += fmt.Sprintf(" in %d min", nb.EtaMinutes)
	}
	if t := firstNonEmpty(nb.Expected, nb.Scheduled); t != "" {
		line += " at " + t
	}
	if nb.Status != "" && nb.Status != transit.StatusOnTime {
		line += " (" + nb.Status + ")"
	}
	if s.BusSource == briefing.SourceFallback {
		if s.StaleBus {
			line += " [fallback, stale]"
		} else {
			line += " [fallback]"
		}
	}
	return line
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "briefing"
	}
	return s
}

var _ briefing.Notifier = (*NATSNotifier)(nil)
