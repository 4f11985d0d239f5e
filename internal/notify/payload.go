package notify

import (
	"fmt"
	"time"

	"github.com/arkforge/autopilot/internal/history"
	"github.com/arkforge/autopilot/internal/rules"
)

// Discord-compatible payload shape. Any webhook receiver that accepts
// plain JSON works; Discord rendering is the UI convention.
type payload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds"`
}

type embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color"`
	Timestamp   string  `json:"timestamp"`
	Fields      []field `json:"fields,omitempty"`
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

func eventColor(t history.EventType) int {
	switch t {
	case history.EventFailover:
		return 0xE74C3C
	case history.EventRecovery:
		return 0x2ECC71
	case history.EventSelfHealing:
		return 0xE67E22
	default:
		return 0x3498DB
	}
}

func eventTitle(t history.EventType) string {
	switch t {
	case history.EventFailover:
		return "Autopilot: failover"
	case history.EventRecovery:
		return "Autopilot: recovered to primary"
	case history.EventSelfHealing:
		return "Autopilot: self-healing"
	default:
		return "Autopilot"
	}
}

func buildPayload(rule *rules.Rule, event Event) payload {
	name := rule.Name
	if name == "" {
		name = rule.ID.String()
	}

	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	fields := []field{
		{Name: "Rule", Value: name, Inline: true},
		{Name: "Account", Value: rule.AccountID, Inline: true},
	}
	if event.From != "" {
		fields = append(fields, field{Name: "From", Value: event.From})
	}
	if event.To != "" {
		fields = append(fields, field{Name: "To", Value: event.To})
	}
	fields = append(fields, field{
		Name:  "Chain",
		Value: fmt.Sprintf("%d tiers", len(rule.PriorityChain)),
	})

	return payload{
		Embeds: []embed{{
			Title:       eventTitle(event.Type),
			Description: event.Message,
			Color:       eventColor(event.Type),
			Timestamp:   at.UTC().Format(time.RFC3339),
			Fields:      fields,
		}},
	}
}
