package alerts

import (
	"context"
	"fmt"

	"github.com/dpup/trafficwatch/server/internal/lib/congestion"
)

// Audience is who a notification is written for
type Audience string

const (
	AudienceResponder  Audience = "responder"
	AudienceRequester  Audience = "requester"
	AudienceRouteOwner Audience = "route_owner"
)

// MessageInput carries the facts a notification is written from
type MessageInput struct {
	Audience     Audience            `json:"audience"`
	CongestedKm  float64             `json:"congested_km"`
	Severity     congestion.Severity `json:"severity"`
	RegionName   string              `json:"region_name,omitempty"`
	RouteName    string              `json:"route_name,omitempty"`
	OnRoute      bool                `json:"on_route"`
	StartAddress string              `json:"start_address,omitempty"`
	EndAddress   string              `json:"end_address,omitempty"`
}

// Message is a notification title and body
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// MessageComposer writes notification text
type MessageComposer interface {
	Compose(ctx context.Context, in MessageInput) (Message, error)
}

// templateComposer writes fixed-format messages and never fails
type templateComposer struct{}

// NewTemplateComposer returns the fixed-format composer
func NewTemplateComposer() MessageComposer {
	return templateComposer{}
}

func (templateComposer) Compose(_ context.Context, in MessageInput) (Message, error) {
	return templateMessage(in), nil
}

func templateMessage(in MessageInput) Message {
	switch in.Audience {
	case AudienceRouteOwner:
		return Message{
			Title: "Daily Route Traffic",
			Body:  fmt.Sprintf("Traffic alert on your daily route: %.2f km congestion detected", in.CongestedKm),
		}
	case AudienceRequester:
		title := "Traffic Alert"
		if in.OnRoute {
			title = "Route Traffic Alert"
		}
		return Message{
			Title: title,
			Body:  fmt.Sprintf("Traffic congestion detected on your route: %.2fkm", in.CongestedKm),
		}
	default:
		return Message{
			Title: "New Traffic Alert",
			Body:  fmt.Sprintf("Traffic congestion detected: %.2fkm", in.CongestedKm),
		}
	}
}
