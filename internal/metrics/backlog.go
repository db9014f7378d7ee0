package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

type eventCounter interface {
	CountByStatus(ctx context.Context) (map[domain.GatewayEventStatus]int, error)
}

// EventBacklog exposes stored gateway events by status, read on each scrape.
type EventBacklog struct {
	events eventCounter
	desc   *prometheus.Desc
}

func NewEventBacklog(events eventCounter) *EventBacklog {
	return &EventBacklog{
		events: events,
		desc: prometheus.NewDesc(
			"billing_gateway_events",
			"Stored gateway webhook events by processing status",
			[]string{"status"}, nil,
		),
	}
}

func (b *EventBacklog) Describe(ch chan<- *prometheus.Desc) { ch <- b.desc }

func (b *EventBacklog) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	counts, err := b.events.CountByStatus(ctx)
	if err != nil {
		slog.Warn("failed to count gateway events", "error", err)
		return
	}
	for _, s := range []domain.GatewayEventStatus{
		domain.GatewayEventStatusPending,
		domain.GatewayEventStatusDispatched,
		domain.GatewayEventStatusFailed,
	} {
		ch <- prometheus.MustNewConstMetric(b.desc, prometheus.GaugeValue, float64(counts[s]), string(s))
	}
}
