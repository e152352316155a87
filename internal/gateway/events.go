package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubjectPrefix roots the verdict subject hierarchy:
// <prefix>.verdict.<status> plus a firehose at <prefix>.verdict.all.
const DefaultSubjectPrefix = "clamctl"

// Publisher emits verdict events for downstream consumers such as
// quarantine workers and audit sinks.
type Publisher interface {
	PublishVerdict(report ScanReport) error
	Close()
}

// NATSPublisher publishes verdict events to a NATS cluster.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

var _ Publisher = (*NATSPublisher)(nil)

func NewNATSPublisher(url, prefix string, logger zerolog.Logger) (*NATSPublisher, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	nc, err := nats.Connect(url, nats.Name("clamctl-gateway"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{
		nc:     nc,
		prefix: prefix,
		log:    logger.With().Str("component", "events").Logger(),
	}, nil
}

func (p *NATSPublisher) PublishVerdict(report ScanReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode verdict event: %w", err)
	}
	subject := fmt.Sprintf("%s.verdict.%s", p.prefix, report.Status)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := p.nc.Publish(p.prefix+".verdict.all", data); err != nil {
		return fmt.Errorf("publish %s.verdict.all: %w", p.prefix, err)
	}
	p.log.Debug().Str("subject", subject).Str("scan_id", report.ScanID).Msg("verdict published")
	return nil
}

func (p *NATSPublisher) Close() {
	p.nc.Close()
}
