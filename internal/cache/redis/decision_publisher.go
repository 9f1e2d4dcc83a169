package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// Channel and stream names used by DecisionPublisher.
const (
	DecisionsChannel = keyPrefix + "decisions"
	DecisionsStream  = keyPrefix + "decisions:log"
)

// DecisionPublisher is a domain.Recorder that publishes every decision on
// DecisionsChannel for live consumers and appends it to DecisionsStream.
type DecisionPublisher struct {
	bus domain.SignalBus
}

// NewDecisionPublisher creates a DecisionPublisher on bus.
func NewDecisionPublisher(bus domain.SignalBus) *DecisionPublisher {
	return &DecisionPublisher{bus: bus}
}

// Name implements domain.Recorder.
func (p *DecisionPublisher) Name() string { return "redis" }

// Record implements domain.Recorder.
func (p *DecisionPublisher) Record(ctx context.Context, rec domain.DecisionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal decision %s: %w", rec.ID, err)
	}
	if err := p.bus.Publish(ctx, DecisionsChannel, payload); err != nil {
		return err
	}
	return p.bus.StreamAppend(ctx, DecisionsStream, payload)
}

var _ domain.Recorder = (*DecisionPublisher)(nil)
