package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/platform/sentiment"
)

// ScoreLister returns sentiment scores for a set of symbols.
type ScoreLister interface {
	Scores(ctx context.Context, symbols []string) ([]sentiment.Score, error)
}

// SentimentFeedConfig configures a SentimentFeed.
type SentimentFeedConfig struct {
	Interval     time.Duration
	TargetTokens []string
	Threshold    decimal.Decimal // minimum |score|
	MinMentions  int
}

// SentimentFeed polls sentiment scores and emits a sentiment_alert for every
// symbol with enough mentions and a strong enough score.
type SentimentFeed struct {
	*Dispatcher
	cfg    SentimentFeedConfig
	scores ScoreLister
	logger *slog.Logger
}

// NewSentimentFeed creates a SentimentFeed.
func NewSentimentFeed(cfg SentimentFeedConfig, scores ScoreLister, logger *slog.Logger) *SentimentFeed {
	logger = logger.With(slog.String("component", "sentiment_feed"))
	return &SentimentFeed{
		Dispatcher: NewDispatcher("sentiment_feed", logger),
		cfg:        cfg,
		scores:     scores,
		logger:     logger,
	}
}

// Name implements Source.
func (f *SentimentFeed) Name() string { return "sentiment_feed" }

// Run implements Source.
func (f *SentimentFeed) Run(ctx context.Context) error {
	f.logger.Info("sentiment_feed: started", slog.Duration("interval", f.cfg.Interval))
	return pollLoop(ctx, f.Name(), f.cfg.Interval, f.logger, f.poll)
}

func (f *SentimentFeed) poll(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, scannerRequestTimeout)
	scores, err := f.scores.Scores(reqCtx, f.cfg.TargetTokens)
	cancel()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, s := range scores {
		if s.Symbol == "" || s.Mentions < f.cfg.MinMentions || s.Score.Abs().LessThan(f.cfg.Threshold) {
			continue
		}
		f.Dispatch(ctx, domain.NormalizedEvent{
			ID:        uuid.NewString(),
			Source:    "sentiment_feed",
			Type:      domain.EventSentimentAlert,
			Symbol:    s.Symbol,
			Token:     s.Symbol,
			Score:     s.Score,
			Mentions:  s.Mentions,
			Timestamp: now,
		})
	}
	return nil
}
