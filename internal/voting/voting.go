package voting

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lireddit/lireddit/internal/db"
	"github.com/lireddit/lireddit/internal/models"
	"github.com/lireddit/lireddit/pkg/telemetry"
)

var (
	// ErrUnauthorized is returned when no caller identity is present
	ErrUnauthorized = errors.New("not authenticated")
	// ErrPostNotFound is returned when the voted post does not exist
	ErrPostNotFound = errors.New("post not found")
	// ErrInvalidValue is returned for vote values other than +1 and -1
	ErrInvalidValue = errors.New("vote value must be 1 or -1")
)

// Outcome says how a cast vote changed the ledger
type Outcome int

const (
	// Created means a new vote row was inserted
	Created Outcome = iota + 1
	// Flipped means an existing vote was reversed
	Flipped
	// Unchanged means the caller already held this vote
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Flipped:
		return "flipped"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Service applies votes to the vote ledger and post scores
type Service struct {
	db         *gorm.DB
	maxRetries int
	logger     *zap.Logger
	votes      metric.Int64Counter
}

// NewService creates a voting service. maxRetries bounds how many times a
// conflicting vote transaction is replayed.
func NewService(database *gorm.DB, maxRetries int, logger *zap.Logger) *Service {
	counter, err := telemetry.Meter().Int64Counter("lireddit_votes_total",
		metric.WithDescription("Votes cast, by outcome"))
	if err != nil {
		logger.Warn("Failed to create votes counter", zap.Error(err))
	}
	return &Service{
		db:         database,
		maxRetries: maxRetries,
		logger:     logger,
		votes:      counter,
	}
}

// CastVote records userID's vote of value on postID and adjusts the post's
// points in the same transaction. Repeating a vote is a no-op; the opposite
// value flips the vote and moves points by 2*value.
func (s *Service) CastVote(ctx context.Context, userID, postID int64, value int) (Outcome, error) {
	if userID == 0 {
		return 0, ErrUnauthorized
	}
	if !models.ValidVoteValue(value) {
		return 0, ErrInvalidValue
	}

	ctx, span := telemetry.StartSpan(ctx, "voting.CastVote")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("post_id", postID),
		attribute.Int("value", value),
	)

	var outcome Outcome
	attempts := 0
	err := db.RetryTx(ctx, s.db, s.maxRetries, func(tx *gorm.DB) error {
		attempts++
		var err error
		outcome, err = s.apply(tx, userID, postID, int16(value))
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, ErrPostNotFound) {
			s.logger.Error("Failed to cast vote",
				zap.Int64("user_id", userID),
				zap.Int64("post_id", postID),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
		}
		return 0, err
	}

	span.SetAttributes(attribute.String("outcome", outcome.String()))
	if s.votes != nil {
		s.votes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
	}
	if attempts > 1 {
		s.logger.Debug("Vote applied after retry",
			zap.Int64("post_id", postID),
			zap.Int("attempts", attempts),
		)
	}
	return outcome, nil
}

// apply runs one attempt of the vote transaction
func (s *Service) apply(tx *gorm.DB, userID, postID int64, value int16) (Outcome, error) {
	var existing models.Vote
	q := tx.Where("user_id = ? AND post_id = ?", userID, postID)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Limit(1).Find(&existing).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read vote: %w", err)
	}
	found := existing.UserID != 0

	switch {
	case !found:
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Vote{UserID: userID, PostID: postID, Value: value})
		if res.Error != nil {
			if db.IsForeignKeyViolation(res.Error) {
				return 0, ErrPostNotFound
			}
			return 0, fmt.Errorf("failed to insert vote: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// a concurrent transaction inserted the row after our read
			return 0, db.ErrRetryable
		}
		if err := addPoints(tx, postID, int64(value)); err != nil {
			return 0, err
		}
		return Created, nil

	case existing.Value == value:
		return Unchanged, nil

	default:
		res := tx.Model(&models.Vote{}).
			Where("user_id = ? AND post_id = ? AND value = ?", userID, postID, existing.Value).
			Updates(map[string]interface{}{"value": value, "updated_at": tx.NowFunc()})
		if res.Error != nil {
			return 0, fmt.Errorf("failed to flip vote: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return 0, db.ErrRetryable
		}
		if err := addPoints(tx, postID, 2*int64(value)); err != nil {
			return 0, err
		}
		return Flipped, nil
	}
}

func addPoints(tx *gorm.DB, postID, delta int64) error {
	res := tx.Model(&models.Post{}).
		Where("id = ?", postID).
		UpdateColumn("points", gorm.Expr("points + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("failed to update points: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPostNotFound
	}
	return nil
}
