package ledger

import (
	"fmt"
	"math/bits"

	"github.com/vreid/kessen/internal/pkg/common"
)

const (
	BasePoints  = 10
	BonusPoints = 5

	// BonusThreshold is in basis points: 500 = 5.00%.
	BonusThreshold = 500
)

var (
	ErrEmptyParticipant = fmt.Errorf("%w: empty participant", common.ErrValidation)
	ErrEmptySymbol      = fmt.Errorf("%w: empty symbol", common.ErrValidation)
)

// CalculatePoints awards the base points for a correct prediction and the
// bonus on top when the delta strictly exceeds BonusThreshold.
func CalculatePoints(wasCorrect bool, performanceDelta uint64) uint64 {
	if !wasCorrect {
		return 0
	}

	points := uint64(BasePoints)
	if performanceDelta > BonusThreshold {
		points += BonusPoints
	}

	return points
}

func ValidateSubmission(participant string, submission Submission) error {
	if len(participant) == 0 {
		return ErrEmptyParticipant
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"asset_a", submission.AssetA},
		{"asset_b", submission.AssetB},
		{"predicted_winner", submission.PredictedWinner},
		{"actual_winner", submission.ActualWinner},
	} {
		if len(field.value) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptySymbol, field.name)
		}
	}

	return nil
}

// Accuracy is floor(correct*100/total), 0 for an account without battles.
func (s Stats) Accuracy() uint64 {
	if s.Total == 0 {
		return 0
	}

	// correct*100 can overflow uint64; correct <= total keeps the quotient small.
	hi, lo := bits.Mul64(s.Correct, 100)
	quotient, _ := bits.Div64(hi, lo, s.Total)

	return quotient
}

// apply folds one submission into the account's running totals.
func (s Stats) apply(wasCorrect bool, performanceDelta uint64, pointsEarned uint64, timestamp int64) Stats {
	s.Total++

	if wasCorrect {
		s.Correct++

		if performanceDelta > s.HighestDelta {
			s.HighestDelta = performanceDelta
		}
	} else {
		s.Incorrect++
	}

	s.Points += pointsEarned
	s.LastBattleTime = timestamp

	return s
}
