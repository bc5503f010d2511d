package ledger

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/kessen/internal/pkg/common"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	ErrBattleNotFound      = fmt.Errorf("%w: battle", common.ErrNotFound)
	ErrParticipantMismatch = fmt.Errorf("%w: battle belongs to another account", common.ErrParticipantMismatch)
)

// LedgerService owns the per-account statistics, the battle history and the
// per-account history index. SubmitBattle is the only writer.
type LedgerService struct {
	DatabaseService *common.DatabaseService
	Logger          *zap.Logger

	EventSink chan<- Event

	Now func() time.Time

	mu sync.Mutex
}

func NewLedgerService(i do.Injector) (*LedgerService, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	logger := do.MustInvoke[*zap.Logger](i)
	eventSink := do.MustInvokeNamed[chan<- Event](i, "event-sink")

	//nolint:exhaustruct
	result := &LedgerService{
		DatabaseService: databaseService,
		Logger:          logger.Named("ledger"),

		EventSink: eventSink,

		Now: time.Now,
	}

	authService, err := do.Invoke[*common.AuthService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(func(e *echo.Echo) {
		result.Routes(e.Group("/api/ledger"), authService.RequireIdentity())
	})

	return result, nil
}

//nolint:cyclop,funlen // Database transaction logic requires this complexity and length
func (s *LedgerService) SubmitBattle(participant string, submission Submission) (Result, error) {
	err := ValidateSubmission(participant, submission)
	if err != nil {
		return Result{}, err
	}

	wasCorrect := submission.PredictedWinner == submission.ActualWinner
	pointsEarned := CalculatePoints(wasCorrect, submission.PerformanceDelta)

	var (
		battle Battle
		stats  Stats
	)

	s.mu.Lock()

	err = s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		statsBucket, battlesBucket, accountBattlesBucket, err := ledgerBuckets(tx)
		if err != nil {
			return err
		}

		stats, err = readStats(statsBucket, participant)
		if err != nil {
			return err
		}

		sequence, err := battlesBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate battle id: %w", err)
		}

		timestamp := s.now().Unix()

		battle = Battle{
			ID:          sequence - 1,
			Participant: participant,

			AssetA:          submission.AssetA,
			AssetB:          submission.AssetB,
			PredictedWinner: submission.PredictedWinner,
			ActualWinner:    submission.ActualWinner,
			WasCorrect:      wasCorrect,

			PerformanceDelta: submission.PerformanceDelta,
			ScoreA:           submission.ScoreA,
			ScoreB:           submission.ScoreB,

			Timestamp: timestamp,
		}

		stats = stats.apply(wasCorrect, submission.PerformanceDelta, pointsEarned, timestamp)

		err = putJSON(statsBucket, []byte(participant), stats)
		if err != nil {
			return fmt.Errorf("failed to put stats: %w", err)
		}

		err = putJSON(battlesBucket, common.Uint64ToKey(battle.ID), battle)
		if err != nil {
			return fmt.Errorf("failed to put battle: %w", err)
		}

		accountBucket, err := accountBattlesBucket.CreateBucketIfNotExists([]byte(participant))
		if err != nil {
			return fmt.Errorf("failed to create history index: %w", err)
		}

		err = accountBucket.Put(common.Uint64ToKey(battle.ID), []byte{})
		if err != nil {
			return fmt.Errorf("failed to append history index: %w", err)
		}

		return nil
	})

	if err != nil {
		s.mu.Unlock()

		return Result{}, fmt.Errorf("failed to record battle: %w", err)
	}

	// Events for one account must leave in commit order.
	s.emit(BattleSubmitted{
		BattleID:     battle.ID,
		Participant:  participant,
		WasCorrect:   wasCorrect,
		PointsEarned: pointsEarned,
		Timestamp:    battle.Timestamp,
	})
	s.emit(LeaderboardUpdated{
		Participant: participant,
		Stats:       stats,
		Accuracy:    stats.Accuracy(),
	})

	s.mu.Unlock()

	s.logger().Info("battle recorded",
		zap.Uint64("battle_id", battle.ID),
		zap.String("participant", participant),
		zap.Bool("was_correct", wasCorrect),
		zap.Uint64("points_earned", pointsEarned))

	return Result{
		BattleID:     battle.ID,
		WasCorrect:   wasCorrect,
		PointsEarned: pointsEarned,
	}, nil
}

func (s *LedgerService) GetUserStats(account string) (Stats, error) {
	var stats Stats

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		statsBucket, _, _, err := ledgerBuckets(tx)
		if err != nil {
			return err
		}

		stats, err = readStats(statsBucket, account)

		return err
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}

	return stats, nil
}

func (s *LedgerService) GetAccuracy(account string) (uint64, error) {
	stats, err := s.GetUserStats(account)
	if err != nil {
		return 0, err
	}

	return stats.Accuracy(), nil
}

func (s *LedgerService) BattleCount() (uint64, error) {
	var count uint64

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		_, battlesBucket, _, err := ledgerBuckets(tx)
		if err != nil {
			return err
		}

		count = battlesBucket.Sequence()

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read battle count: %w", err)
	}

	return count, nil
}

func (s *LedgerService) GetBattleByID(battleID uint64) (Battle, error) {
	var battle Battle

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		_, battlesBucket, _, err := ledgerBuckets(tx)
		if err != nil {
			return err
		}

		battle, err = readBattle(battlesBucket, battleID)

		return err
	})
	if err != nil {
		return Battle{}, err
	}

	return battle, nil
}

func (s *LedgerService) WasPredictionCorrect(battleID uint64, account string) (bool, error) {
	battle, err := s.GetBattleByID(battleID)
	if err != nil {
		return false, err
	}

	if battle.Participant != account {
		return false, fmt.Errorf("%w: battle %d", ErrParticipantMismatch, battleID)
	}

	return battle.WasCorrect, nil
}

func (s *LedgerService) GetPlayerBattleIDs(account string) ([]uint64, error) {
	battleIDs := []uint64{}

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		_, _, accountBattlesBucket, err := ledgerBuckets(tx)
		if err != nil {
			return err
		}

		battleIDs = readHistory(accountBattlesBucket, account)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history index: %w", err)
	}

	return battleIDs, nil
}

func (s *LedgerService) GetPlayerBattleCount(account string) (uint64, error) {
	battleIDs, err := s.GetPlayerBattleIDs(account)
	if err != nil {
		return 0, err
	}

	return uint64(len(battleIDs)), nil
}

func (s *LedgerService) GetPlayerBattles(account string) ([]Battle, error) {
	battles := []Battle{}

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		_, battlesBucket, accountBattlesBucket, err := ledgerBuckets(tx)
		if err != nil {
			return err
		}

		for _, battleID := range readHistory(accountBattlesBucket, account) {
			battle, err := readBattle(battlesBucket, battleID)
			if err != nil {
				return err
			}

			battles = append(battles, battle)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read battles: %w", err)
	}

	return battles, nil
}

// GetLeaderboard ranks every account by points, then accuracy, then total
// battles. A non-positive limit returns all accounts.
func (s *LedgerService) GetLeaderboard(limit int) ([]Standing, error) {
	standings := []Standing{}

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		statsBucket, _, _, err := ledgerBuckets(tx)
		if err != nil {
			return err
		}

		return statsBucket.ForEach(func(k, v []byte) error {
			var stats Stats

			err := json.Unmarshal(v, &stats)
			if err != nil {
				return fmt.Errorf("failed to decode stats for %s: %w", k, err)
			}

			standings = append(standings, Standing{
				Account:  string(k),
				Stats:    stats,
				Accuracy: stats.Accuracy(),
			})

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	slices.SortFunc(standings, func(a, b Standing) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}

		if c := cmp.Compare(b.Accuracy, a.Accuracy); c != 0 {
			return c
		}

		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}

		return cmp.Compare(a.Account, b.Account)
	})

	if limit > 0 && len(standings) > limit {
		standings = standings[:limit]
	}

	for idx := range standings {
		standings[idx].Rank = idx + 1
	}

	return standings, nil
}

func (s *LedgerService) emit(event Event) {
	if s.EventSink == nil {
		return
	}

	select {
	case s.EventSink <- event:
	default:
		s.logger().Warn("event sink full, dropping event", zap.String("topic", event.Topic()))
	}
}

func (s *LedgerService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}

	return s.Now()
}

func (s *LedgerService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}

	return s.Logger
}

func ledgerBuckets(tx *bbolt.Tx) (*bbolt.Bucket, *bbolt.Bucket, *bbolt.Bucket, error) {
	statsBucket := tx.Bucket([]byte(common.LedgerStatsBucket))
	if statsBucket == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", common.ErrBucketNotFound, common.LedgerStatsBucket)
	}

	battlesBucket := tx.Bucket([]byte(common.LedgerBattlesBucket))
	if battlesBucket == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", common.ErrBucketNotFound, common.LedgerBattlesBucket)
	}

	accountBattlesBucket := tx.Bucket([]byte(common.LedgerAccountBattlesBucket))
	if accountBattlesBucket == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", common.ErrBucketNotFound, common.LedgerAccountBattlesBucket)
	}

	return statsBucket, battlesBucket, accountBattlesBucket, nil
}

func readStats(bucket *bbolt.Bucket, account string) (Stats, error) {
	var stats Stats

	if len(account) == 0 {
		return stats, nil
	}

	raw := bucket.Get([]byte(account))
	if raw == nil {
		return stats, nil
	}

	err := json.Unmarshal(raw, &stats)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to decode stats: %w", err)
	}

	return stats, nil
}

func readBattle(bucket *bbolt.Bucket, battleID uint64) (Battle, error) {
	var battle Battle

	raw := bucket.Get(common.Uint64ToKey(battleID))
	if raw == nil {
		return Battle{}, fmt.Errorf("%w: %d", ErrBattleNotFound, battleID)
	}

	err := json.Unmarshal(raw, &battle)
	if err != nil {
		return Battle{}, fmt.Errorf("failed to decode battle %d: %w", battleID, err)
	}

	return battle, nil
}

func readHistory(bucket *bbolt.Bucket, account string) []uint64 {
	battleIDs := []uint64{}

	if len(account) == 0 {
		return battleIDs
	}

	accountBucket := bucket.Bucket([]byte(account))
	if accountBucket == nil {
		return battleIDs
	}

	cursor := accountBucket.Cursor()
	for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
		battleIDs = append(battleIDs, common.KeyToUint64(k))
	}

	return battleIDs
}

func putJSON(bucket *bbolt.Bucket, key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}

	//nolint:wrapcheck
	return bucket.Put(key, raw)
}
