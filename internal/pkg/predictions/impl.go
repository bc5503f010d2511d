package predictions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/kessen/internal/pkg/common"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	ErrPredictionNotFound = fmt.Errorf("%w: prediction", common.ErrNotFound)
	ErrInvalidPrediction  = fmt.Errorf("%w: invalid prediction", common.ErrValidation)
	ErrAlreadySettled     = fmt.Errorf("%w: prediction already settled", common.ErrValidation)
	ErrNotPredictionOwner = fmt.Errorf("%w: prediction belongs to another account", common.ErrUnauthorized)
)

// PredictionsService is an append-only log of predictions made ahead of a
// battle. The only mutation after creation is flipping the settled flag.
type PredictionsService struct {
	DatabaseService *common.DatabaseService
	Logger          *zap.Logger

	Now func() time.Time
}

func NewPredictionsService(i do.Injector) (*PredictionsService, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	logger := do.MustInvoke[*zap.Logger](i)

	result := &PredictionsService{
		DatabaseService: databaseService,
		Logger:          logger.Named("predictions"),

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
		result.Routes(e.Group("/api/predictions"), authService.RequireIdentity())
	})

	return result, nil
}

func ValidatePrediction(participant string, request PredictionRequest) error {
	switch {
	case len(participant) == 0:
		return fmt.Errorf("%w: empty participant", ErrInvalidPrediction)
	case len(request.AssetA) == 0:
		return fmt.Errorf("%w: empty asset_a", ErrInvalidPrediction)
	case len(request.AssetB) == 0:
		return fmt.Errorf("%w: empty asset_b", ErrInvalidPrediction)
	case len(request.PredictedWinner) == 0:
		return fmt.Errorf("%w: empty predicted_winner", ErrInvalidPrediction)
	case request.AssetA == request.AssetB:
		return fmt.Errorf("%w: asset_a and asset_b are the same", ErrInvalidPrediction)
	case request.PredictedWinner != request.AssetA && request.PredictedWinner != request.AssetB:
		return fmt.Errorf("%w: predicted_winner is not one of the assets", ErrInvalidPrediction)
	}

	return nil
}

func (s *PredictionsService) SubmitPrediction(participant string, request PredictionRequest) (string, error) {
	err := ValidatePrediction(participant, request)
	if err != nil {
		return "", err
	}

	_predictionID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate prediction id: %w", err)
	}

	prediction := Prediction{
		ID:          _predictionID.String(),
		Participant: participant,

		AssetA:          request.AssetA,
		AssetB:          request.AssetB,
		PredictedWinner: request.PredictedWinner,

		CreatedAt: s.now().Unix(),

		Settled:   false,
		SettledAt: 0,
	}

	err = s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		records, accounts, err := predictionBuckets(tx)
		if err != nil {
			return err
		}

		err = putPrediction(records, prediction)
		if err != nil {
			return err
		}

		accountBucket, err := accounts.CreateBucketIfNotExists([]byte(participant))
		if err != nil {
			return fmt.Errorf("failed to create account index: %w", err)
		}

		sequence, err := accountBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate index slot: %w", err)
		}

		//nolint:wrapcheck
		return accountBucket.Put(common.Uint64ToKey(sequence), []byte(prediction.ID))
	})
	if err != nil {
		return "", fmt.Errorf("failed to record prediction: %w", err)
	}

	s.logger().Info("prediction submitted",
		zap.String("prediction_id", prediction.ID),
		zap.String("participant", participant),
		zap.String("predicted_winner", prediction.PredictedWinner))

	return prediction.ID, nil
}

// SettlePrediction marks a prediction settled. Only its participant or an
// admin may settle it, and only once.
func (s *PredictionsService) SettlePrediction(caller common.Identity, predictionID string) (Prediction, error) {
	var prediction Prediction

	err := s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		records, _, err := predictionBuckets(tx)
		if err != nil {
			return err
		}

		prediction, err = readPrediction(records, predictionID)
		if err != nil {
			return err
		}

		if caller.Subject != prediction.Participant && !caller.HasRole(common.RoleAdmin) {
			return ErrNotPredictionOwner
		}

		if prediction.Settled {
			return ErrAlreadySettled
		}

		prediction.Settled = true
		prediction.SettledAt = s.now().Unix()

		return putPrediction(records, prediction)
	})
	if err != nil {
		return Prediction{}, err
	}

	s.logger().Info("prediction settled",
		zap.String("prediction_id", predictionID),
		zap.String("settled_by", caller.Subject))

	return prediction, nil
}

func (s *PredictionsService) GetPrediction(predictionID string) (Prediction, error) {
	var prediction Prediction

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		records, _, err := predictionBuckets(tx)
		if err != nil {
			return err
		}

		prediction, err = readPrediction(records, predictionID)

		return err
	})
	if err != nil {
		return Prediction{}, err
	}

	return prediction, nil
}

func (s *PredictionsService) ListPredictions(account string) ([]Prediction, error) {
	result := []Prediction{}

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		records, accounts, err := predictionBuckets(tx)
		if err != nil {
			return err
		}

		if len(account) == 0 {
			return nil
		}

		accountBucket := accounts.Bucket([]byte(account))
		if accountBucket == nil {
			return nil
		}

		return accountBucket.ForEach(func(_, v []byte) error {
			prediction, err := readPrediction(records, string(v))
			if err != nil {
				return err
			}

			result = append(result, prediction)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}

	return result, nil
}

func (s *PredictionsService) ActivePredictions(account string) ([]Prediction, error) {
	all, err := s.ListPredictions(account)
	if err != nil {
		return nil, err
	}

	active := []Prediction{}

	for _, prediction := range all {
		if !prediction.Settled {
			active = append(active, prediction)
		}
	}

	return active, nil
}

func (s *PredictionsService) HasActivePrediction(account string) (bool, error) {
	active, err := s.ActivePredictions(account)
	if err != nil {
		return false, err
	}

	return len(active) > 0, nil
}

func (s *PredictionsService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}

	return s.Now()
}

func (s *PredictionsService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}

	return s.Logger
}

func predictionBuckets(tx *bbolt.Tx) (*bbolt.Bucket, *bbolt.Bucket, error) {
	records := tx.Bucket([]byte(common.PredictionsBucket))
	if records == nil {
		return nil, nil, fmt.Errorf("%w: %s", common.ErrBucketNotFound, common.PredictionsBucket)
	}

	accounts := tx.Bucket([]byte(common.PredictionsAccountsBucket))
	if accounts == nil {
		return nil, nil, fmt.Errorf("%w: %s", common.ErrBucketNotFound, common.PredictionsAccountsBucket)
	}

	return records, accounts, nil
}

func readPrediction(bucket *bbolt.Bucket, predictionID string) (Prediction, error) {
	var prediction Prediction

	if len(predictionID) == 0 {
		return Prediction{}, ErrPredictionNotFound
	}

	raw := bucket.Get([]byte(predictionID))
	if raw == nil {
		return Prediction{}, fmt.Errorf("%w: %s", ErrPredictionNotFound, predictionID)
	}

	err := json.Unmarshal(raw, &prediction)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to decode prediction %s: %w", predictionID, err)
	}

	return prediction, nil
}

func putPrediction(bucket *bbolt.Bucket, prediction Prediction) error {
	raw, err := json.Marshal(prediction)
	if err != nil {
		return fmt.Errorf("failed to encode prediction: %w", err)
	}

	err = bucket.Put([]byte(prediction.ID), raw)
	if err != nil {
		return fmt.Errorf("failed to put prediction: %w", err)
	}

	return nil
}
