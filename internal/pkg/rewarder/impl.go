package rewarder

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/do/v2"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/ledger"
	"github.com/vreid/kessen/internal/pkg/registry"
	"go.uber.org/zap"
)

const DefaultTokenBaseURI = "kessen://battles"

// Identity is the account the rewarder mints under.
//
//nolint:gochecknoglobals
var Identity = common.Identity{
	Subject: "kessen-rewarder",
	Role:    common.RoleMinter,
}

type BattleSource interface {
	GetBattleByID(battleID uint64) (ledger.Battle, error)
}

type Minter interface {
	Mint(caller common.Identity, recipient string, uri string) (uint64, error)
}

// RewarderService mints a victory token for every correct battle whose
// performance delta clears the bonus threshold.
type RewarderService struct {
	Battles BattleSource
	Minter  Minter
	Logger  *zap.Logger

	TokenBaseURI string
}

func NewRewarderService(i do.Injector) (*RewarderService, error) {
	ledgerService := do.MustInvoke[*ledger.LedgerService](i)
	registryService := do.MustInvoke[*registry.RegistryService](i)
	logger := do.MustInvoke[*zap.Logger](i)
	tokenBaseURI := do.MustInvokeNamed[string](i, "token-base-uri")

	return &RewarderService{
		Battles: ledgerService,
		Minter:  registryService,
		Logger:  logger.Named("rewarder"),

		TokenBaseURI: tokenBaseURI,
	}, nil
}

func TokenURI(baseURI string, battleID uint64) string {
	if len(baseURI) == 0 {
		baseURI = DefaultTokenBaseURI
	}

	return fmt.Sprintf("%s/%d", strings.TrimSuffix(baseURI, "/"), battleID)
}

func (s *RewarderService) Notify(_ context.Context, event ledger.Event) error {
	submitted, ok := event.(ledger.BattleSubmitted)
	if !ok || !submitted.WasCorrect {
		return nil
	}

	_, _, err := s.HandleBattle(submitted.BattleID)

	return err
}

// HandleBattle mints the token for battleID if it earned one. The bool
// reports whether a token was minted.
func (s *RewarderService) HandleBattle(battleID uint64) (uint64, bool, error) {
	battle, err := s.Battles.GetBattleByID(battleID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load battle %d: %w", battleID, err)
	}

	if !battle.WasCorrect || battle.PerformanceDelta <= ledger.BonusThreshold {
		return 0, false, nil
	}

	tokenID, err := s.Minter.Mint(Identity, battle.Participant, TokenURI(s.TokenBaseURI, battleID))
	if err != nil {
		return 0, false, fmt.Errorf("failed to mint victory token for battle %d: %w", battleID, err)
	}

	s.logger().Info("victory token minted",
		zap.Uint64("battle_id", battleID),
		zap.Uint64("token_id", tokenID),
		zap.String("participant", battle.Participant))

	return tokenID, true, nil
}

func (s *RewarderService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}

	return s.Logger
}
