package registry

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/kessen/internal/pkg/common"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	ErrTokenNotFound  = fmt.Errorf("%w: token", common.ErrNotFound)
	ErrEmptyAccount   = fmt.Errorf("%w: empty account", common.ErrValidation)
	ErrNotOwner       = fmt.Errorf("%w: from is not the token owner", common.ErrValidation)
	ErrSelfApproval   = fmt.Errorf("%w: cannot approve the owner", common.ErrValidation)
	ErrSelfOperator   = fmt.Errorf("%w: cannot approve self as operator", common.ErrValidation)
	ErrNotMinter      = fmt.Errorf("%w: caller is not a minter", common.ErrUnauthorized)
	ErrNotAuthorized  = fmt.Errorf("%w: caller is neither owner, approved nor operator", common.ErrUnauthorized)
	errCorruptedToken = fmt.Errorf("%w: token without owner", common.ErrNotFound)
)

// RegistryService keeps ownership of victory tokens: one owner, an optional
// approved account and a metadata URI per token, plus per-owner operators.
type RegistryService struct {
	DatabaseService *common.DatabaseService
	Logger          *zap.Logger
}

func NewRegistryService(i do.Injector) (*RegistryService, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	logger := do.MustInvoke[*zap.Logger](i)

	result := &RegistryService{
		DatabaseService: databaseService,
		Logger:          logger.Named("registry"),
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
		result.Routes(e.Group("/api/registry"), authService.RequireIdentity())
	})

	return result, nil
}

type buckets struct {
	owners    *bbolt.Bucket
	uris      *bbolt.Bucket
	approvals *bbolt.Bucket
	balances  *bbolt.Bucket
	operators *bbolt.Bucket
}

func registryBuckets(tx *bbolt.Tx) (*buckets, error) {
	result := &buckets{}

	for _, b := range []struct {
		name   string
		target **bbolt.Bucket
	}{
		{common.RegistryOwnersBucket, &result.owners},
		{common.RegistryURIsBucket, &result.uris},
		{common.RegistryApprovalsBucket, &result.approvals},
		{common.RegistryBalancesBucket, &result.balances},
		{common.RegistryOperatorsBucket, &result.operators},
	} {
		*b.target = tx.Bucket([]byte(b.name))
		if *b.target == nil {
			return nil, fmt.Errorf("%w: %s", common.ErrBucketNotFound, b.name)
		}
	}

	return result, nil
}

func (s *RegistryService) Mint(caller common.Identity, recipient string, uri string) (uint64, error) {
	if !caller.HasRole(common.RoleMinter, common.RoleAdmin) {
		return 0, ErrNotMinter
	}

	if len(recipient) == 0 {
		return 0, ErrEmptyAccount
	}

	var tokenID uint64

	err := s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		b, err := registryBuckets(tx)
		if err != nil {
			return err
		}

		sequence, err := b.owners.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate token id: %w", err)
		}

		tokenID = sequence - 1
		key := common.Uint64ToKey(tokenID)

		err = b.owners.Put(key, []byte(recipient))
		if err != nil {
			return fmt.Errorf("failed to put owner: %w", err)
		}

		err = b.uris.Put(key, []byte(uri))
		if err != nil {
			return fmt.Errorf("failed to put uri: %w", err)
		}

		return adjustBalance(b.balances, recipient, 1)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mint token: %w", err)
	}

	s.logger().Info("token minted",
		zap.Uint64("token_id", tokenID),
		zap.String("recipient", recipient),
		zap.String("minter", caller.Subject))

	return tokenID, nil
}

//nolint:cyclop
func (s *RegistryService) Transfer(caller common.Identity, from string, to string, tokenID uint64) error {
	if len(caller.Subject) == 0 {
		return ErrNotAuthorized
	}

	if len(from) == 0 || len(to) == 0 {
		return ErrEmptyAccount
	}

	err := s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		b, err := registryBuckets(tx)
		if err != nil {
			return err
		}

		key := common.Uint64ToKey(tokenID)

		owner, err := ownerOf(b, tokenID)
		if err != nil {
			return err
		}

		if owner != from {
			return ErrNotOwner
		}

		approved := string(b.approvals.Get(key))
		isApproved := len(approved) > 0 && caller.Subject == approved

		if caller.Subject != owner && !isApproved && !isOperator(b, owner, caller.Subject) {
			return ErrNotAuthorized
		}

		err = b.approvals.Delete(key)
		if err != nil {
			return fmt.Errorf("failed to clear approval: %w", err)
		}

		err = b.owners.Put(key, []byte(to))
		if err != nil {
			return fmt.Errorf("failed to put owner: %w", err)
		}

		err = adjustBalance(b.balances, from, -1)
		if err != nil {
			return err
		}

		return adjustBalance(b.balances, to, 1)
	})
	if err != nil {
		return err
	}

	s.logger().Info("token transferred",
		zap.Uint64("token_id", tokenID),
		zap.String("from", from),
		zap.String("to", to))

	return nil
}

// Approve lets approved transfer tokenID on the owner's behalf. An empty
// approved clears the approval.
func (s *RegistryService) Approve(caller common.Identity, approved string, tokenID uint64) error {
	if len(caller.Subject) == 0 {
		return ErrNotAuthorized
	}

	//nolint:wrapcheck
	return s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		b, err := registryBuckets(tx)
		if err != nil {
			return err
		}

		owner, err := ownerOf(b, tokenID)
		if err != nil {
			return err
		}

		if approved == owner {
			return ErrSelfApproval
		}

		if caller.Subject != owner && !isOperator(b, owner, caller.Subject) {
			return ErrNotAuthorized
		}

		key := common.Uint64ToKey(tokenID)

		if len(approved) == 0 {
			return b.approvals.Delete(key)
		}

		return b.approvals.Put(key, []byte(approved))
	})
}

func (s *RegistryService) SetApprovalForAll(caller common.Identity, operator string, approved bool) error {
	if len(caller.Subject) == 0 || len(operator) == 0 {
		return ErrEmptyAccount
	}

	if caller.Subject == operator {
		return ErrSelfOperator
	}

	//nolint:wrapcheck
	return s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		b, err := registryBuckets(tx)
		if err != nil {
			return err
		}

		if !approved {
			ownerBucket := b.operators.Bucket([]byte(caller.Subject))
			if ownerBucket == nil {
				return nil
			}

			return ownerBucket.Delete([]byte(operator))
		}

		ownerBucket, err := b.operators.CreateBucketIfNotExists([]byte(caller.Subject))
		if err != nil {
			return fmt.Errorf("failed to create operator bucket: %w", err)
		}

		return ownerBucket.Put([]byte(operator), []byte{1})
	})
}

func (s *RegistryService) GetToken(tokenID uint64) (Token, error) {
	var token Token

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		b, err := registryBuckets(tx)
		if err != nil {
			return err
		}

		owner, err := ownerOf(b, tokenID)
		if err != nil {
			return err
		}

		key := common.Uint64ToKey(tokenID)

		token = Token{
			ID:       tokenID,
			Owner:    owner,
			URI:      string(b.uris.Get(key)),
			Approved: string(b.approvals.Get(key)),
		}

		return nil
	})
	if err != nil {
		return Token{}, err
	}

	return token, nil
}

func (s *RegistryService) OwnerOf(tokenID uint64) (string, error) {
	token, err := s.GetToken(tokenID)

	return token.Owner, err
}

func (s *RegistryService) TokenURI(tokenID uint64) (string, error) {
	token, err := s.GetToken(tokenID)

	return token.URI, err
}

func (s *RegistryService) GetApproved(tokenID uint64) (string, error) {
	token, err := s.GetToken(tokenID)

	return token.Approved, err
}

func (s *RegistryService) BalanceOf(account string) (uint64, error) {
	if len(account) == 0 {
		return 0, ErrEmptyAccount
	}

	var balance uint64

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		b, err := registryBuckets(tx)
		if err != nil {
			return err
		}

		balance = common.BytesToUint64(b.balances.Get([]byte(account)), 0)

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}

	return balance, nil
}

func (s *RegistryService) IsApprovedForAll(owner string, operator string) (bool, error) {
	var approved bool

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		b, err := registryBuckets(tx)
		if err != nil {
			return err
		}

		approved = isOperator(b, owner, operator)

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read operators: %w", err)
	}

	return approved, nil
}

func (s *RegistryService) TotalSupply() (uint64, error) {
	var supply uint64

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		b, err := registryBuckets(tx)
		if err != nil {
			return err
		}

		supply = b.owners.Sequence()

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read supply: %w", err)
	}

	return supply, nil
}

func (s *RegistryService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}

	return s.Logger
}

func ownerOf(b *buckets, tokenID uint64) (string, error) {
	if tokenID >= b.owners.Sequence() {
		return "", fmt.Errorf("%w: %d", ErrTokenNotFound, tokenID)
	}

	owner := b.owners.Get(common.Uint64ToKey(tokenID))
	if len(owner) == 0 {
		return "", fmt.Errorf("%w: %d", errCorruptedToken, tokenID)
	}

	return string(owner), nil
}

func isOperator(b *buckets, owner string, operator string) bool {
	if len(owner) == 0 || len(operator) == 0 {
		return false
	}

	ownerBucket := b.operators.Bucket([]byte(owner))
	if ownerBucket == nil {
		return false
	}

	return ownerBucket.Get([]byte(operator)) != nil
}

func adjustBalance(bucket *bbolt.Bucket, account string, delta int) error {
	balance := common.BytesToUint64(bucket.Get([]byte(account)), 0)

	switch {
	case delta > 0:
		balance += uint64(delta)
	case uint64(-delta) > balance:
		balance = 0
	default:
		balance -= uint64(-delta)
	}

	err := bucket.Put([]byte(account), common.Uint64ToBytes(balance))
	if err != nil {
		return fmt.Errorf("failed to put balance: %w", err)
	}

	return nil
}
