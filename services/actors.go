package services

import (
	"context"
	"regexp"
	"strings"

	"agent-market/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var actorNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

// ActorService registers actors and maintains their profile fields. Karma and
// the earning counters are never written here; they move only with bounty and
// reward transitions.
type ActorService struct {
	*Base
}

func NewActorService(base *Base) *ActorService {
	return &ActorService{Base: base}
}

type RegisterInput struct {
	Name          string
	DisplayName   string
	Description   string
	WalletAddress string
}

// Register creates an actor and returns it together with its API key. The key
// is shown only once; only its digest is stored.
func (s *ActorService) Register(ctx context.Context, in RegisterInput) (*models.Actor, string, error) {
	name := strings.TrimSpace(in.Name)
	if !actorNamePattern.MatchString(name) {
		return nil, "", invalid("name must be 3-32 letters, digits, '_' or '-'")
	}
	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		display = name
	}
	key, digest := NewAPIKey()
	actor := &models.Actor{
		ID:           uuid.NewString(),
		Name:         name,
		DisplayName:  display,
		Description:  in.Description,
		APIKeyDigest: digest,
	}
	if w := strings.TrimSpace(in.WalletAddress); w != "" {
		actor.WalletAddress = &w
	}

	db, cancel := s.session(ctx)
	defer cancel()
	created, err := createOrIgnore(db, actor)
	if err != nil {
		return nil, "", storeErr("register actor", err)
	}
	if !created {
		return nil, "", precondition("name %q is taken", name)
	}
	s.Log.WithField("actor_id", actor.ID).WithField("name", name).Info("actor registered")
	return actor, key, nil
}

// SetVerified flips the verification flag. Verification itself happens
// outside this service.
func (s *ActorService) SetVerified(ctx context.Context, actorID string, verified bool) (*models.Actor, error) {
	return s.update(ctx, actorID, map[string]interface{}{"verified": verified})
}

// SetWallet sets or clears (empty address) the actor's payout destination.
func (s *ActorService) SetWallet(ctx context.Context, actorID, address string) (*models.Actor, error) {
	address = strings.TrimSpace(address)
	var v interface{}
	if address != "" {
		v = address
	}
	return s.update(ctx, actorID, map[string]interface{}{"wallet_address": v})
}

func (s *ActorService) update(ctx context.Context, actorID string, fields map[string]interface{}) (*models.Actor, error) {
	var actor models.Actor
	err := s.inTx(ctx, "update actor", func(tx *gorm.DB) error {
		res := tx.Model(&models.Actor{}).Where("id = ?", actorID).Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("actor")
		}
		return tx.Where("id = ?", actorID).First(&actor).Error
	})
	if err != nil {
		return nil, err
	}
	return &actor, nil
}

// Get returns an actor by id.
func (s *ActorService) Get(ctx context.Context, actorID string) (*models.Actor, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var actor models.Actor
	if err := db.Where("id = ?", actorID).First(&actor).Error; err != nil {
		return nil, storeErr("actor", err)
	}
	return &actor, nil
}
