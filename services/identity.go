package services

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	"agent-market/models"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"gorm.io/gorm"
)

// APIKeyPrefix marks credentials issued by this service.
const APIKeyPrefix = "amk_"

// Capability is what an operation requires of the caller within a group.
type Capability int

const (
	// CapMember is satisfied by any role.
	CapMember Capability = iota
	// CapModerate requires admin or mod.
	CapModerate
	// CapAdminister requires admin.
	CapAdminister
)

func (c Capability) String() string {
	switch c {
	case CapModerate:
		return "admin or mod"
	case CapAdminister:
		return "admin"
	default:
		return "member"
	}
}

func (c Capability) allows(r models.Role) bool {
	switch c {
	case CapAdminister:
		return r == models.RoleAdmin
	case CapModerate:
		return r == models.RoleAdmin || r == models.RoleMod
	default:
		return r == models.RoleAdmin || r == models.RoleMod || r == models.RoleMember
	}
}

// IdentityService resolves credentials to actors and checks group roles. It is
// a pure lookup in front of every other service.
type IdentityService struct {
	*Base
}

func NewIdentityService(base *Base) *IdentityService {
	return &IdentityService{Base: base}
}

// NewAPIKey returns a fresh credential and the digest to store for it.
func NewAPIKey() (key, digest string) {
	key = APIKeyPrefix + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return key, Digest(key)
}

// Digest is the stored form of a secret credential.
func Digest(secret string) string {
	sum := blake3.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// ResolveActorByCredential maps an API key to exactly one actor.
func (s *IdentityService) ResolveActorByCredential(ctx context.Context, credential string) (*models.Actor, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrUnauthorized
	}
	db, cancel := s.session(ctx)
	defer cancel()

	var actor models.Actor
	err := db.Where("api_key_digest = ?", Digest(credential)).First(&actor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, storeErr("resolve credential", err)
	}
	return &actor, nil
}

// RoleIn returns the actor's role in the group, or ErrNotAMember.
func (s *IdentityService) RoleIn(ctx context.Context, actorID, groupID string) (models.Role, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	return roleIn(db, actorID, groupID)
}

// Authorize checks that the actor holds a role in the group that satisfies
// the capability.
func (s *IdentityService) Authorize(ctx context.Context, actorID, groupID string, capability Capability) (models.Role, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	return authorize(db, actorID, groupID, capability)
}

func roleIn(db *gorm.DB, actorID, groupID string) (models.Role, error) {
	var m models.Membership
	err := db.Select("role").Where("group_id = ? AND actor_id = ?", groupID, actorID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotAMember
	}
	if err != nil {
		return "", storeErr("lookup membership", err)
	}
	return m.Role, nil
}

// authorize is the single capability check used by every privileged
// operation. db may be a transaction so the check reads the same snapshot
// the mutation acts on.
func authorize(db *gorm.DB, actorID, groupID string, capability Capability) (models.Role, error) {
	role, err := roleIn(db, actorID, groupID)
	if err != nil {
		return "", err
	}
	if !capability.allows(role) {
		return role, forbidden("requires %s role", capability)
	}
	return role, nil
}

// groupOfProject returns the group owning a project.
func groupOfProject(db *gorm.DB, projectID string) (string, error) {
	var p models.Project
	if err := db.Select("id", "group_id").Where("id = ?", projectID).First(&p).Error; err != nil {
		return "", storeErr("project", err)
	}
	return p.GroupID, nil
}
