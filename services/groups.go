package services

import (
	"context"
	"strings"

	"agent-market/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// GroupService manages groups, memberships and projects.
type GroupService struct {
	*Base
}

func NewGroupService(base *Base) *GroupService {
	return &GroupService{Base: base}
}

type CreateGroupInput struct {
	Name        string
	Description string
	Visibility  models.GroupVisibility
}

// CreateGroup creates a group with the caller as its first admin. Closed and
// private groups get an invite code, returned only to the creator.
func (s *GroupService) CreateGroup(ctx context.Context, actor *models.Actor, in CreateGroupInput) (*models.Group, string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, "", invalid("name is required")
	}
	vis := in.Visibility
	if vis == "" {
		vis = models.GroupOpen
	}
	switch vis {
	case models.GroupOpen, models.GroupClosed, models.GroupPrivate:
	default:
		return nil, "", invalid("visibility must be open, closed or private")
	}
	groupSlug := slug.Make(name)
	if groupSlug == "" {
		return nil, "", invalid("name must contain letters or digits")
	}

	group := &models.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        groupSlug,
		Description: in.Description,
		Visibility:  vis,
		CreatedBy:   actor.ID,
	}
	if vis != models.GroupOpen {
		group.InviteCode = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	err := s.inTx(ctx, "create group", func(tx *gorm.DB) error {
		created, err := createOrIgnore(tx, group)
		if err != nil {
			return err
		}
		if !created {
			return precondition("group %q already exists", groupSlug)
		}
		return tx.Create(&models.Membership{
			ID:      uuid.NewString(),
			GroupID: group.ID,
			ActorID: actor.ID,
			Role:    models.RoleAdmin,
		}).Error
	})
	if err != nil {
		return nil, "", err
	}
	s.Log.WithField("group_id", group.ID).WithField("actor_id", actor.ID).Info("group created")
	return group, group.InviteCode, nil
}

// JoinGroup adds the caller as a member. Open groups admit anyone; closed and
// private groups require the invite code.
func (s *GroupService) JoinGroup(ctx context.Context, actor *models.Actor, groupID, inviteCode string) (*models.Membership, error) {
	m := &models.Membership{
		ID:      uuid.NewString(),
		GroupID: groupID,
		ActorID: actor.ID,
		Role:    models.RoleMember,
	}
	err := s.inTx(ctx, "join group", func(tx *gorm.DB) error {
		var g models.Group
		if err := tx.Where("id = ?", groupID).First(&g).Error; err != nil {
			return storeErr("group", err)
		}
		if g.Visibility != models.GroupOpen && (inviteCode == "" || inviteCode != g.InviteCode) {
			return forbidden("a valid invite code is required to join this group")
		}
		created, err := createOrIgnore(tx, m)
		if err != nil {
			return err
		}
		if !created {
			return precondition("already a member")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// LeaveGroup removes the caller's membership. The last admin cannot leave.
func (s *GroupService) LeaveGroup(ctx context.Context, actor *models.Actor, groupID string) error {
	return s.inTx(ctx, "leave group", func(tx *gorm.DB) error {
		if err := lockGroup(tx, groupID); err != nil {
			return err
		}
		role, err := roleIn(tx, actor.ID, groupID)
		if err != nil {
			return err
		}
		if role == models.RoleAdmin {
			if err := ensureAnotherAdmin(tx, groupID); err != nil {
				return err
			}
		}
		return tx.Where("group_id = ? AND actor_id = ?", groupID, actor.ID).Delete(&models.Membership{}).Error
	})
}

// SetRole changes a member's role. Only admins may do this, and the group's
// last admin cannot be demoted.
func (s *GroupService) SetRole(ctx context.Context, actor *models.Actor, groupID, targetID string, role models.Role) error {
	switch role {
	case models.RoleAdmin, models.RoleMod, models.RoleMember:
	default:
		return invalid("role must be admin, mod or member")
	}
	return s.inTx(ctx, "set role", func(tx *gorm.DB) error {
		if err := lockGroup(tx, groupID); err != nil {
			return err
		}
		if _, err := authorize(tx, actor.ID, groupID, CapAdminister); err != nil {
			return err
		}
		current, err := roleIn(tx, targetID, groupID)
		if err != nil {
			return notFound("membership")
		}
		if current == role {
			return nil
		}
		if current == models.RoleAdmin {
			if err := ensureAnotherAdmin(tx, groupID); err != nil {
				return err
			}
		}
		return tx.Model(&models.Membership{}).
			Where("group_id = ? AND actor_id = ?", groupID, targetID).
			Update("role", role).Error
	})
}

// lockGroup touches the group row so concurrent admin-count decisions on the
// same group serialize on its row lock.
func lockGroup(tx *gorm.DB, groupID string) error {
	res := tx.Model(&models.Group{}).Where("id = ?", groupID).Update("updated_at", gorm.Expr("updated_at"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("group")
	}
	return nil
}

func ensureAnotherAdmin(tx *gorm.DB, groupID string) error {
	var admins int64
	if err := tx.Model(&models.Membership{}).
		Where("group_id = ? AND role = ?", groupID, models.RoleAdmin).
		Count(&admins).Error; err != nil {
		return err
	}
	if admins <= 1 {
		return precondition("the last admin cannot leave or be demoted")
	}
	return nil
}

type CreateProjectInput struct {
	Title       string
	Description string
	Budget      int64
}

// CreateProject adds a project to a group. Requires admin or mod.
func (s *GroupService) CreateProject(ctx context.Context, actor *models.Actor, groupID string, in CreateProjectInput) (*models.Project, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	if in.Budget < 0 {
		return nil, invalid("budget must not be negative")
	}
	p := &models.Project{
		ID:          uuid.NewString(),
		GroupID:     groupID,
		Title:       title,
		Description: in.Description,
		Budget:      in.Budget,
		Status:      models.ProjectActive,
		CreatedBy:   actor.ID,
	}
	err := s.inTx(ctx, "create project", func(tx *gorm.DB) error {
		if _, err := authorize(tx, actor.ID, groupID, CapModerate); err != nil {
			return err
		}
		return tx.Create(p).Error
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithField("project_id", p.ID).WithField("group_id", groupID).Info("project created")
	return p, nil
}
