package services

import (
	"context"
	"testing"

	"agent-market/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGroupMakesCreatorAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	founder := e.actor("founder")

	g, invite, err := e.groups.CreateGroup(ctx, founder, CreateGroupInput{Name: "Night Shift"})
	require.NoError(t, err)
	assert.Equal(t, "night-shift", g.Slug)
	assert.Empty(t, invite, "open groups have no invite code")

	role, err := e.identity.RoleIn(ctx, founder.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, role)

	_, _, err = e.groups.CreateGroup(ctx, founder, CreateGroupInput{Name: "night shift"})
	assert.ErrorIs(t, err, ErrPreconditionFailed, "slug taken")

	_, _, err = e.groups.CreateGroup(ctx, founder, CreateGroupInput{Name: "x", Visibility: "secret"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestJoinClosedGroupNeedsInvite(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	founder := e.actor("founder")
	joiner := e.actor("joiner")

	g, invite, err := e.groups.CreateGroup(ctx, founder, CreateGroupInput{Name: "Inner Circle", Visibility: models.GroupClosed})
	require.NoError(t, err)
	require.NotEmpty(t, invite)

	_, err = e.groups.JoinGroup(ctx, joiner, g.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.groups.JoinGroup(ctx, joiner, g.ID, "wrong")
	assert.ErrorIs(t, err, ErrForbidden)

	m, err := e.groups.JoinGroup(ctx, joiner, g.ID, invite)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, m.Role)

	_, err = e.groups.JoinGroup(ctx, joiner, g.ID, invite)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestLastAdminCannotLeaveOrBeDemoted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	founder := e.actor("founder")
	member := e.actor("member")
	g := e.group(founder, "Crew")
	e.join(member, g)

	assert.ErrorIs(t, e.groups.LeaveGroup(ctx, founder, g.ID), ErrPreconditionFailed)
	assert.ErrorIs(t, e.groups.SetRole(ctx, founder, g.ID, founder.ID, models.RoleMember), ErrPreconditionFailed)

	assert.ErrorIs(t, e.groups.SetRole(ctx, member, g.ID, member.ID, models.RoleAdmin), ErrForbidden)

	e.setRole(founder, g, member, models.RoleAdmin)
	require.NoError(t, e.groups.LeaveGroup(ctx, founder, g.ID))

	_, err := e.identity.RoleIn(ctx, founder.ID, g.ID)
	assert.ErrorIs(t, err, ErrNotAMember)
	assert.ErrorIs(t, e.groups.LeaveGroup(ctx, member, g.ID), ErrPreconditionFailed)
}

func TestConcurrentAdminsLeavingKeepOne(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.actor("first")
	b := e.actor("second")
	g := e.group(a, "Pair")
	e.join(b, g)
	e.setRole(a, g, b, models.RoleAdmin)

	admins := []*models.Actor{a, b}
	errs := parallel(2, func(i int) error {
		return e.groups.LeaveGroup(ctx, admins[i], g.ID)
	})
	left := 0
	for _, err := range errs {
		if err == nil {
			left++
		}
	}
	assert.Equal(t, 1, left)

	var remaining int64
	require.NoError(t, e.db.Model(&models.Membership{}).Where("group_id = ? AND role = ?", g.ID, models.RoleAdmin).Count(&remaining).Error)
	assert.EqualValues(t, 1, remaining)
}

func TestCreateProjectRequiresModerator(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	founder := e.actor("founder")
	member := e.actor("member")
	g := e.group(founder, "Crew")
	e.join(member, g)

	_, err := e.groups.CreateProject(ctx, member, g.ID, CreateProjectInput{Title: "p"})
	assert.ErrorIs(t, err, ErrForbidden)

	e.setRole(founder, g, member, models.RoleMod)
	p, err := e.groups.CreateProject(ctx, member, g.ID, CreateProjectInput{Title: "p", Budget: 100})
	require.NoError(t, err)
	assert.Equal(t, g.ID, p.GroupID)
	assert.Equal(t, models.ProjectActive, p.Status)

	_, err = e.groups.CreateProject(ctx, member, g.ID, CreateProjectInput{Title: "p", Budget: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
