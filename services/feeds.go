package services

import (
	"context"
	"strings"
	"time"

	"agent-market/models"

	"gorm.io/gorm"
)

// FeedService serves the read side. It never mutates state.
type FeedService struct {
	*Base
}

func NewFeedService(base *Base) *FeedService {
	return &FeedService{Base: base}
}

// Page limits a listing.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) apply(db *gorm.DB) *gorm.DB {
	limit := p.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	return db.Limit(limit).Offset(offset)
}

// OpenBounties lists open bounties, newest first. projectID narrows the list
// when set.
func (s *FeedService) OpenBounties(ctx context.Context, projectID string, page Page) ([]models.Bounty, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	q := db.Where("status = ?", models.BountyOpen)
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	var out []models.Bounty
	if err := page.apply(q.Order("created_at DESC")).Find(&out).Error; err != nil {
		return nil, storeErr("list bounties", err)
	}
	return out, nil
}

// JobBoard lists jobs in the given status (open by default), newest first.
func (s *FeedService) JobBoard(ctx context.Context, status models.JobStatus, page Page) ([]models.Job, error) {
	if status == "" {
		status = models.JobOpen
	}
	db, cancel := s.session(ctx)
	defer cancel()
	var out []models.Job
	if err := page.apply(db.Where("status = ?", status).Order("created_at DESC")).Find(&out).Error; err != nil {
		return nil, storeErr("list jobs", err)
	}
	return out, nil
}

// GroupSummary is a group with its member count.
type GroupSummary struct {
	models.Group
	MemberCount int64 `json:"member_count"`
}

// ExploreGroups lists open and closed groups, optionally filtered by name.
// Private groups are never listed.
func (s *FeedService) ExploreGroups(ctx context.Context, query string, page Page) ([]GroupSummary, error) {
	db, cancel := s.session(ctx)
	defer cancel()

	q := db.Model(&models.Group{}).Where("visibility <> ?", models.GroupPrivate)
	if query = strings.TrimSpace(query); query != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(query)+"%")
	}
	var groups []models.Group
	if err := page.apply(q.Order("created_at DESC")).Find(&groups).Error; err != nil {
		return nil, storeErr("explore groups", err)
	}
	if len(groups) == 0 {
		return []GroupSummary{}, nil
	}

	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	type count struct {
		GroupID string
		N       int64
	}
	var counts []count
	if err := db.Model(&models.Membership{}).
		Select("group_id, COUNT(*) AS n").
		Where("group_id IN ?", ids).
		Group("group_id").
		Scan(&counts).Error; err != nil {
		return nil, storeErr("count members", err)
	}
	byGroup := make(map[string]int64, len(counts))
	for _, c := range counts {
		byGroup[c.GroupID] = c.N
	}

	out := make([]GroupSummary, len(groups))
	for i, g := range groups {
		out[i] = GroupSummary{Group: g, MemberCount: byGroup[g.ID]}
	}
	return out, nil
}

// LeaderboardKind selects the ranking column.
type LeaderboardKind string

const (
	LeaderboardKarma    LeaderboardKind = "karma"
	LeaderboardEarnings LeaderboardKind = "earnings"
)

// Leaderboard ranks actors by karma or total earned.
func (s *FeedService) Leaderboard(ctx context.Context, kind LeaderboardKind, page Page) ([]models.Actor, error) {
	var order string
	switch kind {
	case LeaderboardKarma, "":
		order = "karma DESC"
	case LeaderboardEarnings:
		order = "total_earned DESC"
	default:
		return nil, invalid("unknown leaderboard %q", kind)
	}
	db, cancel := s.session(ctx)
	defer cancel()
	var out []models.Actor
	if err := page.apply(db.Order(order).Order("created_at")).Find(&out).Error; err != nil {
		return nil, storeErr("leaderboard", err)
	}
	return out, nil
}

// Feed lists posts newest first. authorID narrows to one wall; before pages
// backwards in time.
func (s *FeedService) Feed(ctx context.Context, authorID string, before *time.Time, page Page) ([]models.Post, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	q := db.Model(&models.Post{})
	if authorID != "" {
		q = q.Where("author_id = ?", authorID)
	}
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}
	var out []models.Post
	if err := page.apply(q.Order("created_at DESC")).Find(&out).Error; err != nil {
		return nil, storeErr("feed", err)
	}
	return out, nil
}

// ActorProfile is an actor with memberships and today's reward activity.
type ActorProfile struct {
	Actor       models.Actor        `json:"actor"`
	Memberships []models.Membership `json:"memberships"`
	GrantsToday int64               `json:"grants_today"`
	EarnedToday int64               `json:"earned_today"`
	Engagements []models.Engagement `json:"recent_engagements"`
}

// Profile assembles an actor's public profile.
func (s *FeedService) Profile(ctx context.Context, actorID string) (*ActorProfile, error) {
	db, cancel := s.session(ctx)
	defer cancel()

	var p ActorProfile
	if err := db.Where("id = ?", actorID).First(&p.Actor).Error; err != nil {
		return nil, storeErr("actor", err)
	}
	if err := db.Where("actor_id = ?", actorID).Order("joined_at").Find(&p.Memberships).Error; err != nil {
		return nil, storeErr("memberships", err)
	}

	var today struct {
		N     int64
		Total int64
	}
	if err := db.Model(&models.DailyInteractionGrant{}).
		Select("COUNT(*) AS n, COALESCE(SUM(amount), 0) AS total").
		Where("from_actor_id = ? AND day = ?", actorID, s.today()).
		Scan(&today).Error; err != nil {
		return nil, storeErr("grants today", err)
	}
	p.GrantsToday, p.EarnedToday = today.N, today.Total

	if err := db.Where("actor_id = ?", actorID).Order("created_at DESC").Limit(20).Find(&p.Engagements).Error; err != nil {
		return nil, storeErr("engagements", err)
	}
	return &p, nil
}

// ActorSummary is the public subset of an actor returned by search.
type ActorSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Verified    bool   `json:"verified"`
	Karma       int64  `json:"karma"`
}

// SearchActors matches actors by name or display name.
func (s *FeedService) SearchActors(ctx context.Context, query string, page Page) ([]ActorSummary, error) {
	db, cancel := s.session(ctx)
	defer cancel()

	q := db.Model(&models.Actor{})
	if query = strings.TrimSpace(query); query != "" {
		term := "%" + strings.ToLower(query) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(display_name) LIKE ?", term, term)
	}
	var actors []models.Actor
	if err := page.apply(q.Order("karma DESC")).Find(&actors).Error; err != nil {
		return nil, storeErr("search actors", err)
	}
	out := make([]ActorSummary, len(actors))
	for i, a := range actors {
		out[i] = ActorSummary{
			ID:          a.ID,
			Name:        a.Name,
			DisplayName: a.DisplayName,
			Verified:    a.Verified,
			Karma:       a.Karma,
		}
	}
	return out, nil
}

// ProjectView is a project with its bounties and committed reward total.
type ProjectView struct {
	Project   models.Project  `json:"project"`
	Committed int64           `json:"committed_rewards"`
	Bounties  []models.Bounty `json:"bounties"`
}

// Project returns a project view.
func (s *FeedService) Project(ctx context.Context, projectID string) (*ProjectView, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var v ProjectView
	if err := db.Where("id = ?", projectID).First(&v.Project).Error; err != nil {
		return nil, storeErr("project", err)
	}
	committed, err := committedRewards(db, projectID)
	if err != nil {
		return nil, storeErr("committed rewards", err)
	}
	v.Committed = committed
	if err := db.Where("project_id = ?", projectID).Order("created_at DESC").Find(&v.Bounties).Error; err != nil {
		return nil, storeErr("bounties", err)
	}
	return &v, nil
}
