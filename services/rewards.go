package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agent-market/config"
	"agent-market/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RewardService records posts and engagements and runs the daily interaction
// reward ledger: an engager is rewarded for interacting with a given author at
// most once per UTC day.
type RewardService struct {
	*Base
	Payments Payments
	Rules    config.Rewards
}

func NewRewardService(base *Base, payments Payments, rules config.Rewards) *RewardService {
	return &RewardService{Base: base, Payments: payments, Rules: rules}
}

// CreatePost publishes a post on the author's wall.
func (s *RewardService) CreatePost(ctx context.Context, author *models.Actor, content string) (*models.Post, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("content is required")
	}
	post := &models.Post{
		ID:       uuid.NewString(),
		AuthorID: author.ID,
		Content:  content,
	}
	db, cancel := s.session(ctx)
	defer cancel()
	if err := db.Create(post).Error; err != nil {
		return nil, storeErr("create post", err)
	}
	return post, nil
}

// EngagementResult describes one like or comment and what it earned.
type EngagementResult struct {
	Engagement   *models.Engagement `json:"engagement"`
	Reward       int64              `json:"reward"`
	NewGrant     bool               `json:"new_grant"`
	Boosted      bool               `json:"boosted"`
	PayoutFailed bool               `json:"payout_failed"`
}

// Like records a like. An actor likes a given post at most once.
func (s *RewardService) Like(ctx context.Context, actor *models.Actor, postID string) (*EngagementResult, error) {
	return s.engage(ctx, actor, postID, models.EngagementLike, "")
}

// Comment records a comment.
func (s *RewardService) Comment(ctx context.Context, actor *models.Actor, postID, body string) (*EngagementResult, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, invalid("comment body is required")
	}
	return s.engage(ctx, actor, postID, models.EngagementComment, body)
}

func (s *RewardService) engage(ctx context.Context, actor *models.Actor, postID string, kind models.EngagementKind, body string) (*EngagementResult, error) {
	res := &EngagementResult{}
	var grant models.DailyInteractionGrant

	err := s.inTx(ctx, "engage", func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.Select("id", "author_id").Where("id = ?", postID).First(&post).Error; err != nil {
			return storeErr("post", err)
		}
		if post.AuthorID == actor.ID {
			s.Metrics.grant("self")
			return forbidden("cannot engage with your own post")
		}

		counter := "comment_count"
		if kind == models.EngagementLike {
			counter = "like_count"
			liked, err := createOrIgnore(tx, &models.PostLike{PostID: postID, ActorID: actor.ID})
			if err != nil {
				return err
			}
			if !liked {
				return precondition("post already liked")
			}
		}

		grant = models.DailyInteractionGrant{
			ID:          uuid.NewString(),
			FromActorID: actor.ID,
			ToActorID:   post.AuthorID,
			Day:         s.today(),
			Amount:      s.Rules.DailyBase,
		}
		created, err := createOrIgnore(tx, &grant)
		if err != nil {
			return err
		}
		res.NewGrant = created
		if created {
			res.Reward = grant.Amount
			boost, err := s.applyBoost(tx, grant.ID, post.AuthorID)
			if err != nil {
				return err
			}
			if boost > 0 {
				res.Reward += boost
				res.Boosted = true
			}
			if err := increment(tx, &models.Actor{}, post.AuthorID, "karma", 1); err != nil {
				return err
			}
		}

		e := &models.Engagement{
			ID:      uuid.NewString(),
			PostID:  postID,
			ActorID: actor.ID,
			Kind:    kind,
			Body:    body,
			Earned:  res.Reward,
		}
		if created {
			e.GrantID = &grant.ID
		}
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		res.Engagement = e
		return increment(tx, &models.Post{}, postID, counter, 1)
	})
	if err != nil {
		return nil, err
	}
	if res.NewGrant {
		s.Metrics.grant("new")
	} else {
		s.Metrics.grant("duplicate")
	}

	if res.Reward > 0 {
		s.payEngager(ctx, actor, &grant, res)
	}
	s.Log.WithField("actor_id", actor.ID).
		WithField("post_id", postID).
		WithField("kind", kind).
		WithField("reward", res.Reward).
		Debug("engagement recorded")
	return res, nil
}

// applyBoost adds the author's enabled boost to a freshly created grant. The
// boosted flag makes the increase happen at most once per grant.
func (s *RewardService) applyBoost(tx *gorm.DB, grantID, authorID string) (int64, error) {
	var setting models.BoostSetting
	err := tx.Where("actor_id = ?", authorID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !setting.Enabled || setting.Amount <= 0 {
		return 0, nil
	}
	r := tx.Model(&models.DailyInteractionGrant{}).
		Where("id = ? AND boosted = ?", grantID, false).
		Updates(map[string]interface{}{
			"amount":  gorm.Expr("amount + ?", setting.Amount),
			"boosted": true,
		})
	if r.Error != nil {
		return 0, r.Error
	}
	if r.RowsAffected == 0 {
		return 0, nil
	}
	return setting.Amount, nil
}

// payEngager pays the engager for a new grant. The grant stays consumed if the
// sink fails; the engagement's earned amount is then corrected to zero so it
// never implies a payment that did not happen.
func (s *RewardService) payEngager(ctx context.Context, actor *models.Actor, grant *models.DailyInteractionGrant, res *EngagementResult) {
	if s.Payments.Sink == nil || !actor.Payable() {
		return
	}
	db, cancel := s.session(ctx)
	defer cancel()

	memo := fmt.Sprintf("daily engagement reward %s", grant.Day)
	err := s.payout(ctx, db, s.Payments.Sink, models.PayoutEngagement, actor, res.Reward, memo, "grant:"+grant.ID)
	if err == nil {
		return
	}
	res.PayoutFailed = true
	res.Reward = 0
	res.Engagement.Earned = 0
	if uerr := db.Model(&models.Engagement{}).Where("id = ?", res.Engagement.ID).Update("earned", 0).Error; uerr != nil {
		s.Log.WithError(uerr).WithField("engagement_id", res.Engagement.ID).Error("failed to zero engagement reward")
	}
}

// SetBoost configures the caller's boost. Enabling a positive boost requires a
// wallet balance of at least BoostBalanceFactor times the amount.
func (s *RewardService) SetBoost(ctx context.Context, actor *models.Actor, amount int64, enabled bool) (*models.BoostSetting, error) {
	if amount < 0 {
		return nil, invalid("boost amount must not be negative")
	}
	if amount > s.Rules.BoostMax {
		return nil, invalid("boost amount must be at most %d", s.Rules.BoostMax)
	}
	if enabled && amount > 0 && s.Payments.Balances != nil {
		var balance int64
		if actor.Payable() {
			var err error
			balance, err = s.Payments.Balances.GetBalance(ctx, *actor.WalletAddress)
			if err != nil {
				return nil, storeErr("read balance", err)
			}
		}
		required := s.Rules.BoostBalanceFactor * amount
		if balance < required {
			return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientBalance, required, balance)
		}
	}

	setting := &models.BoostSetting{
		ActorID: actor.ID,
		Amount:  amount,
		Enabled: enabled,
	}
	db, cancel := s.session(ctx)
	defer cancel()
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "actor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "enabled", "updated_at"}),
	}).Create(setting).Error
	if err != nil {
		return nil, storeErr("set boost", err)
	}
	s.Log.WithField("actor_id", actor.ID).WithField("amount", amount).WithField("enabled", enabled).Info("boost updated")
	return setting, nil
}
