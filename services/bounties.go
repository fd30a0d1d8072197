package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agent-market/config"
	"agent-market/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Archiver stores a document under key. Failures are logged, never surfaced.
type Archiver interface {
	Archive(ctx context.Context, key string, doc interface{}) error
}

// BountyService runs the bounty lifecycle: open -> claimed -> completed, with
// claimed -> open on unclaim or rejection.
type BountyService struct {
	*Base
	Payments Payments
	Archive  Archiver
	Rules    config.Rewards
}

func NewBountyService(base *Base, payments Payments, archive Archiver, rules config.Rewards) *BountyService {
	return &BountyService{Base: base, Payments: payments, Archive: archive, Rules: rules}
}

type CreateBountyInput struct {
	Title       string
	Description string
	Reward      int64
}

// CreateBounty adds an open bounty to a project. The caller must be verified
// and an admin or mod of the project's group. A project with a positive budget
// cannot commit more in rewards than its budget.
func (s *BountyService) CreateBounty(ctx context.Context, actor *models.Actor, projectID string, in CreateBountyInput) (b *models.Bounty, err error) {
	defer func() { s.Metrics.bountyOp("create", err) }()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	if in.Reward <= 0 {
		return nil, invalid("reward must be positive")
	}
	if !actor.Verified {
		return nil, forbidden("only verified actors can create bounties")
	}

	b = &models.Bounty{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Title:       title,
		Description: in.Description,
		Reward:      in.Reward,
		Status:      models.BountyOpen,
		CreatedBy:   actor.ID,
	}
	err = s.inTx(ctx, "create bounty", func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.Where("id = ?", projectID).First(&project).Error; err != nil {
			return storeErr("project", err)
		}
		if _, err := authorize(tx, actor.ID, project.GroupID, CapModerate); err != nil {
			return err
		}
		if project.Status != models.ProjectActive {
			return precondition("project is %s", project.Status)
		}
		if project.Budget > 0 {
			committed, err := committedRewards(tx, projectID)
			if err != nil {
				return err
			}
			if committed+in.Reward > project.Budget {
				return invalid("reward exceeds remaining project budget (%d of %d committed)", committed, project.Budget)
			}
		}
		return tx.Create(b).Error
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithField("bounty_id", b.ID).WithField("project_id", projectID).Info("bounty created")
	return b, nil
}

func committedRewards(tx *gorm.DB, projectID string) (int64, error) {
	var sum int64
	err := tx.Model(&models.Bounty{}).
		Where("project_id = ?", projectID).
		Select("COALESCE(SUM(reward), 0)").
		Scan(&sum).Error
	return sum, err
}

// ClaimBounty moves an open bounty to claimed for a member of its group. Of
// any number of concurrent claims exactly one wins; the rest get
// ErrAlreadyClaimed.
func (s *BountyService) ClaimBounty(ctx context.Context, actor *models.Actor, bountyID string) (b *models.Bounty, err error) {
	defer func() { s.Metrics.bountyOp("claim", err) }()

	b = &models.Bounty{}
	err = s.inTx(ctx, "claim bounty", func(tx *gorm.DB) error {
		if err := s.memberOfBountyGroup(tx, actor.ID, bountyID, CapMember); err != nil {
			return err
		}
		now := s.Now()
		ok, err := transition(tx, &models.Bounty{}, bountyID, models.BountyOpen, map[string]interface{}{
			"status":     models.BountyClaimed,
			"claimed_by": actor.ID,
			"claimed_at": now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyClaimed
		}
		return tx.Where("id = ?", bountyID).First(b).Error
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithField("bounty_id", bountyID).WithField("actor_id", actor.ID).Info("bounty claimed")
	return b, nil
}

// UnclaimBounty releases a claim held by the caller.
func (s *BountyService) UnclaimBounty(ctx context.Context, actor *models.Actor, bountyID string) (b *models.Bounty, err error) {
	defer func() { s.Metrics.bountyOp("unclaim", err) }()

	b = &models.Bounty{}
	err = s.inTx(ctx, "unclaim bounty", func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", bountyID).First(b).Error; err != nil {
			return storeErr("bounty", err)
		}
		if b.ClaimedBy == nil || *b.ClaimedBy != actor.ID {
			return forbidden("only the claimant can unclaim")
		}
		ok, err := transition(tx, &models.Bounty{}, bountyID, models.BountyClaimed, map[string]interface{}{
			"status":     models.BountyOpen,
			"claimed_by": nil,
			"claimed_at": nil,
		}, where("claimed_by = ?", actor.ID))
		if err != nil {
			return err
		}
		if !ok {
			return precondition("bounty is no longer claimed by you")
		}
		if err := retirePendingSubmissions(tx, bountyID, nil, s.Now()); err != nil {
			return err
		}
		*b = models.Bounty{}
		return tx.Where("id = ?", bountyID).First(b).Error
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// SubmitBounty records the claimant's work as a pending submission.
func (s *BountyService) SubmitBounty(ctx context.Context, actor *models.Actor, bountyID, content string) (sub *models.BountySubmission, err error) {
	defer func() { s.Metrics.bountyOp("submit", err) }()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("content is required")
	}
	sub = &models.BountySubmission{
		ID:       uuid.NewString(),
		BountyID: bountyID,
		ActorID:  actor.ID,
		Content:  content,
		Status:   models.SubmissionPending,
	}
	err = s.inTx(ctx, "submit bounty", func(tx *gorm.DB) error {
		var b models.Bounty
		if err := tx.Where("id = ?", bountyID).First(&b).Error; err != nil {
			return storeErr("bounty", err)
		}
		if b.Status != models.BountyClaimed {
			return precondition("bounty is %s", b.Status)
		}
		if b.ClaimedBy == nil || *b.ClaimedBy != actor.ID {
			return forbidden("only the claimant can submit")
		}
		return tx.Create(sub).Error
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithField("bounty_id", bountyID).WithField("submission_id", sub.ID).Info("bounty submitted")
	return sub, nil
}

// ReviewResult is the state after an approval or rejection.
type ReviewResult struct {
	Bounty     *models.Bounty           `json:"bounty"`
	Submission *models.BountySubmission `json:"submission"`
}

// ApproveBounty completes a claimed bounty in one transaction: the latest
// pending submission is approved, the bounty completed, the claimant credited
// (karma, bounties completed, total earned) and paid. If the payout fails the
// whole approval is rolled back and ErrPayoutFailed returned.
func (s *BountyService) ApproveBounty(ctx context.Context, approver *models.Actor, bountyID string) (res *ReviewResult, err error) {
	defer func() { s.Metrics.bountyOp("approve", err) }()

	res = &ReviewResult{Bounty: &models.Bounty{}, Submission: &models.BountySubmission{}}
	var claimant models.Actor
	err = s.inTx(ctx, "approve bounty", func(tx *gorm.DB) error {
		b := res.Bounty
		if err := s.loadForReview(tx, approver, bountyID, b, res.Submission); err != nil {
			return err
		}
		now := s.Now()
		ok, err := transition(tx, &models.BountySubmission{}, res.Submission.ID, models.SubmissionPending, map[string]interface{}{
			"status":      models.SubmissionApproved,
			"reviewed_by": approver.ID,
			"reviewed_at": now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return precondition("submission was already reviewed")
		}
		ok, err = transition(tx, &models.Bounty{}, bountyID, models.BountyClaimed, map[string]interface{}{
			"status":       models.BountyCompleted,
			"completed_at": now,
		}, where("claimed_by = ?", *b.ClaimedBy))
		if err != nil {
			return err
		}
		if !ok {
			return precondition("bounty is no longer claimed")
		}

		claimantID := *b.ClaimedBy
		if err := tx.Model(&models.Actor{}).Where("id = ?", claimantID).Updates(map[string]interface{}{
			"karma":              gorm.Expr("karma + ?", s.Rules.BountyKarmaBonus),
			"bounties_completed": gorm.Expr("bounties_completed + ?", 1),
			"total_earned":       gorm.Expr("total_earned + ?", b.Reward),
		}).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.LedgerEntry{
			ID:          uuid.NewString(),
			ActorID:     &claimantID,
			Reason:      models.LedgerBountyReward,
			ReferenceID: bountyID,
			Amount:      b.Reward,
		}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", claimantID).First(&claimant).Error; err != nil {
			return err
		}
		if err := s.payout(ctx, tx, s.Payments.Sink, models.PayoutBounty, &claimant, b.Reward,
			fmt.Sprintf("bounty reward: %s", b.Title), bountyPayoutKey(bountyID)); err != nil {
			return err
		}
		if err := tx.Where("id = ?", bountyID).First(b).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", res.Submission.ID).First(res.Submission).Error
	})
	if errors.Is(err, ErrPayoutFailed) {
		s.recordFailedBountyPayout(ctx, &claimant, res.Bounty, err)
	}
	if err != nil {
		return nil, err
	}

	s.Log.WithField("bounty_id", bountyID).
		WithField("claimant_id", claimant.ID).
		WithField("reward", res.Bounty.Reward).
		Info("bounty approved")
	s.archive(ctx, res)
	return res, nil
}

func bountyPayoutKey(bountyID string) string {
	return "bounty:" + bountyID
}

// recordFailedBountyPayout keeps an audit row for a payout whose approval was
// rolled back.
func (s *BountyService) recordFailedBountyPayout(ctx context.Context, claimant *models.Actor, b *models.Bounty, cause error) {
	if claimant.ID == "" || !claimant.Payable() {
		return
	}
	db, cancel := s.session(ctx)
	defer cancel()
	req := PaymentRequest{
		Destination:    *claimant.WalletAddress,
		Amount:         b.Reward,
		Memo:           fmt.Sprintf("bounty reward: %s", b.Title),
		IdempotencyKey: bountyPayoutKey(b.ID),
	}
	if err := recordPayout(db, models.PayoutBounty, claimant.ID, req, models.PayoutFailed, cause); err != nil {
		s.Log.WithError(err).WithField("bounty_id", b.ID).Error("failed to record failed payout")
	}
}

func (s *BountyService) archive(ctx context.Context, res *ReviewResult) {
	if s.Archive == nil {
		return
	}
	key := fmt.Sprintf("bounties/%s/submissions/%s.json", res.Bounty.ID, res.Submission.ID)
	if err := s.Archive.Archive(ctx, key, res); err != nil {
		s.Log.WithError(err).WithField("bounty_id", res.Bounty.ID).Warn("failed to archive submission")
	}
}

// RejectBounty rejects the latest pending submission and reopens the bounty
// with the claimant cleared. Any older pending submission is rejected too.
func (s *BountyService) RejectBounty(ctx context.Context, approver *models.Actor, bountyID string) (res *ReviewResult, err error) {
	defer func() { s.Metrics.bountyOp("reject", err) }()

	res = &ReviewResult{Bounty: &models.Bounty{}, Submission: &models.BountySubmission{}}
	err = s.inTx(ctx, "reject bounty", func(tx *gorm.DB) error {
		b := res.Bounty
		if err := s.loadForReview(tx, approver, bountyID, b, res.Submission); err != nil {
			return err
		}
		now := s.Now()
		ok, err := transition(tx, &models.BountySubmission{}, res.Submission.ID, models.SubmissionPending, map[string]interface{}{
			"status":      models.SubmissionRejected,
			"reviewed_by": approver.ID,
			"reviewed_at": now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return precondition("submission was already reviewed")
		}
		ok, err = transition(tx, &models.Bounty{}, bountyID, models.BountyClaimed, map[string]interface{}{
			"status":     models.BountyOpen,
			"claimed_by": nil,
			"claimed_at": nil,
		}, where("claimed_by = ?", *b.ClaimedBy))
		if err != nil {
			return err
		}
		if !ok {
			return precondition("bounty is no longer claimed")
		}
		if err := retirePendingSubmissions(tx, bountyID, &approver.ID, now); err != nil {
			return err
		}
		*b = models.Bounty{}
		if err := tx.Where("id = ?", bountyID).First(b).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", res.Submission.ID).First(res.Submission).Error
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithField("bounty_id", bountyID).Info("bounty submission rejected")
	return res, nil
}

// loadForReview checks the reviewer's role and loads the claimed bounty and
// the current claimant's latest pending submission.
func (s *BountyService) loadForReview(tx *gorm.DB, reviewer *models.Actor, bountyID string, b *models.Bounty, sub *models.BountySubmission) error {
	if err := tx.Where("id = ?", bountyID).First(b).Error; err != nil {
		return storeErr("bounty", err)
	}
	groupID, err := groupOfProject(tx, b.ProjectID)
	if err != nil {
		return err
	}
	if _, err := authorize(tx, reviewer.ID, groupID, CapModerate); err != nil {
		return err
	}
	if b.Status != models.BountyClaimed || b.ClaimedBy == nil {
		return precondition("bounty is %s", b.Status)
	}
	err = tx.Where("bounty_id = ? AND actor_id = ? AND status = ?", bountyID, *b.ClaimedBy, models.SubmissionPending).
		Order("created_at DESC").Order("id DESC").
		First(sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return precondition("bounty has no pending submission")
	}
	return err
}

// retirePendingSubmissions rejects every pending submission of a bounty whose
// claim just ended, so none of them can be reviewed in a later claim.
func retirePendingSubmissions(tx *gorm.DB, bountyID string, reviewerID *string, now time.Time) error {
	return tx.Model(&models.BountySubmission{}).
		Where("bounty_id = ? AND status = ?", bountyID, models.SubmissionPending).
		Updates(map[string]interface{}{
			"status":      models.SubmissionRejected,
			"reviewed_by": reviewerID,
			"reviewed_at": now,
		}).Error
}

func (s *BountyService) memberOfBountyGroup(tx *gorm.DB, actorID, bountyID string, c Capability) error {
	var b models.Bounty
	if err := tx.Select("id", "project_id").Where("id = ?", bountyID).First(&b).Error; err != nil {
		return storeErr("bounty", err)
	}
	groupID, err := groupOfProject(tx, b.ProjectID)
	if err != nil {
		return err
	}
	_, err = authorize(tx, actorID, groupID, c)
	return err
}

// GetBounty returns a bounty with its submissions, newest first.
func (s *BountyService) GetBounty(ctx context.Context, bountyID string) (*models.Bounty, []models.BountySubmission, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var b models.Bounty
	if err := db.Where("id = ?", bountyID).First(&b).Error; err != nil {
		return nil, nil, storeErr("bounty", err)
	}
	var subs []models.BountySubmission
	if err := db.Where("bounty_id = ?", bountyID).Order("created_at DESC").Find(&subs).Error; err != nil {
		return nil, nil, storeErr("bounty submissions", err)
	}
	return &b, subs, nil
}
