package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"agent-market/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobTokenPrefix marks the management token handed to anonymous job posters.
const JobTokenPrefix = "amj_"

// JobService runs jobs, bids and milestones.
type JobService struct {
	*Base
}

func NewJobService(base *Base) *JobService {
	return &JobService{Base: base}
}

// JobPoster identifies whoever is acting as a job's poster: the posting actor
// or, for anonymous postings, the holder of the job token.
type JobPoster struct {
	Actor *models.Actor
	Token string
}

func (p JobPoster) owns(job *models.Job) bool {
	if p.Actor != nil && job.PosterID != nil && *job.PosterID == p.Actor.ID {
		return true
	}
	return p.Token != "" && job.TokenDigest != "" && Digest(p.Token) == job.TokenDigest
}

func (p JobPoster) String() string {
	if p.Actor != nil {
		return p.Actor.ID
	}
	return "anonymous"
}

type PostJobInput struct {
	Title       string
	Description string
	BudgetMin   int64
	BudgetMax   int64
	Deadline    *time.Time
}

// PostJob opens a job. poster may be nil; an anonymous posting gets a job
// token that is returned once and required for every later poster action.
func (s *JobService) PostJob(ctx context.Context, poster *models.Actor, in PostJobInput) (job *models.Job, token string, err error) {
	defer func() { s.Metrics.jobOp("post", err) }()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, "", invalid("title is required")
	}
	if in.BudgetMin < 0 || in.BudgetMax < 0 {
		return nil, "", invalid("budget must not be negative")
	}
	if in.BudgetMax > 0 && in.BudgetMax < in.BudgetMin {
		return nil, "", invalid("budget_max must be at least budget_min")
	}
	if in.Deadline != nil && !in.Deadline.After(s.Now()) {
		return nil, "", invalid("deadline must be in the future")
	}

	job = &models.Job{
		ID:          uuid.NewString(),
		Title:       title,
		Description: in.Description,
		BudgetMin:   in.BudgetMin,
		BudgetMax:   in.BudgetMax,
		Deadline:    in.Deadline,
		Status:      models.JobOpen,
	}
	if poster != nil {
		job.PosterID = &poster.ID
	} else {
		token = JobTokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
		job.TokenDigest = Digest(token)
	}

	db, cancel := s.session(ctx)
	defer cancel()
	if err = db.Create(job).Error; err != nil {
		return nil, "", storeErr("post job", err)
	}
	s.Log.WithField("job_id", job.ID).WithField("poster", JobPoster{Actor: poster}.String()).Info("job posted")
	return job, token, nil
}

type PlaceBidInput struct {
	GroupID  string
	Price    int64
	Timeline string
	Proposal string
}

// PlaceBid submits a group's bid on an open job. The caller must be an admin
// of the bidding group, and a group bids at most once per job.
func (s *JobService) PlaceBid(ctx context.Context, actor *models.Actor, jobID string, in PlaceBidInput) (bid *models.JobBid, err error) {
	defer func() { s.Metrics.jobOp("bid", err) }()

	if in.Price <= 0 {
		return nil, invalid("price must be positive")
	}
	if strings.TrimSpace(in.Proposal) == "" {
		return nil, invalid("proposal is required")
	}
	bid = &models.JobBid{
		ID:       uuid.NewString(),
		JobID:    jobID,
		GroupID:  in.GroupID,
		BidderID: actor.ID,
		Price:    in.Price,
		Timeline: in.Timeline,
		Proposal: in.Proposal,
		Status:   models.BidPending,
	}
	err = s.inTx(ctx, "place bid", func(tx *gorm.DB) error {
		if _, err := authorize(tx, actor.ID, in.GroupID, CapAdminister); err != nil {
			return err
		}
		var job models.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			return storeErr("job", err)
		}
		if job.Status != models.JobOpen {
			return precondition("job is %s", job.Status)
		}
		created, err := createOrIgnore(tx, bid)
		if err != nil {
			return err
		}
		if !created {
			return precondition("group has already bid on this job")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithField("job_id", jobID).WithField("bid_id", bid.ID).WithField("group_id", in.GroupID).Info("bid placed")
	return bid, nil
}

// AcceptResult is the state of a job right after a bid was accepted.
type AcceptResult struct {
	Job       *models.Job          `json:"job"`
	Bid       *models.JobBid       `json:"bid"`
	Rejected  int64                `json:"rejected_bids"`
	Milestone *models.JobMilestone `json:"milestone"`
}

// AcceptBid accepts one bid in a single transaction: the job moves to
// in_progress, every other pending bid is rejected and a default 100%
// milestone is created.
func (s *JobService) AcceptBid(ctx context.Context, poster JobPoster, jobID, bidID string) (res *AcceptResult, err error) {
	defer func() { s.Metrics.jobOp("accept", err) }()

	res = &AcceptResult{Job: &models.Job{}, Bid: &models.JobBid{}}
	err = s.inTx(ctx, "accept bid", func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", jobID).First(res.Job).Error; err != nil {
			return storeErr("job", err)
		}
		if !poster.owns(res.Job) {
			return forbidden("only the job poster can accept bids")
		}
		if err := tx.Where("id = ? AND job_id = ?", bidID, jobID).First(res.Bid).Error; err != nil {
			return storeErr("bid", err)
		}

		ok, err := transition(tx, &models.Job{}, jobID, models.JobOpen, map[string]interface{}{
			"status":          models.JobInProgress,
			"accepted_bid_id": bidID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return precondition("job is no longer open")
		}
		ok, err = transition(tx, &models.JobBid{}, bidID, models.BidPending, map[string]interface{}{
			"status": models.BidAccepted,
		}, where("job_id = ?", jobID))
		if err != nil {
			return err
		}
		if !ok {
			return precondition("bid is no longer pending")
		}
		rejected, err := rejectPendingBids(tx, jobID)
		if err != nil {
			return err
		}
		res.Rejected = rejected

		res.Milestone = &models.JobMilestone{
			ID:         uuid.NewString(),
			JobID:      jobID,
			Title:      models.DefaultMilestoneTitle,
			Percentage: 100,
			Status:     models.MilestonePending,
			Payment:    models.MilestonePayment(res.Bid.Price, 100),
		}
		if err := tx.Create(res.Milestone).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", jobID).First(res.Job).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", bidID).First(res.Bid).Error
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithField("job_id", jobID).WithField("bid_id", bidID).WithField("rejected", res.Rejected).Info("bid accepted")
	return res, nil
}

// rejectPendingBids rejects every still-pending bid of a job.
func rejectPendingBids(tx *gorm.DB, jobID string) (int64, error) {
	r := tx.Model(&models.JobBid{}).
		Where("job_id = ? AND status = ?", jobID, models.BidPending).
		Update("status", models.BidRejected)
	return r.RowsAffected, r.Error
}

// WithdrawBid withdraws a pending bid. Only an admin of the bidding group may.
func (s *JobService) WithdrawBid(ctx context.Context, actor *models.Actor, bidID string) (bid *models.JobBid, err error) {
	defer func() { s.Metrics.jobOp("withdraw", err) }()

	bid = &models.JobBid{}
	err = s.inTx(ctx, "withdraw bid", func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", bidID).First(bid).Error; err != nil {
			return storeErr("bid", err)
		}
		if _, err := authorize(tx, actor.ID, bid.GroupID, CapAdminister); err != nil {
			return err
		}
		ok, err := transition(tx, &models.JobBid{}, bidID, models.BidPending, map[string]interface{}{
			"status": models.BidWithdrawn,
		})
		if err != nil {
			return err
		}
		if !ok {
			return precondition("bid is %s", bid.Status)
		}
		return tx.Where("id = ?", bidID).First(bid).Error
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// CancelJob cancels an open job and rejects its pending bids.
func (s *JobService) CancelJob(ctx context.Context, poster JobPoster, jobID string) (job *models.Job, err error) {
	defer func() { s.Metrics.jobOp("cancel", err) }()

	job = &models.Job{}
	err = s.inTx(ctx, "cancel job", func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", jobID).First(job).Error; err != nil {
			return storeErr("job", err)
		}
		if !poster.owns(job) {
			return forbidden("only the job poster can cancel")
		}
		if err := cancelOpenJob(tx, jobID); err != nil {
			return err
		}
		return tx.Where("id = ?", jobID).First(job).Error
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithField("job_id", jobID).Info("job cancelled")
	return job, nil
}

func cancelOpenJob(tx *gorm.DB, jobID string) error {
	ok, err := transition(tx, &models.Job{}, jobID, models.JobOpen, map[string]interface{}{
		"status": models.JobCancelled,
	})
	if err != nil {
		return err
	}
	if !ok {
		return precondition("job is no longer open")
	}
	_, err = rejectPendingBids(tx, jobID)
	return err
}

// ExpireOverdueJobs cancels open jobs whose deadline has passed. It returns the
// number of jobs cancelled. A job accepted concurrently is skipped.
func (s *JobService) ExpireOverdueJobs(ctx context.Context) (int, error) {
	db, cancel := s.session(ctx)
	var ids []string
	err := db.Model(&models.Job{}).
		Where("status = ? AND deadline IS NOT NULL AND deadline < ?", models.JobOpen, s.Now()).
		Limit(500).
		Pluck("id", &ids).Error
	cancel()
	if err != nil {
		return 0, storeErr("list overdue jobs", err)
	}

	expired := 0
	for _, id := range ids {
		err := s.inTx(ctx, "expire job", func(tx *gorm.DB) error {
			return cancelOpenJob(tx, id)
		})
		s.Metrics.jobOp("expire", err)
		switch {
		case err == nil:
			expired++
		case isPrecondition(err):
		default:
			s.Log.WithError(err).WithField("job_id", id).Warn("failed to expire job")
		}
	}
	if expired > 0 {
		s.Log.WithField("count", expired).Info("expired overdue jobs")
	}
	return expired, nil
}

// MilestonePlan is one entry of a custom milestone plan.
type MilestonePlan struct {
	Title      string `json:"title"`
	Percentage int    `json:"percentage"`
}

// DefineMilestones replaces the milestones of an in-progress job while all of
// them are still pending. Percentages must total exactly 100.
func (s *JobService) DefineMilestones(ctx context.Context, poster JobPoster, jobID string, plan []MilestonePlan) (out []models.JobMilestone, err error) {
	defer func() { s.Metrics.jobOp("define_milestones", err) }()

	if len(plan) == 0 {
		return nil, invalid("at least one milestone is required")
	}
	total := 0
	for _, p := range plan {
		if strings.TrimSpace(p.Title) == "" {
			return nil, invalid("milestone title is required")
		}
		if p.Percentage < 1 || p.Percentage > 100 {
			return nil, invalid("milestone percentage must be between 1 and 100")
		}
		total += p.Percentage
	}
	if total != 100 {
		return nil, invalid("milestone percentages must total 100, got %d", total)
	}

	err = s.inTx(ctx, "define milestones", func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			return storeErr("job", err)
		}
		if !poster.owns(&job) {
			return forbidden("only the job poster can define milestones")
		}
		// Touch the job row so concurrent plan changes serialize.
		ok, err := transition(tx, &models.Job{}, jobID, models.JobInProgress, map[string]interface{}{
			"updated_at": s.Now(),
		})
		if err != nil {
			return err
		}
		if !ok || job.AcceptedBidID == nil {
			return precondition("job is %s", job.Status)
		}
		var started int64
		if err := tx.Model(&models.JobMilestone{}).
			Where("job_id = ? AND status <> ?", jobID, models.MilestonePending).
			Count(&started).Error; err != nil {
			return err
		}
		if started > 0 {
			return precondition("milestones can only be redefined before work is submitted")
		}
		var bid models.JobBid
		if err := tx.Where("id = ?", *job.AcceptedBidID).First(&bid).Error; err != nil {
			return storeErr("accepted bid", err)
		}
		if err := tx.Where("job_id = ?", jobID).Delete(&models.JobMilestone{}).Error; err != nil {
			return err
		}
		out = make([]models.JobMilestone, 0, len(plan))
		for i, p := range plan {
			out = append(out, models.JobMilestone{
				ID:         uuid.NewString(),
				JobID:      jobID,
				Title:      strings.TrimSpace(p.Title),
				Percentage: p.Percentage,
				Position:   i,
				Status:     models.MilestonePending,
				Payment:    models.MilestonePayment(bid.Price, p.Percentage),
			})
		}
		return tx.Create(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// milestoneContext loads a milestone with its job and the job's accepted bid.
func milestoneContext(tx *gorm.DB, milestoneID string) (*models.JobMilestone, *models.Job, *models.JobBid, error) {
	var m models.JobMilestone
	if err := tx.Where("id = ?", milestoneID).First(&m).Error; err != nil {
		return nil, nil, nil, storeErr("milestone", err)
	}
	var job models.Job
	if err := tx.Where("id = ?", m.JobID).First(&job).Error; err != nil {
		return nil, nil, nil, storeErr("job", err)
	}
	if job.AcceptedBidID == nil {
		return nil, nil, nil, precondition("job has no accepted bid")
	}
	var bid models.JobBid
	if err := tx.Where("id = ?", *job.AcceptedBidID).First(&bid).Error; err != nil {
		return nil, nil, nil, storeErr("accepted bid", err)
	}
	return &m, &job, &bid, nil
}

// lockJob touches an in-progress job's row. Milestone submissions, approvals
// and plan changes on the same job take this lock first, so the completion
// count in ApproveMilestone sees every other approval.
func lockJob(tx *gorm.DB, job *models.Job) error {
	res := tx.Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, models.JobInProgress).
		Update("updated_at", gorm.Expr("updated_at"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return precondition("job is %s", job.Status)
	}
	return nil
}

// SubmitMilestone marks a pending milestone as submitted. The caller must be a
// member of the winning group.
func (s *JobService) SubmitMilestone(ctx context.Context, actor *models.Actor, milestoneID string) (m *models.JobMilestone, err error) {
	defer func() { s.Metrics.jobOp("submit_milestone", err) }()

	err = s.inTx(ctx, "submit milestone", func(tx *gorm.DB) error {
		var bid *models.JobBid
		var job *models.Job
		m, job, bid, err = milestoneContext(tx, milestoneID)
		if err != nil {
			return err
		}
		if _, err := authorize(tx, actor.ID, bid.GroupID, CapMember); err != nil {
			return err
		}
		if err := lockJob(tx, job); err != nil {
			return err
		}
		ok, err := transition(tx, &models.JobMilestone{}, milestoneID, models.MilestonePending, map[string]interface{}{
			"status":       models.MilestoneSubmitted,
			"submitted_at": s.Now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return precondition("milestone is %s", m.Status)
		}
		*m = models.JobMilestone{}
		return tx.Where("id = ?", milestoneID).First(m).Error
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MilestoneResult is the state after a milestone approval.
type MilestoneResult struct {
	Milestone    *models.JobMilestone `json:"milestone"`
	Job          *models.Job          `json:"job"`
	Payment      int64                `json:"payment"`
	JobCompleted bool                 `json:"job_completed"`
}

// ApproveMilestone approves a submitted milestone, credits floor(price *
// percentage / 100) to the winning group's treasury and completes the job when
// no unapproved milestone remains. All in one transaction.
func (s *JobService) ApproveMilestone(ctx context.Context, poster JobPoster, milestoneID string) (res *MilestoneResult, err error) {
	defer func() { s.Metrics.jobOp("approve_milestone", err) }()

	res = &MilestoneResult{}
	err = s.inTx(ctx, "approve milestone", func(tx *gorm.DB) error {
		m, job, bid, err := milestoneContext(tx, milestoneID)
		if err != nil {
			return err
		}
		if !poster.owns(job) {
			return forbidden("only the job poster can approve milestones")
		}
		if err := lockJob(tx, job); err != nil {
			return err
		}
		now := s.Now()
		payment := models.MilestonePayment(bid.Price, m.Percentage)
		ok, err := transition(tx, &models.JobMilestone{}, milestoneID, models.MilestoneSubmitted, map[string]interface{}{
			"status":      models.MilestoneApproved,
			"approved_at": now,
			"payment":     payment,
		})
		if err != nil {
			return err
		}
		if !ok {
			return precondition("milestone is %s", m.Status)
		}
		if err := increment(tx, &models.Group{}, bid.GroupID, "treasury_balance", payment); err != nil {
			return err
		}
		groupID := bid.GroupID
		if err := tx.Create(&models.LedgerEntry{
			ID:          uuid.NewString(),
			GroupID:     &groupID,
			Reason:      models.LedgerMilestonePayment,
			ReferenceID: milestoneID,
			Amount:      payment,
		}).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&models.JobMilestone{}).
			Where("job_id = ? AND status <> ?", job.ID, models.MilestoneApproved).
			Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			ok, err := transition(tx, &models.Job{}, job.ID, models.JobInProgress, map[string]interface{}{
				"status":       models.JobCompleted,
				"completed_at": now,
			})
			if err != nil {
				return err
			}
			res.JobCompleted = ok
		}

		res.Payment = payment
		res.Milestone, res.Job = &models.JobMilestone{}, &models.Job{}
		if err := tx.Where("id = ?", milestoneID).First(res.Milestone).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", job.ID).First(res.Job).Error
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithField("milestone_id", milestoneID).
		WithField("payment", res.Payment).
		WithField("job_completed", res.JobCompleted).
		Info("milestone approved")
	return res, nil
}

// RejectMilestone sends a submitted milestone back to pending. Feedback is
// logged only.
func (s *JobService) RejectMilestone(ctx context.Context, poster JobPoster, milestoneID, feedback string) (m *models.JobMilestone, err error) {
	defer func() { s.Metrics.jobOp("reject_milestone", err) }()

	err = s.inTx(ctx, "reject milestone", func(tx *gorm.DB) error {
		var job *models.Job
		m, job, _, err = milestoneContext(tx, milestoneID)
		if err != nil {
			return err
		}
		if !poster.owns(job) {
			return forbidden("only the job poster can reject milestones")
		}
		ok, err := transition(tx, &models.JobMilestone{}, milestoneID, models.MilestoneSubmitted, map[string]interface{}{
			"status":       models.MilestonePending,
			"submitted_at": nil,
		})
		if err != nil {
			return err
		}
		if !ok {
			return precondition("milestone is %s", m.Status)
		}
		*m = models.JobMilestone{}
		return tx.Where("id = ?", milestoneID).First(m).Error
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithField("milestone_id", milestoneID).WithField("feedback", feedback).Info("milestone rejected")
	return m, nil
}

// JobDetail is a job with its bids and milestones.
type JobDetail struct {
	Job        models.Job            `json:"job"`
	Bids       []models.JobBid       `json:"bids"`
	Milestones []models.JobMilestone `json:"milestones"`
}

// GetJob returns a job with its bids and milestones.
func (s *JobService) GetJob(ctx context.Context, jobID string) (*JobDetail, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var d JobDetail
	err := db.Where("id = ?", jobID).First(&d.Job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("job")
	}
	if err != nil {
		return nil, storeErr("job", err)
	}
	if err := db.Where("job_id = ?", jobID).Order("created_at").Find(&d.Bids).Error; err != nil {
		return nil, storeErr("bids", err)
	}
	if err := db.Where("job_id = ?", jobID).Order("position").Find(&d.Milestones).Error; err != nil {
		return nil, storeErr("milestones", err)
	}
	return &d, nil
}
