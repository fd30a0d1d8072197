package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"agent-market/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jobFixture struct {
	*env
	poster *models.Actor
	admins []*models.Actor
	groups []*models.Group
	job    *models.Job
	bids   []*models.JobBid
}

// newJobFixture posts a job and has three groups bid on it.
func newJobFixture(t *testing.T, prices ...int64) *jobFixture {
	e := newEnv(t)
	ctx := context.Background()
	f := &jobFixture{env: e, poster: e.actor("poster")}

	job, token, err := e.jobs.PostJob(ctx, f.poster, PostJobInput{Title: "index the archive", BudgetMin: 100, BudgetMax: 1000})
	require.NoError(t, err)
	assert.Empty(t, token)
	f.job = job

	for i, price := range prices {
		admin := e.actor(fmt.Sprintf("crew-admin-%d", i))
		g := e.group(admin, fmt.Sprintf("Crew %d", i))
		bid, err := e.jobs.PlaceBid(ctx, admin, job.ID, PlaceBidInput{GroupID: g.ID, Price: price, Proposal: "we can do it"})
		require.NoError(t, err)
		f.admins = append(f.admins, admin)
		f.groups = append(f.groups, g)
		f.bids = append(f.bids, bid)
	}
	return f
}

func (f *jobFixture) owner() JobPoster {
	return JobPoster{Actor: f.poster}
}

func TestPlaceBidOncePerGroup(t *testing.T) {
	f := newJobFixture(t, 500)
	ctx := context.Background()

	_, err := f.jobs.PlaceBid(ctx, f.admins[0], f.job.ID, PlaceBidInput{GroupID: f.groups[0].ID, Price: 400, Proposal: "cheaper"})
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	member := f.actor("crew-member")
	f.join(member, f.groups[0])
	other := f.group(member, "Member Crew")
	_, err = f.jobs.PlaceBid(ctx, member, f.job.ID, PlaceBidInput{GroupID: f.groups[0].ID, Price: 400, Proposal: "x"})
	assert.ErrorIs(t, err, ErrForbidden, "bidder must be group admin")

	_, err = f.jobs.PlaceBid(ctx, member, f.job.ID, PlaceBidInput{GroupID: other.ID, Price: 0, Proposal: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAcceptBidFanOut(t *testing.T) {
	f := newJobFixture(t, 500, 600, 700)
	ctx := context.Background()

	_, err := f.jobs.AcceptBid(ctx, JobPoster{Actor: f.admins[0]}, f.job.ID, f.bids[1].ID)
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := f.jobs.AcceptBid(ctx, f.owner(), f.job.ID, f.bids[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobInProgress, res.Job.Status)
	require.NotNil(t, res.Job.AcceptedBidID)
	assert.Equal(t, f.bids[1].ID, *res.Job.AcceptedBidID)
	assert.EqualValues(t, 2, res.Rejected)

	d, err := f.jobs.GetJob(ctx, f.job.ID)
	require.NoError(t, err)
	counts := map[models.BidStatus]int{}
	for _, b := range d.Bids {
		counts[b.Status]++
	}
	assert.Equal(t, 1, counts[models.BidAccepted])
	assert.Equal(t, 2, counts[models.BidRejected])

	require.Len(t, d.Milestones, 1)
	m := d.Milestones[0]
	assert.Equal(t, models.MilestonePending, m.Status)
	assert.Equal(t, models.DefaultMilestoneTitle, m.Title)
	assert.Equal(t, 100, m.Percentage)

	_, err = f.jobs.AcceptBid(ctx, f.owner(), f.job.ID, f.bids[2].ID)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestConcurrentAcceptsHaveOneWinner(t *testing.T) {
	f := newJobFixture(t, 500, 600, 700)
	ctx := context.Background()

	errs := parallel(len(f.bids), func(i int) error {
		_, err := f.jobs.AcceptBid(ctx, f.owner(), f.job.ID, f.bids[i].ID)
		return err
	})
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrPreconditionFailed)
		}
	}
	assert.Equal(t, 1, wins)

	var milestones int64
	require.NoError(t, f.db.Model(&models.JobMilestone{}).Where("job_id = ?", f.job.ID).Count(&milestones).Error)
	assert.EqualValues(t, 1, milestones)
}

func TestWithdrawBid(t *testing.T) {
	f := newJobFixture(t, 500, 600)
	ctx := context.Background()

	bid, err := f.jobs.WithdrawBid(ctx, f.admins[0], f.bids[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidWithdrawn, bid.Status)

	_, err = f.jobs.AcceptBid(ctx, f.owner(), f.job.ID, f.bids[1].ID)
	require.NoError(t, err)
	_, err = f.jobs.WithdrawBid(ctx, f.admins[1], f.bids[1].ID)
	assert.ErrorIs(t, err, ErrPreconditionFailed, "accepted bids cannot be withdrawn")
}

func TestMilestonePaymentRoundsDown(t *testing.T) {
	assert.EqualValues(t, 256, models.MilestonePayment(777, 33))
	assert.EqualValues(t, 777, models.MilestonePayment(777, 100))
	assert.EqualValues(t, 0, models.MilestonePayment(1, 50))
}

func TestMilestoneLifecycleCreditsTreasury(t *testing.T) {
	f := newJobFixture(t, 777)
	ctx := context.Background()

	_, err := f.jobs.AcceptBid(ctx, f.owner(), f.job.ID, f.bids[0].ID)
	require.NoError(t, err)

	plan, err := f.jobs.DefineMilestones(ctx, f.owner(), f.job.ID, []MilestonePlan{
		{Title: "draft", Percentage: 33},
		{Title: "final", Percentage: 67},
	})
	require.NoError(t, err)
	require.Len(t, plan, 2)

	member := f.actor("crew-member")
	f.join(member, f.groups[0])
	outsider := f.actor("outsider")

	_, err = f.jobs.SubmitMilestone(ctx, outsider, plan[0].ID)
	assert.ErrorIs(t, err, ErrNotAMember)

	m, err := f.jobs.SubmitMilestone(ctx, member, plan[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneSubmitted, m.Status)

	_, err = f.jobs.ApproveMilestone(ctx, JobPoster{Actor: member}, plan[0].ID)
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := f.jobs.ApproveMilestone(ctx, f.owner(), plan[0].ID)
	require.NoError(t, err)
	assert.EqualValues(t, 256, res.Payment)
	assert.False(t, res.JobCompleted)
	assert.Equal(t, models.JobInProgress, res.Job.Status)

	_, err = f.jobs.ApproveMilestone(ctx, f.owner(), plan[0].ID)
	assert.ErrorIs(t, err, ErrPreconditionFailed, "already approved")

	_, err = f.jobs.DefineMilestones(ctx, f.owner(), f.job.ID, []MilestonePlan{{Title: "all", Percentage: 100}})
	assert.ErrorIs(t, err, ErrPreconditionFailed, "plan is fixed once work is submitted")

	_, err = f.jobs.SubmitMilestone(ctx, f.admins[0], plan[1].ID)
	require.NoError(t, err)
	res, err = f.jobs.ApproveMilestone(ctx, f.owner(), plan[1].ID)
	require.NoError(t, err)
	assert.EqualValues(t, 520, res.Payment)
	assert.True(t, res.JobCompleted)
	assert.Equal(t, models.JobCompleted, res.Job.Status)

	var g models.Group
	require.NoError(t, f.db.Where("id = ?", f.groups[0].ID).First(&g).Error)
	assert.EqualValues(t, 776, g.TreasuryBalance)

	var entries int64
	require.NoError(t, f.db.Model(&models.LedgerEntry{}).Where("group_id = ?", g.ID).Count(&entries).Error)
	assert.EqualValues(t, 2, entries)
}

func TestConcurrentFinalApprovalsCompleteJob(t *testing.T) {
	f := newJobFixture(t, 400)
	ctx := context.Background()

	_, err := f.jobs.AcceptBid(ctx, f.owner(), f.job.ID, f.bids[0].ID)
	require.NoError(t, err)
	plan, err := f.jobs.DefineMilestones(ctx, f.owner(), f.job.ID, []MilestonePlan{
		{Title: "first half", Percentage: 50},
		{Title: "second half", Percentage: 50},
	})
	require.NoError(t, err)
	for _, m := range plan {
		_, err := f.jobs.SubmitMilestone(ctx, f.admins[0], m.ID)
		require.NoError(t, err)
	}

	results := make([]*MilestoneResult, len(plan))
	errs := parallel(len(plan), func(i int) error {
		res, err := f.jobs.ApproveMilestone(ctx, f.owner(), plan[i].ID)
		results[i] = res
		return err
	})
	completed := 0
	for i, err := range errs {
		require.NoError(t, err)
		if results[i].JobCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)

	detail, err := f.jobs.GetJob(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, detail.Job.Status)

	_, err = f.jobs.RejectMilestone(ctx, f.owner(), plan[0].ID, "too late")
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestRejectMilestoneAllowsResubmission(t *testing.T) {
	f := newJobFixture(t, 300)
	ctx := context.Background()

	res, err := f.jobs.AcceptBid(ctx, f.owner(), f.job.ID, f.bids[0].ID)
	require.NoError(t, err)
	id := res.Milestone.ID

	_, err = f.jobs.RejectMilestone(ctx, f.owner(), id, "nothing to review yet")
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	_, err = f.jobs.SubmitMilestone(ctx, f.admins[0], id)
	require.NoError(t, err)
	m, err := f.jobs.RejectMilestone(ctx, f.owner(), id, "needs tests")
	require.NoError(t, err)
	assert.Equal(t, models.MilestonePending, m.Status)
	assert.Nil(t, m.SubmittedAt)

	_, err = f.jobs.SubmitMilestone(ctx, f.admins[0], id)
	assert.NoError(t, err)
}

func TestDefineMilestonesValidatesPlan(t *testing.T) {
	f := newJobFixture(t, 300)
	ctx := context.Background()

	_, err := f.jobs.DefineMilestones(ctx, f.owner(), f.job.ID, []MilestonePlan{{Title: "all", Percentage: 100}})
	assert.ErrorIs(t, err, ErrPreconditionFailed, "job not in progress yet")

	_, err = f.jobs.AcceptBid(ctx, f.owner(), f.job.ID, f.bids[0].ID)
	require.NoError(t, err)

	_, err = f.jobs.DefineMilestones(ctx, f.owner(), f.job.ID, []MilestonePlan{{Title: "a", Percentage: 50}, {Title: "b", Percentage: 40}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.jobs.DefineMilestones(ctx, f.owner(), f.job.ID, []MilestonePlan{{Title: "a", Percentage: 0}, {Title: "b", Percentage: 100}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.jobs.DefineMilestones(ctx, f.owner(), f.job.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAnonymousPosterUsesJobToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job, token, err := e.jobs.PostJob(ctx, nil, PostJobInput{Title: "human request"})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Nil(t, job.PosterID)

	admin := e.actor("crew")
	g := e.group(admin, "Crew")
	bid, err := e.jobs.PlaceBid(ctx, admin, job.ID, PlaceBidInput{GroupID: g.ID, Price: 50, Proposal: "ok"})
	require.NoError(t, err)

	_, err = e.jobs.AcceptBid(ctx, JobPoster{Token: "amj_wrong"}, job.ID, bid.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.jobs.AcceptBid(ctx, JobPoster{Actor: admin}, job.ID, bid.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := e.jobs.AcceptBid(ctx, JobPoster{Token: token}, job.ID, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobInProgress, res.Job.Status)
}

func TestCancelJobRejectsPendingBids(t *testing.T) {
	f := newJobFixture(t, 100, 200)
	ctx := context.Background()

	job, err := f.jobs.CancelJob(ctx, f.owner(), f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, job.Status)

	d, err := f.jobs.GetJob(ctx, f.job.ID)
	require.NoError(t, err)
	for _, b := range d.Bids {
		assert.Equal(t, models.BidRejected, b.Status)
	}

	_, err = f.jobs.CancelJob(ctx, f.owner(), f.job.ID)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestExpireOverdueJobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	poster := e.actor("poster")

	soon := time.Now().UTC().Add(time.Hour)
	overdue, _, err := e.jobs.PostJob(ctx, poster, PostJobInput{Title: "overdue", Deadline: &soon})
	require.NoError(t, err)
	later := time.Now().UTC().Add(48 * time.Hour)
	current, _, err := e.jobs.PostJob(ctx, poster, PostJobInput{Title: "current", Deadline: &later})
	require.NoError(t, err)

	e.base.Now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	n, err := e.jobs.ExpireOverdueJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err := e.jobs.GetJob(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, d.Job.Status)
	d, err = e.jobs.GetJob(ctx, current.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobOpen, d.Job.Status)
}
