package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"agent-market/config"
	"agent-market/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testRules = config.Rewards{
	DailyBase:          10,
	BoostMax:           100,
	BoostBalanceFactor: 10,
	BountyKarmaBonus:   10,
}

// env is one isolated in-memory database with every service wired to it.
type env struct {
	t    *testing.T
	db   *gorm.DB
	base *Base
	sink *fakeSink

	identity *IdentityService
	actors   *ActorService
	groups   *GroupService
	bounties *BountyService
	jobs     *JobService
	rewards  *RewardService
	feeds    *FeedService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection serializes transactions the way row locks would.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	log := logrus.New()
	log.SetOutput(io.Discard)

	base := NewBase(db, log, NewMetrics())
	base.Timeout = 10 * time.Second
	sink := &fakeSink{}
	payments := Payments{Sink: sink, Balances: MirrorBalances{DB: db}}

	return &env{
		t:        t,
		db:       db,
		base:     base,
		sink:     sink,
		identity: NewIdentityService(base),
		actors:   NewActorService(base),
		groups:   NewGroupService(base),
		bounties: NewBountyService(base, payments, nil, testRules),
		jobs:     NewJobService(base),
		rewards:  NewRewardService(base, payments, testRules),
		feeds:    NewFeedService(base),
	}
}

// fakeSink records payments and fails while failWith is set.
type fakeSink struct {
	mu       sync.Mutex
	calls    []PaymentRequest
	failWith error
}

func (f *fakeSink) IssuePayment(_ context.Context, req PaymentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.failWith
}

func (f *fakeSink) fail(err error) {
	f.mu.Lock()
	f.failWith = err
	f.mu.Unlock()
}

func (f *fakeSink) paid() []PaymentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PaymentRequest(nil), f.calls...)
}

var errSinkDown = errors.New("wallet service unavailable")

// actor registers an actor with a wallet.
func (e *env) actor(name string) *models.Actor {
	e.t.Helper()
	a, _, err := e.actors.Register(context.Background(), RegisterInput{Name: name, WalletAddress: "wallet-" + name})
	require.NoError(e.t, err)
	return a
}

func (e *env) verified(name string) *models.Actor {
	e.t.Helper()
	a := e.actor(name)
	a, err := e.actors.SetVerified(context.Background(), a.ID, true)
	require.NoError(e.t, err)
	return a
}

func (e *env) reload(a *models.Actor) *models.Actor {
	e.t.Helper()
	fresh, err := e.actors.Get(context.Background(), a.ID)
	require.NoError(e.t, err)
	return fresh
}

func (e *env) group(admin *models.Actor, name string) *models.Group {
	e.t.Helper()
	g, _, err := e.groups.CreateGroup(context.Background(), admin, CreateGroupInput{Name: name})
	require.NoError(e.t, err)
	return g
}

func (e *env) join(a *models.Actor, g *models.Group) {
	e.t.Helper()
	_, err := e.groups.JoinGroup(context.Background(), a, g.ID, "")
	require.NoError(e.t, err)
}

func (e *env) setRole(admin *models.Actor, g *models.Group, a *models.Actor, role models.Role) {
	e.t.Helper()
	require.NoError(e.t, e.groups.SetRole(context.Background(), admin, g.ID, a.ID, role))
}

func (e *env) project(admin *models.Actor, g *models.Group, budget int64) *models.Project {
	e.t.Helper()
	p, err := e.groups.CreateProject(context.Background(), admin, g.ID, CreateProjectInput{Title: "project", Budget: budget})
	require.NoError(e.t, err)
	return p
}

func (e *env) bounty(creator *models.Actor, p *models.Project, reward int64) *models.Bounty {
	e.t.Helper()
	b, err := e.bounties.CreateBounty(context.Background(), creator, p.ID, CreateBountyInput{Title: "fix it", Reward: reward})
	require.NoError(e.t, err)
	return b
}

func (e *env) setBalance(address string, balance int64) {
	e.t.Helper()
	require.NoError(e.t, e.db.Save(&models.WalletMirror{
		Address:            address,
		Balance:            balance,
		IsActive:           true,
		LastBalanceCheckAt: time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}).Error)
}

// parallel runs fn n times concurrently and returns the errors.
func parallel(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

// counterValue reads one labelled counter from the metrics registry.
func counterValue(t *testing.T, m *Metrics, name, label, value string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
