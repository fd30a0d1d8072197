package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"agent-market/config"
	"agent-market/models"
	"agent-market/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testServiceToken = "svc-token"

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	log := logrus.New()
	log.SetOutput(io.Discard)
	base := services.NewBase(db, log, services.NewMetrics())
	rules := config.Rewards{DailyBase: 10, BoostMax: 100, BoostBalanceFactor: 10, BountyKarmaBonus: 10}
	payments := services.Payments{Balances: services.MirrorBalances{DB: db}}

	app := fiber.New()
	Setup(app, &Handler{
		Identity:     services.NewIdentityService(base),
		Actors:       services.NewActorService(base),
		Groups:       services.NewGroupService(base),
		Bounties:     services.NewBountyService(base, payments, nil, rules),
		Jobs:         services.NewJobService(base),
		Rewards:      services.NewRewardService(base, payments, rules),
		Feeds:        services.NewFeedService(base),
		Stream:       services.NewStreamService(base),
		Log:          log,
		ServiceToken: testServiceToken,
	})
	return app
}

func call(t *testing.T, app *fiber.App, method, path, key string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func register(t *testing.T, app *fiber.App, name string) (id, key string) {
	t.Helper()
	status, body := call(t, app, http.MethodPost, "/actors/register", "", fiber.Map{"name": name, "wallet_address": "w-" + name})
	require.Equal(t, http.StatusCreated, status)
	return body["actor"].(map[string]interface{})["id"].(string), body["api_key"].(string)
}

func TestRegisterAndAuth(t *testing.T) {
	app := newTestApp(t)
	_, key := register(t, app, "agent_one")

	status, _ := call(t, app, http.MethodGet, "/actors/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, app, http.MethodGet, "/actors/me", "amk_bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := call(t, app, http.MethodGet, "/actors/me", key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "agent_one", body["actor"].(map[string]interface{})["name"])
	_, leaked := body["actor"].(map[string]interface{})["api_key_digest"]
	assert.False(t, leaked)

	status, body = call(t, app, http.MethodPost, "/actors/register", "", fiber.Map{"name": "agent_one"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "precondition_failed", body["code"])
}

func TestEngagementOverHTTP(t *testing.T) {
	app := newTestApp(t)
	_, authorKey := register(t, app, "author")
	_, fanKey := register(t, app, "fan")

	status, post := call(t, app, http.MethodPost, "/posts", authorKey, fiber.Map{"content": "hello"})
	require.Equal(t, http.StatusCreated, status)
	postID := post["id"].(string)

	status, body := call(t, app, http.MethodPost, "/posts/"+postID+"/like", fanKey, nil)
	require.Equal(t, http.StatusCreated, status)
	assert.EqualValues(t, 10, body["reward"])

	status, _ = call(t, app, http.MethodPost, "/posts/"+postID+"/like", fanKey, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = call(t, app, http.MethodPost, "/posts/"+postID+"/like", authorKey, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = call(t, app, http.MethodPut, "/boost", authorKey, fiber.Map{"amount": 10, "enabled": true})
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "insufficient_balance", body["code"])
}

func TestBountyFlowOverHTTP(t *testing.T) {
	app := newTestApp(t)
	adminID, adminKey := register(t, app, "admin")
	_, workerKey := register(t, app, "worker")

	req := httptest.NewRequest(http.MethodPut, "/internal/actors/"+adminID+"/verified", bytes.NewBufferString(`{"verified":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPut, "/internal/actors/"+adminID+"/verified", bytes.NewBufferString(`{"verified":true}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", testServiceToken)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status, body := call(t, app, http.MethodPost, "/groups", adminKey, fiber.Map{"name": "Guild"})
	require.Equal(t, http.StatusCreated, status)
	groupID := body["group"].(map[string]interface{})["id"].(string)

	status, _ = call(t, app, http.MethodPost, "/groups/"+groupID+"/join", workerKey, nil)
	require.Equal(t, http.StatusCreated, status)

	status, project := call(t, app, http.MethodPost, "/groups/"+groupID+"/projects", adminKey, fiber.Map{"title": "Docs"})
	require.Equal(t, http.StatusCreated, status)

	status, bounty := call(t, app, http.MethodPost, "/projects/"+project["id"].(string)+"/bounties", adminKey, fiber.Map{"title": "write guide", "reward": 500})
	require.Equal(t, http.StatusCreated, status)
	bountyID := bounty["id"].(string)

	status, _ = call(t, app, http.MethodPost, "/bounties/"+bountyID+"/claim", workerKey, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = call(t, app, http.MethodPost, "/bounties/"+bountyID+"/claim", adminKey, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = call(t, app, http.MethodPost, "/bounties/"+bountyID+"/submissions", workerKey, fiber.Map{"content": "guide.md"})
	require.Equal(t, http.StatusCreated, status)

	status, res := call(t, app, http.MethodPost, "/bounties/"+bountyID+"/approve", adminKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", res["bounty"].(map[string]interface{})["status"])

	status, _ = call(t, app, http.MethodGet, "/bounties/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAnonymousJobOverHTTP(t *testing.T) {
	app := newTestApp(t)
	_, crewKey := register(t, app, "crew")

	status, body := call(t, app, http.MethodPost, "/jobs", "", fiber.Map{"title": "translate docs", "budget_max": 100})
	require.Equal(t, http.StatusCreated, status)
	token := body["job_token"].(string)
	jobID := body["job"].(map[string]interface{})["id"].(string)

	_, group := call(t, app, http.MethodPost, "/groups", crewKey, fiber.Map{"name": "Translators"})
	groupID := group["group"].(map[string]interface{})["id"].(string)

	status, bid := call(t, app, http.MethodPost, "/jobs/"+jobID+"/bids", crewKey, fiber.Map{"group_id": groupID, "price": 90, "proposal": "fast"})
	require.Equal(t, http.StatusCreated, status)

	path := fmt.Sprintf("/jobs/%s/bids/%s/accept", jobID, bid["id"])
	status, _ = call(t, app, http.MethodPost, path, "", nil)
	assert.Equal(t, http.StatusForbidden, status)

	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(JobTokenHeader, token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusMapping(t *testing.T) {
	cases := map[error]int{
		services.ErrUnauthorized:        http.StatusUnauthorized,
		services.ErrNotAMember:          http.StatusForbidden,
		services.ErrNotFound:            http.StatusNotFound,
		services.ErrAlreadyClaimed:      http.StatusConflict,
		services.ErrInvalidInput:        http.StatusBadRequest,
		services.ErrInsufficientBalance: http.StatusPaymentRequired,
		services.ErrPayoutFailed:        http.StatusBadGateway,
		services.ErrOutcomeUnknown:      http.StatusGatewayTimeout,
		io.EOF:                          http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusOf(err), err.Error())
	}
}
