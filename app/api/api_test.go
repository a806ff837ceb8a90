package api

import (
	"encoding/json"
	"log"
	"net/http"
	"testing"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/db/redis"
	"amoura/m/v2/app/models"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func init() {
	testClient, err := statsd.New("127.0.0.1:8125", statsd.WithNamespace("tests."))
	if err != nil {
		log.Fatalf("error creating test DataDog client: %v", err)
	}
	config.CONFIG = &config.Config{
		DataDogClient: testClient,
	}
}

func requestCtx(method, uri, userId, body string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if userId != "" {
		ctx.Request.Header.Set(userIDHeader, userId)
	}
	if body != "" {
		ctx.Request.Header.SetContentType("application/json")
		ctx.Request.SetBodyString(body)
	}
	return ctx
}

func TestHandlersRejectMissingIdentity(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mongo.MongoDBClient = mongo.NewMockMongoDBClient()

	ctx := requestCtx(http.MethodGet, "/credits/balance", "", "")
	GetCreditBalance(ctx)
	assert.Equal(t, http.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestGetCreditBalance(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mongo.MongoDBClient = mongo.NewMockMongoDBClient(models.MongoUser{ID: "123", Credits: 7})

	ctx := requestCtx(http.MethodGet, "/credits/balance", "123", "")
	GetCreditBalance(ctx)
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode())

	var payload map[string]int64
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &payload))
	assert.Equal(t, int64(7), payload["credits"])
}

func TestConsumeCreditsEndpoint(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123", Credits: 2})
	mongo.MongoDBClient = mock

	ctx := requestCtx(http.MethodPost, "/credits/consume", "123", `{"amount":1}`)
	ConsumeCredits(ctx)
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	var payload map[string]bool
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &payload))
	assert.True(t, payload["ok"])

	// insufficient balance is a normal negative response, not an error
	ctx = requestCtx(http.MethodPost, "/credits/consume", "123", `{"amount":5}`)
	ConsumeCredits(ctx)
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &payload))
	assert.False(t, payload["ok"])
	assert.Equal(t, int64(1), mock.Users["123"].Credits)

	ctx = requestCtx(http.MethodPost, "/credits/consume", "123", `{"amount":0}`)
	ConsumeCredits(ctx)
	assert.Equal(t, http.StatusBadRequest, ctx.Response.StatusCode())
}

func TestUpdateProfileValidatesCPF(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123"})
	mongo.MongoDBClient = mock

	ctx := requestCtx(http.MethodPost, "/profile", "123", `{"fullName":"Ana Silva","cpf":"123"}`)
	UpdateProfile(ctx)
	assert.Equal(t, http.StatusBadRequest, ctx.Response.StatusCode())

	ctx = requestCtx(http.MethodPost, "/profile", "123", `{"fullName":"Ana Silva","cpf":"529.982.247-25","phone":"+5511999999999"}`)
	UpdateProfile(ctx)
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "Ana Silva", mock.Users["123"].FullName)
	assert.Equal(t, "52998224725", mock.Users["123"].CPF)
}

func TestTrialEndpoints(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mongo.MongoDBClient = mongo.NewMockMongoDBClient(models.MongoUser{ID: "123"})

	ctx := requestCtx(http.MethodPost, "/trial/start", "123", "")
	StartTrial(ctx)
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode())

	ctx = requestCtx(http.MethodPost, "/trial/start", "123", "")
	StartTrial(ctx)
	assert.Equal(t, http.StatusConflict, ctx.Response.StatusCode())

	ctx = requestCtx(http.MethodGet, "/trial/status", "123", "")
	GetTrialStatus(ctx)
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	var status struct {
		Active      bool `json:"active"`
		HasPaidPlan bool `json:"hasPaidPlan"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &status))
	assert.True(t, status.Active)
	assert.False(t, status.HasPaidPlan)
}
