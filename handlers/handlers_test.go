package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"toeicprep/cache"
	"toeicprep/config"
	"toeicprep/middleware"
	"toeicprep/models"
	"toeicprep/ratelimit"
	"toeicprep/respond"
	"toeicprep/schemapatch"
	"toeicprep/services"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test"

type testEnv struct {
	store   *memStore
	gen     *fakeGenerator
	mailer  *fakeMailer
	patches *fakePatchRunner
	router  *gin.Engine
	cfg     *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server: config.ServerConfig{CORSOrigins: "*", MaxUploadBytes: 1 << 20},
		Auth:   config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour, CookieName: "toeic_jwt"},
		Stripe: config.StripeConfig{WebhookSecret: testWebhookSecret, TrialPlanID: "premium_monthly", TrialDays: 7},
		Logs:   config.LogConfig{SlowThreshold: time.Second},
	}
	env := &testEnv{
		store:   newMemStore(),
		gen:     &fakeGenerator{},
		mailer:  &fakeMailer{},
		patches: &fakePatchRunner{},
		cfg:     cfg,
	}

	logger := zap.NewNop()
	notifications, err := services.NewNotificationService(env.mailer, env.store, 1000, logger)
	require.NoError(t, err)

	h := New(Deps{
		Config:        cfg,
		Features:      config.Features{BillingEnabled: true, AIEnabled: true, NotificationsEnabled: true},
		Logger:        logger,
		Users:         env.store,
		Vocabulary:    env.store,
		Practice:      env.store,
		Billing:       services.NewBillingService(env.store, services.NewStripeProvider(cfg.Stripe), cache.NewMemoryStore(), nil, cfg.Stripe, logger),
		Quotas:        services.NewQuotaService(env.store, logger),
		AI:            services.NewAIService(env.gen, logger),
		Notifications: notifications,
		Patches:       env.patches,
		HealthChecks:  map[string]HealthCheck{"database": func(context.Context) error { return nil }},
	})
	env.router = NewRouter(h, ratelimit.NewMemoryCounter(), ratelimit.NewPolicies(config.RateLimitConfig{}))
	return env
}

func (e *testEnv) token(t *testing.T, u models.User) string {
	t.Helper()
	tok, err := middleware.IssueToken([]byte(e.cfg.Auth.JWTSecret), u, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, respond.Envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env respond.Envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func dataMap(t *testing.T, env respond.Envelope) map[string]any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	require.True(t, ok, "data is %T", env.Data)
	return m
}

func questionsOutput(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"question":"The report must be submitted ___ Friday. (%d)","options":["by","until","at","on"],"correctAnswer":0,"explanation":"Deadlines take by."}`, i)
	}
	return `{"questions":[` + strings.Join(items, ",") + `]}`
}

func TestRegisterLoginAndMe(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "Ann@Example.com", "password": "s3cretpass", "name": "Ann",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, body.Success)
	assert.NotEmpty(t, dataMap(t, body)["token"])
	assert.NotEmpty(t, rec.Header().Get("Set-Cookie"))

	rec, _ = env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "ann@example.com", "password": "s3cretpass",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "ann@example.com", "password": "wrong-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "ann@example.com", "password": "s3cretpass",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	token := dataMap(t, body)["token"].(string)

	rec, body = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, body)
	assert.Equal(t, services.PlanFree, data["plan"])
	assert.Equal(t, "ann@example.com", data["user"].(map[string]any)["email"])
}

func TestRegisterReportsEveryInvalidField(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"email": "not-an-email"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, body.Success)
	assert.Equal(t, "Validation failed", body.Error)

	details, ok := body.Details.([]any)
	require.True(t, ok)
	fields := map[string]string{}
	for _, d := range details {
		fe := d.(map[string]any)
		fields[fe["field"].(string)] = fe["message"].(string)
	}
	assert.Equal(t, "email must be a valid email address", fields["email"])
	assert.Equal(t, "password is required", fields["password"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/api/vocabulary", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateQuestionsCountOutOfRangeSkipsProvider(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.store.addUser("a@example.com", models.RoleUser))

	for _, count := range []int{0, 21} {
		rec, body := env.do(t, http.MethodPost, "/api/ai/questions/generate", token, gin.H{
			"type": models.ReadingPart5, "difficulty": models.DifficultyIntermediate, "count": count,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Validation failed", body.Error)
	}
	assert.Zero(t, env.gen.calls)
}

func TestGenerateQuestionsReturnsRequestedCount(t *testing.T) {
	env := newTestEnv(t)
	user := env.store.addUser("a@example.com", models.RoleUser)
	token := env.token(t, user)
	env.gen.output = questionsOutput(7)

	rec, body := env.do(t, http.MethodPost, "/api/ai/questions/generate", token, gin.H{
		"type": models.ReadingPart5, "difficulty": models.DifficultyIntermediate, "count": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	questions := dataMap(t, body)["questions"].([]any)
	require.Len(t, questions, 5)
	for _, q := range questions {
		qm := q.(map[string]any)
		assert.Equal(t, models.ReadingPart5, qm["type"])
		assert.Equal(t, models.DifficultyIntermediate, qm["difficulty"])
		assert.NotEmpty(t, qm["id"])
	}
	assert.Equal(t, 1, env.store.used(user.ID, models.ResourceAIQuestion))
}

func TestGenerateQuestionsProviderFailures(t *testing.T) {
	cases := []struct {
		name    string
		output  string
		err     error
		message string
	}{
		{name: "provider down", err: fmt.Errorf("%w: timeout", services.ErrProviderUnavailable), message: "AI provider unavailable"},
		{name: "malformed output", output: "not json at all", message: "Question generation failed"},
		{name: "too few questions", output: questionsOutput(2), message: "Question generation failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			user := env.store.addUser("a@example.com", models.RoleUser)
			env.gen.output, env.gen.err = tc.output, tc.err

			rec, body := env.do(t, http.MethodPost, "/api/ai/questions/generate", env.token(t, user), gin.H{
				"type": models.ReadingPart7, "difficulty": models.DifficultyAdvanced, "count": 3,
			})
			assert.Equal(t, http.StatusBadGateway, rec.Code)
			assert.Equal(t, tc.message, body.Error)
			assert.Equal(t, 0, env.store.used(user.ID, models.ResourceAIQuestion))
			assert.Equal(t, 1, env.gen.calls)
		})
	}
}

func TestGenerateQuestionsQuotaExceeded(t *testing.T) {
	env := newTestEnv(t)
	user := env.store.addUser("a@example.com", models.RoleUser)
	token := env.token(t, user)
	env.gen.output = questionsOutput(1)
	req := gin.H{"type": models.ListeningPart2, "difficulty": models.DifficultyBeginner, "count": 1}

	for i := 0; i < services.FreeLimits[models.ResourceAIQuestion]; i++ {
		rec, _ := env.do(t, http.MethodPost, "/api/ai/questions/generate", token, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, body := env.do(t, http.MethodPost, "/api/ai/questions/generate", token, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "quota exceeded", body.Error)
	details := body.Details.(map[string]any)
	assert.Equal(t, models.ResourceAIQuestion, details["resource_type"])
	assert.Equal(t, services.FreeLimits[models.ResourceAIQuestion], env.gen.calls)
}

func TestChatNotIncludedInFreePlan(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.store.addUser("a@example.com", models.RoleUser))

	rec, _ := env.do(t, http.MethodPost, "/api/ai/chat", token, gin.H{"message": "What does 'invoice' mean?"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Zero(t, env.gen.calls)
}

func TestChatWithPremiumSubscription(t *testing.T) {
	env := newTestEnv(t)
	user := env.store.addUser("a@example.com", models.RoleUser)
	env.store.subs[user.ID] = models.UserSubscription{UserID: user.ID, PlanID: "premium_monthly", Status: models.StatusActive}
	env.gen.output = "  It is a bill for goods or services.  "

	rec, body := env.do(t, http.MethodPost, "/api/ai/chat", env.token(t, user), gin.H{
		"message": "What does 'invoice' mean?",
		"history": []gin.H{{"role": "user", "content": "Hi"}, {"role": "assistant", "content": "Hello!"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "It is a bill for goods or services.", dataMap(t, body)["reply"])
}

func hmacSHA256(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func signPayload(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmacSHA256(testWebhookSecret, fmt.Sprintf("%d.%s", ts, payload))
	return fmt.Sprintf("t=%d,v1=%s", ts, mac)
}

func postWebhook(t *testing.T, env *testEnv, payload []byte, signature string) (*httptest.ResponseRecorder, respond.Envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	var body respond.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestWebhookAppliesEachEventOnce(t *testing.T) {
	env := newTestEnv(t)
	user := env.store.addUser("a@example.com", models.RoleUser)
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_123", "object": "event", "type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_1", "object": "subscription", "status": "active",
			"customer": "cus_1", "metadata": {"user_id": %q},
			"items": {"object": "list", "data": [{"id": "si_1", "price": {"id": "price_monthly"}}]}}}
	}`, user.ID))

	rec, body := postWebhook(t, env, payload, signPayload(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, dataMap(t, body)["duplicate"])

	rec, body = postWebhook(t, env, payload, signPayload(payload))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, dataMap(t, body)["duplicate"])

	require.Len(t, env.store.upserts, 1)
	assert.Equal(t, "premium_monthly", env.store.upserts[0].PlanID)
	assert.Equal(t, models.StatusActive, env.store.upserts[0].Status)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.payment_failed","data":{"object":{}}}`)

	rec, body := postWebhook(t, env, payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid signature", body.Error)
	assert.Empty(t, env.store.events)
}

func TestBillingTrialOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.store.addUser("a@example.com", models.RoleUser))

	rec, _ := env.do(t, http.MethodPost, "/api/billing/trial", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, _ = env.do(t, http.MethodPost, "/api/billing/trial", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/api/billing/subscription", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, dataMap(t, body)["entitled"])
}

func TestBillingPlansAndEmptySubscription(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.store.addUser("a@example.com", models.RoleUser))

	rec, body := env.do(t, http.MethodGet, "/api/billing/plans?currency=usd&interval=month", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body.Data, 2)

	rec, _ = env.do(t, http.MethodGet, "/api/billing/plans?interval=weekly", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = env.do(t, http.MethodGet, "/api/billing/subscription", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body.Data)
}

func TestVocabularyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.store.addUser("a@example.com", models.RoleUser))

	rec, body := env.do(t, http.MethodPost, "/api/vocabulary", token, gin.H{
		"word": "invoice", "meanings": []gin.H{{"definition": "a bill"}}, "tags": []string{"finance"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := dataMap(t, body)["id"].(string)

	rec, _ = env.do(t, http.MethodPost, "/api/vocabulary", token, gin.H{"word": "invoice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/vocabulary", token, gin.H{"word": "memo", "meanings": gin.H{"a": 1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = env.do(t, http.MethodPost, "/api/vocabulary/"+id+"/review", token, gin.H{"mastered": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, dataMap(t, body)["review_count"])
	assert.Equal(t, true, dataMap(t, body)["is_mastered"])

	rec, body = env.do(t, http.MethodGet, "/api/vocabulary?mastered=true", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, dataMap(t, body)["total"])

	rec, _ = env.do(t, http.MethodPost, "/api/vocabulary/not-a-uuid/review", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/api/vocabulary/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodDelete, "/api/vocabulary/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVocabularyRejectsNullMeanings(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.store.addUser("a@example.com", models.RoleUser))

	rec, body := env.do(t, http.MethodPost, "/api/vocabulary", token, gin.H{"word": "memo", "meanings": nil})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "meanings must be an array")
	assert.False(t, body.Success)

	assert.NotEmpty(t, VocabularyRequest{Word: "memo", Meanings: types.JSONText("null")}.Validate())
	assert.Empty(t, VocabularyRequest{Word: "memo"}.Validate())
	assert.Empty(t, VocabularyRequest{Word: "memo", Meanings: types.JSONText("[]")}.Validate())
}

func TestVocabularyEnrich(t *testing.T) {
	env := newTestEnv(t)
	user := env.store.addUser("a@example.com", models.RoleUser)
	token := env.token(t, user)
	item, err := env.store.CreateVocabulary(context.Background(), models.VocabularyItem{UserID: user.ID, Word: "ledger"})
	require.NoError(t, err)

	env.gen.output = `{"meanings":[{"partOfSpeech":"noun","definition":"a book of accounts"}],"example":"Check the ledger."}`
	rec, body := env.do(t, http.MethodPost, "/api/vocabulary/"+item.ID+"/enrich", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Check the ledger.", dataMap(t, body)["example"])
	assert.Equal(t, 1, env.store.used(user.ID, models.ResourceVocabEnrich))

	env.gen.output = `{"example":"no meanings"}`
	rec, _ = env.do(t, http.MethodPost, "/api/vocabulary/"+item.ID+"/enrich", token, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 1, env.store.used(user.ID, models.ResourceVocabEnrich))
}

func uploadCSV(t *testing.T, env *testEnv, token, content string) (*httptest.ResponseRecorder, respond.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "words.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/vocabulary/import", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var body respond.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestVocabularyImport(t *testing.T) {
	env := newTestEnv(t)
	user := env.store.addUser("a@example.com", models.RoleUser)
	token := env.token(t, user)
	_, err := env.store.CreateVocabulary(context.Background(), models.VocabularyItem{UserID: user.ID, Word: "agenda"})
	require.NoError(t, err)

	csv := "word,meaning,example,tags\n" +
		"agenda,list of items,The agenda is full.,meetings\n" +
		"invoice,a bill,Send the invoice.,finance|billing\n" +
		"Invoice,duplicate row,,\n" +
		"deadline,,,\n"
	rec, body := uploadCSV(t, env, token, csv)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, dataMap(t, body)["imported"])
	assert.EqualValues(t, 1, dataMap(t, body)["skipped"])

	rec, body = uploadCSV(t, env, token, "word,meaning\n,missing word\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Validation failed", body.Error)
}

func TestParseVocabularyCSVTags(t *testing.T) {
	items, errs := parseVocabularyCSV(strings.NewReader("merger,joining of firms,,finance; law | corp\n"))
	require.Empty(t, errs)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"finance", "law", "corp"}, []string(items[0].Tags))
	assert.JSONEq(t, `[{"definition":"joining of firms"}]`, string(items[0].Meanings))
}

func TestPracticeScoreAndStats(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.store.addUser("a@example.com", models.RoleUser))

	rec, body := env.do(t, http.MethodPost, "/api/practice", token, gin.H{
		"part": models.ReadingPart5, "total_questions": 3, "correct_answers": 2, "duration_seconds": 90,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 67, dataMap(t, body)["score"])

	rec, body = env.do(t, http.MethodPost, "/api/practice", token, gin.H{
		"part": models.ReadingPart5, "total_questions": 3, "correct_answers": 4,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Validation failed", body.Error)

	rec, body = env.do(t, http.MethodGet, "/api/practice/stats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, dataMap(t, body)["sessions"])

	rec, body = env.do(t, http.MethodGet, "/api/practice?part="+models.ReadingPart5, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body.Data, 1)
}

func TestNotificationsSend(t *testing.T) {
	env := newTestEnv(t)
	admin := env.store.addUser("admin@example.com", models.RoleAdmin)
	member := env.store.addUser("member@example.com", models.RoleUser)
	adminToken := env.token(t, admin)

	rec, _ := env.do(t, http.MethodPost, "/api/notifications/send", env.token(t, member), gin.H{
		"type": services.EventMaintenanceNotice, "recipients": []string{"x@example.com"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/notifications/send", adminToken, gin.H{
		"type": services.EventMaintenanceNotice,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "recipients or userIds is required")

	rec, body = env.do(t, http.MethodPost, "/api/notifications/send", adminToken, gin.H{
		"type": services.EventMaintenanceNotice, "recipients": []string{"x@example.com", "X@example.com"},
		"userIds": []string{member.ID}, "data": gin.H{"window": "Sunday 02:00 UTC"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, dataMap(t, body)["sent"])
	assert.Len(t, env.mailer.sent, 2)

	rec, body = env.do(t, http.MethodGet, "/api/notifications/types", env.token(t, member), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body.Data, 4)
}

func TestNotificationsSkipUnverifiedAndInactiveUsers(t *testing.T) {
	env := newTestEnv(t)
	admin := env.store.addUser("admin@example.com", models.RoleAdmin)
	verified := env.store.addUser("verified@example.com", models.RoleUser)
	unverified := env.store.addUser("unverified@example.com", models.RoleUser)
	inactive := env.store.addUser("inactive@example.com", models.RoleUser)

	u := env.store.users[unverified.ID]
	u.IsVerified = false
	env.store.users[unverified.ID] = u
	u = env.store.users[inactive.ID]
	u.IsActive = false
	env.store.users[inactive.ID] = u

	rec, body := env.do(t, http.MethodPost, "/api/notifications/send", env.token(t, admin), gin.H{
		"type":    services.EventSecurityAlert,
		"userIds": []string{verified.ID, unverified.ID, inactive.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, dataMap(t, body)["sent"])
	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "verified@example.com", env.mailer.sent[0].ToAddress)
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	admin := env.store.addUser("admin@example.com", models.RoleAdmin)
	member := env.store.addUser("member@example.com", models.RoleUser)
	token := env.token(t, admin)
	env.patches.results = []schemapatch.Result{{Patch: "users_missing_columns", Applied: 2, Failed: 1}}

	rec, _ := env.do(t, http.MethodGet, "/api/admin/db/patches", env.token(t, member), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/api/admin/db/patches", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body.Data, 1)

	rec, body = env.do(t, http.MethodPost, "/api/admin/db/patches/run", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, dataMap(t, body)["failed"])
	assert.Equal(t, 1, env.patches.runs)

	rec, _ = env.do(t, http.MethodPut, "/api/admin/users/"+member.ID+"/role", token, gin.H{"role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.RoleAdmin, env.store.users[member.ID].Role)

	rec, _ = env.do(t, http.MethodPut, "/api/admin/users/"+admin.ID+"/role", token, gin.H{"role": "user"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPut, "/api/admin/users/00000000-0000-4000-8000-999999999999/role", token, gin.H{"role": "user"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutesRecheckStoredRole(t *testing.T) {
	env := newTestEnv(t)
	admin := env.store.addUser("admin@example.com", models.RoleAdmin)
	token := env.token(t, admin)

	rec, _ := env.do(t, http.MethodGet, "/api/admin/db/patches", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Demoted after the token was issued.
	require.NoError(t, env.store.SetUserRole(context.Background(), admin.ID, models.RoleUser))
	rec, _ = env.do(t, http.MethodGet, "/api/admin/db/patches", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = env.do(t, http.MethodPost, "/api/notifications/send", token, gin.H{
		"type": services.EventMaintenanceNotice, "recipients": []string{"x@example.com"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, env.patches.runs)

	// Deactivated while still an admin.
	env.store.mu.Lock()
	u := env.store.users[admin.ID]
	u.Role, u.IsActive = models.RoleAdmin, false
	env.store.users[admin.ID] = u
	env.store.mu.Unlock()
	rec, _ = env.do(t, http.MethodPost, "/api/admin/db/patches/run", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, env.patches.runs)

	// Account removed.
	env.store.mu.Lock()
	delete(env.store.users, admin.ID)
	env.store.mu.Unlock()
	rec, _ = env.do(t, http.MethodGet, "/api/admin/db/patches", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", dataMap(t, body)["status"])
}

func TestHealthDegraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(Deps{
		Config: &config.Config{},
		Logger: zap.NewNop(),
		HealthChecks: map[string]HealthCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		},
	})
	r := gin.New()
	r.GET("/health", h.Health)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
}

func TestDisabledFeatureIsNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: "test-secret", CookieName: "toeic_jwt"}, Server: config.ServerConfig{CORSOrigins: "*"}}
	h := New(Deps{Config: cfg, Logger: zap.NewNop()})
	router := NewRouter(h, ratelimit.NewMemoryCounter(), ratelimit.NewPolicies(config.RateLimitConfig{}))

	tok, err := middleware.IssueToken([]byte("test-secret"), models.User{ID: "u1", Role: models.RoleUser}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/billing/plans", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGoogleLoginNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/api/auth/google", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
