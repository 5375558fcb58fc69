package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"toeicprep/models"
	"toeicprep/schemapatch"
	"toeicprep/services"
	"toeicprep/store"

	"github.com/jmoiron/sqlx/types"
)

// memStore backs every store interface the handlers and services use.
type memStore struct {
	mu         sync.Mutex
	seq        int
	users      map[string]models.User
	vocab      map[string]models.VocabularyItem
	practice   []models.PracticeRecord
	plans      map[string]models.SubscriptionPlan
	subs       map[string]models.UserSubscription
	quotas     map[string]*models.UsageQuota
	events     map[string]bool
	upserts    []store.SubscriptionUpdate
	releases   int
	consumeErr error
}

func newMemStore() *memStore {
	return &memStore{
		users: map[string]models.User{},
		vocab: map[string]models.VocabularyItem{},
		plans: map[string]models.SubscriptionPlan{
			"free":            {ID: "free", Name: "Free", IsActive: true, Currency: "usd", Interval: "month"},
			"premium_monthly": {ID: "premium_monthly", Name: "Premium", IsActive: true, PriceCents: 999, Currency: "usd", Interval: "month", StripePriceID: "price_monthly", Limits: types.JSONText(`{"ai_question":50,"ai_chat":50}`)},
		},
		subs:   map[string]models.UserSubscription{},
		quotas: map[string]*models.UsageQuota{},
		events: map[string]bool{},
	}
}

func (m *memStore) nextID() string {
	m.seq++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", m.seq)
}

func (m *memStore) addUser(email, role string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := models.User{ID: m.nextID(), Email: email, Role: role, IsActive: true, IsVerified: true}
	m.users[u.ID] = u
	return u
}

func (m *memStore) CreateUser(_ context.Context, email, hash, name string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return models.User{}, store.ErrDuplicate
		}
	}
	u := models.User{ID: m.nextID(), Email: email, PasswordHash: &hash, Name: name, Role: models.RoleUser, IsActive: true}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, store.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) UpsertGoogleUser(_ context.Context, googleID, email, name string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.Email == email {
			u.GoogleID = &googleID
			u.IsVerified = true
			m.users[id] = u
			return u, nil
		}
	}
	u := models.User{ID: m.nextID(), Email: email, Name: name, GoogleID: &googleID, Role: models.RoleUser, IsActive: true, IsVerified: true}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) TouchLogin(_ context.Context, _ string) error { return nil }

func (m *memStore) UpdateProfile(_ context.Context, id, name string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	u.Name = name
	m.users[id] = u
	return u, nil
}

func (m *memStore) SetUserRole(_ context.Context, id, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Role = role
	m.users[id] = u
	return nil
}

func (m *memStore) SetStripeCustomerID(_ context.Context, userID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.StripeCustomerID = &customerID
	m.users[userID] = u
	return nil
}

func (m *memStore) ListVocabulary(_ context.Context, userID string, f store.VocabularyFilter) ([]models.VocabularyItem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.VocabularyItem
	for _, v := range m.vocab {
		if v.UserID != userID || (f.Mastered != nil && v.IsMastered != *f.Mastered) {
			continue
		}
		out = append(out, v)
	}
	total := len(out)
	if f.Offset >= len(out) {
		return []models.VocabularyItem{}, total, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *memStore) GetVocabulary(_ context.Context, userID, id string) (models.VocabularyItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vocab[id]
	if !ok || v.UserID != userID {
		return models.VocabularyItem{}, store.ErrNotFound
	}
	return v, nil
}

func (m *memStore) hasWordLocked(userID, word, exceptID string) bool {
	for id, v := range m.vocab {
		if id != exceptID && v.UserID == userID && strings.EqualFold(v.Word, word) {
			return true
		}
	}
	return false
}

func (m *memStore) CreateVocabulary(_ context.Context, item models.VocabularyItem) (models.VocabularyItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasWordLocked(item.UserID, item.Word, "") {
		return models.VocabularyItem{}, store.ErrDuplicate
	}
	item.ID = m.nextID()
	m.vocab[item.ID] = item
	return item, nil
}

func (m *memStore) UpdateVocabulary(_ context.Context, item models.VocabularyItem) (models.VocabularyItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vocab[item.ID]
	if !ok || v.UserID != item.UserID {
		return models.VocabularyItem{}, store.ErrNotFound
	}
	if m.hasWordLocked(item.UserID, item.Word, item.ID) {
		return models.VocabularyItem{}, store.ErrDuplicate
	}
	item.ReviewCount = v.ReviewCount
	m.vocab[item.ID] = item
	return item, nil
}

func (m *memStore) DeleteVocabulary(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vocab[id]
	if !ok || v.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.vocab, id)
	return nil
}

func (m *memStore) ReviewVocabulary(_ context.Context, userID, id string, mastered *bool) (models.VocabularyItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vocab[id]
	if !ok || v.UserID != userID {
		return models.VocabularyItem{}, store.ErrNotFound
	}
	v.ReviewCount++
	if mastered != nil {
		v.IsMastered = *mastered
	}
	m.vocab[id] = v
	return v, nil
}

func (m *memStore) SetEnrichment(_ context.Context, userID, id string, meanings types.JSONText, example string) (models.VocabularyItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vocab[id]
	if !ok || v.UserID != userID {
		return models.VocabularyItem{}, store.ErrNotFound
	}
	v.Meanings = meanings
	if example != "" {
		v.Example = example
	}
	m.vocab[id] = v
	return v, nil
}

func (m *memStore) ImportVocabulary(_ context.Context, userID string, items []models.VocabularyItem) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted, skipped := 0, 0
	for _, item := range items {
		if m.hasWordLocked(userID, item.Word, "") {
			skipped++
			continue
		}
		item.ID = m.nextID()
		item.UserID = userID
		m.vocab[item.ID] = item
		inserted++
	}
	return inserted, skipped, nil
}

func (m *memStore) CreatePracticeRecord(_ context.Context, r models.PracticeRecord) (models.PracticeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.nextID()
	m.practice = append(m.practice, r)
	return r, nil
}

func (m *memStore) ListPracticeRecords(_ context.Context, userID, part string, limit, offset int) ([]models.PracticeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PracticeRecord
	for _, r := range m.practice {
		if r.UserID == userID && (part == "" || r.Part == part) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) PracticeStats(_ context.Context, userID string) (store.PracticeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s store.PracticeStats
	for _, r := range m.practice {
		if r.UserID != userID {
			continue
		}
		s.Sessions++
		s.TotalQuestions += r.TotalQuestions
		s.CorrectAnswers += r.CorrectAnswers
	}
	return s, nil
}

func (m *memStore) ListPlans(_ context.Context, _, _ string) ([]models.SubscriptionPlan, error) {
	return []models.SubscriptionPlan{m.plans["free"], m.plans["premium_monthly"]}, nil
}

func (m *memStore) GetPlan(_ context.Context, id string) (models.SubscriptionPlan, error) {
	p, ok := m.plans[id]
	if !ok {
		return models.SubscriptionPlan{}, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetSubscription(_ context.Context, userID string) (models.UserSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[userID]
	if !ok {
		return models.UserSubscription{}, store.ErrNotFound
	}
	return s, nil
}

func (m *memStore) CreateTrial(_ context.Context, userID, planID string, start, end time.Time) (models.UserSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[userID]; ok {
		return models.UserSubscription{}, store.ErrConflict
	}
	s := models.UserSubscription{UserID: userID, PlanID: planID, Status: models.StatusTrialing, TrialStart: &start, TrialEnd: &end}
	m.subs[userID] = s
	return s, nil
}

func (m *memStore) WithPaymentEvent(_ context.Context, eventID, _ string, fn func(store.BillingTx) error) (bool, error) {
	m.mu.Lock()
	if m.events[eventID] {
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()
	if err := fn(memBillingTx{m}); err != nil {
		return false, err
	}
	m.mu.Lock()
	m.events[eventID] = true
	m.mu.Unlock()
	return true, nil
}

type memBillingTx struct{ m *memStore }

func (t memBillingTx) UpsertSubscription(_ context.Context, u store.SubscriptionUpdate) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.upserts = append(t.m.upserts, u)
	t.m.subs[u.UserID] = models.UserSubscription{UserID: u.UserID, PlanID: u.PlanID, Status: u.Status}
	return nil
}

func (t memBillingTx) SetStatusBySubscriptionID(context.Context, string, string) (bool, error) {
	return false, nil
}

func (t memBillingTx) UserIDByCustomer(context.Context, string) (string, error) {
	return "", store.ErrNotFound
}

func (t memBillingTx) PlanIDByPrice(_ context.Context, priceID string) (string, error) {
	for _, p := range t.m.plans {
		if p.StripePriceID == priceID {
			return p.ID, nil
		}
	}
	return "", store.ErrNotFound
}

func (t memBillingTx) LinkCustomer(context.Context, string, string) error { return nil }

func (m *memStore) ConsumeQuota(_ context.Context, userID, resource string, start, end time.Time, limit int) (models.UsageQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumeErr != nil {
		return models.UsageQuota{}, m.consumeErr
	}
	key := userID + "/" + resource
	q, ok := m.quotas[key]
	if !ok {
		q = &models.UsageQuota{UserID: userID, ResourceType: resource, PeriodStart: start, PeriodEnd: end}
		m.quotas[key] = q
	}
	q.Limit = limit
	if q.Used >= limit {
		return models.UsageQuota{}, store.ErrQuotaExceeded
	}
	q.Used++
	return *q, nil
}

func (m *memStore) ReleaseQuota(_ context.Context, userID, resource string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	if q, ok := m.quotas[userID+"/"+resource]; ok && q.Used > 0 {
		q.Used--
	}
	return nil
}

func (m *memStore) ListQuotas(_ context.Context, userID string, _ time.Time) ([]models.UsageQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UsageQuota
	for _, q := range m.quotas {
		if q.UserID == userID {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (m *memStore) used(userID, resource string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.quotas[userID+"/"+resource]; ok {
		return q.Used
	}
	return 0
}

func (m *memStore) NotifiableUsers(_ context.Context, ids []string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok && u.IsVerified && u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeGenerator struct {
	mu     sync.Mutex
	calls  int
	output string
	err    error
}

func (g *fakeGenerator) Complete(_ context.Context, _ services.Completion) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.output, g.err
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []services.Email
}

func (f *fakeMailer) Send(_ context.Context, e services.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, e)
	return nil
}

type fakePatchRunner struct {
	runs    int
	results []schemapatch.Result
}

func (f *fakePatchRunner) Run(_ context.Context, patches []schemapatch.Patch) ([]schemapatch.Result, error) {
	f.runs++
	return f.results, nil
}

func (f *fakePatchRunner) Ledger(context.Context) ([]schemapatch.LedgerEntry, error) {
	return []schemapatch.LedgerEntry{{Name: "users_missing_columns", Runs: 2, StepsApplied: 7}}, nil
}
