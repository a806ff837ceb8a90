package mongo

import (
	"context"
	"errors"
	"sync"
	"time"

	"amoura/m/v2/app/models"
)

// MockMongoDBClient is an in-memory ledger used by tests. It keeps the
// same atomicity guarantees as the real client (conditional decrement,
// unique settlement markers) behind a mutex.
type MockMongoDBClient struct {
	MongoClient

	mu            sync.Mutex
	Users         map[string]*models.MongoUser
	Subscriptions map[string]*models.MongoSubscription
	Trials        map[string]*models.MongoTrial
	Gifts         []models.MongoGift
	Processed     map[string]models.MongoProcessedSettlement

	FailPersistence bool
}

func NewMockMongoDBClient(users ...models.MongoUser) *MockMongoDBClient {
	m := &MockMongoDBClient{
		Users:         make(map[string]*models.MongoUser),
		Subscriptions: make(map[string]*models.MongoSubscription),
		Trials:        make(map[string]*models.MongoTrial),
		Processed:     make(map[string]models.MongoProcessedSettlement),
	}
	for i := range users {
		user := users[i]
		m.Users[user.ID] = &user
	}
	return m
}

func (m *MockMongoDBClient) user(ctx context.Context) (*models.MongoUser, bool) {
	userId := ctx.Value(models.UserContext{}).(string)
	user, ok := m.Users[userId]
	return user, ok
}

func (m *MockMongoDBClient) EnsureIndexes(ctx context.Context) error { return nil }

func (m *MockMongoDBClient) GetUser(ctx context.Context) (*models.MongoUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.user(ctx)
	if !ok {
		return nil, errors.New("user not found")
	}
	copied := *user
	return &copied, nil
}

func (m *MockMongoDBClient) EnsureUser(ctx context.Context) (*models.MongoUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userId := ctx.Value(models.UserContext{}).(string)
	if user, ok := m.Users[userId]; ok {
		copied := *user
		return &copied, nil
	}
	user := &models.MongoUser{ID: userId, PlanName: models.FreePlanName, CreatedAt: time.Now()}
	m.Users[userId] = user
	copied := *user
	return &copied, nil
}

func (m *MockMongoDBClient) UpdateUserContacts(ctx context.Context, fullName, phone, cpf string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.user(ctx)
	if !ok {
		return errors.New("user not found")
	}
	user.FullName, user.Phone, user.CPF = fullName, phone, cpf
	return nil
}

func (m *MockMongoDBClient) UpdateUserAvatar(ctx context.Context, avatarURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.user(ctx); ok {
		user.AvatarURL = avatarURL
	}
	return nil
}

func (m *MockMongoDBClient) UpdateUserStripeCustomerId(ctx context.Context, stripeCustomerId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.user(ctx); ok {
		user.StripeCustomerId = stripeCustomerId
	}
	return nil
}

func (m *MockMongoDBClient) GetUsersCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.Users)), nil
}

func (m *MockMongoDBClient) GetUsersCountForPlan(ctx context.Context, plan string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, user := range m.Users {
		if string(user.PlanName) == plan && user.PlanActive {
			count++
		}
	}
	return count, nil
}

func (m *MockMongoDBClient) markProcessed(marker models.MongoProcessedSettlement) error {
	if m.FailPersistence {
		return models.ErrPersistence
	}
	if _, ok := m.Processed[marker.ID]; ok {
		return models.ErrAlreadyProcessed
	}
	marker.ProcessedAt = time.Now()
	m.Processed[marker.ID] = marker
	return nil
}

func (m *MockMongoDBClient) AddCredits(ctx context.Context, marker models.MongoProcessedSettlement, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.markProcessed(marker); err != nil {
		return err
	}
	user, ok := m.Users[marker.UserID]
	if !ok {
		user = &models.MongoUser{ID: marker.UserID, PlanName: models.FreePlanName}
		m.Users[marker.UserID] = user
	}
	user.Credits += amount
	return nil
}

func (m *MockMongoDBClient) RefundCredits(ctx context.Context, chargeID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	userId := ctx.Value(models.UserContext{}).(string)
	err := m.markProcessed(models.MongoProcessedSettlement{ID: "refund:" + chargeID, UserID: userId})
	if err == models.ErrAlreadyProcessed {
		return nil
	}
	if err != nil {
		return err
	}
	if user, ok := m.Users[userId]; ok {
		user.Credits += amount
	}
	return nil
}

func (m *MockMongoDBClient) ConsumeCredits(ctx context.Context, amount int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.user(ctx)
	if !ok || user.Credits < amount {
		return false, nil
	}
	user.Credits -= amount
	return true, nil
}

func (m *MockMongoDBClient) GetCredits(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.user(ctx)
	if !ok {
		return 0, errors.New("user not found")
	}
	return user.Credits, nil
}

func (m *MockMongoDBClient) ApplySubscriptionSettlement(ctx context.Context, marker models.MongoProcessedSettlement, sub models.MongoSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.markProcessed(marker); err != nil {
		return err
	}
	key := sub.UserID + ":" + string(sub.Provider) + ":" + sub.PlanID
	if existing, ok := m.Subscriptions[key]; ok {
		existing.Status = sub.Status
		existing.PlanName = sub.PlanName
		existing.EndDate = sub.EndDate
	} else {
		copied := sub
		m.Subscriptions[key] = &copied
	}
	user, ok := m.Users[sub.UserID]
	if !ok {
		user = &models.MongoUser{ID: sub.UserID}
		m.Users[sub.UserID] = user
	}
	if sub.Status == models.SubscriptionActive {
		user.PlanName = sub.PlanName
		user.PlanActive = true
	} else {
		user.PlanName = models.FreePlanName
		user.PlanActive = false
	}
	return nil
}

func (m *MockMongoDBClient) GetSubscription(ctx context.Context, provider models.ProviderName) (*models.MongoSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userId := ctx.Value(models.UserContext{}).(string)
	for _, sub := range m.Subscriptions {
		if sub.UserID == userId && sub.Provider == provider {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, errors.New("subscription not found")
}

func (m *MockMongoDBClient) RecordGift(ctx context.Context, marker models.MongoProcessedSettlement, gift models.MongoGift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.markProcessed(marker); err != nil {
		return err
	}
	m.Gifts = append(m.Gifts, gift)
	return nil
}

func (m *MockMongoDBClient) StartTrial(ctx context.Context, duration time.Duration) (*models.MongoTrial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userId := ctx.Value(models.UserContext{}).(string)
	if _, ok := m.Trials[userId]; ok {
		return nil, models.ErrTrialExists
	}
	now := time.Now()
	trial := &models.MongoTrial{
		UserID:      userId,
		TrialStart:  now,
		TrialEnd:    now.Add(duration),
		TrialActive: true,
	}
	m.Trials[userId] = trial
	copied := *trial
	return &copied, nil
}

func (m *MockMongoDBClient) GetTrial(ctx context.Context) (*models.MongoTrial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userId := ctx.Value(models.UserContext{}).(string)
	trial, ok := m.Trials[userId]
	if !ok {
		return nil, nil
	}
	copied := *trial
	return &copied, nil
}

func (m *MockMongoDBClient) DeactivateTrial(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	userId := ctx.Value(models.UserContext{}).(string)
	if trial, ok := m.Trials[userId]; ok {
		trial.TrialActive = false
	}
	return nil
}

func (m *MockMongoDBClient) DeactivateExpiredTrials(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, trial := range m.Trials {
		if trial.TrialActive && trial.TrialEnd.Before(now) {
			trial.TrialActive = false
			count++
		}
	}
	return count, nil
}
