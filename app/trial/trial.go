package trial

import (
	"context"
	"strings"
	"time"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/db/redis"
	"amoura/m/v2/app/models"

	log "github.com/sirupsen/logrus"
)

const DefaultTrialDuration = 72 * time.Hour

// Status answers "trial, paid plan, or neither" for the UI.
type Status struct {
	Active         bool    `json:"active"`
	HoursRemaining float64 `json:"hoursRemaining"`
	HasPaidPlan    bool    `json:"hasPaidPlan"`
}

// HasPaidPlan is the precedence predicate: an active plan whose name is
// not a trial plan. A paid plan always wins over the trial window.
func HasPaidPlan(profile *models.MongoUser) bool {
	return profile != nil &&
		profile.PlanActive &&
		profile.PlanName != "" &&
		profile.PlanName != models.FreePlanName &&
		!strings.Contains(string(profile.PlanName), "trial")
}

// Effective is the pure precedence resolver: trial counts only while the
// row is active, the window has not closed and no paid plan is active.
func Effective(profile *models.MongoUser, trial *models.MongoTrial, now time.Time) bool {
	if trial == nil || !trial.TrialActive {
		return false
	}
	if HasPaidPlan(profile) {
		return false
	}
	return now.Before(trial.TrialEnd)
}

// Start creates the user's one-and-only trial.
// models.ErrTrialExists on a second attempt.
func Start(ctx context.Context) (*models.MongoTrial, error) {
	trial, err := mongo.MongoDBClient.StartTrial(ctx, DefaultTrialDuration)
	if err != nil {
		return nil, err
	}
	user := ctx.Value(models.UserContext{}).(string)
	redis.EvictUser(user)
	config.CONFIG.DataDogClient.Incr("trial.started", nil, 1)
	log.Infof("Started trial for %s until %s", user, trial.TrialEnd)
	return trial, nil
}

// GetStatus resolves the current entitlement state and lazily deactivates
// a trial whose window has passed.
func GetStatus(ctx context.Context) (Status, error) {
	profile, err := mongo.MongoDBClient.GetUser(ctx)
	if err != nil {
		return Status{}, err
	}
	row, err := mongo.MongoDBClient.GetTrial(ctx)
	if err != nil {
		return Status{}, err
	}

	now := time.Now()
	status := Status{HasPaidPlan: HasPaidPlan(profile)}
	if Effective(profile, row, now) {
		status.Active = true
		status.HoursRemaining = row.TrialEnd.Sub(now).Hours()
		return status, nil
	}

	// lazy deactivation keeps the row honest for the sweeper and analytics
	if row != nil && row.TrialActive && now.After(row.TrialEnd) {
		if err := mongo.MongoDBClient.DeactivateTrial(ctx); err != nil {
			log.Errorf("Failed to lazily deactivate trial for %s: %v", profile.ID, err)
		} else {
			config.CONFIG.DataDogClient.Incr("trial.expired", []string{"path:lazy"}, 1)
		}
		redis.EvictUser(profile.ID)
	}
	return status, nil
}
