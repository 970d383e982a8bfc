package api

import (
	"fmt"
	"net/url"

	"evfleet/internal/model"
)

const maxNameLen = 200

func validateCreateRunRequest(req *model.CreateRunRequest) error {
	if len(req.Name) > maxNameLen {
		return fmt.Errorf("name must be at most %d characters", maxNameLen)
	}
	if req.Instance == "" {
		return fmt.Errorf("instance is required")
	}
	if d := req.Decorate; d != nil && d.ChargeRateKW < 0 {
		return fmt.Errorf("decorate.chargeRateKW must be >= 0")
	}
	o := req.Overrides
	for name, v := range map[string]*float64{
		"waitingCost":      o.WaitingCost,
		"energyCost":       o.EnergyCost,
		"chargeRate":       o.ChargeRate,
		"fixedChargeHours": o.FixedChargeHours,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("overrides.%s must be >= 0", name)
		}
	}
	if v := o.InitSoCRatio; v != nil && (*v <= 0 || *v > 1) {
		return fmt.Errorf("overrides.initSocRatio must be in (0,1]")
	}
	if v := o.KNearestStations; v != nil && *v < 0 {
		return fmt.Errorf("overrides.kNearestStations must be >= 0")
	}
	return nil
}

// knownEvents are the types delivered to webhooks; generation progress
// only goes to streaming clients.
var knownEvents = map[string]struct{}{
	model.EventRunStarted:   {},
	model.EventRunCompleted: {},
	model.EventRunFailed:    {},
	model.EventRunCancelled: {},
}

func validateSubscriptionRequest(req *model.SubscriptionRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	for _, e := range req.Events {
		if _, ok := knownEvents[e]; !ok {
			return fmt.Errorf("unknown event type: %s", e)
		}
	}
	return nil
}
