package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"evfleet/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build":      buildinfo.Info(),
		"go":         runtime.Version(),
		"time":       time.Now().UTC().Format(time.RFC3339),
		"activeRuns": s.Runs.Active(),
		"config": map[string]any{
			"PORT":                 os.Getenv("PORT"),
			"AUTH_MODE":            s.Auth.Mode,
			"RATE_RPS":             os.Getenv("RATE_RPS"),
			"RATE_BURST":           os.Getenv("RATE_BURST"),
			"MAX_CONCURRENT_RUNS":  os.Getenv("MAX_CONCURRENT_RUNS"),
			"RUN_TIMEOUT":          os.Getenv("RUN_TIMEOUT"),
			"WEBHOOK_MAX_ATTEMPTS": os.Getenv("WEBHOOK_MAX_ATTEMPTS"),
			"HAS_WEBHOOK_URL":      os.Getenv("WEBHOOK_URL") != "",
			"HAS_DATABASE_URL":     os.Getenv("DATABASE_URL") != "",
			"HAS_REDIS_URL":        os.Getenv("REDIS_URL") != "",
		},
	}
	writeJSON(w, http.StatusOK, info)
}
