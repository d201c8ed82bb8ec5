package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/vocanalytics/voc/internal/config"
	"github.com/vocanalytics/voc/internal/database"
	"github.com/vocanalytics/voc/internal/logger"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	rdb *database.Redis
	log *logger.Logger
	cfg *config.Config
}

// New creates a new Middleware instance
func New(rdb *database.Redis, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		rdb: rdb,
		log: log.WithComponent("http"),
		cfg: cfg,
	}
}

// Chain applies mws to h so that the first one listed runs first
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
