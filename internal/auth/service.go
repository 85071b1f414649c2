package auth

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientInfo identifies an authenticated API client.
type ClientInfo struct {
	ClientID    string
	Description string
}

// Service validates API keys. Keys are provisioned through the environment at
// startup (ADMIN_API_KEY, DEV_API_KEY, API_KEY_1..n) and must carry a
// sk_live_ or sk_test_ prefix. Constructed once and injected; no package
// globals.
type Service struct {
	mu       sync.RWMutex
	keys     map[string]ClientInfo
	skipAuth bool
	logger   *zap.Logger

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	ratePerSec float64
	burst      int
}

// NewService loads keys from the environment.
func NewService(skipAuth bool, ratePerSec float64, burst int, logger *zap.Logger) *Service {
	s := &Service{
		keys:       make(map[string]ClientInfo),
		skipAuth:   skipAuth,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
		ratePerSec: ratePerSec,
		burst:      burst,
	}
	s.loadKeys()
	return s
}

func (s *Service) loadKeys() {
	if key := os.Getenv("ADMIN_API_KEY"); key != "" {
		s.keys[key] = ClientInfo{ClientID: "admin", Description: "Admin API key"}
		s.logger.Info("Loaded ADMIN_API_KEY")
	}
	if key := os.Getenv("DEV_API_KEY"); key != "" {
		s.keys[key] = ClientInfo{ClientID: "dev-client", Description: "Development API key"}
		s.logger.Info("Loaded DEV_API_KEY")
	}
	for i := 1; ; i++ {
		key := os.Getenv(fmt.Sprintf("API_KEY_%d", i))
		if key == "" {
			break
		}
		s.keys[key] = ClientInfo{
			ClientID:    fmt.Sprintf("client-%d", i),
			Description: fmt.Sprintf("API key %d", i),
		}
		s.logger.Info("Loaded API key", zap.Int("index", i))
	}
	if len(s.keys) == 0 && !s.skipAuth {
		s.logger.Warn("No API keys loaded; authentication is enforced but no keys are valid")
	}
}

// Verify checks a bearer credential and returns the client it belongs to.
func (s *Service) Verify(apiKey string) (ClientInfo, error) {
	if s.skipAuth {
		return ClientInfo{ClientID: "anonymous"}, nil
	}
	if apiKey == "" {
		return ClientInfo{}, fmt.Errorf("missing authorization header")
	}
	if !strings.HasPrefix(apiKey, "sk_live_") && !strings.HasPrefix(apiKey, "sk_test_") {
		return ClientInfo{}, fmt.Errorf("invalid API key format")
	}
	s.mu.RLock()
	info, ok := s.keys[apiKey]
	s.mu.RUnlock()
	if !ok {
		return ClientInfo{}, fmt.Errorf("invalid API key")
	}
	return info, nil
}

// Allow applies the per-client rate limit. A zero rate disables limiting.
func (s *Service) Allow(clientID string) bool {
	if s.ratePerSec <= 0 {
		return true
	}
	s.limiterMu.Lock()
	lim, ok := s.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.ratePerSec), s.burst)
		s.limiters[clientID] = lim
	}
	s.limiterMu.Unlock()
	return lim.Allow()
}
