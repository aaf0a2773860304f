package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"dutydesk/db"
	"dutydesk/models"

	jww "github.com/spf13/jwalterweatherman"
)

type ConfigHandler struct {
	db db.Store
}

func NewConfigHandler(store db.Store) *ConfigHandler {
	return &ConfigHandler{db: store}
}

// ValidateConfig checks a test configuration before it is stored.
func ValidateConfig(cfg *models.TestConfig) error {
	cfg.TestName = strings.TrimSpace(cfg.TestName)
	switch {
	case cfg.TestName == "":
		return fmt.Errorf("testName is required: %w", models.ErrValidation)
	case strings.ContainsAny(cfg.TestName, "/?#"):
		return fmt.Errorf("testName may not contain '/', '?' or '#': %w", models.ErrValidation)
	case cfg.TimeLimitSeconds <= 0:
		return fmt.Errorf("timeLimitSeconds must be positive: %w", models.ErrValidation)
	case cfg.QuestionsCount <= 0:
		return fmt.Errorf("questionsCount must be positive: %w", models.ErrValidation)
	case cfg.MaxMistakes < 0 || cfg.MaxMistakes > cfg.QuestionsCount:
		return fmt.Errorf("maxMistakes must be between 0 and questionsCount: %w", models.ErrValidation)
	}
	return nil
}

// List returns every test configuration.
func (h *ConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.db.ListConfigs(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

// Get returns the configuration named in the path.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.db.GetConfig(r.Context(), r.PathValue("name"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Put creates or overwrites a configuration. On /config/{name} the path
// name wins over the body.
func (h *ConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var cfg models.TestConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if name := r.PathValue("name"); name != "" {
		cfg.TestName = name
	}
	if err := ValidateConfig(&cfg); err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := h.db.PutConfig(r.Context(), &cfg); err != nil {
		writeDomainError(w, r, err)
		return
	}

	jww.INFO.Printf("✅ Config saved by %s: %s", user.Tag, cfg.TestName)
	writeJSON(w, http.StatusOK, cfg)
}

// Delete removes the configuration named in the path.
func (h *ConfigHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	name := r.PathValue("name")
	if err := h.db.DeleteConfig(r.Context(), name); err != nil {
		writeDomainError(w, r, err)
		return
	}

	jww.INFO.Printf("🗑️  Config deleted by %s: %s", user.Tag, name)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Config deleted"})
}
