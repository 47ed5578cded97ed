package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/secretbox"
)

type ProviderRepo struct {
	db     *gorm.DB
	cipher *secretbox.Cipher
}

func NewProviderRepo(db *gorm.DB, cipher *secretbox.Cipher) *ProviderRepo {
	return &ProviderRepo{db: db, cipher: cipher}
}

type UpsertProviderParams struct {
	SessionID string
	Provider  string
	BaseURL   string
	APIKey    *string // nil means "leave unchanged", empty string means "clear"
	ModelName string
	ExtraJSON string
}

// ProviderView never exposes the plaintext or ciphertext key, only
// whether one is configured (I5).
type ProviderView struct {
	SessionID string
	Provider  string
	BaseURL   string
	ModelName string
	ExtraJSON string
	HasAPIKey bool
}

func (r *ProviderRepo) Upsert(p UpsertProviderParams) (*ProviderView, error) {
	var existing ProviderConfig
	err := r.db.First(&existing, "session_id = ?", p.SessionID).Error
	found := err == nil
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}

	encrypted := existing.APIKeyEncrypted
	if p.APIKey != nil {
		if *p.APIKey == "" {
			encrypted = ""
		} else {
			enc, encErr := r.cipher.Encrypt(*p.APIKey)
			if encErr != nil {
				return nil, apperr.Config("failed to encrypt provider api key", encErr)
			}
			encrypted = enc
		}
	}

	cfg := ProviderConfig{
		SessionID:       p.SessionID,
		Provider:        p.Provider,
		BaseURL:         p.BaseURL,
		APIKeyEncrypted: encrypted,
		ModelName:       p.ModelName,
		ExtraJSON:       p.ExtraJSON,
		UpdatedAt:       time.Now().UTC(),
	}
	if !found {
		if err := r.db.Create(&cfg).Error; err != nil {
			return nil, err
		}
	} else {
		if err := r.db.Model(&ProviderConfig{}).Where("session_id = ?", p.SessionID).
			Updates(map[string]any{
				"provider":          cfg.Provider,
				"base_url":          cfg.BaseURL,
				"api_key_encrypted": cfg.APIKeyEncrypted,
				"model_name":        cfg.ModelName,
				"extra_json":        cfg.ExtraJSON,
				"updated_at":        cfg.UpdatedAt,
			}).Error; err != nil {
			return nil, err
		}
	}
	return r.toView(&cfg), nil
}

func (r *ProviderRepo) SelectModel(sessionID, modelName string) (*ProviderView, error) {
	var cfg ProviderConfig
	if err := r.db.First(&cfg, "session_id = ?", sessionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.PreconditionFailed("provider must be configured before selecting a model")
		}
		return nil, err
	}
	if err := r.db.Model(&ProviderConfig{}).Where("session_id = ?", sessionID).
		Updates(map[string]any{"model_name": modelName, "updated_at": time.Now().UTC()}).Error; err != nil {
		return nil, err
	}
	cfg.ModelName = modelName
	return r.toView(&cfg), nil
}

func (r *ProviderRepo) GetView(sessionID string) (*ProviderView, error) {
	var cfg ProviderConfig
	if err := r.db.First(&cfg, "session_id = ?", sessionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("provider config not found")
		}
		return nil, err
	}
	return r.toView(&cfg), nil
}

// GetDecrypted is used only inside the runner/provider-adapter
// construction path, never returned across the HTTP boundary. The key
// comes back wrapped in secretbox.String so it can't be formatted into
// a log line by accident on its way to the provider adapter.
func (r *ProviderRepo) GetDecrypted(sessionID string) (*ProviderConfig, secretbox.String, error) {
	var cfg ProviderConfig
	if err := r.db.First(&cfg, "session_id = ?", sessionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, "", apperr.PreconditionFailed("no provider configured for session")
		}
		return nil, "", err
	}
	plain, err := r.cipher.Decrypt(cfg.APIKeyEncrypted)
	if err != nil {
		return nil, "", apperr.Config("failed to decrypt provider api key", err)
	}
	return &cfg, secretbox.String(plain), nil
}

func (r *ProviderRepo) toView(cfg *ProviderConfig) *ProviderView {
	return &ProviderView{
		SessionID: cfg.SessionID,
		Provider:  cfg.Provider,
		BaseURL:   cfg.BaseURL,
		ModelName: cfg.ModelName,
		ExtraJSON: cfg.ExtraJSON,
		HasAPIKey: cfg.APIKeyEncrypted != "",
	}
}
