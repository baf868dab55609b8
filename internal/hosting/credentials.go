package hosting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tracklab/podium/internal/database/models"
	"github.com/tracklab/podium/pkg/crypto"
)

// ErrNoCredential means an organization has no active hosting credential,
// so nothing can be done against the hosting service on its behalf.
var ErrNoCredential = errors.New("no active hosting credential for organization")

// Credential is a decrypted hosting credential ready for use.
type Credential struct {
	Category     string
	ClientID     string
	ClientSecret string
}

// CredentialSource loads HostingCredential rows and decrypts their secrets.
type CredentialSource struct {
	db        *gorm.DB
	encryptor *crypto.Encryptor
}

func NewCredentialSource(db *gorm.DB, encryptor *crypto.Encryptor) *CredentialSource {
	return &CredentialSource{db: db, encryptor: encryptor}
}

// For returns the newest active credential for an organization.
func (s *CredentialSource) For(ctx context.Context, orgID uuid.UUID) (Credential, error) {
	var cred models.HostingCredential
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND is_active = ?", orgID, true).
		Order("created_at DESC").
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, fmt.Errorf("%w: %s", ErrNoCredential, orgID)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("loading hosting credential: %w", err)
	}

	secret, err := s.encryptor.Decrypt(cred.EncryptedSecret)
	if err != nil {
		return Credential{}, fmt.Errorf("decrypting hosting credential %s: %w", cred.ID, err)
	}

	return Credential{
		Category:     cred.Category,
		ClientID:     cred.ClientID,
		ClientSecret: string(secret),
	}, nil
}
