package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hostwarden/hostwarden/internal/domain"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/port/database"
)

// keyPrefixLen is the number of key characters stored in clear for lookup.
// The full key is stored only as a SHA-256 hash.
const keyPrefixLen = 12

// AuthService authenticates principals by API key or password. Suspended
// principals and principals of suspended or canceled tenants are rejected
// at authentication time, before any access evaluation runs.
type AuthService struct {
	store database.Store
	gate  *Gate
}

// NewAuthService creates the authentication service.
func NewAuthService(store database.Store, gate *Gate) *AuthService {
	return &AuthService{store: store, gate: gate}
}

// MintKey generates a new API key and returns the clear-text key, its
// SHA-256 hash and its lookup prefix.
func (s *AuthService) MintKey() (key, hash, prefix string, err error) {
	raw := make([]byte, 24)
	if _, err = rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("minting api key: %w", err)
	}
	key = principal.APIKeyPrefix + hex.EncodeToString(raw)
	return key, hashKey(key), key[:keyPrefixLen], nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// HashPassword derives the stored bcrypt hash of an interactive credential.
func (s *AuthService) HashPassword(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// AuthenticateKey resolves an API key to its principal. Lookup goes through
// the stored key prefix; the hash comparison is constant-time.
func (s *AuthService) AuthenticateKey(ctx context.Context, key string) (*principal.Principal, error) {
	if !strings.HasPrefix(key, principal.APIKeyPrefix) || len(key) < keyPrefixLen {
		return nil, domain.ErrAccessDenied
	}
	p, err := s.store.GetPrincipalByKeyPrefix(ctx, key[:keyPrefixLen])
	if err != nil {
		return nil, domain.ErrAccessDenied
	}
	if subtle.ConstantTimeCompare([]byte(hashKey(key)), []byte(p.KeyHash)) != 1 {
		return nil, domain.ErrAccessDenied
	}
	if err := s.checkUsable(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// AuthenticatePassword resolves a principal id plus password credential.
func (s *AuthService) AuthenticatePassword(ctx context.Context, id, pw string) (*principal.Principal, error) {
	p, err := s.store.GetPrincipal(ctx, id)
	if err != nil {
		return nil, domain.ErrAccessDenied
	}
	if p.PasswordHash == "" {
		return nil, domain.ErrAccessDenied
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(pw)) != nil {
		return nil, domain.ErrAccessDenied
	}
	if err := s.checkUsable(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// checkUsable rejects suspended identities. The owning tenant's state is
// read through the derived cache; a correct credential on a locked identity
// is still a denial.
func (s *AuthService) checkUsable(ctx context.Context, p *principal.Principal) error {
	if p.Suspended() {
		return fmt.Errorf("principal %s is suspended: %w", p.ID, domain.ErrAccessDenied)
	}
	suspended, err := s.gate.TenantSuspended(ctx, p.TenantID)
	if err != nil {
		return err
	}
	if suspended {
		return fmt.Errorf("tenant %s is suspended: %w", p.TenantID, domain.ErrAccessDenied)
	}
	return nil
}

// SwitchIdentity returns an impersonated principal view for a target tenant
// after the gate's switch check passes. The returned principal keeps the
// actor's id for audit but acts with the target tenant's ordinary scope.
func (s *AuthService) SwitchIdentity(ctx context.Context, actor *principal.Principal, targetTenantID string) (*principal.Principal, error) {
	if err := s.gate.CheckSwitch(ctx, actor, targetTenantID); err != nil {
		return nil, err
	}
	impersonated := *actor
	impersonated.TenantID = targetTenantID
	impersonated.Operator = nil
	impersonated.CanSwitch = false
	return &impersonated, nil
}
