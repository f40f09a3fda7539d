// Package credentials manages per-tenant, per-provider API keys. Material is
// encrypted at rest with AES-256-GCM; at most one credential per
// (tenant, provider) pair is active at a time. Every mutation notifies the
// provider registry so cached instances are rebuilt with fresh secrets.
package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prospectly/server/pkg/types"
)

// Credential is the public shape of a stored key. Material never appears
// here; it is decrypted on demand for provider authentication only.
type Credential struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ProviderID string    `json:"provider_id"`
	Label      string    `json:"label"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Invalidator is notified after a committed mutation for a (tenant, provider)
// pair. Wired to the provider registry's Invalidate.
type Invalidator func(tenantID, providerID string)

// Store manages encrypted credential storage in the api_keys table.
type Store struct {
	db         *sql.DB
	codec      *Codec
	logger     *slog.Logger
	invalidate Invalidator
}

// NewStore creates a credential store. encryptionKey must be 32 bytes.
func NewStore(db *sql.DB, encryptionKey []byte, logger *slog.Logger) (*Store, error) {
	codec, err := NewCodec(encryptionKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, codec: codec, logger: logger.With("component", "credentials")}, nil
}

// SetInvalidator wires the registry invalidation hook. Called once at
// startup, after the registry exists.
func (s *Store) SetInvalidator(fn Invalidator) {
	s.invalidate = fn
}

func (s *Store) notify(tenantID, providerID string) {
	if s.invalidate != nil {
		s.invalidate(tenantID, providerID)
	}
}

func norm(providerID string) string { return strings.ToLower(strings.TrimSpace(providerID)) }

// Add stores a new credential for the pair. New credentials are inactive
// until activated.
func (s *Store) Add(ctx context.Context, tenantID, providerID, label, raw string) (*Credential, error) {
	if raw == "" {
		return nil, types.NewError(types.ErrInvalidInput, "credential material is empty")
	}
	material, err := s.codec.Encrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("encrypt material: %w", err)
	}

	now := time.Now().UTC()
	cred := &Credential{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		ProviderID: norm(providerID),
		Label:      label,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, tenant_id, provider_id, label, key_material, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6)`,
		cred.ID, cred.TenantID, cred.ProviderID, cred.Label, material, now)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}

	s.notify(cred.TenantID, cred.ProviderID)
	return cred, nil
}

// Activate makes credID the single active credential for its pair. The
// clear-then-set runs in one transaction so the at-most-one-active invariant
// holds at every commit point.
func (s *Store) Activate(ctx context.Context, tenantID, providerID, credID string) error {
	providerID = norm(providerID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE api_keys SET is_active = FALSE, updated_at = $1
		WHERE tenant_id = $2 AND provider_id = $3 AND is_active`,
		now, tenantID, providerID); err != nil {
		return fmt.Errorf("clear active: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE api_keys SET is_active = TRUE, updated_at = $1
		WHERE id = $2 AND tenant_id = $3 AND provider_id = $4`,
		now, credID, tenantID, providerID)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrNotFound, "credential not found")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.notify(tenantID, providerID)
	return nil
}

// Update changes the label and/or material of a credential owned by tenant.
func (s *Store) Update(ctx context.Context, tenantID, credID string, label, raw *string) error {
	cred, err := s.byID(ctx, tenantID, credID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if label != nil {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE api_keys SET label = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`,
			*label, now, credID, tenantID); err != nil {
			return fmt.Errorf("update label: %w", err)
		}
	}
	if raw != nil {
		if *raw == "" {
			return types.NewError(types.ErrInvalidInput, "credential material is empty")
		}
		material, err := s.codec.Encrypt(*raw)
		if err != nil {
			return fmt.Errorf("encrypt material: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `
			UPDATE api_keys SET key_material = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`,
			material, now, credID, tenantID); err != nil {
			return fmt.Errorf("update material: %w", err)
		}
	}

	s.notify(tenantID, cred.ProviderID)
	return nil
}

// Delete removes a credential owned by tenant.
func (s *Store) Delete(ctx context.Context, tenantID, credID string) error {
	cred, err := s.byID(ctx, tenantID, credID)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE id = $1 AND tenant_id = $2`, credID, tenantID); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	s.notify(tenantID, cred.ProviderID)
	return nil
}

// List returns the tenant's credentials for a provider, newest first.
func (s *Store) List(ctx context.Context, tenantID, providerID string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, provider_id, label, is_active, created_at, updated_at
		FROM api_keys WHERE tenant_id = $1 AND provider_id = $2
		ORDER BY created_at DESC`,
		tenantID, norm(providerID))
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.ID, &c.TenantID, &c.ProviderID, &c.Label, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// GetActive returns the active credential for the pair, or nil when none.
func (s *Store) GetActive(ctx context.Context, tenantID, providerID string) (*Credential, error) {
	var c Credential
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, provider_id, label, is_active, created_at, updated_at
		FROM api_keys WHERE tenant_id = $1 AND provider_id = $2 AND is_active`,
		tenantID, norm(providerID)).
		Scan(&c.ID, &c.TenantID, &c.ProviderID, &c.Label, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active key: %w", err)
	}
	return &c, nil
}

// ActiveSecret resolves the decrypted material of the active credential for
// the pair. A decryption failure deactivates the offending row and evicts the
// cached provider instance, so the next call re-resolves cleanly.
func (s *Store) ActiveSecret(ctx context.Context, tenantID, providerID string) (string, error) {
	providerID = norm(providerID)

	var id, material string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, key_material FROM api_keys
		WHERE tenant_id = $1 AND provider_id = $2 AND is_active`,
		tenantID, providerID).Scan(&id, &material)
	if errors.Is(err, sql.ErrNoRows) {
		return "", types.Errorf(types.ErrAuth, "no active credential for provider %s", providerID)
	}
	if err != nil {
		return "", fmt.Errorf("get active key: %w", err)
	}

	secret, err := s.codec.Decrypt(material)
	if err != nil {
		s.logger.Warn("credential decryption failed, deactivating",
			"tenant_id", tenantID, "provider_id", providerID, "credential_id", id, "error", err)
		if _, derr := s.db.ExecContext(ctx, `
			UPDATE api_keys SET is_active = FALSE, updated_at = $1 WHERE id = $2`,
			time.Now().UTC(), id); derr != nil {
			s.logger.Error("failed to deactivate credential", "credential_id", id, "error", derr)
		}
		s.notify(tenantID, providerID)
		return "", types.NewError(types.ErrAuth, "credential material could not be decrypted")
	}
	return secret, nil
}

func (s *Store) byID(ctx context.Context, tenantID, credID string) (*Credential, error) {
	var c Credential
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, provider_id, label, is_active, created_at, updated_at
		FROM api_keys WHERE id = $1 AND tenant_id = $2`,
		credID, tenantID).
		Scan(&c.ID, &c.TenantID, &c.ProviderID, &c.Label, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.ErrNotFound, "credential not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &c, nil
}
