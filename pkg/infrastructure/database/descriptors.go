package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prospectly/server/pkg/types"
)

// DescriptorStore loads provider descriptors from the providers table.
// Implements providers.DescriptorSource.
type DescriptorStore struct {
	db *DB
}

// NewDescriptorStore wraps db.
func NewDescriptorStore(db *DB) *DescriptorStore {
	return &DescriptorStore{db: db}
}

const descriptorColumns = `name, display_name, category, base_url, rate_limit,
	burst_size, max_concurrent, daily_quota, cache_per_tenant, supported_operations, configuration`

func scanDescriptor(row interface{ Scan(...interface{}) error }) (*types.ProviderDescriptor, error) {
	var d types.ProviderDescriptor
	var ops, config string
	err := row.Scan(&d.ID, &d.DisplayName, &d.Category, &d.BaseURL, &d.RateLimitRPS,
		&d.BurstSize, &d.MaxConcurrent, &d.DailyQuota, &d.CachePerTenant, &ops, &config)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ops), &d.SupportedOperations); err != nil {
		return nil, fmt.Errorf("decode supported_operations for %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(config), &d.Config); err != nil {
		return nil, fmt.Errorf("decode configuration for %s: %w", d.ID, err)
	}
	return &d, nil
}

// Descriptor returns one active provider's descriptor or NOT_FOUND.
func (s *DescriptorStore) Descriptor(ctx context.Context, providerID string) (*types.ProviderDescriptor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+descriptorColumns+` FROM providers WHERE name = $1 AND is_active`,
		strings.ToLower(providerID))
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.Errorf(types.ErrNotFound, "unknown provider %q", providerID)
	}
	if err != nil {
		return nil, fmt.Errorf("load descriptor: %w", err)
	}
	return d, nil
}

// Descriptors returns every active provider descriptor.
func (s *DescriptorStore) Descriptors(ctx context.Context) ([]*types.ProviderDescriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+descriptorColumns+` FROM providers WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load descriptors: %w", err)
	}
	defer rows.Close()

	var out []*types.ProviderDescriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, fmt.Errorf("load descriptors: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Upsert writes a descriptor row. Used by the seeder and tests.
func (s *DescriptorStore) Upsert(ctx context.Context, d *types.ProviderDescriptor) error {
	ops, _ := json.Marshal(d.SupportedOperations)
	config := d.Config
	if config == nil {
		config = map[string]string{}
	}
	cfg, _ := json.Marshal(config)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (name, display_name, category, base_url, rate_limit,
			burst_size, max_concurrent, daily_quota, cache_per_tenant, is_active,
			supported_operations, configuration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $11)
		ON CONFLICT (name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			category = EXCLUDED.category,
			base_url = EXCLUDED.base_url,
			rate_limit = EXCLUDED.rate_limit,
			burst_size = EXCLUDED.burst_size,
			max_concurrent = EXCLUDED.max_concurrent,
			daily_quota = EXCLUDED.daily_quota,
			cache_per_tenant = EXCLUDED.cache_per_tenant,
			supported_operations = EXCLUDED.supported_operations,
			configuration = EXCLUDED.configuration`,
		strings.ToLower(d.ID), d.DisplayName, d.Category, d.BaseURL, d.RateLimitRPS,
		d.BurstSize, d.MaxConcurrent, d.DailyQuota, d.CachePerTenant, string(ops), string(cfg))
	if err != nil {
		return fmt.Errorf("upsert provider %s: %w", d.ID, err)
	}
	return nil
}
