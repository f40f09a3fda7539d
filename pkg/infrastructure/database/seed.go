package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/prospectly/server/pkg/types"
)

type seedFeature struct {
	ID       string
	Name     string
	Category string
	Endpoint string
	Method   string
	Credits  int
}

type seedProvider struct {
	desc     types.ProviderDescriptor
	features []seedFeature
}

// defaultProviders is the shipped catalog. Rate limits follow each vendor's
// published defaults; operators adjust rows after seeding.
var defaultProviders = []seedProvider{
	{
		desc: types.ProviderDescriptor{
			ID: "surfe", DisplayName: "Surfe", Category: types.CategoryMajorDatabase,
			BaseURL: "https://api.surfe.com", RateLimitRPS: 10, BurstSize: 10,
			MaxConcurrent: 2, DailyQuota: 2000,
			SupportedOperations: []types.Operation{
				types.OpEnrichPerson, types.OpEnrichCompany, types.OpCheckEnrichmentStatus,
			},
		},
		features: []seedFeature{
			{ID: "enrich-person", Name: "People Enrichment", Category: "enrichment", Endpoint: "/v2/people/enrich", Method: "POST", Credits: 1},
			{ID: "enrich-company", Name: "Company Enrichment", Category: "enrichment", Endpoint: "/v2/organizations/enrich", Method: "POST", Credits: 1},
		},
	},
	{
		desc: types.ProviderDescriptor{
			ID: "apollo", DisplayName: "Apollo.io", Category: types.CategoryMajorDatabase,
			BaseURL: "https://api.apollo.io/v1", RateLimitRPS: 2, BurstSize: 5,
			MaxConcurrent: 1, DailyQuota: 600, CachePerTenant: true,
			SupportedOperations: []types.Operation{
				types.OpEnrichPerson, types.OpEnrichCompany,
				types.OpSearchPeople, types.OpSearchCompanies,
			},
		},
		features: []seedFeature{
			{ID: "enrich-person", Name: "People Match", Category: "enrichment", Endpoint: "/people/match", Method: "POST", Credits: 1},
			{ID: "enrich-company", Name: "Organization Enrich", Category: "enrichment", Endpoint: "/organizations/enrich", Method: "GET", Credits: 1},
			{ID: "search-people", Name: "People Search", Category: "search", Endpoint: "/mixed_people/search", Method: "POST", Credits: 1},
			{ID: "search-companies", Name: "Organization Search", Category: "search", Endpoint: "/mixed_companies/search", Method: "POST", Credits: 1},
		},
	},
	{
		desc: types.ProviderDescriptor{
			ID: "hunter", DisplayName: "Hunter.io", Category: types.CategoryEmailFinder,
			BaseURL: "https://api.hunter.io/v2", RateLimitRPS: 15, BurstSize: 15,
			MaxConcurrent: 2, DailyQuota: 1000,
			SupportedOperations: []types.Operation{types.OpFindEmail},
		},
		features: []seedFeature{
			{ID: "find-email", Name: "Email Finder", Category: "email", Endpoint: "/email-finder", Method: "GET", Credits: 1},
		},
	},
	{
		desc: types.ProviderDescriptor{
			ID: "betterenrich", DisplayName: "BetterEnrich", Category: types.CategoryAIResearch,
			BaseURL: "https://api.betterenrich.com/v1", RateLimitRPS: 1, BurstSize: 3,
			MaxConcurrent: 1, DailyQuota: 500,
			SupportedOperations: []types.Operation{
				types.OpFindEmail, types.OpEnrichPerson, types.OpCheckEnrichmentStatus,
			},
		},
		features: []seedFeature{
			{ID: "find-email", Name: "Waterfall Email Finder", Category: "email", Endpoint: "/async/email/find", Method: "POST", Credits: 2},
			{ID: "enrich-person", Name: "AI Person Research", Category: "enrichment", Endpoint: "/async/person/enrich", Method: "POST", Credits: 3},
		},
	},
	{
		desc: types.ProviderDescriptor{
			ID: "companyenrich", DisplayName: "CompanyEnrich", Category: types.CategoryCompanyData,
			BaseURL: "https://api.companyenrich.com", RateLimitRPS: 5, BurstSize: 5,
			MaxConcurrent: 1, DailyQuota: 1000,
			SupportedOperations: []types.Operation{
				types.OpEnrichCompany, types.OpFindLookalike,
			},
		},
		features: []seedFeature{
			{ID: "enrich-company", Name: "Company Enrich", Category: "enrichment", Endpoint: "/companies/enrich", Method: "POST", Credits: 1},
			{ID: "find-lookalike", Name: "Similar Companies", Category: "discovery", Endpoint: "/companies/similar", Method: "POST", Credits: 2},
		},
	},
}

// Seed populates the provider catalog when the providers table is empty.
func Seed(ctx context.Context, db *DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM providers`).Scan(&count); err != nil {
		return fmt.Errorf("count providers: %w", err)
	}
	if count > 0 {
		return nil
	}

	store := NewDescriptorStore(db)
	for _, sp := range defaultProviders {
		if err := store.Upsert(ctx, &sp.desc); err != nil {
			return err
		}
		for _, f := range sp.features {
			params, _ := json.Marshal(map[string]string{})
			if _, err := db.ExecContext(ctx, `
				INSERT INTO provider_features (provider_id, feature_id, feature_name, category,
					endpoint, http_method, credits_per_request, parameters, is_active)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
				ON CONFLICT (provider_id, feature_id) DO NOTHING`,
				sp.desc.ID, f.ID, f.Name, f.Category, f.Endpoint, f.Method, f.Credits, string(params)); err != nil {
				return fmt.Errorf("seed feature %s/%s: %w", sp.desc.ID, f.ID, err)
			}
		}
	}
	logger.Info("provider catalog seeded", "providers", len(defaultProviders))
	return nil
}
