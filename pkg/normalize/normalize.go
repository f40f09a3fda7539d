// Package normalize cleans and validates record inputs before they are
// dispatched to a provider. Records that fail validation are rejected with
// INVALID_INPUT without consuming credits.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/prospectly/server/pkg/types"
)

var (
	domainRe = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
	emailRe  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// CleanDomain canonicalizes a domain: lowercase, scheme and www. stripped,
// path/query/port discarded. Idempotent. Returns an error when the result is
// not a plausible domain.
func CleanDomain(raw string) (string, error) {
	d := strings.TrimSpace(strings.ToLower(raw))
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.IndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimSuffix(d, ".")
	if d == "" || !domainRe.MatchString(d) {
		return "", fmt.Errorf("invalid domain %q", raw)
	}
	return d, nil
}

// CleanEmail lowercases and validates an email address.
func CleanEmail(raw string) (string, error) {
	e := strings.TrimSpace(strings.ToLower(raw))
	if e == "" || !emailRe.MatchString(e) {
		return "", fmt.Errorf("invalid email %q", raw)
	}
	return e, nil
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// Record validates and cleans one input record for the given operation.
// The returned map is a shallow copy with canonicalized identifier fields;
// the original is never mutated. A *types.Error with code INVALID_INPUT is
// returned when a required identifier is missing or malformed.
func Record(op types.Operation, params map[string]interface{}) (map[string]interface{}, error) {
	if params == nil {
		return nil, types.NewError(types.ErrInvalidInput, "missing record params")
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}

	cleanKey := func(key string, clean func(string) (string, error)) error {
		if raw := stringParam(out, key); raw != "" {
			v, err := clean(raw)
			if err != nil {
				return types.Errorf(types.ErrInvalidInput, "%s: %v", key, err)
			}
			out[key] = v
		}
		return nil
	}
	if err := cleanKey("company_domain", CleanDomain); err != nil {
		return nil, err
	}
	if err := cleanKey("domain", CleanDomain); err != nil {
		return nil, err
	}
	if err := cleanKey("email", CleanEmail); err != nil {
		return nil, err
	}

	switch op {
	case types.OpFindEmail:
		domain := stringParam(out, "company_domain")
		if domain == "" {
			domain = stringParam(out, "domain")
		}
		if domain == "" {
			return nil, types.NewError(types.ErrInvalidInput, "find-email requires company_domain")
		}
		if stringParam(out, "full_name") == "" &&
			(stringParam(out, "first_name") == "" || stringParam(out, "last_name") == "") {
			return nil, types.NewError(types.ErrInvalidInput, "find-email requires first_name and last_name or full_name")
		}
	case types.OpEnrichPerson:
		if stringParam(out, "email") == "" && stringParam(out, "linkedin_url") == "" {
			return nil, types.NewError(types.ErrInvalidInput, "enrich-person requires email or linkedin_url")
		}
	case types.OpEnrichCompany, types.OpFindLookalike:
		if stringParam(out, "domain") == "" && stringParam(out, "company_domain") == "" && stringParam(out, "name") == "" {
			return nil, types.Errorf(types.ErrInvalidInput, "%s requires domain or name", op)
		}
	case types.OpSearchPeople, types.OpSearchCompanies:
		if len(out) == 0 {
			return nil, types.NewError(types.ErrInvalidInput, "search requires at least one filter")
		}
	case types.OpCheckEnrichmentStatus:
		if stringParam(out, "enrichment_id") == "" {
			return nil, types.NewError(types.ErrInvalidInput, "check-enrichment-status requires enrichment_id")
		}
	default:
		return nil, types.Errorf(types.ErrInvalidInput, "unknown operation %q", op)
	}

	return out, nil
}
