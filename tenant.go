package leagueauth

import (
	"context"
	"errors"
	"net"
	"strings"
)

// TenantSource reports which resolution rule produced the organization.
// Boundaries persist the winning slug as the sticky context on any
// successful resolution.
type TenantSource string

const (
	TenantSourceSlug     TenantSource = "slug"
	TenantSourceDomain   TenantSource = "domain"
	TenantSourceSticky   TenantSource = "sticky"
	TenantSourceEmail    TenantSource = "email"
	TenantSourceFallback TenantSource = "fallback"
)

// TenantRequest carries everything a request can contribute to tenant
// resolution. All fields are optional.
type TenantRequest struct {
	// ExplicitSlug is a slug named directly by the request, e.g. a
	// ?league= parameter or a path segment.
	ExplicitSlug string
	// Host is the HTTP Host header, port included or not.
	Host string
	// StickySlug is the slug remembered from a previous resolution.
	StickySlug string
	// LoginEmail enables the single-match-by-email rule. Only the login
	// flow sets it.
	LoginEmail string
}

// Resolver maps requests onto organizations. Inactive organizations
// never resolve.
type Resolver struct {
	store Store
	cfg   TenantConfig
}

func newResolver(store Store, cfg TenantConfig) *Resolver {
	return &Resolver{
		store: store,
		cfg:   cfg,
	}
}

// NormalizeSlug lowercases and trims a slug the way the store indexes
// them.
func NormalizeSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Resolve applies the resolution rules in order: explicit slug, host
// (custom domain, then slug under the base domain), sticky slug,
// single email match, single active organization.
func (r *Resolver) Resolve(ctx context.Context, req TenantRequest) (*Organization, TenantSource, error) {
	if slug := NormalizeSlug(req.ExplicitSlug); slug != "" {
		org, err := r.activeBySlug(ctx, slug)
		if err != nil {
			return nil, "", err
		}
		if org != nil {
			return org, TenantSourceSlug, nil
		}
	}

	if host := normalizeHost(req.Host); host != "" {
		org, err := r.activeByDomain(ctx, host)
		if err != nil {
			return nil, "", err
		}
		if org != nil {
			return org, TenantSourceDomain, nil
		}

		if slug := r.hostSlug(host); slug != "" {
			org, err := r.activeBySlug(ctx, slug)
			if err != nil {
				return nil, "", err
			}
			if org != nil {
				return org, TenantSourceDomain, nil
			}
		}
	}

	if slug := NormalizeSlug(req.StickySlug); slug != "" {
		org, err := r.activeBySlug(ctx, slug)
		if err != nil {
			return nil, "", err
		}
		if org != nil {
			return org, TenantSourceSticky, nil
		}
	}

	if req.LoginEmail != "" {
		org, err := r.byUniqueEmail(ctx, req.LoginEmail)
		if err != nil {
			return nil, "", err
		}
		if org != nil {
			return org, TenantSourceEmail, nil
		}
	}

	if r.cfg.SingleOrgFallback {
		orgs, err := r.store.Organizations().ListActive(ctx)
		if err != nil {
			return nil, "", errors.Join(ErrStoreUnavailable, err)
		}
		if len(orgs) == 1 {
			return orgs[0], TenantSourceFallback, nil
		}
	}

	return nil, "", ErrTenantNotFound
}

func (r *Resolver) activeBySlug(ctx context.Context, slug string) (*Organization, error) {
	org, err := r.store.Organizations().GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	if !org.Active {
		return nil, nil
	}
	return org, nil
}

func (r *Resolver) activeByDomain(ctx context.Context, host string) (*Organization, error) {
	org, err := r.store.Organizations().GetByDomain(ctx, host)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	if !org.Active {
		return nil, nil
	}
	return org, nil
}

// byUniqueEmail resolves when the email belongs to users in exactly one
// active organization.
func (r *Resolver) byUniqueEmail(ctx context.Context, email string) (*Organization, error) {
	users, err := r.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	var match *Organization
	for _, u := range users {
		org, err := r.store.Organizations().GetByID(ctx, u.OrgID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, errors.Join(ErrStoreUnavailable, err)
		}
		if !org.Active {
			continue
		}
		if match != nil && match.ID != org.ID {
			return nil, nil
		}
		match = org
	}
	return match, nil
}

// hostSlug extracts "metro" from "metro.<BaseDomain>". Empty when no
// base domain is configured or the host is not under it.
func (r *Resolver) hostSlug(host string) string {
	base := strings.ToLower(r.cfg.BaseDomain)
	if base == "" || host == base {
		return ""
	}
	if !strings.HasSuffix(host, "."+base) {
		return ""
	}
	label, _, found := strings.Cut(host, ".")
	if !found {
		return ""
	}
	return label
}

// normalizeHost lowercases a Host header and strips any port.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// ResolveTenant is the engine entry point for boundaries. It adds
// counters on top of the raw resolver.
func (e *Engine) ResolveTenant(ctx context.Context, req TenantRequest) (*Organization, TenantSource, error) {
	if e == nil || e.resolver == nil {
		return nil, "", ErrEngineNotReady
	}

	org, source, err := e.resolver.Resolve(ctx, req)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			e.metricInc(MetricTenantMiss)
		}
		return nil, "", err
	}

	e.metricInc(MetricTenantResolved)
	return org, source, nil
}

// requireSameOrg guards engine operations that take entity references
// from a caller. Entities outside the resolved organization must be
// indistinguishable from missing ones at the boundary.
func (e *Engine) requireSameOrg(orgID string, entityOrgID string) error {
	if orgID == "" || entityOrgID == "" {
		return ErrCrossTenantAccess
	}
	if orgID != entityOrgID {
		e.metricInc(MetricCrossTenantDenied)
		return ErrCrossTenantAccess
	}
	return nil
}
