package service

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/turnos-api/internal/models"
)

const rosterCachePrefix = "roster:"

type rosterStore interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, error)
}

// RosterProvider returns the active roster, cached as a best-effort snapshot.
type RosterProvider struct {
	users rosterStore
	cache *CacheService
	ttl   time.Duration
}

// NewRosterProvider constructs the provider; cache may be nil.
func NewRosterProvider(users rosterStore, cache *CacheService, ttl time.Duration) *RosterProvider {
	return &RosterProvider{users: users, cache: cache, ttl: ttl}
}

// ActiveUsers lists active users in roster order, optionally restricted to one role.
func (p *RosterProvider) ActiveUsers(ctx context.Context, role *models.UserRole) ([]models.User, error) {
	key := rosterCachePrefix + "all"
	if role != nil {
		key = rosterCachePrefix + string(*role)
	}
	var cached []models.User
	if p.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	active := true
	users, err := p.users.List(ctx, models.UserFilter{Role: role, Active: &active})
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	p.cache.Set(ctx, key, users, p.ttl)
	return users, nil
}

// Managers lists active managers.
func (p *RosterProvider) Managers(ctx context.Context) ([]models.User, error) {
	role := models.RoleGerente
	return p.ActiveUsers(ctx, &role)
}

// Invalidate drops every cached roster snapshot.
func (p *RosterProvider) Invalidate(ctx context.Context) error {
	return p.cache.Invalidate(ctx, rosterCachePrefix+"*")
}
