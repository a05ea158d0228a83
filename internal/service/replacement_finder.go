package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/pkg/config"
)

// MatchingRules holds the configured role tiers and clopening shift types.
type MatchingRules struct {
	tierOf   map[models.UserRole]string
	morning  map[string]struct{}
	evening  map[string]struct{}
	location *time.Location
}

// NewMatchingRules validates and indexes the matching configuration.
func NewMatchingRules(cfg config.MatchingConfig) (*MatchingRules, error) {
	rules := &MatchingRules{
		tierOf:   make(map[models.UserRole]string),
		morning:  toSet(cfg.MorningShiftTypes),
		evening:  toSet(cfg.EveningShiftTypes),
		location: time.UTC,
	}
	tiers := make([]string, 0, len(cfg.Tiers))
	for tier := range cfg.Tiers {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		for _, raw := range cfg.Tiers[tier] {
			role := models.UserRole(strings.ToLower(strings.TrimSpace(raw)))
			if !role.Valid() {
				return nil, fmt.Errorf("tier %s: unknown role %q", tier, raw)
			}
			if prev, dup := rules.tierOf[role]; dup && prev != tier {
				return nil, fmt.Errorf("role %s listed in tiers %s and %s", role, prev, tier)
			}
			rules.tierOf[role] = tier
		}
	}
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load matching timezone: %w", err)
		}
		rules.location = loc
	}
	return rules, nil
}

// TierOf returns the tier of a role.
func (r *MatchingRules) TierOf(role models.UserRole) (string, bool) {
	tier, ok := r.tierOf[role]
	return tier, ok
}

// Location is the timezone used to decide calendar days.
func (r *MatchingRules) Location() *time.Location {
	return r.location
}

// IsMorning reports whether a shift type opens the day.
func (r *MatchingRules) IsMorning(shiftType string) bool {
	_, ok := r.morning[normalizeShiftType(shiftType)]
	return ok
}

// IsEvening reports whether a shift type closes the day.
func (r *MatchingRules) IsEvening(shiftType string) bool {
	_, ok := r.evening[normalizeShiftType(shiftType)]
	return ok
}

// OccupancyWindow returns the range of shifts the finder needs: everything from the start
// of the calendar day before the target up to the target's end.
func (r *MatchingRules) OccupancyWindow(target models.Shift) (time.Time, time.Time) {
	local := target.StartsAt.In(r.location)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.location)
	return dayStart.AddDate(0, 0, -1), target.EndsAt
}

// Clopening reports whether someone who worked `worked` would be opening the target
// shift right after closing the previous calendar day.
func (r *MatchingRules) Clopening(target models.Shift, worked []models.Shift) bool {
	if !r.IsMorning(target.ShiftType) {
		return false
	}
	prevDay := calendarDay(target.StartsAt.In(r.location).AddDate(0, 0, -1))
	for _, s := range worked {
		if s.ID == target.ID || !r.IsEvening(s.ShiftType) {
			continue
		}
		if calendarDay(s.StartsAt.In(r.location)) == prevDay {
			return true
		}
	}
	return false
}

// FinderInput is everything the replacement finder looks at.
type FinderInput struct {
	Shift         models.Shift
	RequesterID   string
	RequesterRole models.UserRole
	Roster        []models.User
	// Occupancy maps user id to the shifts that user holds around the target.
	Occupancy map[string][]models.Shift
}

// ReplacementFinder partitions a roster into replacement candidates for a shift.
type ReplacementFinder struct {
	rules *MatchingRules
}

// NewReplacementFinder constructs the finder.
func NewReplacementFinder(rules *MatchingRules) *ReplacementFinder {
	return &ReplacementFinder{rules: rules}
}

// Rules exposes the matching rules.
func (f *ReplacementFinder) Rules() *MatchingRules {
	return f.rules
}

// Find classifies every eligible roster member. Output order follows roster order. A
// requester role without a tier yields three empty lists.
func (f *ReplacementFinder) Find(in FinderInput) models.CandidateSearchResult {
	result := models.CandidateSearchResult{
		Ideal:       []models.Candidate{},
		Alternative: []models.Candidate{},
		Unavailable: []models.Candidate{},
	}
	tier, ok := f.rules.TierOf(in.RequesterRole)
	if !ok {
		return result
	}
	owner := in.Shift.OwnerID()

	for _, user := range in.Roster {
		if !user.Active || user.Role == models.RoleDueno || user.ID == owner || user.ID == in.RequesterID {
			continue
		}
		worked := in.Occupancy[user.ID]
		candidate := models.Candidate{
			UserID:    user.ID,
			FullName:  user.FullName,
			Role:      user.Role,
			Clopening: f.rules.Clopening(in.Shift, worked),
		}

		if conflict := firstOverlap(in.Shift, worked); conflict != nil {
			candidate.Category = models.CandidateUnavailable
			candidate.Reason = models.ReasonAlreadyScheduled
			candidate.Conflict = &models.TimeRange{Start: conflict.StartsAt, End: conflict.EndsAt}
			result.Unavailable = append(result.Unavailable, candidate)
			continue
		}

		userTier, known := f.rules.TierOf(user.Role)
		switch {
		case !known || userTier != tier:
			candidate.Category = models.CandidateUnavailable
			candidate.Reason = models.ReasonIncompatibleRole
			result.Unavailable = append(result.Unavailable, candidate)
		case user.Role == in.RequesterRole:
			candidate.Category = models.CandidateIdeal
			result.Ideal = append(result.Ideal, candidate)
		default:
			candidate.Category = models.CandidateAlternative
			result.Alternative = append(result.Alternative, candidate)
		}
	}
	return result
}

func firstOverlap(target models.Shift, worked []models.Shift) *models.Shift {
	var found *models.Shift
	for i := range worked {
		s := worked[i]
		if s.ID == target.ID || !s.Overlaps(target.StartsAt, target.EndsAt) {
			continue
		}
		if found == nil || s.StartsAt.Before(found.StartsAt) {
			found = &worked[i]
		}
	}
	return found
}

type day struct {
	year  int
	month time.Month
	day   int
}

func calendarDay(t time.Time) day {
	y, m, d := t.Date()
	return day{year: y, month: m, day: d}
}

func normalizeShiftType(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = normalizeShiftType(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
