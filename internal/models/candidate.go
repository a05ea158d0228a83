package models

import "time"

// CandidateCategory classifies a potential replacement.
type CandidateCategory string

const (
	CandidateIdeal       CandidateCategory = "ideal"
	CandidateAlternative CandidateCategory = "alternative"
	CandidateUnavailable CandidateCategory = "unavailable"
)

// UnavailableReason explains why a candidate cannot cover a shift.
type UnavailableReason string

const (
	ReasonAlreadyScheduled UnavailableReason = "already_scheduled"
	ReasonIncompatibleRole UnavailableReason = "incompatible_role"
)

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Candidate is one roster member evaluated against a shift.
type Candidate struct {
	UserID    string            `json:"user_id"`
	FullName  string            `json:"full_name"`
	Role      UserRole          `json:"role"`
	Category  CandidateCategory `json:"category"`
	Reason    UnavailableReason `json:"reason,omitempty"`
	Conflict  *TimeRange        `json:"conflict,omitempty"`
	Clopening bool              `json:"clopening"`
}

// CandidateSearchResult partitions the roster for a shift. Order within each list
// follows roster order.
type CandidateSearchResult struct {
	Ideal       []Candidate `json:"ideal"`
	Alternative []Candidate `json:"alternative"`
	Unavailable []Candidate `json:"unavailable"`
}

// Find locates a candidate by user id across the three lists.
func (r CandidateSearchResult) Find(userID string) (Candidate, bool) {
	for _, group := range [][]Candidate{r.Ideal, r.Alternative, r.Unavailable} {
		for _, c := range group {
			if c.UserID == userID {
				return c, true
			}
		}
	}
	return Candidate{}, false
}
