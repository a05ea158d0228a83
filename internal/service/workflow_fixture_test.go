package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/pkg/config"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testMatchingConfig() config.MatchingConfig {
	return config.MatchingConfig{
		Tiers: map[string][]string{
			"cocina":   {"cocinero", "ayudante_cocina", "lavaplatos"},
			"salon":    {"mesero", "bartender", "hostess", "cajero"},
			"gerencia": {"gerente"},
		},
		MorningShiftTypes: []string{"manana"},
		EveningShiftTypes: []string{"noche", "cierre"},
		Timezone:          "UTC",
	}
}

type workflowFixture struct {
	db         *memDB
	employee   *EmployeeCoordinator
	manager    *ManagerCoordinator
	queries    *ChangeRequestService
	reactor    *ChangeRequestReactor
	roster     *RosterProvider
	dispatcher *syncDispatcher
	hub        *recordingBroadcaster
	metrics    *MetricsService
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	db := newMemDB()
	for _, u := range []models.User{
		{ID: "e1", Email: "ana@turnos.mx", FullName: "Ana López", Role: models.RoleMesero, Active: true},
		{ID: "e2", Email: "beto@turnos.mx", FullName: "Beto Ruiz", Role: models.RoleMesero, Active: true},
		{ID: "e3", Email: "carla@turnos.mx", FullName: "Carla Díaz", Role: models.RoleBartender, Active: true},
		{ID: "m1", Email: "marta@turnos.mx", FullName: "Marta Gerente", Role: models.RoleGerente, Active: true},
		{ID: "o1", Email: "oscar@turnos.mx", FullName: "Óscar Dueño", Role: models.RoleDueno, Active: true},
	} {
		db.addUser(u)
	}
	db.addShift(testShift("s-1", "e1", "Ana López", models.RoleMesero, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC), 8*time.Hour, "manana"))

	rules, err := NewMatchingRules(testMatchingConfig())
	require.NoError(t, err)
	clock := func() time.Time { return testNow }

	metrics := NewMetricsService()
	roster := NewRosterProvider(memUsers{db}, nil, 0)
	hub := &recordingBroadcaster{}
	reactor := NewChangeRequestReactor(memEvents{db}, memReactions{db}, roster, hub, metrics,
		ReactorConfig{MaxRetries: 2, RetryDelay: 5 * time.Millisecond}, nil)
	reactor.now = clock
	dispatcher := &syncDispatcher{reactor: reactor}

	employee := NewEmployeeCoordinator(memRequests{db}, memShifts{db}, dispatcher, metrics, nil, nil)
	employee.now = clock
	manager := NewManagerCoordinator(memRequests{db}, memShifts{db}, memUsers{db}, roster, NewReplacementFinder(rules), dispatcher, metrics, nil, nil)
	manager.now = clock
	queries := NewChangeRequestService(memRequests{db}, memShifts{db})
	queries.now = clock

	return &workflowFixture{
		db:         db,
		employee:   employee,
		manager:    manager,
		queries:    queries,
		reactor:    reactor,
		roster:     roster,
		dispatcher: dispatcher,
		hub:        hub,
		metrics:    metrics,
	}
}

func testShift(id, ownerID, ownerName string, role models.UserRole, start time.Time, length time.Duration, shiftType string) models.Shift {
	var owner *string
	if ownerID != "" {
		owner = &ownerID
	}
	return models.Shift{
		ID:        id,
		UserID:    owner,
		UserName:  ownerName,
		Role:      role,
		StartsAt:  start,
		EndsAt:    start.Add(length),
		ShiftType: shiftType,
		Status:    models.ShiftStatusConfirmed,
	}
}

func (f *workflowFixture) claims(userID string) *models.JWTClaims {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u := f.db.users[userID]
	return &models.JWTClaims{UserID: u.ID, Role: u.Role, Email: u.Email, FullName: u.FullName}
}

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }

func candidateIDs(list []models.Candidate) []string {
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.UserID)
	}
	return ids
}
