package engine_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"projectops/internal/domain"
	"projectops/internal/engine"
	"projectops/internal/params"
	"projectops/internal/testutil"
)

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }

// loadTo450 gives p 450h over two projects; rows are capped at 200h.
func loadTo450(t *testing.T, env *testEnv, p domain.Person) {
	t.Helper()
	first := env.project(t, "Alpha")
	second := env.project(t, "Beta")
	env.assign(t, p.ID, first.ID, 200)
	env.assign(t, p.ID, first.ID, 200)
	env.assign(t, p.ID, second.ID, 50)
	w := env.workload(t, p.ID)
	require.InDelta(t, 450, w.TotalHours, 0.001)
	require.Equal(t, 2, w.ProjectCount)
}

func TestOverProjectsThresholdIsStrict(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	loadTo450(t, env, p)

	third := env.assign(t, p.ID, env.project(t, "Gamma").ID, 40)
	require.InDelta(t, 490, third.TotalHours, 0.001)
	require.Equal(t, 3, third.ProjectCount)
	require.Equal(t, params.DefaultOverloadProjectsThreshold, third.Threshold)
	require.False(t, third.OverProjects)

	fourth := env.assign(t, p.ID, env.project(t, "Delta").ID, 5)
	require.Equal(t, 4, fourth.ProjectCount)
	require.False(t, fourth.OverProjects, "4 > 4 must be false")

	fifth := env.assign(t, p.ID, env.project(t, "Epsilon").ID, 5)
	require.Equal(t, 5, fifth.ProjectCount)
	require.InDelta(t, 500, fifth.TotalHours, 0.001)
	require.True(t, fifth.OverProjects)

	// the advisory flag never blocks, but the ceiling still does
	_, err := env.Engine.CreateAssignment(env.Ctx, env.Op, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: env.project(t, "Zeta").ID, DedicationHours: 1, StartDate: "2025-02-01",
	})
	require.ErrorIs(t, err, engine.ErrCapacity)
}

func TestHardCeilingLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	loadTo450(t, env, p)
	env.assign(t, p.ID, env.project(t, "Gamma").ID, 40)
	before := len(env.events(t, engine.EntityAssignments))

	_, err := env.Engine.CreateAssignment(env.Ctx, env.Op, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: env.project(t, "Delta").ID, DedicationHours: 20, StartDate: "2025-02-01",
	})
	var ce engine.CapacityExceededError
	require.ErrorAs(t, err, &ce)
	require.InDelta(t, 490, ce.CurrentHours, 0.001)
	require.InDelta(t, 20, ce.Requested, 0.001)
	require.InDelta(t, engine.MaxActiveHours, ce.Limit, 0.001)

	w := env.workload(t, p.ID)
	require.InDelta(t, 490, w.TotalHours, 0.001)
	require.Equal(t, 3, w.ProjectCount)
	require.Len(t, env.events(t, engine.EntityAssignments), before)
}

func TestConfiguredThreshold(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SetParameter(env.Ctx, env.Op, params.OverloadProjectsThreshold, "1")
	require.NoError(t, err)
	p := env.person(t, "Ana")

	first := env.assign(t, p.ID, env.project(t, "Alpha").ID, 10)
	require.False(t, first.OverProjects)
	second := env.assign(t, p.ID, env.project(t, "Beta").ID, 10)
	require.Equal(t, 1, second.Threshold)
	require.True(t, second.OverProjects)
}

func TestMalformedThresholdFallsBack(t *testing.T) {
	env := newTestEnv(t)
	err := env.Engine.Repo.UpsertParameter(env.Ctx, nil, domain.Parameter{Key: params.OverloadProjectsThreshold, Value: "lots"})
	require.NoError(t, err)
	p := env.person(t, "Ana")

	res := env.assign(t, p.ID, env.project(t, "Alpha").ID, 10)
	require.Equal(t, params.DefaultOverloadProjectsThreshold, res.Threshold)
}

func TestHugeThresholdFallsBack(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	for _, value := range []string{"1e30", "NaN"} {
		err := env.Engine.Repo.UpsertParameter(env.Ctx, nil, domain.Parameter{Key: params.OverloadProjectsThreshold, Value: value})
		require.NoError(t, err)
		res := env.assign(t, p.ID, env.project(t, "Alpha "+value).ID, 10)
		require.Equal(t, params.DefaultOverloadProjectsThreshold, res.Threshold, value)
		require.False(t, res.OverProjects, value)
	}

	_, err := env.Engine.SetParameter(env.Ctx, env.Op, params.OverloadProjectsThreshold, "NaN")
	require.ErrorIs(t, err, engine.ErrValidation)
}

func TestAssignmentReferenceGuards(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	proj := env.project(t, "Portal")
	other := env.project(t, "Intranet")

	cases := []struct {
		name  string
		in    engine.AssignmentInput
		check func(t *testing.T, err error)
	}{
		{
			name: "missing person",
			in:   engine.AssignmentInput{PersonID: 999, ProjectID: proj.ID, DedicationHours: 10, StartDate: "2025-02-01"},
			check: func(t *testing.T, err error) {
				var nf engine.NotFoundError
				require.ErrorAs(t, err, &nf)
				require.Equal(t, engine.EntityPersons, nf.Entity)
			},
		},
		{
			name: "missing project",
			in:   engine.AssignmentInput{PersonID: p.ID, ProjectID: 999, DedicationHours: 10, StartDate: "2025-02-01"},
			check: func(t *testing.T, err error) {
				var nf engine.NotFoundError
				require.ErrorAs(t, err, &nf)
				require.Equal(t, engine.EntityProjects, nf.Entity)
			},
		},
		{
			name: "zero hours",
			in:   engine.AssignmentInput{PersonID: p.ID, ProjectID: proj.ID, StartDate: "2025-02-01"},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, engine.ErrValidation)
			},
		},
		{
			name: "row above 200h",
			in:   engine.AssignmentInput{PersonID: p.ID, ProjectID: proj.ID, DedicationHours: 201, StartDate: "2025-02-01"},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, engine.ErrValidation)
			},
		},
		{
			name: "end before start",
			in:   engine.AssignmentInput{PersonID: p.ID, ProjectID: proj.ID, DedicationHours: 10, StartDate: "2025-02-01", EndDate: ptr("2025-01-15")},
			check: func(t *testing.T, err error) {
				var ve engine.ValidationError
				require.ErrorAs(t, err, &ve)
				require.Equal(t, "end_date", ve.Field)
			},
		},
		{
			name: "bad date",
			in:   engine.AssignmentInput{PersonID: p.ID, ProjectID: proj.ID, DedicationHours: 10, StartDate: "01/02/2025"},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, engine.ErrValidation)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateAssignment(env.Ctx, env.Op, tc.in)
			require.Error(t, err)
			tc.check(t, err)
		})
	}

	sprint, err := env.Engine.CreateSprint(env.Ctx, env.Op, engine.SprintInput{
		ProjectID: other.ID, Name: "Other sprint", StartDate: "2025-02-01", EndDate: "2025-02-14",
	})
	require.NoError(t, err)
	_, err = env.Engine.CreateAssignment(env.Ctx, env.Op, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: proj.ID, SprintID: &sprint.ID, DedicationHours: 10, StartDate: "2025-02-01",
	})
	var ise engine.InvalidStateError
	require.ErrorAs(t, err, &ise)
	require.Equal(t, engine.EntitySprints, ise.Entity)

	require.Empty(t, env.events(t, engine.EntityAssignments))
}

func TestInactivePersonRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	proj := env.project(t, "Portal")
	require.NoError(t, env.Engine.SetPersonActive(env.Ctx, env.Op, p.ID, false))

	_, err := env.Engine.CreateAssignment(env.Ctx, env.Op, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: proj.ID, DedicationHours: 10, StartDate: "2025-02-01",
	})
	var ise engine.InvalidStateError
	require.ErrorAs(t, err, &ise)
	require.Equal(t, engine.EntityPersons, ise.Entity)
}

func TestClosedProjectGuard(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	proj := env.project(t, "Portal")
	res := env.assign(t, p.ID, proj.ID, 10)

	closed, err := env.Engine.CloseProject(env.Ctx, env.Op, proj.ID, decimalFromInt(1200), "2025-02-28")
	require.NoError(t, err)
	require.Equal(t, domain.ProjectClosed, closed.Status)

	for _, hours := range []float64{0.5, 10, 200} {
		_, err = env.Engine.CreateAssignment(env.Ctx, env.Op, engine.AssignmentInput{
			PersonID: p.ID, ProjectID: proj.ID, DedicationHours: hours, StartDate: "2025-02-01",
		})
		var ise engine.InvalidStateError
		require.ErrorAs(t, err, &ise, "hours %v", hours)
	}

	_, err = env.Engine.UpdateAssignment(env.Ctx, env.Op, res.AssignmentID, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: proj.ID, DedicationHours: 5, StartDate: "2025-02-01",
	})
	var ise engine.InvalidStateError
	require.ErrorAs(t, err, &ise)

	// closed projects no longer count towards load
	w := env.workload(t, p.ID)
	require.Zero(t, w.TotalHours)
	require.Zero(t, w.ProjectCount)

	_, err = env.Engine.CloseProject(env.Ctx, env.Op, proj.ID, decimalFromInt(1300), "2025-02-28")
	require.ErrorAs(t, err, &ise)
}

func TestActiveWindow(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	proj := env.project(t, "Portal")
	res := env.assign(t, p.ID, proj.ID, 80)

	// today counts as active
	_, err := env.Engine.EndAssignment(env.Ctx, env.Op, res.AssignmentID, "2025-03-01")
	require.NoError(t, err)
	require.InDelta(t, 80, env.workload(t, p.ID).TotalHours, 0.001)

	_, err = env.Engine.EndAssignment(env.Ctx, env.Op, res.AssignmentID, "2025-02-28")
	require.NoError(t, err)
	w := env.workload(t, p.ID)
	require.Zero(t, w.TotalHours)
	require.Zero(t, w.ProjectCount)

	ended, err := env.Engine.ListAssignments(env.Ctx, engine.AssignmentQuery{PersonID: p.ID, EndedOnly: true})
	require.NoError(t, err)
	require.Len(t, ended, 1)

	// ending again, even into the future, is allowed
	a, err := env.Engine.EndAssignment(env.Ctx, env.Op, res.AssignmentID, "2026-12-31")
	require.NoError(t, err)
	require.Equal(t, "2026-12-31", *a.EndDate)
	require.InDelta(t, 80, env.workload(t, p.ID).TotalHours, 0.001)

	_, err = env.Engine.EndAssignment(env.Ctx, env.Op, res.AssignmentID, "2025-01-01")
	require.ErrorIs(t, err, engine.ErrValidation)

	ends, err := env.Engine.ListEvents(env.Ctx, eventKind(engine.EntityAssignments, "end"))
	require.NoError(t, err)
	require.Len(t, ends, 3)

	_, err = env.Engine.ListAssignments(env.Ctx, engine.AssignmentQuery{ActiveOnly: true, EndedOnly: true})
	require.ErrorIs(t, err, engine.ErrValidation)
}

func TestUpdateNetsOutOwnRow(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	proj := env.project(t, "Portal")
	a := env.assign(t, p.ID, proj.ID, 200)
	env.assign(t, p.ID, proj.ID, 200)
	b := env.assign(t, p.ID, env.project(t, "Beta").ID, 90)

	same, err := env.Engine.UpdateAssignment(env.Ctx, env.Op, a.AssignmentID, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: proj.ID, DedicationHours: 200, StartDate: "2025-02-01",
	})
	require.NoError(t, err)
	require.InDelta(t, 490, same.TotalHours, 0.001)
	require.InDelta(t, 290, same.CurrentHours, 0.001)

	up, err := env.Engine.UpdateAssignment(env.Ctx, env.Op, b.AssignmentID, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: b.Assignment.ProjectID, DedicationHours: 100, StartDate: "2025-02-01",
	})
	require.NoError(t, err)
	require.InDelta(t, 500, up.TotalHours, 0.001)

	_, err = env.Engine.UpdateAssignment(env.Ctx, env.Op, b.AssignmentID, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: b.Assignment.ProjectID, DedicationHours: 110, StartDate: "2025-02-01",
	})
	require.ErrorIs(t, err, engine.ErrCapacity)
	stored, err := env.Engine.GetAssignment(env.Ctx, b.AssignmentID)
	require.NoError(t, err)
	require.InDelta(t, 100, stored.DedicationHours, 0.001)

	updates, err := env.Engine.ListEvents(env.Ctx, eventKind(engine.EntityAssignments, "update"))
	require.NoError(t, err)
	require.Len(t, updates, 2)
	require.EqualValues(t, 90, detailOf(t, updates[0])["previous_dedication_hours"])

	_, err = env.Engine.UpdateAssignment(env.Ctx, env.Op, 999, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: proj.ID, DedicationHours: 1, StartDate: "2025-02-01",
	})
	require.True(t, engine.IsNotFound(err))
}

func TestAuditFailureRollsBackAssignment(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	proj := env.project(t, "Portal")
	boom := errors.New("audit store unavailable")

	failing := env.Engine
	// exec 1 is the insert, exec 2 the audit row
	failing.UoW = &testutil.FailOnNthExecUoW{DB: env.Conn, FailOn: 2, Err: boom}
	_, err := failing.CreateAssignment(env.Ctx, env.Op, engine.AssignmentInput{
		PersonID: p.ID, ProjectID: proj.ID, DedicationHours: 40, StartDate: "2025-02-01",
	})
	require.ErrorIs(t, err, boom)

	items, err := env.Engine.ListAssignments(env.Ctx, engine.AssignmentQuery{PersonID: p.ID})
	require.NoError(t, err)
	require.Empty(t, items)
	require.Empty(t, env.events(t, engine.EntityAssignments))
	require.Zero(t, env.workload(t, p.ID).TotalHours)

	res := env.assign(t, p.ID, proj.ID, 40)
	failing.UoW = &testutil.FailOnNthExecUoW{DB: env.Conn, FailOn: 2, Err: boom}
	require.ErrorIs(t, failing.DeleteAssignment(env.Ctx, env.Op, res.AssignmentID), boom)
	_, err = env.Engine.GetAssignment(env.Ctx, res.AssignmentID)
	require.NoError(t, err)
}

func TestDeleteAssignmentAlwaysLogged(t *testing.T) {
	env := newTestEnv(t)
	p := env.person(t, "Ana")
	res := env.assign(t, p.ID, env.project(t, "Portal").ID, 40)

	require.NoError(t, env.Engine.DeleteAssignment(env.Ctx, env.Op, res.AssignmentID))
	deletes, err := env.Engine.ListEvents(env.Ctx, eventKind(engine.EntityAssignments, "delete"))
	require.NoError(t, err)
	require.Len(t, deletes, 1)
	require.Equal(t, res.AssignmentID, deletes[0].EntityID)

	err = env.Engine.DeleteAssignment(env.Ctx, env.Op, res.AssignmentID)
	require.True(t, engine.IsNotFound(err))
}

func TestTopWorkload(t *testing.T) {
	env := newTestEnv(t)
	proj := env.project(t, "Portal")
	light := env.person(t, "Ana")
	heavy := env.person(t, "Bruno")
	env.assign(t, light.ID, proj.ID, 20)
	env.assign(t, heavy.ID, proj.ID, 150)

	rows, err := env.Engine.TopWorkload(env.Ctx, 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, heavy.ID, rows[0].PersonID)
	require.Equal(t, "Bruno", rows[0].PersonName)
}
