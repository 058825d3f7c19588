package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectops/internal/events"
	"projectops/internal/repo"
	"projectops/internal/testutil"
)

type badJSON struct{ Name string }

func (badJSON) MarshalJSON() ([]byte, error) { return nil, errors.New("no json for you") }

func TestAppendDetailLadder(t *testing.T) {
	conn := testutil.NewTestDB(t)
	logger, hook := logtest.NewNullLogger()
	w := events.Writer{
		Now:    func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
		Logger: logrus.NewEntry(logger),
	}
	ctx := context.Background()
	actor := int64(7)

	require.NoError(t, w.Append(ctx, conn, events.Entry{ActorID: &actor, Kind: events.KindCreate, EntityType: "persons", EntityID: 1, Detail: map[string]any{"name": "Ana"}}))
	require.NoError(t, w.Append(ctx, conn, events.Entry{Kind: events.KindUpdate, EntityType: "persons", EntityID: 2, Detail: badJSON{Name: "Luis"}}))
	require.NoError(t, w.Append(ctx, conn, events.Entry{Kind: events.KindDelete, EntityType: "persons", EntityID: 3}))

	r := repo.Repo{DB: conn}
	evts, err := r.ListEvents(ctx, nil, repo.EventFilter{EntityType: "persons"})
	require.NoError(t, err)
	require.Len(t, evts, 3)

	byID := map[int64]*string{}
	for _, e := range evts {
		byID[e.EntityID] = e.DetailJSON
		assert.Equal(t, "2025-03-01T12:00:00Z", e.TS)
	}
	require.NotNil(t, byID[1])
	assert.JSONEq(t, `{"name":"Ana"}`, *byID[1])
	require.NotNil(t, byID[2])
	assert.JSONEq(t, `{"raw":"{Luis}"}`, *byID[2])
	assert.Nil(t, byID[3])

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, int64(2), hook.LastEntry().Data["entity_id"])
}

func TestAppendRecordsActor(t *testing.T) {
	conn := testutil.NewTestDB(t)
	ctx := context.Background()
	actor := int64(42)
	require.NoError(t, events.Writer{}.Append(ctx, conn, events.Entry{ActorID: &actor, Kind: events.KindLogin, EntityType: "users", EntityID: 42}))

	evts, err := repo.Repo{DB: conn}.ListEvents(ctx, nil, repo.EventFilter{Kind: events.KindLogin})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.NotNil(t, evts[0].ActorID)
	assert.Equal(t, actor, *evts[0].ActorID)
}

func TestAppendFailsOnlyOnInsert(t *testing.T) {
	conn := testutil.NewTestDB(t)
	require.NoError(t, conn.Close())
	err := events.Writer{}.Append(context.Background(), conn, events.Entry{Kind: events.KindCreate, EntityType: "persons", EntityID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append create event")
}
