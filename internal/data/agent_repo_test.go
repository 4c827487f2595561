package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
	"github.com/jobmill/jobmill/internal/testutil"
)

func registerTestAgent(t *testing.T, repo *AgentRepo, name, tokenHash string) *model.Agent {
	t.Helper()
	a, err := repo.Register(context.Background(), core.RegisterAgentParams{
		Req:       testutil.AgentRegistration(name),
		TokenHash: tokenHash,
	})
	require.NoError(t, err)
	return a
}

func backdateAgentHeartbeat(t *testing.T, db *sql.DB, agentID string, at time.Time) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`UPDATE agents SET last_heartbeat = $1 WHERE agent_id = $2`, at.UTC(), agentID)
	require.NoError(t, err)
}

func TestAgentRepo_Register_Rotation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAgentRepo(db)

		name := fmt.Sprintf("agent-%d", time.Now().UnixNano())
		a := registerTestAgent(t, repo, name, "hash-one")
		require.NotEmpty(t, a.ID)
		assert.Equal(t, model.AgentStatusOnline, a.Status)
		assert.Equal(t, model.DefaultAgentPool, a.PoolID)
		assert.Equal(t, 2, a.MaxParallel)
		assert.Equal(t, 0, a.ActiveJobs)
		require.NotNil(t, a.LastHeartbeat)

		// token lookup resolves the agent
		byToken, err := repo.FindByTokenHash(ctx, "hash-one")
		require.NoError(t, err)
		assert.Equal(t, a.ID, byToken.ID)

		// simulate in-flight work, then re-register
		claimed, err := repo.ClaimCandidate(ctx, model.DefaultAgentPool)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, 1, claimed.ActiveJobs)

		req := testutil.AgentRegistration(name)
		req.EndpointURL = "http://127.0.0.1:9299"
		req.MaxParallel = 4
		again, err := repo.Register(ctx, core.RegisterAgentParams{Req: req, TokenHash: "hash-two"})
		require.NoError(t, err)

		// same identity, rotated token, fresh counters
		assert.Equal(t, a.ID, again.ID)
		assert.Equal(t, "http://127.0.0.1:9299", again.EndpointURL)
		assert.Equal(t, 4, again.MaxParallel)
		assert.Equal(t, 0, again.ActiveJobs)

		_, err = repo.FindByTokenHash(ctx, "hash-one")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))

		byToken, err = repo.FindByTokenHash(ctx, "hash-two")
		require.NoError(t, err)
		assert.Equal(t, a.ID, byToken.ID)
	})
}

func TestAgentRepo_Register_Validation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAgentRepo(db)

		// missing name
		_, err := repo.Register(ctx, core.RegisterAgentParams{
			Req:       &model.RegisterAgentRequest{EndpointURL: "http://x"},
			TokenHash: "h",
		})
		require.Error(t, err)

		// missing endpoint
		_, err = repo.Register(ctx, core.RegisterAgentParams{
			Req:       &model.RegisterAgentRequest{Name: "a"},
			TokenHash: "h",
		})
		require.Error(t, err)

		// missing token hash
		_, err = repo.Register(ctx, core.RegisterAgentParams{
			Req: testutil.AgentRegistration("a"),
		})
		require.Error(t, err)

		// nil request
		_, err = repo.Register(ctx, core.RegisterAgentParams{TokenHash: "h"})
		require.Error(t, err)
	})
}

func TestAgentRepo_Heartbeat(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAgentRepo(db)

		a := registerTestAgent(t, repo, fmt.Sprintf("hb-%d", time.Now().UnixNano()), "hb-hash")
		backdateAgentHeartbeat(t, db, a.ID, time.Now().Add(-time.Hour))

		cpu := 42.5
		beatAt := time.Now().UTC()
		ok, err := repo.Heartbeat(ctx, core.AgentHeartbeatParams{
			AgentID: a.ID,
			Beat: &model.AgentHeartbeat{
				ActiveJobs:   1,
				CPUPercent:   &cpu,
				AgentVersion: "1.2.3",
			},
			Now: beatAt,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastHeartbeat)
		assert.WithinDuration(t, beatAt, *got.LastHeartbeat, time.Second)
		assert.Equal(t, 1, got.ActiveJobs)
		require.NotNil(t, got.CPUPercent)
		assert.InDelta(t, 42.5, *got.CPUPercent, 0.01)
		assert.Equal(t, "1.2.3", got.AgentVersion)

		// unknown agent
		ok, err = repo.Heartbeat(ctx, core.AgentHeartbeatParams{AgentID: uuid.NewString()})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestAgentRepo_MarkStaleOffline_DeleteOffline(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAgentRepo(db)

		stale := registerTestAgent(t, repo, fmt.Sprintf("stale-%d", time.Now().UnixNano()), "stale-hash")
		backdateAgentHeartbeat(t, db, stale.ID, time.Now().Add(-time.Hour))

		fresh := registerTestAgent(t, repo, fmt.Sprintf("fresh-%d", time.Now().UnixNano()), "fresh-hash")

		n, err := repo.MarkStaleOffline(ctx, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := repo.GetByID(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AgentStatusOffline, got.Status)

		got, err = repo.GetByID(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AgentStatusOnline, got.Status)

		// expiry removes long-gone offline agents only
		n, err = repo.DeleteOffline(ctx, time.Now().Add(-30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = repo.GetByID(ctx, stale.ID)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))

		_, err = repo.GetByID(ctx, fresh.ID)
		require.NoError(t, err)
	})
}

func TestAgentRepo_ClaimCandidate(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("respects capacity", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			ctx := context.Background()
			repo := NewAgentRepo(db)

			req := testutil.AgentRegistration(fmt.Sprintf("cap-%d", time.Now().UnixNano()))
			req.MaxParallel = 1
			_, err := repo.Register(ctx, core.RegisterAgentParams{Req: req, TokenHash: "cap-hash"})
			require.NoError(t, err)

			first, err := repo.ClaimCandidate(ctx, model.DefaultAgentPool)
			require.NoError(t, err)
			require.NotNil(t, first)
			assert.Equal(t, 1, first.ActiveJobs)
			require.NotNil(t, first.LastAssignedAt)

			// capacity exhausted
			second, err := repo.ClaimCandidate(ctx, model.DefaultAgentPool)
			require.NoError(t, err)
			assert.Nil(t, second)

			require.NoError(t, repo.ReleaseSlot(ctx, first.ID))
			third, err := repo.ClaimCandidate(ctx, model.DefaultAgentPool)
			require.NoError(t, err)
			require.NotNil(t, third)
			assert.Equal(t, first.ID, third.ID)
		})
	})

	t.Run("spreads work across agents", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			ctx := context.Background()
			repo := NewAgentRepo(db)

			for i := 0; i < 2; i++ {
				req := testutil.AgentRegistration(fmt.Sprintf("spread-%d-%d", i, time.Now().UnixNano()))
				req.MaxParallel = 2
				_, err := repo.Register(ctx, core.RegisterAgentParams{Req: req, TokenHash: fmt.Sprintf("spread-hash-%d", i)})
				require.NoError(t, err)
			}

			first, err := repo.ClaimCandidate(ctx, model.DefaultAgentPool)
			require.NoError(t, err)
			require.NotNil(t, first)

			// the idle agent wins over the busy one
			second, err := repo.ClaimCandidate(ctx, model.DefaultAgentPool)
			require.NoError(t, err)
			require.NotNil(t, second)
			assert.NotEqual(t, first.ID, second.ID)

			// all tied on active count; the least recently assigned wins
			third, err := repo.ClaimCandidate(ctx, model.DefaultAgentPool)
			require.NoError(t, err)
			require.NotNil(t, third)
			assert.Equal(t, first.ID, third.ID)
		})
	})

	t.Run("wildcard pool serves every pool", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			ctx := context.Background()
			repo := NewAgentRepo(db)

			req := testutil.AgentRegistration(fmt.Sprintf("wild-%d", time.Now().UnixNano()))
			req.PoolID = model.AnyAgentPool
			req.MaxParallel = 1
			wild, err := repo.Register(ctx, core.RegisterAgentParams{Req: req, TokenHash: "wild-hash"})
			require.NoError(t, err)

			claimed, err := repo.ClaimCandidate(ctx, "reporting")
			require.NoError(t, err)
			require.NotNil(t, claimed)
			assert.Equal(t, wild.ID, claimed.ID)

			// nobody left once the wildcard agent is saturated
			claimed, err = repo.ClaimCandidate(ctx, "reporting")
			require.NoError(t, err)
			assert.Nil(t, claimed)
		})
	})

	t.Run("offline agents are never claimed", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			ctx := context.Background()
			repo := NewAgentRepo(db)

			a := registerTestAgent(t, repo, fmt.Sprintf("off-%d", time.Now().UnixNano()), "off-hash")
			backdateAgentHeartbeat(t, db, a.ID, time.Now().Add(-time.Hour))
			_, err := repo.MarkStaleOffline(ctx, time.Now().Add(-time.Minute))
			require.NoError(t, err)

			claimed, err := repo.ClaimCandidate(ctx, model.DefaultAgentPool)
			require.NoError(t, err)
			assert.Nil(t, claimed)
		})
	})
}

func TestAgentRepo_Assignments(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAgentRepo(db)

		a := registerTestAgent(t, repo, fmt.Sprintf("asg-%d", time.Now().UnixNano()), "asg-hash")
		executionID := uuid.NewString()

		created, err := repo.CreateAssignment(ctx, executionID, a.ID)
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		assert.Equal(t, executionID, created.ExecutionID)
		assert.Equal(t, a.ID, created.AgentID)
		assert.NotZero(t, created.AssignedAt)

		// one assignment per execution
		_, err = repo.CreateAssignment(ctx, executionID, a.ID)
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))

		got, err := repo.GetAssignment(ctx, executionID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)

		deleted, err := repo.DeleteAssignment(ctx, executionID)
		require.NoError(t, err)
		assert.True(t, deleted)

		_, err = repo.GetAssignment(ctx, executionID)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))

		deleted, err = repo.DeleteAssignment(ctx, executionID)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestAgentRepo_FindOrphaned(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAgentRepo(db)

		silentName := fmt.Sprintf("silent-%d", time.Now().UnixNano())
		silent := registerTestAgent(t, repo, silentName, "silent-hash")
		healthy := registerTestAgent(t, repo, fmt.Sprintf("healthy-%d", time.Now().UnixNano()), "healthy-hash")

		orphanExec := uuid.NewString()
		_, err := repo.CreateAssignment(ctx, orphanExec, silent.ID)
		require.NoError(t, err)
		_, err = repo.CreateAssignment(ctx, uuid.NewString(), healthy.ID)
		require.NoError(t, err)

		backdateAgentHeartbeat(t, db, silent.ID, time.Now().Add(-time.Hour))

		orphans, err := repo.FindOrphaned(ctx, time.Now().Add(-10*time.Minute))
		require.NoError(t, err)
		require.Len(t, orphans, 1)
		assert.Equal(t, orphanExec, orphans[0].ExecutionID)
		assert.Equal(t, silent.ID, orphans[0].AgentID)
		assert.Equal(t, silentName, orphans[0].AgentName)
	})
}

func TestAgentRepo_List(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAgentRepo(db)

		req := testutil.AgentRegistration(fmt.Sprintf("aaa-list-%d", time.Now().UnixNano()))
		req.Capabilities = json.RawMessage(`{"os":"windows"}`)
		_, err := repo.Register(ctx, core.RegisterAgentParams{Req: req, TokenHash: "list-hash-1"})
		require.NoError(t, err)

		registerTestAgent(t, repo, fmt.Sprintf("zzz-list-%d", time.Now().UnixNano()), "list-hash-2")

		agents, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, agents, 2)
		assert.True(t, agents[0].Name < agents[1].Name)

		var caps map[string]any
		require.NoError(t, json.Unmarshal(agents[0].Capabilities, &caps))
		assert.Equal(t, "windows", caps["os"])
	})
}
