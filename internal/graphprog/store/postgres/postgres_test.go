package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/danshapiro/agentgraph/internal/graphprog/store"
)

// These tests need a reachable database, e.g.
// AGENTGRAPH_TEST_POSTGRES_DSN="postgres://localhost/agentgraph_test?sslmode=disable".
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("AGENTGRAPH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AGENTGRAPH_TEST_POSTGRES_DSN not set")
	}
	return dsn
}

func TestStore_PersistsAndRestores(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	name := "pgtest_" + ulid.Make().String()
	src := []byte(fmt.Sprintf("// @desc: persisted\ndigraph %s { start; end; start -> end }", name))

	s, err := Open(ctx, dsn, store.NewMemory())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Delete(ctx, name)
		_ = s.Close()
	})

	got, err := s.Load(ctx, src, store.LoadOptions{Trusted: true})
	require.NoError(t, err)
	require.Equal(t, name, got)

	reopened, err := Open(ctx, dsn, store.NewMemory())
	require.NoError(t, err)
	defer reopened.Close()
	_, err = reopened.Restore(ctx)
	require.NoError(t, err)

	require.True(t, reopened.Exists(name))
	g, err := reopened.Graph(name)
	require.NoError(t, err)
	require.Equal(t, "persisted", g.Description)
}

func TestStore_RejectedProgramsAreNotPersisted(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	name := "pgbad_" + ulid.Make().String()
	s, err := Open(ctx, dsn, store.NewMemory())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load(ctx, []byte(fmt.Sprintf("digraph %s { start }", name)), store.LoadOptions{Trusted: true})
	require.Error(t, err)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT count(*) FROM graph_programs WHERE name = $1`, name).Scan(&count))
	require.Zero(t, count)
}

func TestRestoreInto_RunsAfterConfiguredPrograms(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_, err := mem.Load(ctx, []byte("// @desc: from file\ndigraph greet { start; end; start -> end }"), store.LoadOptions{Trusted: true})
	require.NoError(t, err)

	stored := []storedProgram{
		{name: "caller", source: []byte(`digraph caller {
  start
  end
  g [kind=Program, name="Greet", program=greet]
  start -> g -> end
}`)},
		{name: "greet", source: []byte("// @desc: stale copy\ndigraph greet { start; end; start -> end }")},
	}
	names := restoreInto(ctx, mem, stored)
	require.Equal(t, []string{"caller"}, names)
	require.True(t, mem.Exists("caller"))

	g, err := mem.Graph("greet")
	require.NoError(t, err)
	require.Equal(t, "from file", g.Description)

	require.Empty(t, restoreInto(ctx, mem, stored))
}
