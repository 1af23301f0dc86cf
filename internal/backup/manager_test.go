package backup

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/selfdb-io/selfdb/internal/config"
)

func newTestManager() *Manager {
	cfg := &config.Config{
		PostgresHost:     "db.internal",
		PostgresPort:     5432,
		PostgresUser:     "selfdb",
		PostgresDB:       "selfdb_app",
		PostgresPassword: "pw",
	}
	return NewManager(cfg, zerolog.Nop())
}

func TestPgArgsTargetAppDatabase(t *testing.T) {
	m := newTestManager()
	args := strings.Join(m.pgArgs(), " ")
	require.Contains(t, args, "-d selfdb_app")
	require.Contains(t, args, "-h db.internal")
	require.Contains(t, args, "-U selfdb")
}

// The terminate step must not run inside the database it is clearing: psql
// connects through the maintenance database while the kill predicate still
// targets the application database. A terminate session sitting in the app
// database would survive its own sweep and leave the gateway's pooled
// connections dead for the statements that follow.
func TestTerminateConnectsThroughMaintenanceDB(t *testing.T) {
	m := newTestManager()
	args := strings.Join(m.pgArgsFor(maintenanceDB), " ")
	require.Contains(t, args, "-d postgres")
	require.NotContains(t, args, "selfdb_app")

	sql := m.terminateSQL()
	require.Contains(t, sql, "datname = 'selfdb_app'")
	require.Contains(t, sql, "pg_terminate_backend")
}
