package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/selfdb-io/selfdb/internal/config"
	"github.com/selfdb-io/selfdb/internal/httpx"
)

// Subprocess budgets. Termination and schema surgery are quick; dump and
// replay get the long budget.
const (
	shortTimeout  = 10 * time.Second
	mediumTimeout = 30 * time.Second
	longTimeout   = 120 * time.Second
)

// Manager creates and restores backup archives.
type Manager struct {
	cfg *config.Config
	log zerolog.Logger
}

func NewManager(cfg *config.Config, log zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, log: log.With().Str("component", "backup").Logger()}
}

// Info describes one archive on disk.
type Info struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Create dumps the database, copies the blob tree and the runtime .env into a
// staging directory, and archives the lot as
// selfdb_backup_YYYYMMDD_HHMMSS.tar.gz. Retention runs afterwards.
func (m *Manager) Create(ctx context.Context) (*Info, error) {
	if err := os.MkdirAll(m.cfg.BackupDir, 0o755); err != nil {
		return nil, err
	}
	staging, err := os.MkdirTemp("", "selfdb-backup-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	if err := m.pgDump(ctx, filepath.Join(staging, "database.sql")); err != nil {
		return nil, err
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := copyFile(".env", filepath.Join(staging, ".env")); err != nil {
			m.log.Warn().Err(err).Msg("copy .env into backup")
		}
	}
	if m.cfg.StorageDir != "" {
		if _, err := os.Stat(m.cfg.StorageDir); err == nil {
			if err := copyTree(m.cfg.StorageDir, filepath.Join(staging, "storage")); err != nil {
				return nil, fmt.Errorf("copy blob tree: %w", err)
			}
		}
	}

	name := time.Now().UTC().Format("selfdb_backup_20060102_150405.tar.gz")
	target := filepath.Join(m.cfg.BackupDir, name)
	if err := writeArchive(target, staging); err != nil {
		_ = os.Remove(target)
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("archive", name).Int64("size", info.Size()).Msg("backup created")
	m.sweepRetention()
	return &Info{Name: name, Size: info.Size(), CreatedAt: info.ModTime().UTC()}, nil
}

// List returns the archives newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.cfg.BackupDir)
	if os.IsNotExist(err) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []Info{}
	for _, e := range entries {
		if e.IsDir() || !ValidArchiveName(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Name: e.Name(), Size: fi.Size(), CreatedAt: fi.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Path resolves an archive name, rejecting anything outside the canonical
// naming shape.
func (m *Manager) Path(name string) (string, error) {
	if !ValidArchiveName(name) {
		return "", httpx.BadRequest("Invalid backup name")
	}
	p := filepath.Join(m.cfg.BackupDir, name)
	if _, err := os.Stat(p); err != nil {
		return "", httpx.NotFound("Backup")
	}
	return p, nil
}

// Delete removes one archive.
func (m *Manager) Delete(name string) error {
	p, err := m.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// sweepRetention deletes archives older than the retention window.
func (m *Manager) sweepRetention() {
	if m.cfg.BackupRetentionDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -m.cfg.BackupRetentionDays)
	archives, err := m.List()
	if err != nil {
		m.log.Warn().Err(err).Msg("retention sweep list failed")
		return
	}
	for _, a := range archives {
		if a.CreatedAt.Before(cutoff) {
			if err := os.Remove(filepath.Join(m.cfg.BackupDir, a.Name)); err != nil {
				m.log.Warn().Err(err).Str("archive", a.Name).Msg("retention delete failed")
			} else {
				m.log.Info().Str("archive", a.Name).Msg("retention deleted old backup")
			}
		}
	}
}

// Restore replays an uploaded archive into an uninitialized system: extract
// safely, cut every other connection, recreate the public schema, replay the
// dump through psql, and put the blob tree back. The initialized-latch gate
// is the caller's job.
func (m *Manager) Restore(ctx context.Context, archive io.Reader) error {
	staging, err := os.MkdirTemp("", "selfdb-restore-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := extractArchive(archive, staging); err != nil {
		return err
	}
	dump := filepath.Join(staging, "database.sql")
	if _, err := os.Stat(dump); err != nil {
		return httpx.BadRequest("Archive does not contain database.sql")
	}

	if err := m.terminateConnections(ctx); err != nil {
		return err
	}
	if err := m.resetSchema(ctx); err != nil {
		return err
	}
	if err := m.psqlFile(ctx, dump); err != nil {
		return err
	}

	blobSrc := filepath.Join(staging, "storage")
	if m.cfg.StorageDir != "" {
		if _, err := os.Stat(blobSrc); err == nil {
			if err := os.RemoveAll(m.cfg.StorageDir); err != nil {
				return err
			}
			if err := copyTree(blobSrc, m.cfg.StorageDir); err != nil {
				return err
			}
		}
	}
	m.log.Info().Msg("restore completed")
	return nil
}

func (m *Manager) pgEnv() []string {
	return append(os.Environ(), "PGPASSWORD="+m.cfg.PostgresPassword)
}

// maintenanceDB is the database the terminate step connects through. Its own
// session must not sit inside the database whose backends it is killing.
const maintenanceDB = "postgres"

func (m *Manager) pgArgs() []string { return m.pgArgsFor(m.cfg.PostgresDB) }

func (m *Manager) pgArgsFor(database string) []string {
	return []string{
		"-h", m.cfg.PostgresHost,
		"-p", strconv.Itoa(m.cfg.PostgresPort),
		"-U", m.cfg.PostgresUser,
		"-d", database,
	}
}

func (m *Manager) pgDump(ctx context.Context, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()
	args := append(m.pgArgs(), "--no-owner", "--no-privileges", "-f", outPath)
	cmd := exec.CommandContext(ctx, "pg_dump", args...)
	cmd.Env = m.pgEnv()
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("pg_dump timed out after %s", longTimeout)
		}
		return fmt.Errorf("pg_dump failed: %s", string(out))
	}
	return nil
}

func (m *Manager) psqlFile(ctx context.Context, file string) error {
	ctx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()
	args := append(m.pgArgs(), "-v", "ON_ERROR_STOP=0", "-f", file)
	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = m.pgEnv()
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("psql timed out after %s", longTimeout)
		}
		return fmt.Errorf("psql failed: %s", string(out))
	}
	return nil
}

// terminateSQL kills every backend attached to the application database,
// including the gateway's own pool.
func (m *Manager) terminateSQL() string {
	return fmt.Sprintf(
		`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid();`,
		m.cfg.PostgresDB)
}

func (m *Manager) terminateConnections(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "psql", append(m.pgArgsFor(maintenanceDB), "-c", m.terminateSQL())...)
	cmd.Env = m.pgEnv()
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("terminating connections timed out after %s", shortTimeout)
		}
		return fmt.Errorf("terminating connections failed: %s", string(out))
	}
	return nil
}

func (m *Manager) resetSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mediumTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "psql",
		append(m.pgArgs(), "-c", "DROP SCHEMA public CASCADE; CREATE SCHEMA public;")...)
	cmd.Env = m.pgEnv()
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("schema reset timed out after %s", mediumTimeout)
		}
		return fmt.Errorf("schema reset failed: %s", string(out))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
