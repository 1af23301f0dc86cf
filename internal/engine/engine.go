package engine

import (
	"context"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
	"github.com/selfdb-io/selfdb/internal/store"
)

// CreateTable issues the DDL and inserts the registry row. Callers run it
// inside a transaction so the physical table and the entry appear together.
func CreateTable(ctx context.Context, q db.Querier, t *model.Table) error {
	ddl, err := BuildCreateTableSQL(t.Name, t.TableSchema)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, ddl); err != nil {
		return httpx.MapDBError(err, "Table")
	}
	if err := store.InsertTable(ctx, q, t); err != nil {
		return httpx.MapDBError(err, "Table")
	}
	if t.RealtimeEnabled {
		if err := SetRealtime(ctx, q, t.Name, true); err != nil {
			return err
		}
	}
	return nil
}

// DropTable removes the registry entry and the physical table together.
func DropTable(ctx context.Context, q db.Querier, t *model.Table) error {
	if t.RealtimeEnabled {
		if err := SetRealtime(ctx, q, t.Name, false); err != nil {
			return err
		}
	}
	if err := store.DeleteTableEntry(ctx, q, t.ID); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(t.Name)); err != nil {
		return httpx.MapDBError(err, "Table")
	}
	return nil
}

// RenameTable moves the physical table. Realtime triggers are name-bound, so
// an enabled table is detached under the old name and reattached under the
// new one.
func RenameTable(ctx context.Context, q db.Querier, t *model.Table, newName string) error {
	if err := ValidateTableName(newName); err != nil {
		return err
	}
	if t.RealtimeEnabled {
		if err := SetRealtime(ctx, q, t.Name, false); err != nil {
			return err
		}
	}
	if _, err := q.ExecContext(ctx,
		"ALTER TABLE "+QuoteIdent(t.Name)+" RENAME TO "+QuoteIdent(newName)); err != nil {
		return httpx.MapDBError(err, "Table")
	}
	if t.RealtimeEnabled {
		if err := SetRealtime(ctx, q, newName, true); err != nil {
			return err
		}
	}
	return nil
}

// SetRealtime toggles the change-notification trigger via the stored
// procedures the init scripts install. Notifications land on channel
// table:<name>.
func SetRealtime(ctx context.Context, q db.Querier, name string, enabled bool) error {
	proc := "disable_realtime_for_table"
	if enabled {
		proc = "enable_realtime_for_table"
	}
	if _, err := q.ExecContext(ctx, "SELECT "+proc+"($1)", name); err != nil {
		return httpx.BadRequest("Failed to toggle realtime for table " + name + ": " + err.Error())
	}
	return nil
}

// AddColumn alters the physical table and syncs the registry schema.
func AddColumn(ctx context.Context, q db.Querier, t *model.Table, name string, def model.ColumnDef) (*model.Table, error) {
	if _, exists := t.TableSchema[name]; exists {
		return nil, httpx.Conflict("Column '" + name + "' already exists")
	}
	ddl, err := ColumnDDL(name, def)
	if err != nil {
		return nil, err
	}
	if _, err := q.ExecContext(ctx,
		"ALTER TABLE "+QuoteIdent(t.Name)+" ADD COLUMN "+ddl); err != nil {
		return nil, httpx.MapDBError(err, "Table")
	}
	schema := cloneSchema(t.TableSchema)
	schema[name] = def
	return store.UpdateTableMeta(ctx, q, t.ID, store.TableUpdate{TableSchema: schema})
}

// ColumnPatch carries the mutations PATCH /columns/{name} accepts; nil means
// leave unchanged.
type ColumnPatch struct {
	NewName  *string `json:"new_name"`
	Type     *string `json:"type"`
	Nullable *bool   `json:"nullable"`
	Default  *string `json:"default"`
	// DropDefault distinguishes "remove the default" from "leave it".
	DropDefault bool `json:"drop_default"`
}

// PatchColumn applies rename / retype / nullability / default mutations in
// order and syncs the registry schema.
func PatchColumn(ctx context.Context, q db.Querier, t *model.Table, name string, patch ColumnPatch) (*model.Table, error) {
	def, exists := t.TableSchema[name]
	if !exists {
		return nil, httpx.NotFound("Column")
	}
	schema := cloneSchema(t.TableSchema)
	table := QuoteIdent(t.Name)
	current := name

	if patch.NewName != nil && *patch.NewName != name {
		if err := ValidateColumnName(*patch.NewName); err != nil {
			return nil, err
		}
		if _, taken := schema[*patch.NewName]; taken {
			return nil, httpx.Conflict("Column '" + *patch.NewName + "' already exists")
		}
		if _, err := q.ExecContext(ctx,
			"ALTER TABLE "+table+" RENAME COLUMN "+QuoteIdent(current)+" TO "+QuoteIdent(*patch.NewName)); err != nil {
			return nil, httpx.MapDBError(err, "Column")
		}
		delete(schema, current)
		current = *patch.NewName
	}

	if patch.Type != nil {
		physical, err := MapColumnType(*patch.Type)
		if err != nil {
			return nil, err
		}
		if _, err := q.ExecContext(ctx,
			"ALTER TABLE "+table+" ALTER COLUMN "+QuoteIdent(current)+" TYPE "+physical+
				" USING "+QuoteIdent(current)+"::"+physical); err != nil {
			return nil, httpx.MapDBError(err, "Column")
		}
		def.Type = *patch.Type
	}

	if patch.Nullable != nil {
		clause := " SET NOT NULL"
		if *patch.Nullable {
			clause = " DROP NOT NULL"
		}
		if _, err := q.ExecContext(ctx,
			"ALTER TABLE "+table+" ALTER COLUMN "+QuoteIdent(current)+clause); err != nil {
			return nil, httpx.MapDBError(err, "Column")
		}
		def.Nullable = patch.Nullable
	}

	if patch.DropDefault {
		if _, err := q.ExecContext(ctx,
			"ALTER TABLE "+table+" ALTER COLUMN "+QuoteIdent(current)+" DROP DEFAULT"); err != nil {
			return nil, httpx.MapDBError(err, "Column")
		}
		def.Default = nil
	} else if patch.Default != nil {
		if _, err := q.ExecContext(ctx,
			"ALTER TABLE "+table+" ALTER COLUMN "+QuoteIdent(current)+" SET DEFAULT "+*patch.Default); err != nil {
			return nil, httpx.MapDBError(err, "Column")
		}
		def.Default = patch.Default
	}

	schema[current] = def
	return store.UpdateTableMeta(ctx, q, t.ID, store.TableUpdate{TableSchema: schema})
}

// DropColumn removes the column from the physical table and the registry
// schema.
func DropColumn(ctx context.Context, q db.Querier, t *model.Table, name string) (*model.Table, error) {
	if _, exists := t.TableSchema[name]; !exists {
		return nil, httpx.NotFound("Column")
	}
	if _, err := q.ExecContext(ctx,
		"ALTER TABLE "+QuoteIdent(t.Name)+" DROP COLUMN "+QuoteIdent(name)); err != nil {
		return nil, httpx.MapDBError(err, "Column")
	}
	schema := cloneSchema(t.TableSchema)
	delete(schema, name)
	return store.UpdateTableMeta(ctx, q, t.ID, store.TableUpdate{TableSchema: schema})
}

func cloneSchema(s model.TableSchema) model.TableSchema {
	out := make(model.TableSchema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
