package redisom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// SchemaMigrationFile is the on-disk record of one schema migration, per
// spec.md §4.8/§6.4: both directions of the index-field diff are kept so a
// migration can be rolled back.
type SchemaMigrationFile struct {
	ID              string       `json:"id"`
	Record          string       `json:"record"`
	IndexName       string       `json:"index_name"`
	KeyPrefix       string       `json:"key_prefix"`
	Layout          string       `json:"layout"`
	PrevFingerprint string       `json:"prev_fingerprint"`
	NewFingerprint  string       `json:"new_fingerprint"`
	PrevFields      []IndexField `json:"prev_fields,omitempty"`
	NewFields       []IndexField `json:"new_fields"`
}

// SchemaState is the status SchemaMigrator.Status reports for one record
// type, per spec.md §4.8's status operation.
type SchemaState string

const (
	StateUpToDate      SchemaState = "up-to-date"
	StatePendingCreate SchemaState = "pending-create"
	StatePendingDrift  SchemaState = "pending-drift"
	StateOrphanOnServer SchemaState = "orphan-on-server"
)

// SchemaStatus is one row of SchemaMigrator.Status's report.
type SchemaStatus struct {
	Record             string
	State              SchemaState
	CurrentFingerprint string
	FileFingerprint    string
	ServerFingerprint  string
}

// SchemaMigrator implements C8: file-based schema migrations under
// "<migrations_dir>/schema-migrations/", diffing each registered record
// type's current compiled schema against the migration file series and the
// server-persisted fingerprint.
type SchemaMigrator struct {
	Conn    Conn
	Dir     string // "<migrations_dir>/schema-migrations"
	Schemas map[string]*CompiledSchema
}

// NewSchemaMigrator binds conn, the schema-migrations directory, and the
// registry of currently-declared record schemas (by RecordName).
func NewSchemaMigrator(conn Conn, migrationsDir string, schemas map[string]*CompiledSchema) *SchemaMigrator {
	return &SchemaMigrator{Conn: conn, Dir: filepath.Join(migrationsDir, "schema-migrations"), Schemas: schemas}
}

func (m *SchemaMigrator) listFiles() ([]SchemaMigrationFile, error) {
	entries, err := os.ReadDir(m.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &MigrationError{Err: fmt.Errorf("reading %s: %w", m.Dir, err)}
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]SchemaMigrationFile, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(m.Dir, name))
		if err != nil {
			return nil, &MigrationError{Migration: name, Err: err}
		}
		var f SchemaMigrationFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, &MigrationError{Migration: name, Err: fmt.Errorf("parsing %s: %w", name, err)}
		}
		out = append(out, f)
	}
	return out, nil
}

func fileHeadByRecord(files []SchemaMigrationFile) map[string]SchemaMigrationFile {
	heads := map[string]SchemaMigrationFile{}
	for _, f := range files {
		heads[f.Record] = f // files are sorted by id, so the last write wins
	}
	return heads
}

// Status reports, for each registered record type, whether its in-memory
// schema is up to date with the migration file series and the server,
// pending a first create, pending a drift-driven rebuild, or inconsistent
// with the server in a way the file series doesn't explain (reported as
// orphan-on-server). Discovering record types present on the server but
// never registered in Schemas is out of scope: nothing short of a full key
// scan could find them, and spec.md does not ask for that.
func (m *SchemaMigrator) Status(ctx context.Context) ([]SchemaStatus, error) {
	files, err := m.listFiles()
	if err != nil {
		return nil, err
	}
	heads := fileHeadByRecord(files)

	names := make([]string, 0, len(m.Schemas))
	for name := range m.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]SchemaStatus, 0, len(names))
	for _, name := range names {
		schema := m.Schemas[name]
		current := Fingerprint(schema)
		fileFP := heads[name].NewFingerprint

		serverFP, err := m.Conn.Get(ctx, SchemaHashKey(schema.Meta)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, &ConnectionError{Op: "GET schema hash", Err: err}
		}

		st := SchemaStatus{Record: name, CurrentFingerprint: current, FileFingerprint: fileFP, ServerFingerprint: serverFP}
		switch {
		case serverFP == "" && fileFP == "":
			st.State = StatePendingCreate
		case current == serverFP && current == fileFP:
			st.State = StateUpToDate
		case serverFP != "" && fileFP != "" && serverFP != fileFP:
			st.State = StateOrphanOnServer
		default:
			st.State = StatePendingDrift
		}
		out = append(out, st)
	}
	return out, nil
}

// Create diffs each registered record type's current schema against the
// migration file series' head and writes one new file per record whose
// fields differ (or which has no prior file at all), per spec.md §4.8's
// create operation. It returns the ids of the files written.
func (m *SchemaMigrator) Create(slug string) ([]string, error) {
	files, err := m.listFiles()
	if err != nil {
		return nil, err
	}
	heads := fileHeadByRecord(files)

	names := make([]string, 0, len(m.Schemas))
	for name := range m.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return nil, &MigrationError{Err: err}
	}

	var written []string
	for _, name := range names {
		schema := m.Schemas[name]
		prev, hadPrev := heads[name]
		newFP := Fingerprint(schema)
		if hadPrev && prev.NewFingerprint == newFP {
			continue
		}

		id := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102_150405"), slug)
		file := SchemaMigrationFile{
			ID:             id,
			Record:         name,
			IndexName:      IndexName(schema.Meta),
			KeyPrefix:      KeyPrefix(schema.Meta),
			Layout:         schema.Layout.String(),
			NewFingerprint: newFP,
			NewFields:      schema.Fields,
		}
		if hadPrev {
			file.PrevFingerprint = prev.NewFingerprint
			file.PrevFields = prev.NewFields
		}

		raw, err := json.MarshalIndent(file, "", "  ")
		if err != nil {
			return nil, &MigrationError{Migration: id, Err: err}
		}
		path := filepath.Join(m.Dir, id+".json")
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return nil, &MigrationError{Migration: id, Err: err}
		}
		written = append(written, id)
	}
	return written, nil
}

// Run applies every un-applied migration file in id order: drop the prior
// index if present, create the new one, and atomically record the new
// fingerprint, per spec.md §4.8. A FT.CREATE error aborts the run;
// already-applied files remain applied. Re-running is idempotent (spec.md
// §8.1.2).
func (m *SchemaMigrator) Run(ctx context.Context) error {
	if err := requireDB0(m.Conn); err != nil {
		return err
	}
	files, err := m.listFiles()
	if err != nil {
		return err
	}

	appliedKey := migrationsAppliedKey
	for _, f := range files {
		applied, err := m.Conn.SIsMember(ctx, appliedKey, f.ID).Result()
		if err != nil {
			return &ConnectionError{Op: "SISMEMBER", Err: err}
		}
		if applied {
			continue
		}

		idx := &IndexManager{Schema: &CompiledSchema{RecordName: f.Record, Layout: layoutFromString(f.Layout), Meta: metaForMigration(f)}, Conn: m.Conn}
		if f.PrevFingerprint != "" {
			if err := idx.DropIndex(ctx); err != nil {
				return &MigrationError{Migration: f.ID, Err: err}
			}
		}
		idx.Schema.Fields = f.NewFields
		if err := idx.CreateIndex(ctx); err != nil {
			return &MigrationError{Migration: f.ID, Err: err}
		}
		if err := m.Conn.Set(ctx, SchemaHashKey(idx.Schema.Meta), f.NewFingerprint, 0).Err(); err != nil {
			return &MigrationError{Migration: f.ID, Err: err}
		}
		if err := m.Conn.SAdd(ctx, appliedKey, f.ID).Err(); err != nil {
			return &MigrationError{Migration: f.ID, Err: err}
		}
	}
	return nil
}

// Rollback applies the inverse (previous) field definition of migration id,
// if one was recorded; a migration with no PrevFields is the first
// migration for its record and cannot be rolled back.
func (m *SchemaMigrator) Rollback(ctx context.Context, id string) error {
	if err := requireDB0(m.Conn); err != nil {
		return err
	}
	files, err := m.listFiles()
	if err != nil {
		return err
	}
	var target *SchemaMigrationFile
	for i := range files {
		if files[i].ID == id {
			target = &files[i]
			break
		}
	}
	if target == nil {
		return &MigrationError{Migration: id, Err: fmt.Errorf("no such migration file")}
	}
	if target.PrevFields == nil {
		return &MigrationError{Migration: id, Err: fmt.Errorf("migration has no previous definition to roll back to")}
	}

	meta := metaForMigration(*target)
	idx := &IndexManager{Schema: &CompiledSchema{RecordName: target.Record, Layout: layoutFromString(target.Layout), Meta: meta, Fields: target.PrevFields}, Conn: m.Conn}
	if err := idx.DropIndex(ctx); err != nil {
		return &MigrationError{Migration: id, Err: err}
	}
	if err := idx.CreateIndex(ctx); err != nil {
		return &MigrationError{Migration: id, Err: err}
	}
	if err := m.Conn.Set(ctx, SchemaHashKey(meta), target.PrevFingerprint, 0).Err(); err != nil {
		return &MigrationError{Migration: id, Err: err}
	}
	return m.Conn.SRem(ctx, migrationsAppliedKey, id).Err()
}

func layoutFromString(s string) StorageLayout {
	if s == "JSON" {
		return Document
	}
	return Hash
}

// metaForMigration rebuilds the minimal Meta a migration file needs to
// address its index/prefix, from the key-prefix/index-name it recorded
// rather than a full Meta (which is not serializable: it carries a live
// Conn handle).
func metaForMigration(f SchemaMigrationFile) Meta {
	prefix := f.KeyPrefix
	if len(prefix) > 0 && prefix[len(prefix)-1] == ':' {
		prefix = prefix[:len(prefix)-1]
	}
	return Meta{ModelKeyPrefix: prefix, IndexNameOverride: f.IndexName}
}
