package redisom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FailureMode selects how a data migration reacts to a per-key transform
// error, per spec.md §4.9.
type FailureMode string

const (
	FailFast       FailureMode = "fail"
	FailSkip       FailureMode = "skip"
	FailLogAndSkip FailureMode = "log_and_skip"
	FailDefault    FailureMode = "default"
)

// Counts is the running per-migration tally spec.md §4.9's progress
// checkpoint persists: {seen, ok, skipped, errored}.
type Counts struct {
	Seen    int `json:"seen"`
	OK      int `json:"ok"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

// Progress is the checkpoint record persisted at
// migrationProgressKey(migrationID) every ProgressSaveInterval keys.
type Progress struct {
	MigrationID string `json:"migration_id"`
	// LastKey holds the SCAN cursor the run left off at, not a literal Redis
	// key: SCAN's cursor is the server's own opaque resume token, and
	// persisting it (rather than a lexical "last key seen", which SCAN's
	// unordered iteration doesn't actually guarantee) is what makes resuming
	// with MATCH+COUNT correct.
	LastKey string `json:"last_key"`
	Counts  Counts `json:"counts"`
}

// RunOptions configures one data-migration run, per spec.md §4.9/§6.6.
type RunOptions struct {
	DryRun                bool
	BatchSize             int // default 1000
	ProgressSaveInterval  int // default 100
	FailureMode           FailureMode
	MaxErrors             int // 0 = unlimited
	Limit                 int // 0 = unlimited; caps keys processed this run
}

// DataMigration is one named, dependency-ordered data transformation,
// per spec.md §4.9: Up (required) transforms one key; Down (optional)
// reverses it. KeyPattern is the SCAN MATCH glob this migration iterates.
type DataMigration struct {
	ID          string
	Description string
	DependsOn   []string
	KeyPattern  string
	Up          func(ctx context.Context, conn Conn, key string) error
	Down        func(ctx context.Context, conn Conn, key string) error
}

// DataMigrator implements C9's execution engine: dependency-ordered,
// batched, checkpointed, resumable data migrations with a bounded failure
// policy.
type DataMigrator struct {
	Conn       Conn
	Migrations map[string]*DataMigration
}

// NewDataMigrator indexes migrations by ID into a DataMigrator bound to
// conn.
func NewDataMigrator(conn Conn, migrations []*DataMigration) *DataMigrator {
	byID := make(map[string]*DataMigration, len(migrations))
	for _, m := range migrations {
		byID[m.ID] = m
	}
	return &DataMigrator{Conn: conn, Migrations: byID}
}

// order topologically sorts the registered migrations by DependsOn,
// visiting ids in sorted order for determinism. A cycle is a fatal
// MigrationError, per spec.md §4.9.
func (m *DataMigrator) order() ([]*DataMigration, error) {
	const (
		white = iota
		gray
		black
	)
	state := map[string]int{}
	var out []*DataMigration

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case black:
			return nil
		case gray:
			return &MigrationError{Migration: id, Err: fmt.Errorf("cyclic data-migration dependency")}
		}
		dm, ok := m.Migrations[id]
		if !ok {
			return &MigrationError{Migration: id, Err: fmt.Errorf("depends on unregistered migration")}
		}
		state[id] = gray
		deps := append([]string{}, dm.DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = black
		out = append(out, dm)
		return nil
	}

	ids := make([]string, 0, len(m.Migrations))
	for id := range m.Migrations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *DataMigrator) isApplied(ctx context.Context, id string) (bool, error) {
	ok, err := m.Conn.SIsMember(ctx, dataMigrationsAppliedKey, id).Result()
	if err != nil {
		return false, &ConnectionError{Op: "SISMEMBER", Err: err}
	}
	return ok, nil
}

// Progress returns the persisted checkpoint for id, or nil if none exists.
func (m *DataMigrator) Progress(ctx context.Context, id string) (*Progress, error) {
	raw, err := m.Conn.Get(ctx, migrationProgressKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &ConnectionError{Op: "GET progress", Err: err}
	}
	var p Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, &MigrationError{Migration: id, Err: err}
	}
	return &p, nil
}

// ClearProgress deletes id's checkpoint, per spec.md §6.6's
// "clear-progress" CLI operation.
func (m *DataMigrator) ClearProgress(ctx context.Context, id string) error {
	if err := m.Conn.Del(ctx, migrationProgressKey(id)).Err(); err != nil {
		return &ConnectionError{Op: "DEL progress", Err: err}
	}
	return nil
}

func (m *DataMigrator) saveProgress(ctx context.Context, id string, cursor uint64, counts Counts) error {
	raw, err := json.Marshal(Progress{MigrationID: id, LastKey: strconv.FormatUint(cursor, 10), Counts: counts})
	if err != nil {
		return &MigrationError{Migration: id, Err: err}
	}
	if err := m.Conn.Set(ctx, migrationProgressKey(id), raw, 0).Err(); err != nil {
		return &ConnectionError{Op: "SET progress", Err: err}
	}
	return nil
}

// RunAll runs every pending migration in dependency order.
func (m *DataMigrator) RunAll(ctx context.Context, opts RunOptions) (map[string]Counts, error) {
	ordered, err := m.order()
	if err != nil {
		return nil, err
	}
	out := map[string]Counts{}
	for _, dm := range ordered {
		c, err := m.runOne(ctx, dm, opts)
		out[dm.ID] = c
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Run runs a single migration by id (its own dependency chain is not
// automatically run first; callers driving individual migrations are
// expected to have already applied dependencies via RunAll or a prior Run).
func (m *DataMigrator) Run(ctx context.Context, id string, opts RunOptions) (Counts, error) {
	dm, ok := m.Migrations[id]
	if !ok {
		return Counts{}, &MigrationError{Migration: id, Err: fmt.Errorf("unknown migration")}
	}
	return m.runOne(ctx, dm, opts)
}

// Rollback reverses an applied migration by scanning its key pattern again
// and calling Down on every matching key, then removing it from the
// applied-set. A migration with no Down is not reversible (MigrationError).
func (m *DataMigrator) Rollback(ctx context.Context, id string, batchSize int) (Counts, error) {
	dm, ok := m.Migrations[id]
	if !ok {
		return Counts{}, &MigrationError{Migration: id, Err: fmt.Errorf("unknown migration")}
	}
	if dm.Down == nil {
		return Counts{}, &MigrationError{Migration: id, Err: fmt.Errorf("no reverse transform registered")}
	}
	applied, err := m.isApplied(ctx, id)
	if err != nil {
		return Counts{}, err
	}
	if !applied {
		return Counts{}, &MigrationError{Migration: id, Err: fmt.Errorf("migration is not applied")}
	}

	if batchSize <= 0 {
		batchSize = 1000
	}
	var cursor uint64
	var counts Counts
	for {
		keys, next, err := m.Conn.Scan(ctx, cursor, dm.KeyPattern, int64(batchSize)).Result()
		if err != nil {
			return counts, &ConnectionError{Op: "SCAN", Err: err}
		}
		cursor = next
		for _, key := range keys {
			counts.Seen++
			if err := dm.Down(ctx, m.Conn, key); err != nil {
				return counts, &MigrationError{Migration: id, Err: fmt.Errorf("key %s: %w", key, err)}
			}
			counts.OK++
		}
		if cursor == 0 {
			break
		}
	}

	if err := m.Conn.SRem(ctx, dataMigrationsAppliedKey, id).Err(); err != nil {
		return counts, &ConnectionError{Op: "SREM", Err: err}
	}
	if err := m.ClearProgress(ctx, id); err != nil {
		return counts, err
	}
	return counts, nil
}

func (m *DataMigrator) runOne(ctx context.Context, dm *DataMigration, opts RunOptions) (Counts, error) {
	applied, err := m.isApplied(ctx, dm.ID)
	if err != nil {
		return Counts{}, err
	}
	if applied {
		return Counts{}, nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	saveInterval := opts.ProgressSaveInterval
	if saveInterval <= 0 {
		saveInterval = 100
	}

	var cursor uint64
	var counts Counts
	if prog, err := m.Progress(ctx, dm.ID); err != nil {
		return Counts{}, err
	} else if prog != nil {
		if c, perr := strconv.ParseUint(prog.LastKey, 10, 64); perr == nil {
			cursor = c
		}
		counts = prog.Counts
	}

	sinceCheckpoint, processed := 0, 0
	for {
		// A checkpoint taken before this batch is finished records
		// batchStart, so a resumed run re-scans the batch instead of
		// skipping its remaining keys.
		batchStart := cursor
		keys, next, err := m.Conn.Scan(ctx, cursor, dm.KeyPattern, int64(batchSize)).Result()
		if err != nil {
			return counts, &ConnectionError{Op: "SCAN", Err: err}
		}
		cursor = next

		for _, key := range keys {
			if opts.Limit > 0 && processed >= opts.Limit {
				// Stopped by Limit: the migration stays unapplied and the
				// next run resumes from the checkpoint.
				if opts.DryRun {
					return counts, nil
				}
				return counts, m.saveProgress(ctx, dm.ID, batchStart, counts)
			}
			processed++
			counts.Seen++

			var upErr error
			if !opts.DryRun {
				upErr = dm.Up(ctx, m.Conn, key)
			}
			switch {
			case upErr == nil:
				counts.OK++
			case opts.FailureMode == FailSkip:
				counts.Skipped++
			case opts.FailureMode == FailLogAndSkip:
				counts.Skipped++
				log.Printf("redisom: data migration %s: skipping %s: %v", dm.ID, key, upErr)
			case opts.FailureMode == FailDefault:
				counts.Errored++
				log.Printf("redisom: data migration %s: %s left at default, transform failed: %v", dm.ID, key, upErr)
			default:
				return counts, &MigrationError{Migration: dm.ID, Err: fmt.Errorf("key %s: %w", key, upErr)}
			}
			// MaxErrors caps total failed transforms regardless of failure
			// mode: under FailSkip/FailLogAndSkip a failure counts as
			// Skipped rather than Errored, but it is still a failure the
			// cap must see, or max_errors would never trip in the skip
			// modes where a cap is most likely to be configured.
			if opts.MaxErrors > 0 && counts.Errored+counts.Skipped > opts.MaxErrors {
				return counts, &MigrationError{Migration: dm.ID, Err: fmt.Errorf("exceeded max_errors (%d)", opts.MaxErrors)}
			}

			sinceCheckpoint++
			if sinceCheckpoint >= saveInterval && !opts.DryRun {
				if err := m.saveProgress(ctx, dm.ID, batchStart, counts); err != nil {
					return counts, err
				}
				sinceCheckpoint = 0
			}
		}

		if cursor == 0 {
			break
		}
		if opts.Limit > 0 && processed >= opts.Limit {
			if opts.DryRun {
				return counts, nil
			}
			return counts, m.saveProgress(ctx, dm.ID, cursor, counts)
		}
	}

	if opts.DryRun {
		return counts, nil
	}
	if err := m.saveProgress(ctx, dm.ID, cursor, counts); err != nil {
		return counts, err
	}
	if err := m.Conn.SAdd(ctx, dataMigrationsAppliedKey, dm.ID).Err(); err != nil {
		return counts, &ConnectionError{Op: "SADD", Err: err}
	}
	return counts, nil
}

// MigrationStat is one row of DataMigrator.Stats, per spec.md §6.6's
// "migrate-data stats" operation.
type MigrationStat struct {
	ID       string
	Applied  bool
	Progress *Progress
}

// Stats reports, per registered migration, whether it is applied and its
// last checkpoint.
func (m *DataMigrator) Stats(ctx context.Context) ([]MigrationStat, error) {
	ids := make([]string, 0, len(m.Migrations))
	for id := range m.Migrations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]MigrationStat, 0, len(ids))
	for _, id := range ids {
		applied, err := m.isApplied(ctx, id)
		if err != nil {
			return nil, err
		}
		prog, err := m.Progress(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, MigrationStat{ID: id, Applied: applied, Progress: prog})
	}
	return out, nil
}

// SchemaDrift reports a datetime field whose server-side index kind no
// longer matches what the in-memory schema expects, per spec.md §4.9's
// schema-mismatch detection.
type SchemaDrift struct {
	Record       string
	Field        string
	ServerKind   string
	ExpectedKind string
	Index        string
}

func datetimeFields(schema *CompiledSchema) []IndexField {
	var out []IndexField
	for _, f := range schema.Fields {
		if f.DeclaredType == TypeDateTime || f.DeclaredType == TypeDate {
			out = append(out, f)
		}
	}
	return out
}

func sortedSchemaNames(registry map[string]*CompiledSchema) []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckSchema queries FT.INFO for every registered record type and flags a
// drift record for each datetime field the server still reports as TAG
// while the in-memory schema expects NUMERIC — the signal that the
// datetime-transition data migration has not yet run (spec.md §4.9).
func (m *DataMigrator) CheckSchema(ctx context.Context, registry map[string]*CompiledSchema) ([]SchemaDrift, error) {
	var drifts []SchemaDrift
	for _, name := range sortedSchemaNames(registry) {
		schema := registry[name]
		reply, err := m.Conn.Do(ctx, "FT.INFO", IndexName(schema.Meta)).Result()
		if err != nil {
			return nil, capabilityMissing("search", err)
		}
		serverKinds := parseFTInfoAttributeKinds(reply)
		for _, f := range datetimeFields(schema) {
			serverKind, ok := serverKinds[f.Name]
			if ok && serverKind == "TAG" && f.Kind == KindNumeric {
				drifts = append(drifts, SchemaDrift{
					Record: name, Field: f.Name, ServerKind: serverKind,
					ExpectedKind: f.Kind.String(), Index: IndexName(schema.Meta),
				})
			}
		}
	}
	return drifts, nil
}

// parseFTInfoAttributeKinds extracts {field identifier: server TYPE} from a
// raw FT.INFO reply, whose shape is a flat key/value array with an
// "attributes" entry holding one flat key/value array per indexed field.
func parseFTInfoAttributeKinds(reply any) map[string]string {
	arr, ok := reply.([]interface{})
	if !ok {
		return nil
	}
	for i := 0; i+1 < len(arr); i += 2 {
		key, _ := arr[i].(string)
		if key != "attributes" {
			continue
		}
		attrs, ok := arr[i+1].([]interface{})
		if !ok {
			return nil
		}
		out := map[string]string{}
		for _, a := range attrs {
			pairs, ok := a.([]interface{})
			if !ok {
				continue
			}
			m := map[string]string{}
			for j := 0; j+1 < len(pairs); j += 2 {
				m[fmt.Sprint(pairs[j])] = fmt.Sprint(pairs[j+1])
			}
			name := m["attribute"]
			if name == "" {
				name = m["identifier"]
			}
			if name != "" {
				out[name] = m["type"]
			}
		}
		return out
	}
	return nil
}

// VerifyReport is DataMigrator.Verify's result: schema drift plus, when
// checkData was requested, the sampled keys whose stored datetime fields
// decode under neither tolerated form.
type VerifyReport struct {
	Drifts          []SchemaDrift
	UndecodableKeys map[string][]string
}

// Verify runs CheckSchema and, if checkData is true, additionally samples
// up to sampleSize keys per record type and checks that every stored
// datetime field parses under the value codec's tolerant decode, per
// SPEC_FULL.md §4's "migrate-data verify --check-data" supplement.
func (m *DataMigrator) Verify(ctx context.Context, registry map[string]*CompiledSchema, checkData bool, sampleSize int) (VerifyReport, error) {
	drifts, err := m.CheckSchema(ctx, registry)
	if err != nil {
		return VerifyReport{}, err
	}
	report := VerifyReport{Drifts: drifts}
	if !checkData {
		return report, nil
	}
	if sampleSize <= 0 {
		sampleSize = 100
	}
	report.UndecodableKeys = map[string][]string{}

	for _, name := range sortedSchemaNames(registry) {
		schema := registry[name]
		dtFields := datetimeFields(schema)
		if len(dtFields) == 0 {
			continue
		}
		keys, _, err := m.Conn.Scan(ctx, 0, AllKeysPattern(schema.Meta), int64(sampleSize)).Result()
		if err != nil {
			return report, &ConnectionError{Op: "SCAN", Err: err}
		}
		for _, key := range keys {
			if m.hasUndecodableDatetime(ctx, schema, dtFields, key) {
				report.UndecodableKeys[name] = append(report.UndecodableKeys[name], key)
			}
		}
	}
	return report, nil
}

func (m *DataMigrator) hasUndecodableDatetime(ctx context.Context, schema *CompiledSchema, dtFields []IndexField, key string) bool {
	for _, f := range dtFields {
		var raw string
		switch schema.Layout {
		case Hash:
			v, err := m.Conn.HGet(ctx, key, f.Name).Result()
			if err != nil {
				continue
			}
			raw = v
		case Document:
			v, err := m.Conn.Do(ctx, "JSON.GET", key, "$."+strings.Join(f.Path, ".")).Result()
			if err != nil {
				continue
			}
			s, _ := v.(string)
			raw = gjson.Parse(s).Get("0").String()
		}
		if raw == "" || isNumericLiteral(raw) {
			continue
		}
		if _, err := decodeTimeTolerant(raw); err != nil {
			return true
		}
	}
	return false
}

func isNumericLiteral(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// BuiltinDatetimeMigrations returns one DataMigration per registered record
// type implementing spec.md §4.9's built-in datetime transition: for every
// declared datetime field, rewrite an ISO-8601-encoded value to numeric
// seconds-since-epoch, skipping values already numeric (idempotent).
// idPrefix namespaces the generated ids, e.g. "20240101_000000_datetime".
func BuiltinDatetimeMigrations(idPrefix string, registry map[string]*CompiledSchema) []*DataMigration {
	var out []*DataMigration
	for _, name := range sortedSchemaNames(registry) {
		schema := registry[name]
		dtFields := datetimeFields(schema)
		if len(dtFields) == 0 {
			continue
		}
		out = append(out, &DataMigration{
			ID:          idPrefix + "_" + name,
			Description: "convert ISO-8601 datetime fields on " + name + " to numeric seconds-since-epoch",
			KeyPattern:  AllKeysPattern(schema.Meta),
			Up:          datetimeTransitionUp(schema, dtFields),
		})
	}
	return out
}

func datetimeTransitionUp(schema *CompiledSchema, dtFields []IndexField) func(context.Context, Conn, string) error {
	return func(ctx context.Context, conn Conn, key string) error {
		switch schema.Layout {
		case Hash:
			for _, f := range dtFields {
				raw, err := conn.HGet(ctx, key, f.Name).Result()
				if errors.Is(err, redis.Nil) {
					continue
				}
				if err != nil {
					return err
				}
				if isNumericLiteral(raw) {
					continue
				}
				t, err := decodeTimeTolerant(raw)
				if err != nil {
					return fmt.Errorf("field %s: %w", f.Name, err)
				}
				canon := strconv.FormatFloat(encodeEpochSeconds(f.DeclaredType, t), 'f', -1, 64)
				if err := conn.HSet(ctx, key, f.Name, canon).Err(); err != nil {
					return err
				}
			}
			return nil
		case Document:
			raw, err := conn.Do(ctx, "JSON.GET", key, "$").Result()
			if err != nil {
				return err
			}
			body, ok := raw.(string)
			if !ok || body == "" {
				return nil
			}
			doc, err := firstJSONArrayElement(body)
			if err != nil {
				return err
			}
			changed := false
			for _, f := range dtFields {
				path := strings.Join(f.Path, ".")
				res := gjson.GetBytes(doc, path)
				if !res.Exists() || res.Type == gjson.Number {
					continue
				}
				t, err := decodeTimeTolerant(res.String())
				if err != nil {
					return fmt.Errorf("field %s: %w", f.Name, err)
				}
				canon := encodeEpochSeconds(f.DeclaredType, t)
				doc, err = sjson.SetBytes(doc, path, canon)
				if err != nil {
					return err
				}
				changed = true
			}
			if !changed {
				return nil
			}
			return conn.Do(ctx, "JSON.SET", key, "$", string(doc)).Err()
		default:
			return nil
		}
	}
}
