package redisom

import "fmt"

// ReservedPrefix namespaces the migration-engine's own bookkeeping keys
// (applied-set, progress checkpoints), per spec.md §6.3's
// "{reserved_prefix}:migrations:..." pattern.
const ReservedPrefix = "redisom"

// migrationsAppliedKey is the dedicated set schema migrations record
// themselves into once applied, per spec.md §4.8/§6.3.
const migrationsAppliedKey = ReservedPrefix + ":migrations:applied"

// dataMigrationsAppliedKey is the equivalent applied-set for data
// migrations (C9), kept separate from the schema migrator's set since the
// two migration kinds have disjoint id spaces.
const dataMigrationsAppliedKey = ReservedPrefix + ":data-migrations:applied"

// migrationProgressKey is the checkpoint key a data migration's progress is
// persisted under, per spec.md §4.9/§6.3.
func migrationProgressKey(migrationID string) string {
	return fmt.Sprintf("%s:migrations:progress:%s", ReservedPrefix, migrationID)
}

// Key builds the record key for a given primary key: "{global}:{model}:{pk}"
// with the primary-key pattern applied, per spec.md §3.2/§6.3.
func Key(m Meta, pk string) string {
	m = m.WithDefaults()
	return m.prefixPath() + ":" + fmt.Sprintf(m.PrimaryKeyPattern, pk)
}

// AllocatePK allocates a new primary key via m's configured generator
// without a server round trip, per spec.md §3.5.
func AllocatePK(m Meta) string {
	m = m.WithDefaults()
	return m.PrimaryKeyCreator.Allocate()
}

// IndexName returns the name to create/query the index under: the override
// if set, else "{global}:{model}:index" per spec.md §3.6.
func IndexName(m Meta) string {
	m = m.WithDefaults()
	if m.IndexNameOverride != "" {
		return m.IndexNameOverride
	}
	return m.prefixPath() + ":index"
}

// SchemaHashKey returns the key the compiled-schema fingerprint is persisted
// under: "{global}:{model}:hash" per spec.md §3.6/§6.3.
func SchemaHashKey(m Meta) string {
	m = m.WithDefaults()
	return m.prefixPath() + ":hash"
}

// AllKeysPattern returns the glob pattern matching every record key of this
// type, e.g. for SCAN MATCH during data migrations.
func AllKeysPattern(m Meta) string {
	m = m.WithDefaults()
	return m.prefixPath() + ":*"
}

// KeyPrefix returns the bare "{global}:{model}:" prefix used as the index's
// PREFIX argument in FT.CREATE.
func KeyPrefix(m Meta) string {
	m = m.WithDefaults()
	return m.prefixPath() + ":"
}
