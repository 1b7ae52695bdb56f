package redisom

import "testing"

func testMeta() Meta {
	return Meta{GlobalKeyPrefix: "app", ModelKeyPrefix: "user"}
}

func TestKeyBuildsPrefixedKey(t *testing.T) {
	if got, want := Key(testMeta(), "abc"), "app:user:abc"; got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
}

func TestKeyHonorsPrimaryKeyPattern(t *testing.T) {
	m := testMeta()
	m.PrimaryKeyPattern = "pk-%s"
	if got, want := Key(m, "abc"), "app:user:pk-abc"; got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
}

func TestKeyOmitsEmptyGlobalPrefix(t *testing.T) {
	m := Meta{ModelKeyPrefix: "user"}
	if got, want := Key(m, "abc"), "user:abc"; got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
}

func TestIndexNameDefaultAndOverride(t *testing.T) {
	if got, want := IndexName(testMeta()), "app:user:index"; got != want {
		t.Fatalf("IndexName = %q, want %q", got, want)
	}
	m := testMeta()
	m.IndexNameOverride = "custom-index"
	if got, want := IndexName(m), "custom-index"; got != want {
		t.Fatalf("IndexName override = %q, want %q", got, want)
	}
}

func TestSchemaHashKey(t *testing.T) {
	if got, want := SchemaHashKey(testMeta()), "app:user:hash"; got != want {
		t.Fatalf("SchemaHashKey = %q, want %q", got, want)
	}
}

func TestAllKeysPatternAndKeyPrefix(t *testing.T) {
	if got, want := AllKeysPattern(testMeta()), "app:user:*"; got != want {
		t.Fatalf("AllKeysPattern = %q, want %q", got, want)
	}
	if got, want := KeyPrefix(testMeta()), "app:user:"; got != want {
		t.Fatalf("KeyPrefix = %q, want %q", got, want)
	}
}

func TestAllocatePKUsesConfiguredGenerator(t *testing.T) {
	m := testMeta()
	m.PrimaryKeyCreator = constPKGenerator{value: "fixed-pk"}
	if got, want := AllocatePK(m), "fixed-pk"; got != want {
		t.Fatalf("AllocatePK = %q, want %q", got, want)
	}
}

func TestAllocatePKDefaultsToULIDGenerator(t *testing.T) {
	pk := AllocatePK(testMeta())
	if len(pk) != 26 {
		t.Fatalf("expected a 26-character ULID, got %q (len %d)", pk, len(pk))
	}
}

type constPKGenerator struct{ value string }

func (g constPKGenerator) Allocate() string { return g.value }

func TestReservedKeyHelpers(t *testing.T) {
	if migrationProgressKey("abc") != "redisom:migrations:progress:abc" {
		t.Fatalf("migrationProgressKey = %q", migrationProgressKey("abc"))
	}
	if migrationsAppliedKey != "redisom:migrations:applied" {
		t.Fatalf("migrationsAppliedKey = %q", migrationsAppliedKey)
	}
	if dataMigrationsAppliedKey != "redisom:data-migrations:applied" {
		t.Fatalf("dataMigrationsAppliedKey = %q", dataMigrationsAppliedKey)
	}
}
