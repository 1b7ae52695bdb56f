package redisom

import "testing"

func TestMetaWithDefaults(t *testing.T) {
	m := Meta{}.WithDefaults()
	if m.PrimaryKeyPattern != "%s" {
		t.Fatalf("PrimaryKeyPattern = %q, want \"%%s\"", m.PrimaryKeyPattern)
	}
	if m.PrimaryKeyCreator == nil {
		t.Fatal("expected a default PrimaryKeyCreator")
	}
	if m.Encoding != "utf-8" {
		t.Fatalf("Encoding = %q, want \"utf-8\"", m.Encoding)
	}
}

func TestMetaWithDefaultsPreservesSetFields(t *testing.T) {
	gen := constPKGenerator{value: "x"}
	m := Meta{PrimaryKeyPattern: "pk-%s", PrimaryKeyCreator: gen, Encoding: "latin1"}.WithDefaults()
	if m.PrimaryKeyPattern != "pk-%s" {
		t.Fatalf("PrimaryKeyPattern overwritten: %q", m.PrimaryKeyPattern)
	}
	if m.PrimaryKeyCreator != gen {
		t.Fatal("PrimaryKeyCreator overwritten")
	}
	if m.Encoding != "latin1" {
		t.Fatalf("Encoding overwritten: %q", m.Encoding)
	}
}

func TestInheritFillsZeroValuedFields(t *testing.T) {
	parent := Meta{GlobalKeyPrefix: "app", ModelKeyPrefix: "base", Encoding: "utf-8"}
	child := Meta{ModelKeyPrefix: "child"}
	out := Inherit(parent, child)
	if out.GlobalKeyPrefix != "app" {
		t.Fatalf("GlobalKeyPrefix = %q, want inherited \"app\"", out.GlobalKeyPrefix)
	}
	if out.ModelKeyPrefix != "child" {
		t.Fatalf("ModelKeyPrefix = %q, want child's own \"child\"", out.ModelKeyPrefix)
	}
	if out.Encoding != "utf-8" {
		t.Fatalf("Encoding = %q, want inherited \"utf-8\"", out.Encoding)
	}
}

func TestStorageLayoutString(t *testing.T) {
	if Hash.String() != "HASH" {
		t.Fatalf("Hash.String() = %q, want HASH", Hash.String())
	}
	if Document.String() != "JSON" {
		t.Fatalf("Document.String() = %q, want JSON", Document.String())
	}
}
