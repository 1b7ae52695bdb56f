package redisom

import (
	"reflect"
	"testing"
)

func TestParseSearchReply(t *testing.T) {
	tests := []struct {
		name      string
		reply     any
		wantTotal int64
		wantDocs  []searchDoc
		wantErr   bool
	}{
		{
			name:      "empty result set",
			reply:     []interface{}{int64(0)},
			wantTotal: 0,
			wantDocs:  nil,
		},
		{
			name: "single document",
			reply: []interface{}{
				int64(1),
				"app:user:abc",
				[]interface{}{"name", "ada", "age", "42"},
			},
			wantTotal: 1,
			wantDocs: []searchDoc{
				{id: "app:user:abc", fields: map[string]string{"name": "ada", "age": "42"}},
			},
		},
		{
			name: "multiple documents",
			reply: []interface{}{
				int64(2),
				"app:user:a",
				[]interface{}{"name", "a"},
				"app:user:b",
				[]interface{}{"name", "b"},
			},
			wantTotal: 2,
			wantDocs: []searchDoc{
				{id: "app:user:a", fields: map[string]string{"name": "a"}},
				{id: "app:user:b", fields: map[string]string{"name": "b"}},
			},
		},
		{
			name:    "unexpected reply shape",
			reply:   "not-an-array",
			wantErr: true,
		},
		{
			name:    "empty array",
			reply:   []interface{}{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, docs, err := parseSearchReply(tt.reply)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSearchReply: %v", err)
			}
			if total != tt.wantTotal {
				t.Fatalf("total = %d, want %d", total, tt.wantTotal)
			}
			if !reflect.DeepEqual(docs, tt.wantDocs) {
				t.Fatalf("docs = %+v, want %+v", docs, tt.wantDocs)
			}
		})
	}
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{name: "int64", in: int64(42), want: 42},
		{name: "int", in: 7, want: 7},
		{name: "numeric string", in: "123", want: 123},
		{name: "non-numeric string", in: "abc", wantErr: true},
		{name: "unsupported type", in: 3.14, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toInt64(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("toInt64: %v", err)
			}
			if got != tt.want {
				t.Fatalf("toInt64(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func Benchmark_parseSearchReply(b *testing.B) {
	reply := []interface{}{
		int64(1),
		"app:user:abc",
		[]interface{}{"name", "ada", "age", "42"},
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, _, err := parseSearchReply(reply); err != nil {
			b.Fatal(err)
		}
	}
}
