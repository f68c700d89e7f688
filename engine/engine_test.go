package engine

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/vmlink/vmlink/errors"
	"github.com/vmlink/vmlink/guest"
)

func TestConfigDefaults(t *testing.T) {
	cfg := (*Config)(nil).withDefaults()
	if cfg.EntryExport != "_start" {
		t.Fatalf("EntryExport = %q", cfg.EntryExport)
	}
	if cfg.PollIOExport != "poll_io" || cfg.PollTimersExport != "poll_timers" {
		t.Fatalf("poll exports = %q/%q", cfg.PollIOExport, cfg.PollTimersExport)
	}
	if cfg.Stdout == nil || cfg.Stderr == nil {
		t.Fatal("output writers must default to discard")
	}
}

func TestLifecycleGuards(t *testing.T) {
	ctx := context.Background()
	e := New(nil)

	if err := e.Load(ctx, []byte{0}); !errors.IsKind(err, errors.KindInvalidState) {
		t.Fatalf("Load before Initialize: %v", err)
	}
	if err := e.CallEntry(ctx); !errors.IsKind(err, errors.KindInvalidState) {
		t.Fatalf("CallEntry before Load: %v", err)
	}
	if _, err := e.Call(ctx, "f", nil); !errors.IsKind(err, errors.KindInvalidState) {
		t.Fatalf("Call before Load: %v", err)
	}
	if e.EventSource(guest.SourceAsyncIO) != nil {
		t.Fatal("event source before Load must be nil")
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close on fresh engine: %v", err)
	}
}

func TestInitializeAndBadModule(t *testing.T) {
	ctx := context.Background()
	e := New(nil)

	if err := e.Initialize(ctx, nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer e.Close(ctx)

	if err := e.Initialize(ctx, nil); !errors.IsKind(err, errors.KindInvalidState) {
		t.Fatalf("double Initialize: %v", err)
	}

	err := e.Load(ctx, []byte("not wasm"))
	if !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("expected invalid_input for garbage module, got %v", err)
	}
}

func TestEncodeParams(t *testing.T) {
	i32 := []api.ValueType{api.ValueTypeI32}
	i64 := []api.ValueType{api.ValueTypeI64}
	f64 := []api.ValueType{api.ValueTypeF64}

	tests := []struct {
		name    string
		types   []api.ValueType
		payload any
		want    []uint64
		wantErr bool
	}{
		{"nil for nullary", nil, nil, nil, false},
		{"nil with params", i64, nil, nil, true},
		{"int to i64", i64, 7, []uint64{7}, false},
		{"int to i32 masks", i32, -1, []uint64{0xFFFFFFFF}, false},
		{"float64", f64, 1.0, []uint64{api.EncodeF64(1.0)}, false},
		{"bool true", i32, true, []uint64{1}, false},
		{"raw words", []api.ValueType{api.ValueTypeI64, api.ValueTypeI64}, []uint64{1, 2}, []uint64{1, 2}, false},
		{"raw words wrong arity", i64, []uint64{1, 2}, nil, true},
		{"scalar for multi-param", []api.ValueType{api.ValueTypeI64, api.ValueTypeI64}, 1, nil, true},
		{"unsupported type", i64, "text", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeParams(tt.types, tt.payload)
			if tt.wantErr {
				if !errors.IsKind(err, errors.KindInvalidInput) {
					t.Fatalf("expected invalid_input, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("encodeParams failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("word %d = %#x, want %#x", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecodeResults(t *testing.T) {
	if got := decodeResults(nil, nil); got != nil {
		t.Fatalf("no results should decode to nil, got %v", got)
	}
	if got := decodeResults([]api.ValueType{api.ValueTypeI32}, []uint64{0xFFFFFFFF}); got != int32(-1) {
		t.Fatalf("i32 decode = %v", got)
	}
	if got := decodeResults([]api.ValueType{api.ValueTypeI64}, []uint64{42}); got != int64(42) {
		t.Fatalf("i64 decode = %v", got)
	}
	if got := decodeResults([]api.ValueType{api.ValueTypeF64}, []uint64{api.EncodeF64(2.5)}); got != 2.5 {
		t.Fatalf("f64 decode = %v", got)
	}
	multi := decodeResults([]api.ValueType{api.ValueTypeI64, api.ValueTypeI64}, []uint64{1, 2})
	words, ok := multi.([]uint64)
	if !ok || len(words) != 2 {
		t.Fatalf("multi-value decode = %v", multi)
	}
}
