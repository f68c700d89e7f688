package engine

import (
	"context"
	"io"
	"math"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/vmlink/vmlink/errors"
	"github.com/vmlink/vmlink/guest"
)

// Config holds configuration for engine creation.
type Config struct {
	// MemoryLimitPages sets the maximum guest memory in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// Stdout and Stderr receive the guest's output. nil discards.
	Stdout io.Writer
	Stderr io.Writer

	// EntryExport is the exported function run by CallEntry.
	// Defaults to "_start".
	EntryExport string

	// PollIOExport and PollTimersExport name the exported functions backing
	// the two event sources. A module that does not export one simply has
	// no source of that kind. Defaults: "poll_io", "poll_timers".
	PollIOExport     string
	PollTimersExport string
}

func (c *Config) withDefaults() Config {
	cfg := Config{}
	if c != nil {
		cfg = *c
	}
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	if cfg.Stderr == nil {
		cfg.Stderr = io.Discard
	}
	if cfg.EntryExport == "" {
		cfg.EntryExport = "_start"
	}
	if cfg.PollIOExport == "" {
		cfg.PollIOExport = "poll_io"
	}
	if cfg.PollTimersExport == "" {
		cfg.PollTimersExport = "poll_timers"
	}
	return cfg
}

// Engine is a wazero-backed guest executor. Targets map to the module's
// exported functions; the two event sources map to optional poll exports.
//
// Engine is not safe for concurrent use: the embedding core guarantees a
// single owner thread.
type Engine struct {
	cfg     Config
	runtime wazero.Runtime
	module  api.Module
	args    []string

	excMu   sync.Mutex
	lastExc string

	sources [2]guest.EventSource
}

var _ guest.Executor = (*Engine)(nil)

// New creates an engine. The wazero runtime itself comes up in Initialize.
func New(cfg *Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Initialize implements guest.Executor. It creates the wazero runtime and
// instantiates WASI.
func (e *Engine) Initialize(ctx context.Context, args []string) error {
	if e.runtime != nil {
		return errors.InvalidState(errors.PhaseLifecycle, "an initialized engine", "a fresh engine")
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if e.cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return errors.Load("instantiate WASI", err)
	}

	e.runtime = rt
	e.args = args
	Logger().Debug("engine initialized", zap.Strings("args", args))
	return nil
}

// Load implements guest.Executor. It compiles and instantiates the module
// without running its start function; CallEntry runs the entry explicitly.
func (e *Engine) Load(ctx context.Context, source []byte) error {
	if e.runtime == nil {
		return errors.InvalidState(errors.PhaseLoad, "an uninitialized engine", "Initialize first")
	}
	if e.module != nil {
		return errors.InvalidState(errors.PhaseLoad, "a loaded module", "an empty engine")
	}

	compiled, err := e.runtime.CompileModule(ctx, source)
	if err != nil {
		return errors.Load("compile module", err)
	}

	moduleCfg := wazero.NewModuleConfig().
		WithStdout(e.cfg.Stdout).
		WithStderr(e.cfg.Stderr).
		WithArgs(append([]string{"guest"}, e.args...)...).
		WithStartFunctions(). // entry runs via CallEntry, not on instantiate
		WithName("")

	module, err := e.runtime.InstantiateModule(ctx, compiled, moduleCfg)
	if err != nil {
		return errors.Load("instantiate module", err)
	}

	e.module = module
	e.sources[guest.SourceAsyncIO] = e.pollSource("async_io", e.cfg.PollIOExport)
	e.sources[guest.SourceTimers] = e.pollSource("timers", e.cfg.PollTimersExport)

	Logger().Debug("module loaded",
		zap.Int("bytes", len(source)),
		zap.Bool("async_io", e.sources[guest.SourceAsyncIO] != nil),
		zap.Bool("timers", e.sources[guest.SourceTimers] != nil))
	return nil
}

func (e *Engine) pollSource(name, export string) guest.EventSource {
	fn := e.module.ExportedFunction(export)
	if fn == nil {
		return nil
	}
	return &wasmSource{name: name, fn: fn}
}

// CallEntry implements guest.Executor.
func (e *Engine) CallEntry(ctx context.Context) error {
	if e.module == nil {
		return errors.InvalidState(errors.PhaseLifecycle, "an empty engine", "a loaded module")
	}
	entry := e.module.ExportedFunction(e.cfg.EntryExport)
	if entry == nil {
		// A library-style module with no entry export is fine.
		Logger().Debug("no entry export", zap.String("export", e.cfg.EntryExport))
		return nil
	}
	if _, err := entry.Call(ctx); err != nil {
		e.setLastException(err.Error())
		return &guest.Exception{Message: err.Error()}
	}
	return nil
}

// Call implements guest.Executor. Payloads are coerced at the i64 level:
// richer conversion belongs to the marshaling layer, not this core.
func (e *Engine) Call(ctx context.Context, target string, payload any) (any, error) {
	if e.module == nil {
		return nil, errors.InvalidState(errors.PhaseCall, "an empty engine", "a loaded module")
	}
	fn := e.module.ExportedFunction(target)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseCall, "export", target)
	}

	params, err := encodeParams(fn.Definition().ParamTypes(), payload)
	if err != nil {
		return nil, err
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		e.setLastException(err.Error())
		return nil, &guest.Exception{Message: err.Error()}
	}

	return decodeResults(fn.Definition().ResultTypes(), results), nil
}

// LastException implements guest.Executor.
func (e *Engine) LastException() string {
	e.excMu.Lock()
	defer e.excMu.Unlock()
	return e.lastExc
}

func (e *Engine) setLastException(text string) {
	e.excMu.Lock()
	e.lastExc = text
	e.excMu.Unlock()
}

// EventSource implements guest.Executor.
func (e *Engine) EventSource(kind guest.SourceKind) guest.EventSource {
	if int(kind) < 0 || int(kind) >= len(e.sources) {
		return nil
	}
	return e.sources[kind]
}

// Close implements guest.Executor.
func (e *Engine) Close(ctx context.Context) error {
	if e.runtime == nil {
		return nil
	}
	err := e.runtime.Close(ctx)
	e.runtime = nil
	e.module = nil
	return err
}

// wasmSource polls one exported nullary function.
type wasmSource struct {
	name string
	fn   api.Function
}

func (s *wasmSource) Name() string { return s.name }

func (s *wasmSource) PollOnce(ctx context.Context) error {
	_, err := s.fn.Call(ctx)
	return err
}

// encodeParams coerces an opaque payload onto a function's parameter list.
// Accepted payloads: nil (no params), a single numeric value, or a []uint64
// of pre-encoded words.
func encodeParams(paramTypes []api.ValueType, payload any) ([]uint64, error) {
	if payload == nil {
		if len(paramTypes) != 0 {
			return nil, errors.InvalidInput(errors.PhaseCall, "target expects parameters, payload is nil")
		}
		return nil, nil
	}

	if words, ok := payload.([]uint64); ok {
		if len(words) != len(paramTypes) {
			return nil, errors.InvalidInput(errors.PhaseCall, "payload word count does not match target signature")
		}
		return words, nil
	}

	if len(paramTypes) != 1 {
		return nil, errors.InvalidInput(errors.PhaseCall, "scalar payload for a multi-parameter target")
	}

	var word uint64
	switch value := payload.(type) {
	case int:
		word = api.EncodeI64(int64(value))
	case int32:
		word = api.EncodeI32(value)
	case int64:
		word = api.EncodeI64(value)
	case uint32:
		word = uint64(value)
	case uint64:
		word = value
	case float32:
		word = api.EncodeF32(value)
	case float64:
		word = api.EncodeF64(value)
	case bool:
		if value {
			word = 1
		}
	default:
		return nil, errors.InvalidInput(errors.PhaseCall, "unsupported payload type; use the marshaling layer")
	}

	if paramTypes[0] == api.ValueTypeI32 {
		word = word & math.MaxUint32
	}
	return []uint64{word}, nil
}

// decodeResults converts raw result words into a Go value: nil for none, a
// typed scalar for one, and the raw words for multi-value returns.
func decodeResults(resultTypes []api.ValueType, results []uint64) any {
	if len(results) == 0 {
		return nil
	}
	if len(results) > 1 {
		return results
	}

	switch resultTypes[0] {
	case api.ValueTypeI32:
		return api.DecodeI32(results[0])
	case api.ValueTypeI64:
		return int64(results[0])
	case api.ValueTypeF32:
		return api.DecodeF32(results[0])
	case api.ValueTypeF64:
		return api.DecodeF64(results[0])
	default:
		return results[0]
	}
}
