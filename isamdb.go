package isamdb

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/isamdb/isamdb/engine"
	"github.com/isamdb/isamdb/engine/memtree"
	"github.com/isamdb/isamdb/engine/pebbleng"
	"github.com/isamdb/isamdb/record"
	"github.com/isamdb/isamdb/schema"
)

// Row maps column names to values, as in package record.
type Row = record.Row

// Modes re-exported from the engine layer.
type (
	OpenMode = engine.OpenMode
	LockMode = engine.LockMode
	ReadMode = engine.ReadMode
)

const (
	ReadOnly  = engine.ReadOnly
	ReadWrite = engine.ReadWrite
	Exclusive = engine.Exclusive

	LockNone   = engine.LockNone
	LockWait   = engine.LockWait
	LockNoWait = engine.LockNoWait

	First          = engine.First
	Last           = engine.Last
	Next           = engine.Next
	Previous       = engine.Previous
	Current        = engine.Current
	Equal          = engine.Equal
	Greater        = engine.Greater
	GreaterOrEqual = engine.GreaterOrEqual
)

// EngineEnv is the environment variable forcing the engine family.
const EngineEnv = "ISAMDB_ENGINE"

var binding struct {
	once sync.Once
	eng  engine.Engine
	err  error
}

// Bind resolves the process-wide engine family. The first call decides:
// the family named by the ISAMDB_ENGINE environment variable when set,
// the pebble family otherwise. Subsequent calls return the same engine.
func Bind() (engine.Engine, error) {
	binding.once.Do(func() {
		binding.eng, binding.err = bindEngine(os.Getenv(EngineEnv))
	})
	return binding.eng, binding.err
}

func bindEngine(name string) (engine.Engine, error) {
	switch name {
	case "":
		return pebbleng.New(pebbleng.Options{}), nil
	case "pebble":
		return pebbleng.New(pebbleng.Options{}), nil
	case "memory":
		return memtree.New(), nil
	}
	return nil, errors.Wrapf(engine.ErrUnknownEngine, "%q", name)
}

// Options tunes Open and Build.
type Options struct {
	// Mode is the open mode, ReadOnly by default.
	Mode OpenMode

	// Lock is the lock acquired at open time, none by default.
	Lock LockMode

	// Engine overrides the process-wide bound engine. Tests and
	// embedders use it to pin a family per table.
	Engine engine.Engine
}

func (o Options) engine() (engine.Engine, error) {
	if o.Engine != nil {
		return o.Engine, nil
	}
	return Bind()
}

// Open opens an existing table under the given definition. The record
// length stored in the table must match the definition; when the handle
// is writable, secondary indexes declared by the definition but missing
// from the table are created.
func Open(path string, def *schema.Definition, opts Options) (*Table, error) {
	eng, err := opts.engine()
	if err != nil {
		return nil, err
	}

	h, err := eng.Open(path, opts.Mode, opts.Lock)
	if err != nil {
		return nil, err
	}

	t, err := newTable(path, def, h, eng)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	if opts.Mode != ReadOnly {
		if err := t.ensureIndexes(); err != nil {
			_ = h.Close()
			return nil, err
		}
	}
	return t, nil
}

// Build creates the table described by def, replacing any previous
// table at the same path, and returns it open in exclusive mode.
func Build(path string, def *schema.Definition, opts Options) (*Table, error) {
	eng, err := opts.engine()
	if err != nil {
		return nil, err
	}

	primary, err := def.Keydesc(def.Primary().Name)
	if err != nil {
		return nil, err
	}

	h, err := eng.Build(path, def.RecordLength(), primary)
	if err != nil {
		return nil, err
	}

	t, err := newTable(path, def, h, eng)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	if err := t.ensureIndexes(); err != nil {
		_ = h.Close()
		return nil, err
	}
	return t, nil
}

// Erase removes a table that is not currently open.
func Erase(path string, opts Options) error {
	eng, err := opts.engine()
	if err != nil {
		return err
	}
	return eng.Erase(path)
}
