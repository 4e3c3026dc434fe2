package isamdb

import (
	"github.com/isamdb/isamdb/engine"
	"github.com/isamdb/isamdb/record"
	"github.com/isamdb/isamdb/schema"
)

// Errors re-exported from the engine layer. Engine failures carry their
// raw code as *EngineError; errors.Is matches them against the
// sentinels.
var (
	ErrNoRecord      = engine.ErrNoRecord
	ErrNotOpen       = engine.ErrNotOpen
	ErrOpened        = engine.ErrOpened
	ErrNotWritable   = engine.ErrNotWritable
	ErrDuplicateKey  = engine.ErrDuplicateKey
	ErrIndexMissing  = engine.ErrIndexMissing
	ErrLocked        = engine.ErrLocked
	ErrNoCurrent     = engine.ErrNoCurrent
	ErrUnknownEngine = engine.ErrUnknownEngine
)

// EngineError is an opaque engine failure with its raw code.
type EngineError = engine.Error

// SchemaError reports an invalid table definition.
type SchemaError = schema.SchemaError

// EncodingError reports a value that does not fit its column.
type EncodingError = record.EncodingError
