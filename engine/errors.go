package engine

import (
	"fmt"
	"syscall"

	"github.com/cockroachdb/errors"
)

// Errors shared by every engine family. Engine failures carrying a raw
// code are reported as *Error values; errors.Is matches them against
// these sentinels through Error.Is.
var (
	// ErrNoRecord is returned when a read matches nothing. It is
	// expected, recoverable control flow marking the end of a sequence
	// and must never be conflated with an opaque engine failure.
	ErrNoRecord = errors.New("no record found")

	// ErrNotOpen is returned when operating on a closed table or when
	// an open is rejected by the engine.
	ErrNotOpen = errors.New("table not open")

	// ErrOpened is returned when building or erasing a table that is
	// currently open.
	ErrOpened = errors.New("table already open")

	// ErrNotWritable is returned by write operations on a read-only handle.
	ErrNotWritable = errors.New("table not opened for writing")

	// ErrDuplicateKey is returned when a write violates a primary or
	// unique index.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrIndexMissing is returned when a referenced index is not
	// defined on the table.
	ErrIndexMissing = errors.New("index not defined on table")

	// ErrLocked is returned by no-wait lock requests on contention.
	ErrLocked = errors.New("record or table locked")

	// ErrNoCurrent is returned by operations requiring a current record
	// when none is established.
	ErrNoCurrent = errors.New("no current record")

	// ErrUnknownEngine is returned when binding an engine family that
	// does not exist.
	ErrUnknownEngine = errors.New("unknown engine family")

	// ErrKeyNotFound is returned by Store.Get and Store.Delete for
	// absent keys. It never escapes the engine layer.
	ErrKeyNotFound = errors.New("key not found")
)

// Raw engine codes. Families share the classic ISAM code space starting
// at CodeBase; codes below it are host errno values.
const (
	CodeBase = 100

	EDUPL    = 100 // duplicate record
	ENOTOPEN = 101 // file not open
	EBADARG  = 102 // illegal argument
	EBADKEY  = 103 // bad key descriptor
	ETOOMANY = 104 // too many files open
	EBADFILE = 105 // corrupted file
	ENOTEXCL = 106 // exclusive access denied
	ELOCKED  = 107 // record or file locked
	EKEXISTS = 108 // index already exists
	EPRIMKEY = 109 // is primary index
	EENDFILE = 110 // end or beginning of file
	ENOREC   = 111 // record not found
	ENOCURR  = 112 // no current record
	EFLOCKED = 113 // file is in use
	EBADMEM  = 116 // cannot allocate memory
	ENOTRANS = 122 // no transaction
	ENOPRIM  = 127 // no primary key
)

// Messages is the canonical message table of the classic ISAM code
// space, indexed from CodeBase. Families declare the leading slice of
// it they implement.
var Messages = []string{
	"Duplicate record",       // 100
	"File not open",          // 101
	"Illegal argument",       // 102
	"Bad key descriptor",     // 103
	"Too many files",         // 104
	"Corrupted isam file",    // 105
	"Need exclusive access",  // 106
	"Record or file locked",  // 107
	"Index already exists",   // 108
	"Primary index",          // 109
	"End of file",            // 110
	"Record not found",       // 111
	"No current record",      // 112
	"File is in use",         // 113
	"File name too long",     // 114
	"Bad lock device",        // 115
	"Can't allocate memory",  // 116
	"",                       // 117
	"Can't read log record",  // 118
	"Bad log record",         // 119
	"Can't open log file",    // 120
	"Can't write log record", // 121
	"No transaction",         // 122
	"",                       // 123
	"No begin work yet",      // 124
	"",                       // 125
	"",                       // 126
	"No primary key",         // 127
	"No logging",             // 128
}

// An ErrorTable maps a family's contiguous error-code range to
// messages. Codes outside the range fall back to the host's generic
// error text, because engines reuse OS codes for conditions they don't
// define locally.
type ErrorTable struct {
	Base     int
	Messages []string
}

// Lookup decodes a raw engine code into a message.
func (t ErrorTable) Lookup(code int) string {
	if code >= t.Base && code < t.Base+len(t.Messages) {
		if msg := t.Messages[code-t.Base]; msg != "" {
			return msg
		}
		return fmt.Sprintf("error %d", code)
	}
	if code > 0 {
		return syscall.Errno(code).Error()
	}
	return fmt.Sprintf("error %d", code)
}

// Err builds a typed engine error for the given table and raw code.
func (t ErrorTable) Err(table string, code int) error {
	return errors.WithStack(&Error{
		Code:    code,
		Message: t.Lookup(code),
		Table:   table,
	})
}

// Error is an opaque engine failure carrying the raw engine code, its
// decoded message and the table it occurred on. It is never retried at
// this layer; the caller alone knows whether the condition is transient.
type Error struct {
	Code    int
	Message string
	Table   string
}

func (e *Error) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s (%d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Table, e.Message, e.Code)
}

// tagged attaches a shared sentinel to an engine failure whose raw code
// alone does not imply it, keeping both visible to errors.Is and
// errors.As.
type tagged struct {
	error
	sentinel error
}

func tag(err error, sentinel error) error {
	return &tagged{error: err, sentinel: sentinel}
}

func (t *tagged) Is(target error) bool { return target == t.sentinel }
func (t *tagged) Unwrap() error        { return t.error }

// Is maps the raw code onto the shared sentinels so that callers can
// use errors.Is without knowing the family's code space.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNoRecord:
		return e.Code == ENOREC || e.Code == EENDFILE
	case ErrNotOpen:
		return e.Code == ENOTOPEN
	case ErrDuplicateKey:
		return e.Code == EDUPL || e.Code == EKEXISTS
	case ErrLocked:
		return e.Code == ELOCKED || e.Code == EFLOCKED
	case ErrNoCurrent:
		return e.Code == ENOCURR
	}
	return false
}
