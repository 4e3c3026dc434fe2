// Package isamdb gives keyed, ordered access to fixed-layout record
// tables. A table is described by a schema.Definition, stored by one of
// the engine families and driven through a Table cursor that keeps the
// classic ISAM position: reads walk an index forward and backward,
// writes maintain every index and the current record can be re-read,
// rewritten or deleted in place.
//
// The engine family is bound once per process, either explicitly
// through Options.Engine or lazily on first use. The default is the
// persistent pebble family; the ISAMDB_ENGINE environment variable
// selects another.
package isamdb
