package engine

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
)

// Store names of one table file. Each live index owns the keyspace
// named after its slot in the metadata; the record buffers live in the
// data keyspace keyed by record number.
const dataStore = "data"

func indexStore(slot int) string {
	return fmt.Sprintf("idx%d", slot)
}

var errStop = errors.New("stop iteration")

// tableMeta is the persistent description of a table, stored as the
// file's metadata blob. Deleted indexes keep their slot so that store
// names stay stable.
type tableMeta struct {
	RecordLength int         `json:"record_length"`
	NextRecord   uint64      `json:"next_record"`
	Indexes      []indexMeta `json:"indexes"`
}

type indexMeta struct {
	Key     *KeyDescriptor `json:"key"`
	Deleted bool           `json:"deleted,omitempty"`
}

// tableState is the in-process state shared by all handles opened on
// the same table: open counting for exclusive access and the advisory
// table lock. Write operations serialize on mu.
type tableState struct {
	mu        sync.Mutex
	handles   int
	exclusive bool
	lock      *TableLock
}

type familyEngine struct {
	backend Backend
	errs    ErrorTable

	mu     sync.Mutex
	tables map[string]*tableState
}

// New layers the common table logic on top of a family backend.
func New(b Backend) Engine {
	return &familyEngine{
		backend: b,
		errs:    b.Errors(),
		tables:  make(map[string]*tableState),
	}
}

func (e *familyEngine) Name() string {
	return e.backend.Name()
}

func (e *familyEngine) ErrorLookup(code int) string {
	return e.errs.Lookup(code)
}

func (e *familyEngine) state(path string) *tableState {
	st, ok := e.tables[path]
	if !ok {
		st = &tableState{lock: NewTableLock()}
		e.tables[path] = st
	}
	return st
}

func (e *familyEngine) Open(path string, mode OpenMode, lock LockMode) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state(path)
	if st.exclusive {
		return nil, e.errs.Err(path, EFLOCKED)
	}
	if mode == Exclusive && st.handles > 0 {
		return nil, e.errs.Err(path, ENOTEXCL)
	}

	f, err := e.backend.Open(path)
	if err != nil {
		return nil, tag(err, ErrNotOpen)
	}

	meta, err := loadMeta(f)
	if err != nil {
		_ = f.Close()
		return nil, e.errs.Err(path, EBADFILE)
	}

	h := &handle{
		eng:   e,
		path:  path,
		file:  f,
		mode:  mode,
		state: st,
		meta:  meta,
		cur:   -1,
	}

	if !st.lock.Acquire(h, lock) {
		_ = f.Close()
		return nil, e.errs.Err(path, ELOCKED)
	}

	st.handles++
	if mode == Exclusive {
		st.exclusive = true
	}
	return h, nil
}

func (e *familyEngine) Build(path string, recordLength int, primary *KeyDescriptor) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state(path)
	if st.handles > 0 {
		return nil, tag(e.errs.Err(path, EFLOCKED), ErrOpened)
	}

	if recordLength <= 0 {
		return nil, e.errs.Err(path, EBADARG)
	}
	kd, ok := normalizeKey(primary, recordLength)
	if !ok {
		return nil, e.errs.Err(path, EBADKEY)
	}

	f, err := e.backend.Create(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	meta := &tableMeta{
		RecordLength: recordLength,
		Indexes:      []indexMeta{{Key: kd}},
	}
	if err := saveMeta(f, meta); err != nil {
		_ = f.Close()
		return nil, errors.WithStack(err)
	}

	h := &handle{
		eng:   e,
		path:  path,
		file:  f,
		mode:  Exclusive,
		state: st,
		meta:  meta,
		cur:   -1,
	}
	st.handles++
	st.exclusive = true
	return h, nil
}

func (e *familyEngine) Erase(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st, ok := e.tables[path]; ok && st.handles > 0 {
		return tag(e.errs.Err(path, EFLOCKED), ErrOpened)
	}
	return e.backend.Erase(path)
}

func loadMeta(f File) (*tableMeta, error) {
	data, err := f.Meta()
	if err != nil {
		return nil, err
	}
	var meta tableMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	if meta.RecordLength <= 0 || len(meta.Indexes) == 0 || meta.Indexes[0].Key == nil {
		return nil, errors.New("bad table metadata")
	}
	return &meta, nil
}

func saveMeta(f File, meta *tableMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return f.SetMeta(data)
}

// normalizeKey validates a descriptor against the record layout and
// returns a clone with its total length filled in.
func normalizeKey(kd *KeyDescriptor, recordLength int) (*KeyDescriptor, bool) {
	if kd == nil || len(kd.Parts) == 0 || len(kd.Parts) > MaxKeyParts {
		return nil, false
	}
	total := 0
	for _, p := range kd.Parts {
		if p.Length <= 0 || p.Offset < 0 || p.Offset+p.Length > recordLength {
			return nil, false
		}
		total += p.Length
	}
	if total > MaxKeyLength {
		return nil, false
	}
	cp := kd.Clone()
	cp.Length = total
	return cp, true
}

func encodeRecnum(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

func decodeRecnum(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// handle is one open table of a family engine. It owns the current
// position; concurrent use of a single handle is not supported, but
// separate handles on the same table are.
type handle struct {
	eng   *familyEngine
	path  string
	file  File
	mode  OpenMode
	state *tableState
	meta  *tableMeta

	cur     int // live index slot of the position, -1 before first read
	pos     []byte
	havePos bool
	curRec  uint64
	haveCur bool
	closed  bool
}

func (h *handle) err(code int) error {
	return h.eng.errs.Err(h.path, code)
}

func (h *handle) guard() error {
	if h.closed {
		return h.err(ENOTOPEN)
	}
	return nil
}

func (h *handle) writable() error {
	if err := h.guard(); err != nil {
		return err
	}
	if h.mode == ReadOnly {
		return errors.WithStack(ErrNotWritable)
	}
	return nil
}

// resolveSlot maps a descriptor to its live slot in the metadata. A nil
// descriptor continues on the current index, defaulting to the primary.
func (h *handle) resolveSlot(kd *KeyDescriptor) (int, error) {
	if kd == nil {
		if h.cur >= 0 {
			return h.cur, nil
		}
		return 0, nil
	}
	for slot, im := range h.meta.Indexes {
		if !im.Deleted && im.Key.Equal(kd) {
			return slot, nil
		}
	}
	return 0, h.err(EBADKEY)
}

func (h *handle) data() Store {
	return h.file.Store(dataStore)
}

func (h *handle) index(slot int) Store {
	return h.file.Store(indexStore(slot))
}

func (h *handle) Read(kd *KeyDescriptor, mode ReadMode, key []byte) ([]byte, error) {
	if err := h.guard(); err != nil {
		return nil, err
	}
	slot, err := h.resolveSlot(kd)
	if err != nil {
		return nil, err
	}
	sameIndex := slot == h.cur

	switch mode {
	case First:
		return h.readEdge(slot, false)
	case Last:
		return h.readEdge(slot, true)
	case Next:
		if !sameIndex || !h.havePos {
			return h.readEdge(slot, false)
		}
		return h.readStep(slot, false)
	case Previous:
		if !sameIndex || !h.havePos {
			return h.readEdge(slot, true)
		}
		return h.readStep(slot, true)
	case Current:
		return h.readCurrent(slot)
	case Equal, Greater, GreaterOrEqual:
		return h.readKeyed(slot, mode, key)
	}
	return nil, h.err(EBADARG)
}

// readEdge positions on the first or last entry of an index.
func (h *handle) readEdge(slot int, last bool) ([]byte, error) {
	entry, rec, ok, err := h.seek(slot, nil, nil, last)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, h.err(EENDFILE)
	}
	return h.fetch(slot, entry, rec)
}

// readStep advances the position by one entry.
func (h *handle) readStep(slot int, back bool) ([]byte, error) {
	entry, rec, ok, err := h.seek(slot, h.pos, h.pos, back)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, h.err(EENDFILE)
	}
	return h.fetch(slot, entry, rec)
}

// readCurrent re-reads the current record, repositioning on slot if the
// index changed since it was established.
func (h *handle) readCurrent(slot int) ([]byte, error) {
	if !h.haveCur {
		return nil, h.err(ENOCURR)
	}
	buf, err := h.data().Get(encodeRecnum(h.curRec))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, h.err(ENOREC)
		}
		return nil, errors.WithStack(err)
	}
	im := h.meta.Indexes[slot]
	entry := append(im.Key.KeyBytes(buf), encodeRecnum(h.curRec)...)
	return h.fetch(slot, entry, h.curRec)
}

// readKeyed positions with a search key. The key may be a leading
// prefix of the index image; Equal then matches any record sharing it.
func (h *handle) readKeyed(slot int, mode ReadMode, key []byte) ([]byte, error) {
	entry, rec, ok, err := h.seek(slot, key, nil, false)
	if err != nil {
		return nil, err
	}
	if mode == Greater {
		for ok && bytes.HasPrefix(entry, key) {
			entry, rec, ok, err = h.seek(slot, entry, entry, false)
			if err != nil {
				return nil, err
			}
		}
	}
	if !ok || (mode == Equal && !bytes.HasPrefix(entry, key)) {
		return nil, h.err(ENOREC)
	}
	return h.fetch(slot, entry, rec)
}

// seek returns the first index entry at or beyond pivot, skipping an
// entry equal to skip. back reverses the direction.
func (h *handle) seek(slot int, pivot, skip []byte, back bool) (entry []byte, rec uint64, ok bool, err error) {
	fn := func(k, v []byte) error {
		if skip != nil && bytes.Equal(k, skip) {
			return nil
		}
		entry = append([]byte(nil), k...)
		rec = decodeRecnum(v)
		ok = true
		return errStop
	}

	store := h.index(slot)
	if back {
		err = store.DescendLessOrEqual(pivot, fn)
	} else {
		err = store.AscendGreaterOrEqual(pivot, fn)
	}
	if err != nil && !errors.Is(err, errStop) {
		return nil, 0, false, errors.WithStack(err)
	}
	return entry, rec, ok, nil
}

// fetch loads the record of an index entry and commits the position.
// The position moves only on success.
func (h *handle) fetch(slot int, entry []byte, rec uint64) ([]byte, error) {
	buf, err := h.data().Get(encodeRecnum(rec))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, h.err(EBADFILE)
		}
		return nil, errors.WithStack(err)
	}
	h.cur = slot
	h.pos = entry
	h.havePos = true
	h.curRec = rec
	h.haveCur = true
	return buf, nil
}

// checkUnique verifies that buf violates no live unique index, ignoring
// the record identified by exclude. It runs before any mutation so that
// a rejected write leaves the table untouched.
func (h *handle) checkUnique(buf []byte, exclude uint64) error {
	for slot, im := range h.meta.Indexes {
		if im.Deleted || im.Key.AllowDuplicates {
			continue
		}
		image := im.Key.KeyBytes(buf)
		dup := false
		err := h.index(slot).AscendGreaterOrEqual(image, func(k, v []byte) error {
			if !bytes.HasPrefix(k, image) {
				return errStop
			}
			if decodeRecnum(v) != exclude {
				dup = true
			}
			return errStop
		})
		if err != nil && !errors.Is(err, errStop) {
			return errors.WithStack(err)
		}
		if dup {
			return h.err(EDUPL)
		}
	}
	return nil
}

func (h *handle) insertEntries(rec uint64, buf []byte) error {
	rn := encodeRecnum(rec)
	for slot, im := range h.meta.Indexes {
		if im.Deleted {
			continue
		}
		entry := append(im.Key.KeyBytes(buf), rn...)
		if err := h.index(slot).Put(entry, rn); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (h *handle) removeEntries(rec uint64, buf []byte) error {
	rn := encodeRecnum(rec)
	for slot, im := range h.meta.Indexes {
		if im.Deleted {
			continue
		}
		entry := append(im.Key.KeyBytes(buf), rn...)
		if err := h.index(slot).Delete(entry); err != nil && !errors.Is(err, ErrKeyNotFound) {
			return errors.WithStack(err)
		}
	}
	return nil
}

// findPrimary locates the record whose primary image starts with key.
func (h *handle) findPrimary(key []byte) (uint64, error) {
	entry, rec, ok, err := h.seek(0, key, nil, false)
	if err != nil {
		return 0, err
	}
	if !ok || !bytes.HasPrefix(entry, key) {
		return 0, h.err(ENOREC)
	}
	return rec, nil
}

func (h *handle) Write(buf []byte) error {
	if err := h.writable(); err != nil {
		return err
	}
	if len(buf) != h.meta.RecordLength {
		return h.err(EBADARG)
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	if err := h.checkUnique(buf, 0); err != nil {
		return err
	}

	rec := h.meta.NextRecord + 1
	if err := h.data().Put(encodeRecnum(rec), buf); err != nil {
		return errors.WithStack(err)
	}
	if err := h.insertEntries(rec, buf); err != nil {
		return err
	}
	h.meta.NextRecord = rec
	return errors.WithStack(saveMeta(h.file, h.meta))
}

func (h *handle) Rewrite(buf []byte) error {
	if err := h.writable(); err != nil {
		return err
	}
	if len(buf) != h.meta.RecordLength {
		return h.err(EBADARG)
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	primary := h.meta.Indexes[0].Key
	rec, err := h.findPrimary(primary.KeyBytes(buf))
	if err != nil {
		return err
	}
	return h.replace(rec, buf)
}

func (h *handle) RewriteCurrent(buf []byte) error {
	if err := h.writable(); err != nil {
		return err
	}
	if len(buf) != h.meta.RecordLength {
		return h.err(EBADARG)
	}
	if !h.haveCur {
		return h.err(ENOCURR)
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	return h.replace(h.curRec, buf)
}

func (h *handle) replace(rec uint64, buf []byte) error {
	old, err := h.data().Get(encodeRecnum(rec))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return h.err(ENOREC)
		}
		return errors.WithStack(err)
	}
	if err := h.checkUnique(buf, rec); err != nil {
		return err
	}
	if err := h.removeEntries(rec, old); err != nil {
		return err
	}
	if err := h.data().Put(encodeRecnum(rec), buf); err != nil {
		return errors.WithStack(err)
	}
	return h.insertEntries(rec, buf)
}

func (h *handle) Delete(key []byte) error {
	if err := h.writable(); err != nil {
		return err
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	rec, err := h.findPrimary(key)
	if err != nil {
		return err
	}
	return h.remove(rec)
}

func (h *handle) DeleteCurrent() error {
	if err := h.writable(); err != nil {
		return err
	}
	if !h.haveCur {
		return h.err(ENOCURR)
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	return h.remove(h.curRec)
}

// remove deletes a record. The index position survives so that the next
// sequential read continues past the removed entry.
func (h *handle) remove(rec uint64) error {
	old, err := h.data().Get(encodeRecnum(rec))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return h.err(ENOREC)
		}
		return errors.WithStack(err)
	}
	if err := h.removeEntries(rec, old); err != nil {
		return err
	}
	if err := h.data().Delete(encodeRecnum(rec)); err != nil {
		return errors.WithStack(err)
	}
	if h.haveCur && h.curRec == rec {
		h.haveCur = false
	}
	return nil
}

func (h *handle) AddIndex(kd *KeyDescriptor) error {
	if err := h.writable(); err != nil {
		return err
	}
	norm, ok := normalizeKey(kd, h.meta.RecordLength)
	if !ok {
		return h.err(EBADKEY)
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	for _, im := range h.meta.Indexes {
		if !im.Deleted && im.Key.Equal(norm) {
			return h.err(EKEXISTS)
		}
	}

	// Backfill entries are collected first: stores must not be written
	// while the data scan is in flight.
	type entry struct{ k, v []byte }
	var entries []entry
	seen := make(map[string]struct{})
	var dup bool
	err := h.data().AscendGreaterOrEqual(nil, func(k, v []byte) error {
		image := norm.KeyBytes(v)
		if !norm.AllowDuplicates {
			if _, ok := seen[string(image)]; ok {
				dup = true
				return errStop
			}
			seen[string(image)] = struct{}{}
		}
		entries = append(entries, entry{
			k: append(image, k...),
			v: append([]byte(nil), k...),
		})
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return errors.WithStack(err)
	}
	if dup {
		return h.err(EDUPL)
	}

	slot := len(h.meta.Indexes)
	store := h.file.Store(indexStore(slot))
	for _, e := range entries {
		if err := store.Put(e.k, e.v); err != nil {
			_ = h.file.DropStore(indexStore(slot))
			return errors.WithStack(err)
		}
	}

	h.meta.Indexes = append(h.meta.Indexes, indexMeta{Key: norm})
	return errors.WithStack(saveMeta(h.file, h.meta))
}

func (h *handle) DeleteIndex(kd *KeyDescriptor) error {
	if err := h.writable(); err != nil {
		return err
	}
	if kd == nil {
		return h.err(EBADKEY)
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	for slot, im := range h.meta.Indexes {
		if im.Deleted || !im.Key.Equal(kd) {
			continue
		}
		if slot == 0 {
			return h.err(EPRIMKEY)
		}
		if err := h.file.DropStore(indexStore(slot)); err != nil {
			return errors.WithStack(err)
		}
		h.meta.Indexes[slot].Deleted = true
		if h.cur == slot {
			h.cur = -1
			h.havePos = false
		}
		return errors.WithStack(saveMeta(h.file, h.meta))
	}
	return h.err(EBADKEY)
}

func (h *handle) KeyInfo(n int) (*KeyDescriptor, error) {
	if err := h.guard(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, h.err(EBADKEY)
	}
	live := 0
	for _, im := range h.meta.Indexes {
		if im.Deleted {
			continue
		}
		if live == n {
			return im.Key.Clone(), nil
		}
		live++
	}
	return nil, h.err(EBADKEY)
}

func (h *handle) Info() (*TableInfo, error) {
	if err := h.guard(); err != nil {
		return nil, err
	}
	info := &TableInfo{RecordLength: h.meta.RecordLength}
	for _, im := range h.meta.Indexes {
		if !im.Deleted {
			info.Indexes++
		}
	}
	err := h.data().AscendGreaterOrEqual(nil, func(k, v []byte) error {
		info.Records++
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return info, nil
}

func (h *handle) Lock(mode LockMode) error {
	if err := h.guard(); err != nil {
		return err
	}
	if !h.state.lock.Acquire(h, mode) {
		return h.err(ELOCKED)
	}
	return nil
}

func (h *handle) Unlock() error {
	if err := h.guard(); err != nil {
		return err
	}
	h.state.lock.Release(h)
	return nil
}

// Begin, Commit and Rollback are accepted and do nothing: neither
// family keeps a transaction log, every write is applied immediately.
func (h *handle) Begin() error    { return h.guard() }
func (h *handle) Commit() error   { return h.guard() }
func (h *handle) Rollback() error { return h.guard() }

func (h *handle) RecordLength() int {
	return h.meta.RecordLength
}

func (h *handle) Close() error {
	if h.closed {
		return h.err(ENOTOPEN)
	}
	h.closed = true
	h.state.lock.Release(h)

	h.eng.mu.Lock()
	h.state.handles--
	if h.mode == Exclusive {
		h.state.exclusive = false
	}
	h.eng.mu.Unlock()

	return errors.WithStack(h.file.Close())
}
