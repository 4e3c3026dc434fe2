package isamdb_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	isamdb "github.com/isamdb/isamdb"
	"github.com/isamdb/isamdb/engine/memtree"
	"github.com/isamdb/isamdb/schema"
)

func ordersDef(t *testing.T) *schema.Definition {
	t.Helper()
	def, err := schema.NewBuilder("orders").
		Column("id", schema.Int32, 0).
		Column("customer", schema.Text, 6).
		Column("item", schema.Text, 6).
		Column("qty", schema.Int16, 0).
		Column("placed", schema.Date, 0).
		Index("primary", schema.Primary, schema.Part("id")).
		Index("bycustomer", schema.Duplicates, schema.Part("customer"), schema.Part("item")).
		Freeze()
	require.NoError(t, err)
	return def
}

func buildOrders(t *testing.T) *isamdb.Table {
	t.Helper()
	tbl, err := isamdb.Build("orders", ordersDef(t), isamdb.Options{Engine: memtree.New()})
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, row := range []isamdb.Row{
		{"id": 1, "customer": "acme", "item": "bolt", "qty": 10, "placed": day},
		{"id": 2, "customer": "acme", "item": "nut", "qty": 20, "placed": day},
		{"id": 3, "customer": "zenit", "item": "bolt", "qty": 5, "placed": day},
		{"id": 4, "customer": "acme", "item": "bolt", "qty": 7, "placed": day},
	} {
		require.NoError(t, tbl.Insert(row))
	}
	return tbl
}

func TestTableReads(t *testing.T) {
	tbl := buildOrders(t)

	t.Run("walk the primary", func(t *testing.T) {
		row, err := tbl.Read("primary", isamdb.First, nil)
		require.NoError(t, err)
		require.EqualValues(t, 1, row["id"])

		for _, want := range []int64{2, 3, 4} {
			row, err = tbl.Read("", isamdb.Next, nil)
			require.NoError(t, err)
			require.Equal(t, want, row["id"])
		}

		_, err = tbl.Read("", isamdb.Next, nil)
		require.ErrorIs(t, err, isamdb.ErrNoRecord)
	})

	t.Run("equal on the primary", func(t *testing.T) {
		row, err := tbl.Read("primary", isamdb.Equal, isamdb.Row{"id": 3})
		require.NoError(t, err)
		require.Equal(t, "zenit", row["customer"])
		require.Equal(t, int64(5), row["qty"])
	})

	t.Run("prefix search on a composite index", func(t *testing.T) {
		// Only the leading part: every acme order, ordered by item,
		// duplicates by insertion.
		row, err := tbl.Read("bycustomer", isamdb.Equal, isamdb.Row{"customer": "acme"})
		require.NoError(t, err)
		require.EqualValues(t, 1, row["id"])

		row, err = tbl.Read("", isamdb.Next, nil)
		require.NoError(t, err)
		require.EqualValues(t, 4, row["id"])

		row, err = tbl.Read("", isamdb.Next, nil)
		require.NoError(t, err)
		require.Equal(t, "nut", row["item"])
	})

	t.Run("full composite key", func(t *testing.T) {
		row, err := tbl.Read("bycustomer", isamdb.Equal, isamdb.Row{"customer": "zenit", "item": "bolt"})
		require.NoError(t, err)
		require.EqualValues(t, 3, row["id"])
	})

	t.Run("trailing part without the leading one", func(t *testing.T) {
		_, err := tbl.Read("bycustomer", isamdb.Equal, isamdb.Row{"item": "bolt"})
		var encErr *isamdb.EncodingError
		require.ErrorAs(t, err, &encErr)
	})

	t.Run("miss keeps the position", func(t *testing.T) {
		_, err := tbl.Read("primary", isamdb.Equal, isamdb.Row{"id": 2})
		require.NoError(t, err)

		_, err = tbl.Read("primary", isamdb.Equal, isamdb.Row{"id": 99})
		require.ErrorIs(t, err, isamdb.ErrNoRecord)

		row, err := tbl.Read("", isamdb.Next, nil)
		require.NoError(t, err)
		require.EqualValues(t, 3, row["id"])
	})

	t.Run("unknown index", func(t *testing.T) {
		_, err := tbl.Read("nope", isamdb.First, nil)
		require.ErrorIs(t, err, isamdb.ErrIndexMissing)
	})

	t.Run("select index without reading", func(t *testing.T) {
		require.NoError(t, tbl.SelectIndex("bycustomer"))
		require.Equal(t, "bycustomer", tbl.CurrentIndex())

		row, err := tbl.Read("", isamdb.First, nil)
		require.NoError(t, err)
		require.Equal(t, "acme", row["customer"])

		require.ErrorIs(t, tbl.SelectIndex("nope"), isamdb.ErrIndexMissing)
	})
}

func TestTableWrites(t *testing.T) {
	t.Run("duplicate primary leaves the table unchanged", func(t *testing.T) {
		tbl := buildOrders(t)

		err := tbl.Insert(isamdb.Row{"id": 2, "customer": "other"})
		require.ErrorIs(t, err, isamdb.ErrDuplicateKey)

		info, err := tbl.Info()
		require.NoError(t, err)
		require.EqualValues(t, 4, info.Records)

		row, err := tbl.Read("primary", isamdb.Equal, isamdb.Row{"id": 2})
		require.NoError(t, err)
		require.Equal(t, "acme", row["customer"])
	})

	t.Run("update by primary key", func(t *testing.T) {
		tbl := buildOrders(t)

		row, err := tbl.Read("primary", isamdb.Equal, isamdb.Row{"id": 3})
		require.NoError(t, err)
		row["qty"] = 50
		require.NoError(t, tbl.Update(row))

		got, err := tbl.Read("primary", isamdb.Equal, isamdb.Row{"id": 3})
		require.NoError(t, err)
		require.Equal(t, int64(50), got["qty"])
	})

	t.Run("update of a missing record", func(t *testing.T) {
		tbl := buildOrders(t)
		err := tbl.Update(isamdb.Row{"id": 99, "customer": "acme"})
		require.ErrorIs(t, err, isamdb.ErrNoRecord)
	})

	t.Run("update current moves index entries", func(t *testing.T) {
		tbl := buildOrders(t)

		row, err := tbl.Read("primary", isamdb.Equal, isamdb.Row{"id": 3})
		require.NoError(t, err)
		row["customer"] = "nadir"
		require.NoError(t, tbl.UpdateCurrent(row))

		got, err := tbl.Read("bycustomer", isamdb.Equal, isamdb.Row{"customer": "nadir"})
		require.NoError(t, err)
		require.EqualValues(t, 3, got["id"])

		_, err = tbl.Read("bycustomer", isamdb.Equal, isamdb.Row{"customer": "zenit"})
		require.ErrorIs(t, err, isamdb.ErrNoRecord)
	})

	t.Run("delete by key and delete current", func(t *testing.T) {
		tbl := buildOrders(t)

		require.NoError(t, tbl.Delete(isamdb.Row{"id": 1}))
		require.ErrorIs(t, tbl.Delete(isamdb.Row{"id": 1}), isamdb.ErrNoRecord)

		_, err := tbl.Read("primary", isamdb.Equal, isamdb.Row{"id": 2})
		require.NoError(t, err)
		require.NoError(t, tbl.DeleteCurrent())

		// The walk continues past the deleted record and the read
		// re-establishes the position.
		row, err := tbl.Read("", isamdb.Next, nil)
		require.NoError(t, err)
		require.EqualValues(t, 3, row["id"])
		require.NoError(t, tbl.DeleteCurrent())

		require.ErrorIs(t, tbl.DeleteCurrent(), isamdb.ErrNoCurrent)
	})

	t.Run("delete current without position", func(t *testing.T) {
		tbl := buildOrders(t)
		require.ErrorIs(t, tbl.DeleteCurrent(), isamdb.ErrNoCurrent)
	})

	t.Run("roundtrip through the record codec", func(t *testing.T) {
		tbl := buildOrders(t)

		want := isamdb.Row{
			"id":       int64(1),
			"customer": "acme",
			"item":     "bolt",
			"qty":      int64(10),
			"placed":   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		}
		got, err := tbl.Read("primary", isamdb.Equal, isamdb.Row{"id": 1})
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(want, got))
	})
}

func TestTableLifecycle(t *testing.T) {
	t.Run("operations after close", func(t *testing.T) {
		eng := memtree.New()
		tbl, err := isamdb.Build("orders", ordersDef(t), isamdb.Options{Engine: eng})
		require.NoError(t, err)
		require.NoError(t, tbl.Close())

		require.ErrorIs(t, tbl.Close(), isamdb.ErrNotOpen)
		require.ErrorIs(t, tbl.Insert(isamdb.Row{"id": 1}), isamdb.ErrNotOpen)
		_, err = tbl.Read("primary", isamdb.First, nil)
		require.ErrorIs(t, err, isamdb.ErrNotOpen)
	})

	t.Run("reopen with a mismatched definition", func(t *testing.T) {
		eng := memtree.New()
		tbl, err := isamdb.Build("orders", ordersDef(t), isamdb.Options{Engine: eng})
		require.NoError(t, err)
		require.NoError(t, tbl.Close())

		narrow, err := schema.NewBuilder("orders").
			Column("id", schema.Int32, 0).
			Index("primary", schema.Primary, schema.Part("id")).
			Freeze()
		require.NoError(t, err)

		_, err = isamdb.Open("orders", narrow, isamdb.Options{Engine: eng})
		var serr *isamdb.SchemaError
		require.ErrorAs(t, err, &serr)
	})

	t.Run("open creates missing secondary indexes", func(t *testing.T) {
		eng := memtree.New()

		// Build with the primary only.
		slim, err := schema.NewBuilder("orders").
			Column("id", schema.Int32, 0).
			Column("customer", schema.Text, 6).
			Column("item", schema.Text, 6).
			Column("qty", schema.Int16, 0).
			Column("placed", schema.Date, 0).
			Index("primary", schema.Primary, schema.Part("id")).
			Freeze()
		require.NoError(t, err)

		tbl, err := isamdb.Build("orders", slim, isamdb.Options{Engine: eng})
		require.NoError(t, err)
		require.NoError(t, tbl.Insert(isamdb.Row{"id": 1, "customer": "acme", "item": "bolt"}))
		require.NoError(t, tbl.Close())

		full, err := isamdb.Open("orders", ordersDef(t), isamdb.Options{Mode: isamdb.ReadWrite, Engine: eng})
		require.NoError(t, err)
		defer full.Close()

		row, err := full.Read("bycustomer", isamdb.Equal, isamdb.Row{"customer": "acme"})
		require.NoError(t, err)
		require.EqualValues(t, 1, row["id"])
	})

	t.Run("erase", func(t *testing.T) {
		eng := memtree.New()
		tbl, err := isamdb.Build("orders", ordersDef(t), isamdb.Options{Engine: eng})
		require.NoError(t, err)

		require.ErrorIs(t, isamdb.Erase("orders", isamdb.Options{Engine: eng}), isamdb.ErrOpened)
		require.NoError(t, tbl.Close())
		require.NoError(t, isamdb.Erase("orders", isamdb.Options{Engine: eng}))

		_, err = isamdb.Open("orders", ordersDef(t), isamdb.Options{Engine: eng})
		require.ErrorIs(t, err, isamdb.ErrNotOpen)
	})

	t.Run("locking between cursors", func(t *testing.T) {
		eng := memtree.New()
		tbl, err := isamdb.Build("orders", ordersDef(t), isamdb.Options{Engine: eng})
		require.NoError(t, err)
		require.NoError(t, tbl.Close())

		opts := isamdb.Options{Mode: isamdb.ReadWrite, Engine: eng}
		a, err := isamdb.Open("orders", ordersDef(t), opts)
		require.NoError(t, err)
		defer a.Close()
		b, err := isamdb.Open("orders", ordersDef(t), opts)
		require.NoError(t, err)
		defer b.Close()

		require.NoError(t, a.Lock(isamdb.LockNoWait))
		require.ErrorIs(t, b.Lock(isamdb.LockNoWait), isamdb.ErrLocked)
		require.NoError(t, a.Unlock())
		require.NoError(t, b.Lock(isamdb.LockNoWait))
		require.NoError(t, b.Unlock())
	})

	t.Run("transaction calls pass through", func(t *testing.T) {
		tbl := buildOrders(t)
		require.NoError(t, tbl.Begin())
		require.NoError(t, tbl.Insert(isamdb.Row{"id": 9, "customer": "acme"}))
		require.NoError(t, tbl.Commit())
	})
}

func TestLeadingKeySequence(t *testing.T) {
	def, err := schema.NewBuilder("words").
		Column("id", schema.Int32, 0).
		Column("word", schema.Text, 9).
		Index("primary", schema.Primary, schema.Part("id")).
		Index("byword", schema.Duplicates, schema.Part("word")).
		Freeze()
	require.NoError(t, err)

	tbl, err := isamdb.Build("words", def, isamdb.Options{Engine: memtree.New()})
	require.NoError(t, err)
	defer tbl.Close()

	for i, w := range []string{"defile", "defile", "dekeys"} {
		require.NoError(t, tbl.Insert(isamdb.Row{"id": i + 1, "word": w}))
	}

	row, err := tbl.Read("byword", isamdb.GreaterOrEqual, isamdb.Row{"word": "defile"})
	require.NoError(t, err)
	require.Equal(t, "defile", row["word"])

	row, err = tbl.Read("", isamdb.Next, nil)
	require.NoError(t, err)
	require.Equal(t, "defile", row["word"])

	row, err = tbl.Read("", isamdb.Next, nil)
	require.NoError(t, err)
	require.Equal(t, "dekeys", row["word"])

	_, err = tbl.Read("", isamdb.Next, nil)
	require.ErrorIs(t, err, isamdb.ErrNoRecord)
}

func TestErrorLookupOnTable(t *testing.T) {
	tbl := buildOrders(t)
	require.Equal(t, "Record not found", tbl.ErrorLookup(111))
	require.Equal(t, "Duplicate record", tbl.ErrorLookup(100))
}
