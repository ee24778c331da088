package tessera_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/dialect/mysql"
	"github.com/syssam/tessera/schema/field"
	"github.com/syssam/tessera/schema/mixin"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mockClient(t *testing.T, opts ...tessera.Option) (*tessera.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	opts = append([]tessera.Option{tessera.WithClock(func() time.Time { return testTime })}, opts...)
	return tessera.NewClient(mysql.NewDriver(db), opts...), mock
}

// defineItems defines the model used by most lifecycle tests.
func defineItems(t *testing.T, c *tessera.Client, opts ...tessera.ModelOption) *tessera.Model {
	t.Helper()
	opts = append([]tessera.ModelOption{
		tessera.WithoutTimestamps(),
		tessera.UniqueKey("", "", "ref_id", "value3"),
	}, opts...)
	items, err := c.Define("item", []field.Definer{
		field.Integer("id").PrimaryKey().AutoIncrement(),
		field.Integer("ref_id"),
		field.Integer("value1"),
		field.String("value3"),
		field.Integer("tags").Array(),
		field.String("name").ReadOnly(),
	}, opts...)
	require.NoError(t, err)
	return items
}

var itemColumns = []string{"id", "ref_id", "value1", "value3", "tags", "name"}

func TestDefine(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		c, _ := mockClient(t)
		posts, err := c.Define("BlogPost", []field.Definer{
			field.Integer("id").PrimaryKey().AutoIncrement(),
			field.String("title"),
		})
		require.NoError(t, err)
		assert.Equal(t, "blog_posts", posts.Table())
		assert.Equal(t, "BlogPost", posts.Name())
		assert.Equal(t, []string{"id"}, posts.PrimaryKeys())

		var names []string
		for _, d := range posts.Fields() {
			names = append(names, d.Name)
		}
		assert.Equal(t, []string{"id", "title", mixin.CreatedAt, mixin.UpdatedAt}, names)

		m, ok := c.Model("BlogPost")
		require.True(t, ok)
		assert.Same(t, posts, m)
		assert.Equal(t, []string{"BlogPost"}, c.Models())
	})

	t.Run("Table", func(t *testing.T) {
		c, _ := mockClient(t)
		m, err := c.Define("person", []field.Definer{field.String("name")}, tessera.Table("people_v2"), tessera.WithoutTimestamps())
		require.NoError(t, err)
		assert.Equal(t, "people_v2", m.Table())
		assert.Len(t, m.Fields(), 1)
	})

	t.Run("Mixins", func(t *testing.T) {
		c, _ := mockClient(t)
		m, err := c.Define("account", []field.Definer{
			field.String("email"),
		}, tessera.Mixins(mixin.ID{}, mixin.TenantID{}))
		require.NoError(t, err)
		var names []string
		for _, d := range m.Fields() {
			names = append(names, d.Name)
		}
		assert.Equal(t, []string{"id", "tenant_id", "email", mixin.CreatedAt, mixin.UpdatedAt}, names)
		assert.Equal(t, []string{"id"}, m.PrimaryKeys())
	})

	t.Run("Errors", func(t *testing.T) {
		c, _ := mockClient(t)
		_, err := c.Define("", nil)
		require.Error(t, err)

		_, err = c.Define("dup", []field.Definer{field.String("a"), field.Integer("a")})
		require.ErrorContains(t, err, `duplicate field "a"`)

		_, err = c.Define("auto", []field.Definer{
			field.Integer("a").PrimaryKey().AutoIncrement(),
			field.Integer("b").PrimaryKey().AutoIncrement(),
		})
		require.ErrorContains(t, err, "both auto increment")

		_, err = c.Define("key", []field.Definer{field.String("a")}, tessera.UniqueKey("k", "", "a", "missing"))
		require.ErrorContains(t, err, `unknown field "missing"`)

		_, err = c.Define("ref", []field.Definer{field.String("a")}, tessera.ForeignKey("missing", "user", "id", ""))
		require.ErrorContains(t, err, `unknown field "missing"`)

		_, err = c.Define("bad", []field.Definer{field.New("a", "blob")})
		require.Error(t, err)

		_, err = c.Define("once", []field.Definer{field.String("a")})
		require.NoError(t, err)
		_, err = c.Define("once", []field.Definer{field.String("a")})
		require.ErrorContains(t, err, "already defined")
	})
}

func TestUniqueKeys(t *testing.T) {
	c, _ := mockClient(t)
	m, err := c.Define("entry", []field.Definer{
		field.Integer("id").PrimaryKey("id is taken"),
		field.String("Code").Unique(),
		field.Integer("ref_id"),
		field.String("value3"),
	},
		tessera.WithoutTimestamps(),
		tessera.UniqueKey("", "", "ref_id", "value3"),
		tessera.UniqueKey("by_code", "code is taken", "Code", "ref_id"),
	)
	require.NoError(t, err)
	keys := m.UniqueKeys()
	require.Len(t, keys, 4)
	assert.Equal(t, tessera.Key{Name: "id", Fields: []string{"id"}, Msg: "id is taken"}, keys["id"])
	assert.Equal(t, []string{"Code"}, keys["code"].Fields)
	assert.Equal(t, []string{"ref_id", "value3"}, keys["ref_id_value3"].Fields)
	assert.Equal(t, "code is taken", keys["by_code"].Msg)
}

func TestModelHooks(t *testing.T) {
	c, _ := mockClient(t)
	items := defineItems(t, c)
	noop := func(context.Context, *tessera.Instance) error { return nil }

	require.Error(t, items.AddHook("beforeSave", noop))
	require.Error(t, items.AddHook(tessera.BeforeCreate, nil))
	require.NoError(t, items.AddHook(tessera.BeforeDelete, noop))
	require.NoError(t, items.AddHook(tessera.AfterDestroy, noop))
	require.NoError(t, items.AddHook(tessera.AfterDelete, noop))

	assert.Len(t, items.Hooks(tessera.BeforeDestroy), 1)
	assert.Len(t, items.Hooks(tessera.AfterDelete), 2)
	assert.Len(t, tessera.HookTypes(), 12)

	items.ClearHooks()
	assert.Empty(t, items.Hooks(tessera.BeforeDestroy))
}

func TestModel_Find(t *testing.T) {
	ctx := context.Background()

	t.Run("PrimaryKey", func(t *testing.T) {
		c, mock := mockClient(t)
		items := defineItems(t, c)
		mock.ExpectQuery("SELECT * FROM `items` WHERE `id` = ? LIMIT 0,1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(int64(1), int64(2), int64(3), "a", "1,2,3", "n"))

		i, err := items.Find(ctx, "1")
		require.NoError(t, err)
		assert.False(t, i.IsNewRecord())
		assert.Equal(t, int64(1), i.Get("id"))
		assert.Equal(t, []any{int64(1), int64(2), int64(3)}, i.Get("tags"))
		assert.Empty(t, i.ChangedFields())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		c, mock := mockClient(t)
		items := defineItems(t, c)
		mock.ExpectQuery("SELECT * FROM `items` WHERE `id` = ? LIMIT 0,1").
			WithArgs(9).
			WillReturnRows(sqlmock.NewRows(itemColumns))

		_, err := items.Find(ctx, 9)
		require.True(t, tessera.IsNotFound(err))
		assert.Equal(t, "tessera: item not found (id=9)", err.Error())
	})

	t.Run("Map", func(t *testing.T) {
		c, mock := mockClient(t)
		items := defineItems(t, c)
		mock.ExpectQuery("SELECT * FROM `items` WHERE `ref_id` = ? AND `value3` = ? LIMIT 0,1").
			WithArgs(2, "a").
			WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(int64(1), int64(2), int64(3), "a", "", "n"))

		i, err := items.Find(ctx, map[string]any{"value3": "a", "ref_id": "2"})
		require.NoError(t, err)
		assert.Equal(t, []any{}, i.Get("tags"))
	})

	t.Run("Query", func(t *testing.T) {
		c, mock := mockClient(t)
		items := defineItems(t, c)
		mock.ExpectQuery("SELECT * FROM `items` WHERE `value1` > ? ORDER BY `value1` DESC LIMIT 0,1").
			WithArgs(5).
			WillReturnRows(sqlmock.NewRows(itemColumns))

		_, err := items.Find(ctx, tessera.Query{
			Where:   dialect.Where{{Field: "value1", Value: dialect.Ops{"gt": 5}}},
			OrderBy: "value1 desc",
		})
		require.True(t, tessera.IsNotFound(err))
	})

	t.Run("QueryError", func(t *testing.T) {
		c, mock := mockClient(t)
		items := defineItems(t, c)
		mock.ExpectQuery("SELECT * FROM `items`").WillReturnError(assert.AnError)

		_, err := items.FindAll(ctx, tessera.Query{})
		require.True(t, tessera.IsQueryError(err))
		require.ErrorIs(t, err, assert.AnError)
	})
}

func TestModel_FindAllInclude(t *testing.T) {
	ctx := context.Background()
	c, mock := mockClient(t)
	users, err := c.Define("user", []field.Definer{
		field.Integer("id").PrimaryKey().AutoIncrement(),
		field.String("name"),
	}, tessera.WithoutTimestamps())
	require.NoError(t, err)
	posts, err := c.Define("post", []field.Definer{
		field.Integer("id").PrimaryKey().AutoIncrement(),
		field.Integer("user_id"),
	}, tessera.WithoutTimestamps(), tessera.ForeignKey("user_id", "user", "id", ""))
	require.NoError(t, err)

	cols := []string{"Field", "Type", "Null", "Key", "Default", "Extra"}
	mock.ExpectQuery("SHOW COLUMNS FROM `posts`").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("id", "int", "NO", "PRI", nil, "").AddRow("user_id", "int", "NO", "", nil, ""))
	mock.ExpectQuery("SHOW COLUMNS FROM `users`").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("id", "int", "NO", "PRI", nil, "").AddRow("name", "varchar", "NO", "", nil, ""))
	mock.ExpectQuery("SELECT `posts`.*, `author`.* FROM `posts` JOIN `users` AS `author` ON `posts`.`user_id` = `author`.`id`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "id", "name"}).AddRow(int64(1), int64(2), int64(2), "a8m"))

	list, err := posts.FindAll(ctx, tessera.Query{Include: []tessera.Include{{Model: users, As: "author"}}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].Get("user_id"))
	assert.Nil(t, list[0].Get("author"))

	author, err := list[0].Included("author")
	require.NoError(t, err)
	assert.Equal(t, "a8m", author.Get("name"))
	assert.Same(t, users, author.Model())

	_, err = list[0].Included("comments")
	require.True(t, tessera.IsNotLoaded(err))
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = users.FindAll(ctx, tessera.Query{Include: []tessera.Include{{Model: posts}}})
	require.ErrorContains(t, err, "on field pair")
}

func TestModel_Count(t *testing.T) {
	c, mock := mockClient(t)
	items := defineItems(t, c)
	mock.ExpectQuery("SELECT COUNT(*) AS `count` FROM (SELECT 1 FROM `items` WHERE `value1` IN (?, ?) GROUP BY `ref_id`) AS `groups`").
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	n, err := items.Count(context.Background(), tessera.Query{
		Where:   dialect.Eq(map[string]any{"value1": []int{1, 2}}),
		GroupBy: "ref_id",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestModel_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("Direct", func(t *testing.T) {
		c, mock := mockClient(t)
		items := defineItems(t, c)
		mock.ExpectExec("UPDATE `items` SET `value1` = `value1` + ?, `value3` = ? WHERE `ref_id` = ?").
			WithArgs(2, "b", 1).
			WillReturnResult(sqlmock.NewResult(0, 3))

		n, err := items.Update(ctx, map[string]any{
			"value1":  dialect.Increment(2),
			"value3":  "b",
			"name":    "ignored",
			"unknown": 1,
		}, tessera.Query{Where: dialect.Eq(map[string]any{"ref_id": 1}), Offset: 10}, tessera.Direct())
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DirectTimestamps", func(t *testing.T) {
		c, mock := mockClient(t)
		m, err := c.Define("note", []field.Definer{
			field.Integer("id").PrimaryKey().AutoIncrement(),
			field.String("body"),
		})
		require.NoError(t, err)
		mock.ExpectExec("UPDATE `notes` SET `body` = ?, `updated_at` = ?").
			WithArgs("x", testTime).
			WillReturnResult(sqlmock.NewResult(0, 0))

		n, err := m.Update(ctx, map[string]any{"body": "x"}, tessera.Query{}, tessera.Direct())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("PerInstance", func(t *testing.T) {
		c, mock := mockClient(t)
		items := defineItems(t, c)
		var updated []any
		require.NoError(t, items.AddHook(tessera.AfterUpdate, func(_ context.Context, i *tessera.Instance) error {
			updated = append(updated, i.Get("id"))
			return nil
		}))
		mock.ExpectQuery("SELECT * FROM `items` WHERE `ref_id` = ?").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(itemColumns).
				AddRow(int64(1), int64(1), int64(0), "a", "", "n").
				AddRow(int64(2), int64(1), int64(7), "b", "", "n"))
		mock.ExpectExec("UPDATE `items` SET `value1` = ? WHERE `id` = ? LIMIT 1").
			WithArgs(7, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		n, err := items.Update(ctx, map[string]any{"value1": 7}, tessera.Query{Where: dialect.Eq(map[string]any{"ref_id": 1})})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		// The second row already holds the value.
		assert.Equal(t, []any{int64(1), int64(2)}, updated)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PerInstanceError", func(t *testing.T) {
		c, mock := mockClient(t)
		items := defineItems(t, c)
		mock.ExpectQuery("SELECT * FROM `items`").
			WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(int64(1), int64(1), int64(0), "a", "", "n"))
		mock.ExpectExec("UPDATE `items` SET `value1` = ? WHERE `id` = ? LIMIT 1").
			WithArgs(7, 1).
			WillReturnError(assert.AnError)

		n, err := items.Update(ctx, map[string]any{"value1": 7}, tessera.Query{})
		require.True(t, tessera.IsMutationError(err))
		require.ErrorIs(t, err, assert.AnError)
		assert.Zero(t, n)
	})
}

func TestModel_Destroy(t *testing.T) {
	ctx := context.Background()

	t.Run("Statement", func(t *testing.T) {
		c, mock := mockClient(t)
		items := defineItems(t, c)
		var hooked bool
		require.NoError(t, items.AddHook(tessera.BeforeDestroy, func(context.Context, *tessera.Instance) error {
			hooked = true
			return nil
		}))
		mock.ExpectExec("DELETE FROM `items` WHERE `value1` < ? ORDER BY `id` LIMIT 5").
			WithArgs(0).
			WillReturnResult(sqlmock.NewResult(0, 4))

		n, err := items.Destroy(ctx, tessera.Query{
			Where:   dialect.Where{{Field: "value1", Value: dialect.Ops{"lt": 0}}},
			OrderBy: "id",
			Limit:   5,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
		assert.False(t, hooked)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Individually", func(t *testing.T) {
		c, mock := mockClient(t)
		items := defineItems(t, c)
		var destroyed []any
		require.NoError(t, items.AddHook(tessera.AfterDelete, func(_ context.Context, i *tessera.Instance) error {
			destroyed = append(destroyed, i.Get("id"))
			return nil
		}))
		mock.ExpectQuery("SELECT * FROM `items` WHERE `ref_id` = ?").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(itemColumns).
				AddRow(int64(1), int64(1), int64(0), "a", "", "n").
				AddRow(int64(2), int64(1), int64(0), "b", "", "n"))
		mock.ExpectExec("DELETE FROM `items` WHERE `id` = ? LIMIT 1").
			WithArgs(1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM `items` WHERE `id` = ? LIMIT 1").
			WithArgs(2).
			WillReturnResult(sqlmock.NewResult(0, 1))

		n, err := items.Destroy(ctx, tessera.Query{Where: dialect.Eq(map[string]any{"ref_id": 1})}, tessera.Individually())
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, []any{int64(1), int64(2)}, destroyed)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error", func(t *testing.T) {
		c, mock := mockClient(t)
		items := defineItems(t, c)
		mock.ExpectExec("DELETE FROM `items`").WillReturnError(assert.AnError)

		_, err := items.Destroy(ctx, tessera.Query{})
		require.True(t, tessera.IsMutationError(err))
	})
}

func TestModel_Cache(t *testing.T) {
	ctx := context.Background()
	cache := tessera.NewMemoryCache()
	c, mock := mockClient(t, tessera.WithCache(cache, time.Minute))
	items := defineItems(t, c)
	row := func() *sqlmock.Rows {
		return sqlmock.NewRows(itemColumns).AddRow(int64(1), int64(2), int64(3), "a", "1,2", "n")
	}
	mock.ExpectQuery("SELECT * FROM `items` WHERE `id` = ? LIMIT 0,1").WithArgs(1).WillReturnRows(row())

	first, err := items.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	// Served from the cache.
	second, err := items.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first.Data(), second.Data())
	assert.NotSame(t, first, second)

	mock.ExpectExec("UPDATE `items` SET `value1` = ? WHERE `id` = ? LIMIT 1").
		WithArgs(4, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, second.Set("value1", 4).Save(ctx))
	assert.Zero(t, cache.Len())

	mock.ExpectQuery("SELECT * FROM `items` WHERE `id` = ? LIMIT 0,1").WithArgs(1).WillReturnRows(row())
	_, err = items.Find(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryDebug(t *testing.T) {
	c, mock := mockClient(t)
	items := defineItems(t, c)
	mock.ExpectQuery("SELECT DISTINCT `value3` FROM `items` GROUP BY `value3` ORDER BY `value3` ASC LIMIT 20,10").
		WillReturnRows(sqlmock.NewRows([]string{"value3"}).AddRow("a"))

	list, err := items.FindAll(context.Background(), tessera.Query{
		Select:   []string{"value3"},
		Distinct: true,
		GroupBy:  "value3",
		OrderBy:  "value3 asc",
		Limit:    10,
		Offset:   20,
		Debug:    true,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Get("value3"))
}
