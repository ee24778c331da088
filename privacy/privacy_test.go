package privacy_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/dialect/mysql"
	"github.com/syssam/tessera/privacy"
	"github.com/syssam/tessera/schema/field"
)

var docColumns = []string{"id", "owner_id", "tenant_id", "title"}

// newDocs defines a model over a mocked MySQL connection.
func newDocs(t *testing.T) (*tessera.Model, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c := tessera.NewClient(mysql.NewDriver(db))
	docs, err := c.Define("doc", []field.Definer{
		field.Integer("id").PrimaryKey().AutoIncrement(),
		field.String("owner_id"),
		field.String("tenant_id"),
		field.String("title"),
	}, tessera.WithoutTimestamps())
	require.NoError(t, err)
	return docs, mock
}

// findDoc reads a persisted doc through the mock.
func findDoc(t *testing.T, docs *tessera.Model, mock sqlmock.Sqlmock, values ...driver.Value) *tessera.Instance {
	t.Helper()
	mock.ExpectQuery("SELECT * FROM `docs` WHERE `id` = ? LIMIT 0,1").
		WithArgs(values[0]).
		WillReturnRows(sqlmock.NewRows(docColumns).AddRow(values...))
	i, err := docs.Find(context.Background(), values[0])
	require.NoError(t, err)
	return i
}

func TestDecisionErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"allowf", privacy.Allowf("owner %s", "a8m"), privacy.Allow},
		{"denyf", privacy.Denyf("tenant %d", 1), privacy.Deny},
		{"skipf", privacy.Skipf("no viewer"), privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.target))
			for _, other := range []error{privacy.Allow, privacy.Deny, privacy.Skip} {
				if other != tt.target {
					assert.False(t, errors.Is(tt.err, other))
				}
			}
		})
	}
	assert.Equal(t, "owner a8m: tessera/privacy: allow rule", privacy.Allowf("owner %s", "a8m").Error())
}

func TestOp(t *testing.T) {
	assert.True(t, privacy.OpCreate.Is(privacy.OpWrite))
	assert.True(t, privacy.OpDestroy.Is(privacy.OpUpdate|privacy.OpDestroy))
	assert.False(t, privacy.OpUpdate.Is(privacy.OpCreate))
	assert.Equal(t, "create", privacy.OpCreate.String())
	assert.Equal(t, "update", privacy.OpUpdate.String())
	assert.Equal(t, "destroy", privacy.OpDestroy.String())
	assert.Equal(t, "Op(7)", privacy.OpWrite.String())
}

func TestMutation(t *testing.T) {
	docs, mock := newDocs(t)

	t.Run("Create", func(t *testing.T) {
		m := privacy.NewMutation(privacy.OpCreate, docs.Build(map[string]any{"owner_id": "a8m"}))
		assert.Equal(t, "doc", m.Model())
		assert.Equal(t, privacy.OpCreate, m.Op())
		v, ok := m.Field("owner_id")
		assert.True(t, ok)
		assert.Equal(t, "a8m", v)
		_, ok = m.Field("title")
		assert.False(t, ok)
		_, ok = m.Field("unknown")
		assert.False(t, ok)
		_, ok = m.OldField("owner_id")
		assert.False(t, ok)
	})

	t.Run("Update", func(t *testing.T) {
		i := findDoc(t, docs, mock, int64(1), "a8m", "t1", "hello")
		i.Set("owner_id", "mallory")
		m := privacy.NewMutation(privacy.OpUpdate, i)
		assert.Same(t, i, m.Instance())
		v, ok := m.Field("owner_id")
		assert.True(t, ok)
		assert.Equal(t, "mallory", v)
		v, ok = m.OldField("owner_id")
		assert.True(t, ok)
		assert.Equal(t, "a8m", v)
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlwaysRules(t *testing.T) {
	docs, _ := newDocs(t)
	m := privacy.NewMutation(privacy.OpCreate, docs.Build(nil))
	ctx := context.Background()
	assert.ErrorIs(t, privacy.AlwaysAllowRule().EvalMutation(ctx, m), privacy.Allow)
	assert.ErrorIs(t, privacy.AlwaysDenyRule().EvalMutation(ctx, m), privacy.Deny)
}

func TestContextMutationRule(t *testing.T) {
	docs, _ := newDocs(t)
	m := privacy.NewMutation(privacy.OpCreate, docs.Build(nil))
	type key struct{}
	rule := privacy.ContextMutationRule(func(ctx context.Context) error {
		if ctx.Value(key{}) != nil {
			return privacy.Allow
		}
		return privacy.Skip
	})
	assert.ErrorIs(t, rule.EvalMutation(context.Background(), m), privacy.Skip)
	assert.ErrorIs(t, rule.EvalMutation(context.WithValue(context.Background(), key{}, true), m), privacy.Allow)
}

func TestOperationRules(t *testing.T) {
	docs, _ := newDocs(t)
	ctx := context.Background()
	create := privacy.NewMutation(privacy.OpCreate, docs.Build(nil))
	destroy := privacy.NewMutation(privacy.OpDestroy, docs.Build(nil))

	t.Run("OnOperation", func(t *testing.T) {
		rule := privacy.OnOperation(privacy.AlwaysDenyRule(), privacy.OpDestroy)
		assert.ErrorIs(t, rule.EvalMutation(ctx, create), privacy.Skip)
		assert.ErrorIs(t, rule.EvalMutation(ctx, destroy), privacy.Deny)
	})

	t.Run("DenyOperationRule", func(t *testing.T) {
		rule := privacy.DenyOperationRule(privacy.OpDestroy)
		err := rule.EvalMutation(ctx, destroy)
		assert.ErrorIs(t, err, privacy.Deny)
		assert.Contains(t, err.Error(), "operation destroy is not allowed")
		assert.ErrorIs(t, rule.EvalMutation(ctx, create), privacy.Skip)
	})

	t.Run("AllowOperationRule", func(t *testing.T) {
		rule := privacy.AllowOperationRule(privacy.OpCreate | privacy.OpUpdate)
		assert.ErrorIs(t, rule.EvalMutation(ctx, create), privacy.Allow)
		assert.ErrorIs(t, rule.EvalMutation(ctx, destroy), privacy.Skip)
	})
}

func TestMutationPolicy(t *testing.T) {
	docs, _ := newDocs(t)
	ctx := context.Background()
	m := privacy.NewMutation(privacy.OpUpdate, docs.Build(nil))
	skip := privacy.MutationRuleFunc(func(context.Context, *privacy.Mutation) error { return nil })

	tests := []struct {
		name    string
		policy  privacy.MutationPolicy
		wantErr error
	}{
		{"empty", nil, nil},
		{"allow", privacy.MutationPolicy{privacy.AlwaysAllowRule(), privacy.AlwaysDenyRule()}, nil},
		{"deny", privacy.MutationPolicy{skip, privacy.AlwaysDenyRule(), privacy.AlwaysAllowRule()}, privacy.Deny},
		{"all_skip", privacy.MutationPolicy{skip, privacy.OnOperation(privacy.AlwaysDenyRule(), privacy.OpCreate)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.EvalMutation(ctx, m)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("custom_error", func(t *testing.T) {
		cause := fmt.Errorf("quota exceeded")
		policy := privacy.MutationPolicy{privacy.MutationRuleFunc(func(context.Context, *privacy.Mutation) error {
			return cause
		})}
		assert.Equal(t, cause, policy.EvalMutation(ctx, m))
	})
}

func TestDecisionContext(t *testing.T) {
	docs, _ := newDocs(t)
	m := privacy.NewMutation(privacy.OpCreate, docs.Build(nil))
	policy := privacy.MutationPolicy{privacy.AlwaysDenyRule()}

	ctx := privacy.DecisionContext(context.Background(), privacy.Allow)
	decision, ok := privacy.DecisionFromContext(ctx)
	assert.True(t, ok)
	assert.NoError(t, decision)
	assert.NoError(t, policy.EvalMutation(ctx, m))

	ctx = privacy.DecisionContext(context.Background(), privacy.Denyf("maintenance"))
	assert.ErrorIs(t, privacy.MutationPolicy{privacy.AlwaysAllowRule()}.EvalMutation(ctx, m), privacy.Deny)

	ctx = privacy.DecisionContext(context.Background(), privacy.Skip)
	_, ok = privacy.DecisionFromContext(ctx)
	assert.False(t, ok)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	docs, mock := newDocs(t)
	require.NoError(t, privacy.Apply(docs, privacy.MutationPolicy{
		privacy.DenyIfNoViewer(),
		privacy.HasRole("admin"),
		privacy.IsOwner("owner_id"),
		privacy.AlwaysDenyRule(),
	}))
	owner := privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "a8m"})

	t.Run("CreateDenied", func(t *testing.T) {
		_, err := docs.Create(ctx, map[string]any{"owner_id": "a8m", "title": "hello"})
		require.True(t, tessera.IsPrivacyError(err))
		assert.ErrorIs(t, err, privacy.Deny)
		var perr *tessera.PrivacyError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "doc", perr.Model)
		assert.Equal(t, "create", perr.Op)
	})

	t.Run("CreateAllowed", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO `docs` SET `owner_id` = ?, `title` = ?").
			WithArgs("a8m", "hello").
			WillReturnResult(sqlmock.NewResult(1, 1))
		i, err := docs.Create(owner, map[string]any{"owner_id": "a8m", "title": "hello"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), i.Get("id"))
	})

	t.Run("TakeOver", func(t *testing.T) {
		i := findDoc(t, docs, mock, int64(2), "a8m", nil, "hello")
		i.Set("title", "mine")
		mallory := privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "mallory"})
		err := i.Update(mallory)
		assert.True(t, tessera.IsPrivacyError(err))
		// Changing the owner field does not grant access to the record.
		i.Set("owner_id", "mallory")
		err = i.Update(mallory)
		assert.True(t, tessera.IsPrivacyError(err))
		assert.True(t, tessera.IsPrivacyError(i.Destroy(mallory)))
		assert.False(t, i.IsDestroyed())
	})

	t.Run("OwnerUpdate", func(t *testing.T) {
		i := findDoc(t, docs, mock, int64(3), "a8m", nil, "hello")
		i.Set("title", "updated")
		mock.ExpectExec("UPDATE `docs` SET `title` = ? WHERE `id` = ? LIMIT 1").
			WithArgs("updated", int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, i.Update(owner))
	})

	t.Run("AdminDestroy", func(t *testing.T) {
		i := findDoc(t, docs, mock, int64(4), "a8m", nil, "hello")
		admin := privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "root", Roles: []string{"admin"}})
		mock.ExpectExec("DELETE FROM `docs` WHERE `id` = ? LIMIT 1").
			WithArgs(int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, i.Destroy(admin))
		assert.True(t, i.IsDestroyed())
	})

	t.Run("Bypass", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO `docs` SET `title` = ?").
			WithArgs("system").
			WillReturnResult(sqlmock.NewResult(5, 1))
		_, err := docs.Create(privacy.DecisionContext(ctx, privacy.Allow), map[string]any{"title": "system"})
		require.NoError(t, err)
	})
	require.NoError(t, mock.ExpectationsWereMet())
}
