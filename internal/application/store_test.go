package application

import (
	"context"
	"testing"

	"github.com/jmsrsd/strn-app/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTripsEveryKind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := func(key string) domain.ValueRef { return domain.ValueRef{Domain: "post", ID: "p1", Key: key} }

	require.NoError(t, f.store.SetText(ctx, ref("title"), "Hello"))
	require.NoError(t, f.store.SetNumeric(ctx, ref("created"), 1700000000))
	require.NoError(t, f.store.SetDocument(ctx, ref("content"), "# Hello"))
	require.NoError(t, f.store.SetFile(ctx, ref("cover"), []byte{9, 8, 7}))

	title, err := f.store.GetText(ctx, ref("title"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", title)

	created, err := f.store.Value(ctx, domain.KindNumeric, ref("created"))
	require.NoError(t, err)
	assert.Equal(t, float64(1700000000), created)

	cover, err := f.store.Value(ctx, domain.KindFile, ref("cover"))
	require.NoError(t, err)
	assert.Equal(t, domain.ByteArray{9, 8, 7}, cover)

	require.NoError(t, f.store.DropValue(ctx, domain.KindText, ref("title")))
	title, err = f.store.GetText(ctx, ref("title"))
	require.NoError(t, err)
	assert.Equal(t, "", title)

	_, err = f.store.GetText(ctx, domain.ValueRef{Domain: "post", Key: "title"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.ErrorIs(t, f.store.DropValue(ctx, "blob", ref("title")), domain.ErrUnknownKind)
}

func TestStoreFindUsesDomainModel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SetText(ctx, domain.ValueRef{Domain: "post", ID: "E1", Key: "title"}, "Foo"))
	require.NoError(t, f.store.SetText(ctx, domain.ValueRef{Domain: "post", ID: "E2", Key: "title"}, "Bar"))
	require.NoError(t, f.store.SetNumeric(ctx, domain.ValueRef{Domain: "post", ID: "E2", Key: "created"}, 5))

	ids, err := f.store.Find(ctx, "post", "title", domain.Contains("oo"))
	require.NoError(t, err)
	assert.Equal(t, []string{"E1"}, ids)

	ids, err = f.store.Find(ctx, "post", "created", domain.Predicate{Gte: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"E2"}, ids)

	_, err = f.store.Find(ctx, "post", "missing", domain.Equals("x"))
	assert.ErrorIs(t, err, domain.ErrUnknownAttribute)

	_, err = f.store.Find(ctx, "document", "blob", domain.Equals("x"))
	assert.ErrorIs(t, err, domain.ErrNotFilterable)
}

func TestStoreBrowseClampsTake(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.store.CreateEntity(ctx, "post", "")
		require.NoError(t, err)
	}

	page, err := f.store.Browse(ctx, "post", domain.BrowseQuery{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTake, page.Take)
	assert.Len(t, page.IDs, 3)

	page, err = f.store.Browse(ctx, "post", domain.BrowseQuery{Take: 5000, Skip: -3})
	require.NoError(t, err)
	assert.Equal(t, MaxTake, page.Take)
	assert.Equal(t, 0, page.Skip)

	page, err = f.store.Browse(ctx, "post", domain.BrowseQuery{Skip: 3, Take: 1})
	require.NoError(t, err)
	assert.Empty(t, page.IDs)
	assert.Equal(t, int64(3), page.Total)

	_, err = f.store.Browse(ctx, "post", domain.BrowseQuery{Order: "sideways"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStoreRecordReadsModelAttributes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SetText(ctx, domain.ValueRef{Domain: "post", ID: "p1", Key: "title"}, "Hello"))
	require.NoError(t, f.store.SetDocument(ctx, domain.ValueRef{Domain: "post", ID: "p1", Key: "content"}, "body"))

	record, err := f.store.Record(ctx, "post", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", record.Fields["title"])
	assert.Equal(t, "body", record.Fields["content"])
	assert.Equal(t, "", record.Fields["author"])
	assert.Equal(t, float64(0), record.Fields["created"])
	assert.Len(t, record.Fields, 5)

	_, err = f.store.Record(ctx, "post", "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	total, err := f.store.Count(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, err = f.store.Record(ctx, "unmodelled", "p1")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStoreDropScopesToApplication(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SetText(ctx, domain.ValueRef{Domain: "post", ID: "p1", Key: "title"}, "Hello"))
	require.NoError(t, f.store.SetText(ctx, domain.ValueRef{Domain: "page", ID: "home", Key: "title"}, "Home"))

	domains, err := f.store.Domains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"page", "post"}, domains)

	require.NoError(t, f.store.DropEntity(ctx, "post", "p1"))
	ids, err := f.store.Find(ctx, "post", "title", domain.Equals("Hello"))
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, f.store.Drop(ctx, domain.DropTarget{Level: domain.LevelDomain, Application: "elsewhere", Domain: "page"}))
	domains, err = f.store.Domains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"post"}, domains)

	apps, err := f.store.Applications(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, apps)

	attrs, err := f.store.Attributes(ctx, "post", "p1")
	require.NoError(t, err)
	assert.Empty(t, attrs)
}
