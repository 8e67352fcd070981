package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/bookspirit/internal/domain"
)

type fakeSource struct {
	books       []domain.Book
	listErr     error
	levelCalls  int
	levelResult []domain.Book
}

func (f *fakeSource) ListBooks(context.Context) ([]domain.Book, error) {
	return f.books, f.listErr
}

func (f *fakeSource) GetRecommendedBooks(_ context.Context, ceiling, limit int) ([]domain.Book, error) {
	f.levelCalls++
	var out []domain.Book
	for _, b := range f.levelResult {
		if b.RecommendLevel <= ceiling && len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

var testBooks = []domain.Book{
	{BookID: "xyj", Title: "西游记", Description: "齐天大圣的七十二变与取经路上的奇幻冒险", RecommendLevel: 2},
	{BookID: "cfz", Title: "草房子", Description: "纯净的童年世界", RecommendLevel: 1},
	{BookID: "sh", Title: "中国古代神话", Description: "中华文明的起源与浪漫想象", RecommendLevel: 1},
	{BookID: "shz", Title: "水浒传", Description: "一百单八将的冒险故事", RecommendLevel: 5},
}

func newRecommender(t *testing.T, src *fakeSource) *Recommender {
	t.Helper()
	r, err := New(src, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.Refresh(context.Background()))
	return r
}

func TestRecommend_TopicSearchRespectsLevel(t *testing.T) {
	t.Parallel()

	src := &fakeSource{books: testBooks}
	r := newRecommender(t, src)

	got, err := r.Recommend(context.Background(), 3, "冒险", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "xyj", got[0].BookID)
	assert.Equal(t, 0, src.levelCalls)

	got, err = r.Recommend(context.Background(), 5, "冒险", 3)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRecommend_NoTopicUsesLevelList(t *testing.T) {
	t.Parallel()

	src := &fakeSource{books: testBooks, levelResult: testBooks}
	r := newRecommender(t, src)

	got, err := r.Recommend(context.Background(), 1, "", 3)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, src.levelCalls)
}

func TestRecommend_NoHitsFallsBackToLevelList(t *testing.T) {
	t.Parallel()

	src := &fakeSource{books: testBooks, levelResult: testBooks[:1]}
	r := newRecommender(t, src)

	got, err := r.Recommend(context.Background(), 3, "宇宙飞船", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "xyj", got[0].BookID)
	assert.Equal(t, 1, src.levelCalls)
}

func TestRefresh_SourceError(t *testing.T) {
	t.Parallel()

	r, err := New(&fakeSource{listErr: errors.New("db down")}, nil)
	require.NoError(t, err)
	defer r.Close()

	assert.Error(t, r.Refresh(context.Background()))
}
