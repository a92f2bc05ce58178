package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pubmemory "github.com/JakeFAU/rostertrack/internal/publisher/memory"
	"github.com/JakeFAU/rostertrack/internal/clock/system"
	"github.com/JakeFAU/rostertrack/internal/storage/local"
	"github.com/JakeFAU/rostertrack/internal/storage/memory"
	"github.com/JakeFAU/rostertrack/internal/tracker"
)

type mockMirror struct{ mock.Mock }

func (m *mockMirror) Mirror(ctx context.Context, version int, summaries []tracker.PersonSummary) error {
	args := m.Called(ctx, version, summaries)
	return args.Error(0)
}

func person(name string, active bool) tracker.PersonSummary {
	d := tracker.NewDate(time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC))
	return tracker.PersonSummary{
		Name:       name,
		University: "example",
		Department: "philosophy",
		URL:        "https://philosophy.example.edu/people",
		StartDate:  d,
		EndDate:    d,
		Active:     active,
		Snapshots:  []string{"https://philosophy.example.edu/people"},
	}
}

func newStore(t *testing.T) (*Store, *memory.BlobStore) {
	t.Helper()
	blobs := memory.NewBlobStore()
	clock := system.At(time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC))
	return New(blobs, clock, Config{Prefix: "dataset/", RunID: "run-1"}, nil), blobs
}

func TestMergeAndPersistWritesVersionThenPointer(t *testing.T) {
	t.Parallel()

	store, blobs := newStore(t)
	ctx := context.Background()

	version, written, err := store.MergeAndPersist(ctx, []tracker.PersonSummary{person("Alice Smith", true), person("Bob Lee", false)})
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, 1, version)
	assert.Equal(t, []string{"dataset/person_data_v1.json", "dataset/versions.json"}, blobs.Paths("dataset/"))

	raw, err := blobs.GetObject(ctx, "dataset/versions.json")
	require.NoError(t, err)
	var ptr Pointer
	require.NoError(t, json.Unmarshal(raw, &ptr))
	assert.Equal(t, Pointer{LatestVersion: 1, RunID: "run-1", UpdatedAt: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)}, ptr)

	raw, err = blobs.GetObject(ctx, "dataset/person_data_v1.json")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Start_Date": "2021-06-01"`)

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Number)
	require.Len(t, latest.Summaries, 2)
	assert.Equal(t, "Alice Smith", latest.Summaries[0].Name)
}

func TestMergeAndPersistIsIdempotent(t *testing.T) {
	t.Parallel()

	store, blobs := newStore(t)
	ctx := context.Background()

	_, _, err := store.MergeAndPersist(ctx, []tracker.PersonSummary{person("Alice Smith", true)})
	require.NoError(t, err)
	latest, err := store.Latest(ctx)
	require.NoError(t, err)

	version, written, err := store.MergeAndPersist(ctx, latest.Summaries)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, 1, version)
	assert.Len(t, blobs.Paths("dataset/person_data_"), 1)

	version, written, err = store.MergeAndPersist(ctx, nil)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, 1, version)
}

func TestMergeAndPersistKeepsExistingOnDuplicateNames(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	ctx := context.Background()

	_, _, err := store.MergeAndPersist(ctx, []tracker.PersonSummary{person("Alice Smith", false)})
	require.NoError(t, err)

	version, written, err := store.MergeAndPersist(ctx, []tracker.PersonSummary{
		person("Alice Smith", true),
		person("Carol King", true),
		person("Carol King", false),
	})
	require.NoError(t, err)
	require.True(t, written)
	assert.Equal(t, 2, version)

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest.Summaries, 2)
	names := map[string]int{}
	for _, s := range latest.Summaries {
		names[s.Name]++
	}
	assert.Equal(t, map[string]int{"Alice Smith": 1, "Carol King": 1}, names)
	assert.False(t, latest.Summaries[0].Active, "existing entry wins")
	assert.True(t, latest.Summaries[1].Active, "first incoming occurrence wins")
}

func TestLatestWithDanglingPointerFails(t *testing.T) {
	t.Parallel()

	store, blobs := newStore(t)
	ctx := context.Background()
	_, err := blobs.PutObject(ctx, "dataset/versions.json", "", bytes.NewReader([]byte(`{"latest_version": 4}`)))
	require.NoError(t, err)

	_, err = store.Latest(ctx)
	require.ErrorIs(t, err, tracker.ErrObjectNotFound)

	_, _, err = store.MergeAndPersist(ctx, []tracker.PersonSummary{person("Alice Smith", true)})
	require.Error(t, err)
	assert.NotContains(t, blobs.Paths("dataset/"), "dataset/person_data_v5.json")
}

func TestLatestReadsLegacyDates(t *testing.T) {
	t.Parallel()

	store, blobs := newStore(t)
	ctx := context.Background()
	legacy := `[{"Name":"Alice Smith","Start_Date":"2019-01-01 00:00:00","End_Date":"2020-01-01 00:00:00","Snapshots":[]}]`
	_, err := blobs.PutObject(ctx, "dataset/person_data_v2.json", "", bytes.NewReader([]byte(legacy)))
	require.NoError(t, err)
	_, err = blobs.PutObject(ctx, "dataset/versions.json", "", bytes.NewReader([]byte(`{"latest_version": 2}`)))
	require.NoError(t, err)

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Number)
	assert.Equal(t, "2019-01-01", latest.Summaries[0].StartDate.String())

	version, written, err := store.MergeAndPersist(ctx, []tracker.PersonSummary{person("Bob Lee", false)})
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, 3, version)
}

func TestMirrorsRunAfterCommitAndFailuresAreTolerated(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	pub := pubmemory.New()
	broken := &mockMirror{}
	broken.On("Mirror", mock.Anything, 1, mock.AnythingOfType("[]tracker.PersonSummary")).Return(errors.New("mirror down")).Once()
	store.Register(broken)
	store.Register(NewNotifier(pub, "dataset-versions", store))

	version, written, err := store.MergeAndPersist(context.Background(), []tracker.PersonSummary{
		person("Alice Smith", true), person("Bob Lee", false),
	})
	require.NoError(t, err)
	require.True(t, written)
	broken.AssertExpectations(t)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "dataset-versions", msgs[0].Topic)
	assert.Equal(t, VersionEvent{
		Version: version,
		People:  2,
		Active:  1,
		Path:    "dataset/person_data_v1.json",
		RunID:   "run-1",
	}, msgs[0].Payload)
}

func TestStoreOnLocalDisk(t *testing.T) {
	t.Parallel()

	blobs, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	store := New(blobs, nil, Config{}, nil)
	ctx := context.Background()

	_, written, err := store.MergeAndPersist(ctx, []tracker.PersonSummary{person("Alice Smith", true)})
	require.NoError(t, err)
	require.True(t, written)

	reopened := New(blobs, nil, Config{}, nil)
	latest, err := reopened.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Number)
}

func TestMerge(t *testing.T) {
	t.Parallel()

	merged, added := Merge(
		[]tracker.PersonSummary{person("A B", false)},
		[]tracker.PersonSummary{person("A B", true), person("C D", false), person("C D", true)},
	)
	assert.Equal(t, 1, added)
	require.Len(t, merged, 2)
	assert.Equal(t, "C D", merged[1].Name)
}
