package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rostertrack/internal/tracker"
)

func date(y int, m time.Month, d int) tracker.Date {
	return tracker.NewDate(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func observe(name, url string, at tracker.Date, active bool) tracker.Observation {
	return tracker.Observation{
		Name:       name,
		University: "example",
		Department: "philosophy",
		SourceURL:  url,
		CapturedAt: at,
		Active:     active,
	}
}

func TestAggregateThreeSnapshots(t *testing.T) {
	t.Parallel()

	const (
		snap2020 = "http://web.archive.org/web/20200101000000/http://philosophy.example.edu:80/people/"
		snap2021 = "http://web.archive.org/web/20210601000000/http://philosophy.example.edu:80/people/"
		live     = "https://philosophy.example.edu/people/"
	)
	d2020, d2021, d2022 := date(2020, 1, 1), date(2021, 6, 1), date(2022, 1, 1)

	obs := []tracker.Observation{
		observe("Alice Smith", snap2020, d2020, false),
		observe("Bob Lee", snap2020, d2020, false),
		observe("Alice Smith", snap2021, d2021, false),
		observe("Alice Smith", live, d2022, true),
		observe("Carol King", live, d2022, true),
	}

	got := Aggregate(obs)
	require.Len(t, got, 3)

	alice, bob, carol := got[0], got[1], got[2]
	assert.Equal(t, "Alice Smith", alice.Name)
	assert.Equal(t, d2020, alice.StartDate)
	assert.Equal(t, d2022, alice.EndDate)
	assert.True(t, alice.Active)
	assert.Equal(t, []string{snap2020, snap2021, live}, alice.Snapshots)
	assert.Equal(t, "https://philosophy.example.edu/people", alice.URL)
	assert.InDelta(t, 731.0/365.25, alice.Years, 1e-9)

	assert.Equal(t, "Bob Lee", bob.Name)
	assert.Equal(t, d2020, bob.StartDate)
	assert.Equal(t, d2020, bob.EndDate)
	assert.False(t, bob.Active)
	assert.Zero(t, bob.Years)

	assert.Equal(t, "Carol King", carol.Name)
	assert.Equal(t, d2022, carol.StartDate)
	assert.Equal(t, d2022, carol.EndDate)
	assert.True(t, carol.Active)
	assert.Equal(t, []string{live}, carol.Snapshots)
}

func TestAggregateOutOfOrderAndDuplicates(t *testing.T) {
	t.Parallel()

	late, early := date(2023, 3, 1), date(2019, 9, 1)
	got := Aggregate([]tracker.Observation{
		observe("Dana Cruz", "u2", late, false),
		observe("Dana Cruz", "u1", early, false),
		observe("Dana Cruz", "u2", late, false),
		observe("dana cruz", "u1", early, false),
	})

	require.Len(t, got, 2)
	assert.Equal(t, "Dana Cruz", got[0].Name)
	assert.Equal(t, early, got[0].StartDate)
	assert.Equal(t, late, got[0].EndDate)
	assert.Equal(t, []string{"u2", "u1"}, got[0].Snapshots)
	assert.Equal(t, "u2", got[0].URL)
	assert.Equal(t, "dana cruz", got[1].Name)
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Aggregate(nil))
}
