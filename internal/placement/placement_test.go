package placement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rostertrack/internal/tracker"
)

type pages map[string]string

func (p pages) Fetch(_ context.Context, url string) string { return p[url] }

const placementPage = `<html><head><script>var Fake Name = 1;</script></head><body>
<h2>Recent Placements</h2>
<ul><li>Alice Smith</li><li>Robert Lee<span>Tenure Track</span></li></ul>
<p>Placed at Ohio State</p></body></html>`

func TestNames(t *testing.T) {
	t.Parallel()

	names := Names(placementPage)
	assert.Contains(t, names, "Alice Smith")
	assert.Contains(t, names, "Robert Lee")
	assert.Contains(t, names, "Recent Placements")
	assert.Contains(t, names, "Tenure Track")
	assert.NotContains(t, names, "Fake Name")
}

func TestMatches(t *testing.T) {
	t.Parallel()

	candidates := []string{"Alice Smith", "Ohio State"}
	assert.True(t, Matches("Alice Smith", candidates))
	assert.True(t, Matches("Smith Alice", candidates))
	assert.True(t, Matches("Alice B. Smith", candidates))
	assert.False(t, Matches("Alice Jones", candidates))
	assert.False(t, Matches("Alice", candidates))
}

func TestMark(t *testing.T) {
	t.Parallel()

	const url = "https://philosophy.example.edu/placement"
	checker := New(pages{url: placementPage}, nil)
	in := []tracker.PersonSummary{{Name: "Alice Smith"}, {Name: "Bob Lee"}, {Name: "Robert Lee"}}

	out := checker.Mark(context.Background(), url, in)
	require.Len(t, out, 3)
	assert.True(t, out[0].Placement)
	assert.Equal(t, url, out[0].PlacementURL)
	assert.False(t, out[1].Placement)
	assert.True(t, out[2].Placement)
	assert.False(t, in[0].Placement, "input is not modified")

	assert.Equal(t, in, checker.Mark(context.Background(), "", in))
	assert.Equal(t, in, checker.Mark(context.Background(), "https://missing.example.edu", in))
}
