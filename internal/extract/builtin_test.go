package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rostertrack/internal/tracker"
)

func TestBuiltinsCompile(t *testing.T) {
	t.Parallel()

	builtins, err := Builtins()
	require.NoError(t, err)
	sites := BuiltinSites(builtins)
	assert.Contains(t, sites, "philosophy_princeton")
	assert.Contains(t, sites, "philosophy_ucsc")
	assert.Contains(t, sites, "www_bgsu")
	assert.Contains(t, sites, "www_stonybrook")
	assert.NotContains(t, sites, "bgsu_edu")
	assert.IsIncreasing(t, sites)
}

func TestBuiltinSamples(t *testing.T) {
	t.Parallel()

	builtins, err := Builtins()
	require.NoError(t, err)

	cases := []struct {
		site tracker.SiteID
		html string
		want []string
	}{
		{
			site: "philosophy_princeton",
			html: `<div class="views-field views-field-title"><span class="field-content">Alice Smith</span></div>
<div class="views-field views-field-title"><span class="field-content">Graduate Students (2021)</span></div>`,
			want: []string{"Alice Smith"},
		},
		{
			site: "phil_uic",
			html: `<h3 class="_title"><span class="_name">Smith, Alice</span><span class="_academic-title">Graduate Student</span></h3>
<h3 class="_title"><span class="_name">Doe, John</span><span class="_academic-title">Professor</span></h3>`,
			want: []string{"Smith Alice"},
		},
		{
			site: "philosophy_colostate",
			html: `<ul><li class="cla-people-list-item" data-position-title="Graduate Teaching Assistant"><h3 class="cla-people-name">Bob Jones</h3></li>
<li class="cla-people-list-item" data-position-title="Instructor"><h3 class="cla-people-name">Dana Fox</h3></li></ul>`,
			want: []string{"Bob Jones"},
		},
		{
			site: "philosophy_arizona",
			html: `<h4 class="card-title">Carol White</h4><h4 class="card-title">Carol White</h4>`,
			want: []string{"Carol White"},
		},
		{
			site: "philosophy_ucsc",
			html: `<div><h3 class="item-name"><span class="p-name">Alice Smith</span></h3><strong>Title</strong><ul><li>PhD Student</li></ul></div>
<div><h3 class="item-name"><span class="p-name">Erin Gray</span></h3><strong>Title</strong><ul><li>Lecturer</li></ul></div>`,
			want: []string{"Alice Smith"},
		},
		{
			site: "www_sas",
			html: `<article><h4 class="name">Alice Smith</h4><p class="position">PhD</p></article>
<article><h4 class="name">Frank Hall</h4><p class="position">Postdoc</p></article>`,
			want: []string{"Alice Smith"},
		},
		{
			site: "www_philosophy",
			html: `<div class="views-row"><div class="views-field-title">Bob Jones</div></div>
<div class="views-row"><div class="views-field-title">Carol White</div></div>`,
			want: []string{"Bob Jones", "Carol White"},
		},
	}
	for _, tc := range cases {
		ex, ok := builtins[tc.site]
		require.True(t, ok, tc.site)
		got, err := Run(ex, tc.html)
		require.NoError(t, err, tc.site)
		assert.Equal(t, tc.want, got, tc.site)
	}
}
