package generator

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rostertrack/internal/extract"
	"github.com/JakeFAU/rostertrack/internal/retry"
	"github.com/JakeFAU/rostertrack/internal/storage/memory"
	"github.com/JakeFAU/rostertrack/internal/tracker"
	"github.com/JakeFAU/rostertrack/internal/validate"
)

const rosterPage = `<html><body><h1>Graduate Students</h1>
<ul class="students"><li>Alice Smith</li><li>Bob Jones</li><li>Carol White</li></ul>
</body></html>`

const goodReply = "Here is the rule:\n```yaml\nname: ul.students li\n```\n"

type scriptedService struct {
	replies []string
	errs    []error
	seen    []Conversation
}

func (s *scriptedService) Complete(_ context.Context, conv Conversation) (string, error) {
	i := len(s.seen)
	s.seen = append(s.seen, conv)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i >= len(s.replies) {
		return s.replies[len(s.replies)-1], nil
	}
	return s.replies[i], nil
}

func newTestGenerator(
	t *testing.T,
	svc Service,
	builtins map[tracker.SiteID]extract.Extractor,
	cfg Config,
) (*Generator, *extract.Registry, *memory.BlobStore) {
	t.Helper()
	store := memory.NewBlobStore()
	reg := extract.NewRegistry(store, nil, builtins, nil)
	prompts, err := LoadPrompts(nil)
	require.NoError(t, err)
	return New(reg, validate.New(), svc, prompts, rand.New(rand.NewSource(1)), cfg, nil), reg, store
}

func TestEnsureValidKeepsWorkingModule(t *testing.T) {
	t.Parallel()

	svc := &scriptedService{}
	gen, _, store := newTestGenerator(t, svc, nil, Config{})
	reg := extract.NewRegistry(store, nil, nil, nil)
	require.NoError(t, reg.Put(context.Background(), "philosophy_example", []byte("name: ul.students li\n")))

	require.NoError(t, gen.EnsureValid(context.Background(), "philosophy_example", rosterPage))
	assert.Empty(t, svc.seen)
}

func TestEnsureValidRepairsBrokenModule(t *testing.T) {
	t.Parallel()

	empty := extract.ExtractorFunc(func(*goquery.Document) ([]string, error) { return nil, nil })
	svc := &scriptedService{replies: []string{"```yaml\nname: h1\n```", goodReply}}
	gen, reg, store := newTestGenerator(t, svc, map[tracker.SiteID]extract.Extractor{"philosophy_example": empty}, Config{})

	require.NoError(t, gen.EnsureValid(context.Background(), "philosophy_example", rosterPage))
	require.Len(t, svc.seen, 2)

	first := svc.seen[0].Messages()
	require.Len(t, first, 2)
	assert.Contains(t, first[0].Content, "extraction rules")
	assert.Contains(t, first[1].Content, "Alice Smith")

	second := svc.seen[1].Messages()
	require.Len(t, second, 4)
	assert.Equal(t, RoleAssistant, second[2].Role)
	repair := second[3].Content
	assert.Contains(t, repair, "name: h1")
	assert.Contains(t, repair, "invalid name")
	assert.Contains(t, repair, `"Graduate Students"`)

	assert.Equal(t, []string{"rules/philosophy_example.yaml"}, store.Paths("rules/"))
	names, err := reg.Invoke(context.Background(), "philosophy_example", rosterPage)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice Smith", "Bob Jones", "Carol White"}, names)
}

func TestEnsureValidNeverPersistsRejectedCandidates(t *testing.T) {
	t.Parallel()

	svc := &scriptedService{replies: []string{"```yaml\nname: h1\n```"}}
	gen, _, store := newTestGenerator(t, svc, nil, Config{MaxIterations: 3})

	err := gen.EnsureValid(context.Background(), "philosophy_example", rosterPage)
	require.ErrorIs(t, err, tracker.ErrGenerationExhausted)
	assert.Len(t, svc.seen, 3)
	assert.Empty(t, store.Paths("rules/"))
}

func TestEnsureValidFeedsCompileErrorsBack(t *testing.T) {
	t.Parallel()

	svc := &scriptedService{replies: []string{"```yaml\nname: 'li[['\n```", goodReply}}
	gen, _, store := newTestGenerator(t, svc, nil, Config{})

	require.NoError(t, gen.EnsureValid(context.Background(), "philosophy_example", rosterPage))
	require.Len(t, svc.seen, 2)
	last, ok := svc.seen[1].Last()
	require.True(t, ok)
	assert.Contains(t, last.Content, "li[[")
	assert.Contains(t, last.Content, "Names it produced: []")
	assert.Len(t, store.Paths("rules/"), 1)
}

func TestEnsureValidAbortsOnFatalServiceError(t *testing.T) {
	t.Parallel()

	cases := map[string]*tracker.ExternalServiceError{
		"bad key": {Op: "chat completion", StatusCode: http.StatusUnauthorized, Err: errors.New("bad key")},
		"quota":   {Op: "chat completion", StatusCode: http.StatusTooManyRequests, Code: "insufficient_quota", Err: errors.New("quota")},
	}
	for name, svcErr := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			svc := &scriptedService{errs: []error{svcErr}, replies: []string{goodReply}}
			gen, _, store := newTestGenerator(t, svc, nil, Config{ServiceDelay: time.Millisecond})

			err := gen.EnsureValid(context.Background(), "philosophy_example", rosterPage)
			var got *tracker.ExternalServiceError
			require.ErrorAs(t, err, &got)
			assert.Equal(t, svcErr.StatusCode, got.StatusCode)
			assert.Len(t, svc.seen, 1)
			assert.Empty(t, store.Paths("rules/"))
		})
	}
}

func TestEnsureValidRetriesTransientServiceError(t *testing.T) {
	t.Parallel()

	overloaded := &tracker.ExternalServiceError{Op: "chat completion", StatusCode: http.StatusServiceUnavailable, Err: errors.New("overloaded")}
	svc := &scriptedService{errs: []error{overloaded}, replies: []string{goodReply}}
	gen, _, store := newTestGenerator(t, svc, nil, Config{ServiceDelay: time.Millisecond})

	require.NoError(t, gen.EnsureValid(context.Background(), "philosophy_example", rosterPage))
	require.Len(t, svc.seen, 2)
	assert.Equal(t, svc.seen[0].Messages(), svc.seen[1].Messages())
	assert.Equal(t, []string{"rules/philosophy_example.yaml"}, store.Paths("rules/"))
}

func TestEnsureValidBoundsServiceRetries(t *testing.T) {
	t.Parallel()

	timeout := &tracker.ExternalServiceError{Op: "chat completion", Err: errors.New("no reply within 2m0s")}
	svc := &scriptedService{errs: []error{timeout, timeout, timeout, timeout}, replies: []string{goodReply}}
	gen, _, store := newTestGenerator(t, svc, nil, Config{ServiceAttempts: 3, ServiceDelay: time.Millisecond})

	err := gen.EnsureValid(context.Background(), "philosophy_example", rosterPage)
	require.ErrorIs(t, err, retry.ErrAttemptsExhausted)
	assert.Len(t, svc.seen, 3)
	assert.Empty(t, store.Paths("rules/"))
}

func TestEnsureValidResamplesLongHistory(t *testing.T) {
	t.Parallel()

	svc := &scriptedService{replies: []string{"```yaml\nname: h1\n```", "```yaml\nname: h1\n```", goodReply}}
	gen, _, _ := newTestGenerator(t, svc, nil, Config{MaxHistoryChars: 1})

	require.NoError(t, gen.EnsureValid(context.Background(), "philosophy_example", rosterPage))
	require.Len(t, svc.seen, 3)
	for _, conv := range svc.seen {
		assert.Equal(t, 2, conv.Len())
	}
}

func TestEnsureValidRespectsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := &scriptedService{errs: []error{context.Canceled}, replies: []string{goodReply}}
	gen, _, _ := newTestGenerator(t, svc, nil, Config{})

	err := gen.EnsureValid(ctx, "philosophy_example", rosterPage)
	require.ErrorIs(t, err, context.Canceled)
}
