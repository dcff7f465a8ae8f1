package summarize

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ironsheep/moodle-forum-mcp/internal/moodle"
	"github.com/ironsheep/moodle-forum-mcp/internal/resolve"
)

type fakePosts struct {
	posts []moodle.Post
	err   error
	calls int
}

func (f *fakePosts) PostsForDiscussion(ctx context.Context, id int64) ([]moodle.Post, error) {
	f.calls++
	return f.posts, f.err
}

type fakeCompleter struct {
	text string
	err  error
	last CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &Completion{Text: f.text, Model: "test-model", Usage: Usage{TotalTokens: 12}}, nil
}

func ptr(id int64) *int64 { return &id }

func samplePosts() []moodle.Post {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return []moodle.Post{
		{ID: 1, DiscussionID: 5, Author: "Ada", Created: base, Message: strings.Repeat("a", 50)},
		{ID: 2, DiscussionID: 5, ParentID: ptr(1), Author: "Grace", Created: base.Add(time.Hour), Message: strings.Repeat("b", 50)},
		{ID: 3, DiscussionID: 5, ParentID: ptr(2), Author: "Ada", Created: base.Add(2 * time.Hour), Message: strings.Repeat("c", 50)},
		{ID: 4, DiscussionID: 5, ParentID: ptr(1), Author: "Linus", Created: base.Add(3 * time.Hour), Message: strings.Repeat("d", 50)},
	}
}

func TestBuildDigestFitsEverything(t *testing.T) {
	d := BuildDigest(samplePosts(), DefaultCharBudget, CharCounter{})

	assert.Equal(t, []int64{1, 2, 3, 4}, d.IncludedPostIDs)
	assert.Equal(t, 0, d.Omitted)
	assert.NotContains(t, d.Text, "omitted")
	assert.Contains(t, d.Text, "[post 2, reply to 1] Grace @ 2024-03-01T10:00:00Z")
}

func TestBuildDigestBudgetOmitsTail(t *testing.T) {
	posts := samplePosts()
	rootLen := CharCounter{}.Count(digestLine(posts[0]))
	nextLen := CharCounter{}.Count("\n" + digestLine(posts[1]))

	d := BuildDigest(posts, rootLen+nextLen, CharCounter{})

	assert.Equal(t, []int64{1, 2}, d.IncludedPostIDs)
	assert.Equal(t, 2, d.Omitted)
	assert.True(t, strings.HasSuffix(d.Text, "[2 posts omitted]"))
}

func TestBuildDigestRootAlwaysIncluded(t *testing.T) {
	posts := samplePosts()

	d := BuildDigest(posts, 40, CharCounter{})

	require.Equal(t, []int64{1}, d.IncludedPostIDs)
	assert.Equal(t, 3, d.Omitted)
	firstLine := strings.SplitN(d.Text, "\n", 2)[0]
	assert.LessOrEqual(t, CharCounter{}.Count(firstLine), 40)
	assert.True(t, strings.HasSuffix(firstLine, "…"))
}

func TestBuildDigestRootFirstEvenWhenNotFirst(t *testing.T) {
	posts := samplePosts()
	// A reply that sorts before the root (clock skew) still follows it.
	reordered := []moodle.Post{posts[1], posts[0], posts[2], posts[3]}

	d := BuildDigest(reordered, DefaultCharBudget, CharCounter{})
	assert.Equal(t, []int64{1, 2, 3, 4}, d.IncludedPostIDs)
}

func TestBuildDigestDeterministic(t *testing.T) {
	a := BuildDigest(samplePosts(), 300, CharCounter{})
	b := BuildDigest(samplePosts(), 300, CharCounter{})
	assert.Equal(t, a, b)
}

func TestBuildDigestEmpty(t *testing.T) {
	d := BuildDigest(nil, 100, nil)
	assert.Empty(t, d.IncludedPostIDs)
	assert.Empty(t, d.Text)
}

func TestSummarizeUnavailable(t *testing.T) {
	src := &fakePosts{posts: samplePosts()}
	c := NewCoordinator(src, nil)

	assert.False(t, c.Available())
	s, err := c.Summarize(context.Background(), 5, "")
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, ErrCapabilityUnavailable))
	assert.Equal(t, 0, src.calls, "nothing is resolved without the capability")
}

func TestSummarizeUnavailableEvenForBadInput(t *testing.T) {
	c := NewCoordinator(&fakePosts{}, nil)

	_, err := c.Summarize(context.Background(), -1, "")
	assert.True(t, errors.Is(err, ErrCapabilityUnavailable))
}

func TestSummarize(t *testing.T) {
	src := &fakePosts{posts: samplePosts()}
	comp := &fakeCompleter{text: "  - agreed on lab time\n"}
	c := NewCoordinator(src, comp)

	s, err := c.Summarize(context.Background(), 5, "decisions")
	require.NoError(t, err)

	assert.Equal(t, int64(5), s.DiscussionID)
	assert.Equal(t, "decisions", s.Focus)
	assert.Equal(t, "- agreed on lab time", s.Text)
	assert.Equal(t, []int64{1, 2, 3, 4}, s.EvidencePostIDs)
	assert.Equal(t, "test-model", s.Model)
	assert.Equal(t, int64(12), s.Usage.TotalTokens)

	assert.Equal(t, systemPrompt, comp.last.System)
	assert.Contains(t, comp.last.Prompt, "Focus: decisions")
	assert.Contains(t, comp.last.Corpus, "[post 1] Ada")
}

func TestSummarizeDefaultFocus(t *testing.T) {
	comp := &fakeCompleter{text: "ok"}
	c := NewCoordinator(&fakePosts{posts: samplePosts()}, comp)

	s, err := c.Summarize(context.Background(), 5, "   ")
	require.NoError(t, err)
	assert.Equal(t, "", s.Focus)
	assert.Contains(t, comp.last.Prompt, DefaultFocus)
}

func TestSummarizeRespectsBudget(t *testing.T) {
	posts := samplePosts()
	budget := CharCounter{}.Count(digestLine(posts[0]))
	c := NewCoordinator(&fakePosts{posts: posts}, &fakeCompleter{text: "ok"}, WithBudget(budget, CharCounter{}))

	s, err := c.Summarize(context.Background(), 5, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, s.EvidencePostIDs)
	assert.Equal(t, 3, s.OmittedPosts)
}

func TestSummarizeResolutionErrorsPassThrough(t *testing.T) {
	wrong := &resolve.WrongIdentifierError{Detected: resolve.KindForum}
	c := NewCoordinator(&fakePosts{err: wrong}, &fakeCompleter{text: "x"})

	_, err := c.Summarize(context.Background(), 1234, "")
	assert.Same(t, wrong, err)

	var failed *SummarizationFailedError
	assert.False(t, errors.As(err, &failed))
}

func TestSummarizeInvalidID(t *testing.T) {
	src := &fakePosts{}
	c := NewCoordinator(src, &fakeCompleter{text: "x"})

	_, err := c.Summarize(context.Background(), 0, "")
	assert.True(t, errors.Is(err, resolve.ErrInvalidArgument))
	assert.Equal(t, 0, src.calls)
}

func TestSummarizeCompletionFailure(t *testing.T) {
	tests := []struct {
		name string
		comp *fakeCompleter
	}{
		{"error", &fakeCompleter{err: errors.New("quota exceeded")}},
		{"blank", &fakeCompleter{text: "  \n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator(&fakePosts{posts: samplePosts()}, tt.comp)

			s, err := c.Summarize(context.Background(), 5, "")
			assert.Nil(t, s)

			var failed *SummarizationFailedError
			require.ErrorAs(t, err, &failed)
			assert.Equal(t, int64(5), failed.DiscussionID)
			assert.False(t, errors.Is(err, ErrCapabilityUnavailable))
		})
	}
}

func TestOpenAICompleter(t *testing.T) {
	var body []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini-2024-07-18",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "- summary"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer ts.Close()

	c := NewOpenAICompleter("sk-test", WithBaseURL(ts.URL+"/"), WithModel("gpt-4o-mini"))
	assert.Equal(t, "gpt-4o-mini", c.Model())

	out, err := c.Complete(context.Background(), CompletionRequest{System: "sys", Prompt: "prompt", Corpus: "corpus"})
	require.NoError(t, err)

	assert.Equal(t, "- summary", out.Text)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", out.Model)
	assert.Equal(t, Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, out.Usage)

	req := gjson.ParseBytes(body)
	assert.Equal(t, "gpt-4o-mini", req.Get("model").String())
	assert.InDelta(t, 0.1, req.Get("temperature").Float(), 1e-9)
	assert.Equal(t, int64(3), req.Get("messages.#").Int())
	assert.Equal(t, "system", req.Get("messages.0.role").String())
	assert.Equal(t, "corpus", req.Get("messages.2.content").String())
}

func TestOpenAICompleterError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad model", "type": "invalid_request_error"}}`))
	}))
	defer ts.Close()

	c := NewOpenAICompleter("sk-test", WithBaseURL(ts.URL+"/"))
	_, err := c.Complete(context.Background(), CompletionRequest{System: "s", Prompt: "p", Corpus: "c"})
	assert.Error(t, err)
}
