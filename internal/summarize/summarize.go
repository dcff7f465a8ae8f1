// Package summarize condenses a forum discussion through an external
// text-completion capability.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ironsheep/moodle-forum-mcp/internal/moodle"
	"github.com/ironsheep/moodle-forum-mcp/internal/resolve"
)

// ErrCapabilityUnavailable is returned when no completion capability is
// configured. No partial summary is ever produced in that case.
var ErrCapabilityUnavailable = errors.New("summarization capability unavailable")

// DefaultFocus steers the summary when the caller gives no focus.
const DefaultFocus = "themes, decisions, unresolved questions, sentiment, and action items (with owners if obvious)."

const systemPrompt = "You are an expert forum summarizer."

// SummarizationFailedError reports that posts were resolved but the
// completion call did not produce a summary.
type SummarizationFailedError struct {
	DiscussionID int64
	Err          error
}

func (e *SummarizationFailedError) Error() string {
	return fmt.Sprintf("summarization of discussion %d failed: %v", e.DiscussionID, e.Err)
}

func (e *SummarizationFailedError) Unwrap() error { return e.Err }

// CompletionRequest is the input to a Completer.
type CompletionRequest struct {
	System string
	Prompt string
	Corpus string
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Completion is a Completer's answer.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Completer is an opaque text-completion capability.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// PostSource resolves the posts of a discussion.
type PostSource interface {
	PostsForDiscussion(ctx context.Context, discussionID int64) ([]moodle.Post, error)
}

// Summary is a generated digest of a discussion. EvidencePostIDs lists the
// posts that were given to the model, in digest order.
type Summary struct {
	DiscussionID    int64   `json:"discussion_id"`
	Focus           string  `json:"focus"`
	Text            string  `json:"summary"`
	EvidencePostIDs []int64 `json:"evidence_post_ids"`
	OmittedPosts    int     `json:"omitted_posts"`
	Model           string  `json:"model"`
	Usage           Usage   `json:"usage"`
}

// Coordinator resolves posts, bounds them into a digest and asks the
// completer for a summary.
type Coordinator struct {
	posts     PostSource
	completer Completer
	budget    int
	counter   Counter
	log       zerolog.Logger
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithBudget sets the digest budget in the counter's unit.
func WithBudget(budget int, counter Counter) Option {
	return func(c *Coordinator) {
		if budget > 0 {
			c.budget = budget
		}
		if counter != nil {
			c.counter = counter
		}
	}
}

// WithLogger sets the fallback logger; a logger on the context wins.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// NewCoordinator creates a Coordinator. A nil completer means the
// capability is not configured.
func NewCoordinator(posts PostSource, completer Completer, opts ...Option) *Coordinator {
	c := &Coordinator{
		posts:     posts,
		completer: completer,
		budget:    DefaultCharBudget,
		counter:   CharCounter{},
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available reports whether a completer is configured.
func (c *Coordinator) Available() bool {
	return c.completer != nil
}

// Summarize produces a summary of a discussion steered by focus.
func (c *Coordinator) Summarize(ctx context.Context, discussionID int64, focus string) (*Summary, error) {
	log := c.log
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		log = *l
	}

	if !c.Available() {
		log.Warn().Msg("summarize_discussion unavailable (no OPENAI_API_KEY)")
		return nil, fmt.Errorf("summarization requires OPENAI_API_KEY: %w", ErrCapabilityUnavailable)
	}

	ref := resolve.IdentifierReference{Kind: resolve.KindDiscussion, ID: discussionID}
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	posts, err := c.posts.PostsForDiscussion(ctx, discussionID)
	if err != nil {
		return nil, err
	}

	digest := BuildDigest(posts, c.budget, c.counter)

	focus = strings.TrimSpace(focus)
	steer := focus
	if steer == "" {
		steer = DefaultFocus
	}

	completion, err := c.completer.Complete(ctx, CompletionRequest{
		System: systemPrompt,
		Prompt: "Summarize this Moodle forum discussion.\n" +
			"Focus: " + steer + "\n" +
			"Be concise, use bullet points, end with 3-5 next steps.",
		Corpus: digest.Text,
	})
	if err != nil {
		log.Error().Err(err).Int64("discussion_id", discussionID).Msg("completion failed")
		return nil, &SummarizationFailedError{DiscussionID: discussionID, Err: err}
	}
	if completion == nil || strings.TrimSpace(completion.Text) == "" {
		return nil, &SummarizationFailedError{DiscussionID: discussionID, Err: errors.New("empty completion")}
	}

	log.Info().
		Int64("discussion_id", discussionID).
		Int("evidence_posts", len(digest.IncludedPostIDs)).
		Int("omitted_posts", digest.Omitted).
		Str("model", completion.Model).
		Int64("total_tokens", completion.Usage.TotalTokens).
		Msg("summarize_discussion completed")

	return &Summary{
		DiscussionID:    discussionID,
		Focus:           focus,
		Text:            strings.TrimSpace(completion.Text),
		EvidencePostIDs: digest.IncludedPostIDs,
		OmittedPosts:    digest.Omitted,
		Model:           completion.Model,
		Usage:           completion.Usage,
	}, nil
}
