package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/ironsheep/moodle-forum-mcp/internal/format"
	"github.com/ironsheep/moodle-forum-mcp/internal/moodle"
	"github.com/ironsheep/moodle-forum-mcp/internal/resolve"
	"github.com/ironsheep/moodle-forum-mcp/internal/summarize"
)

// Error kinds reported to the assistant. Each failed tool result starts
// with one of these.
const (
	KindInvalidArgument       = "invalid_argument"
	KindWrongIdentifier       = "wrong_identifier_kind"
	KindTransport             = "transport_error"
	KindProtocol              = "protocol_error"
	KindRemoteRejection       = "remote_rejection"
	KindCapabilityUnavailable = "capability_unavailable"
	KindSummarizationFailed   = "summarization_failed"
	KindInternal              = "internal_error"
)

// handleSearchCourses implements search_courses.
func (s *Server) handleSearchCourses(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, err := modeArg(req, false)
	if err != nil {
		return s.failure(ctx, req, err, format.Text), nil
	}

	query, err := stringArg(req, "query", true)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}
	page, err := intArg(req, "page", 0)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}
	perPage, err := intArg(req, "perpage", int64(s.perPage))
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}

	res, err := s.resolver.SearchCourses(ctx, query, int(page), int(perPage))
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}
	return mcp.NewToolResultText(format.SearchResult(res, mode)), nil
}

// handleConfirmCourse implements confirm_course_by_id.
func (s *Server) handleConfirmCourse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, courseID, err := idRequest(req, "course_id", false)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}

	course, err := s.resolver.ConfirmCourse(ctx, courseID)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}
	return mcp.NewToolResultText(format.Course(course, mode)), nil
}

// handleGetForums implements get_forums_by_course_id.
func (s *Server) handleGetForums(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, courseID, err := idRequest(req, "course_id", false)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}

	listing, err := s.resolver.ForumsForCourse(ctx, courseID)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}
	return mcp.NewToolResultText(format.Forums(listing.Course.ID, listing.Forums, mode)), nil
}

// handleListDiscussions implements list_forum_discussions.
func (s *Server) handleListDiscussions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, forumID, err := idRequest(req, "forum_id", false)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}

	discussions, err := s.resolver.DiscussionsForForum(ctx, forumID)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}
	return mcp.NewToolResultText(format.Discussions(forumID, discussions, mode)), nil
}

// handleGetPosts implements get_discussion_posts. Structured output is the
// default here.
func (s *Server) handleGetPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, discussionID, err := idRequest(req, "discussion_id", true)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}

	posts, err := s.resolver.PostsForDiscussion(ctx, discussionID)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}
	return mcp.NewToolResultText(format.Posts(discussionID, posts, mode)), nil
}

// handleSummarize implements summarize_discussion.
func (s *Server) handleSummarize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, discussionID, err := idRequest(req, "discussion_id", false)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}
	focus, err := stringArg(req, "focus", false)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}

	summary, err := s.summarizer.Summarize(ctx, discussionID, focus)
	if err != nil {
		return s.failure(ctx, req, err, mode), nil
	}
	return mcp.NewToolResultText(format.Summary(summary, mode)), nil
}

// Helper methods

// failure renders err for the assistant. An empty resolution is an
// ordinary result; everything else is a tool error.
func (s *Server) failure(ctx context.Context, req mcp.CallToolRequest, err error, mode format.Mode) *mcp.CallToolResult {
	var notFound *resolve.NotFoundError
	if errors.As(err, &notFound) {
		return mcp.NewToolResultText(format.NotFound(notFound, mode))
	}

	problem := classify(req.Params.Name, err)

	log := zerolog.Ctx(ctx)
	if log.GetLevel() == zerolog.Disabled {
		log = &s.log
	}
	log.Warn().Err(err).Str("kind", problem.Kind).Msg("tool call failed")

	return mcp.NewToolResultError(format.Error(problem, mode))
}

// classify maps an error to its reported kind and the details a caller
// needs to recover.
func classify(tool string, err error) format.Problem {
	var (
		invalid   *resolve.InvalidArgumentError
		wrong     *resolve.WrongIdentifierError
		failed    *summarize.SummarizationFailedError
		transport *moodle.TransportError
		protocol  *moodle.ProtocolError
		rejection *moodle.RemoteRejection
	)

	switch {
	case errors.As(err, &invalid):
		return format.Problem{
			Kind:    KindInvalidArgument,
			Message: invalid.Error(),
			Details: map[string]any{"param": invalid.Param},
		}

	case errors.As(err, &wrong):
		return format.Problem{
			Kind: KindWrongIdentifier,
			Message: fmt.Sprintf("It looks like you passed a %s_id (%d) as a %s_id.",
				wrong.Detected, wrong.Requested.ID, wrong.Requested.Kind),
			Details: map[string]any{
				"requested_kind": string(wrong.Requested.Kind),
				"detected_kind":  string(wrong.Detected),
				"id":             wrong.Requested.ID,
				"suggested_call": wrong.SuggestedCall,
				"hint":           wrong.Hint,
			},
		}

	case errors.Is(err, summarize.ErrCapabilityUnavailable):
		return format.Problem{
			Kind:    KindCapabilityUnavailable,
			Message: "Summarization requires OPENAI_API_KEY to be configured on the server.",
		}

	case errors.As(err, &failed):
		return format.Problem{
			Kind:    KindSummarizationFailed,
			Message: failed.Error(),
			Details: map[string]any{"discussion_id": failed.DiscussionID},
		}

	case errors.As(err, &transport):
		return format.Problem{
			Kind:    KindTransport,
			Message: transport.Error(),
			Details: map[string]any{"function": transport.Function, "retryable": transport.Retryable()},
		}

	case errors.As(err, &protocol):
		details := map[string]any{"function": protocol.Function, "retryable": protocol.Retryable()}
		if protocol.StatusCode != 0 {
			details["status"] = protocol.StatusCode
		}
		return format.Problem{Kind: KindProtocol, Message: protocol.Error(), Details: details}

	case errors.As(err, &rejection):
		details := map[string]any{
			"function":  rejection.Function,
			"errorcode": rejection.ErrorCode,
			"exception": rejection.Exception,
		}
		if tool == resolve.OpGetDiscussionPosts && rejection.MissingRecord() {
			details["hint"] = "get_discussion_posts needs a discussion_id, not a forum_id. " +
				"Run list_forum_discussions(forum_id=...) first and use the discussion_id shown there."
		}
		return format.Problem{Kind: KindRemoteRejection, Message: rejection.Message, Details: details}
	}

	return format.Problem{Kind: KindInternal, Message: err.Error()}
}

// idRequest reads the as_json flag and one required positive id.
func idRequest(req mcp.CallToolRequest, name string, jsonDefault bool) (format.Mode, int64, error) {
	mode, err := modeArg(req, jsonDefault)
	if err != nil {
		return format.ModeFor(jsonDefault), 0, err
	}

	id, err := intArg(req, name, 0)
	if err != nil {
		return mode, 0, err
	}
	if _, present := req.GetArguments()[name]; !present {
		return mode, 0, &resolve.InvalidArgumentError{Param: name, Reason: "is required"}
	}
	if id <= 0 {
		return mode, 0, &resolve.InvalidArgumentError{Param: name, Reason: fmt.Sprintf("must be a positive integer, got %d", id)}
	}
	return mode, id, nil
}

func modeArg(req mcp.CallToolRequest, def bool) (format.Mode, error) {
	asJSON, err := boolArg(req, "as_json", def)
	if err != nil {
		return format.ModeFor(def), err
	}
	return format.ModeFor(asJSON), nil
}

// intArg reads an integer argument, accepting whole JSON numbers and
// numeric strings. A missing or null argument yields def.
func intArg(req mcp.CallToolRequest, name string, def int64) (int64, error) {
	raw, ok := req.GetArguments()[name]
	if !ok || raw == nil {
		return def, nil
	}

	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.Abs(v) > 1<<53 {
			return 0, &resolve.InvalidArgumentError{Param: name, Reason: fmt.Sprintf("must be an integer, got %v", v)}
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, &resolve.InvalidArgumentError{Param: name, Reason: fmt.Sprintf("must be an integer, got %q", v)}
		}
		return n, nil
	}
	return 0, &resolve.InvalidArgumentError{Param: name, Reason: fmt.Sprintf("must be an integer, got %T", raw)}
}

func boolArg(req mcp.CallToolRequest, name string, def bool) (bool, error) {
	raw, ok := req.GetArguments()[name]
	if !ok || raw == nil {
		return def, nil
	}

	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return def, &resolve.InvalidArgumentError{Param: name, Reason: fmt.Sprintf("must be true or false, got %q", v)}
		}
		return b, nil
	}
	return def, &resolve.InvalidArgumentError{Param: name, Reason: fmt.Sprintf("must be a boolean, got %T", raw)}
}

func stringArg(req mcp.CallToolRequest, name string, required bool) (string, error) {
	raw, ok := req.GetArguments()[name]
	if !ok || raw == nil {
		if required {
			return "", &resolve.InvalidArgumentError{Param: name, Reason: "is required"}
		}
		return "", nil
	}

	v, ok := raw.(string)
	if !ok {
		return "", &resolve.InvalidArgumentError{Param: name, Reason: fmt.Sprintf("must be a string, got %T", raw)}
	}
	if required && strings.TrimSpace(v) == "" {
		return "", &resolve.InvalidArgumentError{Param: name, Reason: "must not be empty"}
	}
	return v, nil
}
