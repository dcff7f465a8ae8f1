// Package resolve walks the course → forum → discussion → post identifier
// chain, validating each hop and explaining ids passed to the wrong hop.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ironsheep/moodle-forum-mcp/internal/moodle"
)

// Operation names as exposed to the assistant. Disambiguation errors refer
// to these.
const (
	OpSearchCourses        = "search_courses"
	OpConfirmCourse        = "confirm_course_by_id"
	OpGetForumsByCourse    = "get_forums_by_course_id"
	OpListForumDiscussions = "list_forum_discussions"
	OpGetDiscussionPosts   = "get_discussion_posts"
	OpSummarizeDiscussion  = "summarize_discussion"
)

// Source is the subset of the Moodle client the resolver needs.
type Source interface {
	SearchCourses(ctx context.Context, query string, page, perPage int) (*moodle.CourseSearchResult, error)
	GetCourseByID(ctx context.Context, courseID int64) ([]moodle.Course, error)
	GetForumsByCourse(ctx context.Context, courseID int64) ([]moodle.Forum, error)
	GetForumDiscussions(ctx context.Context, forumID int64) ([]moodle.Discussion, error)
	GetDiscussionPosts(ctx context.Context, discussionID int64) ([]moodle.Post, error)
}

// Resolver resolves one hop per call. It keeps no state between calls.
type Resolver struct {
	src     Source
	idGuard bool
	log     zerolog.Logger
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithIDGuard enables or disables the extra forum lookup made when a
// discussion id resolves to nothing.
func WithIDGuard(enabled bool) Option {
	return func(r *Resolver) {
		r.idGuard = enabled
	}
}

// WithLogger sets the fallback logger; a logger on the context wins.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// New creates a Resolver over src. The id guard is on by default.
func New(src Source, opts ...Option) *Resolver {
	r := &Resolver{
		src:     src,
		idGuard: true,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &r.log
}

// SearchCourses returns every candidate on the requested page in the order
// Moodle supplied. It never picks one: the caller must confirm a course id.
//
// Empty outcomes here and in the other hops return the (empty) result
// together with a *NotFoundError.
func (r *Resolver) SearchCourses(ctx context.Context, query string, page, perPage int) (*moodle.CourseSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &InvalidArgumentError{Param: "query", Reason: "must not be empty"}
	}
	if page < 0 {
		return nil, &InvalidArgumentError{Param: "page", Reason: fmt.Sprintf("must not be negative, got %d", page)}
	}
	if perPage < 0 {
		return nil, &InvalidArgumentError{Param: "perpage", Reason: fmt.Sprintf("must not be negative, got %d", perPage)}
	}

	res, err := r.src.SearchCourses(ctx, query, page, perPage)
	if err != nil {
		return nil, err
	}

	r.logger(ctx).Info().Int("returned", len(res.Courses)).Int("total", res.Total).Msg("search_courses result")

	if len(res.Courses) == 0 {
		return res, &NotFoundError{
			Ref:    IdentifierReference{Kind: KindCourse},
			Query:  query,
			Detail: fmt.Sprintf("No matching courses. (total=%d)", res.Total),
		}
	}
	return res, nil
}

// ConfirmCourse resolves a course id chosen by the caller, typically from a
// search result.
func (r *Resolver) ConfirmCourse(ctx context.Context, courseID int64) (*moodle.Course, error) {
	ref := IdentifierReference{Kind: KindCourse, ID: courseID}
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	courses, err := r.src.GetCourseByID(ctx, courseID)
	if err != nil {
		return nil, err
	}

	for i := range courses {
		if courses[i].ID == courseID {
			course := courses[i]
			return &course, nil
		}
	}

	if len(courses) > 0 {
		return nil, &moodle.ProtocolError{
			Function: moodle.FuncGetCoursesByField,
			Reason:   fmt.Sprintf("lookup for course %d returned other courses", courseID),
		}
	}

	r.logger(ctx).Info().Int64("course_id", courseID).Msg("course not found")
	return nil, &NotFoundError{Ref: ref, Detail: fmt.Sprintf("No course found with id=%d.", courseID)}
}

// ForumListing is the set of forums of a confirmed course.
type ForumListing struct {
	Course *moodle.Course `json:"course"`
	Forums []moodle.Forum `json:"forums"`
}

// ForumsForCourse confirms the course exists and lists its forums. Every
// returned forum belongs to that course.
func (r *Resolver) ForumsForCourse(ctx context.Context, courseID int64) (*ForumListing, error) {
	course, err := r.ConfirmCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	forums, err := r.src.GetForumsByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	for _, f := range forums {
		if f.CourseID != courseID {
			return nil, &moodle.ProtocolError{
				Function: moodle.FuncGetForumsByCourses,
				Reason:   fmt.Sprintf("forum %d belongs to course %d, not %d", f.ID, f.CourseID, courseID),
			}
		}
	}

	r.logger(ctx).Info().Int64("course_id", courseID).Int("count", len(forums)).Msg("forums fetched")

	listing := &ForumListing{Course: course, Forums: forums}
	if len(forums) == 0 {
		return listing, &NotFoundError{
			Ref:    IdentifierReference{Kind: KindForum},
			Detail: fmt.Sprintf("No forums found in course %d.", courseID),
		}
	}
	return listing, nil
}

// DiscussionsForForum lists the discussions of a forum.
func (r *Resolver) DiscussionsForForum(ctx context.Context, forumID int64) ([]moodle.Discussion, error) {
	ref := IdentifierReference{Kind: KindForum, ID: forumID}
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	discussions, err := r.src.GetForumDiscussions(ctx, forumID)
	if err != nil {
		return nil, err
	}

	for _, d := range discussions {
		if d.ForumID != forumID {
			return nil, &moodle.ProtocolError{
				Function: moodle.FuncGetForumDiscussions,
				Reason:   fmt.Sprintf("discussion %d belongs to forum %d, not %d", d.ID, d.ForumID, forumID),
			}
		}
	}

	r.logger(ctx).Info().Int64("forum_id", forumID).Int("count", len(discussions)).Msg("discussions fetched")

	if len(discussions) == 0 {
		return discussions, &NotFoundError{
			Ref:    IdentifierReference{Kind: KindDiscussion},
			Detail: fmt.Sprintf("No discussions found for forum %d.", forumID),
		}
	}
	return discussions, nil
}

// PostsForDiscussion returns the posts of a discussion in chronological
// order. When the id resolves to nothing and the id guard is on, one extra
// lookup checks whether it is really a forum id.
func (r *Resolver) PostsForDiscussion(ctx context.Context, discussionID int64) ([]moodle.Post, error) {
	ref := IdentifierReference{Kind: KindDiscussion, ID: discussionID}
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	posts, err := r.src.GetDiscussionPosts(ctx, discussionID)
	if err != nil {
		var rej *moodle.RemoteRejection
		if errors.As(err, &rej) && rej.MissingRecord() {
			if werr := r.checkForumID(ctx, ref); werr != nil {
				return nil, werr
			}
		}
		return nil, err
	}

	if len(posts) == 0 {
		if werr := r.checkForumID(ctx, ref); werr != nil {
			return nil, werr
		}
		return posts, &NotFoundError{Ref: ref, Detail: fmt.Sprintf("No posts found for discussion %d.", discussionID)}
	}

	for _, p := range posts {
		if p.DiscussionID != discussionID {
			return nil, &moodle.ProtocolError{
				Function: moodle.FuncGetDiscussionPosts,
				Reason:   fmt.Sprintf("post %d belongs to discussion %d, not %d", p.ID, p.DiscussionID, discussionID),
			}
		}
	}

	ordered := orderPosts(posts)
	r.logger(ctx).Info().Int64("discussion_id", discussionID).Int("count", len(ordered)).Msg("posts fetched")
	return ordered, nil
}

// checkForumID returns a WrongIdentifierError when ref.ID names a forum.
// Any failure of the probe itself is ignored so the first outcome stands.
func (r *Resolver) checkForumID(ctx context.Context, ref IdentifierReference) error {
	if !r.idGuard {
		return nil
	}

	if _, err := r.src.GetForumDiscussions(ctx, ref.ID); err != nil {
		r.logger(ctx).Debug().Err(err).Int64("value", ref.ID).Msg("id guard probe found no forum")
		return nil
	}

	r.logger(ctx).Warn().Int64("value", ref.ID).Msg("forum id used as discussion id")
	return &WrongIdentifierError{
		Requested:     ref,
		Detected:      KindForum,
		SuggestedCall: OpGetForumsByCourse,
		Hint: fmt.Sprintf("run %s(forum_id=%d), choose a discussion_id, then call %s(discussion_id=<chosen_id>)",
			OpListForumDiscussions, ref.ID, OpGetDiscussionPosts),
	}
}

// orderPosts sorts posts oldest first and re-roots replies whose parent is
// not in the set, so every parent id refers to a post in the result.
func orderPosts(posts []moodle.Post) []moodle.Post {
	out := make([]moodle.Post, len(posts))
	copy(out, posts)

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})

	ids := make(map[int64]bool, len(out))
	for _, p := range out {
		ids[p.ID] = true
	}
	for i, p := range out {
		if p.ParentID != nil && (!ids[*p.ParentID] || *p.ParentID == p.ID) {
			out[i].ParentID = nil
		}
	}
	return out
}
