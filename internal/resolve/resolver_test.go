package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/moodle-forum-mcp/internal/moodle"
	"github.com/ironsheep/moodle-forum-mcp/internal/testdata"
)

var standardRoutes = map[string]string{
	moodle.FuncSearchCourses + ":biology":    "search_courses_biology.json",
	moodle.FuncSearchCourses + ":bio":        "search_courses_multi.json",
	moodle.FuncSearchCourses + ":chemistry":  "courses_empty.json",
	moodle.FuncGetCoursesByField + ":42":     "course_42.json",
	moodle.FuncGetCoursesByField:             "courses_empty.json",
	moodle.FuncGetForumsByCourses + ":42":    "forums_course_42.json",
	moodle.FuncGetForumDiscussions + ":1234": "discussions_forum_1234.json",
	moodle.FuncGetDiscussionPosts + ":5678":  "posts_discussion_5678.json",
	moodle.FuncGetDiscussionPosts + ":4321":  "posts_empty.json",
	moodle.FuncGetForumDiscussions + ":1235": "discussions_forum_1234.json",
	moodle.FuncGetDiscussionPosts + ":1235":  "posts_empty.json",
}

func newFakeResolver(t *testing.T, opts ...Option) (*Resolver, *testdata.FakeMoodle) {
	t.Helper()
	fake := testdata.NewFakeMoodle(standardRoutes)
	t.Cleanup(fake.Close)
	client := moodle.NewClient(fake.URL(), testdata.TestToken)
	return New(client, opts...), fake
}

// stubSource lets tests inject arbitrary adapter outcomes.
type stubSource struct {
	course      []moodle.Course
	forums      []moodle.Forum
	discussions []moodle.Discussion
	posts       []moodle.Post
	postsErr    error
	forumErr    error
	probeCalls  int
}

func (s *stubSource) SearchCourses(ctx context.Context, query string, page, perPage int) (*moodle.CourseSearchResult, error) {
	return &moodle.CourseSearchResult{Query: query, Page: page, PerPage: perPage}, nil
}

func (s *stubSource) GetCourseByID(ctx context.Context, id int64) ([]moodle.Course, error) {
	return s.course, nil
}

func (s *stubSource) GetForumsByCourse(ctx context.Context, id int64) ([]moodle.Forum, error) {
	return s.forums, nil
}

func (s *stubSource) GetForumDiscussions(ctx context.Context, id int64) ([]moodle.Discussion, error) {
	s.probeCalls++
	return s.discussions, s.forumErr
}

func (s *stubSource) GetDiscussionPosts(ctx context.Context, id int64) ([]moodle.Post, error) {
	return s.posts, s.postsErr
}

func parent(id int64) *int64 { return &id }

func TestIdentifierReferenceValidate(t *testing.T) {
	assert.NoError(t, IdentifierReference{Kind: KindForum, ID: 1}.Validate())

	err := IdentifierReference{Kind: KindForum, ID: 0}.Validate()
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Contains(t, err.Error(), "forum_id")

	assert.Equal(t, "discussion_id=7", IdentifierReference{Kind: KindDiscussion, ID: 7}.String())
}

func TestSearchCoursesScenario(t *testing.T) {
	r, _ := newFakeResolver(t)
	ctx := context.Background()

	res, err := r.SearchCourses(ctx, "biology", 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Courses, 1)
	assert.Equal(t, int64(42), res.Courses[0].ID)
	assert.Equal(t, "Intro Biology", res.Courses[0].FullName)

	course, err := r.ConfirmCourse(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), course.ID)

	listing, err := r.ForumsForCourse(ctx, 42)
	require.NoError(t, err)
	require.NotEmpty(t, listing.Forums)
	for _, f := range listing.Forums {
		assert.Equal(t, int64(42), f.CourseID)
	}
}

func TestSearchCoursesNeverAutoSelects(t *testing.T) {
	r, fake := newFakeResolver(t)

	res, err := r.SearchCourses(context.Background(), "bio", 0, 0)
	require.NoError(t, err)
	assert.Len(t, res.Courses, 3)
	assert.Equal(t, []int64{42, 43, 44}, []int64{res.Courses[0].ID, res.Courses[1].ID, res.Courses[2].ID})

	// Only the search itself reached Moodle: no course, forum or discussion
	// lookups are made on the caller's behalf.
	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, moodle.FuncSearchCourses, calls[0].Function)
}

func TestSearchCoursesValidation(t *testing.T) {
	r, fake := newFakeResolver(t)
	ctx := context.Background()

	_, err := r.SearchCourses(ctx, "  ", 0, 10)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = r.SearchCourses(ctx, "bio", -1, 10)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = r.SearchCourses(ctx, "bio", 0, -10)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	assert.Empty(t, fake.Calls())
}

func TestSearchCoursesNotFound(t *testing.T) {
	r, _ := newFakeResolver(t)

	res, err := r.SearchCourses(context.Background(), "chemistry", 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NotNil(t, res)
	assert.Empty(t, res.Courses)
}

func TestConfirmCourse(t *testing.T) {
	r, _ := newFakeResolver(t)
	ctx := context.Background()

	_, err := r.ConfirmCourse(ctx, 0)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = r.ConfirmCourse(ctx, 99)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "No course found with id=99.", nf.Error())
}

func TestConfirmCourseMismatchIsProtocolError(t *testing.T) {
	r := New(&stubSource{course: []moodle.Course{{ID: 7, FullName: "Other"}}})

	_, err := r.ConfirmCourse(context.Background(), 42)
	var perr *moodle.ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestForumsForCourseRequiresExistingCourse(t *testing.T) {
	r, fake := newFakeResolver(t)

	_, err := r.ForumsForCourse(context.Background(), 99)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, fake.CallCount(moodle.FuncGetForumsByCourses))
}

func TestForumsForCourseRejectsForeignForums(t *testing.T) {
	r := New(&stubSource{
		course: []moodle.Course{{ID: 42}},
		forums: []moodle.Forum{{ID: 1, CourseID: 42}, {ID: 2, CourseID: 43}},
	})

	_, err := r.ForumsForCourse(context.Background(), 42)
	var perr *moodle.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "forum 2")
}

func TestForumsForCourseEmpty(t *testing.T) {
	r := New(&stubSource{course: []moodle.Course{{ID: 42}}})

	listing, err := r.ForumsForCourse(context.Background(), 42)
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NotNil(t, listing)
	assert.Equal(t, int64(42), listing.Course.ID)
}

func TestDiscussionsForForum(t *testing.T) {
	r, _ := newFakeResolver(t)

	discussions, err := r.DiscussionsForForum(context.Background(), 1234)
	require.NoError(t, err)
	require.Len(t, discussions, 2)
	for _, d := range discussions {
		assert.Equal(t, int64(1234), d.ForumID)
	}

	_, err = r.DiscussionsForForum(context.Background(), -4)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestDiscussionsForForumEmpty(t *testing.T) {
	r := New(&stubSource{discussions: []moodle.Discussion{}})

	_, err := r.DiscussionsForForum(context.Background(), 8)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "No discussions found for forum 8.", nf.Error())
}

func TestPostsForDiscussion(t *testing.T) {
	r, fake := newFakeResolver(t)

	posts, err := r.PostsForDiscussion(context.Background(), 5678)
	require.NoError(t, err)
	require.Len(t, posts, 3)

	ids := map[int64]bool{}
	for _, p := range posts {
		assert.Equal(t, int64(5678), p.DiscussionID)
		ids[p.ID] = true
	}
	for _, p := range posts {
		if p.ParentID != nil {
			assert.True(t, ids[*p.ParentID], "parent %d of post %d is in the list", *p.ParentID, p.ID)
		}
	}
	assert.Equal(t, 0, fake.CallCount(moodle.FuncGetForumDiscussions), "no probe on success")
}

func TestPostsForDiscussionForumIDScenario(t *testing.T) {
	r, fake := newFakeResolver(t)

	// 1234 is a forum id: Moodle rejects it as a discussion.
	_, err := r.PostsForDiscussion(context.Background(), 1234)

	var wrong *WrongIdentifierError
	require.ErrorAs(t, err, &wrong)
	assert.Equal(t, KindForum, wrong.Detected)
	assert.Equal(t, OpGetForumsByCourse, wrong.SuggestedCall)
	assert.Equal(t, IdentifierReference{Kind: KindDiscussion, ID: 1234}, wrong.Requested)
	assert.Contains(t, wrong.Hint, "list_forum_discussions(forum_id=1234)")
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1, fake.CallCount(moodle.FuncGetForumDiscussions), "exactly one extra lookup")
}

func TestPostsForDiscussionForumIDWithEmptyPosts(t *testing.T) {
	r, _ := newFakeResolver(t)

	// Some sites answer an empty list instead of an exception.
	_, err := r.PostsForDiscussion(context.Background(), 1235)
	var wrong *WrongIdentifierError
	require.ErrorAs(t, err, &wrong)
	assert.Equal(t, KindForum, wrong.Detected)
}

func TestPostsForDiscussionGenuinelyMissing(t *testing.T) {
	r, fake := newFakeResolver(t)

	// Not a discussion, not a forum: the first rejection stands.
	_, err := r.PostsForDiscussion(context.Background(), 999)
	var rej *moodle.RemoteRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "invalidrecord", rej.ErrorCode)
	assert.Equal(t, 1, fake.CallCount(moodle.FuncGetForumDiscussions))

	// Empty discussion that is not a forum either.
	_, err = r.PostsForDiscussion(context.Background(), 4321)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostsForDiscussionGuardDisabled(t *testing.T) {
	r, fake := newFakeResolver(t, WithIDGuard(false))

	_, err := r.PostsForDiscussion(context.Background(), 1234)
	var rej *moodle.RemoteRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 0, fake.CallCount(moodle.FuncGetForumDiscussions))
}

func TestPostsForDiscussionProbeNeverMasksOtherErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"transport", &moodle.TransportError{Function: moodle.FuncGetDiscussionPosts, Err: errors.New("connection refused")}},
		{"protocol", &moodle.ProtocolError{Function: moodle.FuncGetDiscussionPosts, Reason: "bad"}},
		{"capability", &moodle.RemoteRejection{Function: moodle.FuncGetDiscussionPosts, ErrorCode: "nopermissions"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &stubSource{postsErr: tt.err, discussions: []moodle.Discussion{}}
			r := New(src)

			_, err := r.PostsForDiscussion(context.Background(), 1234)
			assert.Same(t, tt.err, err)
			assert.Equal(t, 0, src.probeCalls)
		})
	}
}

func TestPostsForDiscussionProbeFailureKeepsOutcome(t *testing.T) {
	src := &stubSource{
		posts:    []moodle.Post{},
		forumErr: &moodle.TransportError{Function: moodle.FuncGetForumDiscussions, Err: errors.New("timeout")},
	}
	r := New(src)

	_, err := r.PostsForDiscussion(context.Background(), 77)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1, src.probeCalls)
}

func TestPostsForDiscussionRejectsForeignPosts(t *testing.T) {
	r := New(&stubSource{posts: []moodle.Post{{ID: 1, DiscussionID: 9}}})

	_, err := r.PostsForDiscussion(context.Background(), 8)
	var perr *moodle.ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestOrderPosts(t *testing.T) {
	base := time.Unix(1000, 0)
	in := []moodle.Post{
		{ID: 3, ParentID: parent(1), Created: base.Add(2 * time.Minute)},
		{ID: 2, ParentID: parent(99), Created: base.Add(time.Minute)},
		{ID: 1, Created: base},
		{ID: 4, ParentID: parent(1), Created: base.Add(2 * time.Minute)},
	}

	out := orderPosts(in)

	require.Len(t, out, 4)
	assert.Equal(t, []int64{1, 2, 3, 4}, []int64{out[0].ID, out[1].ID, out[2].ID, out[3].ID})
	assert.Nil(t, out[1].ParentID, "orphaned reply is re-rooted")
	require.NotNil(t, out[2].ParentID)
	assert.Equal(t, int64(1), *out[2].ParentID)

	// Input is left untouched.
	require.NotNil(t, in[1].ParentID)
	assert.Equal(t, int64(3), in[0].ID)
}
