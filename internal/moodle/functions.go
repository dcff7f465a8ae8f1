package moodle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Remote function names.
const (
	FuncSearchCourses       = "core_course_search_courses"
	FuncGetCoursesByField   = "core_course_get_courses_by_field"
	FuncGetForumsByCourses  = "mod_forum_get_forums_by_courses"
	FuncGetForumDiscussions = "mod_forum_get_forum_discussions"
	FuncGetDiscussionPosts  = "mod_forum_get_discussion_posts"
)

// Course search paging bounds.
const (
	DefaultPerPage = 20
	MaxPerPage     = 50
)

// ClampPerPage bounds a requested page size to (0, MaxPerPage], using
// DefaultPerPage for non-positive values.
func ClampPerPage(perPage int) int {
	if perPage <= 0 {
		return DefaultPerPage
	}
	if perPage > MaxPerPage {
		return MaxPerPage
	}
	return perPage
}

// flexInt accepts both JSON numbers and numeric strings; Moodle is not
// consistent about which it sends for counters.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		*f = flexInt(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

func unixTime(sec flexInt) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}

type wireCourse struct {
	ID                flexInt  `json:"id"`
	FullName          string   `json:"fullname"`
	DisplayName       string   `json:"displayname"`
	ShortName         string   `json:"shortname"`
	Summary           string   `json:"summary"`
	CategoryID        flexInt  `json:"categoryid"`
	CategoryName      string   `json:"categoryname"`
	Visible           *flexInt `json:"visible"`
	StartDate         flexInt  `json:"startdate"`
	EndDate           flexInt  `json:"enddate"`
	Format            string   `json:"format"`
	Lang              string   `json:"lang"`
	EnrollmentMethods []string `json:"enrollmentmethods"`
}

func (w wireCourse) toCourse(function string) (Course, error) {
	if w.ID <= 0 {
		return Course{}, newProtocolError(function, "course record without a positive id", nil)
	}
	name := firstNonEmpty(w.FullName, w.DisplayName, w.ShortName, "(unnamed)")
	c := Course{
		ID:                int64(w.ID),
		FullName:          name,
		ShortName:         w.ShortName,
		Summary:           StripHTML(w.Summary),
		CategoryID:        int64(w.CategoryID),
		CategoryName:      w.CategoryName,
		StartDate:         unixTime(w.StartDate),
		EndDate:           unixTime(w.EndDate),
		Format:            w.Format,
		Lang:              w.Lang,
		EnrollmentMethods: w.EnrollmentMethods,
	}
	if w.Visible != nil {
		v := *w.Visible != 0
		c.Visible = &v
	}
	return c, nil
}

type wireCourseList struct {
	Total   *flexInt      `json:"total"`
	Courses *[]wireCourse `json:"courses"`
}

// SearchCourses runs a free-text course search. Results keep the order
// supplied by Moodle.
func (c *Client) SearchCourses(ctx context.Context, query string, page, perPage int) (*CourseSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%s: query must not be empty: %w", FuncSearchCourses, ErrInvalidParameter)
	}
	if page < 0 {
		return nil, fmt.Errorf("%s: page must not be negative: %w", FuncSearchCourses, ErrInvalidParameter)
	}
	perPage = ClampPerPage(perPage)

	body, err := c.call(ctx, FuncSearchCourses, url.Values{
		"criterianame":  {"search"},
		"criteriavalue": {query},
		"page":          {strconv.Itoa(page)},
		"perpage":       {strconv.Itoa(perPage)},
	})
	if err != nil {
		return nil, err
	}

	var wire wireCourseList
	if err := decode(FuncSearchCourses, body, &wire); err != nil {
		return nil, err
	}
	if wire.Courses == nil {
		return nil, newProtocolError(FuncSearchCourses, "missing courses list", nil)
	}

	courses, err := mapCourses(FuncSearchCourses, *wire.Courses)
	if err != nil {
		return nil, err
	}

	total := len(courses)
	if wire.Total != nil {
		total = int(*wire.Total)
	}

	return &CourseSearchResult{
		Query:   query,
		Courses: courses,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}, nil
}

// GetCourseByID looks a course up by id. An unknown id yields an empty slice.
func (c *Client) GetCourseByID(ctx context.Context, courseID int64) ([]Course, error) {
	if err := checkID(FuncGetCoursesByField, "course id", courseID); err != nil {
		return nil, err
	}

	body, err := c.call(ctx, FuncGetCoursesByField, url.Values{
		"field": {"id"},
		"value": {strconv.FormatInt(courseID, 10)},
	})
	if err != nil {
		return nil, err
	}

	var wire wireCourseList
	if err := decode(FuncGetCoursesByField, body, &wire); err != nil {
		return nil, err
	}
	if wire.Courses == nil {
		return nil, newProtocolError(FuncGetCoursesByField, "missing courses list", nil)
	}
	return mapCourses(FuncGetCoursesByField, *wire.Courses)
}

func mapCourses(function string, in []wireCourse) ([]Course, error) {
	out := make([]Course, 0, len(in))
	for _, w := range in {
		course, err := w.toCourse(function)
		if err != nil {
			return nil, err
		}
		out = append(out, course)
	}
	return out, nil
}

type wireForum struct {
	ID             flexInt `json:"id"`
	Course         flexInt `json:"course"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	CMID           flexInt `json:"cmid"`
	NumDiscussions flexInt `json:"numdiscussions"`
}

// GetForumsByCourse lists the forums of one course.
func (c *Client) GetForumsByCourse(ctx context.Context, courseID int64) ([]Forum, error) {
	if err := checkID(FuncGetForumsByCourses, "course id", courseID); err != nil {
		return nil, err
	}

	body, err := c.call(ctx, FuncGetForumsByCourses, url.Values{
		"courseids[0]": {strconv.FormatInt(courseID, 10)},
	})
	if err != nil {
		return nil, err
	}

	var wire []wireForum
	if err := decode(FuncGetForumsByCourses, body, &wire); err != nil {
		return nil, err
	}

	forums := make([]Forum, 0, len(wire))
	for _, w := range wire {
		if w.ID <= 0 || w.Course <= 0 {
			return nil, newProtocolError(FuncGetForumsByCourses, "forum record without a positive id or course", nil)
		}
		forums = append(forums, Forum{
			ID:             int64(w.ID),
			CourseID:       int64(w.Course),
			Name:           w.Name,
			Type:           w.Type,
			CMID:           int64(w.CMID),
			NumDiscussions: int(w.NumDiscussions),
		})
	}
	return forums, nil
}

type wireDiscussion struct {
	ID           flexInt `json:"id"`
	Discussion   flexInt `json:"discussion"`
	Name         string  `json:"name"`
	Subject      string  `json:"subject"`
	UserFullName string  `json:"userfullname"`
	Created      flexInt `json:"created"`
	TimeModified flexInt `json:"timemodified"`
	NumReplies   flexInt `json:"numreplies"`
	Pinned       bool    `json:"pinned"`
	Locked       bool    `json:"locked"`
}

type wireDiscussionList struct {
	Discussions *[]wireDiscussion `json:"discussions"`
}

// GetForumDiscussions lists the discussions of one forum. A call that
// succeeds proves the id names a forum, even if it has no discussions.
func (c *Client) GetForumDiscussions(ctx context.Context, forumID int64) ([]Discussion, error) {
	if err := checkID(FuncGetForumDiscussions, "forum id", forumID); err != nil {
		return nil, err
	}

	body, err := c.call(ctx, FuncGetForumDiscussions, url.Values{
		"forumid": {strconv.FormatInt(forumID, 10)},
	})
	if err != nil {
		return nil, err
	}

	var wire wireDiscussionList
	if err := decode(FuncGetForumDiscussions, body, &wire); err != nil {
		return nil, err
	}
	if wire.Discussions == nil {
		return nil, newProtocolError(FuncGetForumDiscussions, "missing discussions list", nil)
	}

	discussions := make([]Discussion, 0, len(*wire.Discussions))
	for _, w := range *wire.Discussions {
		if w.Discussion <= 0 {
			return nil, newProtocolError(FuncGetForumDiscussions, "discussion record without a positive discussion id", nil)
		}
		discussions = append(discussions, Discussion{
			ID:          int64(w.Discussion),
			ForumID:     forumID,
			FirstPostID: int64(w.ID),
			Subject:     firstNonEmpty(w.Name, w.Subject),
			Author:      w.UserFullName,
			Created:     unixTime(w.Created),
			Modified:    unixTime(w.TimeModified),
			NumReplies:  int(w.NumReplies),
			Pinned:      w.Pinned,
			Locked:      w.Locked,
		})
	}
	return discussions, nil
}

type wireAuthor struct {
	ID       flexInt `json:"id"`
	FullName string  `json:"fullname"`
}

type wirePost struct {
	ID           flexInt     `json:"id"`
	DiscussionID flexInt     `json:"discussionid"`
	Discussion   flexInt     `json:"discussion"`
	ParentID     *flexInt    `json:"parentid"`
	Parent       *flexInt    `json:"parent"`
	HasParent    *bool       `json:"hasparent"`
	Subject      string      `json:"subject"`
	Message      string      `json:"message"`
	Author       *wireAuthor `json:"author"`
	UserFullName string      `json:"userfullname"`
	UserID       flexInt     `json:"userid"`
	TimeCreated  flexInt     `json:"timecreated"`
	Created      flexInt     `json:"created"`
}

func (w wirePost) parent() *int64 {
	if w.HasParent != nil && !*w.HasParent {
		return nil
	}
	for _, p := range []*flexInt{w.ParentID, w.Parent} {
		if p != nil && *p > 0 {
			id := int64(*p)
			return &id
		}
	}
	return nil
}

func (w wirePost) toPost(discussionID int64) Post {
	author := w.UserFullName
	authorID := int64(w.UserID)
	if w.Author != nil {
		author = firstNonEmpty(w.Author.FullName, author)
		if w.Author.ID > 0 {
			authorID = int64(w.Author.ID)
		}
	}
	created := w.TimeCreated
	if created == 0 {
		created = w.Created
	}
	did := int64(w.DiscussionID)
	if did == 0 {
		did = int64(w.Discussion)
	}
	if did == 0 {
		did = discussionID
	}
	return Post{
		ID:           int64(w.ID),
		DiscussionID: did,
		ParentID:     w.parent(),
		Subject:      w.Subject,
		Author:       firstNonEmpty(author, "Unknown"),
		AuthorID:     authorID,
		Created:      unixTime(created),
		Message:      StripHTML(w.Message),
	}
}

type wirePostList struct {
	Posts *[]wirePost `json:"posts"`
}

// GetDiscussionPosts returns the posts of one discussion, oldest first as
// requested from Moodle.
func (c *Client) GetDiscussionPosts(ctx context.Context, discussionID int64) ([]Post, error) {
	if err := checkID(FuncGetDiscussionPosts, "discussion id", discussionID); err != nil {
		return nil, err
	}

	body, err := c.call(ctx, FuncGetDiscussionPosts, url.Values{
		"discussionid":  {strconv.FormatInt(discussionID, 10)},
		"sortby":        {"created"},
		"sortdirection": {"ASC"},
	})
	if err != nil {
		return nil, err
	}

	var wire wirePostList
	if err := decode(FuncGetDiscussionPosts, body, &wire); err != nil {
		return nil, err
	}
	if wire.Posts == nil {
		return nil, newProtocolError(FuncGetDiscussionPosts, "missing posts list", nil)
	}

	posts := make([]Post, 0, len(*wire.Posts))
	for _, w := range *wire.Posts {
		if w.ID <= 0 {
			return nil, newProtocolError(FuncGetDiscussionPosts, "post record without a positive id", nil)
		}
		posts = append(posts, w.toPost(discussionID))
	}
	return posts, nil
}

func checkID(function, what string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%s: %s must be a positive integer, got %d: %w", function, what, id, ErrInvalidParameter)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
