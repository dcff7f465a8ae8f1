package moodle

import "time"

// Course is a snapshot of a Moodle course as returned by the course functions.
type Course struct {
	ID                int64     `json:"id"`
	FullName          string    `json:"fullname"`
	ShortName         string    `json:"shortname"`
	Summary           string    `json:"summary"`
	CategoryID        int64     `json:"categoryid"`
	CategoryName      string    `json:"categoryname"`
	Visible           *bool     `json:"visible"`
	StartDate         time.Time `json:"startdate"`
	EndDate           time.Time `json:"enddate"`
	Format            string    `json:"format"`
	Lang              string    `json:"lang"`
	EnrollmentMethods []string  `json:"enrollmentmethods"`
}

// CourseSearchResult is one page of a course search.
type CourseSearchResult struct {
	Query   string   `json:"query"`
	Courses []Course `json:"courses"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
	PerPage int      `json:"perpage"`
}

// HasMore reports whether further pages exist beyond this one.
func (r *CourseSearchResult) HasMore() bool {
	return (r.Page+1)*r.PerPage < r.Total
}

// Forum belongs to exactly one course.
type Forum struct {
	ID             int64  `json:"forum_id"`
	CourseID       int64  `json:"course_id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	CMID           int64  `json:"cmid"`
	NumDiscussions int    `json:"numdiscussions"`
}

// Discussion belongs to exactly one forum. ID is the discussion id, not the
// id of its first post.
type Discussion struct {
	ID          int64     `json:"discussion_id"`
	ForumID     int64     `json:"forum_id"`
	FirstPostID int64     `json:"first_post_id"`
	Subject     string    `json:"subject"`
	Author      string    `json:"author"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
	NumReplies  int       `json:"numreplies"`
	Pinned      bool      `json:"pinned"`
	Locked      bool      `json:"locked"`
}

// Post is a single forum post. ParentID is nil for the root post.
type Post struct {
	ID           int64     `json:"post_id"`
	DiscussionID int64     `json:"discussion_id"`
	ParentID     *int64    `json:"parent_id"`
	Subject      string    `json:"subject"`
	Author       string    `json:"author"`
	AuthorID     int64     `json:"author_id"`
	Created      time.Time `json:"timecreated"`
	Message      string    `json:"message"`
}

// IsRoot reports whether the post starts its discussion.
func (p Post) IsRoot() bool {
	return p.ParentID == nil
}
