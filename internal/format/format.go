// Package format renders resolved Moodle entities either as plain text for
// a human reader or as indented JSON for machine consumption.
//
// Text output truncates long fields; JSON output never does.
package format

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ironsheep/moodle-forum-mcp/internal/moodle"
	"github.com/ironsheep/moodle-forum-mcp/internal/resolve"
	"github.com/ironsheep/moodle-forum-mcp/internal/summarize"
)

// Mode selects the rendering.
type Mode int

const (
	Text Mode = iota
	JSON
)

// ModeFor maps an as_json flag to a Mode.
func ModeFor(asJSON bool) Mode {
	if asJSON {
		return JSON
	}
	return Text
}

func (m Mode) String() string {
	if m == JSON {
		return "json"
	}
	return "text"
}

// Text-mode truncation limits, in runes.
const (
	SummaryLimit = 320
	MessageLimit = 240
)

const ellipsis = "…"

// Truncate shortens s to at most limit runes, marking the cut with an
// ellipsis.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + ellipsis
}

// SearchResult renders one page of course candidates. The caller picks;
// nothing is auto-selected.
func SearchResult(res *moodle.CourseSearchResult, mode Mode) string {
	if mode == JSON {
		return toJSON(struct {
			*moodle.CourseSearchResult
			HasMore bool `json:"has_more"`
		}{res, res.HasMore()})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Total (this page): %d / overall: %d\n", len(res.Courses), res.Total)
	b.WriteString("Pick a course id:")
	for _, c := range res.Courses {
		fmt.Fprintf(&b, "\n[%d] %s", c.ID, c.FullName)
		if c.ShortName != "" {
			fmt.Fprintf(&b, " (%s)", c.ShortName)
		}
		if summary := oneLine(c.Summary); summary != "" {
			fmt.Fprintf(&b, " · %s", Truncate(summary, SummaryLimit))
		}
	}
	if res.HasMore() {
		fmt.Fprintf(&b, "\n(More available: call search_courses(query=%q, page=%d))", res.Query, res.Page+1)
	}
	return b.String()
}

// Course renders a confirmed course.
func Course(c *moodle.Course, mode Mode) string {
	if mode == JSON {
		return toJSON(c)
	}

	visible := "unknown"
	if c.Visible != nil {
		visible = fmt.Sprintf("%t", *c.Visible)
	}

	lines := []string{
		fmt.Sprintf("[%d] %s (%s)", c.ID, c.FullName, c.ShortName),
		fmt.Sprintf("Category: %d (%s) · Visible: %s", c.CategoryID, c.CategoryName, visible),
		fmt.Sprintf("Start: %s · End: %s · Format: %s · Lang: %s",
			date(c.StartDate), date(c.EndDate), orDash(c.Format), orDash(c.Lang)),
	}
	if len(c.EnrollmentMethods) > 0 {
		lines = append(lines, "Enroll methods: "+strings.Join(c.EnrollmentMethods, ", "))
	}
	if summary := oneLine(c.Summary); summary != "" {
		lines = append(lines, "Summary: "+Truncate(summary, SummaryLimit))
	}
	return strings.Join(lines, "\n")
}

// Forums renders the forums of a course.
func Forums(courseID int64, forums []moodle.Forum, mode Mode) string {
	if mode == JSON {
		return toJSON(nonNil(forums))
	}

	lines := []string{fmt.Sprintf("Forums in course %d · pick a forum id:", courseID)}
	for _, f := range forums {
		lines = append(lines, fmt.Sprintf("[%d] %s · type=%s · cmid=%d · discussions=%d",
			f.ID, f.Name, orDash(f.Type), f.CMID, f.NumDiscussions))
	}
	return strings.Join(lines, "\n")
}

// Discussions renders the discussions of a forum and points the caller at
// get_discussion_posts.
func Discussions(forumID int64, discussions []moodle.Discussion, mode Mode) string {
	if mode == JSON {
		return toJSON(nonNil(discussions))
	}

	lines := []string{fmt.Sprintf(
		"Discussions in forum %d · pick a discussion_id for get_discussion_posts(discussion_id=...):", forumID)}
	for _, d := range discussions {
		line := fmt.Sprintf("[discussion_id=%d] %s · by %s · replies=%d",
			d.ID, d.Subject, d.Author, d.NumReplies)
		if d.Pinned {
			line += " · pinned"
		}
		if d.Locked {
			line += " · locked"
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Next: call get_discussion_posts(discussion_id=<one of the ids above>)")
	return strings.Join(lines, "\n")
}

// Posts renders a discussion in chronological order. Text mode indents
// replies by their depth in the reply tree.
func Posts(discussionID int64, posts []moodle.Post, mode Mode) string {
	if mode == JSON {
		return toJSON(nonNil(posts))
	}

	depths := replyDepths(posts)
	lines := []string{fmt.Sprintf("Posts in discussion %d:", discussionID)}
	for _, p := range posts {
		ref := fmt.Sprintf("post %d", p.ID)
		if p.ParentID != nil {
			ref += fmt.Sprintf(", reply to %d", *p.ParentID)
		}
		lines = append(lines, fmt.Sprintf("%s- [%s] %s @ %s: %s",
			strings.Repeat("  ", depths[p.ID]), ref, p.Author, timestamp(p.Created),
			Truncate(oneLine(p.Message), MessageLimit)))
	}
	return strings.Join(lines, "\n")
}

// Summary renders a generated discussion summary with its evidence.
func Summary(s *summarize.Summary, mode Mode) string {
	if mode == JSON {
		return toJSON(s)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary of discussion %d", s.DiscussionID)
	if s.Focus != "" {
		fmt.Fprintf(&b, " (focus: %s)", s.Focus)
	}
	b.WriteString(":\n\n")
	b.WriteString(s.Text)
	b.WriteString("\n\nEvidence posts: ")
	b.WriteString(joinIDs(s.EvidencePostIDs))
	if s.OmittedPosts > 0 {
		fmt.Fprintf(&b, "\n[%d posts omitted]", s.OmittedPosts)
	}
	if s.Model != "" {
		fmt.Fprintf(&b, "\nModel: %s · tokens=%d", s.Model, s.Usage.TotalTokens)
	}
	return b.String()
}

// NotFound renders an empty resolution. It is an outcome, not a failure.
func NotFound(err *resolve.NotFoundError, mode Mode) string {
	if mode == JSON {
		payload := map[string]any{
			"not_found": true,
			"kind":      err.Ref.Kind,
			"message":   err.Error(),
		}
		if err.Query != "" {
			payload["query"] = err.Query
		} else {
			payload["id"] = err.Ref.ID
		}
		return toJSON(payload)
	}
	return err.Error()
}

// Problem is a classified failure ready for rendering.
type Problem struct {
	Kind    string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error renders a failure. Text mode leads with the kind so callers can
// branch on it.
func Error(p Problem, mode Mode) string {
	if mode == JSON {
		return toJSON(p)
	}

	var b strings.Builder
	b.WriteString(p.Kind)
	b.WriteString(": ")
	b.WriteString(p.Message)

	keys := make([]string, 0, len(p.Details))
	for k := range p.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, p.Details[k])
	}
	return b.String()
}

// replyDepths assigns each post its distance from the root. Parents
// missing from the list, and cycles, count as roots.
func replyDepths(posts []moodle.Post) map[int64]int {
	parent := make(map[int64]int64, len(posts))
	for _, p := range posts {
		if p.ParentID != nil {
			parent[p.ID] = *p.ParentID
		}
	}

	inList := make(map[int64]bool, len(posts))
	for _, p := range posts {
		inList[p.ID] = true
	}

	depths := make(map[int64]int, len(posts))
	for _, p := range posts {
		depth := 0
		seen := map[int64]bool{p.ID: true}
		for cur := p.ID; ; depth++ {
			up, ok := parent[cur]
			if !ok || !inList[up] || seen[up] {
				break
			}
			seen[up] = true
			cur = up
		}
		depths[p.ID] = depth
	}
	return depths
}

func toJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func date(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.DateOnly)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
