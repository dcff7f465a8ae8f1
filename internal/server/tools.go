package server

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ironsheep/moodle-forum-mcp/internal/moodle"
	"github.com/ironsheep/moodle-forum-mcp/internal/resolve"
)

func asJSONParam(def bool, extra string) mcp.ToolOption {
	return mcp.WithBoolean("as_json",
		mcp.Description("Return structured JSON instead of readable text."+extra),
		mcp.DefaultBool(def),
	)
}

// tools returns the complete list of Moodle tools with their handlers.
func (s *Server) tools() []mcpserver.ServerTool {
	return []mcpserver.ServerTool{
		{
			Tool: mcp.NewTool(resolve.OpSearchCourses,
				mcp.WithDescription("Search courses by name or keyword. Returns candidate course ids; "+
					"pick one and call confirm_course_by_id before going further."),
				mcp.WithReadOnlyHintAnnotation(true),
				mcp.WithString("query",
					mcp.Required(),
					mcp.Description("Free-text search, e.g. 'biology 101'"),
				),
				mcp.WithNumber("page",
					mcp.Description("Zero-based result page (default: 0)"),
					mcp.DefaultNumber(0),
					mcp.Min(0),
				),
				mcp.WithNumber("perpage",
					mcp.Description("Results per page (default: 20, max: 50)"),
					mcp.DefaultNumber(moodle.DefaultPerPage),
					mcp.Min(1),
					mcp.Max(moodle.MaxPerPage),
				),
				asJSONParam(false, ""),
			),
			Handler: s.handleSearchCourses,
		},
		{
			Tool: mcp.NewTool(resolve.OpConfirmCourse,
				mcp.WithDescription("Confirm a course id and show its details. Call this after search_courses "+
					"and before listing forums, so the right course is used."),
				mcp.WithReadOnlyHintAnnotation(true),
				mcp.WithNumber("course_id",
					mcp.Required(),
					mcp.Description("Course id from search_courses"),
				),
				asJSONParam(false, ""),
			),
			Handler: s.handleConfirmCourse,
		},
		{
			Tool: mcp.NewTool(resolve.OpGetForumsByCourse,
				mcp.WithDescription("List the forums of a confirmed course. Returns forum ids for list_forum_discussions."),
				mcp.WithReadOnlyHintAnnotation(true),
				mcp.WithNumber("course_id",
					mcp.Required(),
					mcp.Description("Confirmed course id"),
				),
				asJSONParam(false, ""),
			),
			Handler: s.handleGetForums,
		},
		{
			Tool: mcp.NewTool(resolve.OpListForumDiscussions,
				mcp.WithDescription("List the discussions of a forum. Returns the discussion_id values "+
					"that get_discussion_posts and summarize_discussion need."),
				mcp.WithReadOnlyHintAnnotation(true),
				mcp.WithNumber("forum_id",
					mcp.Required(),
					mcp.Description("Forum id from get_forums_by_course_id"),
				),
				asJSONParam(false, ""),
			),
			Handler: s.handleListDiscussions,
		},
		{
			Tool: mcp.NewTool(resolve.OpGetDiscussionPosts,
				mcp.WithDescription("Fetch every post of a discussion, oldest first, with reply links. "+
					"Needs a discussion_id from list_forum_discussions, not a forum id."),
				mcp.WithReadOnlyHintAnnotation(true),
				mcp.WithNumber("discussion_id",
					mcp.Required(),
					mcp.Description("Discussion id from list_forum_discussions"),
				),
				asJSONParam(true, " (default: true)"),
			),
			Handler: s.handleGetPosts,
		},
		{
			Tool: mcp.NewTool(resolve.OpSummarizeDiscussion,
				mcp.WithDescription("Summarize a discussion with an AI model: themes, decisions, open questions "+
					"and next steps. Requires OPENAI_API_KEY on the server."),
				mcp.WithReadOnlyHintAnnotation(true),
				mcp.WithNumber("discussion_id",
					mcp.Required(),
					mcp.Description("Discussion id from list_forum_discussions"),
				),
				mcp.WithString("focus",
					mcp.Description("What the summary should concentrate on (optional)"),
				),
				asJSONParam(false, ""),
			),
			Handler: s.handleSummarize,
		},
	}
}
