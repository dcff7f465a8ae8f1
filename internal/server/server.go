// Package server implements the MCP protocol server for Moodle forums.
package server

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/ironsheep/moodle-forum-mcp/internal/config"
	"github.com/ironsheep/moodle-forum-mcp/internal/moodle"
	"github.com/ironsheep/moodle-forum-mcp/internal/resolve"
	"github.com/ironsheep/moodle-forum-mcp/internal/summarize"
)

// Name is the server name announced during MCP initialization.
const Name = "moodle_mcp"

const instructions = `Read-only access to Moodle forums. Walk the ids in order: ` +
	`search_courses, then confirm_course_by_id, then get_forums_by_course_id, ` +
	`then list_forum_discussions, then get_discussion_posts or summarize_discussion. ` +
	`A discussion_id comes from list_forum_discussions, never from a forum listing.`

// Server handles MCP protocol communication over stdio.
type Server struct {
	version    string
	resolver   *resolve.Resolver
	summarizer *summarize.Coordinator
	perPage    int
	log        zerolog.Logger
	mcp        *mcpserver.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the base logger; every tool call derives a child logger
// carrying its request id.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithPerPage sets the default search page size.
func WithPerPage(n int) Option {
	return func(s *Server) {
		s.perPage = moodle.ClampPerPage(n)
	}
}

// New creates a server over an already wired resolver and summarizer.
func New(version string, resolver *resolve.Resolver, summarizer *summarize.Coordinator, opts ...Option) *Server {
	s := &Server{
		version:    version,
		resolver:   resolver,
		summarizer: summarizer,
		perPage:    moodle.DefaultPerPage,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.summarizer == nil {
		s.summarizer = summarize.NewCoordinator(resolver, nil)
	}

	s.mcp = mcpserver.NewMCPServer(
		Name,
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions(instructions),
		mcpserver.WithToolHandlerMiddleware(s.withRequestContext),
	)
	s.mcp.AddTools(s.tools()...)

	return s
}

// FromConfig wires the Moodle client, resolver and optional summarizer
// described by cfg.
func FromConfig(cfg *config.Config, version string, log zerolog.Logger) (*Server, error) {
	client := moodle.NewClient(cfg.Moodle.BaseURL, cfg.Moodle.Token,
		moodle.WithTimeout(cfg.Moodle.Timeout),
		moodle.WithLogger(log),
	)

	resolver := resolve.New(client,
		resolve.WithIDGuard(cfg.Moodle.SmartIDGuard),
		resolve.WithLogger(log),
	)

	var completer summarize.Completer
	opts := []summarize.Option{summarize.WithLogger(log)}
	if cfg.SummarizationEnabled() {
		completer = summarize.NewOpenAICompleter(cfg.OpenAI.APIKey,
			summarize.WithModel(cfg.OpenAI.Model),
			summarize.WithBaseURL(cfg.OpenAI.BaseURL),
		)

		var counter summarize.Counter = summarize.CharCounter{}
		if cfg.Summary.Unit == config.UnitTokens {
			tc, err := summarize.NewTokenCounter(cfg.OpenAI.Model)
			if err != nil {
				return nil, fmt.Errorf("failed to set up token budget: %w", err)
			}
			counter = tc
		}
		opts = append(opts, summarize.WithBudget(cfg.SummaryBudget(), counter))
	}

	return New(version, resolver, summarize.NewCoordinator(resolver, completer, opts...),
		WithLogger(log),
		WithPerPage(cfg.Moodle.SearchPerPage),
	), nil
}

// MCPServer exposes the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// Run serves MCP over stdin/stdout until ctx is done or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(stdlog.New(s.log, "", 0))

	s.log.Info().Str("version", s.version).Bool("summarize", s.summarizer.Available()).Msg("serving MCP over stdio")

	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// withRequestContext gives each tool call its own request id and logger.
func (s *Server) withRequestContext(next mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log := s.log.With().
			Str("request_id", uuid.NewString()).
			Str("tool", req.Params.Name).
			Logger()
		ctx = log.WithContext(ctx)

		log.Info().Interface("arguments", req.GetArguments()).Msg("tool called")
		start := time.Now()

		res, err := next(ctx, req)

		ev := log.Info()
		if err != nil || (res != nil && res.IsError) {
			ev = log.Warn().Err(err)
		}
		ev.Dur("duration", time.Since(start)).Msg("tool finished")
		return res, err
	}
}
