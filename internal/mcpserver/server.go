// Package mcpserver exposes the notebook automation over the Model Context
// Protocol. The tool surface is deliberately thin: every handler validates
// its arguments and delegates to the session registry or account store.
package mcpserver

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/nlmcp/nlmcp/internal/accounts"
	"github.com/nlmcp/nlmcp/internal/citations"
	"github.com/nlmcp/nlmcp/internal/config"
	"github.com/nlmcp/nlmcp/internal/discovery"
	"github.com/nlmcp/nlmcp/internal/session"
)

const serverName = "nlmcp"

// Server wires the MCP tool handlers to the underlying managers.
type Server struct {
	cfg      *config.Config
	registry *session.Registry
	store    *accounts.Store
	log      zerolog.Logger
	version  string
}

func New(cfg *config.Config, registry *session.Registry, store *accounts.Store, log zerolog.Logger, version string) *Server {
	return &Server{cfg: cfg, registry: registry, store: store, log: log, version: version}
}

// Run serves MCP over stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().Str("version", s.version).Msg("starting MCP server on stdio")
	defer s.registry.CloseAllSessions()
	return s.build().Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) build() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: s.version}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ask_question",
		Description: "Ask a question against a NotebookLM notebook and wait for the grounded answer.",
	}, s.handleAsk)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List active notebook sessions and registry statistics.",
	}, s.handleListSessions)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "close_session",
		Description: "Close one notebook session and free its browser page.",
	}, s.handleCloseSession)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "account_health",
		Description: "Report per-account quota, session validity, and outstanding issues.",
	}, s.handleAccountHealth)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "discover_metadata",
		Description: "Ask a notebook to describe itself and return validated name, description, and tags.",
	}, s.handleDiscoverMetadata)

	return srv
}

type askArgs struct {
	NotebookURL    string `json:"notebook_url" jsonschema:"HTTPS URL of the notebook to query"`
	Question       string `json:"question" jsonschema:"the question to ask the notebook"`
	SessionID      string `json:"session_id,omitempty" jsonschema:"reuse an existing session instead of opening a new one"`
	CitationFormat string `json:"citation_format,omitempty" jsonschema:"citation handling: none, inline, footnotes, expanded, or json"`
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, args askArgs) (*mcp.CallToolResult, *session.AskResult, error) {
	format := citations.Format(args.CitationFormat)
	if args.CitationFormat == "" {
		format = citations.FormatNone
	}

	sess, err := s.getOrCreateSession(args.SessionID, args.NotebookURL)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.registry.Ask(ctx, sess, args.Question, format)
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

type listSessionsResult struct {
	Sessions []session.Info `json:"sessions"`
	Stats    session.Stats  `json:"stats"`
}

func (s *Server) handleListSessions(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, *listSessionsResult, error) {
	return nil, &listSessionsResult{
		Sessions: s.registry.GetAllSessionsInfo(),
		Stats:    s.registry.GetStats(),
	}, nil
}

type closeSessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"id of the session to close"`
}

type closeSessionResult struct {
	Closed bool `json:"closed"`
}

func (s *Server) handleCloseSession(_ context.Context, _ *mcp.CallToolRequest, args closeSessionArgs) (*mcp.CallToolResult, *closeSessionResult, error) {
	if args.SessionID == "" {
		return nil, nil, errors.New("session_id is required")
	}
	return nil, &closeSessionResult{Closed: s.registry.CloseSession(args.SessionID)}, nil
}

type accountHealthResult struct {
	Accounts  []accounts.Health `json:"accounts"`
	Strategy  string            `json:"rotation_strategy"`
	AutoLogin bool              `json:"auto_login_enabled"`
}

func (s *Server) handleAccountHealth(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, *accountHealthResult, error) {
	if s.store == nil {
		return nil, nil, errors.New("account store is not configured")
	}
	return nil, &accountHealthResult{
		Accounts:  s.store.HealthCheck(),
		Strategy:  string(s.store.RotationStrategy()),
		AutoLogin: s.store.AutoLoginEnabled(),
	}, nil
}

type discoverArgs struct {
	NotebookURL string `json:"notebook_url" jsonschema:"HTTPS URL of the notebook to describe"`
	MaxRetries  *int   `json:"max_retries,omitempty" jsonschema:"extra discovery attempts after the first, default 2"`
}

func (s *Server) handleDiscoverMetadata(ctx context.Context, _ *mcp.CallToolRequest, args discoverArgs) (*mcp.CallToolResult, *discovery.Metadata, error) {
	retries := 2
	if args.MaxRetries != nil && *args.MaxRetries >= 0 {
		retries = *args.MaxRetries
	}
	meta, err := discovery.NewDiscoverer(s, s.log).DiscoverMetadata(ctx, args.NotebookURL, retries)
	if err != nil {
		return nil, nil, err
	}
	return nil, meta, nil
}

// AskNotebook satisfies discovery.Asker using the regular ask pipeline.
func (s *Server) AskNotebook(ctx context.Context, notebookURL, question string) (string, error) {
	sess, err := s.getOrCreateSession("", notebookURL)
	if err != nil {
		return "", err
	}
	res, err := s.registry.Ask(ctx, sess, question, citations.FormatNone)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

// getOrCreateSession binds new sessions to the best rotation pick when the
// account pool has members.
func (s *Server) getOrCreateSession(id, notebookURL string) (*session.Session, error) {
	var opts []session.Option
	if s.store != nil && s.store.HasAccounts() {
		sel, err := s.store.GetBestAccount()
		if err == nil && sel != nil {
			opts = append(opts, session.WithAccount(sel.Account.Config.ID, sel.Account.ProfileDir))
			s.log.Debug().
				Str("account", sel.Account.Config.ID).
				Str("reason", sel.Reason).
				Msg("session bound to account")
		}
	}
	return s.registry.GetOrCreateSession(id, notebookURL, opts...)
}
