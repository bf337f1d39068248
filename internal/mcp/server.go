package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/pki/internal/config"
	"github.com/nickcecere/pki/internal/embeddings"
	"github.com/nickcecere/pki/internal/ingest"
	"github.com/nickcecere/pki/internal/search"
	"github.com/nickcecere/pki/internal/store"
)

const (
	// MCPVersion is the protocol version we support.
	MCPVersion = "2024-11-05"

	// ServerName is the name of this MCP server.
	ServerName = "pki"

	// ServerVersion is the version of this server.
	ServerVersion = "1.0.0"
)

// Tool names.
const (
	ToolSearch         = "pki_search"
	ToolIndexDocument  = "pki_index_document"
	ToolDeleteDocument = "pki_delete_document"
	ToolListDocuments  = "pki_list_documents"
	ToolGC             = "pki_gc"
	ToolIngest         = "pki_ingest"
)

const (
	defaultListLimit = 20
	maxSnippet       = 500
)

// Server is the MCP server for pki.
type Server struct {
	store    store.Store
	searcher *search.Searcher
	ingester *ingest.Ingester
	maxItems int

	reader *bufio.Reader
	writer io.Writer
}

// NewServer creates an MCP server on stdin/stdout.
func NewServer(st store.Store, emb embeddings.Embedder, in *ingest.Ingester, cfg *config.Config) *Server {
	return &Server{
		store:    st,
		searcher: search.New(st, emb),
		ingester: in,
		maxItems: cfg.Retention.MaxItems,
		reader:   bufio.NewReader(os.Stdin),
		writer:   os.Stdout,
	}
}

// WithIO replaces stdin/stdout.
func (s *Server) WithIO(r io.Reader, w io.Writer) *Server {
	s.reader = bufio.NewReader(r)
	s.writer = w
	return s
}

// Run processes requests until EOF or until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log.Info("MCP server starting")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := s.reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			var req Request
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				s.sendError(nil, ErrorCodeParse, "Parse error", err.Error())
			} else {
				s.handleRequest(ctx, req)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				log.Info("MCP server received EOF, shutting down")
				return nil
			}
			return fmt.Errorf("failed to read request: %w", readErr)
		}
	}
}

// handleRequest processes a single MCP request.
func (s *Server) handleRequest(ctx context.Context, req Request) {
	log.Debug("Received request", "method", req.Method, "id", string(req.ID))

	var result any
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(req.Params)
	case "initialized", "notifications/initialized":
		log.Info("MCP server initialized")
		return
	case "tools/list":
		result = &ListToolsResult{Tools: tools()}
	case "tools/call":
		result, err = s.handleCallTool(ctx, req.Params)
	case "ping":
		result = map[string]any{}
	default:
		if req.IsNotification() {
			log.Debug("Ignoring notification", "method", req.Method)
			return
		}
		s.sendError(req.ID, ErrorCodeMethodNotFound, "Method not found", req.Method)
		return
	}

	if req.IsNotification() {
		return
	}

	if err != nil {
		s.sendError(req.ID, ErrorCodeInvalidParams, "Invalid params", err.Error())
		return
	}
	s.sendResult(req.ID, result)
}

// handleInitialize handles the initialize request.
func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, error) {
	var p InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}

	log.Info("Initializing MCP server",
		"clientName", p.ClientInfo.Name,
		"clientVersion", p.ClientInfo.Version,
		"protocolVersion", p.ProtocolVersion,
	)

	return &InitializeResult{
		ProtocolVersion: MCPVersion,
		Capabilities: map[string]any{
			"tools": map[string]any{},
		},
		ServerInfo: Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
	}, nil
}

func intPtr(v int) *int { return &v }

// tools describes the tools this server offers.
func tools() []Tool {
	return []Tool{
		{
			Name:        ToolSearch,
			Description: "Semantic search over personal notes. Returns the closest documents by cosine similarity.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Schema{
					"query":     {Type: "string", Description: "The search query in natural language"},
					"top_k":     {Type: "integer", Description: "Maximum number of results", Default: config.DefaultTopK, Minimum: intPtr(config.MinTopK), Maximum: intPtr(config.MaxTopK)},
					"min_score": {Type: "number", Description: "Drop results scoring below this similarity"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        ToolIndexDocument,
			Description: "Add or replace a note. The text is embedded and stored under id.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Schema{
					"id":       {Type: "string", Description: "Document id (derived from the text when omitted)"},
					"text":     {Type: "string", Description: "Document text"},
					"metadata": {Type: "object", Description: "String key/value metadata", AdditionalProperties: &Schema{Type: "string"}},
				},
				Required: []string{"text"},
			},
		},
		{
			Name:        ToolDeleteDocument,
			Description: "Delete a note by id.",
			InputSchema: Schema{
				Type:       "object",
				Properties: map[string]Schema{"id": {Type: "string", Description: "Document id"}},
				Required:   []string{"id"},
			},
		},
		{
			Name:        ToolListDocuments,
			Description: "List the most recently updated notes.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Schema{
					"limit": {Type: "integer", Description: "Maximum number of documents", Default: defaultListLimit},
				},
			},
		},
		{
			Name:        ToolGC,
			Description: "Evict the oldest notes so at most max_items remain.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Schema{
					"max_items": {Type: "integer", Description: "Documents to keep (default: retention.max_items)"},
				},
			},
		},
		{
			Name:        ToolIngest,
			Description: "Ingest text files from a file or directory path.",
			InputSchema: Schema{
				Type:       "object",
				Properties: map[string]Schema{"path": {Type: "string", Description: "File or directory path", Default: "."}},
			},
		},
	}
}

// handleCallTool executes a tool. Tool failures are reported in the result, not as RPC errors.
func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (*CallToolResult, error) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	log.Debug("Calling tool", "name", p.Name, "arguments", p.Arguments)

	var (
		text string
		err  error
	)
	switch p.Name {
	case ToolSearch:
		text, err = s.toolSearch(ctx, p.Arguments)
	case ToolIndexDocument:
		text, err = s.toolIndexDocument(ctx, p.Arguments)
	case ToolDeleteDocument:
		text, err = s.toolDeleteDocument(ctx, p.Arguments)
	case ToolListDocuments:
		text, err = s.toolListDocuments(ctx, p.Arguments)
	case ToolGC:
		text, err = s.toolGC(ctx, p.Arguments)
	case ToolIngest:
		text, err = s.toolIngest(ctx, p.Arguments)
	default:
		return textResult(fmt.Sprintf("Unknown tool: %s", p.Name), true), nil
	}

	if err != nil {
		log.Warn("Tool failed", "name", p.Name, "error", err)
		return textResult("Error: "+err.Error(), true), nil
	}
	return textResult(text, false), nil
}

func (s *Server) toolSearch(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", errors.New("query is required")
	}

	opts := search.DefaultOptions()
	if k, ok := intArg(args, "top_k"); ok {
		opts.TopK = k
	}
	if v, ok := args["min_score"].(float64); ok {
		opts.MinScore = v
	}

	results, err := s.searcher.Search(ctx, query, opts)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results:\n\n", len(results))
	for i, r := range results {
		label := r.ID
		if r.Path != "" {
			label += " (" + r.Path + ")"
		}
		fmt.Fprintf(&sb, "[%d] %s - %.1f%% match\n", i+1, label, r.Score*100)
		sb.WriteString(snippet(r.Text))
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

func (s *Server) toolIndexDocument(ctx context.Context, args map[string]any) (string, error) {
	metadata := map[string]string{ingest.MetaSource: "mcp"}
	if m, ok := args["metadata"].(map[string]any); ok {
		for k, v := range m {
			metadata[k] = fmt.Sprint(v)
		}
	}

	id, err := s.ingester.AddText(ctx, stringArg(args, "id"), stringArg(args, "text"), metadata)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Indexed document %s", id), nil
}

func (s *Server) toolDeleteDocument(ctx context.Context, args map[string]any) (string, error) {
	id := stringArg(args, "id")
	if id == "" {
		return "", errors.New("id is required")
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted document %s", id), nil
}

func (s *Server) toolListDocuments(ctx context.Context, args map[string]any) (string, error) {
	limit := defaultListLimit
	if l, ok := intArg(args, "limit"); ok {
		limit = l
	}

	docs, err := s.store.ListDocuments(ctx, limit)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "No documents stored.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d documents:\n\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(&sb, "- %s (updated %s)\n", d.ID, d.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return sb.String(), nil
}

func (s *Server) toolGC(ctx context.Context, args map[string]any) (string, error) {
	maxItems := s.maxItems
	m, explicit := intArg(args, "max_items")
	if explicit {
		maxItems = max(m, 0)
	} else if maxItems <= 0 {
		return "Retention is disabled; pass max_items to evict.", nil
	}

	n, err := s.store.GarbageCollect(ctx, maxItems)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Evicted %d documents (keeping at most %d)", n, maxItems), nil
}

func (s *Server) toolIngest(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}

	res, err := s.ingester.Ingest(ctx, []string{path})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Ingested %s: %d files, %d documents, %d unchanged, %d errors",
		path, res.Files, res.Documents, res.Unchanged, res.Errors), nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg accepts JSON numbers and numeric strings.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

// snippet cuts text to about maxSnippet bytes without splitting a rune.
func snippet(text string) string {
	if len(text) <= maxSnippet {
		return text
	}
	cut := maxSnippet
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func (s *Server) sendResult(id json.RawMessage, result any) {
	s.send(resultResponse(id, result))
}

func (s *Server) sendError(id json.RawMessage, code int, message, data string) {
	s.send(errorResponse(id, code, message, data))
}

// send writes one JSON line to the output.
func (s *Server) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("Failed to marshal response", "error", err)
		return
	}
	fmt.Fprintln(s.writer, string(data))
}
