package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/card-detect-mcp/internal/config"
	"github.com/ironsheep/card-detect-mcp/internal/events"
	"github.com/ironsheep/card-detect-mcp/internal/imaging"
	"github.com/ironsheep/card-detect-mcp/internal/logging"
	"github.com/ironsheep/card-detect-mcp/internal/ocr"
	"github.com/ironsheep/card-detect-mcp/internal/pipeline"
)

// ServerName and ServerVersion are reported in the initialize handshake.
const (
	ServerName    = "card-detect-mcp"
	ServerVersion = "0.1.0"
)

// Server handles MCP protocol communication for one capture session.
type Server struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	session *pipeline.Session
	cache   *imaging.ImageCache
	reader  *ocr.Reader

	// card is the last exported canonical card image.
	cardMu sync.Mutex
	card   *pipeline.ClickResult

	outMu sync.Mutex
	enc   *json.Encoder
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCPNotification represents an outgoing notification (no ID)
type MCPNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// New creates a server with a fresh capture session. A nil cfg uses
// config.Default and a nil log discards output.
func New(cfg *config.Config, log logrus.FieldLogger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.Discard()
	}

	reader := &ocr.Reader{TessdataPrefix: cfg.Tessdata}
	if cfg.Catalog != "" {
		names, err := ocr.LoadCatalog(cfg.Catalog)
		if err != nil {
			log.WithError(err).Warn("title matching disabled")
		} else {
			reader.Catalog = names
			log.WithField("names", len(names)).Info("card catalog loaded")
		}
	}

	return &Server{
		cfg:     cfg,
		log:     log,
		session: pipeline.NewSession(cfg.SessionOptions(log)),
		cache:   imaging.NewImageCache(),
		reader:  reader,
	}
}

// Session returns the capture session the tools operate on.
func (s *Server) Session() *pipeline.Session { return s.session }

// Run serves MCP on stdin and stdout until stdin closes or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads one JSON-RPC request per line from in and writes responses
// and notifications to out. Session events are forwarded as
// notifications/message while serving. The session is stopped on return.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.outMu.Lock()
	s.enc = json.NewEncoder(out)
	s.outMu.Unlock()

	s.session.Events().SetListener(s.notifyEvent)
	defer func() {
		s.session.Stop()
		s.session.Events().SetListener(nil)
	}()

	scanner := bufio.NewScanner(in)
	// Frames arrive base64 encoded; allow large lines.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 32*1024*1024)

	lines := make(chan []byte)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line []byte
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			break
		}
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.WithError(err).Warn("failed to parse request")
			continue
		}

		resp := s.handleRequest(ctx, &req)
		if resp != nil {
			if err := s.write(resp); err != nil {
				s.log.WithError(err).Error("failed to encode response")
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

func (s *Server) write(v interface{}) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.enc == nil {
		return nil
	}
	return s.enc.Encode(v)
}

// notifyEvent forwards a session event to the client.
func (s *Server) notifyEvent(e events.Event) {
	level := "info"
	switch e.Kind {
	case events.KindError:
		level = "error"
	case events.KindProgress:
		level = "debug"
	}
	n := MCPNotification{
		JSONRPC: "2.0",
		Method:  "notifications/message",
		Params: map[string]interface{}{
			"level":  level,
			"logger": ServerName,
			"data":   eventSummary(e),
		},
	}
	if err := s.write(n); err != nil {
		s.log.WithError(err).Warn("failed to send notification")
	}
}

// eventSummary drops bulky payloads from notifications. Full candidate
// lists stay available through events_poll.
func eventSummary(e events.Event) events.Event {
	if e.Kind == events.KindCandidates {
		e.Data = nil
	}
	return e
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools":   map[string]interface{}{},
				"logging": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    ServerName,
				"version": ServerVersion,
			},
		},
	}
}
