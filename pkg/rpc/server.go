package rpc

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vectorkv/vectorkv/pkg/auth"
	"github.com/vectorkv/vectorkv/pkg/schema"
)

var tracer = otel.Tracer("github.com/vectorkv/vectorkv/pkg/rpc")

// Server accepts TCP connections speaking the wire framing in this package,
// dispatching every decoded frame to a Dispatcher and writing back its
// Response. One goroutine per accepted connection; there is no shared event
// loop.
type Server struct {
	Addr           string
	MaximumClients int
	MessageSize    uint64
	Authenticator  *auth.Authenticator // nil disables auth entirely
	TLSConfig      *tls.Config         // nil serves plaintext TCP

	Dispatcher *Dispatcher

	listener  net.Listener
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	clients map[string]time.Time
}

// NewServer creates a Server over dispatcher, listening on addr once Start
// is called.
func NewServer(addr string, dispatcher *Dispatcher) *Server {
	s := &Server{
		Addr:           addr,
		MaximumClients: 1000,
		Dispatcher:     dispatcher,
		closed:         make(chan struct{}),
		clients:        make(map[string]time.Time),
	}
	dispatcher.Clients = s.listClients
	return s
}

// Start binds the listener and begins accepting connections in a background
// goroutine. It returns once the listener is bound.
func (s *Server) Start() error {
	var ln net.Listener
	var err error
	if s.TLSConfig != nil {
		ln, err = tls.Listen("tcp", s.Addr, s.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", s.Addr)
	}
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", s.Addr, err)
	}
	s.listener = ln
	go s.serve()
	return nil
}

// Port reports the bound port, useful when Addr used port 0.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				log.Printf("rpc: accept: %v", err)
				continue
			}
		}

		if s.tooManyClients() {
			s.rejectConnection(conn)
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) tooManyClients() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MaximumClients > 0 && len(s.clients) >= s.MaximumClients
}

// rejectConnection writes a single MaxConnectedClientsReached response frame
// and closes the connection without ever registering it.
func (s *Server) rejectConnection(conn net.Conn) {
	defer conn.Close()
	w := bufio.NewWriter(conn)
	resp := Response{Err: schema.NewError(schema.TagMaxConnectedClientsReached, "server already has %d connected clients", s.MaximumClients)}
	payload, err := EncodeResponse(resp)
	if err != nil {
		return
	}
	_ = WriteFrame(w, payload)
}

// Stop closes the listener. In-flight requests that have already mutated a
// store are allowed to finish; Stop does not forcibly close live connections
// or clear the client table. Each connection loop checks for Stop before
// reading its next frame and removes its own client entry when it returns.
func (s *Server) Stop() error {
	s.closeOnce.Do(func() { close(s.closed) })
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) listClients() []ConnectedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnectedClient, 0, len(s.clients))
	for addr, t := range s.clients {
		out = append(out, ConnectedClient{Address: addr, TimeConnected: t})
	}
	return out
}

func (s *Server) handleConnection(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	connID := uuid.New().String()
	s.mu.Lock()
	s.clients[addr] = time.Now()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, addr)
		s.mu.Unlock()
		conn.Close()
	}()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		payload, err := ReadFrame(reader, s.MessageSize)
		if err != nil {
			if e, ok := schema.AsError(err); ok {
				s.writeErrorFrame(writer, e)
				continue
			}
			if err != io.EOF {
				log.Printf("rpc: read frame from %s [conn=%s]: %v", addr, connID, err)
			}
			return
		}

		req, err := DecodeRequest(payload)
		if err != nil {
			s.writeErrorFrame(writer, schema.NewError(schema.TagSerializationFailed, "decode request: %v", err))
			continue
		}

		if err := s.authenticate(req, addr); err != nil {
			s.writeErrorFrame(writer, err.(*schema.Error))
			continue
		}

		resp := s.dispatchTraced(req)

		out, err := EncodeResponse(resp)
		if err != nil {
			log.Printf("rpc: encode response for %s [conn=%s]: %v", addr, connID, err)
			return
		}
		if err := WriteFrame(writer, out); err != nil {
			return
		}
	}
}

// authenticate checks req's bearer token against s.Authenticator, skipping
// the check entirely when auth is disabled or the request is Ping.
func (s *Server) authenticate(req Request, addr string) error {
	if s.Authenticator == nil || req.Kind == KindPing {
		return nil
	}
	return s.Authenticator.Authenticate(req.AuthToken, addr)
}

func (s *Server) writeErrorFrame(w *bufio.Writer, e *schema.Error) {
	payload, err := EncodeResponse(Response{Err: e})
	if err != nil {
		return
	}
	_ = WriteFrame(w, payload)
}

// dispatchTraced wraps Dispatcher.Dispatch with a request span, reparented
// under req.TraceParent when present.
func (s *Server) dispatchTraced(req Request) Response {
	ctx := context.Background()
	if sc, ok := parseTraceParent(req.TraceParent); ok {
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
	}
	_, span := tracer.Start(ctx, "rpc.dispatch."+requestKindName(req.Kind))
	defer span.End()
	return s.Dispatcher.Dispatch(req)
}

func requestKindName(k Kind) string {
	switch k {
	case KindPing:
		return "ping"
	case KindInfoServer:
		return "info_server"
	case KindListClients:
		return "list_clients"
	case KindListStores:
		return "list_stores"
	case KindCreateStore:
		return "create_store"
	case KindDropStore:
		return "drop_store"
	case KindSet:
		return "set"
	case KindGetKey:
		return "get_key"
	case KindGetPred:
		return "get_pred"
	case KindGetSimN:
		return "get_sim_n"
	case KindDelKey:
		return "del_key"
	case KindDelPred:
		return "del_pred"
	case KindCreatePredIndex:
		return "create_pred_index"
	case KindDropPredIndex:
		return "drop_pred_index"
	case KindCreateNonLinearIndex:
		return "create_nonlinear_index"
	case KindDropNonLinearIndex:
		return "drop_nonlinear_index"
	case KindPipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}

// parseTraceParent parses a W3C-shaped "version-traceid-spanid-flags"
// header into a remote SpanContext. Malformed or empty input returns
// ok == false and the caller starts a fresh root span instead.
func parseTraceParent(header string) (trace.SpanContext, bool) {
	parts := strings.Split(header, "-")
	if len(parts) != 4 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return trace.SpanContext{}, false
	}
	flags, err := strconv.ParseUint(parts[3], 16, 8)
	if err != nil {
		return trace.SpanContext{}, false
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.TraceFlags(flags),
		Remote:     true,
	}), true
}
