// Package smppserver accepts client SMPP sessions, authenticates binds and
// persists submitted messages for the outbound gateway manager to deliver.
package smppserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Yukesh570/SquadBackend/internal/config"
	"github.com/Yukesh570/SquadBackend/internal/database"
	"github.com/Yukesh570/SquadBackend/internal/logging"
	"github.com/Yukesh570/SquadBackend/internal/pdu"
	"github.com/Yukesh570/SquadBackend/internal/routing"
	"github.com/Yukesh570/SquadBackend/pkg/segmenter"
)

// Server is the inbound SMPP listener. One goroutine per accepted connection;
// each connection runs the bind/submit state machine in handleConn.
type Server struct {
	config    config.ServerConfig
	dbQueries database.Querier
	resolver  *routing.Resolver
	splitter  segmenter.Segmenter

	listener net.Listener
	sessions sync.Map // map[string]*session, keyed by connection id
	stopOnce sync.Once
	closed   chan struct{}
	wg       sync.WaitGroup
}

// session is the per-connection state. A connection starts unbound; a
// successful bind attaches the resolved routing result.
type session struct {
	id       string
	conn     net.Conn
	writeMu  sync.Mutex
	bound    bool
	bindMode pdu.CommandID
	res      *routing.Resolution
}

func NewServer(cfg config.ServerConfig, q database.Querier, resolver *routing.Resolver, splitter segmenter.Segmenter) *Server {
	if resolver == nil {
		panic("smppserver requires a resolver")
	}
	return &Server{
		config:    cfg,
		dbQueries: q,
		resolver:  resolver,
		splitter:  splitter,
		closed:    make(chan struct{}),
	}
}

// ListenAndServe binds the listener and blocks accepting connections until
// Shutdown is called or the listener fails.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("smpp listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	slog.Info("SMPP server listening", slog.String("addr", s.config.Addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("smpp accept: %w", err)
		}

		sess := &session{
			id:   uuid.NewString(),
			conn: conn,
		}
		s.sessions.Store(sess.id, sess)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(sess)
		}()
	}
}

// Shutdown stops accepting, closes every live session and waits for their
// handlers to drain, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.closed)
		if s.listener != nil {
			s.listener.Close()
		}
		s.sessions.Range(func(_, v any) bool {
			v.(*session).conn.Close()
			return true
		})
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleConn(sess *session) {
	ctx := logging.ContextWithConnID(context.Background(), sess.id)
	slog.InfoContext(ctx, "client connected", slog.String("remote", sess.conn.RemoteAddr().String()))

	defer func() {
		s.sessions.Delete(sess.id)
		sess.conn.Close()
		slog.InfoContext(ctx, "client disconnected")
	}()

	// Unbound connections must authenticate within the auth window.
	sess.conn.SetReadDeadline(time.Now().Add(s.config.AuthTimeout))

	for {
		// Bound sessions idle between submissions; the rolling deadline
		// keeps the read loop responsive to shutdown without dropping
		// the connection.
		if sess.bound {
			sess.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		header, body, err := pdu.ReadPDU(sess.conn)
		if err != nil {
			if sess.bound && isTimeoutErr(err) {
				continue
			}
			if !errors.Is(err, io.EOF) && !isClosedErr(err) {
				slog.WarnContext(ctx, "read failed", slog.Any("error", err))
			}
			return
		}

		pduCtx := logging.ContextWithPDUInfo(ctx, header.ID.String(), header.Sequence)
		if sess.res != nil {
			pduCtx = logging.ContextWithSystemID(pduCtx, sess.res.Client.SMPPUsername)
		}

		switch {
		case header.ID.IsBind():
			if !s.handleBind(pduCtx, sess, header, body) {
				return
			}

		case header.ID == pdu.SubmitSM:
			s.handleSubmit(pduCtx, sess, header, body)

		case header.ID == pdu.EnquireLink:
			s.reply(pduCtx, sess, pdu.EnquireLink.Resp(), pdu.StatusOK, header.Sequence, nil)

		case header.ID == pdu.Unbind:
			s.reply(pduCtx, sess, pdu.Unbind.Resp(), pdu.StatusOK, header.Sequence, nil)
			slog.InfoContext(pduCtx, "client unbound")
			return

		case header.ID.IsResponse():
			// Clients rarely send responses our way; nothing to do.

		default:
			slog.WarnContext(pduCtx, "unsupported command")
			s.reply(pduCtx, sess, pdu.GenericNack, pdu.StatusInvalidCommand, header.Sequence, nil)
		}
	}
}

// handleBind runs authentication and route resolution. Returns false when the
// connection must be closed (auth failure or write error).
func (s *Server) handleBind(ctx context.Context, sess *session, header pdu.Header, body []byte) bool {
	bind := pdu.DecodeBindBody(body)
	ctx = logging.ContextWithSystemID(ctx, bind.SystemID)

	if sess.bound {
		slog.WarnContext(ctx, "bind on already-bound session")
		s.reply(ctx, sess, header.ID.Resp(), pdu.StatusInvalidBindStat, header.Sequence, nil)
		return true
	}

	res, err := s.resolver.Resolve(ctx, bind.SystemID, bind.Password)
	if err != nil {
		slog.ErrorContext(ctx, "bind resolution failed", slog.Any("error", err))
		s.reply(ctx, sess, header.ID.Resp(), pdu.StatusBindFailed, header.Sequence, nil)
		return false
	}
	if res == nil {
		s.reply(ctx, sess, header.ID.Resp(), pdu.StatusBindFailed, header.Sequence, nil)
		return false
	}

	sess.bound = true
	sess.bindMode = header.ID
	sess.res = res

	resp := pdu.BindResp{SystemID: bind.SystemID}
	if !s.reply(ctx, sess, header.ID.Resp(), pdu.StatusOK, header.Sequence, resp.Marshal()) {
		return false
	}
	slog.InfoContext(ctx, "bind accepted",
		slog.String("mode", header.ID.String()),
		slog.Bool("routed", res.Routed()))
	return true
}

// handleSubmit persists a submission and acknowledges it. The gateway manager
// picks queued rows up asynchronously; the ack carries a local receipt id,
// not the vendor's.
func (s *Server) handleSubmit(ctx context.Context, sess *session, header pdu.Header, body []byte) {
	if !sess.bound {
		slog.WarnContext(ctx, "submit_sm before bind")
		s.reply(ctx, sess, pdu.SubmitSM.Resp(), pdu.StatusInvalidBindStat, header.Sequence, nil)
		return
	}

	sm, err := pdu.DecodeSubmitSM(body)
	if err != nil {
		slog.WarnContext(ctx, "malformed submit_sm", slog.Any("error", err))
		s.reply(ctx, sess, pdu.GenericNack, pdu.StatusInvalidCommand, header.Sequence, nil)
		return
	}

	params := database.CreateQueuedMessageParams{
		Destination: sm.DestAddr,
		Text:        string(sm.ShortMessage),
	}
	// The source address is the client's chosen sender id; it travels with
	// the message and goes out as the outbound source_addr.
	source := sm.SourceAddr
	params.SystemID = &source
	clientID := sess.res.Client.ID
	params.ClientID = &clientID
	if sess.res.Vendor != nil {
		params.VendorID = &sess.res.Vendor.ID
	}
	if sess.res.Gateway != nil {
		params.GatewayID = &sess.res.Gateway.ID
	}

	if s.splitter != nil {
		if split, err := s.splitter.Split(params.Text); err == nil {
			encoding := split.Coding.Name()
			segments := fmt.Sprintf("%d", len(split.Parts))
			chars := fmt.Sprintf("%d", split.CharacterCount)
			params.Encoding = &encoding
			params.SegmentCount = &segments
			params.CharacterCount = &chars
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
	defer cancel()
	msgID, err := s.dbQueries.CreateQueuedMessage(storeCtx, params)
	if err != nil {
		slog.ErrorContext(ctx, "failed to queue message", slog.Any("error", err))
		s.reply(ctx, sess, pdu.SubmitSM.Resp(), pdu.StatusSubmitFailed, header.Sequence, nil)
		return
	}

	resp := pdu.SubmitSMResp{MessageID: fmt.Sprintf("ID%d", header.Sequence)}
	s.reply(ctx, sess, pdu.SubmitSM.Resp(), pdu.StatusOK, header.Sequence, resp.Marshal())
	slog.InfoContext(logging.ContextWithMessageID(ctx, msgID), "message queued",
		slog.String("destination", sm.DestAddr))
}

// reply writes one response PDU; concurrent writers on the same session are
// serialized. Returns false when the write fails.
func (s *Server) reply(ctx context.Context, sess *session, id pdu.CommandID, status pdu.Status, seq uint32, body []byte) bool {
	buf := pdu.Encode(id, status, seq, body)

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	sess.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if _, err := sess.conn.Write(buf); err != nil {
		slog.WarnContext(ctx, "response write failed", slog.Any("error", err))
		return false
	}
	return true
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
