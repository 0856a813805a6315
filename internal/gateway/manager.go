// Package gateway maintains outbound SMPP sessions to vendor gateways and
// drives delivery of queued messages over them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/Yukesh570/SquadBackend/internal/config"
	"github.com/Yukesh570/SquadBackend/internal/database"
	"github.com/Yukesh570/SquadBackend/internal/dlr"
	"github.com/Yukesh570/SquadBackend/internal/logging"
	"github.com/Yukesh570/SquadBackend/internal/notification"
	"github.com/Yukesh570/SquadBackend/internal/pdu"
	"github.com/Yukesh570/SquadBackend/pkg/codes"
	"github.com/Yukesh570/SquadBackend/pkg/segmenter"
)

type dialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Manager owns every outbound vendor session. It is NOT safe for concurrent
// use: a single polling goroutine calls ProcessQueuedBatch, which keeps the
// sequence-to-message correlation tables single-owner by construction.
type Manager struct {
	config    config.GatewayManagerConfig
	dbQueries database.Querier
	dlrs      *dlr.Handler
	notifier  notification.Notifier
	splitter  segmenter.Segmenter

	dial     dialFunc
	sessions map[int64]*vendorSession
}

// vendorSession is the state of one gateway connection. pending maps the
// local sequence numbers of in-flight submit_sm parts to message row ids.
type vendorSession struct {
	gatewayID   int64
	gw          database.GatewayConfig
	conn        net.Conn
	status      string
	seq         uint32
	pending     map[uint32]int64
	lastAttempt time.Time
	pausedUntil time.Time
}

func NewManager(cfg config.GatewayManagerConfig, q database.Querier, dlrs *dlr.Handler, notifier notification.Notifier, splitter segmenter.Segmenter) *Manager {
	m := &Manager{
		config:    cfg,
		dbQueries: q,
		dlrs:      dlrs,
		notifier:  notifier,
		splitter:  splitter,
		sessions:  make(map[int64]*vendorSession),
	}
	m.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: cfg.ConnectTimeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	return m
}

// ProcessQueuedBatch is one delivery pass: drain vendor responses, fetch the
// oldest queued messages and push each over its gateway session. It is the
// WorkerFunc driven by the polling loop. Messages whose gateway cannot be
// reached right now stay queued for a later pass.
func (m *Manager) ProcessQueuedBatch(ctx context.Context, batchSize int) (int, error) {
	for _, sess := range m.sessions {
		m.drain(ctx, sess)
	}

	msgs, err := m.dbQueries.GetQueuedMessages(ctx, int32(batchSize))
	if err != nil {
		return 0, fmt.Errorf("fetch queued messages: %w", err)
	}

	processed := 0
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if m.deliver(ctx, msg) {
			processed++
		}
	}
	return processed, nil
}

// deliver pushes one message. Returns true when the message reached a
// terminal-for-this-pass state (sent or failed), false when it stays queued.
func (m *Manager) deliver(ctx context.Context, msg database.SMSMessage) bool {
	logCtx := logging.ContextWithMessageID(ctx, msg.ID)

	if msg.GatewayID == nil {
		slog.WarnContext(logCtx, "message has no deliverable gateway, failing")
		m.markFailed(logCtx, msg.ID)
		return true
	}
	logCtx = logging.ContextWithGatewayID(logCtx, *msg.GatewayID)

	sess := m.ensureSession(logCtx, *msg.GatewayID)
	if sess == nil {
		return false
	}
	if time.Now().Before(sess.pausedUntil) {
		return false
	}

	split, err := m.splitter.Split(msg.Text)
	if err != nil {
		slog.WarnContext(logCtx, "message text cannot be segmented", slog.Any("error", err))
		m.markFailed(logCtx, msg.ID)
		return true
	}

	gw := sess.gw

	// The stored source address is the client's chosen sender id; when the
	// submission carried none, the gateway's own system id goes out.
	source := gw.SystemID
	if msg.SystemID != nil && *msg.SystemID != "" {
		source = *msg.SystemID
	}

	for i, part := range split.Parts {
		// Pacing applies to every submit on the session, first parts
		// included, so back-to-back messages respect the vendor's
		// per-second cap.
		if m.config.SendPacing > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(m.config.SendPacing):
			}
		}

		sess.seq++
		seq := sess.seq

		body := pdu.SubmitSMBody{
			SourceTON:          byte(gw.SourceTON),
			SourceNPI:          byte(gw.SourceNPI),
			SourceAddr:         source,
			DestTON:            byte(gw.DestTON),
			DestNPI:            byte(gw.DestNPI),
			DestAddr:           msg.Destination,
			ESMClass:           split.ESMClass,
			RegisteredDelivery: 1,
			DataCoding:         byte(split.Coding),
			ShortMessage:       part,
		}
		payload, err := body.Marshal()
		if err != nil {
			slog.ErrorContext(logCtx, "submit_sm encode failed", slog.Any("error", err))
			m.markFailed(logCtx, msg.ID)
			return true
		}

		// Record the correlation before the bytes leave, so a response
		// racing the next statement still matches.
		sess.pending[seq] = msg.ID

		if err := m.write(sess, pdu.Encode(pdu.SubmitSM, pdu.StatusOK, seq, payload)); err != nil {
			delete(sess.pending, seq)
			slog.ErrorContext(logCtx, "submit_sm write failed", slog.Any("error", err))
			m.teardown(logCtx, sess, err)
			m.markFailed(logCtx, msg.ID)
			return true
		}
		slog.DebugContext(logCtx, "part sent",
			slog.Int("part", i+1),
			slog.Int("parts", len(split.Parts)),
			slog.Uint64("seq", uint64(seq)))
	}

	if err := m.dbQueries.MarkMessageSent(logCtx, msg.ID); err != nil {
		slog.ErrorContext(logCtx, "failed to mark message sent", slog.Any("error", err))
	}

	// Pick up whatever the gateway answered while the parts went out, so
	// acks correlate in the same pass instead of waiting for the next one.
	m.drain(logCtx, sess)
	return true
}

// ensureSession returns a bound session for the gateway, connecting when
// allowed. Returns nil when the gateway is in its reconnect cooldown or the
// connect/bind handshake fails.
func (m *Manager) ensureSession(ctx context.Context, gatewayID int64) *vendorSession {
	sess, ok := m.sessions[gatewayID]
	if ok && sess.status == codes.SessionBound {
		return sess
	}
	if !ok {
		sess = &vendorSession{gatewayID: gatewayID, status: codes.SessionDisconnected}
		m.sessions[gatewayID] = sess
	}

	if time.Since(sess.lastAttempt) < m.config.ConnectCooldown {
		return nil
	}
	sess.lastAttempt = time.Now()
	sess.status = codes.SessionConnecting

	gw, err := m.dbQueries.GetGatewayConfig(ctx, gatewayID)
	if err != nil {
		slog.ErrorContext(ctx, "gateway config lookup failed", slog.Any("error", err))
		sess.status = codes.SessionDisconnected
		return nil
	}

	addr := fmt.Sprintf("%s:%d", gw.Host, gw.Port)
	conn, err := m.dial(ctx, addr)
	if err != nil {
		slog.WarnContext(ctx, "gateway connect failed",
			slog.String("addr", addr), slog.Any("error", err))
		sess.status = codes.SessionDisconnected
		m.alert(ctx, fmt.Sprintf("Gateway %d unreachable", gatewayID),
			fmt.Sprintf("Connect to %s failed: %v", addr, err))
		return nil
	}

	sess.conn = conn
	sess.gw = gw
	sess.pending = make(map[uint32]int64)
	sess.seq = 0

	if err := m.bind(ctx, sess, gw); err != nil {
		slog.WarnContext(ctx, "gateway bind failed", slog.Any("error", err))
		conn.Close()
		sess.conn = nil
		sess.status = codes.SessionDisconnected
		m.alert(ctx, fmt.Sprintf("Gateway %d bind failed", gatewayID), err.Error())
		return nil
	}

	sess.status = codes.SessionBound
	slog.InfoContext(ctx, "gateway session bound", slog.String("addr", addr))
	return sess
}

// bind performs the outbound bind handshake and waits for the response.
func (m *Manager) bind(ctx context.Context, sess *vendorSession, gw database.GatewayConfig) error {
	bindCmd := bindCommand(gw.BindMode)
	body := pdu.BindBody{
		SystemID:         gw.SystemID,
		Password:         gw.Password,
		InterfaceVersion: 0x34,
		AddrTON:          byte(gw.SourceTON),
		AddrNPI:          byte(gw.SourceNPI),
	}

	sess.seq++
	if err := m.write(sess, pdu.Encode(bindCmd, pdu.StatusOK, sess.seq, body.Marshal())); err != nil {
		return fmt.Errorf("bind write: %w", err)
	}

	sess.conn.SetReadDeadline(time.Now().Add(m.config.BindTimeout))
	for {
		header, respBody, err := pdu.ReadPDU(sess.conn)
		if err != nil {
			return fmt.Errorf("bind response read: %w", err)
		}
		if header.ID == pdu.EnquireLink {
			m.write(sess, pdu.Encode(pdu.EnquireLink.Resp(), pdu.StatusOK, header.Sequence, nil))
			continue
		}
		if header.ID != bindCmd.Resp() {
			return fmt.Errorf("unexpected %s while waiting for bind response", header.ID)
		}
		if header.Status != pdu.StatusOK {
			return fmt.Errorf("bind rejected with status %s", header.Status)
		}
		resp := pdu.DecodeBindResp(respBody)
		slog.DebugContext(ctx, "bind response", slog.String("remote_system", resp.SystemID))
		return nil
	}
}

func bindCommand(mode string) pdu.CommandID {
	switch strings.ToUpper(mode) {
	case codes.BindModeTransmitter:
		return pdu.BindTransmitter
	case codes.BindModeReceiver:
		return pdu.BindReceiver
	default:
		return pdu.BindTransceiver
	}
}

// drain reads whatever the gateway has sent since the last pass without
// blocking the loop: each read is bounded by the drain deadline and the
// first timeout ends the drain.
func (m *Manager) drain(ctx context.Context, sess *vendorSession) {
	if sess.status != codes.SessionBound || sess.conn == nil {
		return
	}
	logCtx := logging.ContextWithGatewayID(ctx, sess.gatewayID)

	for {
		sess.conn.SetReadDeadline(time.Now().Add(m.config.DrainTimeout))
		header, body, err := pdu.ReadPDU(sess.conn)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				m.teardown(logCtx, sess, err)
				return
			}
			slog.WarnContext(logCtx, "gateway read failed", slog.Any("error", err))
			m.teardown(logCtx, sess, err)
			return
		}
		m.handlePDU(logCtx, sess, header, body)
	}
}

// handlePDU dispatches one gateway-originated PDU.
func (m *Manager) handlePDU(ctx context.Context, sess *vendorSession, header pdu.Header, body []byte) {
	switch header.ID {
	case pdu.SubmitSM.Resp():
		m.handleSubmitResp(ctx, sess, header, body)

	case pdu.DeliverSM:
		sm, err := pdu.DecodeSubmitSM(body)
		if err != nil {
			slog.WarnContext(ctx, "malformed deliver_sm", slog.Any("error", err))
			m.write(sess, pdu.Encode(pdu.GenericNack, pdu.StatusInvalidCommand, header.Sequence, nil))
			return
		}
		if err := m.dlrs.Apply(ctx, sm.ShortMessage); err != nil {
			slog.ErrorContext(ctx, "delivery receipt handling failed", slog.Any("error", err))
		}
		m.write(sess, pdu.Encode(pdu.DeliverSM.Resp(), pdu.StatusOK, header.Sequence, nil))

	case pdu.EnquireLink:
		m.write(sess, pdu.Encode(pdu.EnquireLink.Resp(), pdu.StatusOK, header.Sequence, nil))

	case pdu.EnquireLink.Resp(), pdu.Unbind.Resp():
		// Keep-alive and unbind acks carry no state.

	case pdu.GenericNack:
		slog.WarnContext(ctx, "gateway nacked a request",
			slog.Uint64("seq", uint64(header.Sequence)),
			slog.String("status", header.Status.String()))

	default:
		slog.DebugContext(ctx, "ignoring gateway pdu", slog.String("cmd", header.ID.String()))
	}
}

// handleSubmitResp correlates a submit acknowledgement with the part it
// answers. Unmatched sequences are dropped silently: the mapping was already
// consumed by an earlier part's response or belongs to a previous session.
func (m *Manager) handleSubmitResp(ctx context.Context, sess *vendorSession, header pdu.Header, body []byte) {
	msgID, ok := sess.pending[header.Sequence]
	if !ok {
		return
	}
	delete(sess.pending, header.Sequence)
	logCtx := logging.ContextWithMessageID(ctx, msgID)

	switch header.Status {
	case pdu.StatusOK:
		resp := pdu.DecodeSubmitSMResp(body)
		if resp.MessageID == "" {
			return
		}
		if err := m.dbQueries.SetVendorMessageID(logCtx, msgID, resp.MessageID); err != nil {
			slog.ErrorContext(logCtx, "failed to record vendor message id", slog.Any("error", err))
			return
		}
		slog.InfoContext(logging.ContextWithVendorMsgID(logCtx, resp.MessageID), "vendor accepted message")

	case pdu.StatusThrottled, pdu.StatusSubmitFailed:
		slog.WarnContext(logCtx, "vendor throttled submission, pausing gateway",
			slog.String("status", header.Status.String()))
		sess.pausedUntil = time.Now().Add(m.config.ThrottlePause)
		m.markFailed(logCtx, msgID)

	default:
		slog.WarnContext(logCtx, "vendor rejected submission",
			slog.String("status", header.Status.String()))
		m.markFailed(logCtx, msgID)
	}
}

// teardown closes a broken session. The reconnect cooldown keeps the next
// pass from hammering a dead gateway.
func (m *Manager) teardown(ctx context.Context, sess *vendorSession, cause error) {
	if sess.conn != nil {
		sess.conn.Close()
		sess.conn = nil
	}
	sess.status = codes.SessionDisconnected
	sess.pending = nil
	sess.lastAttempt = time.Now()
	slog.WarnContext(ctx, "gateway session lost", slog.Any("error", cause))
	m.alert(ctx, fmt.Sprintf("Gateway %d session lost", sess.gatewayID), fmt.Sprintf("%v", cause))
}

// Shutdown unbinds and closes every live session.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, sess := range m.sessions {
		if sess.status != codes.SessionBound || sess.conn == nil {
			continue
		}
		sess.status = codes.SessionUnbinding
		sess.seq++
		m.write(sess, pdu.Encode(pdu.Unbind, pdu.StatusOK, sess.seq, nil))
		sess.conn.Close()
		sess.conn = nil
		sess.status = codes.SessionDisconnected
	}
	slog.InfoContext(ctx, "gateway manager stopped")
}

func (m *Manager) write(sess *vendorSession, buf []byte) error {
	sess.conn.SetWriteDeadline(time.Now().Add(m.config.ConnectTimeout))
	_, err := sess.conn.Write(buf)
	return err
}

func (m *Manager) markFailed(ctx context.Context, msgID int64) {
	if err := m.dbQueries.MarkMessageFailed(ctx, msgID); err != nil {
		slog.ErrorContext(ctx, "failed to mark message failed", slog.Any("error", err))
	}
}

func (m *Manager) alert(ctx context.Context, subject, body string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, subject, body); err != nil {
		slog.WarnContext(ctx, "alert notification failed", slog.Any("error", err))
	}
}
