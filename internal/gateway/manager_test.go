package gateway

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yukesh570/SquadBackend/internal/config"
	"github.com/Yukesh570/SquadBackend/internal/database"
	"github.com/Yukesh570/SquadBackend/internal/dlr"
	"github.com/Yukesh570/SquadBackend/internal/pdu"
	"github.com/Yukesh570/SquadBackend/pkg/codes"
	"github.com/Yukesh570/SquadBackend/pkg/segmenter"
)

// fakeStore mirrors the SQL transition guards of the real store: sent only
// from queued, failed only from non-terminal, vendor id only once, receipt
// updates only on non-terminal rows. Tests therefore exercise the same
// monotonic lifecycle Postgres enforces.
type fakeStore struct {
	database.Querier

	mu       sync.Mutex
	messages map[int64]*database.SMSMessage
}

func newFakeStore(msgs ...database.SMSMessage) *fakeStore {
	s := &fakeStore{messages: make(map[int64]*database.SMSMessage)}
	for i := range msgs {
		msg := msgs[i]
		s.messages[msg.ID] = &msg
	}
	return s
}

func (s *fakeStore) GetGatewayConfig(_ context.Context, id int64) (database.GatewayConfig, error) {
	return database.GatewayConfig{
		ID: id, Host: "vendor.example", Port: 2775,
		SystemID: "squad", Password: "pw", BindMode: codes.BindModeTransceiver,
	}, nil
}

func (s *fakeStore) GetQueuedMessages(_ context.Context, limit int32) ([]database.SMSMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.SMSMessage
	for _, msg := range s.messages {
		if msg.Status == codes.MsgStatusQueued && int32(len(out)) < limit {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkMessageSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.messages[id]; ok && msg.Status == codes.MsgStatusQueued {
		msg.Status = codes.MsgStatusSent
	}
	return nil
}

func (s *fakeStore) MarkMessageFailed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.messages[id]; ok && !codes.IsTerminal(msg.Status) {
		msg.Status = codes.MsgStatusFailed
	}
	return nil
}

func (s *fakeStore) SetVendorMessageID(_ context.Context, id int64, vendorMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.messages[id]; ok && msg.VendorMessageID == nil {
		v := vendorMessageID
		msg.VendorMessageID = &v
	}
	return nil
}

func (s *fakeStore) UpdateStatusByVendorMessageID(_ context.Context, vendorMessageID, status string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.VendorMessageID == nil || *msg.VendorMessageID != vendorMessageID {
			continue
		}
		if codes.IsTerminal(msg.Status) {
			return 0, nil
		}
		msg.Status = status
		return 1, nil
	}
	return 0, nil
}

func (s *fakeStore) status(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id].Status
}

func (s *fakeStore) vendorID(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v := s.messages[id].VendorMessageID; v != nil {
		return *v
	}
	return ""
}

func testConfig() config.GatewayManagerConfig {
	return config.GatewayManagerConfig{
		ConnectTimeout:  time.Second,
		ConnectCooldown: 10 * time.Second,
		DrainTimeout:    100 * time.Millisecond,
		SendPacing:      0,
		ThrottlePause:   5 * time.Second,
		BindTimeout:     2 * time.Second,
	}
}

func newTestManager(store *fakeStore) *Manager {
	return NewManager(testConfig(), store, dlr.NewHandler(store), nil, segmenter.New())
}

func queuedMessage(id int64, text string) database.SMSMessage {
	gwID := int64(7)
	sender := "acme"
	return database.SMSMessage{
		ID: id, Destination: "9779800000001", Text: text,
		Status: codes.MsgStatusQueued, SystemID: &sender, GatewayID: &gwID,
	}
}

// vendorAcceptBind answers the bind handshake on the vendor end of the pipe.
func vendorAcceptBind(t *testing.T, conn net.Conn) {
	t.Helper()
	header, _, err := pdu.ReadPDU(conn)
	require.NoError(t, err)
	require.True(t, header.ID.IsBind())
	resp := pdu.BindResp{SystemID: "vendor"}
	_, err = conn.Write(pdu.Encode(header.ID.Resp(), pdu.StatusOK, header.Sequence, resp.Marshal()))
	require.NoError(t, err)
}

// vendorReadSubmit reads one submit_sm and returns its header.
func vendorReadSubmit(t *testing.T, conn net.Conn) pdu.Header {
	t.Helper()
	header, _, err := pdu.ReadPDU(conn)
	require.NoError(t, err)
	require.Equal(t, pdu.SubmitSM, header.ID)
	return header
}

// vendorReadSubmitFull reads one submit_sm and decodes its body.
func vendorReadSubmitFull(t *testing.T, conn net.Conn) (pdu.Header, pdu.SubmitSMBody) {
	t.Helper()
	header, body, err := pdu.ReadPDU(conn)
	require.NoError(t, err)
	require.Equal(t, pdu.SubmitSM, header.ID)
	sm, err := pdu.DecodeSubmitSM(body)
	require.NoError(t, err)
	return header, sm
}

func pipeDialer(t *testing.T, vendor func(conn net.Conn)) dialFunc {
	t.Helper()
	return func(_ context.Context, _ string) (net.Conn, error) {
		client, server := net.Pipe()
		go vendor(server)
		t.Cleanup(func() {
			client.Close()
			server.Close()
		})
		return client, nil
	}
}

func TestDeliverAndCorrelate(t *testing.T) {
	store := newFakeStore(queuedMessage(100, "hello"))
	m := newTestManager(store)
	m.dial = pipeDialer(t, func(conn net.Conn) {
		vendorAcceptBind(t, conn)
		submit := vendorReadSubmit(t, conn)
		resp := pdu.SubmitSMResp{MessageID: "VND42"}
		conn.Write(pdu.Encode(pdu.SubmitSM.Resp(), pdu.StatusOK, submit.Sequence, resp.Marshal()))
	})

	processed, err := m.ProcessQueuedBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, codes.MsgStatusSent, store.status(100))

	require.Eventually(t, func() bool {
		_, err := m.ProcessQueuedBatch(context.Background(), 10)
		require.NoError(t, err)
		return store.vendorID(100) == "VND42"
	}, 2*time.Second, 50*time.Millisecond)

	sess := m.sessions[7]
	require.NotNil(t, sess)
	assert.Empty(t, sess.pending)
}

// The post-send drain picks a prompt ack up in the same delivery pass.
func TestAckCorrelatedWithinSendPass(t *testing.T) {
	store := newFakeStore(queuedMessage(110, "hello"))
	m := newTestManager(store)
	m.dial = pipeDialer(t, func(conn net.Conn) {
		vendorAcceptBind(t, conn)
		submit := vendorReadSubmit(t, conn)
		resp := pdu.SubmitSMResp{MessageID: "VND9"}
		conn.Write(pdu.Encode(pdu.SubmitSM.Resp(), pdu.StatusOK, submit.Sequence, resp.Marshal()))
	})

	processed, err := m.ProcessQueuedBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, "VND9", store.vendorID(110))
	assert.Empty(t, m.sessions[7].pending)
}

func TestUnroutedMessageFails(t *testing.T) {
	msg := queuedMessage(200, "hi")
	msg.GatewayID = nil
	store := newFakeStore(msg)
	m := newTestManager(store)

	processed, err := m.ProcessQueuedBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, codes.MsgStatusFailed, store.status(200))
}

func TestConnectCooldown(t *testing.T) {
	store := newFakeStore(queuedMessage(300, "hi"))
	m := newTestManager(store)
	dials := 0
	m.dial = func(_ context.Context, _ string) (net.Conn, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	processed, err := m.ProcessQueuedBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Equal(t, 1, dials)
	assert.Equal(t, codes.MsgStatusQueued, store.status(300))

	// Within the cooldown window no second connect is attempted.
	processed, err = m.ProcessQueuedBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Equal(t, 1, dials)
}

func TestThrottledResponsePausesGateway(t *testing.T) {
	store := newFakeStore(queuedMessage(400, "one"), queuedMessage(401, "two"))
	m := newTestManager(store)

	m.dial = pipeDialer(t, func(conn net.Conn) {
		vendorAcceptBind(t, conn)
		first := vendorReadSubmit(t, conn)
		second := vendorReadSubmit(t, conn)
		conn.Write(pdu.Encode(pdu.SubmitSM.Resp(), pdu.StatusThrottled, first.Sequence, nil))
		conn.Write(pdu.Encode(pdu.SubmitSM.Resp(), pdu.StatusThrottled, second.Sequence, nil))
	})

	// First pass sends both messages; the vendor throttles every part.
	processed, err := m.ProcessQueuedBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	// Draining the throttle responses fails both messages and pauses the
	// session.
	require.Eventually(t, func() bool {
		_, err := m.ProcessQueuedBatch(context.Background(), 10)
		require.NoError(t, err)
		return store.status(400) == codes.MsgStatusFailed &&
			store.status(401) == codes.MsgStatusFailed
	}, 2*time.Second, 50*time.Millisecond)
	assert.True(t, time.Now().Before(m.sessions[7].pausedUntil))
}

func TestDeliveryReceiptFromVendor(t *testing.T) {
	store := newFakeStore(queuedMessage(600, "ping"))
	m := newTestManager(store)

	receipt := pdu.SubmitSMBody{
		SourceAddr:   "vendor",
		DestAddr:     "acme",
		ESMClass:     0x04,
		ShortMessage: []byte("id:VND42 stat:DELIVRD err:000"),
	}
	body, err := receipt.Marshal()
	require.NoError(t, err)

	delivered := make(chan pdu.Header, 1)
	m.dial = pipeDialer(t, func(conn net.Conn) {
		vendorAcceptBind(t, conn)
		submit := vendorReadSubmit(t, conn)
		resp := pdu.SubmitSMResp{MessageID: "VND42"}
		conn.Write(pdu.Encode(pdu.SubmitSM.Resp(), pdu.StatusOK, submit.Sequence, resp.Marshal()))
		conn.Write(pdu.Encode(pdu.DeliverSM, pdu.StatusOK, 900, body))
		header, _, err := pdu.ReadPDU(conn)
		if err == nil {
			delivered <- header
		}
	})

	_, err = m.ProcessQueuedBatch(context.Background(), 10)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := m.ProcessQueuedBatch(context.Background(), 10)
		require.NoError(t, err)
		return store.status(600) == codes.MsgStatusDelivered
	}, 2*time.Second, 50*time.Millisecond)

	ack := <-delivered
	assert.Equal(t, pdu.DeliverSM.Resp(), ack.ID)
	assert.Equal(t, uint32(900), ack.Sequence)
}

func TestMultipartUsesDistinctSequences(t *testing.T) {
	long := make([]byte, 0, 200)
	for i := 0; i < 200; i++ {
		long = append(long, 'a')
	}
	store := newFakeStore(queuedMessage(500, string(long)))
	m := newTestManager(store)

	seqs := make(chan uint32, 2)
	m.dial = pipeDialer(t, func(conn net.Conn) {
		vendorAcceptBind(t, conn)
		for i := 0; i < 2; i++ {
			header := vendorReadSubmit(t, conn)
			seqs <- header.Sequence
		}
	})

	processed, err := m.ProcessQueuedBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, codes.MsgStatusSent, store.status(500))

	first, second := <-seqs, <-seqs
	assert.NotEqual(t, first, second)

	sess := m.sessions[7]
	require.NotNil(t, sess)
	assert.Len(t, sess.pending, 2)
	assert.Equal(t, int64(500), sess.pending[first])
	assert.Equal(t, int64(500), sess.pending[second])
}

// Pacing applies to every submit, so consecutive single-part messages on one
// gateway keep the configured gap between them.
func TestPacingBetweenConsecutiveMessages(t *testing.T) {
	store := newFakeStore(queuedMessage(800, "one"), queuedMessage(801, "two"))
	cfg := testConfig()
	cfg.SendPacing = 150 * time.Millisecond
	m := NewManager(cfg, store, dlr.NewHandler(store), nil, segmenter.New())

	times := make(chan time.Time, 2)
	m.dial = pipeDialer(t, func(conn net.Conn) {
		vendorAcceptBind(t, conn)
		for i := 0; i < 2; i++ {
			vendorReadSubmit(t, conn)
			times <- time.Now()
		}
	})

	processed, err := m.ProcessQueuedBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	first, second := <-times, <-times
	assert.GreaterOrEqual(t, second.Sub(first), 100*time.Millisecond)
}

func TestSourceAddrCarriesSenderID(t *testing.T) {
	store := newFakeStore(queuedMessage(810, "hi"))
	m := newTestManager(store)

	sources := make(chan string, 1)
	m.dial = pipeDialer(t, func(conn net.Conn) {
		vendorAcceptBind(t, conn)
		_, sm := vendorReadSubmitFull(t, conn)
		sources <- sm.SourceAddr
	})

	_, err := m.ProcessQueuedBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "acme", <-sources)
}

func TestSourceAddrFallsBackToGatewaySystemID(t *testing.T) {
	msg := queuedMessage(820, "hi")
	msg.SystemID = nil
	store := newFakeStore(msg)
	m := newTestManager(store)

	sources := make(chan string, 1)
	m.dial = pipeDialer(t, func(conn net.Conn) {
		vendorAcceptBind(t, conn)
		_, sm := vendorReadSubmitFull(t, conn)
		sources <- sm.SourceAddr
	})

	_, err := m.ProcessQueuedBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "squad", <-sources)
}

// A terminal status never moves again: late receipts, retried failure marks
// and second acks are all no-ops.
func TestTerminalStatusCannotRegress(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(queuedMessage(700, "x"))
	h := dlr.NewHandler(store)

	require.NoError(t, store.MarkMessageSent(ctx, 700))
	require.NoError(t, store.SetVendorMessageID(ctx, 700, "V7"))

	require.NoError(t, h.Apply(ctx, []byte("id:V7 stat:DELIVRD err:000")))
	require.Equal(t, codes.MsgStatusDelivered, store.status(700))

	// A late failure receipt for the same vendor id changes nothing.
	require.NoError(t, h.Apply(ctx, []byte("id:V7 stat:UNDELIV err:001")))
	assert.Equal(t, codes.MsgStatusDelivered, store.status(700))

	// Neither does a stray failure mark or a second ack.
	require.NoError(t, store.MarkMessageFailed(ctx, 700))
	assert.Equal(t, codes.MsgStatusDelivered, store.status(700))
	require.NoError(t, store.SetVendorMessageID(ctx, 700, "OTHER"))
	assert.Equal(t, "V7", store.vendorID(700))

	// Sent is only reachable from queued.
	require.NoError(t, store.MarkMessageSent(ctx, 700))
	assert.Equal(t, codes.MsgStatusDelivered, store.status(700))
}
