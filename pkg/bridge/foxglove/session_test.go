package foxglove_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"blackbox/pkg/bridge/foxglove"
	"blackbox/pkg/engine"
	"blackbox/pkg/snapshot"
)

type session struct {
	srv      *foxglove.Server
	conn     *websocket.Conn
	channels map[string]foxglove.Channel
}

func startSession(t *testing.T, cfg foxglove.Config, hub *engine.Hub) *session {
	t.Helper()

	srv := foxglove.NewServer(cfg, hub, foxglove.WithLogger(zaptest.NewLogger(t).Sugar()))
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	dialer := websocket.Dialer{Subprotocols: []string{foxglove.Subprotocol}}
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial foxglove websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if got := resp.Header.Get("Sec-Websocket-Protocol"); got != foxglove.Subprotocol {
		t.Fatalf("unexpected subprotocol: %q", got)
	}

	_, infoRaw, err := readWSMessage(conn)
	if err != nil {
		t.Fatalf("read serverInfo: %v", err)
	}
	var info foxglove.ServerInfoMsg
	if err := json.Unmarshal(infoRaw, &info); err != nil {
		t.Fatalf("decode serverInfo json: %v", err)
	}
	if info.Op != foxglove.OpServerInfo {
		t.Fatalf("unexpected first op: %v", info.Op)
	}

	_, advRaw, err := readWSMessage(conn)
	if err != nil {
		t.Fatalf("read advertise: %v", err)
	}
	var adv foxglove.AdvertiseMsg
	if err := json.Unmarshal(advRaw, &adv); err != nil {
		t.Fatalf("decode advertise json: %v", err)
	}
	channels := make(map[string]foxglove.Channel, len(adv.Channels))
	for _, ch := range adv.Channels {
		channels[ch.Topic] = ch
	}

	return &session{srv: srv, conn: conn, channels: channels}
}

func readWSMessage(conn *websocket.Conn) (int, []byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, raw, err := conn.ReadMessage()
	_ = conn.SetReadDeadline(time.Time{})
	return msgType, raw, err
}

func subscribe(t *testing.T, conn *websocket.Conn, subID uint32, channelID uint64) {
	t.Helper()
	msg := foxglove.SubscribeMsg{
		Op:            foxglove.OpSubscribe,
		Subscriptions: []foxglove.Subscription{{ID: subID, ChannelID: channelID}},
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("subscribe channel %d: %v", channelID, err)
	}
	// Subscriptions are applied by the server's read loop.
	time.Sleep(50 * time.Millisecond)
}

func readPayload(t *testing.T, conn *websocket.Conn) (uint32, uint64, []byte) {
	t.Helper()
	for i := 0; i < 10; i++ {
		msgType, frame, err := readWSMessage(conn)
		if err != nil {
			t.Fatalf("read messageData frame: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		subID, logTime, payload, ok := foxglove.DecodeMessageData(frame)
		if ok {
			return subID, logTime, payload
		}
	}
	t.Fatal("no messageData frame received")
	return 0, 0, nil
}

func testRecord() engine.Record {
	return engine.Record{
		Seq:       7,
		Timestamp: time.Unix(100, 500),
		Snapshot: snapshot.Snapshot{
			Time:     123456,
			Attitude: [3]int16{0, 0, 900},
			VBat:     1260,
			Amperage: 1530,
			RSSI:     1023,
		},
	}
}

func TestSessionAdvertisesChannels(t *testing.T) {
	cfg := foxglove.DefaultConfig()
	s := startSession(t, cfg, nil)

	test.That(t, s.channels, test.ShouldHaveLength, 3)
	for _, topic := range []string{cfg.SnapshotTopic, cfg.AttitudeTopic, cfg.BatteryTopic} {
		_, ok := s.channels[topic]
		test.That(t, ok, test.ShouldBeTrue)
	}
}

func TestSessionReceivesSnapshotFields(t *testing.T) {
	cfg := foxglove.DefaultConfig()
	s := startSession(t, cfg, nil)
	subscribe(t, s.conn, 11, s.channels[cfg.SnapshotTopic].ID)

	rec := testRecord()
	s.srv.Broadcast(rec)

	subID, logTime, payload := readPayload(t, s.conn)
	test.That(t, subID, test.ShouldEqual, uint32(11))
	test.That(t, logTime, test.ShouldEqual, uint64(rec.Timestamp.UnixNano()))

	var msg foxglove.SnapshotMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode snapshot payload: %v", err)
	}
	test.That(t, msg.Seq, test.ShouldEqual, uint64(7))
	test.That(t, msg.Fields["time_us"], test.ShouldEqual, 123456.0)
	test.That(t, msg.Fields["attitude_yaw"], test.ShouldEqual, 900.0)
	test.That(t, msg.Fields["rssi"], test.ShouldEqual, 1023.0)
}

func TestSessionOnlyReceivesSubscribedChannels(t *testing.T) {
	cfg := foxglove.DefaultConfig()
	s := startSession(t, cfg, nil)
	subscribe(t, s.conn, 21, s.channels[cfg.BatteryTopic].ID)

	s.srv.Broadcast(testRecord())

	subID, _, payload := readPayload(t, s.conn)
	test.That(t, subID, test.ShouldEqual, uint32(21))
	var msg foxglove.BatteryMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode battery payload: %v", err)
	}
	test.That(t, msg.Voltage, test.ShouldAlmostEqual, 12.6, 1e-9)
	test.That(t, msg.Current, test.ShouldAlmostEqual, 15.3, 1e-9)
}

func TestSessionUnsubscribe(t *testing.T) {
	cfg := foxglove.DefaultConfig()
	s := startSession(t, cfg, nil)
	subscribe(t, s.conn, 1, s.channels[cfg.SnapshotTopic].ID)
	subscribe(t, s.conn, 2, s.channels[cfg.AttitudeTopic].ID)

	if err := s.conn.WriteJSON(foxglove.UnsubscribeMsg{Op: foxglove.OpUnsubscribe, SubscriptionIDs: []uint32{1}}); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	s.srv.Broadcast(testRecord())

	subID, _, payload := readPayload(t, s.conn)
	test.That(t, subID, test.ShouldEqual, uint32(2))
	var tf foxglove.FrameTransformsMessage
	if err := json.Unmarshal(payload, &tf); err != nil {
		t.Fatalf("decode transform payload: %v", err)
	}
	test.That(t, tf.Transforms, test.ShouldHaveLength, 1)
	test.That(t, tf.Transforms[0].ChildFrameID, test.ShouldEqual, cfg.FrameID)
	test.That(t, tf.Transforms[0].Rotation.Z, test.ShouldAlmostEqual, 0.7071067811865476, 1e-9)
}

func TestRunRelaysHubRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := engine.NewHub()
	go hub.Run(ctx)

	cfg := foxglove.DefaultConfig()
	s := startSession(t, cfg, hub)
	subscribe(t, s.conn, 5, s.channels[cfg.SnapshotTopic].ID)

	runErr := make(chan error, 1)
	go func() { runErr <- s.srv.Run(ctx) }()

	// Run subscribes asynchronously; keep publishing until a record arrives.
	got := make(chan []byte, 1)
	go func() {
		_, _, payload := readPayloadNoFail(s.conn)
		got <- payload
	}()
	var payload []byte
	deadline := time.After(3 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case payload = <-got:
			break loop
		case <-ticker.C:
			hub.Publish(testRecord())
		case <-deadline:
			t.Fatal("no record relayed from hub")
		}
	}
	test.That(t, payload, test.ShouldNotBeEmpty)

	cancel()
	select {
	case err := <-runErr:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func readPayloadNoFail(conn *websocket.Conn) (uint32, uint64, []byte) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			return 0, 0, nil
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if subID, logTime, payload, ok := foxglove.DecodeMessageData(frame); ok {
			return subID, logTime, payload
		}
	}
}

func TestHandlerRejectsPlainHTTP(t *testing.T) {
	srv := foxglove.NewServer(foxglove.DefaultConfig(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)
}
