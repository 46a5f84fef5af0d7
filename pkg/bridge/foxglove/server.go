// Package foxglove serves reconstructed snapshots to Foxglove Studio over the
// foxglove.websocket.v1 protocol.
package foxglove

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"blackbox/pkg/engine"
	"blackbox/pkg/snapshot"
)

type SnapshotMessage struct {
	TS       string         `json:"ts"`
	Seq      uint64         `json:"seq"`
	Fields   map[string]any `json:"fields"`
	Degraded bool           `json:"degraded"`
}

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quaternion3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type FrameTransformMessage struct {
	Timestamp     FrameTime   `json:"timestamp"`
	ParentFrameID string      `json:"parent_frame_id"`
	ChildFrameID  string      `json:"child_frame_id"`
	Translation   Vector3     `json:"translation"`
	Rotation      Quaternion3 `json:"rotation"`
}

type FrameTransformsMessage struct {
	Transforms []FrameTransformMessage `json:"transforms"`
}

type FrameTime struct {
	Sec  uint32 `json:"sec"`
	Nsec uint32 `json:"nsec"`
}

type BatteryMessage struct {
	Timestamp FrameTime `json:"timestamp"`
	Voltage   float64   `json:"voltage"`
	Current   float64   `json:"current"`
	RSSI      uint16    `json:"rssi"`
}

// Server relays hub records to connected websocket clients. Clients only
// receive channels they subscribed to.
type Server struct {
	cfg Config
	hub *engine.Hub
	log *zap.SugaredLogger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type Option func(*Server)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	subs map[uint32]uint64
	mu   sync.RWMutex
	once sync.Once
}

func NewServer(cfg Config, hub *engine.Hub, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg.withDefaults(),
		hub:     hub,
		log:     zap.NewNop().Sugar(),
		clients: make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler upgrades requests to foxglove websocket sessions.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

// Run forwards hub records to clients until ctx is done or the hub closes the
// subscription. Open sessions are closed on return.
func (s *Server) Run(ctx context.Context) error {
	sub := s.hub.Subscribe()
	defer s.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-sub:
			if !ok {
				return nil
			}
			s.Broadcast(rec)
		}
	}
}

// Broadcast publishes rec on every channel.
func (s *Server) Broadcast(rec engine.Record) {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	b := rec.Snapshot.Bytes()
	fields, err := snapshot.DecodeFields(b[:])
	if err != nil {
		s.log.Warnw("decode fields", "error", err, "seq", rec.Seq)
		return
	}
	s.publishJSON(SnapshotChannelID, ts, SnapshotMessage{
		TS:     ts.UTC().Format(time.RFC3339Nano),
		Seq:      rec.Seq,
		Fields:   fields,
		Degraded: rec.Degraded,
	})
	s.publishJSON(TransformChannelID, ts, s.transform(rec.Snapshot, ts))
	s.publishJSON(BatteryChannelID, ts, Battery(rec.Snapshot, ts))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newClient(conn, s.cfg.SendBuf)
	if err := conn.WriteJSON(s.serverInfo()); err != nil {
		c.close()
		return
	}
	if err := conn.WriteJSON(s.advertise()); err != nil {
		c.close()
		return
	}
	s.addClient(c)
	s.log.Infow("foxglove client connected", "remote", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop()

	c.close()
	s.removeClient(c)
	s.log.Infow("foxglove client disconnected", "remote", r.RemoteAddr)
}

func (s *Server) serverInfo() ServerInfoMsg {
	return newServerInfo(s.cfg.Name)
}

func (s *Server) advertise() AdvertiseMsg {
	return newAdvertise(
		jsonChannel(SnapshotChannelID, s.cfg.SnapshotTopic, "blackbox.Snapshot", SnapshotSchema),
		jsonChannel(TransformChannelID, s.cfg.AttitudeTopic, "foxglove.FrameTransforms", FrameTransformsSchema),
		jsonChannel(BatteryChannelID, s.cfg.BatteryTopic, "blackbox.Battery", BatterySchema),
	)
}

func (s *Server) transform(snap snapshot.Snapshot, ts time.Time) FrameTransformsMessage {
	return FrameTransformsMessage{
		Transforms: []FrameTransformMessage{{
			Timestamp:     frameTime(ts),
			ParentFrameID: s.cfg.ParentFrameID,
			ChildFrameID:  s.cfg.FrameID,
			Rotation:      AttitudeQuaternion(snap.Attitude),
		}},
	}
}

// AttitudeQuaternion converts roll, pitch and yaw in decidegrees to a unit
// quaternion using the ZYX convention.
func AttitudeQuaternion(att [3]int16) Quaternion3 {
	const toRad = math.Pi / 1800
	roll := float64(att[0]) * toRad
	pitch := float64(att[1]) * toRad
	yaw := float64(att[2]) * toRad

	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)

	return Quaternion3{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}

// Battery scales the raw power fields: vbat and amperage are in hundredths.
func Battery(snap snapshot.Snapshot, ts time.Time) BatteryMessage {
	return BatteryMessage{
		Timestamp: frameTime(ts),
		Voltage:   float64(snap.VBat) / 100,
		Current:   float64(snap.Amperage) / 100,
		RSSI:      snap.RSSI,
	}
}

func frameTime(ts time.Time) FrameTime {
	return FrameTime{
		Sec:  uint32(ts.Unix()),
		Nsec: uint32(ts.Nanosecond()),
	}
}

func (s *Server) publishJSON(channelID uint64, ts time.Time, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.log.Warnw("marshal channel message", "error", err, "channel", channelID)
		return
	}

	logTime := uint64(ts.UnixNano())
	for _, c := range s.snapshotClients() {
		for _, subID := range c.subIDsForChannel(channelID) {
			m := MessageData{SubscriptionID: subID, LogTime: logTime, Payload: payload}
			c.trySend(m.AppendTo(nil))
		}
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func (s *Server) closeAll() {
	for _, c := range s.snapshotClients() {
		c.close()
	}
}

func newClient(conn *websocket.Conn, sendBuf int) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuf),
		done: make(chan struct{}),
		subs: make(map[uint32]uint64),
	}
}

func (c *client) readLoop() {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := parseClientOp(data)
		if err != nil {
			continue
		}
		switch msg := msg.(type) {
		case *SubscribeMsg:
			for _, sub := range msg.Subscriptions {
				switch sub.ChannelID {
				case SnapshotChannelID, TransformChannelID, BatteryChannelID:
					c.addSub(sub.ID, sub.ChannelID)
				}
			}
		case *UnsubscribeMsg:
			for _, id := range msg.SubscriptionIDs {
				c.removeSub(id)
			}
		}
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.close()
				return
			}
		}
	}
}

// trySend drops msg when the client is gone or its queue is full.
func (c *client) trySend(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) addSub(id uint32, channelID uint64) {
	c.mu.Lock()
	c.subs[id] = channelID
	c.mu.Unlock()
}

func (c *client) removeSub(id uint32) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *client) subIDsForChannel(channelID uint64) []uint32 {
	c.mu.RLock()
	ids := make([]uint32, 0, len(c.subs))
	for id, ch := range c.subs {
		if ch == channelID {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()
	return ids
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
