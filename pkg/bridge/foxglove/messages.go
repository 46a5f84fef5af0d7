package foxglove

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Subprotocol is the websocket subprotocol spoken by Foxglove Studio.
const Subprotocol = "foxglove.websocket.v1"

// JSON operations. Server to client: serverInfo, advertise. Client to server:
// subscribe, unsubscribe. Other client operations are ignored.
const (
	OpServerInfo  = "serverInfo"
	OpAdvertise   = "advertise"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// BinaryOpMessageData opens every binary frame carrying channel data.
const BinaryOpMessageData = 0x01

// A messageData frame is the opcode, the little-endian subscription id and the
// little-endian log time in nanoseconds, followed by the payload.
const (
	subscriptionIDLen    = 4
	logTimeLen           = 8
	messageDataHeaderLen = 1 + subscriptionIDLen + logTimeLen
)

var (
	ErrNotMessageData = errors.New("foxglove: not a messageData frame")
	ErrShortMessage   = errors.New("foxglove: messageData frame shorter than its header")
)

type ServerInfoMsg struct {
	Op                 string            `json:"op"`
	Name               string            `json:"name"`
	Capabilities       []string          `json:"capabilities"`
	SupportedEncodings []string          `json:"supportedEncodings,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	SessionID          string            `json:"sessionId,omitempty"`
}

// newServerInfo announces a server without optional capabilities. Studio
// expects the empty collections rather than null.
func newServerInfo(name string) ServerInfoMsg {
	return ServerInfoMsg{
		Op:                 OpServerInfo,
		Name:               name,
		Capabilities:       []string{},
		SupportedEncodings: []string{},
		Metadata:           map[string]string{},
	}
}

type Channel struct {
	ID             uint64 `json:"id"`
	Topic          string `json:"topic"`
	Encoding       string `json:"encoding"`
	SchemaName     string `json:"schemaName"`
	SchemaEncoding string `json:"schemaEncoding,omitempty"`
	Schema         string `json:"schema,omitempty"`
}

// jsonChannel describes a channel whose messages are JSON documents validated
// by a JSON schema.
func jsonChannel(id uint64, topic, schemaName, schema string) Channel {
	return Channel{
		ID:             id,
		Topic:          topic,
		Encoding:       "json",
		SchemaName:     schemaName,
		SchemaEncoding: "jsonschema",
		Schema:         schema,
	}
}

type AdvertiseMsg struct {
	Op       string    `json:"op"`
	Channels []Channel `json:"channels"`
}

func newAdvertise(channels ...Channel) AdvertiseMsg {
	return AdvertiseMsg{Op: OpAdvertise, Channels: channels}
}

type Subscription struct {
	ID        uint32 `json:"id"`
	ChannelID uint64 `json:"channelId"`
}

type SubscribeMsg struct {
	Op            string         `json:"op"`
	Subscriptions []Subscription `json:"subscriptions"`
}

type UnsubscribeMsg struct {
	Op              string   `json:"op"`
	SubscriptionIDs []uint32 `json:"subscriptionIds"`
}

// parseClientOp decodes a text frame sent by a client. It returns a
// *SubscribeMsg, an *UnsubscribeMsg, or nil for an operation the bridge does
// not handle.
func parseClientOp(data []byte) (any, error) {
	var header struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("foxglove: client message: %w", err)
	}

	var msg any
	switch header.Op {
	case OpSubscribe:
		msg = &SubscribeMsg{}
	case OpUnsubscribe:
		msg = &UnsubscribeMsg{}
	default:
		return nil, nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("foxglove: %s: %w", header.Op, err)
	}
	return msg, nil
}

// MessageData is one channel message addressed to a client subscription.
type MessageData struct {
	SubscriptionID uint32
	LogTime        uint64
	Payload        []byte
}

// AppendTo appends the binary frame for m to dst.
func (m MessageData) AppendTo(dst []byte) []byte {
	dst = append(dst, BinaryOpMessageData)
	dst = binary.LittleEndian.AppendUint32(dst, m.SubscriptionID)
	dst = binary.LittleEndian.AppendUint64(dst, m.LogTime)
	return append(dst, m.Payload...)
}

// ParseMessageData splits a binary messageData frame. Payload aliases frame.
func ParseMessageData(frame []byte) (MessageData, error) {
	if len(frame) == 0 || frame[0] != BinaryOpMessageData {
		return MessageData{}, ErrNotMessageData
	}
	if len(frame) < messageDataHeaderLen {
		return MessageData{}, ErrShortMessage
	}
	body := frame[1:]
	return MessageData{
		SubscriptionID: binary.LittleEndian.Uint32(body),
		LogTime:        binary.LittleEndian.Uint64(body[subscriptionIDLen:]),
		Payload:        body[subscriptionIDLen+logTimeLen:],
	}, nil
}

// EncodeMessageData builds a binary messageData frame in a fresh buffer.
func EncodeMessageData(subscriptionID uint32, logTime uint64, payload []byte) []byte {
	m := MessageData{SubscriptionID: subscriptionID, LogTime: logTime, Payload: payload}
	return m.AppendTo(make([]byte, 0, messageDataHeaderLen+len(payload)))
}

func DecodeMessageData(frame []byte) (subscriptionID uint32, logTime uint64, payload []byte, ok bool) {
	m, err := ParseMessageData(frame)
	if err != nil {
		return 0, 0, nil, false
	}
	return m.SubscriptionID, m.LogTime, m.Payload, true
}
