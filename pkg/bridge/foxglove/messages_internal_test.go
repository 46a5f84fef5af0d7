package foxglove

import (
	"testing"

	"go.viam.com/test"
)

func TestParseClientOp(t *testing.T) {
	msg, err := parseClientOp([]byte(`{"op":"subscribe","subscriptions":[{"id":4,"channelId":1}]}`))
	test.That(t, err, test.ShouldBeNil)
	sub, ok := msg.(*SubscribeMsg)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sub.Subscriptions, test.ShouldResemble, []Subscription{{ID: 4, ChannelID: 1}})

	msg, err = parseClientOp([]byte(`{"op":"unsubscribe","subscriptionIds":[4]}`))
	test.That(t, err, test.ShouldBeNil)
	unsub, ok := msg.(*UnsubscribeMsg)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, unsub.SubscriptionIDs, test.ShouldResemble, []uint32{4})

	msg, err = parseClientOp([]byte(`{"op":"advertise","channels":[]}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, msg, test.ShouldBeNil)

	_, err = parseClientOp([]byte(`{"op":`))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = parseClientOp([]byte(`{"op":"subscribe","subscriptions":"nope"}`))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAdvertiseListsJSONChannels(t *testing.T) {
	adv := newAdvertise(jsonChannel(7, "/x", "blackbox.X", `{"type":"object"}`))
	test.That(t, adv.Op, test.ShouldEqual, OpAdvertise)
	test.That(t, adv.Channels, test.ShouldHaveLength, 1)
	test.That(t, adv.Channels[0].Encoding, test.ShouldEqual, "json")
	test.That(t, adv.Channels[0].SchemaEncoding, test.ShouldEqual, "jsonschema")

	info := newServerInfo("bb")
	test.That(t, info.Capabilities, test.ShouldNotBeNil)
	test.That(t, info.Metadata, test.ShouldNotBeNil)
}
