package foxglove

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"

	"blackbox/pkg/snapshot"
)

func TestAttitudeQuaternion(t *testing.T) {
	q := AttitudeQuaternion([3]int16{0, 0, 0})
	test.That(t, q, test.ShouldResemble, Quaternion3{W: 1})

	// 90 degrees of yaw.
	q = AttitudeQuaternion([3]int16{0, 0, 900})
	test.That(t, q.W, test.ShouldAlmostEqual, math.Sqrt2/2, 1e-9)
	test.That(t, q.Z, test.ShouldAlmostEqual, math.Sqrt2/2, 1e-9)
	test.That(t, q.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, q.Y, test.ShouldAlmostEqual, 0, 1e-9)

	// 180 degrees of roll.
	q = AttitudeQuaternion([3]int16{1800, 0, 0})
	test.That(t, q.X, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, q.W, test.ShouldAlmostEqual, 0, 1e-9)
}

func TestAttitudeQuaternionIsUnit(t *testing.T) {
	for _, att := range [][3]int16{{123, -456, 789}, {-1800, 900, 3599}, {45, 45, -45}} {
		q := AttitudeQuaternion(att)
		norm := q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
		test.That(t, norm, test.ShouldAlmostEqual, 1, 1e-9)
	}
}

func TestBatteryScaling(t *testing.T) {
	ts := time.Unix(42, 99)
	msg := Battery(snapshot.Snapshot{VBat: 1680, Amperage: -250, RSSI: 900}, ts)
	test.That(t, msg.Voltage, test.ShouldAlmostEqual, 16.8, 1e-9)
	test.That(t, msg.Current, test.ShouldAlmostEqual, -2.5, 1e-9)
	test.That(t, msg.RSSI, test.ShouldEqual, uint16(900))
	test.That(t, msg.Timestamp, test.ShouldResemble, FrameTime{Sec: 42, Nsec: 99})
}

func TestTransformUsesConfiguredFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ParentFrameID = "map"
	cfg.FrameID = "quad"
	srv := NewServer(cfg, nil)

	tf := srv.transform(snapshot.Snapshot{}, time.Unix(1, 0))
	test.That(t, tf.Transforms, test.ShouldHaveLength, 1)
	tr := tf.Transforms[0]
	test.That(t, tr.ParentFrameID, test.ShouldEqual, "map")
	test.That(t, tr.ChildFrameID, test.ShouldEqual, "quad")
	test.That(t, tr.Rotation.W, test.ShouldEqual, 1.0)
}

func TestAdvertiseChannels(t *testing.T) {
	srv := NewServer(Config{BatteryTopic: "/power"}, nil)
	msg := srv.advertise()
	test.That(t, msg.Op, test.ShouldEqual, OpAdvertise)
	test.That(t, msg.Channels, test.ShouldHaveLength, 3)
	test.That(t, msg.Channels[0].ID, test.ShouldEqual, SnapshotChannelID)
	test.That(t, msg.Channels[0].Topic, test.ShouldEqual, DefaultConfig().SnapshotTopic)
	test.That(t, msg.Channels[1].SchemaName, test.ShouldEqual, "foxglove.FrameTransforms")
	test.That(t, msg.Channels[2].ID, test.ShouldEqual, BatteryChannelID)
	test.That(t, msg.Channels[2].Topic, test.ShouldEqual, "/power")
}
