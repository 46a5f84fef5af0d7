package main

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestFlightAtStart(t *testing.T) {
	s := flightAt(0)
	test.That(t, s.Time, test.ShouldEqual, uint32(0))
	test.That(t, s.Attitude[0], test.ShouldEqual, int16(0))
	test.That(t, s.Attitude[1], test.ShouldEqual, int16(217))
	test.That(t, s.Attitude[2], test.ShouldEqual, int16(346))
	test.That(t, s.VBat, test.ShouldEqual, uint16(vbatFullCentivolts))
	test.That(t, s.Altitude, test.ShouldEqual, int32(0))
	for _, servo := range s.Servo {
		test.That(t, servo, test.ShouldEqual, int16(1500))
	}
	for _, m := range s.Motor[4:] {
		test.That(t, m, test.ShouldEqual, int16(0))
	}
}

func TestFlightIsDeterministic(t *testing.T) {
	d := 12*time.Second + 340*time.Millisecond
	test.That(t, flightAt(d), test.ShouldResemble, flightAt(d))
	test.That(t, flightAt(d).Time, test.ShouldEqual, uint32(12340000))
}

func TestFlightStaysInRange(t *testing.T) {
	for d := time.Duration(0); d < 20*time.Minute; d += 700 * time.Millisecond {
		s := flightAt(d)
		test.That(t, math.Abs(float64(s.Attitude[0])), test.ShouldBeLessThanOrEqualTo, 350)
		test.That(t, math.Abs(float64(s.Attitude[1])), test.ShouldBeLessThanOrEqualTo, 250)
		test.That(t, math.Abs(float64(s.Attitude[2])), test.ShouldBeLessThanOrEqualTo, 400)
		for _, m := range s.Motor[:4] {
			test.That(t, m, test.ShouldBeBetweenOrEqual, int16(1000), int16(2000))
		}
		test.That(t, s.VBat, test.ShouldBeBetweenOrEqual, uint16(vbatEmptyCentivolts), uint16(vbatFullCentivolts))

		acc := math.Sqrt(float64(s.Acc[0])*float64(s.Acc[0]) + float64(s.Acc[1])*float64(s.Acc[1]) + float64(s.Acc[2])*float64(s.Acc[2]))
		test.That(t, acc, test.ShouldAlmostEqual, acc1G, 2)
		if s.Altitude < 400 {
			test.That(t, s.SonarAlt, test.ShouldEqual, s.Altitude)
		} else {
			test.That(t, s.SonarAlt, test.ShouldEqual, int32(-1))
		}
	}
}

func TestClampInt16(t *testing.T) {
	test.That(t, clampInt16(1e9), test.ShouldEqual, int16(math.MaxInt16))
	test.That(t, clampInt16(-1e9), test.ShouldEqual, int16(math.MinInt16))
	test.That(t, clampInt16(1.5), test.ShouldEqual, int16(2))
}
