package main

import (
	"math"
	"time"

	"blackbox/pkg/snapshot"
)

const (
	rollAmplitudeDeg  = 35.0
	pitchAmplitudeDeg = 25.0
	yawAmplitudeDeg   = 40.0

	rollFreqHz  = 0.23
	pitchFreqHz = 0.31
	yawFreqHz   = 0.17

	rollPhaseRad  = 0.0
	pitchPhaseRad = math.Pi / 3.0
	yawPhaseRad   = 2.0 * math.Pi / 3.0

	throttleFreqHz = 0.05
	climbFreqHz    = 0.02

	// Sensor scales: MPU-6050 at 2000 deg/s and a 512 LSB/g accelerometer.
	gyroLSBPerDeg = 16.4
	acc1G         = 512.0
	magField      = 300.0

	vbatFullCentivolts  = 1680
	vbatEmptyCentivolts = 1320
)

func wave(amplitude, freq, phase, t float64) (value, rate float64) {
	w := 2.0 * math.Pi * freq
	return amplitude * math.Sin(w*t+phase), amplitude * w * math.Cos(w*t+phase)
}

func clampInt16(v float64) int16 {
	return int16(max(math.MinInt16, min(math.MaxInt16, math.Round(v))))
}

// flightAt returns the synthetic quad-X state at elapsed time d.
func flightAt(d time.Duration) snapshot.Snapshot {
	t := d.Seconds()
	roll, rollRate := wave(rollAmplitudeDeg, rollFreqHz, rollPhaseRad, t)
	pitch, pitchRate := wave(pitchAmplitudeDeg, pitchFreqHz, pitchPhaseRad, t)
	yaw, yawRate := wave(yawAmplitudeDeg, yawFreqHz, yawPhaseRad, t)
	throttle := 1450 + 120*math.Sin(2*math.Pi*throttleFreqHz*t)

	rr, pr, yr := roll*math.Pi/180, pitch*math.Pi/180, yaw*math.Pi/180

	var s snapshot.Snapshot
	s.Time = uint32(d.Microseconds())
	s.Attitude = [3]int16{clampInt16(roll * 10), clampInt16(pitch * 10), clampInt16(yaw * 10)}
	s.Gyro = [3]int16{
		clampInt16(rollRate * gyroLSBPerDeg),
		clampInt16(pitchRate * gyroLSBPerDeg),
		clampInt16(yawRate * gyroLSBPerDeg),
	}
	s.Acc = [3]int16{
		clampInt16(-acc1G * math.Sin(pr)),
		clampInt16(acc1G * math.Sin(rr) * math.Cos(pr)),
		clampInt16(acc1G * math.Cos(rr) * math.Cos(pr)),
	}
	s.Mag = [3]int16{
		clampInt16(magField * math.Cos(yr)),
		clampInt16(-magField * math.Sin(yr)),
		400,
	}

	// Quad X mixer. Motors 4..7 are unused.
	rollCmd, pitchCmd, yawCmd := roll*2, pitch*2, yaw
	s.Motor[0] = clampInt16(throttle - rollCmd + pitchCmd - yawCmd)
	s.Motor[1] = clampInt16(throttle - rollCmd - pitchCmd + yawCmd)
	s.Motor[2] = clampInt16(throttle + rollCmd + pitchCmd + yawCmd)
	s.Motor[3] = clampInt16(throttle + rollCmd - pitchCmd - yawCmd)
	for i := range s.Servo {
		s.Servo[i] = 1500
	}
	s.RC = [4]int16{
		clampInt16(1500 + roll*5),
		clampInt16(1500 + pitch*5),
		clampInt16(1500 + yawRate),
		clampInt16(throttle),
	}

	s.VBat = uint16(max(vbatEmptyCentivolts, vbatFullCentivolts-int(t*0.5)))
	s.Amperage = clampInt16((throttle - 1000) * 3)
	alt := 500 * (1 - math.Cos(2*math.Pi*climbFreqHz*t))
	s.Altitude = int32(math.Round(alt))
	if alt < 400 {
		s.SonarAlt = int32(math.Round(alt))
	} else {
		s.SonarAlt = -1
	}
	s.RSSI = uint16(1000 - int(math.Round(alt/20)))
	return s
}
