// Package audio provides the level math, fader control and metering engine
// that sit downstream of the mix bus: conversions between linear gain,
// decibels and perceptual fader deflection, a fader bound to a source's
// gain, and a windowed level meter with peak hold.
package audio

import "math"

// Curve selects the deflection-to-dB mapping used by faders and meters.
type Curve int

const (
	// CurveCubic maps deflection to dB through the cube of the linear value.
	CurveCubic Curve = iota
	// CurveIEC is the piecewise-linear IEC 60-268-18 broadcast scale.
	CurveIEC
	// CurveLog is a closed-form logarithmic scale over a 96 dB range.
	CurveLog
)

// String returns the config name of the curve.
func (c Curve) String() string {
	switch c {
	case CurveIEC:
		return "iec"
	case CurveLog:
		return "log"
	default:
		return "cubic"
	}
}

// ParseCurve maps a config name to a Curve, defaulting to cubic.
func ParseCurve(name string) Curve {
	switch name {
	case "iec":
		return CurveIEC
	case "log":
		return CurveLog
	default:
		return CurveCubic
	}
}

// MulToDB converts a linear gain multiplier to decibels.
// Zero maps to -Inf.
func MulToDB(mul float64) float64 {
	if mul == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(mul)
}

// DBToMul converts decibels to a linear gain multiplier.
// -Inf maps to zero.
func DBToMul(db float64) float64 {
	if math.IsInf(db, -1) {
		return 0
	}
	return math.Pow(10, db/20)
}

// DefToDB converts a deflection in [0, 1] to dB using the curve.
// Deflection 1 is exactly 0 dB and deflection <= 0 is exactly -Inf.
func (c Curve) DefToDB(def float64) float64 {
	switch c {
	case CurveIEC:
		return iecDefToDB(def)
	case CurveLog:
		return logDefToDB(def)
	default:
		return cubicDefToDB(def)
	}
}

// DBToDef converts dB to a deflection in [0, 1] using the curve.
func (c Curve) DBToDef(db float64) float64 {
	switch c {
	case CurveIEC:
		return iecDBToDef(db)
	case CurveLog:
		return logDBToDef(db)
	default:
		return cubicDBToDef(db)
	}
}

// MinDB returns the lowest representable dB value for the curve; faders
// clamp to this bound. The logarithmic curve bottoms out at -96 dB, the
// others run to -Inf.
func (c Curve) MinDB() float64 {
	if c == CurveLog {
		return -96
	}
	return math.Inf(-1)
}

func cubicDefToDB(def float64) float64 {
	if def == 1 {
		return 0
	}
	if def <= 0 {
		return math.Inf(-1)
	}
	return MulToDB(def * def * def)
}

func cubicDBToDef(db float64) float64 {
	if db == 0 {
		return 1
	}
	if math.IsInf(db, -1) {
		return 0
	}
	return math.Cbrt(DBToMul(db))
}

// IEC 60-268-18 scale: seven linear segments between fixed deflection and
// dB breakpoints. Both directions use the same breakpoints so round trips
// at breakpoints are exact.
func iecDefToDB(def float64) float64 {
	switch {
	case def == 1:
		return 0
	case def <= 0:
		return math.Inf(-1)
	case def >= 0.75:
		return (def - 1.0) / 0.25 * 9.0
	case def >= 0.5:
		return (def-0.75)/0.25*11.0 - 9.0
	case def >= 0.3:
		return (def-0.5)/0.2*10.0 - 20.0
	case def >= 0.15:
		return (def-0.3)/0.15*10.0 - 30.0
	case def >= 0.075:
		return (def-0.15)/0.075*10.0 - 40.0
	case def >= 0.025:
		return (def-0.075)/0.05*10.0 - 50.0
	case def >= 0.001:
		return (def-0.025)/0.025*90.0 - 60.0
	default:
		return math.Inf(-1)
	}
}

func iecDBToDef(db float64) float64 {
	switch {
	case db == 0:
		return 1
	case math.IsInf(db, -1):
		return 0
	case db >= -9:
		return (db+9.0)/9.0*0.25 + 0.75
	case db >= -20:
		return (db+20.0)/11.0*0.25 + 0.5
	case db >= -30:
		return (db+30.0)/10.0*0.2 + 0.3
	case db >= -40:
		return (db+40.0)/10.0*0.15 + 0.15
	case db >= -50:
		return (db+50.0)/10.0*0.075 + 0.075
	case db >= -60:
		return (db+60.0)/10.0*0.05 + 0.025
	case db >= -114:
		return (db + 150.0) / 90.0 * 0.025
	default:
		return 0
	}
}

// Logarithmic curve parameters: a 6 dB offset keeps the top of the scale
// from compressing, over a 96 dB usable range.
const (
	logOffsetDB = 6.0
	logRangeDB  = 96.0
)

var (
	logOffsetVal = -math.Log10(logOffsetDB)              // top of scale
	logRangeVal  = -math.Log10(logRangeDB + logOffsetDB) // bottom of scale
)

func logDefToDB(def float64) float64 {
	if def >= 1 {
		return 0
	}
	if def <= 0 {
		return math.Inf(-1)
	}
	return -(logRangeDB+logOffsetDB)*math.Pow((logRangeDB+logOffsetDB)/logOffsetDB, -def) + logOffsetDB
}

func logDBToDef(db float64) float64 {
	if db >= 0 {
		return 1
	}
	if db <= -logRangeDB {
		return 0
	}
	return (-math.Log10(-db+logOffsetDB) - logRangeVal) / (logOffsetVal - logRangeVal)
}
