package ftms

import (
	"fmt"
	"math"
)

// Indoor Bike Data flag bit positions
const (
	ibdFlagMoreData             = 1 << 0 // inverted: clear means Instantaneous Speed is present
	ibdFlagAverageSpeed         = 1 << 1
	ibdFlagInstantaneousCadence = 1 << 2
	ibdFlagAverageCadence       = 1 << 3
	ibdFlagTotalDistance        = 1 << 4
	ibdFlagResistanceLevel      = 1 << 5
	ibdFlagInstantaneousPower   = 1 << 6
	ibdFlagAveragePower         = 1 << 7
	ibdFlagExpendedEnergy       = 1 << 8
	ibdFlagHeartRate            = 1 << 9
	ibdFlagMetabolicEquivalent  = 1 << 10
	ibdFlagElapsedTime          = 1 << 11
	ibdFlagRemainingTime        = 1 << 12
)

// EnergyTotals is the expended energy triple of Indoor Bike Data.
type EnergyTotals struct {
	TotalKJ     uint16
	PerHourKJ   uint16
	PerMinuteKJ uint8
}

// IndoorBikeData holds one 0x2AD2 notification. A nil field was not present
// in the frame; the decoder never substitutes zero.
type IndoorBikeData struct {
	InstantaneousSpeedKmh   *float64
	AverageSpeedKmh         *float64
	InstantaneousCadenceRpm *float64
	AverageCadenceRpm       *float64
	TotalDistanceMeters     *uint32
	ResistanceLevel         *int16
	InstantaneousPowerWatts *int16
	AveragePowerWatts       *int16
	Energy                  *EnergyTotals
	HeartRateBpm            *uint8
	MetabolicEquivalent     *float64
	ElapsedTimeSeconds      *uint16
	RemainingTimeSeconds    *uint16
}

func ptr[T any](v T) *T { return &v }

// DecodeIndoorBikeData decodes an Indoor Bike Data notification. Fields are
// consumed in the fixed FTMS order with cumulative offsets.
// See: https://www.bluetooth.com/specifications/specs/fitness-machine-service-1-0/
func DecodeIndoorBikeData(buf []byte) (IndoorBikeData, error) {
	var d IndoorBikeData
	r := frameReader{buf: buf}

	flags, err := r.u16("flags")
	if err != nil {
		return d, fmt.Errorf("indoor bike data: %w", err)
	}

	fail := func(err error) (IndoorBikeData, error) {
		return IndoorBikeData{}, fmt.Errorf("indoor bike data: %w", err)
	}

	if flags&ibdFlagMoreData == 0 {
		v, err := r.u16("instantaneous speed")
		if err != nil {
			return fail(err)
		}
		d.InstantaneousSpeedKmh = ptr(float64(v) / 100)
	}
	if flags&ibdFlagAverageSpeed != 0 {
		v, err := r.u16("average speed")
		if err != nil {
			return fail(err)
		}
		d.AverageSpeedKmh = ptr(float64(v) / 100)
	}
	if flags&ibdFlagInstantaneousCadence != 0 {
		v, err := r.u16("instantaneous cadence")
		if err != nil {
			return fail(err)
		}
		d.InstantaneousCadenceRpm = ptr(float64(v) / 2)
	}
	if flags&ibdFlagAverageCadence != 0 {
		v, err := r.u16("average cadence")
		if err != nil {
			return fail(err)
		}
		d.AverageCadenceRpm = ptr(float64(v) / 2)
	}
	if flags&ibdFlagTotalDistance != 0 {
		v, err := r.u24("total distance")
		if err != nil {
			return fail(err)
		}
		d.TotalDistanceMeters = ptr(v)
	}
	if flags&ibdFlagResistanceLevel != 0 {
		v, err := r.i16("resistance level")
		if err != nil {
			return fail(err)
		}
		d.ResistanceLevel = ptr(v)
	}
	if flags&ibdFlagInstantaneousPower != 0 {
		v, err := r.i16("instantaneous power")
		if err != nil {
			return fail(err)
		}
		d.InstantaneousPowerWatts = ptr(v)
	}
	if flags&ibdFlagAveragePower != 0 {
		v, err := r.i16("average power")
		if err != nil {
			return fail(err)
		}
		d.AveragePowerWatts = ptr(v)
	}
	if flags&ibdFlagExpendedEnergy != 0 {
		var e EnergyTotals
		if e.TotalKJ, err = r.u16("total energy"); err != nil {
			return fail(err)
		}
		if e.PerHourKJ, err = r.u16("energy per hour"); err != nil {
			return fail(err)
		}
		if e.PerMinuteKJ, err = r.u8("energy per minute"); err != nil {
			return fail(err)
		}
		d.Energy = &e
	}
	if flags&ibdFlagHeartRate != 0 {
		v, err := r.u8("heart rate")
		if err != nil {
			return fail(err)
		}
		d.HeartRateBpm = ptr(v)
	}
	if flags&ibdFlagMetabolicEquivalent != 0 {
		v, err := r.u8("metabolic equivalent")
		if err != nil {
			return fail(err)
		}
		d.MetabolicEquivalent = ptr(float64(v) / 10)
	}
	if flags&ibdFlagElapsedTime != 0 {
		v, err := r.u16("elapsed time")
		if err != nil {
			return fail(err)
		}
		d.ElapsedTimeSeconds = ptr(v)
	}
	if flags&ibdFlagRemainingTime != 0 {
		v, err := r.u16("remaining time")
		if err != nil {
			return fail(err)
		}
		d.RemainingTimeSeconds = ptr(v)
	}
	return d, nil
}

// EncodeIndoorBikeData is the inverse of DecodeIndoorBikeData. The simulated
// trainer uses it to produce notifications.
func EncodeIndoorBikeData(d IndoorBikeData) []byte {
	var flags uint16
	body := make([]byte, 0, 32)

	if d.InstantaneousSpeedKmh != nil {
		body = appendU16(body, uint16(math.Round(*d.InstantaneousSpeedKmh*100)))
	} else {
		flags |= ibdFlagMoreData
	}
	if d.AverageSpeedKmh != nil {
		flags |= ibdFlagAverageSpeed
		body = appendU16(body, uint16(math.Round(*d.AverageSpeedKmh*100)))
	}
	if d.InstantaneousCadenceRpm != nil {
		flags |= ibdFlagInstantaneousCadence
		body = appendU16(body, uint16(math.Round(*d.InstantaneousCadenceRpm*2)))
	}
	if d.AverageCadenceRpm != nil {
		flags |= ibdFlagAverageCadence
		body = appendU16(body, uint16(math.Round(*d.AverageCadenceRpm*2)))
	}
	if d.TotalDistanceMeters != nil {
		flags |= ibdFlagTotalDistance
		body = appendU24(body, *d.TotalDistanceMeters)
	}
	if d.ResistanceLevel != nil {
		flags |= ibdFlagResistanceLevel
		body = appendU16(body, uint16(*d.ResistanceLevel))
	}
	if d.InstantaneousPowerWatts != nil {
		flags |= ibdFlagInstantaneousPower
		body = appendU16(body, uint16(*d.InstantaneousPowerWatts))
	}
	if d.AveragePowerWatts != nil {
		flags |= ibdFlagAveragePower
		body = appendU16(body, uint16(*d.AveragePowerWatts))
	}
	if d.Energy != nil {
		flags |= ibdFlagExpendedEnergy
		body = appendU16(body, d.Energy.TotalKJ)
		body = appendU16(body, d.Energy.PerHourKJ)
		body = append(body, d.Energy.PerMinuteKJ)
	}
	if d.HeartRateBpm != nil {
		flags |= ibdFlagHeartRate
		body = append(body, *d.HeartRateBpm)
	}
	if d.MetabolicEquivalent != nil {
		flags |= ibdFlagMetabolicEquivalent
		body = append(body, uint8(math.Round(*d.MetabolicEquivalent*10)))
	}
	if d.ElapsedTimeSeconds != nil {
		flags |= ibdFlagElapsedTime
		body = appendU16(body, *d.ElapsedTimeSeconds)
	}
	if d.RemainingTimeSeconds != nil {
		flags |= ibdFlagRemainingTime
		body = appendU16(body, *d.RemainingTimeSeconds)
	}

	return append(appendU16(make([]byte, 0, 2+len(body)), flags), body...)
}
