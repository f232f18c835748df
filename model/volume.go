package model

import "math"

// VolumeRange converts between the renderer's native volume scale and the
// 0..100 user-facing scale, since renderers are not uniformly 0..100.
type VolumeRange struct {
	Min  int
	Max  int
	Step int
}

// DefaultVolumeRange is used when a device's RenderingControl SCPD does not
// declare an allowedValueRange for Volume.
var DefaultVolumeRange = VolumeRange{Min: 0, Max: 100, Step: 5}

// NewVolumeRange computes Step = round((max-min)/20) per the spec.
func NewVolumeRange(min, max int) VolumeRange {
	if max <= min {
		return DefaultVolumeRange
	}
	step := int(math.Round(float64(max-min) / 20))
	if step < 1 {
		step = 1
	}
	return VolumeRange{Min: min, Max: max, Step: step}
}

// GetValue maps a 0..100 user volume onto the device's native scale.
func (r VolumeRange) GetValue(userVolume int) int {
	if userVolume < 0 {
		userVolume = 0
	}
	if userVolume > 100 {
		userVolume = 100
	}
	v := math.Round(float64(r.Max-r.Min)*float64(userVolume)/100 + float64(r.Min))
	return int(v)
}

// GetUserValue is the inverse of GetValue, mapping a device-scale volume
// back onto 0..100.
func (r VolumeRange) GetUserValue(deviceVolume int) int {
	if r.Max == r.Min {
		return 0
	}
	v := math.Round(float64(deviceVolume-r.Min) * 100 / float64(r.Max-r.Min))
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return int(v)
}
