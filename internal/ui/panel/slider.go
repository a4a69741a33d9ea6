package panel

import (
	"fmt"

	"github.com/muurk/lumen/internal/protocol"
)

// Slider is one color channel.
type Slider struct {
	Name    string
	Min     int
	Max     int
	Value   int
	Step    int
	BigStep int
	format  func(v int) string
}

// Adjust moves the value by delta, clamped to [Min, Max].
func (s *Slider) Adjust(delta int) {
	v := s.Value + delta
	if v < s.Min {
		v = s.Min
	}
	if v > s.Max {
		v = s.Max
	}
	s.Value = v
}

// Fraction returns the position in [0, 1].
func (s Slider) Fraction() float64 {
	if s.Max == s.Min {
		return 0
	}
	return float64(s.Value-s.Min) / float64(s.Max-s.Min)
}

// Display renders the value in the channel's unit.
func (s Slider) Display() string {
	if s.format == nil {
		return fmt.Sprint(s.Value)
	}
	return s.format(s.Value)
}

const (
	chanHue = iota
	chanSaturation
	chanBrightness
	chanKelvin
)

func percent(v int) string { return fmt.Sprintf("%3d%%", v*100/0xffff) }

func newSliders() []Slider {
	const full = 0xffff
	return []Slider{
		chanHue: {
			Name: "Hue", Max: full, Step: full / 360, BigStep: full / 12,
			format: func(v int) string { return fmt.Sprintf("%3d°", v*360/(full+1)) },
		},
		chanSaturation: {
			Name: "Saturation", Max: full, Step: full / 100, BigStep: full / 10,
			format: percent,
		},
		chanBrightness: {
			Name: "Brightness", Max: full, Value: full, Step: full / 100, BigStep: full / 10,
			format: percent,
		},
		chanKelvin: {
			Name: "Kelvin", Min: protocol.KelvinMin, Max: protocol.KelvinMax, Value: 3500, Step: 50, BigStep: 500,
			format: func(v int) string { return fmt.Sprintf("%dK", v) },
		},
	}
}

func colorOf(s []Slider) protocol.HSBK {
	return protocol.HSBK{
		Hue:        uint16(s[chanHue].Value),
		Saturation: uint16(s[chanSaturation].Value),
		Brightness: uint16(s[chanBrightness].Value),
		Kelvin:     uint16(s[chanKelvin].Value),
	}
}
