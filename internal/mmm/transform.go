package mmm

import (
	"fmt"
	"math"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
)

// ApplyAdstock applies geometric carryover to a spend series:
//
//	adstocked[t] = spend[t] + decay*adstocked[t-1]
//
// with the series shifted forward by peakDelay steps first, so the peak effect
// lands peakDelay periods after the spend. decay=0 with peakDelay=0 is the
// identity transform.
func ApplyAdstock(spend []float64, decay float64, peakDelay int) []float64 {
	out := make([]float64, len(spend))
	if len(spend) == 0 {
		return out
	}

	// Shift forward by peakDelay; spend falling off the end is dropped.
	shifted := make([]float64, len(spend))
	for t := range spend {
		if t+peakDelay < len(shifted) {
			shifted[t+peakDelay] = spend[t]
		}
	}

	carry := 0.0
	for t := range shifted {
		carry = shifted[t] + decay*carry
		out[t] = carry
	}
	return out
}

// ApplySaturation maps a spend series to bounded response intensities in
// [0,1). The curve is monotonically non-decreasing with saturation at
// half response for spend == halfSpend (hill and logistic).
func ApplySaturation(spend []float64, shape model.SaturationShape, k, halfSpend float64) ([]float64, error) {
	if halfSpend <= 0 {
		return nil, fmt.Errorf("%w: half_spend must be positive, got %f", apperrors.ErrValidation, halfSpend)
	}
	out := make([]float64, len(spend))
	switch shape {
	case model.SaturationHill:
		hk := math.Pow(halfSpend, k)
		for i, x := range spend {
			if x <= 0 {
				out[i] = 0
				continue
			}
			xk := math.Pow(x, k)
			out[i] = xk / (xk + hk)
		}
	case model.SaturationLogistic:
		// Centered on halfSpend so saturated(half_spend) == 0.5. Steepness is
		// k scaled by half_spend to keep the parameter unitless.
		for i, x := range spend {
			out[i] = 1.0 / (1.0 + math.Exp(-k*(x-halfSpend)/halfSpend))
		}
	case model.SaturationLinear:
		// Linear ramp hitting 1.0 at 2*half_spend, capped beyond.
		ceiling := 2 * halfSpend
		for i, x := range spend {
			switch {
			case x <= 0:
				out[i] = 0
			case x >= ceiling:
				out[i] = 1
			default:
				out[i] = x / ceiling
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown saturation shape %q", apperrors.ErrValidation, shape)
	}
	return out, nil
}

// SaturatedResponse evaluates the saturation curve at a single spend point.
func SaturatedResponse(spend float64, spec model.ChannelSpec) (float64, error) {
	out, err := ApplySaturation([]float64{spend}, spec.Saturation.Shape, spec.Saturation.K, spec.Saturation.HalfSpend)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// TransformFeatures applies adstock then saturation per channel, appending
// {channel}_adstocked and {channel}_saturated columns to the frame.
// Non-channel columns are left untouched.
func TransformFeatures(frame *Frame, channels []model.ChannelSpec) error {
	for _, ch := range channels {
		spend, err := frame.Column(ch.SpendColumn())
		if err != nil {
			return fmt.Errorf("channel %s: %w", ch.Name, err)
		}

		adstocked := ApplyAdstock(spend, ch.Adstock.Decay, ch.Adstock.PeakDelay)
		if err := frame.AddColumn(ch.Name+"_adstocked", adstocked); err != nil {
			return err
		}

		saturated, err := ApplySaturation(adstocked, ch.Saturation.Shape, ch.Saturation.K, ch.Saturation.HalfSpend)
		if err != nil {
			return fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		if err := frame.AddColumn(ch.Name+"_saturated", saturated); err != nil {
			return err
		}
	}
	return nil
}
