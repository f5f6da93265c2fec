package domain

import "time"

// Alerting and image-retention defaults. Overridable via config; tests pass
// explicit values.
const (
	DefaultAlertCooldown = 30 * time.Minute

	// Uncertain predictions are kept for later relabeling regardless of the
	// rain verdict.
	UncertainLow  = 0.4
	UncertainHigh = 0.6

	// Fraction of confidently-clear frames kept as negative samples.
	DefaultClearSampleRate = 0.05
)

// ShouldAlert reports whether a rain alert may fire for a camera given the
// timestamp of its latest prior *raining* observation. lastRainAt nil means
// the camera has never seen rain. The comparison deliberately ignores clear
// frames: a dry minute in the middle of a storm must not reset the window.
func ShouldAlert(lastRainAt *time.Time, cooldown time.Duration) bool {
	if lastRainAt == nil {
		return true
	}
	return clock.Now().Sub(*lastRainAt) > cooldown
}

// MatchSubscriptions selects the enabled subscriptions for a ward whose
// confidence threshold is met. The threshold comparison is inclusive:
// confidence 0.7 satisfies a 0.7 subscription.
func MatchSubscriptions(subs []AlertSubscription, wardID *string, confidence float32) []AlertSubscription {
	if wardID == nil {
		return nil
	}
	var matched []AlertSubscription
	for _, sub := range subs {
		if sub.Enabled && sub.WardID == *wardID && confidence >= sub.Threshold {
			matched = append(matched, sub)
		}
	}
	return matched
}

// KeepImage decides whether the frame behind a prediction is worth storing.
// Rain frames are always kept as evidence. Uncertain predictions are kept for
// relabeling. Confident clear frames are kept at sampleRate, using draw (a
// uniform [0,1) value supplied by the caller) so the policy stays a pure
// function.
func KeepImage(isRaining bool, confidence float32, draw, sampleRate float64) bool {
	if isRaining {
		return true
	}
	c := float64(confidence)
	if c >= UncertainLow && c <= UncertainHigh {
		return true
	}
	return draw < sampleRate
}
