package cbor

// Default maximum frame size (3.5 MB)
const DefaultMaxFrame int = 3_670_016

// Hard limit on frame size (16 MB) - prevents a corrupt length prefix from
// triggering a huge allocation
const MaxFrameHardLimit int = 16_777_216

// Limits bounds the size of a single encoded command
type Limits struct {
	MaxFrame int `mapstructure:"max_frame"`
}

// DefaultLimits returns the default protocol limits
func DefaultLimits() Limits {
	return Limits{
		MaxFrame: DefaultMaxFrame,
	}
}

// Effective returns the frame limit actually enforced: MaxFrame, clamped to the
// hard limit, or the default when unset.
func (l Limits) Effective() int {
	if l.MaxFrame <= 0 {
		return DefaultMaxFrame
	}
	if l.MaxFrame > MaxFrameHardLimit {
		return MaxFrameHardLimit
	}
	return l.MaxFrame
}
