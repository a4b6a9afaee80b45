package param

import "errors"

var (
	// ErrUnknownParameter matches any UnknownParameterError via errors.Is
	ErrUnknownParameter = &UnknownParameterError{}

	// ErrUnsupportedGranularity is returned when no grid shape exists for
	// the requested (kind, rule, granularity) combination.
	ErrUnsupportedGranularity = errors.New("unsupported granularity")

	// ErrUnsupportedRegime is returned for unknown codec regimes or a
	// centered regime without centers for the protocol.
	ErrUnsupportedRegime = errors.New("unsupported regime")

	// ErrJobOutOfRange is returned when a job index exceeds the partition count.
	ErrJobOutOfRange = errors.New("job index out of range")
)

// UnknownParameterError reports a parameter the codec cannot convert.
type UnknownParameterError struct {
	Name   string
	Regime Regime
}

func (e *UnknownParameterError) Error() string {
	if e.Regime != "" {
		return "unknown parameter " + e.Name + " for regime " + string(e.Regime)
	}
	if e.Name != "" {
		return "unknown parameter " + e.Name
	}
	return "unknown parameter"
}

func (e *UnknownParameterError) Is(target error) bool {
	_, ok := target.(*UnknownParameterError)
	return ok
}
