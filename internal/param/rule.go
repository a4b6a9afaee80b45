package param

import (
	"fmt"
	"strings"
)

// Protocol names a stimulation-trace catalog
type Protocol string

const (
	Letzkus     Protocol = "Letzkus"
	Brandalise  Protocol = "Brandalise"
	Brandaliseb Protocol = "Brandaliseb"
)

// ParseProtocol validates a protocol name
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case Letzkus, Brandalise, Brandaliseb:
		return Protocol(s), nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// Plasticity rule families understood by the simulator
const (
	Claire  = "Claire"
	Clopath = "Clopath"
)

// Rule is a plasticity rule together with the veto switch. Each rule owns
// one table in a store.
type Rule struct {
	Plasticity string
	Veto       bool
}

// ParseRule validates a plasticity name
func ParseRule(plasticity string, veto bool) (Rule, error) {
	switch plasticity {
	case Claire, Clopath:
		return Rule{Plasticity: plasticity, Veto: veto}, nil
	}
	return Rule{}, fmt.Errorf("unknown plasticity rule %q", plasticity)
}

// TableName returns the store table for this rule, e.g. "Claire_noveto"
func (r Rule) TableName() string {
	if r.Veto {
		return r.Plasticity + "_veto"
	}
	return r.Plasticity + "_noveto"
}

// Params returns the parameters that have an index column for this rule.
// Veto rules add b_theta and tau_theta.
func (r Rule) Params() Set {
	s := NewSet(ThetaHigh, ThetaLow, ALTP, ALTD, TauLowpass1, TauLowpass2, TauX)
	if r.Veto {
		s = s.With(BTheta).With(TauTheta)
	}
	return s
}

func (r Rule) String() string {
	return r.TableName()
}

// ParseTableName is the inverse of TableName
func ParseTableName(name string) (Rule, error) {
	plasticity, suffix, ok := strings.Cut(name, "_")
	if !ok {
		return Rule{}, fmt.Errorf("invalid table name %q", name)
	}
	switch suffix {
	case "veto":
		return ParseRule(plasticity, true)
	case "noveto":
		return ParseRule(plasticity, false)
	}
	return Rule{}, fmt.Errorf("invalid table name %q", name)
}
