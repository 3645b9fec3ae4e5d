package prior

import (
	"fmt"
	"math"
)

// Parameter is one named model quantity: a current value vector, an
// optional prior, and a flag deciding whether inference samples it or an
// optimizer point-estimates it. Point parameters without a prior carry no
// log-probability contribution.
type Parameter struct {
	Name    string
	Dist    Distribution
	Value   []float64
	Sampled bool
}

const supportEps = 1e-6

func NewParameter(name string, dist Distribution, dim int, sampled bool) *Parameter {
	value := make([]float64, dim)
	if dist != nil {
		for i := range value {
			value[i] = dist.Mean()
		}
	}
	return &Parameter{Name: name, Dist: dist, Value: value, Sampled: sampled}
}

// LogProb sums the prior density over all dimensions. Parameters without a
// prior contribute zero.
func (p *Parameter) LogProb() float64 {
	if p.Dist == nil {
		return 0
	}
	total := 0.0
	for _, v := range p.Value {
		total += p.Dist.LogProb(v)
	}
	return total
}

// ClampSupport pulls values back inside the prior's domain after an
// unconstrained optimizer step.
func (p *Parameter) ClampSupport() {
	if p.Dist == nil || p.Dist.Support() != SupportNonNegative {
		return
	}
	for i, v := range p.Value {
		if v < supportEps {
			p.Value[i] = supportEps
		}
	}
}

func (p *Parameter) clone() *Parameter {
	return &Parameter{
		Name:    p.Name,
		Dist:    p.Dist,
		Value:   append([]float64(nil), p.Value...),
		Sampled: p.Sampled,
	}
}

// Set is an ordered collection of named parameters.
type Set struct {
	params []*Parameter
	byName map[string]*Parameter
}

func NewSet() *Set {
	return &Set{byName: make(map[string]*Parameter)}
}

func (s *Set) Add(p *Parameter) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("parameter name is required")
	}
	if _, exists := s.byName[p.Name]; exists {
		return fmt.Errorf("duplicate parameter: %s", p.Name)
	}
	s.params = append(s.params, p)
	s.byName[p.Name] = p
	return nil
}

func (s *Set) Get(name string) (*Parameter, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// All returns the parameters in insertion order.
func (s *Set) All() []*Parameter {
	return s.params
}

// Sampled returns the parameters inference treats as random variables.
func (s *Set) Sampled() []*Parameter {
	out := make([]*Parameter, 0, len(s.params))
	for _, p := range s.params {
		if p.Sampled {
			out = append(out, p)
		}
	}
	return out
}

// LogPrior sums every declared prior's contribution at the current values.
func (s *Set) LogPrior() float64 {
	total := 0.0
	for _, p := range s.params {
		total += p.LogProb()
	}
	return total
}

// Flatten concatenates all parameter values in insertion order.
func (s *Set) Flatten() []float64 {
	out := make([]float64, 0)
	for _, p := range s.params {
		out = append(out, p.Value...)
	}
	return out
}

// Assign writes a vector produced by Flatten back into the parameters.
func (s *Set) Assign(values []float64) error {
	total := 0
	for _, p := range s.params {
		total += len(p.Value)
	}
	if len(values) != total {
		return fmt.Errorf("parameter vector length mismatch: got=%d want=%d", len(values), total)
	}
	offset := 0
	for _, p := range s.params {
		copy(p.Value, values[offset:offset+len(p.Value)])
		offset += len(p.Value)
	}
	return nil
}

// Clone deep-copies values; distributions are immutable and shared.
func (s *Set) Clone() *Set {
	out := NewSet()
	for _, p := range s.params {
		_ = out.Add(p.clone())
	}
	return out
}

// Values exports the parameter values keyed by name.
func (s *Set) Values() map[string][]float64 {
	out := make(map[string][]float64, len(s.params))
	for _, p := range s.params {
		out[p.Name] = append([]float64(nil), p.Value...)
	}
	return out
}

// SetValues restores previously exported values; unknown names are
// rejected, missing names keep their current values.
func (s *Set) SetValues(values map[string][]float64) error {
	for name, value := range values {
		p, ok := s.byName[name]
		if !ok {
			return fmt.Errorf("unknown parameter: %s", name)
		}
		if len(value) != len(p.Value) {
			return fmt.Errorf("parameter %s dimension mismatch: got=%d want=%d", name, len(value), len(p.Value))
		}
		copy(p.Value, value)
	}
	return nil
}

// Finite reports whether every parameter value is a finite number.
func (s *Set) Finite() bool {
	for _, p := range s.params {
		for _, v := range p.Value {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
