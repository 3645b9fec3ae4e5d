package interaction

// Site is one registered random variable from a forward pass: its current
// value, its log-probability contribution, and whether it was conditioned
// on observed data.
type Site struct {
	Name     string
	Value    []float64
	LogProb  float64
	Observed bool
}

// Trace collects the sample sites of one forward pass. The observation site
// is declared inside a plate of PlateSize independent observations, so its
// log probability is a sum over the batch.
type Trace struct {
	Sites     []Site
	PlateSize int
}

func (t *Trace) add(name string, value []float64, logProb float64, observed bool) {
	t.Sites = append(t.Sites, Site{
		Name:     name,
		Value:    append([]float64(nil), value...),
		LogProb:  logProb,
		Observed: observed,
	})
}

// Site returns the named site if it was registered.
func (t *Trace) Site(name string) (Site, bool) {
	for _, s := range t.Sites {
		if s.Name == name {
			return s, true
		}
	}
	return Site{}, false
}

// LogJoint sums prior and likelihood contributions across all sites.
func (t *Trace) LogJoint() float64 {
	total := 0.0
	for _, s := range t.Sites {
		total += s.LogProb
	}
	return total
}

// LogLikelihood sums only the observed sites.
func (t *Trace) LogLikelihood() float64 {
	total := 0.0
	for _, s := range t.Sites {
		if s.Observed {
			total += s.LogProb
		}
	}
	return total
}
