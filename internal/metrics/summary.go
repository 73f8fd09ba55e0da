package metrics

import "time"

// Stat is the min/max/average of one duration over several trials
type Stat struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	Avg time.Duration `json:"avg"`
}

// Breakdown is the share of the average total spent in each phase, in percent
type Breakdown struct {
	Setup    float64 `json:"setup"`
	Transfer float64 `json:"transfer"`
	Teardown float64 `json:"teardown"`
}

// Summary aggregates the metrics of several trials of one protocol
type Summary struct {
	Trials    int       `json:"trials"`
	Setup     Stat      `json:"setup"`
	Transfer  Stat      `json:"transfer"`
	Teardown  Stat      `json:"teardown"`
	Total     Stat      `json:"total"`
	Breakdown Breakdown `json:"breakdown"`
}

// Summarize aggregates samples. An empty input yields a zero Summary.
func Summarize(samples []Metrics) Summary {
	if len(samples) == 0 {
		return Summary{}
	}

	pick := func(f func(Metrics) time.Duration) Stat {
		st := Stat{Min: f(samples[0]), Max: f(samples[0])}
		var sum time.Duration
		for _, m := range samples {
			d := f(m)
			sum += d
			st.Min = min(st.Min, d)
			st.Max = max(st.Max, d)
		}
		st.Avg = sum / time.Duration(len(samples))
		return st
	}

	s := Summary{
		Trials:   len(samples),
		Setup:    pick(func(m Metrics) time.Duration { return m.Setup }),
		Transfer: pick(func(m Metrics) time.Duration { return m.Transfer }),
		Teardown: pick(func(m Metrics) time.Duration { return m.Teardown }),
		Total:    pick(func(m Metrics) time.Duration { return m.Total }),
	}

	if s.Total.Avg > 0 {
		total := float64(s.Total.Avg)
		s.Breakdown = Breakdown{
			Setup:    float64(s.Setup.Avg) / total * 100,
			Transfer: float64(s.Transfer.Avg) / total * 100,
			Teardown: float64(s.Teardown.Avg) / total * 100,
		}
	}

	return s
}
