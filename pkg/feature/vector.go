package feature

// EPSS thresholds that produce the epss_ge_* indicator features.
const (
	epssThresholdLow  = 0.01
	epssThresholdMid  = 0.10
	epssThresholdHigh = 0.50
)

// Vector returns the values of m in the given order. Names missing from m
// are 0 and names in m that are not in order are ignored. Training and
// inference both go through this function so weights stay bound to names.
func Vector(order []string, m Mapping) []float64 {
	v := make([]float64, len(order))
	for i, name := range order {
		v[i] = m[name]
	}
	return v
}

// Matrix applies Vector to every row.
func Matrix(order []string, rows []Mapping) [][]float64 {
	x := make([][]float64, len(rows))
	for i, r := range rows {
		x[i] = Vector(order, r)
	}
	return x
}

// FromEPSS builds the EPSS vocabulary mapping for a probability and percentile.
// The threshold indicators are always derived from the probability.
func FromEPSS(probability, percentile float64) Mapping {
	return Mapping{
		EPSS:       probability,
		Percentile: percentile,
		EPSSGe001:  float64(flag(probability >= epssThresholdLow)),
		EPSSGe010:  float64(flag(probability >= epssThresholdMid)),
		EPSSGe050:  float64(flag(probability >= epssThresholdHigh)),
	}
}
