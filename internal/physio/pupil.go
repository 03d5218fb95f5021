package physio

// PupilSample is one eye-tracker reading.
type PupilSample struct {
	T          float64 `json:"t_s"`
	DiameterMM float64 `json:"diameter_mm"`
	Confidence float64 `json:"confidence"`
}

// FilterConfidence returns the samples whose confidence is at least min.
func FilterConfidence(samples []PupilSample, min float64) []PupilSample {
	out := make([]PupilSample, 0, len(samples))
	for _, s := range samples {
		if s.Confidence >= min {
			out = append(out, s)
		}
	}
	return out
}
