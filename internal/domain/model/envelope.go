package model

// Envelope is the response for every mode and every outcome. No field is
// omitted from the JSON form; fields that do not apply are null.
//
// Shapes per mode:
//   - analyze: GeoJSON FeatureCollection, Column string, Region Region,
//     Summary *Summary, Explanation string.
//   - search: GeoJSON of the winner region, Column SearchColumns, Dtype
//     SearchDtypes, Region the winner, Ranking the ordered groups.
//   - compare: GeoJSON [combined, region1, region2], Region Pair[Region],
//     Summary Pair[*Summary], Explanation Pair[string].
type Envelope struct {
	Mode        *Mode         `json:"mode"`
	GeoJSON     any           `json:"geojson"`
	Column      any           `json:"column"`
	Dtype       any           `json:"dtype"`
	Scale       *Scale        `json:"scale"`
	Region      any           `json:"region"`
	Table       *string       `json:"table"`
	Filters     []Filter      `json:"filters"`
	Summary     any           `json:"summary"`
	Explanation any           `json:"explanation"`
	Ranking     []RankedGroup `json:"ranking"`
	Diagnostics []Diagnostic  `json:"diagnostics"`
	Usage       *Usage        `json:"usage"`
	ModeUsage   *Usage        `json:"mode_usage"`
	Error       *ErrorCode    `json:"error"`
	ErrorDetail *string       `json:"error_detail"`
}

// ErrorEnvelope is the single constructor for failed requests. Telemetry
// from calls that already completed is kept.
func ErrorEnvelope(mode *Mode, err error, usage, modeUsage *Usage) *Envelope {
	code := CodeOf(err)
	if code == "" {
		code = ErrInternal
	}
	env := &Envelope{Mode: mode, Usage: usage, ModeUsage: modeUsage, Error: &code}
	if err != nil {
		detail := err.Error()
		env.ErrorDetail = &detail
	}
	return env
}

// Succeeded reports whether the envelope carries no error.
func (e *Envelope) Succeeded() bool {
	return e.Error == nil
}
