package constants

// Stage is the canonical name for a pipeline stage.
type Stage string

// Stable values (store these exact strings in quarantine records and reports).
const (
	StageIngest          Stage = "INGEST"           // read + page text extraction
	StageAnalyze         Stage = "ANALYZE"          // window building
	StageDetect          Stage = "DETECT"           // boundary detection + consolidation
	StageExtractMetadata Stage = "EXTRACT_METADATA" // bank/account/period per statement
	StageGenerate        Stage = "GENERATE"         // per-statement PDF generation
	StageOrganize        Stage = "ORGANIZE"         // move outputs into final layout
	StageValidate        Stage = "VALIDATE"         // structural checks on outputs
	StageHandoff         Stage = "HANDOFF"          // terminal success
	StageQuarantine      Stage = "QUARANTINE"       // terminal failure
)

// Terminal reports whether a stage is a terminal state.
func (s Stage) Terminal() bool {
	return s == StageHandoff || s == StageQuarantine
}

// Next returns the stage following s in the happy path. Terminal stages
// return themselves.
func (s Stage) Next() Stage {
	switch s {
	case StageIngest:
		return StageAnalyze
	case StageAnalyze:
		return StageDetect
	case StageDetect:
		return StageExtractMetadata
	case StageExtractMetadata:
		return StageGenerate
	case StageGenerate:
		return StageOrganize
	case StageOrganize:
		return StageValidate
	case StageValidate:
		return StageHandoff
	default:
		return s
	}
}

// AttemptOutcome is the recorded result of one processing attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "SUCCESS"
	OutcomeRetry   AttemptOutcome = "RETRY"
	OutcomeFatal   AttemptOutcome = "FATAL"
)

// Strictness controls how the validator routes discrepancies.
type Strictness string

const (
	StrictnessStrict  Strictness = "strict"
	StrictnessNormal  Strictness = "normal"
	StrictnessLenient Strictness = "lenient"
)

// ParseStrictness maps a config string to a Strictness, defaulting to normal.
func ParseStrictness(s string) Strictness {
	switch Strictness(s) {
	case StrictnessStrict, StrictnessNormal, StrictnessLenient:
		return Strictness(s)
	default:
		return StrictnessNormal
	}
}

// ExtractionMethod records how a statement's metadata was derived.
type ExtractionMethod string

const (
	MethodAI      ExtractionMethod = "ai"
	MethodPattern ExtractionMethod = "pattern"
)
