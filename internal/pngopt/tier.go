package pngopt

import "fmt"

// Backend identifies the deflate strategy used to re-compress image data.
type Backend int

const (
	// BackendFast runs a small fixed set of trials at a single compression level.
	BackendFast Backend = iota
	// BackendExhaustive searches filter strategy and compression level
	// combinations and keeps the smallest stream. It is much slower than
	// BackendFast and is only selected for high quality requests.
	BackendExhaustive
)

// Quality thresholds and effort parameters of the three tiers.
const (
	HighQualityThreshold   = 90
	MediumQualityThreshold = 70

	ExhaustiveIterations = 15
	MediumLevel          = 12
	LowLevel             = 8
)

// String returns the backend name.
func (b Backend) String() string {
	switch b {
	case BackendFast:
		return "fast"
	case BackendExhaustive:
		return "exhaustive"
	default:
		return "unknown"
	}
}

// Tier is the re-compression configuration selected for a quality value.
type Tier struct {
	Backend Backend
	// Effort is the trial budget for BackendExhaustive and the compression
	// level on a 1-12 scale for BackendFast.
	Effort int
}

// TierForQuality maps a quality value to its re-compression tier.
func TierForQuality(quality int) Tier {
	switch {
	case quality >= HighQualityThreshold:
		return Tier{Backend: BackendExhaustive, Effort: ExhaustiveIterations}
	case quality >= MediumQualityThreshold:
		return Tier{Backend: BackendFast, Effort: MediumLevel}
	default:
		return Tier{Backend: BackendFast, Effort: LowLevel}
	}
}

// String returns a compact representation such as "fast/12".
func (t Tier) String() string {
	return fmt.Sprintf("%s/%d", t.Backend, t.Effort)
}

type trial struct {
	strategy strategy
	level    int
}

// exhaustiveLevels are visited in order; each level tries every strategy
// before the next level starts.
var exhaustiveLevels = []int{9, 8, 7}

var allStrategies = []strategy{
	strategyMinSum,
	strategyNone,
	strategyPaeth,
	strategyUp,
	strategySub,
	strategyAverage,
}

func (t Tier) trials() []trial {
	if t.Backend == BackendExhaustive {
		budget := max(t.Effort, 1)
		out := make([]trial, 0, budget)
		for _, level := range exhaustiveLevels {
			for _, s := range allStrategies {
				if len(out) == budget {
					return out
				}
				out = append(out, trial{strategy: s, level: level})
			}
		}
		return out
	}

	level := fastLevel(t.Effort)
	return []trial{
		{strategy: strategyMinSum, level: level},
		{strategy: strategyNone, level: level},
	}
}

// fastLevel maps a 1-12 compression level onto the 1-9 zlib scale.
func fastLevel(effort int) int {
	effort = min(max(effort, 1), 12)
	return (effort*9 + 11) / 12
}
