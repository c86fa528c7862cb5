package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlayerType selects the analysis pipeline on the backend.
type PlayerType string

const (
	PlayerBatsman PlayerType = "batsman"
	PlayerBowler  PlayerType = "bowler"
)

// Side is the handedness of a batter or bowler.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// BowlerType distinguishes pace from spin bowling.
type BowlerType string

const (
	BowlerFast BowlerType = "fast_bowler"
	BowlerSpin BowlerType = "spin_bowler"
)

// Known shot types offered for batting uploads. Free text is also accepted.
var ShotTypes = []string{"cover_drive", "pull_shot", "cut_shot", "straight_drive", "sweep_shot", "other"}

// VideoExtensions lists the container formats the backend accepts.
var VideoExtensions = []string{"mp4", "avi", "mov", "mkv"}

// ParsePlayerType converts user input into a PlayerType.
func ParsePlayerType(value string) (PlayerType, bool) {
	switch PlayerType(strings.ToLower(strings.TrimSpace(value))) {
	case PlayerBatsman:
		return PlayerBatsman, true
	case PlayerBowler:
		return PlayerBowler, true
	default:
		return "", false
	}
}

// ParseSide converts user input into a Side.
func ParseSide(value string) (Side, bool) {
	switch Side(strings.ToLower(strings.TrimSpace(value))) {
	case SideLeft:
		return SideLeft, true
	case SideRight:
		return SideRight, true
	default:
		return "", false
	}
}

// ParseBowlerType converts user input into a BowlerType. Short forms
// "fast" and "spin" are accepted.
func ParseBowlerType(value string) (BowlerType, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "fast", string(BowlerFast):
		return BowlerFast, true
	case "spin", string(BowlerSpin):
		return BowlerSpin, true
	default:
		return "", false
	}
}

// UploadForm carries the analysis parameters and the source video reference.
type UploadForm struct {
	PlayerType PlayerType `json:"player_type"`
	BatterSide Side       `json:"batter_side,omitempty"`
	BowlerSide Side       `json:"bowler_side,omitempty"`
	BowlerType BowlerType `json:"bowler_type,omitempty"`
	ShotType   string     `json:"shot_type,omitempty"`
	VideoURI   string     `json:"video_uri"`
	VideoName  string     `json:"video_name"`
	VideoSize  int64      `json:"video_size"`
	VideoType  string     `json:"video_type"`
}

// Normalize fills defaults and drops fields that do not apply to the player type.
func (f UploadForm) Normalize() UploadForm {
	f.ShotType = strings.TrimSpace(f.ShotType)
	switch f.PlayerType {
	case PlayerBatsman:
		f.BowlerSide = ""
		f.BowlerType = ""
	case PlayerBowler:
		f.BatterSide = ""
		f.ShotType = ""
		if f.BowlerType == "" {
			f.BowlerType = BowlerFast
		}
	}
	if strings.TrimSpace(f.VideoName) == "" && f.VideoURI != "" {
		f.VideoName = baseName(f.VideoURI)
	}
	return f
}

// Validate reports missing or inconsistent form fields.
func (f UploadForm) Validate() error {
	if strings.TrimSpace(f.VideoURI) == "" {
		return fmt.Errorf("video is required")
	}
	if !HasVideoExtension(f.VideoName) {
		return fmt.Errorf("video %q must be one of: %s", f.VideoName, strings.Join(VideoExtensions, ", "))
	}
	if source := baseName(f.VideoURI); !HasVideoExtension(source) {
		return fmt.Errorf("video file %q must be one of: %s", source, strings.Join(VideoExtensions, ", "))
	}
	switch f.PlayerType {
	case PlayerBatsman:
		if f.BatterSide != SideLeft && f.BatterSide != SideRight {
			return fmt.Errorf("batter side must be left or right")
		}
	case PlayerBowler:
		if f.BowlerSide != SideLeft && f.BowlerSide != SideRight {
			return fmt.Errorf("bowler side must be left or right")
		}
		if f.BowlerType != "" && f.BowlerType != BowlerFast && f.BowlerType != BowlerSpin {
			return fmt.Errorf("bowler type must be fast_bowler or spin_bowler")
		}
	default:
		return fmt.Errorf("player type must be batsman or bowler")
	}
	return nil
}

// Side returns the side relevant to the player type.
func (f UploadForm) Side() Side {
	if f.PlayerType == PlayerBowler {
		return f.BowlerSide
	}
	return f.BatterSide
}

// Result is the analysis payload for one uploaded video.
type Result struct {
	Success    bool       `json:"success"`
	PlayerType PlayerType `json:"player_type"`
	ShotType   string     `json:"shot_type,omitempty"`
	BatterSide string     `json:"batter_side,omitempty"`
	BowlerSide string     `json:"bowler_side,omitempty"`
	BowlerType string     `json:"bowler_type,omitempty"`
	Feedback   *Feedback  `json:"gpt_feedback,omitempty"`
	Filename   string     `json:"filename"`
	Error      string     `json:"error,omitempty"`
}

// Feedback is the coaching analysis attached to a result. The backend sends
// either a structured object or a plain summary string.
type Feedback struct {
	AnalysisSummary  string                  `json:"analysis_summary,omitempty"`
	Analysis         string                  `json:"analysis,omitempty"`
	SelectedFeatures *FeatureSelection       `json:"selected_features,omitempty"`
	Biomechanics     *Biomechanics           `json:"biomechanics,omitempty"`
	TechnicalFlaws   []TechnicalFlaw         `json:"technical_flaws,omitempty"`
	Flaws            []LegacyFlaw            `json:"flaws,omitempty"`
	InjuryRisks      []InjuryRisk            `json:"injury_risk_assessment,omitempty"`
	LegacyRisks      []string                `json:"injury_risks,omitempty"`
	GeneralTips      []string                `json:"general_tips,omitempty"`

	LegacyFeatures map[string]json.RawMessage `json:"biomechanical_features,omitempty"`
}

type feedbackFields Feedback

// UnmarshalJSON accepts both the object form and a bare string summary.
func (f *Feedback) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*f = Feedback{AnalysisSummary: text}
		return nil
	}
	var fields feedbackFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*f = Feedback(fields)
	return nil
}

// Summary returns the headline analysis text.
func (f *Feedback) Summary() string {
	if f == nil {
		return ""
	}
	if s := strings.TrimSpace(f.AnalysisSummary); s != "" {
		return s
	}
	return strings.TrimSpace(f.Analysis)
}

// FeatureSelection lists the biomechanical features the backend evaluated.
type FeatureSelection struct {
	Core        []string `json:"core,omitempty"`
	Conditional []string `json:"conditional,omitempty"`
	Inferred    []string `json:"inferred,omitempty"`
}

// Biomechanics groups measured features by tier.
type Biomechanics struct {
	Core        map[string]BiomechanicalFeature `json:"core,omitempty"`
	Conditional map[string]BiomechanicalFeature `json:"conditional,omitempty"`
	Inferred    map[string]BiomechanicalFeature `json:"inferred,omitempty"`
}

// BiomechanicalFeature is one measured feature with its expected range.
type BiomechanicalFeature struct {
	Observed      float64 `json:"observed"`
	IdealRange    string  `json:"ideal_range,omitempty"`
	ExpectedRange string  `json:"expected_range,omitempty"`
	Confidence    string  `json:"confidence,omitempty"`
	Estimated     bool    `json:"estimated,omitempty"`
	Analysis      string  `json:"analysis"`
}

// Range returns the ideal range, falling back to the legacy field.
func (b BiomechanicalFeature) Range() string {
	if b.IdealRange != "" {
		return b.IdealRange
	}
	return b.ExpectedRange
}

// TechnicalFlaw describes a deviation from the expected technique.
type TechnicalFlaw struct {
	Feature        string `json:"feature"`
	Deviation      string `json:"deviation"`
	Issue          string `json:"issue"`
	Recommendation string `json:"recommendation"`
}

// LegacyFlaw is the older flaw shape carrying the observed value.
type LegacyFlaw struct {
	Feature        string  `json:"feature"`
	Observed       float64 `json:"observed"`
	ExpectedRange  string  `json:"expected_range"`
	Issue          string  `json:"issue"`
	Recommendation string  `json:"recommendation"`
}

// InjuryRisk is one entry of the injury risk assessment.
type InjuryRisk struct {
	BodyPart  string `json:"body_part"`
	RiskLevel string `json:"risk_level"`
	Reason    string `json:"reason"`
}

// HistoryItem summarizes a past analysis.
type HistoryItem struct {
	ID             string     `json:"id"`
	Filename       string     `json:"filename"`
	PlayerType     PlayerType `json:"player_type"`
	ShotType       string     `json:"shot_type,omitempty"`
	BowlerType     string     `json:"bowler_type,omitempty"`
	BatterSide     string     `json:"batter_side,omitempty"`
	BowlerSide     string     `json:"bowler_side,omitempty"`
	Created        string     `json:"created"`
	Modified       string     `json:"modified"`
	Size           int64      `json:"size"`
	Success        bool       `json:"success"`
	HasGPTFeedback bool       `json:"has_gpt_feedback"`
}

// TrainingDrill is a single drill within a training day.
type TrainingDrill struct {
	Name  string `json:"name"`
	Reps  string `json:"reps"`
	Notes string `json:"notes,omitempty"`
}

// TrainingDay is one day of a generated training plan.
type TrainingDay struct {
	Day         int             `json:"day"`
	Focus       string          `json:"focus"`
	Warmup      []string        `json:"warmup"`
	Drills      []TrainingDrill `json:"drills"`
	Progression string          `json:"progression"`
	Notes       string          `json:"notes"`
}

// TrainingPlan is a multi-day plan generated from an analysis.
type TrainingPlan struct {
	OverallNotes string        `json:"overall_notes"`
	Plan         []TrainingDay `json:"plan"`
}

// User is the authenticated account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Credentials are used for login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration carries new-account details.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
	User    User   `json:"user"`
}

// UploadResponse is the outcome of the direct upload call. Exactly one of
// Result or JobID is set.
type UploadResponse struct {
	Result *Result
	JobID  string
}

// Comparison is the backend's side-by-side evaluation of two analyses.
type Comparison struct {
	Overall            OverallComparison   `json:"overall_comparison"`
	Metrics            []MetricComparison  `json:"metric_comparisons,omitempty"`
	ImprovementSummary *ImprovementSummary `json:"improvement_summary,omitempty"`
	KeyInsights        []string            `json:"key_insights,omitempty"`
	ImprovementAreas   PerVideo            `json:"improvement_areas"`
	Strengths          PerVideo            `json:"strengths"`
	Video1Filename     string              `json:"video1_filename"`
	Video2Filename     string              `json:"video2_filename"`
}

// OverallComparison scores both videos and names the better one.
type OverallComparison struct {
	Video1Score           float64  `json:"video1_score"`
	Video2Score           float64  `json:"video2_score"`
	ImprovementPercentage *float64 `json:"improvement_percentage,omitempty"`
	ImprovementSummary    string   `json:"improvement_summary,omitempty"`
	Winner                string   `json:"winner"`
	OverallSummary        string   `json:"overall_summary"`
}

// Improvement returns the reported improvement percentage, or derives it
// from the two scores when the backend omitted it.
func (o OverallComparison) Improvement() float64 {
	if o.ImprovementPercentage != nil {
		return *o.ImprovementPercentage
	}
	if o.Video1Score > 0 {
		return (o.Video2Score - o.Video1Score) / o.Video1Score * 100
	}
	return o.Video2Score - o.Video1Score
}

// MetricComparison compares a single metric across both videos.
type MetricComparison struct {
	MetricName            string   `json:"metric_name"`
	Video1Value           string   `json:"video1_value"`
	Video2Value           string   `json:"video2_value"`
	ImprovementPercentage *float64 `json:"improvement_percentage,omitempty"`
	DifferencePercentage  *float64 `json:"difference_percentage,omitempty"`
	ImprovementDirection  string   `json:"improvement_direction,omitempty"`
	BetterPerformance     string   `json:"better_performance"`
	Analysis              string   `json:"analysis"`
}

// ImprovementSummary is the narrative progress report.
type ImprovementSummary struct {
	OverallImprovement    string   `json:"overall_improvement"`
	TopImprovements       []string `json:"top_improvements"`
	AreasStillNeedingWork []string `json:"areas_still_needing_work"`
}

// PerVideo holds list values keyed by video.
type PerVideo struct {
	Video1 []string `json:"video1"`
	Video2 []string `json:"video2"`
}

// HealthStatus is the backend health payload.
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
