// Package packager converts opaque processor result blobs into the wire-safe
// payload the upstream evidence service accepts: a bounded confidence score,
// an anomaly flag, and a flat findings list. Unrecognized or malformed blobs
// degrade to an explicitly marked fallback payload so the upstream always
// receives exactly one callback per completed analysis.
package packager

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/evidchain/ai-analysis-service/internal/domain"
)

// Finding is one extracted indicator record.
type Finding struct {
	Type       string `json:"type"`
	Detail     string `json:"detail"`
	Confidence int    `json:"confidence"`
}

// Metadata identifies the analysis a payload belongs to. Error is set only on
// the packaging-failure fallback.
type Metadata struct {
	AnalysisID   string    `json:"analysisId"`
	EvidenceID   string    `json:"evidenceId"`
	AnalysisType string    `json:"analysisType,omitempty"`
	CompletedAt  time.Time `json:"completedAt"`
	Error        string    `json:"error,omitempty"`
}

// Payload is the upstream callback contract shape.
type Payload struct {
	Confidence        int       `json:"confidence"`
	AnomaliesDetected bool      `json:"anomaliesDetected"`
	Findings          []Finding `json:"findings"`
	Metadata          Metadata  `json:"metadata"`
}

// indicatorSource is implemented by each media-type result variant.
type indicatorSource interface {
	// recognized reports whether the decoded blob carried at least one known
	// section; a blob with none is treated as a packaging failure.
	recognized() bool
	// indicators returns the overall confidence (in whatever scale the
	// processor used), the extracted findings, and the anomaly flag.
	indicators() (confidence float64, findings []Finding, anomalies bool)
}

// Package converts a result blob into the callback payload. It never returns
// an error: failures degrade to the fallback payload with an error marker.
func Package(analysisID, evidenceID string, mt domain.MediaType, completedAt time.Time, raw json.RawMessage) *Payload {
	variant, err := decode(mt, raw)
	if err != nil {
		return Fallback(analysisID, evidenceID, mt, completedAt, err.Error())
	}

	confidence, findings, anomalies := variant.indicators()
	if findings == nil {
		findings = []Finding{}
	}

	return &Payload{
		Confidence:        NormalizeConfidence(confidence),
		AnomaliesDetected: anomalies,
		Findings:          findings,
		Metadata: Metadata{
			AnalysisID:   analysisID,
			EvidenceID:   evidenceID,
			AnalysisType: string(mt),
			CompletedAt:  completedAt,
		},
	}
}

// Fallback builds the zero-confidence payload emitted when packaging fails.
func Fallback(analysisID, evidenceID string, mt domain.MediaType, completedAt time.Time, reason string) *Payload {
	return &Payload{
		Confidence:        0,
		AnomaliesDetected: false,
		Findings:          []Finding{},
		Metadata: Metadata{
			AnalysisID:   analysisID,
			EvidenceID:   evidenceID,
			AnalysisType: string(mt),
			CompletedAt:  completedAt,
			Error:        reason,
		},
	}
}

// NormalizeConfidence maps a processor confidence onto the 0-100 integer
// scale. Inputs at or below 1.0 are read as 0-1 fractions and scaled; larger
// inputs are taken as already-percent. A genuine percentage below 1% is
// indistinguishable from a fraction and comes out near zero.
func NormalizeConfidence(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v <= 1.0 {
		v *= 100
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

func decode(mt domain.MediaType, raw json.RawMessage) (indicatorSource, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty result blob")
	}

	var variant indicatorSource
	switch mt {
	case domain.MediaTypeImage:
		variant = &ImageResult{}
	case domain.MediaTypeVideo:
		variant = &VideoResult{}
	case domain.MediaTypeDocument:
		variant = &DocumentResult{}
	case domain.MediaTypeAudio:
		variant = &AudioResult{}
	default:
		return nil, fmt.Errorf("no result variant for media type %q", mt)
	}

	if err := json.Unmarshal(raw, variant); err != nil {
		return nil, fmt.Errorf("malformed result blob: %v", err)
	}
	if !variant.recognized() {
		return nil, fmt.Errorf("no recognized indicator fields in %s result", mt)
	}
	return variant, nil
}

// ImageResult is the recognized image-analysis shape.
type ImageResult struct {
	ConfidenceScore       *float64 `json:"confidence_score"`
	ManipulationDetection *struct {
		IsManipulated    bool    `json:"is_manipulated"`
		ManipulationType string  `json:"manipulation_type"`
		Confidence       float64 `json:"confidence"`
	} `json:"manipulation_detection"`
	ExifAnalysis *struct {
		IsModified bool `json:"is_modified"`
	} `json:"exif_analysis"`
}

func (r *ImageResult) recognized() bool {
	return r.ConfidenceScore != nil || r.ManipulationDetection != nil || r.ExifAnalysis != nil
}

func (r *ImageResult) indicators() (float64, []Finding, bool) {
	var findings []Finding
	var anomalies bool
	var confidence float64

	if r.ConfidenceScore != nil {
		confidence = *r.ConfidenceScore
	}

	if md := r.ManipulationDetection; md != nil {
		if r.ConfidenceScore == nil {
			confidence = md.Confidence
		}
		if md.IsManipulated {
			anomalies = true
			detail := "image manipulation detected"
			if md.ManipulationType != "" {
				detail = fmt.Sprintf("image manipulation detected: %s", md.ManipulationType)
			}
			findings = append(findings, Finding{
				Type:       "manipulation",
				Detail:     detail,
				Confidence: NormalizeConfidence(md.Confidence),
			})
		}
	}

	if exif := r.ExifAnalysis; exif != nil && exif.IsModified {
		anomalies = true
		findings = append(findings, Finding{
			Type:       "metadata_tampering",
			Detail:     "EXIF metadata modified after capture",
			Confidence: NormalizeConfidence(confidence),
		})
	}

	return confidence, findings, anomalies
}

// VideoResult is the recognized video-analysis shape.
type VideoResult struct {
	ConfidenceScore   *float64 `json:"confidence_score"`
	DeepfakeDetection *struct {
		IsDeepfake      bool    `json:"is_deepfake"`
		Confidence      float64 `json:"confidence"`
		DetectionMethod string  `json:"detection_method"`
	} `json:"deepfake_detection"`
	TechnicalAnalysis *struct {
		IsEdited bool `json:"is_edited"`
	} `json:"technical_analysis"`
}

func (r *VideoResult) recognized() bool {
	return r.ConfidenceScore != nil || r.DeepfakeDetection != nil || r.TechnicalAnalysis != nil
}

func (r *VideoResult) indicators() (float64, []Finding, bool) {
	var findings []Finding
	var anomalies bool
	var confidence float64

	if r.ConfidenceScore != nil {
		confidence = *r.ConfidenceScore
	}

	if df := r.DeepfakeDetection; df != nil {
		if r.ConfidenceScore == nil {
			confidence = df.Confidence
		}
		if df.IsDeepfake {
			anomalies = true
			detail := "deepfake content detected"
			if df.DetectionMethod != "" {
				detail = fmt.Sprintf("deepfake content detected (%s)", df.DetectionMethod)
			}
			findings = append(findings, Finding{
				Type:       "deepfake",
				Detail:     detail,
				Confidence: NormalizeConfidence(df.Confidence),
			})
		}
	}

	if ta := r.TechnicalAnalysis; ta != nil && ta.IsEdited {
		anomalies = true
		findings = append(findings, Finding{
			Type:       "editing",
			Detail:     "edit points detected in video stream",
			Confidence: NormalizeConfidence(confidence),
		})
	}

	return confidence, findings, anomalies
}

// DocumentResult is the recognized document-analysis shape.
type DocumentResult struct {
	ConfidenceScore      *float64 `json:"confidence_score"`
	AuthenticityAnalysis *struct {
		IsAuthentic       bool     `json:"is_authentic"`
		Confidence        float64  `json:"confidence"`
		ForgeryIndicators []string `json:"forgery_indicators"`
	} `json:"authenticity_analysis"`
	PlagiarismAnalysis *struct {
		IsPlagiarized   bool    `json:"is_plagiarized"`
		SimilarityScore float64 `json:"similarity_score"`
	} `json:"plagiarism_analysis"`
}

func (r *DocumentResult) recognized() bool {
	return r.ConfidenceScore != nil || r.AuthenticityAnalysis != nil || r.PlagiarismAnalysis != nil
}

func (r *DocumentResult) indicators() (float64, []Finding, bool) {
	var findings []Finding
	var anomalies bool
	var confidence float64

	if r.ConfidenceScore != nil {
		confidence = *r.ConfidenceScore
	}

	if auth := r.AuthenticityAnalysis; auth != nil {
		if r.ConfidenceScore == nil {
			confidence = auth.Confidence
		}
		if !auth.IsAuthentic {
			anomalies = true
			detail := "document failed authenticity verification"
			if len(auth.ForgeryIndicators) > 0 {
				detail = fmt.Sprintf("document failed authenticity verification: %s",
					strings.Join(auth.ForgeryIndicators, ", "))
			}
			findings = append(findings, Finding{
				Type:       "forgery",
				Detail:     detail,
				Confidence: NormalizeConfidence(auth.Confidence),
			})
		}
	}

	if pl := r.PlagiarismAnalysis; pl != nil && pl.IsPlagiarized {
		anomalies = true
		findings = append(findings, Finding{
			Type:       "plagiarism",
			Detail:     fmt.Sprintf("content similarity score %.2f exceeds threshold", pl.SimilarityScore),
			Confidence: NormalizeConfidence(pl.SimilarityScore),
		})
	}

	return confidence, findings, anomalies
}

// AudioResult is the recognized audio-analysis shape.
type AudioResult struct {
	ConfidenceScore      *float64 `json:"confidence_score"`
	AuthenticityAnalysis *struct {
		IsAuthentic bool    `json:"is_authentic"`
		Confidence  float64 `json:"confidence"`
	} `json:"authenticity_analysis"`
	VoiceIdentification *struct {
		VoicesDetected int `json:"voices_detected"`
	} `json:"voice_identification"`
}

func (r *AudioResult) recognized() bool {
	return r.ConfidenceScore != nil || r.AuthenticityAnalysis != nil || r.VoiceIdentification != nil
}

func (r *AudioResult) indicators() (float64, []Finding, bool) {
	var findings []Finding
	var anomalies bool
	var confidence float64

	if r.ConfidenceScore != nil {
		confidence = *r.ConfidenceScore
	}

	if auth := r.AuthenticityAnalysis; auth != nil {
		if r.ConfidenceScore == nil {
			confidence = auth.Confidence
		}
		if !auth.IsAuthentic {
			anomalies = true
			findings = append(findings, Finding{
				Type:       "audio_tampering",
				Detail:     "audio failed authenticity verification",
				Confidence: NormalizeConfidence(auth.Confidence),
			})
		}
	}

	return confidence, findings, anomalies
}
