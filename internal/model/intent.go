package model

// MinScore and MaxScore bound the assignment confidence scale.
const (
	MinScore = 1
	MaxScore = 5
)

// ReasonRecord is the Stage 1 output for one conversation. A nil Reason
// marks an extraction failure.
type ReasonRecord struct {
	Index          int     `json:"index"`
	ConversationID string  `json:"conversation_id"`
	Reason         *string `json:"reason,omitempty"`
}

// Present reports whether the reason was extracted.
func (r ReasonRecord) Present() bool {
	return r.Reason != nil
}

// Text returns the reason text, or "" when absent.
func (r ReasonRecord) Text() string {
	if r.Reason == nil {
		return ""
	}
	return *r.Reason
}

// CategorizedIntent is a reason mapped onto a taxonomy path with scores.
type CategorizedIntent struct {
	ReasonRecord
	CategoryPath string `json:"category_path"`
	L1Score      int    `json:"l1_score"`
	L2Score      int    `json:"l2_score"`
	L3Score      int    `json:"l3_score"`
}

// Accepted reports whether the L3 score meets the threshold.
func (c CategorizedIntent) Accepted(threshold int) bool {
	return c.L3Score >= threshold
}

// IntentSummary is one ranked entry of the discovered intent list.
type IntentSummary struct {
	Intent     string  `json:"intent"`
	Volume     int     `json:"volume"`
	Percentage float64 `json:"percentage"`
	Level1     string  `json:"level1"`
	Level2     string  `json:"level2"`
	Level3     string  `json:"level3"`
}
