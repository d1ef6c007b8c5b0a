package remote

// Setup describes the interview the candidate asked for.
type Setup struct {
	Role           string `json:"role"`
	Branch         string `json:"branch"`
	Specialization string `json:"specialization"`
	Difficulty     string `json:"difficulty"`
}

type Start struct {
	SessionID     string `json:"session_id"`
	FirstQuestion string `json:"first_question"`
}

const (
	ActionContinue = "continue"
	ActionEnd      = "end"
)

// Reply is the service's directive after an answer. Text is either the next
// question or the closing remark.
type Reply struct {
	Action string `json:"action"`
	Text   string `json:"text"`
}

func (r Reply) IsEnd() bool { return r.Action == ActionEnd }

type Score struct {
	Clarity           float64 `json:"clarity"`
	Examples          float64 `json:"examples"`
	Structure         float64 `json:"structure"`
	TechnicalAccuracy float64 `json:"technical_accuracy"`
}

type ScoredAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Score    Score  `json:"score"`
}

type Practice struct {
	Prompts   []string `json:"prompts"`
	Resources []string `json:"resources"`
}

// Summary is the end-of-interview report. AvgScores holds one entry per
// scoring axis plus "overall".
type Summary struct {
	AvgScores       map[string]float64 `json:"avg_scores"`
	Strengths       []string           `json:"strengths"`
	Weaknesses      []string           `json:"weaknesses"`
	Improvements    []string           `json:"improvements"`
	OverallFeedback string             `json:"overall_feedback"`
	Transcript      []ScoredAnswer     `json:"transcript"`
	Practice        Practice           `json:"practice"`
}

func (s *Summary) Overall() float64 {
	return s.AvgScores["overall"]
}

type SpeechRequest struct {
	Text       string  `json:"text"`
	VoiceID    string  `json:"voice_id,omitempty"`
	Rate       float64 `json:"rate,omitempty"`
	Format     string  `json:"format,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
}

// Audio is a synthesized speech payload. ContentType is the server's hint;
// the bytes are sniffed before decoding.
type Audio struct {
	Data        []byte
	ContentType string
}
