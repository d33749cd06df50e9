package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// QuizDifficulty is the requested difficulty tier.
type QuizDifficulty string

const (
	DifficultyEasy   QuizDifficulty = "easy"
	DifficultyMedium QuizDifficulty = "medium"
	DifficultyHard   QuizDifficulty = "hard"
)

func (d QuizDifficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// QuizQuestion always carries exactly four options and a zero-based correct
// index in [0, 3]. Upstream one-based conventions are normalized before a
// question is ever persisted.
type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Correct     int      `json:"correct"`
	Explanation string   `json:"explanation,omitempty"`
}

// Quiz is immutable after scoring. Unscored quizzes have nil ScorePercent.
type Quiz struct {
	gorm.Model
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID  *uuid.UUID     `gorm:"index;column:session_id" json:"session_id,omitempty"`
	UserID     uuid.UUID      `gorm:"index;not null" json:"user_id"`
	Topic      string         `gorm:"not null;column:topic" json:"topic"`
	Difficulty QuizDifficulty `gorm:"not null;column:difficulty" json:"difficulty"`

	// []QuizQuestion
	Questions datatypes.JSON `gorm:"not null;column:questions" json:"questions"`
	// []int, learner's submitted option indices; nil until submission
	UserAnswers datatypes.JSON `gorm:"column:user_answers" json:"user_answers,omitempty"`

	ScorePercent   *float64 `gorm:"column:score_percent" json:"score_percent,omitempty"`
	CorrectCount   *int     `gorm:"column:correct_count" json:"correct_count,omitempty"`
	StressEstimate *float64 `gorm:"column:stress_estimate" json:"stress_estimate,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Quiz) TableName() string {
	return "quiz"
}
