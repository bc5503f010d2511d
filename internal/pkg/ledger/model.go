package ledger

const (
	TopicBattleSubmitted    = "battle_submitted"
	TopicLeaderboardUpdated = "leaderboard_updated"
)

type Stats struct {
	Total     uint64 `json:"total"`
	Correct   uint64 `json:"correct"`
	Incorrect uint64 `json:"incorrect"`

	Points       uint64 `json:"points"`
	HighestDelta uint64 `json:"highest_delta"`

	LastBattleTime int64 `json:"last_battle_time"`
}

type Battle struct {
	ID          uint64 `json:"id"`
	Participant string `json:"participant"`

	AssetA          string `json:"asset_a"`
	AssetB          string `json:"asset_b"`
	PredictedWinner string `json:"predicted_winner"`
	ActualWinner    string `json:"actual_winner"`
	WasCorrect      bool   `json:"was_correct"`

	PerformanceDelta uint64 `json:"performance_delta"`
	ScoreA           uint64 `json:"score_a"`
	ScoreB           uint64 `json:"score_b"`

	Timestamp int64 `json:"timestamp"`
}

type Submission struct {
	AssetA          string `json:"asset_a"`
	AssetB          string `json:"asset_b"`
	PredictedWinner string `json:"predicted_winner"`
	ActualWinner    string `json:"actual_winner"`

	PerformanceDelta uint64 `json:"performance_delta"`
	ScoreA           uint64 `json:"score_a"`
	ScoreB           uint64 `json:"score_b"`
}

type Result struct {
	BattleID     uint64 `json:"battle_id"`
	WasCorrect   bool   `json:"was_correct"`
	PointsEarned uint64 `json:"points_earned"`
}

type Standing struct {
	Rank    int    `json:"rank"`
	Account string `json:"account"`

	Stats

	Accuracy uint64 `json:"accuracy"`
}

type Event interface {
	Topic() string
}

type BattleSubmitted struct {
	BattleID     uint64 `json:"battle_id"`
	Participant  string `json:"participant"`
	WasCorrect   bool   `json:"was_correct"`
	PointsEarned uint64 `json:"points_earned"`
	Timestamp    int64  `json:"timestamp"`
}

func (BattleSubmitted) Topic() string {
	return TopicBattleSubmitted
}

// LeaderboardUpdated carries an account's running totals right after one of
// its submissions.
type LeaderboardUpdated struct {
	Participant string `json:"participant"`

	Stats

	Accuracy uint64 `json:"accuracy"`
}

func (LeaderboardUpdated) Topic() string {
	return TopicLeaderboardUpdated
}
