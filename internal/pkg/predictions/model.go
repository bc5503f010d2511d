package predictions

type Prediction struct {
	ID          string `json:"id"`
	Participant string `json:"participant"`

	AssetA          string `json:"asset_a"`
	AssetB          string `json:"asset_b"`
	PredictedWinner string `json:"predicted_winner"`

	CreatedAt int64 `json:"created_at"`

	Settled   bool  `json:"settled"`
	SettledAt int64 `json:"settled_at,omitempty"`
}

type PredictionRequest struct {
	AssetA          string `json:"asset_a"`
	AssetB          string `json:"asset_b"`
	PredictedWinner string `json:"predicted_winner"`
}
