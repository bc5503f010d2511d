package registry

type Token struct {
	ID       uint64 `json:"id"`
	Owner    string `json:"owner"`
	URI      string `json:"uri"`
	Approved string `json:"approved,omitempty"`
}

type MintRequest struct {
	Recipient string `json:"recipient"`
	URI       string `json:"uri"`
}

type TransferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type ApproveRequest struct {
	Approved string `json:"approved"`
}

type OperatorRequest struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}
