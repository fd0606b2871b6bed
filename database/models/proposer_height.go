package models

// ProposerHeight is one indexed block: the height it was committed at and
// the address of the validator that proposed it.
type ProposerHeight struct {
	Height   int64  `json:"height" bson:"height"`
	Proposer string `json:"proposer" bson:"proposer"`
}
