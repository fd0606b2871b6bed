package models

// Continuity summarises the stored heights so gaps can be detected without
// scanning the whole table.
type Continuity struct {
	Count int64 `json:"count" bson:"count"`
	Min   int64 `json:"min" bson:"min"`
	Max   int64 `json:"max" bson:"max"`
}

// Missing returns how many heights between Min and Max have no record.
func (c Continuity) Missing() int64 {
	if c.Count == 0 {
		return 0
	}
	return (c.Max - c.Min + 1) - c.Count
}
