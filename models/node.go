package models

// Bracket round sizes supported by the builder. A node's RoundSize is the
// number of participants competing in the sub-bracket it roots, so the
// final has RoundSize 2 and the first round of a full bracket has the
// largest value.
const (
	RoundFinal   = 2
	RoundSemi    = 4
	RoundQuarter = 8
	RoundEighth  = 16

	MaxBracketSize = RoundEighth
)

// BracketNode is one match slot in a single-elimination tree.
// WinnerTargetID points at the parent node that receives this node's
// winner; it is nil only for the root (the final).
type BracketNode struct {
	ID             int  `json:"id" db:"id"`
	RoomID         int  `json:"room_id" db:"room_id"`
	RoundSize      int  `json:"round_size" db:"round_size"`
	WinnerTargetID *int `json:"winner_target_id,omitempty" db:"winner_target_id"`
	AIAssisted     bool `json:"ai_assisted" db:"ai_assisted"`
}

// IsLeaf reports whether the node is a first-round node for the given
// bracket size, i.e. the round participants actually start in.
func (n BracketNode) IsLeaf(bracketSize int) bool {
	return n.RoundSize == bracketSize
}

// NodeAssignment binds a user to the bracket node they play next. Rows are
// only ever created for the round a user currently occupies: leaves at
// bracket build time, deeper nodes as winners are promoted.
type NodeAssignment struct {
	ID        int `json:"id" db:"id"`
	NodeID    int `json:"node_id" db:"node_id"`
	UserID    int `json:"user_id" db:"user_id"`
	RoundSize int `json:"round_size" db:"-"`
}

// ValidBracketSize reports whether n participants can be seeded. The
// builder only grows through 2, 4, 8 and 16; anything else is a
// configuration error surfaced to the caller.
func ValidBracketSize(n int) bool {
	switch n {
	case RoundFinal, RoundSemi, RoundQuarter, RoundEighth:
		return true
	}
	return false
}
