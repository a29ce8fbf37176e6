package domain

// Condition is a standardized card condition grade, ordered best to worst.
type Condition string

const (
	// ConditionUnknown means no confident classification was possible.
	// It is a valid outcome, never silently upgraded to NM.
	ConditionUnknown Condition = ""

	ConditionNM  Condition = "NM"  // Near Mint
	ConditionLP  Condition = "LP"  // Lightly Played
	ConditionMP  Condition = "MP"  // Moderately Played
	ConditionHP  Condition = "HP"  // Heavily Played
	ConditionDMG Condition = "DMG" // Damaged
)

// ConditionOrder lists known conditions from best to worst grade.
var ConditionOrder = []Condition{
	ConditionNM, ConditionLP, ConditionMP, ConditionHP, ConditionDMG,
}

// String returns the string representation of Condition.
func (c Condition) String() string {
	if c == ConditionUnknown {
		return "UNKNOWN"
	}
	return string(c)
}

// IsValid checks if the condition is a known grade (unknown excluded).
func (c Condition) IsValid() bool {
	switch c {
	case ConditionNM, ConditionLP, ConditionMP, ConditionHP, ConditionDMG:
		return true
	}
	return false
}

// Rank returns the position in ConditionOrder, 0 being the best grade.
// Unknown ranks worst.
func (c Condition) Rank() int {
	for i, grade := range ConditionOrder {
		if c == grade {
			return i
		}
	}
	return len(ConditionOrder)
}
