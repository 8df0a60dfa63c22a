package scores

const (
	evaluationCorrect     = "correct"
	connectionsRowPoints  = 1
	connectionsReadPoints = 1
)

// SolvedItem is one tile of a solved connections row. Ref is empty for tiles with no verse.
type SolvedItem struct {
	Ref string `json:"ref,omitempty"`
}

// SolvedGroup is one row the player solved in connections.
type SolvedGroup struct {
	Items []SolvedItem `json:"items"`
}

// ConnectionsState is the locally persisted connections game for a day.
type ConnectionsState struct {
	GameOver       bool          `json:"game_over"`
	Solved         []SolvedGroup `json:"solved"`
	CorrectCount   *int          `json:"correct_count,omitempty"`
	ExploredVerses []string      `json:"explored_verses"`
}

// HarfState is the locally persisted letter-guessing game for a day.
type HarfState struct {
	GameOver    bool       `json:"game_over"`
	Evaluations [][]string `json:"evaluations"`
	HintsUsed   int        `json:"hints_used"`
}

// DeductionState is the locally persisted "who am I" game for a day.
type DeductionState struct {
	GameOver      bool `json:"game_over"`
	Won           bool `json:"won"`
	CluesRevealed int  `json:"clues_revealed"`
}

// ScrambleState is the locally persisted scramble game for a day.
type ScrambleState struct {
	GameOver  bool `json:"game_over"`
	Won       bool `json:"won"`
	HintsUsed int  `json:"hints_used"`
}

// LocalGameStates bundles whatever completion state the client kept for the puzzle date.
// Juz carries no local completion state and is never backfilled.
type LocalGameStates struct {
	Connections *ConnectionsState `json:"connections,omitempty"`
	Harf        *HarfState        `json:"harf,omitempty"`
	Deduction   *DeductionState   `json:"deduction,omitempty"`
	Scramble    *ScrambleState    `json:"scramble,omitempty"`
}

// DeriveScores re-derives each finished game's crescents from local state.
func DeriveScores(states LocalGameStates) ModeScores {
	var derived ModeScores
	if states.Connections != nil && states.Connections.GameOver {
		derived.Connections = connectionsCrescents(*states.Connections)
	}
	if states.Harf != nil && states.Harf.GameOver {
		derived.Harf = harfCrescents(*states.Harf)
	}
	if states.Deduction != nil && states.Deduction.GameOver {
		derived.Deduction = deductionCrescents(*states.Deduction)
	}
	if states.Scramble != nil && states.Scramble.GameOver {
		derived.Scramble = scrambleCrescents(*states.Scramble)
	}
	return derived
}

// connectionsCrescents awards a point per solved row and another when every verse in it was read.
func connectionsCrescents(state ConnectionsState) int {
	correct := len(state.Solved)
	if state.CorrectCount != nil {
		correct = *state.CorrectCount
	}
	explored := make(map[string]struct{}, len(state.ExploredVerses))
	for _, ref := range state.ExploredVerses {
		explored[ref] = struct{}{}
	}

	score := 0
	for index, group := range state.Solved {
		if index >= correct {
			break
		}
		score += connectionsRowPoints
		unique := make(map[string]struct{}, len(group.Items))
		for _, item := range group.Items {
			if item.Ref != "" {
				unique[item.Ref] = struct{}{}
			}
		}
		// A row without verse references still counts its tiles, so it can never be fully read.
		rowTotal := len(unique)
		if rowTotal == 0 {
			rowTotal = len(group.Items)
		}
		read := 0
		for ref := range unique {
			if _, ok := explored[ref]; ok {
				read++
			}
		}
		if read >= rowTotal {
			score += connectionsReadPoints
		}
	}
	return min(MaxCrescents, score)
}

func harfCrescents(state HarfState) int {
	if len(state.Evaluations) == 0 {
		return 0
	}
	lastRow := state.Evaluations[len(state.Evaluations)-1]
	if len(lastRow) == 0 {
		return 0
	}
	for _, evaluation := range lastRow {
		if evaluation != evaluationCorrect {
			return 0
		}
	}
	base := max(1, 6-len(state.Evaluations))
	return max(0, base-state.HintsUsed)
}

func deductionCrescents(state DeductionState) int {
	if !state.Won {
		return 0
	}
	switch {
	case state.CluesRevealed <= 1:
		return 5
	case state.CluesRevealed == 2:
		return 4
	case state.CluesRevealed == 3:
		return 3
	case state.CluesRevealed == 4:
		return 2
	default:
		return 1
	}
}

func scrambleCrescents(state ScrambleState) int {
	if !state.Won {
		return 0
	}
	return max(1, 5-state.HintsUsed)
}
