package exam

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/picolab/engine/circuit"
	"github.com/WessleyAI/picolab/engine/feedback"
	"github.com/WessleyAI/picolab/engine/sim"
)

// Auto-score deductions.
const (
	MaxScore               = 100
	PenaltyMissingResistor = 20
	PenaltyBurnedLED       = 30
	PenaltyUnlitLED        = 15
	PenaltyMissingPart     = 10
)

// Score grades an evaluated circuit. Empty and short circuits score zero.
// Each type in required that the circuit does not use costs
// PenaltyMissingPart. The returned notes explain each deduction.
func Score(c circuit.Circuit, res sim.Result, required ...circuit.ComponentType) (int, []string) {
	if c.IsEmpty() {
		return 0, []string{"empty circuit: score set to 0"}
	}
	if res.ShortCircuit {
		return 0, []string{"short circuit: score set to 0"}
	}
	score := MaxScore
	var notes []string
	if missing := missingParts(c, required); len(missing) > 0 {
		score -= len(missing) * PenaltyMissingPart
		notes = append(notes, fmt.Sprintf("unused parts %s: -%d", strings.Join(missing, ", "), len(missing)*PenaltyMissingPart))
	}
	if n := res.Count(feedback.CodeMissingResistor); n > 0 {
		score -= n * PenaltyMissingResistor
		notes = append(notes, fmt.Sprintf("LED without resistor: -%d", n*PenaltyMissingResistor))
	}
	burned, unlit := 0, 0
	for _, comp := range c.Components {
		if !comp.Type.IsLED() {
			continue
		}
		switch {
		case res.BurnedOut[comp.ID]:
			burned++
		case !res.Lit[comp.ID]:
			unlit++
		}
	}
	if burned > 0 {
		score -= burned * PenaltyBurnedLED
		notes = append(notes, fmt.Sprintf("%d LED(s) burned out: -%d", burned, burned*PenaltyBurnedLED))
	}
	if unlit > 0 {
		score -= unlit * PenaltyUnlitLED
		notes = append(notes, fmt.Sprintf("%d LED(s) not lit: -%d", unlit, unlit*PenaltyUnlitLED))
	}
	return min(max(score, 0), MaxScore), notes
}

func missingParts(c circuit.Circuit, required []circuit.ComponentType) []string {
	used := map[circuit.ComponentType]bool{}
	for _, comp := range c.Components {
		used[comp.Type] = true
	}
	var missing []string
	for _, t := range required {
		if !used[t] {
			used[t] = true
			missing = append(missing, string(t))
		}
	}
	return missing
}

func summarize(score int, notes []string) string {
	if len(notes) == 0 {
		return fmt.Sprintf("Auto-scored %d/%d", score, MaxScore)
	}
	return fmt.Sprintf("Auto-scored %d/%d (%s)", score, MaxScore, strings.Join(notes, ", "))
}
