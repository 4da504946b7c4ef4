package ledger

// Credit cost schedule. Flat per-action pricing; the voice-response cost does
// not scale with how many response variants are produced.
const (
	CostTextAction    = 1
	CostVisionAction  = 3
	CostTranscription = 1
	CostVoiceProfile  = 10
	CostVoiceResponse = 3
)

// ActionCost returns the cost of a text-completion action.
func ActionCost(hasImage bool) int {
	if hasImage {
		return CostVisionAction
	}
	return CostTextAction
}
