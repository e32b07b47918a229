package trainer

import (
	"encoding/json"
	"fmt"
)

// Result summarizes the last completed epoch of a training run.
type Result struct {
	Epoch       int                `json:"epoch"`
	Evaluations map[string]float64 `json:"evaluations"`
}

// EvaluationKey names an evaluation of an evaluator under a phase key, e.g.
// "train_loss" or "validate_Accuracy".
func EvaluationKey(phase, name string) string {
	return phase + "_" + name
}

// TrainLoss returns the training loss of the last epoch.
func (r Result) TrainLoss() float64 { return r.Evaluations[EvaluationKey(TrainKey, "loss")] }

// ValidateLoss returns the validation loss, or false without validation.
func (r Result) ValidateLoss() (float64, bool) {
	v, ok := r.Evaluations[EvaluationKey(ValidateKey, "loss")]
	return v, ok
}

// TrainEvaluation returns an evaluator's training score.
func (r Result) TrainEvaluation(name string) float64 {
	return r.Evaluations[EvaluationKey(TrainKey, name)]
}

// ValidateEvaluation returns an evaluator's validation score.
func (r Result) ValidateEvaluation(name string) (float64, bool) {
	v, ok := r.Evaluations[EvaluationKey(ValidateKey, name)]
	return v, ok
}

// String renders the result as indented JSON.
func (r Result) String() string {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		// NaN or Inf after divergence
		return fmt.Sprintf("{epoch: %d, evaluations: %v}", r.Epoch, r.Evaluations)
	}
	return string(out)
}
