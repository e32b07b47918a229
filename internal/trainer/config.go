package trainer

import (
	"digitforge/internal/device"
	"digitforge/internal/model"
)

// TrainingConfig describes how a Trainer optimizes a model.
type TrainingConfig struct {
	loss        Loss
	evaluators  []Evaluator
	listeners   []TrainingListener
	optimizer   Optimizer
	initializer model.Initializer
	devices     []device.Device
	seed        int64
}

// NewTrainingConfig returns a config using loss, Adam, Xavier initialization
// and the CPU.
func NewTrainingConfig(loss Loss) *TrainingConfig {
	return &TrainingConfig{
		loss:        loss,
		optimizer:   NewAdam(),
		initializer: model.XavierInitializer{},
		devices:     []device.Device{device.CPU()},
		seed:        42,
	}
}

// AddEvaluator adds an evaluator reported next to the loss.
func (c *TrainingConfig) AddEvaluator(e Evaluator) *TrainingConfig {
	c.evaluators = append(c.evaluators, e)
	return c
}

// AddTrainingListeners appends listeners notified during training.
func (c *TrainingConfig) AddTrainingListeners(ls ...TrainingListener) *TrainingConfig {
	c.listeners = append(c.listeners, ls...)
	return c
}

// OptOptimizer replaces the optimizer.
func (c *TrainingConfig) OptOptimizer(o Optimizer) *TrainingConfig {
	c.optimizer = o
	return c
}

// OptInitializer replaces the parameter initializer.
func (c *TrainingConfig) OptInitializer(i model.Initializer) *TrainingConfig {
	c.initializer = i
	return c
}

// OptDevice sets the devices to train on.
func (c *TrainingConfig) OptDevice(devs ...device.Device) *TrainingConfig {
	c.devices = devs
	return c
}

// OptSeed seeds parameter initialization.
func (c *TrainingConfig) OptSeed(seed int64) *TrainingConfig {
	c.seed = seed
	return c
}

// Loss returns the configured loss.
func (c *TrainingConfig) Loss() Loss { return c.loss }

// Evaluators returns the configured evaluators.
func (c *TrainingConfig) Evaluators() []Evaluator { return c.evaluators }

// Listeners returns the configured listeners.
func (c *TrainingConfig) Listeners() []TrainingListener { return c.listeners }

// Devices returns the configured devices.
func (c *TrainingConfig) Devices() []device.Device { return c.devices }
