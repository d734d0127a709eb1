package protocol

import "github.com/absmach/fedmob/pkg/codec"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Body is a typed message payload that knows its envelope type.
type Body interface {
	MessageType() string
}

// Instruction is a decoded bridge-to-client message.
type Instruction = Body

// Report is a decoded client-to-bridge message.
type Report = Body

type RoundConfig struct {
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	ModelVariant string  `json:"model_variant,omitempty"`
	// ModelName is the older spelling of ModelVariant still sent by some
	// bridges.
	ModelName string `json:"model_name,omitempty"`
}

func (c RoundConfig) Variant() string {
	if c.ModelVariant != "" {
		return c.ModelVariant
	}

	return c.ModelName
}

type Metrics struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

type RegisterAck struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (RegisterAck) MessageType() string { return TypeRegisterAck }

type StartTraining struct {
	Round   int                      `json:"round"`
	Config  RoundConfig              `json:"config"`
	Weights codec.TransportWeightSet `json:"weights,omitempty"`
}

func (StartTraining) MessageType() string { return TypeStartTraining }

type WeightsReceived struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (WeightsReceived) MessageType() string { return TypeWeightsReceived }

type TrainingAcknowledged struct {
	Round int `json:"round,omitempty"`
}

func (TrainingAcknowledged) MessageType() string { return TypeTrainingAcknowledged }

type EvaluateConfig struct {
	Round        int    `json:"round,omitempty"`
	BatchSize    int    `json:"batch_size,omitempty"`
	ModelVariant string `json:"model_variant,omitempty"`
}

type EvaluateRequest struct {
	Parameters codec.TransportWeightSet `json:"parameters,omitempty"`
	Config     EvaluateConfig           `json:"config"`
}

func (EvaluateRequest) MessageType() string { return TypeEvaluateRequest }

// Reports are client-to-bridge messages.

type Register struct {
	ClientID string `json:"client_id"`
}

func (Register) MessageType() string { return TypeRegister }

// RoundRequest asks the bridge to start a round. It shares its type with
// the bridge's StartTraining reply.
type RoundRequest struct {
	ClientID string `json:"client_id"`
	Round    int    `json:"round"`
}

func (RoundRequest) MessageType() string { return TypeStartTraining }

type TrainingUpdate struct {
	ClientID string   `json:"client_id"`
	Round    int      `json:"round"`
	Epoch    int      `json:"epoch"`
	Epochs   int      `json:"epochs"`
	Progress float64  `json:"progress"`
	Metrics  *Metrics `json:"metrics,omitempty"`
}

func (TrainingUpdate) MessageType() string { return TypeTrainingUpdate }

type UpdateWeights struct {
	ClientID string                   `json:"client_id"`
	Round    int                      `json:"round"`
	Epoch    int                      `json:"epoch"`
	Weights  codec.TransportWeightSet `json:"weights"`
}

func (UpdateWeights) MessageType() string { return TypeUpdateWeights }

// TrainingComplete reports the end of a round. A failed round carries
// StatusError and the reason instead of weights. An empty Status means
// success.
type TrainingComplete struct {
	ClientID   string                   `json:"client_id"`
	Round      int                      `json:"round"`
	Status     string                   `json:"status,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Weights    codec.TransportWeightSet `json:"weights"`
	NumSamples int                      `json:"num_samples"`
	Metrics    Metrics                  `json:"metrics"`
}

func (t TrainingComplete) Failed() bool { return t.Status == StatusError }

func (TrainingComplete) MessageType() string { return TypeTrainingComplete }

type EvaluateComplete struct {
	ClientID    string             `json:"client_id"`
	Round       int                `json:"round"`
	Status      string             `json:"status,omitempty"`
	Error       string             `json:"error,omitempty"`
	Loss        float64            `json:"loss"`
	Accuracy    float64            `json:"accuracy"`
	NumExamples int                `json:"num_examples"`
	Metrics     map[string]float64 `json:"metrics"`
}

func (EvaluateComplete) MessageType() string { return TypeEvaluateComplete }

func (e EvaluateComplete) Failed() bool { return e.Status == StatusError }
