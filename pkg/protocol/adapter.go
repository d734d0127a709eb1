package protocol

import (
	"fmt"
	"math"

	"github.com/absmach/fedmob/pkg/codec"
)

// Round config defaults applied when the bridge omits a field. A missing
// model variant stays empty and means the client's own model.
const (
	DefaultEpochs       = 1
	DefaultBatchSize    = 32
	DefaultLearningRate = 0.01
)

// Adapter translates between typed client events and wire envelopes for a
// single client.
type Adapter struct {
	clientID string
}

func NewAdapter(clientID string) *Adapter {
	return &Adapter{clientID: clientID}
}

func (a *Adapter) ClientID() string {
	return a.clientID
}

func (a *Adapter) Register() (Message, error) {
	return EncodeBody(Register{ClientID: a.clientID})
}

func (a *Adapter) RequestRound(round int) (Message, error) {
	return EncodeBody(RoundRequest{ClientID: a.clientID, Round: round})
}

// Progress reports a finished epoch. Progress is epoch/epochs as a
// percentage in [0, 100].
func (a *Adapter) Progress(round, epoch, epochs int, m *Metrics) (Message, error) {
	return EncodeBody(TrainingUpdate{
		ClientID: a.clientID,
		Round:    round,
		Epoch:    epoch,
		Epochs:   epochs,
		Progress: Percent(epoch, epochs),
		Metrics:  m,
	})
}

func (a *Adapter) IntermediateWeights(round, epoch int, weights codec.TransportWeightSet) (Message, error) {
	return EncodeBody(UpdateWeights{
		ClientID: a.clientID,
		Round:    round,
		Epoch:    epoch,
		Weights:  weights,
	})
}

func (a *Adapter) Complete(round int, weights codec.TransportWeightSet, numSamples int, m Metrics) (Message, error) {
	return EncodeBody(TrainingComplete{
		ClientID:   a.clientID,
		Round:      round,
		Weights:    weights,
		NumSamples: numSamples,
		Metrics:    m,
	})
}

// TrainingFailed reports a round that ended without weights.
func (a *Adapter) TrainingFailed(round int, cause error) (Message, error) {
	return EncodeBody(TrainingComplete{
		ClientID: a.clientID,
		Round:    round,
		Status:   StatusError,
		Error:    cause.Error(),
	})
}

func (a *Adapter) EvaluateFailed(round int, cause error) (Message, error) {
	return EncodeBody(EvaluateComplete{
		ClientID: a.clientID,
		Round:    round,
		Status:   StatusError,
		Error:    cause.Error(),
	})
}

func (a *Adapter) EvaluateResult(round int, loss, accuracy float64, numExamples int) (Message, error) {
	return EncodeBody(EvaluateComplete{
		ClientID:    a.clientID,
		Round:       round,
		Loss:        loss,
		Accuracy:    accuracy,
		NumExamples: numExamples,
		Metrics:     map[string]float64{"accuracy": accuracy},
	})
}

// Decode turns a bridge-to-client envelope into a typed instruction.
func (a *Adapter) Decode(m Message) (Instruction, error) {
	return DecodeInstruction(m)
}

func EncodeBody(b Body) (Message, error) {
	return Encode(b.MessageType(), b)
}

func Percent(epoch, epochs int) float64 {
	if epochs <= 0 {
		return 0
	}
	p := float64(epoch) / float64(epochs) * 100

	return math.Max(0, math.Min(100, p))
}

func DecodeInstruction(m Message) (Instruction, error) {
	switch m.Type() {
	case TypeRegisterAck:
		var ack RegisterAck
		if err := m.Decode(&ack); err != nil {
			return nil, err
		}
		if err := checkStatus(m.Type(), ack.Status); err != nil {
			return nil, err
		}

		return ack, nil
	case TypeStartTraining:
		var st StartTraining
		if err := m.Decode(&st); err != nil {
			return nil, err
		}
		if st.Round < 0 {
			return nil, fmt.Errorf("%w: negative round %d", ErrMalformedMessage, st.Round)
		}
		cfg, err := withDefaults(st.Config)
		if err != nil {
			return nil, err
		}
		st.Config = cfg

		return st, nil
	case TypeWeightsReceived:
		var wr WeightsReceived
		if err := m.Decode(&wr); err != nil {
			return nil, err
		}
		if err := checkStatus(m.Type(), wr.Status); err != nil {
			return nil, err
		}

		return wr, nil
	case TypeTrainingAcknowledged:
		var ack TrainingAcknowledged
		if err := m.Decode(&ack); err != nil {
			return nil, err
		}

		return ack, nil
	case TypeEvaluateRequest:
		var req EvaluateRequest
		if err := m.Decode(&req); err != nil {
			return nil, err
		}
		if req.Config.BatchSize < 0 {
			return nil, fmt.Errorf("%w: negative batch size", ErrMalformedMessage)
		}
		if req.Config.BatchSize == 0 {
			req.Config.BatchSize = DefaultBatchSize
		}

		return req, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type())
	}
}

// DecodeReport turns a client-to-bridge envelope into a typed report.
func DecodeReport(m Message) (Report, error) {
	var r Report
	switch m.Type() {
	case TypeRegister:
		var v Register
		if err := m.Decode(&v); err != nil {
			return nil, err
		}
		r = v
	case TypeStartTraining:
		var v RoundRequest
		if err := m.Decode(&v); err != nil {
			return nil, err
		}
		r = v
	case TypeTrainingUpdate:
		var v TrainingUpdate
		if err := m.Decode(&v); err != nil {
			return nil, err
		}
		r = v
	case TypeUpdateWeights:
		var v UpdateWeights
		if err := m.Decode(&v); err != nil {
			return nil, err
		}
		r = v
	case TypeTrainingComplete:
		var v TrainingComplete
		if err := m.Decode(&v); err != nil {
			return nil, err
		}
		r = v
	case TypeEvaluateComplete:
		var v EvaluateComplete
		if err := m.Decode(&v); err != nil {
			return nil, err
		}
		r = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type())
	}

	return r, nil
}

func checkStatus(msgType, status string) error {
	switch status {
	case StatusSuccess, StatusError:
		return nil
	default:
		return fmt.Errorf("%w: %s status %q", ErrMalformedMessage, msgType, status)
	}
}

func withDefaults(c RoundConfig) (RoundConfig, error) {
	if c.Epochs < 0 || c.BatchSize < 0 || c.LearningRate < 0 {
		return c, fmt.Errorf("%w: negative round config value", ErrMalformedMessage)
	}
	if c.Epochs == 0 {
		c.Epochs = DefaultEpochs
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.LearningRate == 0 {
		c.LearningRate = DefaultLearningRate
	}
	if c.ModelVariant == "" {
		c.ModelVariant = c.ModelName
	}
	c.ModelName = ""

	return c, nil
}
