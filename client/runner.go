package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/fedmob/pkg/codec"
	"github.com/absmach/fedmob/pkg/protocol"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/absmach/fedmob/pkg/training"
	"github.com/absmach/fedmob/pkg/transport"
	"github.com/absmach/fedmob/round"
	"github.com/google/uuid"
)

const (
	jobTrain = "train"
	jobEval  = "evaluate"
)

var (
	errRegistrationRejected = errors.New("registration rejected by bridge")
	errRoundAbandoned       = errors.New("round abandoned on disconnect")
)

// job is the single round or evaluation running beside the loop. done is
// closed once its goroutine no longer touches the model.
type job struct {
	kind    string
	round   int
	cfg     training.RoundConfig
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

type outcome struct {
	job     *job
	result  training.Result
	metrics training.Metrics
	err     error
}

// Run connects the channel and processes transport events, inbound
// messages and finished jobs in order until ctx is done or the channel
// gives up reconnecting.
func (c *Client) Run(ctx context.Context) error {
	events, unsubscribe := c.machine.Subscribe(64)
	defer unsubscribe()

	go c.monitor.Run(ctx, c.cfg.SampleInterval)

	if err := c.channel.Connect(ctx); err != nil {
		return err
	}

	var (
		ackTimer   *time.Timer
		ackTimeout <-chan time.Time
		resent     bool
	)
	stopAckTimer := func() {
		if ackTimer != nil {
			ackTimer.Stop()
		}
		ackTimer, ackTimeout = nil, nil
	}
	defer stopAckTimer()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()

			return nil

		case ev, ok := <-c.channel.Events():
			if !ok {
				c.shutdown()

				return nil
			}
			switch ev.Kind {
			case transport.Connected:
				c.logger.Info("Connected to bridge", slog.Int("failed_attempts", ev.Attempt))
				if err := c.register(ctx); err != nil {
					c.logger.Error("Failed to register", slog.Any("error", err))

					continue
				}
				stopAckTimer()
				resent = false
				ackTimer = time.NewTimer(c.cfg.RegisterTimeout)
				ackTimeout = ackTimer.C
			case transport.Disconnected:
				c.logger.Warn("Disconnected from bridge", slog.Any("error", ev.Err))
				stopAckTimer()
				c.disconnect()
			case transport.Fatal:
				c.logger.Error("Giving up on bridge connection", slog.Int("attempts", ev.Attempt), slog.Any("error", ev.Err))
				c.shutdown()

				return ev.Err
			}

		case <-ackTimeout:
			if c.acked || c.machine.State() != session.Registered {
				stopAckTimer()

				continue
			}
			if resent {
				c.logger.Error("Registration not acknowledged", slog.Duration("timeout", c.cfg.RegisterTimeout))
				stopAckTimer()

				continue
			}
			c.logger.Warn("Registration not acknowledged, retrying")
			resent = true
			if err := c.sendRegister(ctx); err != nil {
				c.logger.Error("Failed to resend registration", slog.Any("error", err))
			}
			ackTimer.Reset(c.cfg.RegisterTimeout)

		case msg, ok := <-c.channel.Messages():
			if !ok {
				c.shutdown()

				return nil
			}
			c.handle(ctx, msg)

		case out := <-c.outcomes:
			c.finish(ctx, out)

		case <-c.draining:
			c.draining = nil
			if msg := c.held; msg != nil {
				c.held = nil
				c.logger.Info("Abandoned job exited, resuming held instruction", slog.String("type", msg.Type()))
				c.handle(ctx, *msg)
			}

		case ev := <-events:
			c.mirror(ctx, ev)
		}
	}
}

func (c *Client) register(ctx context.Context) error {
	c.acked = false
	if c.machine.State() != session.Disconnected {
		c.disconnect()
	}
	c.sessionID = uuid.NewString()
	if err := c.machine.Register(); err != nil {
		return err
	}

	return c.sendRegister(ctx)
}

func (c *Client) sendRegister(ctx context.Context) error {
	msg, err := c.adapter.Register()
	if err != nil {
		return err
	}

	return c.sendDirect(ctx, msg)
}

// sendDirect writes a handshake message with a bounded timeout and a
// single retry.
func (c *Client) sendDirect(ctx context.Context, msg protocol.Message) error {
	var err error
	for range 2 {
		sctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
		err = c.channel.SendDirect(sctx, msg)
		cancel()
		if err == nil || ctx.Err() != nil {
			return err
		}
	}

	return err
}

func (c *Client) send(ctx context.Context, msg protocol.Message, err error) {
	if err == nil {
		err = c.channel.Send(ctx, msg)
	}
	if err != nil {
		c.logger.Error("Failed to send message", slog.String("type", msg.Type()), slog.Any("error", err))
	}
}

func (c *Client) handle(ctx context.Context, msg protocol.Message) {
	in, err := c.adapter.Decode(msg)
	if err != nil {
		c.logger.Warn("Dropping inbound message", slog.String("type", msg.Type()), slog.Any("error", err))

		return
	}

	switch in.(type) {
	case protocol.StartTraining, protocol.EvaluateRequest:
		if c.draining != nil {
			c.logger.Warn("Holding instruction until abandoned job exits", slog.String("type", msg.Type()))
			c.held = &msg

			return
		}
	}

	switch in := in.(type) {
	case protocol.RegisterAck:
		c.onRegisterAck(ctx, in)
	case protocol.StartTraining:
		c.onStartTraining(ctx, in)
	case protocol.WeightsReceived:
		c.onWeightsReceived(ctx, in)
	case protocol.TrainingAcknowledged:
		c.logger.Info("Bridge acknowledged training", slog.Int("round", in.Round))
	case protocol.EvaluateRequest:
		c.onEvaluateRequest(ctx, in)
	default:
		c.logger.Warn("No handler for message", slog.String("type", msg.Type()))
	}
}

func (c *Client) onRegisterAck(ctx context.Context, ack protocol.RegisterAck) {
	if ack.Status != protocol.StatusSuccess {
		c.logger.Error("Registration failed", slog.Any("error", fmt.Errorf("%w: %s", errRegistrationRejected, ack.Error)))

		return
	}
	if err := c.machine.Acknowledge(); err != nil {
		c.logger.Warn("Ignoring registration ack", slog.Any("error", err))

		return
	}
	c.acked = true
	c.channel.HandshakeComplete()
	c.logger.Info("Registered with bridge", slog.Int("pending", c.channel.Pending()))

	if err := c.machine.RequestTraining(); err != nil {
		c.logger.Warn("Failed to open training session", slog.Any("error", err))

		return
	}
	next := c.machine.Session().CurrentRound + 1
	msg, err := c.adapter.RequestRound(next)
	c.send(ctx, msg, err)
}

func (c *Client) onStartTraining(ctx context.Context, st protocol.StartTraining) {
	rnd, err := c.machine.StartTraining(st.Round)
	if err != nil {
		c.logger.Warn("Rejected start_training", slog.Int("round", st.Round), slog.Any("error", err))

		return
	}

	cfg := training.RoundConfig{
		Epochs:       st.Config.Epochs,
		BatchSize:    st.Config.BatchSize,
		LearningRate: st.Config.LearningRate,
		ModelVariant: st.Config.Variant(),
	}
	if cfg.ModelVariant != "" && cfg.ModelVariant != c.cfg.ModelVariant {
		c.logger.Warn("Bridge model variant differs from local model, training local model",
			slog.String("requested", cfg.ModelVariant),
			slog.String("local", c.cfg.ModelVariant),
		)
	}

	j := &job{kind: jobTrain, round: rnd, cfg: cfg, started: time.Now()}
	c.saveRound(ctx, round.Record{
		ClientID:     c.cfg.ID,
		Session:      c.sessionID,
		Round:        rnd,
		Status:       round.Running,
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
		ModelVariant: cfg.ModelVariant,
		StartedAt:    j.started,
	})

	if len(st.Weights) > 0 {
		if err := c.applyWeights(st.Weights); err != nil {
			c.fail(ctx, j, err)

			return
		}
	}

	c.logger.Info("Starting round",
		slog.Int("round", rnd),
		slog.Int("epochs", cfg.Epochs),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Float64("learning_rate", cfg.LearningRate),
	)
	c.start(ctx, j, func(jctx context.Context) outcome {
		res, err := training.WithReload(jctx, c.cfg.LoadTimeout, c.load, func(rctx context.Context, data training.Dataset) (training.Result, error) {
			return c.orch.RunRound(rctx, c.model, data, cfg, c.onEpoch(rnd))
		})

		return outcome{job: j, result: res, metrics: res.Metrics, err: err}
	})
}

func (c *Client) onEvaluateRequest(ctx context.Context, req protocol.EvaluateRequest) {
	if err := c.machine.StartEvaluation(); err != nil {
		c.logger.Warn("Rejected evaluate_request", slog.Any("error", err))

		return
	}

	j := &job{kind: jobEval, round: req.Config.Round, started: time.Now()}
	if len(req.Parameters) > 0 {
		if err := c.applyWeights(req.Parameters); err != nil {
			c.fail(ctx, j, err)

			return
		}
	}

	batchSize := req.Config.BatchSize
	c.start(ctx, j, func(jctx context.Context) outcome {
		res, err := training.WithReload(jctx, c.cfg.LoadTimeout, c.load, func(rctx context.Context, data training.Dataset) (training.Result, error) {
			m, err := c.orch.Evaluate(rctx, c.model, data, batchSize)

			return training.Result{Metrics: m}, err
		})

		return outcome{job: j, metrics: res.Metrics, err: err}
	})
}

func (c *Client) applyWeights(tws codec.TransportWeightSet) error {
	ws, err := c.codec.Deserialize(tws)
	if err != nil {
		return err
	}

	return c.model.SetWeights(ws)
}

// start runs fn in its own goroutine under a cancellable context. Its
// outcome is delivered back to the loop.
func (c *Client) start(ctx context.Context, j *job, fn func(context.Context) outcome) {
	jctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	c.job = j

	go func() {
		defer cancel()
		out := fn(jctx)
		close(j.done)
		select {
		case c.outcomes <- out:
		case <-ctx.Done():
		}
	}()
}

// onEpoch streams progress, and weights under PushEveryEpoch, from the
// training goroutine. The channel is safe for concurrent senders.
func (c *Client) onEpoch(rnd int) training.EpochFunc {
	return func(ctx context.Context, r training.EpochReport) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := c.adapter.Progress(rnd, r.Epoch, r.Epochs, &protocol.Metrics{Loss: r.Metrics.Loss, Accuracy: r.Metrics.Accuracy})
		c.send(ctx, msg, err)

		if c.cfg.WeightPush != PushEveryEpoch {
			return nil
		}
		tws, err := c.codec.Serialize(c.model.Weights())
		if err != nil {
			return err
		}
		msg, err = c.adapter.IntermediateWeights(rnd, r.Epoch, tws)
		c.send(ctx, msg, err)

		return nil
	}
}

func (c *Client) finish(ctx context.Context, out outcome) {
	j := out.job
	if c.job != j {
		c.logger.Info("Discarding outcome of abandoned job", slog.String("kind", j.kind), slog.Int("round", j.round))

		return
	}
	c.job = nil

	if out.err != nil {
		c.fail(ctx, j, out.err)

		return
	}

	switch j.kind {
	case jobTrain:
		c.completeRound(ctx, j, out.result)
	case jobEval:
		if err := c.machine.CompleteEvaluation(); err != nil {
			c.logger.Warn("Evaluation finished outside evaluating state", slog.Any("error", err))

			return
		}
		msg, err := c.adapter.EvaluateResult(j.round, out.metrics.Loss, out.metrics.Accuracy, out.metrics.NumSamples)
		c.send(ctx, msg, err)
		c.logger.Info("Evaluation completed",
			slog.Int("round", j.round),
			slog.Float64("loss", out.metrics.Loss),
			slog.Float64("accuracy", out.metrics.Accuracy),
		)
	}
}

func (c *Client) completeRound(ctx context.Context, j *job, res training.Result) {
	tws, err := c.codec.Serialize(res.Weights)
	if err != nil {
		c.fail(ctx, j, err)

		return
	}
	rnd, err := c.machine.CompleteRound()
	if err != nil {
		c.logger.Warn("Round finished outside training state", slog.Any("error", err))

		return
	}

	m := res.Metrics
	msg, err := c.adapter.Complete(rnd, tws, m.NumSamples, protocol.Metrics{Loss: m.Loss, Accuracy: m.Accuracy})
	c.send(ctx, msg, err)

	rec := c.record(j, round.Completed, "")
	rec.Loss, rec.Accuracy, rec.NumSamples = m.Loss, m.Accuracy, m.NumSamples
	if !c.cfg.SkipWeights {
		if err := rec.SetWeights(res.Weights); err != nil {
			c.logger.Warn("Failed to encode round weights", slog.Any("error", err))
		}
	}
	c.saveRound(ctx, rec)

	c.logger.Info("Round completed",
		slog.Int("round", rnd),
		slog.Float64("loss", m.Loss),
		slog.Float64("accuracy", m.Accuracy),
		slog.Int("num_samples", m.NumSamples),
		slog.Duration("duration", time.Since(j.started)),
	)
}

// fail returns the session to FLActive, records the error and reports it so
// the bridge can move on to the next round.
func (c *Client) fail(ctx context.Context, j *job, err error) {
	c.job = nil
	c.monitor.Cleanup()

	switch j.kind {
	case jobTrain:
		if ferr := c.machine.FailRound(err); ferr != nil {
			c.logger.Warn("Failed to mark round as failed", slog.Any("error", ferr))
		}
		c.saveRound(ctx, c.record(j, round.Failed, err.Error()))
		msg, merr := c.adapter.TrainingFailed(j.round, err)
		c.send(ctx, msg, merr)
	case jobEval:
		if ferr := c.machine.CompleteEvaluation(); ferr != nil {
			c.logger.Warn("Failed to leave evaluation", slog.Any("error", ferr))
		}
		msg, merr := c.adapter.EvaluateFailed(j.round, err)
		c.send(ctx, msg, merr)
	}

	c.logger.Error("Job failed", slog.String("kind", j.kind), slog.Int("round", j.round), slog.Any("error", err))
}

func (c *Client) onWeightsReceived(ctx context.Context, wr protocol.WeightsReceived) {
	if wr.Status == protocol.StatusSuccess {
		c.logger.Info("Bridge accepted weights")

		return
	}

	c.logger.Error("Bridge rejected weights", slog.String("error", wr.Error))
	rnd := c.machine.Session().CurrentRound
	if rnd == 0 {
		return
	}
	rec, err := c.rounds.Get(ctx, c.cfg.ID, rnd)
	if err != nil {
		return
	}
	rec.Error = wr.Error
	c.saveRound(ctx, rec)
}

func (c *Client) record(j *job, status round.Status, errMsg string) round.Record {
	return round.Record{
		ClientID:     c.cfg.ID,
		Session:      c.sessionID,
		Round:        j.round,
		Status:       status,
		Epochs:       j.cfg.Epochs,
		BatchSize:    j.cfg.BatchSize,
		LearningRate: j.cfg.LearningRate,
		ModelVariant: j.cfg.ModelVariant,
		Error:        errMsg,
		StartedAt:    j.started,
		FinishedAt:   time.Now(),
	}
}

func (c *Client) saveRound(ctx context.Context, rec round.Record) {
	if err := c.rounds.Save(ctx, rec); err != nil {
		c.logger.Warn("Failed to save round record", slog.Int("round", rec.Round), slog.Any("error", err))
	}
}

// disconnect abandons any running job without waiting for it and resets
// the session. Until the abandoned goroutine exits, new training or
// evaluation instructions are held back.
func (c *Client) disconnect() {
	c.acked = false
	c.held = nil
	if j := c.job; j != nil {
		j.cancel()
		c.job = nil
		if j.done != nil {
			c.draining = j.done
		}
		if j.kind == jobTrain {
			c.saveRound(context.Background(), c.record(j, round.Abandoned, errRoundAbandoned.Error()))
		}
	}
	c.machine.Disconnect()
	c.monitor.Cleanup()
}

func (c *Client) shutdown() {
	c.disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
	defer cancel()
	if err := c.channel.Disconnect(ctx); err != nil {
		c.logger.Warn("Failed to close channel", slog.Any("error", err))
	}
	c.machine.Close()
}

func (c *Client) mirror(ctx context.Context, ev session.Event) {
	if err := c.sessions.Put(ctx, c.machine.Session()); err != nil {
		c.logger.Debug("Failed to mirror session", slog.String("trigger", ev.Trigger.String()), slog.Any("error", err))
	}
}
