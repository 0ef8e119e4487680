package finetune

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Trainer fine-tunes the served model on the train file. Training happens
// out of process; the loop only needs to know when it has finished.
type Trainer interface {
	Train(ctx context.Context, trainPath string, iteration int) error
}

// Promoter is implemented by trainers that keep the best model separately
// from the latest one.
type Promoter interface {
	Promote(ctx context.Context, iteration int) error
}

// CommandTrainer runs an external command per iteration. "{train}" and
// "{iter}" in the arguments are replaced with the train file and the 1-based
// iteration, which are also exported as CURATOR_TRAIN_FILE and
// CURATOR_ITERATION.
type CommandTrainer struct {
	Command        []string
	PromoteCommand []string
	Dir            string
	logger         *zap.Logger
}

func NewCommandTrainer(command, promote []string, dir string, logger *zap.Logger) (*CommandTrainer, error) {
	if len(command) == 0 {
		return nil, errors.New("train command is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandTrainer{Command: command, PromoteCommand: promote, Dir: dir, logger: logger}, nil
}

func (t *CommandTrainer) Train(ctx context.Context, trainPath string, iteration int) error {
	return t.run(ctx, "train", t.Command, trainPath, iteration)
}

func (t *CommandTrainer) Promote(ctx context.Context, iteration int) error {
	if len(t.PromoteCommand) == 0 {
		return nil
	}
	return t.run(ctx, "promote", t.PromoteCommand, "", iteration)
}

func (t *CommandTrainer) run(ctx context.Context, stage string, command []string, trainPath string, iteration int) error {
	iter := strconv.Itoa(iteration)
	args := make([]string, len(command))
	for i, a := range command {
		a = strings.ReplaceAll(a, "{train}", trainPath)
		args[i] = strings.ReplaceAll(a, "{iter}", iter)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = t.Dir
	cmd.Env = append(os.Environ(),
		"CURATOR_TRAIN_FILE="+trainPath,
		"CURATOR_ITERATION="+iter,
	)

	t.logger.Info("Running trainer command",
		zap.String("stage", stage),
		zap.Strings("args", args),
		zap.Int("iteration", iteration),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.logger.Error("Trainer command failed",
			zap.String("stage", stage),
			zap.ByteString("output", tail(out, 4096)),
			zap.Error(err),
		)
		return fmt.Errorf("%s command failed: %w", stage, err)
	}
	t.logger.Debug("Trainer command finished", zap.String("stage", stage), zap.ByteString("output", tail(out, 4096)))
	return nil
}

func tail(b []byte, n int) []byte {
	if len(b) > n {
		return b[len(b)-n:]
	}
	return b
}
