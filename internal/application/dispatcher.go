package application

import (
	"context"
	"fmt"
	"log/slog"

	"valetudo-home/internal/domain"
	"valetudo-home/internal/infra/valetudo"
)

// Dispatcher turns a domain.Command into exactly one Robot call.
type Dispatcher struct {
	robot  Robot
	logger *slog.Logger
}

func NewDispatcher(robot Robot, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		robot:  robot,
		logger: logger,
	}
}

func (d *Dispatcher) Execute(ctx context.Context, cmd domain.Command) (valetudo.Result, error) {
	action, err := domain.ParseAction(string(cmd.Action))
	if err != nil {
		return nil, err
	}
	cmd.Action = action

	res, err := d.call(ctx, cmd)
	if err != nil {
		d.logger.Warn("robot command failed",
			"command", cmd.String(),
			"error", err,
			"retryable", valetudo.IsRetryable(err),
		)
		return nil, fmt.Errorf("%s: %w", cmd.Action, err)
	}

	d.logger.Debug("robot command done", "command", cmd.String(), "result", res)
	return res, nil
}

func (d *Dispatcher) call(ctx context.Context, cmd domain.Command) (valetudo.Result, error) {
	switch cmd.Action {
	case domain.ActionStart:
		return d.robot.StartCleaning(ctx)
	case domain.ActionPause:
		return d.robot.PauseCleaning(ctx)
	case domain.ActionStop:
		return d.robot.StopCleaning(ctx)
	case domain.ActionHome:
		return d.robot.SendHome(ctx)
	case domain.ActionFind:
		return d.robot.Find(ctx)
	case domain.ActionSpot:
		return d.robot.StartSpotCleaning(ctx)
	case domain.ActionTestVolume:
		return d.robot.TestVolume(ctx)
	case domain.ActionSetVolume:
		return d.robot.SetVolume(ctx, cmd.Volume)
	case domain.ActionSetFanSpeed:
		return d.robot.SetFanSpeed(ctx, cmd.Speed)
	case domain.ActionGoTo:
		return d.robot.GoTo(ctx, cmd.X, cmd.Y)
	case domain.ActionStatus:
		return d.robot.Status(ctx)
	case domain.ActionConsumables:
		return d.robot.ConsumableStatus(ctx)
	case domain.ActionVolume:
		return d.robot.Volume(ctx)
	case domain.ActionToken:
		token, err := d.robot.Token(ctx)
		if err != nil {
			return nil, err
		}
		return valetudo.Result{"token": token}, nil
	default:
		return nil, fmt.Errorf("unknown action: %q", cmd.Action)
	}
}
