package application

import (
	"context"

	"valetudo-home/internal/infra/valetudo"
)

// Robot is the set of robot operations the application drives.
// *valetudo.Client implements it.
type Robot interface {
	Token(ctx context.Context) (string, error)
	Status(ctx context.Context) (valetudo.Result, error)
	ConsumableStatus(ctx context.Context) (valetudo.Result, error)
	Volume(ctx context.Context) (valetudo.Result, error)
	SetVolume(ctx context.Context, volume int) (valetudo.Result, error)
	TestVolume(ctx context.Context) (valetudo.Result, error)
	Find(ctx context.Context) (valetudo.Result, error)
	StartCleaning(ctx context.Context) (valetudo.Result, error)
	PauseCleaning(ctx context.Context) (valetudo.Result, error)
	StopCleaning(ctx context.Context) (valetudo.Result, error)
	SendHome(ctx context.Context) (valetudo.Result, error)
	GoTo(ctx context.Context, x, y int) (valetudo.Result, error)
	SetFanSpeed(ctx context.Context, speed int) (valetudo.Result, error)
	StartSpotCleaning(ctx context.Context) (valetudo.Result, error)
}

var _ Robot = (*valetudo.Client)(nil)
