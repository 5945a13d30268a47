package pcksafe

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
)

// Signals for conversion events.
var (
	SignalDecodeStart    = capitan.NewSignal("pcksafe.decode.start", "Sandboxed decode beginning")
	SignalDecodeComplete = capitan.NewSignal("pcksafe.decode.complete", "Sandboxed decode finished")
	SignalEncodeComplete = capitan.NewSignal("pcksafe.encode.complete", "Encode finished")
)

// Keys for typed event data.
var (
	KeyPath     = capitan.NewStringKey("path")
	KeyOwner    = capitan.NewStringKey("owner")
	KeySize     = capitan.NewIntKey("size")
	KeyDuration = capitan.NewDurationKey("duration")
	KeyError    = capitan.NewErrorKey("error")
)

func emitDecodeStart(ctx context.Context, path, owner string) {
	capitan.Emit(ctx, SignalDecodeStart,
		KeyPath.Field(path),
		KeyOwner.Field(owner),
	)
}

func emitDecodeComplete(ctx context.Context, path, owner string, size int, duration time.Duration, err error) {
	fields := []capitan.Field{
		KeyPath.Field(path),
		KeyOwner.Field(owner),
		KeySize.Field(size),
		KeyDuration.Field(duration),
	}
	if err != nil {
		fields = append(fields, KeyError.Field(err))
		capitan.Error(ctx, SignalDecodeComplete, fields...)
	} else {
		capitan.Emit(ctx, SignalDecodeComplete, fields...)
	}
}

func emitEncodeComplete(ctx context.Context, size int, duration time.Duration, err error) {
	fields := []capitan.Field{
		KeySize.Field(size),
		KeyDuration.Field(duration),
	}
	if err != nil {
		fields = append(fields, KeyError.Field(err))
		capitan.Error(ctx, SignalEncodeComplete, fields...)
	} else {
		capitan.Emit(ctx, SignalEncodeComplete, fields...)
	}
}
