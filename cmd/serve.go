package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/pointcloud-viewer/dispatch"
	"github.com/aukilabs/pointcloud-viewer/downsample"
	"github.com/aukilabs/pointcloud-viewer/featureflag"
	"github.com/aukilabs/pointcloud-viewer/viewer"
)

// Accepts viewer connections.
type acceptor interface {
	Accept(ctx context.Context) (dispatch.Channel, error)
}

type serveOptions struct {
	Scene     scene
	Strategy  downsample.Strategy
	MaxPoints int

	// The maximum time to wait for the first viewer. Zero means no limit.
	ConnectTimeout time.Duration

	Dispatch     dispatch.Config
	FeatureFlags featureflag.FeatureFlag

	// Set while a viewer is connected. Optional.
	Connected *atomic.Bool
}

// serveViewers sends the scene to each viewer that connects, one at a time,
// until ctx is canceled. It fails when no viewer connects within the connect
// timeout.
func serveViewers(ctx context.Context, l acceptor, opts serveOptions) error {
	first := true

	for {
		acceptCtx := ctx
		cancel := func() {}
		if first && opts.ConnectTimeout > 0 {
			acceptCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		}

		logs.WithTag("first", first).Info("waiting for a viewer to connect")
		ch, err := l.Accept(acceptCtx)
		cancel()

		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return errors.New("no viewer connected").
				WithTag("connect_timeout", opts.ConnectTimeout).
				Wrap(err)
		}
		first = false

		serveViewer(ctx, ch, opts)
	}
}

// serveViewer sends the scene to the viewer behind ch and returns when the
// viewer disconnects or ctx is canceled.
func serveViewer(ctx context.Context, ch dispatch.Channel, opts serveOptions) {
	d := dispatch.NewDispatcher(ch, opts.Dispatch)
	defer d.Close()

	if opts.Connected != nil {
		opts.Connected.Store(true)
		defer opts.Connected.Store(false)
	}

	v := &viewer.Viewer{
		Commander: d,
		Strategy:  opts.Strategy,
		MaxPoints: opts.MaxPoints,
	}

	start := time.Now()
	if err := opts.Scene.send(ctx, v, opts.FeatureFlags); err != nil {
		logs.Warn(errors.New("sending scene failed").Wrap(err))
		return
	}
	logs.WithTag("duration", time.Since(start)).Info("scene sent")

	select {
	case <-d.Done():
		logs.WithTag("reason", d.Err().Error()).Info("viewer left")

	case <-ctx.Done():
	}
}
