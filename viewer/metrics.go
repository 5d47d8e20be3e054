package viewer

import (
	"github.com/aukilabs/pointcloud-viewer/downsample"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	strategyLabel = "strategy"
	stageLabel    = "stage"
)

var downsamplePoints = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "viewer_downsample_points",
	Help: "The number of points going in and out of downsampling.",
}, []string{
	strategyLabel,
	stageLabel,
})

func instrumentDownsample(s downsample.Strategy, in, out int) {
	downsamplePoints.
		With(prometheus.Labels{
			strategyLabel: s.Kind.String(),
			stageLabel:    "input",
		}).
		Add(float64(in))

	downsamplePoints.
		With(prometheus.Labels{
			strategyLabel: s.Kind.String(),
			stageLabel:    "output",
		}).
		Add(float64(out))
}
