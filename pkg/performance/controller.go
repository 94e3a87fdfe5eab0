package performance

import (
	"context"
	"math"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/go-ng/xatomic"
	"github.com/go-ng/xmath"
	"github.com/xaionaro-go/ambientscribe/pkg/thermal"
)

const (
	MinThreads     = 2
	MinContextSize = 500
	MaxContextSize = 3000
)

type Parameters struct {
	ThreadCount int
	ContextSize int
}

// Controller turns thermal states into inference parameters for a fixed
// device tier.
type Controller struct {
	tier   DeviceTier
	spec   TierSpec
	params *Parameters
}

var _ thermal.Listener = (*Controller)(nil)

func NewController(tier DeviceTier) *Controller {
	if tier == DeviceTierUndefined {
		tier = DeviceTierB
	}
	c := &Controller{
		tier: tier,
		spec: tier.Spec(),
	}
	initial := c.Compute(thermal.LevelNormal.Recommendation())
	c.params = &initial
	return c
}

func (c *Controller) Tier() DeviceTier {
	return c.tier
}

func (c *Controller) MaxThreads() int {
	return c.spec.MaxThreads
}

func (c *Controller) Compute(rec thermal.Recommendation) Parameters {
	threads := int(math.Round(float64(rec.Threads) * c.spec.ThreadScale))
	contextSize := int(math.Round(float64(rec.ContextSize) * c.spec.ContextScale))
	return Parameters{
		ThreadCount: clamp(threads, MinThreads, max(MinThreads, c.spec.MaxThreads)),
		ContextSize: clamp(contextSize, MinContextSize, MaxContextSize),
	}
}

func clamp(v, lo, hi int) int {
	return xmath.Min(xmath.Max(v, lo), hi)
}

func (c *Controller) OnThermalStateChange(ctx context.Context, state thermal.State) {
	params := c.Compute(thermal.Recommendation{
		Threads:     state.RecommendedThreads,
		ContextSize: state.RecommendedContextSize,
	})
	prev := xatomic.LoadPointer(&c.params)
	xatomic.StorePointer(&c.params, &params)
	if *prev != params {
		logger.Debugf(ctx, "performance parameters for tier %s and thermal level %s: %#+v -> %#+v", c.tier, state.Level, *prev, params)
	}
}

// Parameters returns the last published value; it never blocks.
func (c *Controller) Parameters() Parameters {
	return *xatomic.LoadPointer(&c.params)
}
