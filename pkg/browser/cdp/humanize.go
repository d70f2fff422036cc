package cdp

import (
	"context"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/pkg/browser"
)

// Humanize performs a short randomized burst of mouse movement and scrolling
// to make the tab's activity look organic. It is best-effort and lossy:
// individual actions that fail are skipped, and an interrupted run is not an
// error. Only a dead transport at the start of the run is reported.
func (t *Tab) Humanize(ctx context.Context, profile browser.HumanizeProfile) error {
	profile = profile.Normalize()

	runCtx, cancel := t.opContext(ctx, t.networkCfg.OperationTimeout)
	defer cancel()

	var vp viewportSize
	if err := chromedp.Run(runCtx, chromedp.Evaluate(viewportScript, &vp)); err != nil {
		return browser.Mapped(err, "failed to probe viewport").WithSession(t.id)
	}
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = viewportSize{Width: 1280, Height: 800}
	}

	seed := profile.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	actions := profile.MinActions
	if profile.MaxActions > profile.MinActions {
		actions += rng.Intn(profile.MaxActions - profile.MinActions + 1)
	}
	t.logger.Debug("Humanizing tab.",
		zap.Int("actions", actions),
		zap.Int64("seed", seed))

	pos := point{
		X: float64(vp.Width) * (0.25 + rng.Float64()*0.5),
		Y: float64(vp.Height) * (0.25 + rng.Float64()*0.5),
	}

	for i := 0; i < actions; i++ {
		if runCtx.Err() != nil {
			return nil
		}

		var err error
		if rng.Float64() < 0.6 {
			pos, err = t.humanMove(runCtx, rng, pos, vp)
		} else {
			err = t.humanScroll(runCtx, rng, pos, profile.MaxScroll)
		}
		if err != nil {
			t.logger.Debug("Humanize action skipped.", zap.Error(err))
		}

		if err := t.humanPause(runCtx, rng, profile.MinPause, profile.MaxPause); err != nil {
			return nil
		}
	}
	return nil
}

type point struct {
	X, Y float64
}

// humanMove glides the cursor to a random point in several jittered steps.
func (t *Tab) humanMove(ctx context.Context, rng *rand.Rand, from point, vp viewportSize) (point, error) {
	to := point{
		X: rng.Float64() * float64(vp.Width),
		Y: rng.Float64() * float64(vp.Height),
	}

	steps := 4 + rng.Intn(5)
	for s := 1; s <= steps; s++ {
		frac := float64(s) / float64(steps)
		p := &input.DispatchMouseEventParams{
			Type: input.MouseMoved,
			X:    from.X + (to.X-from.X)*frac + rng.Float64()*4 - 2,
			Y:    from.Y + (to.Y-from.Y)*frac + rng.Float64()*4 - 2,
		}
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return p.Do(ctx)
		}))
		if err != nil {
			return from, err
		}
	}
	return to, nil
}

// humanScroll dispatches a single wheel event at the cursor position.
func (t *Tab) humanScroll(ctx context.Context, rng *rand.Rand, at point, maxScroll int) error {
	delta := float64(rng.Intn(maxScroll + 1))
	if rng.Float64() < 0.3 {
		delta = -delta
	}
	p := &input.DispatchMouseEventParams{
		Type:   input.MouseWheel,
		X:      at.X,
		Y:      at.Y,
		DeltaY: delta,
	}
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return p.Do(ctx)
	}))
}

// humanPause sleeps a random interval between actions.
func (t *Tab) humanPause(ctx context.Context, rng *rand.Rand, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rng.Int63n(int64(max - min + 1)))
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
