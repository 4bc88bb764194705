package stealth

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// timingTuple is (mean, stddev, min, max) in milliseconds for a
// Gaussian-sampled, clamped duration.
type timingTuple struct {
	Mean, StdDev, Min, Max float64
}

func (t timingTuple) sample(rng *rand.Rand) time.Duration {
	v := rng.NormFloat64()*t.StdDev + t.Mean
	if v < t.Min {
		v = t.Min
	}
	if v > t.Max {
		v = t.Max
	}
	return time.Duration(v) * time.Millisecond
}

// TimingProfile groups the four sampled delay kinds for one intensity
// level, per the human-behavior-research-derived defaults.
type TimingProfile struct {
	ClickHesitation timingTuple
	MouseTravel     timingTuple
	MicroDelay      timingTuple
	ScrollPause     timingTuple
}

var timingProfiles = map[Intensity]TimingProfile{
	IntensityConservative: {
		ClickHesitation: timingTuple{250, 100, 100, 500},
		MouseTravel:     timingTuple{300, 150, 100, 800},
		MicroDelay:      timingTuple{50, 30, 10, 150},
		ScrollPause:     timingTuple{500, 300, 200, 1500},
	},
	IntensityModerate: {
		ClickHesitation: timingTuple{150, 75, 50, 400},
		MouseTravel:     timingTuple{200, 100, 50, 600},
		MicroDelay:      timingTuple{30, 20, 5, 100},
		ScrollPause:     timingTuple{300, 200, 100, 1000},
	},
	IntensityAggressive: {
		ClickHesitation: timingTuple{75, 40, 20, 200},
		MouseTravel:     timingTuple{100, 50, 20, 300},
		MicroDelay:      timingTuple{15, 10, 2, 50},
		ScrollPause:     timingTuple{100, 75, 30, 400},
	},
}

// Point is a 2D viewport coordinate.
type Point struct{ X, Y float64 }

// MouseDriver is the narrow surface the behavior emulator needs from a
// page to move and click, satisfied by the driver package's Page.
type MouseDriver interface {
	MouseMove(x, y float64) error
	MouseClick(x, y float64) error
	Click(cssSelector string) error
	ScrollBy(dx, dy float64) error
}

// Emulator simulates human interaction timing and movement (component
// F): click hesitation, Bézier mouse travel, segmented scrolling, and
// micro-delays between rapid actions.
type Emulator struct {
	rng     *rand.Rand
	profile TimingProfile
}

// NewEmulator wires an emulator with an explicit RNG (injected, not
// global) for reproducible test runs.
func NewEmulator(intensity Intensity, seed int64) *Emulator {
	profile, ok := timingProfiles[intensity]
	if !ok {
		profile = timingProfiles[IntensityModerate]
	}
	return &Emulator{rng: rand.New(rand.NewSource(seed)), profile: profile}
}

// ClickWithDelay waits a sampled hesitation duration, then clicks
// selector.
func (e *Emulator) ClickWithDelay(ctx context.Context, drv MouseDriver, cssSelector string) error {
	if err := sleepCtx(ctx, e.profile.ClickHesitation.sample(e.rng)); err != nil {
		return err
	}
	return drv.Click(cssSelector)
}

// MoveMouseNaturally moves from `from` to `to` along a Bézier ease-in-out
// curve (3t² − 2t³), sampled at ~60 steps per second over a Gaussian
// travel duration — explicitly not a linear interpolation.
func (e *Emulator) MoveMouseNaturally(ctx context.Context, drv MouseDriver, from, to Point) error {
	duration := e.profile.MouseTravel.sample(e.rng)
	if duration <= 0 {
		return drv.MouseMove(to.X, to.Y)
	}

	const stepsPerSecond = 60
	steps := int(duration.Seconds() * stepsPerSecond)
	if steps < 1 {
		steps = 1
	}
	interval := duration / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		t := float64(i) / float64(steps)
		eased := 3*t*t - 2*t*t*t
		x := from.X + (to.X-from.X)*eased
		y := from.Y + (to.Y-from.Y)*eased
		if err := drv.MouseMove(x, y); err != nil {
			return err
		}
		if i < steps {
			if err := sleepCtx(ctx, interval); err != nil {
				return err
			}
		}
	}
	return nil
}

// ScrollNaturally breaks a scroll of totalPixels into 2-4 segments with
// variable per-segment speed and a reading-pause sample between
// segments.
func (e *Emulator) ScrollNaturally(ctx context.Context, drv MouseDriver, totalPixels float64) error {
	segments := 2 + e.rng.Intn(3) // 2..4
	remaining := totalPixels
	for i := 0; i < segments; i++ {
		segFraction := 1.0 / float64(segments-i)
		portion := remaining * segFraction * (0.8 + 0.4*e.rng.Float64()) // variable speed
		if i == segments-1 {
			portion = remaining
		}
		if err := drv.ScrollBy(0, portion); err != nil {
			return err
		}
		remaining -= portion
		if i < segments-1 {
			if err := sleepCtx(ctx, e.profile.ScrollPause.sample(e.rng)); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddMicroDelay sleeps a short sampled duration between rapid actions.
func (e *Emulator) AddMicroDelay(ctx context.Context) error {
	return sleepCtx(ctx, e.profile.MicroDelay.sample(e.rng))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bezierEase returns the cubic ease-in-out value 3t² − 2t³ for t in [0, 1].
func bezierEase(t float64) float64 {
	return 3*t*t - 2*math.Pow(t, 3)
}
