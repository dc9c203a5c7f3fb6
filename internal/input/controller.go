package input

import (
	"context"
	"time"

	"crowdwatch/internal/config"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/metrics"
	"crowdwatch/internal/pipeline"
	"crowdwatch/pkg/types"
)

// Saver is the manual-save dependency of the controller.
type Saver interface {
	TriggerManualSave() types.SaveResult
}

// Controller polls the two button channels and drives their LEDs. The save
// button triggers a manual record save, the draw button toggles overlay
// rendering.
type Controller struct {
	saveButton Line
	drawButton Line
	saveLED    *Blinker
	drawLED    *Blinker

	saver     Saver
	snapshots *pipeline.SnapshotStore
	metrics   *metrics.Metrics
	cfg       config.InputConfig

	saveDebounce *Debouncer
	drawDebounce *Debouncer

	// last drawing state shown on the LED; only the Run goroutine touches it
	drawShown bool
}

// NewController wires buttons and LEDs to the pipeline.
func NewController(saveButton, drawButton Line, saveLED, drawLED LED,
	saver Saver, snapshots *pipeline.SnapshotStore, m *metrics.Metrics,
	cfg config.InputConfig) *Controller {
	return &Controller{
		saveButton:   saveButton,
		drawButton:   drawButton,
		saveLED:      NewBlinker(saveLED),
		drawLED:      NewBlinker(drawLED),
		saver:        saver,
		snapshots:    snapshots,
		metrics:      m,
		cfg:          cfg,
		saveDebounce: NewDebouncer(cfg.DebounceWindow.Duration),
		drawDebounce: NewDebouncer(cfg.DebounceWindow.Duration),
	}
}

// Run polls the buttons until the context is cancelled. LED goroutines are
// started here and share the controller's lifetime.
func (c *Controller) Run(ctx context.Context) {
	logger.Info("Input", "Button controller started (poll=%v, debounce=%v)",
		c.cfg.PollInterval.Duration, c.cfg.DebounceWindow.Duration)

	go c.saveLED.Run(ctx)
	go c.drawLED.Run(ctx)
	c.drawShown = c.snapshots.DrawingEnabled()
	c.drawLED.SetSteady(c.drawShown)

	ticker := time.NewTicker(c.cfg.PollInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Input", "Button controller stopping")
			return
		case <-ticker.C:
			now := time.Now()
			c.pollSave(now)
			c.pollDraw(now)
		}
	}
}

func (c *Controller) pollSave(now time.Time) {
	active, err := c.saveButton.Read()
	if err != nil {
		logger.Warn("Input", "Save button read failed: %v", err)
		return
	}
	if !c.saveDebounce.Step(active, now) {
		return
	}

	c.metrics.ButtonPresses.Add(1)
	result := c.saver.TriggerManualSave()
	if result.Accepted {
		logger.Info("Input", "Save button: record saved")
		c.saveLED.Blink(c.cfg.BlinkCount, c.cfg.BlinkInterval.Duration)
		return
	}
	logger.Warn("Input", "Save button: save rejected (%s)", result.Reason)
	// One long flash signals rejection.
	c.saveLED.Blink(1, 3*c.cfg.BlinkInterval.Duration)
}

func (c *Controller) pollDraw(now time.Time) {
	if active, err := c.drawButton.Read(); err != nil {
		logger.Warn("Input", "Draw button read failed: %v", err)
	} else if c.drawDebounce.Step(active, now) {
		c.metrics.ButtonPresses.Add(1)
		next := !c.snapshots.DrawingEnabled()
		c.snapshots.SetDrawingEnabled(next)
		logger.Info("Input", "Draw button: overlay drawing %v", next)
	}

	// The config API can flip the flag too; keep the LED in step.
	if cur := c.snapshots.DrawingEnabled(); cur != c.drawShown {
		c.drawShown = cur
		c.drawLED.SetSteady(cur)
	}
}
