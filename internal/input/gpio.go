package input

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"crowdwatch/internal/logger"
)

var (
	hostInitOnce sync.Once
	hostInitErr  error
)

func initHost() error {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	return hostInitErr
}

// gpioLine is a button input on a named GPIO pin.
type gpioLine struct {
	pin       gpio.PinIO
	activeLow bool
}

// OpenButton configures the named pin as a pulled-up input. With activeLow
// the line reads active when pulled to ground.
func OpenButton(name string, activeLow bool) (Line, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure pin %q as input: %w", name, err)
	}
	logger.Debug("Input", "Button on %s (active_low=%v)", name, activeLow)
	return &gpioLine{pin: pin, activeLow: activeLow}, nil
}

func (l *gpioLine) Read() (bool, error) {
	level := l.pin.Read()
	if l.activeLow {
		return level == gpio.Low, nil
	}
	return level == gpio.High, nil
}

// gpioLED is an LED output on a named GPIO pin.
type gpioLED struct {
	pin gpio.PinIO
}

// OpenLED configures the named pin as an output, initially off.
func OpenLED(name string) (LED, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("configure pin %q as output: %w", name, err)
	}
	logger.Debug("Input", "LED on %s", name)
	return &gpioLED{pin: pin}, nil
}

func (l *gpioLED) Set(on bool) error {
	return l.pin.Out(gpio.Level(on))
}
