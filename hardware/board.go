package hardware

import (
	"fmt"
	"log/slog"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"
)

// Board drives output pins and reports button edges. Edge handlers run on the
// board's own goroutine.
type Board interface {
	SetOutput(pin int, high bool) error
	WatchButton(pin int, rising bool, fn func()) error
	Close() error
}

// GPIOBoard is a Board on a Linux GPIO character device.
type GPIOBoard struct {
	chip *gpiod.Chip

	mu      sync.Mutex
	outputs map[int]*gpiod.Line
	inputs  []*gpiod.Line
}

func OpenGPIO(chipName string) (*GPIOBoard, error) {
	chip, err := gpiod.NewChip(chipName, gpiod.WithConsumer("meshswitch"))
	if err != nil {
		return nil, fmt.Errorf("open GPIO chip %s: %w", chipName, err)
	}
	slog.Info("GPIO chip opened", "chip", chipName, "lines", chip.Lines())
	return &GPIOBoard{chip: chip, outputs: make(map[int]*gpiod.Line)}, nil
}

func level(high bool) int {
	if high {
		return 1
	}
	return 0
}

func (b *GPIOBoard) SetOutput(pin int, high bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if line, ok := b.outputs[pin]; ok {
		return line.SetValue(level(high))
	}

	line, err := b.chip.RequestLine(pin, gpiod.AsOutput(level(high)))
	if err != nil {
		return fmt.Errorf("request output line %d: %w", pin, err)
	}
	b.outputs[pin] = line
	return nil
}

// WatchButton calls fn on every rising (or falling) edge of pin. Falling-edge
// buttons get a pull-up and rising-edge buttons a pull-down.
func (b *GPIOBoard) WatchButton(pin int, rising bool, fn func()) error {
	opts := []gpiod.LineReqOption{
		gpiod.AsInput,
		gpiod.WithEventHandler(func(gpiod.LineEvent) { fn() }),
	}
	if rising {
		opts = append(opts, gpiod.WithRisingEdge, gpiod.WithPullDown)
	} else {
		opts = append(opts, gpiod.WithFallingEdge, gpiod.WithPullUp)
	}

	line, err := b.chip.RequestLine(pin, opts...)
	if err != nil {
		return fmt.Errorf("request input line %d: %w", pin, err)
	}

	b.mu.Lock()
	b.inputs = append(b.inputs, line)
	b.mu.Unlock()
	return nil
}

func (b *GPIOBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for pin, line := range b.outputs {
		if err := line.Close(); err != nil {
			slog.Warn("Failed to release output line", "pin", pin, "error", err)
		}
	}
	for _, line := range b.inputs {
		line.Close()
	}
	b.outputs = map[int]*gpiod.Line{}
	b.inputs = nil
	return b.chip.Close()
}

// MemoryBoard keeps pin levels in memory. It stands in for real GPIO on hosts
// without a chip and in tests.
type MemoryBoard struct {
	mu       sync.Mutex
	levels   map[int]bool
	writes   map[int]int
	handlers map[int]func()
}

func NewMemoryBoard() *MemoryBoard {
	return &MemoryBoard{levels: map[int]bool{}, writes: map[int]int{}, handlers: map[int]func(){}}
}

func (b *MemoryBoard) SetOutput(pin int, high bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.levels[pin] = high
	b.writes[pin]++
	return nil
}

func (b *MemoryBoard) WatchButton(pin int, _ bool, fn func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[pin] = fn
	return nil
}

func (b *MemoryBoard) Close() error {
	return nil
}

// Level returns the last value written to pin and whether it was ever written.
func (b *MemoryBoard) Level(pin int) (high, written bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levels[pin], b.writes[pin] > 0
}

func (b *MemoryBoard) Writes(pin int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes[pin]
}

// Press simulates an edge on a watched pin. It reports false when nothing watches it.
func (b *MemoryBoard) Press(pin int) bool {
	b.mu.Lock()
	fn := b.handlers[pin]
	b.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}
