package gpu

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/prism3d/prism"
)

// Context carries the shared GPU handles every pass needs. Passed
// explicitly to each entry point; no package-level device state exists.
type Context struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue
	Logger prism.Logger

	// Drawable size. Updated on resize, after which every pass sized
	// to it must be marked dirty.
	Width  uint32
	Height uint32

	// Name of the pass currently recording, for log context.
	CurrentPass string
}

func NewContext(device *wgpu.Device, queue *wgpu.Queue, logger prism.Logger, width, height uint32) *Context {
	if logger == nil {
		logger = prism.NewNopLogger()
	}
	return &Context{
		Device: device,
		Queue:  queue,
		Logger: logger,
		Width:  width,
		Height: height,
	}
}

// Pass lifecycle: built lazily on first render, marked dirty on
// configuration changes, rebuilt on the next render after that.
type passState uint8

const (
	passUninitialized passState = iota
	passDirty
	passInitialized
)
