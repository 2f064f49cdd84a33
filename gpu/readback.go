package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// readBuffer copies size bytes of src into a fresh staging buffer,
// submits the copy and blocks until the bytes are CPU-visible. The two
// callers are the geometry pass's seed-counter read and migrate's
// vertex/index readback, both deliberate synchronization points.
func readBuffer(ctx *Context, src *wgpu.Buffer, offset, size uint64) ([]byte, error) {
	alignedSize := size
	if alignedSize%4 != 0 {
		alignedSize += 4 - alignedSize%4
	}

	staging, err := ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ReadbackStaging",
		Size:  alignedSize,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer staging.Release()

	encoder, err := ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("create readback encoder: %w", err)
	}
	encoder.CopyBufferToBuffer(src, offset, staging, 0, alignedSize)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("finish readback encoder: %w", err)
	}
	ctx.Queue.Submit(cmd)

	done := false
	var mapStatus wgpu.BufferMapAsyncStatus
	err = staging.MapAsync(wgpu.MapModeRead, 0, alignedSize, func(status wgpu.BufferMapAsyncStatus) {
		mapStatus = status
		done = true
	})
	if err != nil {
		return nil, fmt.Errorf("map staging buffer: %w", err)
	}
	for !done {
		ctx.Device.Poll(true, nil)
	}
	if mapStatus != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("map staging buffer: status %v", mapStatus)
	}

	data := staging.GetMappedRange(0, uint(alignedSize))
	out := make([]byte, size)
	copy(out, data)
	staging.Unmap()
	return out, nil
}
