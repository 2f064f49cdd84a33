package gpu

import (
	"fmt"
	"image"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/prism3d/prism/core"
)

// FrameUniformSize is the per-frame camera block shared by the geometry
// and debug passes: view, projection, camera position, params.
const FrameUniformSize = 160

// Manager owns the GPU resources shared across passes: uploaded meshes,
// the frame uniform, and the reflection arena (records, seed counter,
// indirect dispatch args). Passes hold a *Manager and never create
// shared buffers themselves.
type Manager struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue

	meshes   map[core.AssetId]*MeshBuffers
	textures map[core.AssetId]*textureEntry

	FrameBuf       *wgpu.Buffer
	RayRecordsBuf  *wgpu.Buffer
	SeedCounterBuf *wgpu.Buffer
	SeedArgsBuf    *wgpu.Buffer

	rayCapacity uint32
}

type textureEntry struct {
	tex  *wgpu.Texture
	view *wgpu.TextureView
}

func NewManager(device *wgpu.Device, queue *wgpu.Queue) *Manager {
	return &Manager{
		Device:   device,
		Queue:    queue,
		meshes:   make(map[core.AssetId]*MeshBuffers),
		textures: make(map[core.AssetId]*textureEntry),
	}
}

// ensureBuffer creates or grows *buf to fit data+headroom and uploads
// data. Reports whether the buffer was (re)created, in which case bind
// groups referencing it must be rebuilt.
func (m *Manager) ensureBuffer(name string, buf **wgpu.Buffer, data []byte, usage wgpu.BufferUsage, headroom int) (bool, error) {
	neededSize := uint64(len(data) + headroom)
	if neededSize%4 != 0 {
		neededSize += 4 - (neededSize % 4)
	}

	recreated := false
	current := *buf
	if current == nil || current.GetSize() < neededSize {
		if current != nil {
			current.Release()
		}

		newBuf, err := m.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label:            name,
			Size:             neededSize,
			Usage:            usage | wgpu.BufferUsageCopyDst,
			MappedAtCreation: false,
		})
		if err != nil {
			return false, fmt.Errorf("create %s (%d bytes): %w", name, neededSize, err)
		}
		*buf = newBuf
		recreated = true
	}
	if len(data) > 0 {
		m.Queue.WriteBuffer(*buf, 0, data)
	}
	return recreated, nil
}

// EnsureMesh uploads a mesh once and returns its GPU buffers. Later
// calls with the same id return the cached upload; re-registering an
// asset id with different data requires ReleaseMesh first.
func (m *Manager) EnsureMesh(id core.AssetId, mesh *core.MeshData) (*MeshBuffers, error) {
	if buf, ok := m.meshes[id]; ok {
		return buf, nil
	}
	if err := mesh.Validate(); err != nil {
		return nil, fmt.Errorf("mesh %s: %w", id, err)
	}

	center, radius := mesh.BoundingSphere()
	buf := &MeshBuffers{
		VertexCount: uint32(mesh.VertexCount()),
		IndexCount:  uint32(len(mesh.Indices)),
		Center:      center,
		Radius:      radius,
	}

	// CopySrc lets migration read vertices back for scene flattening.
	_, err := m.ensureBuffer(fmt.Sprintf("MeshVtx %s", id), &buf.Vertex, EncodeVertices(mesh),
		wgpu.BufferUsageVertex|wgpu.BufferUsageCopySrc, 0)
	if err != nil {
		return nil, err
	}
	_, err = m.ensureBuffer(fmt.Sprintf("MeshIdx %s", id), &buf.Index, EncodeIndices(mesh),
		wgpu.BufferUsageIndex|wgpu.BufferUsageCopySrc, 0)
	if err != nil {
		buf.Release()
		return nil, err
	}

	m.meshes[id] = buf
	return buf, nil
}

// Mesh returns the uploaded buffers for id, or nil if never uploaded.
func (m *Manager) Mesh(id core.AssetId) *MeshBuffers {
	return m.meshes[id]
}

func (m *Manager) ReleaseMesh(id core.AssetId) {
	if buf, ok := m.meshes[id]; ok {
		buf.Release()
		delete(m.meshes, id)
	}
}

// EnsureTexture uploads an RGBA image once as an sRGB-less 2D texture
// and returns its view. Texture assets are immutable, so the cache
// never invalidates.
func (m *Manager) EnsureTexture(id core.AssetId, img *image.RGBA) (*wgpu.TextureView, error) {
	if entry, ok := m.textures[id]; ok {
		return entry.view, nil
	}

	w := img.Rect.Dx()
	h := img.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("texture %s is empty", id)
	}

	tex, err := m.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         fmt.Sprintf("Tex %s", id),
		Size:          wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatRGBA8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("texture %s: %w", id, err)
	}

	err = m.Queue.WriteTexture(
		tex.AsImageCopy(),
		tightRGBA(img),
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(4 * w),
			RowsPerImage: uint32(h),
		},
		&wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
	)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("upload texture %s: %w", id, err)
	}

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, err
	}

	m.textures[id] = &textureEntry{tex: tex, view: view}
	return view, nil
}

// TextureView returns the uploaded view for id, or nil if never uploaded.
func (m *Manager) TextureView(id core.AssetId) *wgpu.TextureView {
	if entry, ok := m.textures[id]; ok {
		return entry.view
	}
	return nil
}

// tightRGBA returns pixel rows with no stride padding, copying only
// when the source stride requires it.
func tightRGBA(img *image.RGBA) []byte {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	if img.Stride == 4*w && len(img.Pix) >= 4*w*h {
		return img.Pix[:4*w*h]
	}
	out := make([]byte, 4*w*h)
	for y := 0; y < h; y++ {
		copy(out[y*4*w:(y+1)*4*w], img.Pix[y*img.Stride:y*img.Stride+4*w])
	}
	return out
}

// EnsureFrameBuf creates the frame uniform buffer if UpdateFrame has
// not run yet, so bind groups can reference it before the first frame.
func (m *Manager) EnsureFrameBuf() error {
	_, err := m.ensureBuffer("FrameUniform", &m.FrameBuf, nil, wgpu.BufferUsageUniform, FrameUniformSize)
	return err
}

// UpdateFrame uploads the per-frame camera block. The projection is
// converted to WebGPU depth range here so callers deal only in the
// usual GL-style matrices mathgl produces.
func (m *Manager) UpdateFrame(view, proj mgl32.Mat4, camPos mgl32.Vec3, roughnessThreshold float32) error {
	data := make([]byte, FrameUniformSize)
	putMat4(data[0:], view)
	putMat4(data[64:], DepthRange01(proj))
	putVec3Padded(data[128:], camPos)
	putVec4(data[144:], mgl32.Vec4{roughnessThreshold, 0, 0, 0})
	_, err := m.ensureBuffer("FrameUniform", &m.FrameBuf, data, wgpu.BufferUsageUniform, 0)
	return err
}

// EnsureRayBuffers sizes the reflection arena for the drawable area:
// RayRecordsPerPixel records per pixel, a 16-byte seed counter, and the
// indirect dispatch args the seed-args kernel fills.
func (m *Manager) EnsureRayBuffers(width, height uint32) error {
	capacity := width * height * RayRecordsPerPixel
	if capacity == 0 {
		return fmt.Errorf("ray arena needs a non-empty drawable, got %dx%d", width, height)
	}
	if m.RayRecordsBuf != nil && capacity == m.rayCapacity {
		return nil
	}

	_, err := m.ensureBuffer("RayRecords", &m.RayRecordsBuf, nil,
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc, int(capacity)*RayRecordSize)
	if err != nil {
		return err
	}
	_, err = m.ensureBuffer("SeedCounter", &m.SeedCounterBuf, make([]byte, SeedCounterSize),
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc, 0)
	if err != nil {
		return err
	}
	_, err = m.ensureBuffer("SeedArgs", &m.SeedArgsBuf, make([]byte, SeedArgsSize),
		wgpu.BufferUsageStorage|wgpu.BufferUsageIndirect, 0)
	if err != nil {
		return err
	}

	m.rayCapacity = capacity
	return nil
}

// RayCapacity is the record count the arena was last sized for.
func (m *Manager) RayCapacity() uint32 {
	return m.rayCapacity
}

// ResetSeedCounter zeroes the atomic seed counter. Must run before the
// geometry pass of every frame; the arena itself is never cleared, only
// reindexed.
func (m *Manager) ResetSeedCounter() {
	m.Queue.WriteBuffer(m.SeedCounterBuf, 0, make([]byte, SeedCounterSize))
}

func (m *Manager) Release() {
	for id, buf := range m.meshes {
		buf.Release()
		delete(m.meshes, id)
	}
	for id, entry := range m.textures {
		entry.view.Release()
		entry.tex.Release()
		delete(m.textures, id)
	}
	for _, buf := range []**wgpu.Buffer{&m.FrameBuf, &m.RayRecordsBuf, &m.SeedCounterBuf, &m.SeedArgsBuf} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
}

// DepthRange01 rescales a GL-style projection (clip z in [-1,1]) to the
// [0,1] depth range WebGPU rasterizes with.
func DepthRange01(proj mgl32.Mat4) mgl32.Mat4 {
	conv := mgl32.Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 0.5, 0,
		0, 0, 0.5, 1,
	}
	return conv.Mul4(proj)
}
