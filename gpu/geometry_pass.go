package gpu

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/prism3d/prism/core"
	"github.com/prism3d/prism/shaders"
)

// AssetSource resolves the asset ids renderables carry. Implemented by
// the assets server; the interface keeps pass tests free of it.
type AssetSource interface {
	Mesh(id core.AssetId) (*core.MeshData, bool)
	Material(id core.AssetId) (*core.Material, bool)
	Texture(id core.AssetId) (*image.RGBA, bool)
}

// ObjectUniformSize is the per-draw block: model, normal matrix,
// albedo, pbr params. Lives in uniformSlotSize dynamic-offset slots.
const ObjectUniformSize = 160

// GeometryPass rasterizes mesh renderables into the G-buffer and seeds
// reflection rays for smooth surfaces. Its command stream ends with the
// one-thread kernel that snapshots the seed counter into the indirect
// dispatch args, so the ray pass can launch without a CPU round trip.
type GeometryPass struct {
	mgr    *Manager
	assets AssetSource
	state  passState

	proj   mgl32.Mat4
	camPos mgl32.Vec3

	pipeline     *wgpu.RenderPipeline
	seedArgsPipe *wgpu.ComputePipeline

	frameBGL    *wgpu.BindGroupLayout
	objectBGL   *wgpu.BindGroupLayout
	materialBGL *wgpu.BindGroupLayout
	seedArgsBGL *wgpu.BindGroupLayout

	frameBG    *wgpu.BindGroup
	seedArgsBG *wgpu.BindGroup

	objectBuf *wgpu.Buffer
	objectBG  *wgpu.BindGroup

	sampler           *wgpu.Sampler
	fallbackAlbedo    *wgpu.Texture
	fallbackNormal    *wgpu.Texture
	fallbackAlbedoVw  *wgpu.TextureView
	fallbackNormalVw  *wgpu.TextureView
	materialBindings  map[core.AssetId]*materialBinding

	positionTex *wgpu.Texture
	normalTex   *wgpu.Texture
	materialTex *wgpu.Texture
	rayIndexTex *wgpu.Texture
	depthTex    *wgpu.Texture

	positionView *wgpu.TextureView
	normalView   *wgpu.TextureView
	materialView *wgpu.TextureView
	rayIndexView *wgpu.TextureView
	depthView    *wgpu.TextureView

	lastSeedCount int
}

type materialBinding struct {
	bg        *wgpu.BindGroup
	hasAlbedo bool
	hasNormal bool
}

func NewGeometryPass(mgr *Manager, assets AssetSource) *GeometryPass {
	return &GeometryPass{
		mgr:              mgr,
		assets:           assets,
		proj:             mgl32.Ident4(),
		materialBindings: make(map[core.AssetId]*materialBinding),
	}
}

// SetProjection sets the camera projection in the usual GL clip range;
// the depth range conversion happens at upload.
func (p *GeometryPass) SetProjection(proj mgl32.Mat4) {
	p.proj = proj
}

// MarkDirty forces a rebuild on the next render; call after resize or
// after the shared ray buffers were recreated.
func (p *GeometryPass) MarkDirty() {
	if p.state == passInitialized {
		p.state = passDirty
	}
}

// CameraPosition is the eye position recovered from the last rendered
// view matrix; the lighting pass shades with it.
func (p *GeometryPass) CameraPosition() mgl32.Vec3 {
	return p.camPos
}

// GBufferViews returns the attachment views the lighting pass reads, in
// its binding order: position, normal, material, ray index.
func (p *GeometryPass) GBufferViews() (position, normal, material, rayIndex *wgpu.TextureView) {
	return p.positionView, p.normalView, p.materialView, p.rayIndexView
}

// DepthView is the scene depth buffer, shared with the wireframe pass.
func (p *GeometryPass) DepthView() *wgpu.TextureView {
	return p.depthView
}

// SeedCount is the number of reflection rays seeded last frame, already
// clamped to the arena capacity.
func (p *GeometryPass) SeedCount() int {
	return p.lastSeedCount
}

func (p *GeometryPass) build(ctx *Context) error {
	p.destroyResources()

	if err := p.mgr.EnsureFrameBuf(); err != nil {
		return err
	}
	if err := p.mgr.EnsureRayBuffers(ctx.Width, ctx.Height); err != nil {
		return err
	}

	shaderModule, err := ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "GBufferShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.GBufferWGSL},
	})
	if err != nil {
		return fmt.Errorf("gbuffer shader: %w", err)
	}
	defer shaderModule.Release()

	p.frameBGL, err = ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "GBufferFrameBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform, MinBindingSize: FrameUniformSize},
			},
			{
				Binding:    3,
				Visibility: wgpu.ShaderStageFragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
			},
			{
				Binding:    4,
				Visibility: wgpu.ShaderStageFragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
			},
		},
	})
	if err != nil {
		return err
	}

	p.objectBGL, err = ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "GBufferObjectBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: true,
					MinBindingSize:   ObjectUniformSize,
				},
			},
		},
	})
	if err != nil {
		return err
	}

	p.materialBGL, err = ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "GBufferMaterialBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageFragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		return err
	}

	pipelineLayout, err := ctx.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.frameBGL, p.objectBGL, p.materialBGL},
	})
	if err != nil {
		return err
	}
	defer pipelineLayout.Release()

	p.pipeline, err = ctx.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "GBufferPipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     shaderModule,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{
				{
					ArrayStride: VertexStride,
					StepMode:    wgpu.VertexStepModeVertex,
					Attributes: []wgpu.VertexAttribute{
						{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
						{Format: wgpu.VertexFormatFloat32x3, Offset: vertexNormalOffset, ShaderLocation: 1},
						{Format: wgpu.VertexFormatFloat32x3, Offset: vertexTangentOffset, ShaderLocation: 2},
						{Format: wgpu.VertexFormatFloat32x2, Offset: vertexUVOffset, ShaderLocation: 3},
					},
				},
			},
		},
		Fragment: &wgpu.FragmentState{
			Module:     shaderModule,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{Format: wgpu.TextureFormatRGBA32Float, WriteMask: wgpu.ColorWriteMaskAll},
				{Format: wgpu.TextureFormatRGBA16Float, WriteMask: wgpu.ColorWriteMaskAll},
				{Format: wgpu.TextureFormatRGBA8Unorm, WriteMask: wgpu.ColorWriteMaskAll},
				{Format: wgpu.TextureFormatR32Sint, WriteMask: wgpu.ColorWriteMaskAll},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeBack,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth32Float,
			DepthWriteEnabled: true,
			DepthCompare:      wgpu.CompareFunctionLess,
			StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("gbuffer pipeline: %w", err)
	}

	if err := p.buildGBuffer(ctx); err != nil {
		return err
	}
	if err := p.buildSeedArgs(ctx); err != nil {
		return err
	}
	if err := p.buildMaterialDefaults(ctx); err != nil {
		return err
	}

	p.frameBG, err = ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "GBufferFrameBG",
		Layout: p.frameBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: p.mgr.FrameBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: p.mgr.RayRecordsBuf, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: p.mgr.SeedCounterBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return err
	}

	p.state = passInitialized
	ctx.Logger.Debugf("geometry pass built, %dx%d G-buffer, %d ray records",
		ctx.Width, ctx.Height, p.mgr.RayCapacity())
	return nil
}

func (p *GeometryPass) buildGBuffer(ctx *Context) error {
	usage := wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding
	size := wgpu.Extent3D{Width: ctx.Width, Height: ctx.Height, DepthOrArrayLayers: 1}

	attachments := []struct {
		label  string
		format wgpu.TextureFormat
		tex    **wgpu.Texture
		view   **wgpu.TextureView
	}{
		{"GBuffer Position", wgpu.TextureFormatRGBA32Float, &p.positionTex, &p.positionView},
		{"GBuffer Normal", wgpu.TextureFormatRGBA16Float, &p.normalTex, &p.normalView},
		{"GBuffer Material", wgpu.TextureFormatRGBA8Unorm, &p.materialTex, &p.materialView},
		{"GBuffer RayIndex", wgpu.TextureFormatR32Sint, &p.rayIndexTex, &p.rayIndexView},
		{"GBuffer Depth", wgpu.TextureFormatDepth32Float, &p.depthTex, &p.depthView},
	}
	for _, a := range attachments {
		tex, err := ctx.Device.CreateTexture(&wgpu.TextureDescriptor{
			Label:         a.label,
			Size:          size,
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     wgpu.TextureDimension2D,
			Format:        a.format,
			Usage:         usage,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", a.label, err)
		}
		view, err := tex.CreateView(nil)
		if err != nil {
			tex.Release()
			return err
		}
		*a.tex = tex
		*a.view = view
	}
	return nil
}

func (p *GeometryPass) buildSeedArgs(ctx *Context) error {
	shaderModule, err := ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "SeedArgsShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.SeedArgsWGSL},
	})
	if err != nil {
		return fmt.Errorf("seed args shader: %w", err)
	}
	defer shaderModule.Release()

	p.seedArgsBGL, err = ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "SeedArgsBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    3,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
			{
				Binding:    4,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
			},
			{
				Binding:    5,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
			},
		},
	})
	if err != nil {
		return err
	}

	layout, err := ctx.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.seedArgsBGL},
	})
	if err != nil {
		return err
	}
	defer layout.Release()

	p.seedArgsPipe, err = ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   "SeedArgsPipeline",
		Layout:  layout,
		Compute: wgpu.ProgrammableStageDescriptor{Module: shaderModule, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("seed args pipeline: %w", err)
	}

	p.seedArgsBG, err = ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "SeedArgsBG",
		Layout: p.seedArgsBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 3, Buffer: p.mgr.RayRecordsBuf, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: p.mgr.SeedCounterBuf, Size: wgpu.WholeSize},
			{Binding: 5, Buffer: p.mgr.SeedArgsBuf, Size: wgpu.WholeSize},
		},
	})
	return err
}

// buildMaterialDefaults creates the sampler and the 1x1 fallback
// textures bound for untextured materials.
func (p *GeometryPass) buildMaterialDefaults(ctx *Context) error {
	var err error
	p.sampler, err = ctx.Device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "MaterialSampler",
		AddressModeU:  wgpu.AddressModeRepeat,
		AddressModeV:  wgpu.AddressModeRepeat,
		AddressModeW:  wgpu.AddressModeRepeat,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return err
	}

	make1x1 := func(label string, pixel [4]byte) (*wgpu.Texture, *wgpu.TextureView, error) {
		tex, err := ctx.Device.CreateTexture(&wgpu.TextureDescriptor{
			Label:         label,
			Size:          wgpu.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     wgpu.TextureDimension2D,
			Format:        wgpu.TextureFormatRGBA8Unorm,
			Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		})
		if err != nil {
			return nil, nil, err
		}
		err = ctx.Queue.WriteTexture(tex.AsImageCopy(), pixel[:],
			&wgpu.TextureDataLayout{BytesPerRow: 4, RowsPerImage: 1},
			&wgpu.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1})
		if err != nil {
			tex.Release()
			return nil, nil, err
		}
		view, err := tex.CreateView(nil)
		if err != nil {
			tex.Release()
			return nil, nil, err
		}
		return tex, view, nil
	}

	p.fallbackAlbedo, p.fallbackAlbedoVw, err = make1x1("FallbackAlbedo", [4]byte{255, 255, 255, 255})
	if err != nil {
		return err
	}
	// Flat +Z tangent-space normal
	p.fallbackNormal, p.fallbackNormalVw, err = make1x1("FallbackNormal", [4]byte{128, 128, 255, 255})
	return err
}

// materialFor resolves a material id to its bind group and texture
// flags, uploading referenced textures on first use. The zero id maps
// to the default material.
func (p *GeometryPass) materialFor(ctx *Context, id core.AssetId) (*materialBinding, *core.Material, error) {
	mat, ok := p.assets.Material(id)
	if !ok {
		def := core.DefaultMaterial()
		mat = &def
		id = ""
	}

	if mb, ok := p.materialBindings[id]; ok {
		return mb, mat, nil
	}

	mb := &materialBinding{}
	albedoView := p.fallbackAlbedoVw
	normalView := p.fallbackNormalVw

	if mat.AlbedoTexture != "" {
		if img, ok := p.assets.Texture(mat.AlbedoTexture); ok {
			view, err := p.mgr.EnsureTexture(mat.AlbedoTexture, img)
			if err != nil {
				return nil, nil, err
			}
			albedoView = view
			mb.hasAlbedo = true
		} else {
			ctx.Logger.Warnf("material %s references missing albedo texture %s", id, mat.AlbedoTexture)
		}
	}
	if mat.NormalTexture != "" {
		if img, ok := p.assets.Texture(mat.NormalTexture); ok {
			view, err := p.mgr.EnsureTexture(mat.NormalTexture, img)
			if err != nil {
				return nil, nil, err
			}
			normalView = view
			mb.hasNormal = true
		} else {
			ctx.Logger.Warnf("material %s references missing normal texture %s", id, mat.NormalTexture)
		}
	}

	bg, err := ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  fmt.Sprintf("MaterialBG %s", id),
		Layout: p.materialBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: albedoView},
			{Binding: 1, TextureView: normalView},
			{Binding: 2, Sampler: p.sampler},
		},
	})
	if err != nil {
		return nil, nil, err
	}
	mb.bg = bg
	p.materialBindings[id] = mb
	return mb, mat, nil
}

func (p *GeometryPass) ensureObjectSlots(ctx *Context, count int) error {
	if count == 0 {
		count = 1
	}
	prev := p.objectBuf
	_, err := p.mgr.ensureBuffer("GBufferObjectUniforms", &p.objectBuf, nil,
		wgpu.BufferUsageUniform, count*uniformSlotSize)
	if err != nil {
		return err
	}
	if p.objectBG == nil || p.objectBuf != prev {
		p.objectBG, err = ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "GBufferObjectBG",
			Layout: p.objectBGL,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: p.objectBuf, Offset: 0, Size: ObjectUniformSize},
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Render draws the renderables into the G-buffer with the given view
// matrix, then snapshots the seed counter into the indirect args and
// reads the seeded ray count back. Returns that count.
func (p *GeometryPass) Render(ctx *Context, viewMatrix mgl32.Mat4, renderables core.RenderableList, roughnessThreshold float32) (int, error) {
	if p.state != passInitialized {
		if err := p.build(ctx); err != nil {
			return 0, err
		}
	}

	// Eye position is the view inverse translation; saves threading the
	// camera through a pass that only contracts for a view matrix.
	p.camPos = viewMatrix.Inv().Col(3).Vec3()

	if err := p.mgr.UpdateFrame(viewMatrix, p.proj, p.camPos, roughnessThreshold); err != nil {
		return 0, err
	}
	p.mgr.ResetSeedCounter()

	meshes := renderables.Meshes()
	if err := p.ensureObjectSlots(ctx, len(meshes)); err != nil {
		return 0, err
	}

	type drawCmd struct {
		buf *MeshBuffers
		mb  *materialBinding
	}
	draws := make([]drawCmd, 0, len(meshes))

	objectData := make([]byte, len(meshes)*uniformSlotSize)
	for _, el := range meshes {
		buf := p.mgr.Mesh(el.Mesh.Mesh)
		if buf == nil {
			ctx.Logger.Debugf("mesh %s not uploaded, skipping", el.Mesh.Mesh)
			continue
		}
		mb, mat, err := p.materialFor(ctx, el.Mesh.Material)
		if err != nil {
			return 0, err
		}

		off := len(draws) * uniformSlotSize
		putMat4(objectData[off:], el.World)
		putMat4(objectData[off+64:], el.World.Inv().Transpose())
		putVec4(objectData[off+128:], mat.Albedo)
		putVec4(objectData[off+144:], mgl32.Vec4{
			mat.Metalness,
			mat.Roughness,
			boolFloat(mb.hasAlbedo),
			boolFloat(mb.hasNormal),
		})
		draws = append(draws, drawCmd{buf: buf, mb: mb})
	}
	if len(draws) > 0 {
		ctx.Queue.WriteBuffer(p.objectBuf, 0, objectData[:len(draws)*uniformSlotSize])
	}

	encoder, err := ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return 0, err
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "GeometryPass",
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{View: p.positionView, LoadOp: wgpu.LoadOpClear, StoreOp: wgpu.StoreOpStore, ClearValue: wgpu.Color{}},
			{View: p.normalView, LoadOp: wgpu.LoadOpClear, StoreOp: wgpu.StoreOpStore, ClearValue: wgpu.Color{}},
			{View: p.materialView, LoadOp: wgpu.LoadOpClear, StoreOp: wgpu.StoreOpStore, ClearValue: wgpu.Color{}},
			// No seed for untouched pixels
			{View: p.rayIndexView, LoadOp: wgpu.LoadOpClear, StoreOp: wgpu.StoreOpStore, ClearValue: wgpu.Color{R: -1}},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            p.depthView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1.0,
		},
	})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, p.frameBG, nil)
	for i, d := range draws {
		pass.SetBindGroup(1, p.objectBG, []uint32{uint32(i * uniformSlotSize)})
		pass.SetBindGroup(2, d.mb.bg, nil)
		pass.SetVertexBuffer(0, d.buf.Vertex, 0, wgpu.WholeSize)
		pass.SetIndexBuffer(d.buf.Index, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
		pass.DrawIndexed(d.buf.IndexCount, 1, 0, 0, 0)
	}
	if err := pass.End(); err != nil {
		return 0, err
	}
	pass.Release()

	compute := encoder.BeginComputePass(nil)
	compute.SetPipeline(p.seedArgsPipe)
	compute.SetBindGroup(0, p.seedArgsBG, nil)
	compute.DispatchWorkgroups(1, 1, 1)
	if err := compute.End(); err != nil {
		return 0, err
	}
	compute.Release()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return 0, err
	}
	ctx.Queue.Submit(cmd)

	count, err := p.readSeedCount(ctx)
	if err != nil {
		return 0, err
	}
	p.lastSeedCount = count
	ctx.Logger.Debugf("geometry pass: %d draws, %d ray seeds", len(draws), count)
	return count, nil
}

// readSeedCount blocks on a readback of the seed counter. Doubles as
// the frame sync point that keeps the ray pass from racing the seeds.
func (p *GeometryPass) readSeedCount(ctx *Context) (int, error) {
	data, err := readBuffer(ctx, p.mgr.SeedCounterBuf, 0, 4)
	if err != nil {
		return 0, fmt.Errorf("seed counter readback: %w", err)
	}
	count := binary.LittleEndian.Uint32(data)
	if count > p.mgr.RayCapacity() {
		ctx.Logger.Warnf("ray arena overflow: %d seeds, capacity %d", count, p.mgr.RayCapacity())
		count = p.mgr.RayCapacity()
	}
	return int(count), nil
}

func boolFloat(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

func (p *GeometryPass) destroyResources() {
	for id, mb := range p.materialBindings {
		mb.bg.Release()
		delete(p.materialBindings, id)
	}
	views := []**wgpu.TextureView{&p.positionView, &p.normalView, &p.materialView, &p.rayIndexView, &p.depthView, &p.fallbackAlbedoVw, &p.fallbackNormalVw}
	for _, v := range views {
		if *v != nil {
			(*v).Release()
			*v = nil
		}
	}
	texs := []**wgpu.Texture{&p.positionTex, &p.normalTex, &p.materialTex, &p.rayIndexTex, &p.depthTex, &p.fallbackAlbedo, &p.fallbackNormal}
	for _, t := range texs {
		if *t != nil {
			(*t).Release()
			*t = nil
		}
	}
	if p.sampler != nil {
		p.sampler.Release()
		p.sampler = nil
	}
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
	if p.seedArgsPipe != nil {
		p.seedArgsPipe.Release()
		p.seedArgsPipe = nil
	}
	bgls := []**wgpu.BindGroupLayout{&p.frameBGL, &p.objectBGL, &p.materialBGL, &p.seedArgsBGL}
	for _, l := range bgls {
		if *l != nil {
			(*l).Release()
			*l = nil
		}
	}
	bgs := []**wgpu.BindGroup{&p.frameBG, &p.seedArgsBG, &p.objectBG}
	for _, b := range bgs {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
}

func (p *GeometryPass) Release() {
	p.destroyResources()
	if p.objectBuf != nil {
		p.objectBuf.Release()
		p.objectBuf = nil
	}
	p.state = passUninitialized
}
