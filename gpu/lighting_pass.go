package gpu

import (
	"encoding/binary"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/prism3d/prism/core"
	"github.com/prism3d/prism/shaders"
)

// LightingUniformSize is cam_pos + counts + MaxLights light slots of
// position, color and light-space matrix.
const LightingUniformSize = 32 + MaxLights*96

// LightingPass resolves the G-buffer to the swapchain with one
// full-screen triangle: Cook-Torrance direct lighting with shadow map
// tests, plus the traced reflection chain of each seeded pixel.
type LightingPass struct {
	mgr    *Manager
	state  passState
	format wgpu.TextureFormat

	pipeline *wgpu.RenderPipeline
	gbufBGL  *wgpu.BindGroupLayout
	lightBGL *wgpu.BindGroupLayout

	gbufBG  *wgpu.BindGroup
	lightBG *wgpu.BindGroup

	uniformBuf *wgpu.Buffer
	sampler    *wgpu.Sampler

	// Resources the bind groups were built against; a pointer change
	// after an upstream rebuild forces recreation.
	boundPosition *wgpu.TextureView
	boundShadow   *wgpu.TextureView
	boundRecords  *wgpu.Buffer
}

func NewLightingPass(mgr *Manager, surfaceFormat wgpu.TextureFormat) *LightingPass {
	return &LightingPass{mgr: mgr, format: surfaceFormat}
}

func (p *LightingPass) MarkDirty() {
	if p.state == passInitialized {
		p.state = passDirty
	}
}

func (p *LightingPass) build(ctx *Context) error {
	p.destroyResources()

	shaderModule, err := ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "DeferredLightingShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.DeferredLightingWGSL},
	})
	if err != nil {
		return fmt.Errorf("lighting shader: %w", err)
	}
	defer shaderModule.Release()

	p.gbufBGL, err = ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "LightingGBufferBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    3,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeSint,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
		},
	})
	if err != nil {
		return err
	}

	p.lightBGL, err = ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "LightingBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform, MinBindingSize: LightingUniformSize},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeDepth,
					ViewDimension: wgpu.TextureViewDimension2DArray,
				},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageFragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeNonFiltering},
			},
			{
				Binding:    3,
				Visibility: wgpu.ShaderStageFragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
		},
	})
	if err != nil {
		return err
	}

	pipelineLayout, err := ctx.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.gbufBGL, p.lightBGL},
	})
	if err != nil {
		return err
	}
	defer pipelineLayout.Release()

	p.pipeline, err = ctx.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "DeferredLightingPipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     shaderModule,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     shaderModule,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{Format: p.format, WriteMask: wgpu.ColorWriteMaskAll},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("lighting pipeline: %w", err)
	}

	p.sampler, err = ctx.Device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "ShadowSampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeNearest,
		MinFilter:     wgpu.FilterModeNearest,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return err
	}

	_, err = p.mgr.ensureBuffer("LightingUniform", &p.uniformBuf, nil, wgpu.BufferUsageUniform, LightingUniformSize)
	if err != nil {
		return err
	}

	p.state = passInitialized
	return nil
}

func (p *LightingPass) ensureBindGroups(ctx *Context, geometry *GeometryPass, shadow *ShadowPass) error {
	position, normal, material, rayIndex := geometry.GBufferViews()
	if position == nil {
		return fmt.Errorf("lighting pass needs a rendered geometry pass")
	}
	shadowView := shadow.MapView()
	if shadowView == nil {
		return fmt.Errorf("lighting pass needs a rendered shadow pass")
	}

	if p.gbufBG == nil || p.boundPosition != position {
		if p.gbufBG != nil {
			p.gbufBG.Release()
		}
		bg, err := ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "LightingGBufferBG",
			Layout: p.gbufBGL,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, TextureView: position},
				{Binding: 1, TextureView: normal},
				{Binding: 2, TextureView: material},
				{Binding: 3, TextureView: rayIndex},
			},
		})
		if err != nil {
			return err
		}
		p.gbufBG = bg
		p.boundPosition = position
	}

	if p.lightBG == nil || p.boundShadow != shadowView || p.boundRecords != p.mgr.RayRecordsBuf {
		if p.lightBG != nil {
			p.lightBG.Release()
		}
		bg, err := ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "LightingBG",
			Layout: p.lightBGL,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: p.uniformBuf, Size: wgpu.WholeSize},
				{Binding: 1, TextureView: shadowView},
				{Binding: 2, Sampler: p.sampler},
				{Binding: 3, Buffer: p.mgr.RayRecordsBuf, Size: wgpu.WholeSize},
			},
		})
		if err != nil {
			return err
		}
		p.lightBG = bg
		p.boundShadow = shadowView
		p.boundRecords = p.mgr.RayRecordsBuf
	}
	return nil
}

// Render resolves the frame into target. Light data comes from the
// renderables, shadow matrices from the shadow pass, the chain walk
// bound from the ray pass.
func (p *LightingPass) Render(ctx *Context, geometry *GeometryPass, shadow *ShadowPass, raytrace *RayTracePass, renderables core.RenderableList, target *wgpu.TextureView) error {
	if p.state != passInitialized {
		if err := p.build(ctx); err != nil {
			return err
		}
	}
	if err := p.ensureBindGroups(ctx, geometry, shadow); err != nil {
		return err
	}

	lights := renderables.Lights()
	nrLights := len(lights)
	if nrLights > MaxLights {
		nrLights = MaxLights
	}
	if shadow.LightCount() < nrLights {
		nrLights = shadow.LightCount()
	}

	data := make([]byte, LightingUniformSize)
	putVec3Padded(data[0:], geometry.CameraPosition())
	binary.LittleEndian.PutUint32(data[16:], uint32(nrLights))
	binary.LittleEndian.PutUint32(data[20:], uint32(raytrace.LastMaxBounces()))
	for i := 0; i < nrLights; i++ {
		off := 32 + i*96
		putVec3Padded(data[off:], lights[i].World.Col(3).Vec3())
		putVec4(data[off+16:], lights[i].Light.Color.Vec4(1))
		putMat4(data[off+32:], shadow.LightSpace(i))
	}
	ctx.Queue.WriteBuffer(p.uniformBuf, 0, data)

	encoder, err := ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "LightingPass",
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       target,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1},
			},
		},
	})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, p.gbufBG, nil)
	pass.SetBindGroup(1, p.lightBG, nil)
	pass.Draw(3, 1, 0, 0)
	if err := pass.End(); err != nil {
		return err
	}
	pass.Release()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	ctx.Queue.Submit(cmd)
	return nil
}

func (p *LightingPass) destroyResources() {
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
	if p.gbufBGL != nil {
		p.gbufBGL.Release()
		p.gbufBGL = nil
	}
	if p.lightBGL != nil {
		p.lightBGL.Release()
		p.lightBGL = nil
	}
	if p.gbufBG != nil {
		p.gbufBG.Release()
		p.gbufBG = nil
	}
	if p.lightBG != nil {
		p.lightBG.Release()
		p.lightBG = nil
	}
	if p.sampler != nil {
		p.sampler.Release()
		p.sampler = nil
	}
	p.boundPosition = nil
	p.boundShadow = nil
	p.boundRecords = nil
}

func (p *LightingPass) Release() {
	p.destroyResources()
	if p.uniformBuf != nil {
		p.uniformBuf.Release()
		p.uniformBuf = nil
	}
	p.state = passUninitialized
}
