package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/prism3d/prism/core"
	"github.com/prism3d/prism/shaders"
)

// uniformSlotSize is the stride of per-draw uniform slots addressed
// with dynamic offsets; 256 is the default alignment floor.
const uniformSlotSize = 256

// ShadowPass renders one depth map per light into a layer of a shared
// depth array. Front faces are culled so acne lands on surfaces facing
// away from the light. Capacity is MaxLights layers; lights beyond that
// are skipped with a warning and simply cast no shadow.
type ShadowPass struct {
	mgr   *Manager
	state passState

	mapSize uint32

	pipeline  *wgpu.RenderPipeline
	lightBGL  *wgpu.BindGroupLayout
	objectBGL *wgpu.BindGroupLayout

	maps       *wgpu.Texture
	layerViews []*wgpu.TextureView
	arrayView  *wgpu.TextureView

	lightBuf  *wgpu.Buffer
	lightBG   *wgpu.BindGroup
	objectBuf *wgpu.Buffer
	objectBG  *wgpu.BindGroup

	lightSpaces [MaxLights]mgl32.Mat4
	lightCount  int
}

func NewShadowPass(mgr *Manager, mapSize uint32) *ShadowPass {
	if mapSize == 0 {
		mapSize = 1024
	}
	return &ShadowPass{mgr: mgr, mapSize: mapSize}
}

// MarkDirty forces a rebuild of the pipeline and depth array on the
// next render. Call after changing the shadow map size.
func (p *ShadowPass) MarkDirty() {
	if p.state == passInitialized {
		p.state = passDirty
	}
}

func (p *ShadowPass) SetMapSize(size uint32) {
	if size != 0 && size != p.mapSize {
		p.mapSize = size
		p.MarkDirty()
	}
}

// MapView is the whole-array depth view the lighting pass samples.
// Nil until the first render.
func (p *ShadowPass) MapView() *wgpu.TextureView {
	return p.arrayView
}

// LightSpace returns the depth-corrected light-space matrix uploaded
// for layer i during the last render.
func (p *ShadowPass) LightSpace(i int) mgl32.Mat4 {
	return p.lightSpaces[i]
}

// LightCount is the number of layers rendered last frame.
func (p *ShadowPass) LightCount() int {
	return p.lightCount
}

func (p *ShadowPass) build(ctx *Context) error {
	p.destroyResources()

	shaderModule, err := ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "ShadowMapShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.ShadowMapWGSL},
	})
	if err != nil {
		return fmt.Errorf("shadow shader: %w", err)
	}
	defer shaderModule.Release()

	p.lightBGL, err = ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "ShadowLightBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex,
				Buffer: wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: true,
					MinBindingSize:   64,
				},
			},
		},
	})
	if err != nil {
		return err
	}

	p.objectBGL, err = ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "ShadowObjectBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex,
				Buffer: wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: true,
					MinBindingSize:   64,
				},
			},
		},
	})
	if err != nil {
		return err
	}

	pipelineLayout, err := ctx.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.lightBGL, p.objectBGL},
	})
	if err != nil {
		return err
	}
	defer pipelineLayout.Release()

	// Depth-only: no fragment stage, no color targets.
	p.pipeline, err = ctx.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "ShadowMapPipeline",
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
					},
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeFront,
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
		return fmt.Errorf("shadow pipeline: %w", err)
	}

	p.maps, err = ctx.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "ShadowMaps",
		Size:          wgpu.Extent3D{Width: p.mapSize, Height: p.mapSize, DepthOrArrayLayers: MaxLights},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth32Float,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
	})
	if err != nil {
		return fmt.Errorf("shadow maps: %w", err)
	}

	p.layerViews = make([]*wgpu.TextureView, MaxLights)
	for i := 0; i < MaxLights; i++ {
		p.layerViews[i], err = p.maps.CreateView(&wgpu.TextureViewDescriptor{
			Label:           fmt.Sprintf("ShadowMap Layer %d", i),
			Format:          wgpu.TextureFormatDepth32Float,
			Dimension:       wgpu.TextureViewDimension2D,
			BaseMipLevel:    0,
			MipLevelCount:   1,
			BaseArrayLayer:  uint32(i),
			ArrayLayerCount: 1,
		})
		if err != nil {
			return err
		}
	}
	p.arrayView, err = p.maps.CreateView(&wgpu.TextureViewDescriptor{
		Label:           "ShadowMap Array",
		Format:          wgpu.TextureFormatDepth32Float,
		Dimension:       wgpu.TextureViewDimension2DArray,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: MaxLights,
	})
	if err != nil {
		return err
	}

	_, err = p.mgr.ensureBuffer("ShadowLightUniforms", &p.lightBuf, nil,
		wgpu.BufferUsageUniform, MaxLights*uniformSlotSize)
	if err != nil {
		return err
	}
	p.lightBG, err = ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "ShadowLightBG",
		Layout: p.lightBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: p.lightBuf, Offset: 0, Size: 64},
		},
	})
	if err != nil {
		return err
	}

	p.state = passInitialized
	ctx.Logger.Debugf("shadow pass built, %dx%d x%d layers", p.mapSize, p.mapSize, MaxLights)
	return nil
}

// ensureObjectSlots grows the per-object uniform buffer to hold count
// model matrices in dynamic-offset slots.
func (p *ShadowPass) ensureObjectSlots(ctx *Context, count int) error {
	if count == 0 {
		count = 1
	}
	prev := p.objectBuf
	_, err := p.mgr.ensureBuffer("ShadowObjectUniforms", &p.objectBuf, nil,
		wgpu.BufferUsageUniform, count*uniformSlotSize)
	if err != nil {
		return err
	}
	if p.objectBG == nil || p.objectBuf != prev {
		p.objectBG, err = ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "ShadowObjectBG",
			Layout: p.objectBGL,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: p.objectBuf, Offset: 0, Size: 64},
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Render draws every mesh renderable into one depth layer per light.
// Uploads happen first, then a render pass per layer on one encoder.
func (p *ShadowPass) Render(ctx *Context, renderables core.RenderableList) error {
	if p.state != passInitialized {
		if err := p.build(ctx); err != nil {
			return err
		}
	}

	lights := renderables.Lights()
	p.lightCount = len(lights)
	if p.lightCount > MaxLights {
		ctx.Logger.Warnf("%d lights, shadow capacity is %d; extras cast no shadow", p.lightCount, MaxLights)
		p.lightCount = MaxLights
		lights = lights[:MaxLights]
	}

	meshes := renderables.Meshes()
	if err := p.ensureObjectSlots(ctx, len(meshes)); err != nil {
		return err
	}

	lightData := make([]byte, p.lightCount*uniformSlotSize)
	for i, l := range lights {
		p.lightSpaces[i] = DepthRange01(l.Light.Projection()).Mul4(l.Light.View())
		putMat4(lightData[i*uniformSlotSize:], p.lightSpaces[i])
	}
	if len(lightData) > 0 {
		ctx.Queue.WriteBuffer(p.lightBuf, 0, lightData)
	}

	objectData := make([]byte, len(meshes)*uniformSlotSize)
	for i, el := range meshes {
		putMat4(objectData[i*uniformSlotSize:], el.World)
	}
	if len(objectData) > 0 {
		ctx.Queue.WriteBuffer(p.objectBuf, 0, objectData)
	}

	encoder, err := ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	for i := range lights {
		pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
			Label: fmt.Sprintf("ShadowPass %d", i),
			DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
				View:            p.layerViews[i],
				DepthLoadOp:     wgpu.LoadOpClear,
				DepthStoreOp:    wgpu.StoreOpStore,
				DepthClearValue: 1.0,
			},
		})
		pass.SetPipeline(p.pipeline)
		pass.SetBindGroup(0, p.lightBG, []uint32{uint32(i * uniformSlotSize)})

		for j, el := range meshes {
			buf := p.mgr.Mesh(el.Mesh.Mesh)
			if buf == nil {
				continue
			}
			pass.SetBindGroup(1, p.objectBG, []uint32{uint32(j * uniformSlotSize)})
			pass.SetVertexBuffer(0, buf.Vertex, 0, wgpu.WholeSize)
			pass.SetIndexBuffer(buf.Index, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
			pass.DrawIndexed(buf.IndexCount, 1, 0, 0, 0)
		}
		if err := pass.End(); err != nil {
			return err
		}
		pass.Release()
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	ctx.Queue.Submit(cmd)
	return nil
}

func (p *ShadowPass) destroyResources() {
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
	if p.lightBGL != nil {
		p.lightBGL.Release()
		p.lightBGL = nil
	}
	if p.objectBGL != nil {
		p.objectBGL.Release()
		p.objectBGL = nil
	}
	if p.arrayView != nil {
		p.arrayView.Release()
		p.arrayView = nil
	}
	for _, v := range p.layerViews {
		if v != nil {
			v.Release()
		}
	}
	p.layerViews = nil
	if p.maps != nil {
		p.maps.Release()
		p.maps = nil
	}
	if p.lightBG != nil {
		p.lightBG.Release()
		p.lightBG = nil
	}
	if p.objectBG != nil {
		p.objectBG.Release()
		p.objectBG = nil
	}
}

func (p *ShadowPass) Release() {
	p.destroyResources()
	for _, buf := range []**wgpu.Buffer{&p.lightBuf, &p.objectBuf} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
	p.state = passUninitialized
}