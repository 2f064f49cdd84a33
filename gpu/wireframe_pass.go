package gpu

import (
	"math"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/prism3d/prism/core"
	"github.com/prism3d/prism/shaders"
)

// WireVertex matches the wireframe shader's vertex input.
type WireVertex struct {
	Pos [3]float32
}

// WireInstance matches the instance attributes: transform plus color.
type WireInstance struct {
	ModelMat mgl32.Mat4
	Color    [4]float32
}

type wireShape int

const (
	wireLine wireShape = iota
	wireCube
	wireSphere
	wireShapeCount
)

// WireframePass overlays debug wireframes on the lit image: the ray
// scene's bounding spheres, colored by whether their material seeds
// reflections at the current threshold, and each light's frustum.
// Instanced unit shapes, no depth test, alpha blended.
type WireframePass struct {
	mgr    *Manager
	state  passState
	format wgpu.TextureFormat

	pipeline *wgpu.RenderPipeline
	frameBGL *wgpu.BindGroupLayout
	frameBG  *wgpu.BindGroup

	vertexBuf    *wgpu.Buffer
	shapeOffsets [wireShapeCount]uint32
	shapeCounts  [wireShapeCount]uint32

	instanceBuf *wgpu.Buffer
	instances   [wireShapeCount][]WireInstance
}

func NewWireframePass(mgr *Manager, surfaceFormat wgpu.TextureFormat) *WireframePass {
	return &WireframePass{mgr: mgr, format: surfaceFormat}
}

func (p *WireframePass) MarkDirty() {
	if p.state == passInitialized {
		p.state = passDirty
	}
}

func (p *WireframePass) build(ctx *Context) error {
	p.destroyResources()

	if err := p.mgr.EnsureFrameBuf(); err != nil {
		return err
	}

	shaderModule, err := ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "WireframeShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.GizmoWGSL},
	})
	if err != nil {
		return err
	}
	defer shaderModule.Release()

	p.frameBGL, err = ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "WireframeFrameBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform, MinBindingSize: FrameUniformSize},
			},
		},
	})
	if err != nil {
		return err
	}

	pipelineLayout, err := ctx.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.frameBGL},
	})
	if err != nil {
		return err
	}
	defer pipelineLayout.Release()

	p.pipeline, err = ctx.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "WireframePipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     shaderModule,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{
				{
					ArrayStride: uint64(unsafe.Sizeof(WireVertex{})),
					StepMode:    wgpu.VertexStepModeVertex,
					Attributes: []wgpu.VertexAttribute{
						{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
					},
				},
				{
					ArrayStride: uint64(unsafe.Sizeof(WireInstance{})),
					StepMode:    wgpu.VertexStepModeInstance,
					Attributes: []wgpu.VertexAttribute{
						{Format: wgpu.VertexFormatFloat32x4, Offset: 0, ShaderLocation: 2},
						{Format: wgpu.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 3},
						{Format: wgpu.VertexFormatFloat32x4, Offset: 32, ShaderLocation: 4},
						{Format: wgpu.VertexFormatFloat32x4, Offset: 48, ShaderLocation: 5},
						{Format: wgpu.VertexFormatFloat32x4, Offset: 64, ShaderLocation: 6},
					},
				},
			},
		},
		Fragment: &wgpu.FragmentState{
			Module:     shaderModule,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    p.format,
					WriteMask: wgpu.ColorWriteMaskAll,
					Blend: &wgpu.BlendState{
						Color: wgpu.BlendComponent{
							Operation: wgpu.BlendOperationAdd,
							SrcFactor: wgpu.BlendFactorSrcAlpha,
							DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
						},
						Alpha: wgpu.BlendComponent{
							Operation: wgpu.BlendOperationAdd,
							SrcFactor: wgpu.BlendFactorOne,
							DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
						},
					},
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyLineList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return err
	}

	p.frameBG, err = ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "WireframeFrameBG",
		Layout: p.frameBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: p.mgr.FrameBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return err
	}

	if err := p.buildShapes(ctx); err != nil {
		return err
	}

	p.state = passInitialized
	return nil
}

func (p *WireframePass) buildShapes(ctx *Context) error {
	var vertices []WireVertex
	addShape := func(s wireShape, shapeVerts []WireVertex) {
		p.shapeOffsets[s] = uint32(len(vertices))
		p.shapeCounts[s] = uint32(len(shapeVerts))
		vertices = append(vertices, shapeVerts...)
	}

	// Unit line along Z; instances stretch and aim it.
	addShape(wireLine, []WireVertex{
		{Pos: [3]float32{0, 0, 0}},
		{Pos: [3]float32{0, 0, 1}},
	})

	min, max := float32(-0.5), float32(0.5)
	cube := []WireVertex{
		{Pos: [3]float32{min, min, min}}, {Pos: [3]float32{max, min, min}},
		{Pos: [3]float32{max, min, min}}, {Pos: [3]float32{max, min, max}},
		{Pos: [3]float32{max, min, max}}, {Pos: [3]float32{min, min, max}},
		{Pos: [3]float32{min, min, max}}, {Pos: [3]float32{min, min, min}},
		{Pos: [3]float32{min, max, min}}, {Pos: [3]float32{max, max, min}},
		{Pos: [3]float32{max, max, min}}, {Pos: [3]float32{max, max, max}},
		{Pos: [3]float32{max, max, max}}, {Pos: [3]float32{min, max, max}},
		{Pos: [3]float32{min, max, max}}, {Pos: [3]float32{min, max, min}},
		{Pos: [3]float32{min, min, min}}, {Pos: [3]float32{min, max, min}},
		{Pos: [3]float32{max, min, min}}, {Pos: [3]float32{max, max, min}},
		{Pos: [3]float32{max, min, max}}, {Pos: [3]float32{max, max, max}},
		{Pos: [3]float32{min, min, max}}, {Pos: [3]float32{min, max, max}},
	}
	addShape(wireCube, cube)

	// Unit sphere as three axis rings
	var sphere []WireVertex
	steps := 32
	angleStep := 2.0 * math.Pi / float64(steps)
	for i := 0; i < steps; i++ {
		a1, a2 := float64(i)*angleStep, float64(i+1)*angleStep
		c1, s1 := float32(math.Cos(a1)), float32(math.Sin(a1))
		c2, s2 := float32(math.Cos(a2)), float32(math.Sin(a2))
		sphere = append(sphere, WireVertex{Pos: [3]float32{c1, s1, 0}}, WireVertex{Pos: [3]float32{c2, s2, 0}})
		sphere = append(sphere, WireVertex{Pos: [3]float32{c1, 0, s1}}, WireVertex{Pos: [3]float32{c2, 0, s2}})
		sphere = append(sphere, WireVertex{Pos: [3]float32{0, c1, s1}}, WireVertex{Pos: [3]float32{0, c2, s2}})
	}
	addShape(wireSphere, sphere)

	_, err := p.mgr.ensureBuffer("WireframeShapes", &p.vertexBuf, wgpu.ToBytes(vertices),
		wgpu.BufferUsageVertex, 0)
	return err
}

// line aims the unit Z line from a to b.
func (p *WireframePass) line(a, b mgl32.Vec3, color [4]float32) {
	diff := b.Sub(a)
	dist := diff.Len()
	if dist < 1e-4 {
		return
	}
	rot := mgl32.QuatBetweenVectors(mgl32.Vec3{0, 0, 1}, diff.Normalize())
	p.instances[wireLine] = append(p.instances[wireLine], WireInstance{
		ModelMat: mgl32.Translate3D(a.X(), a.Y(), a.Z()).
			Mul4(rot.Mat4()).
			Mul4(mgl32.Scale3D(1, 1, dist)),
		Color: color,
	})
}

func (p *WireframePass) sphere(center mgl32.Vec3, radius float32, color [4]float32) {
	p.instances[wireSphere] = append(p.instances[wireSphere], WireInstance{
		ModelMat: mgl32.Translate3D(center.X(), center.Y(), center.Z()).
			Mul4(mgl32.Scale3D(radius, radius, radius)),
		Color: color,
	})
}

// frustum draws the 12 edges of a light-space volume given the matrix
// that maps world to its [0,1]-depth clip space.
func (p *WireframePass) frustum(lightSpace mgl32.Mat4, color [4]float32) {
	inv := lightSpace.Inv()
	corner := func(x, y, z float32) mgl32.Vec3 {
		c := inv.Mul4x1(mgl32.Vec4{x, y, z, 1})
		if c.W() == 0 {
			return mgl32.Vec3{}
		}
		return c.Vec3().Mul(1 / c.W())
	}

	var near, far [4]mgl32.Vec3
	quad := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	for i, xy := range quad {
		near[i] = corner(xy[0], xy[1], 0)
		far[i] = corner(xy[0], xy[1], 1)
	}
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		p.line(near[i], near[j], color)
		p.line(far[i], far[j], color)
		p.line(near[i], far[i], color)
	}
}

// Render overlays the wireframes onto target. scene may be nil before
// the first migration; then only light frusta draw.
func (p *WireframePass) Render(ctx *Context, renderables core.RenderableList, scene *FlatScene, roughnessThreshold float32, target *wgpu.TextureView) error {
	if p.state != passInitialized {
		if err := p.build(ctx); err != nil {
			return err
		}
	}

	for i := range p.instances {
		p.instances[i] = p.instances[i][:0]
	}

	seedColor := [4]float32{0.2, 1.0, 0.4, 0.8}
	inertColor := [4]float32{0.6, 0.6, 0.6, 0.5}
	lightColor := [4]float32{1.0, 0.9, 0.2, 0.8}

	if scene != nil {
		for i, s := range scene.Spheres {
			color := inertColor
			if i < len(scene.Materials) && SeedsReflection(scene.Materials[i].Roughness, roughnessThreshold) {
				color = seedColor
			}
			p.sphere(s.Center, s.Radius, color)
		}
	}
	for _, l := range renderables.Lights() {
		p.frustum(DepthRange01(l.Light.Projection()).Mul4(l.Light.View()), lightColor)
	}

	var all []WireInstance
	var counts [wireShapeCount]uint32
	for s := wireShape(0); s < wireShapeCount; s++ {
		counts[s] = uint32(len(p.instances[s]))
		all = append(all, p.instances[s]...)
	}
	if len(all) == 0 {
		return nil
	}

	_, err := p.mgr.ensureBuffer("WireframeInstances", &p.instanceBuf, wgpu.ToBytes(all),
		wgpu.BufferUsageVertex, 0)
	if err != nil {
		return err
	}

	encoder, err := ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "WireframePass",
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{View: target, LoadOp: wgpu.LoadOpLoad, StoreOp: wgpu.StoreOpStore},
		},
	})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, p.frameBG, nil)
	pass.SetVertexBuffer(0, p.vertexBuf, 0, wgpu.WholeSize)
	pass.SetVertexBuffer(1, p.instanceBuf, 0, wgpu.WholeSize)

	firstInstance := uint32(0)
	for s := wireShape(0); s < wireShapeCount; s++ {
		if counts[s] == 0 {
			continue
		}
		pass.Draw(p.shapeCounts[s], counts[s], p.shapeOffsets[s], firstInstance)
		firstInstance += counts[s]
	}
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

func (p *WireframePass) destroyResources() {
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
	if p.frameBGL != nil {
		p.frameBGL.Release()
		p.frameBGL = nil
	}
	if p.frameBG != nil {
		p.frameBG.Release()
		p.frameBG = nil
	}
}

func (p *WireframePass) Release() {
	p.destroyResources()
	for _, buf := range []**wgpu.Buffer{&p.vertexBuf, &p.instanceBuf} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
	p.state = passUninitialized
}
