package gpu

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/prism3d/prism/assets"
	"github.com/prism3d/prism/core"
	"github.com/prism3d/prism/shaders"
)

// RTTextureSize is the edge length every material texture is resampled
// to for the ray kernel's texture array; array layers share one size.
const RTTextureSize = 512

// FlatMesh is one mesh instance feeding the flattened scene: the
// object-space data as read back from the GPU, its world matrix, and
// its resolved material.
type FlatMesh struct {
	Mesh     *core.MeshData
	World    mgl32.Mat4
	Material core.Material
}

// FlatScene is the CPU-side flattened scene the ray kernel consumes:
// world-space triangles grouped per source mesh, one bounding sphere
// and one material record per mesh, and the texture ids assigned to
// array layers in first-use order.
type FlatScene struct {
	Triangles []TriangleRecord
	Spheres   []SphereRecord
	Materials []MaterialRecord

	TextureLayers []core.AssetId
}

// FlattenScene builds the flattened scene from mesh instances. Output
// is deterministic in input order: mesh i owns material record i and a
// contiguous triangle range recorded in sphere i.
func FlattenScene(inputs []FlatMesh) (*FlatScene, error) {
	flat := &FlatScene{}
	layers := make(map[core.AssetId]int32)

	layerFor := func(id core.AssetId) int32 {
		if id == "" {
			return -1
		}
		if l, ok := layers[id]; ok {
			return l
		}
		l := int32(len(flat.TextureLayers))
		layers[id] = l
		flat.TextureLayers = append(flat.TextureLayers, id)
		return l
	}

	for mi, in := range inputs {
		if err := in.Mesh.Validate(); err != nil {
			return nil, fmt.Errorf("mesh %d: %w", mi, err)
		}

		normalMat := in.World.Inv().Transpose()
		worldPos := make([]mgl32.Vec3, len(in.Mesh.Positions))
		worldNrm := make([]mgl32.Vec3, len(in.Mesh.Normals))
		for i, pos := range in.Mesh.Positions {
			worldPos[i] = in.World.Mul4x1(pos.Vec4(1)).Vec3()
			n := normalMat.Mul4x1(in.Mesh.Normals[i].Vec4(0)).Vec3()
			if n.Len() > 0 {
				n = n.Normalize()
			}
			worldNrm[i] = n
		}

		first := uint32(len(flat.Triangles))
		for i := 0; i+2 < len(in.Mesh.Indices); i += 3 {
			i0, i1, i2 := in.Mesh.Indices[i], in.Mesh.Indices[i+1], in.Mesh.Indices[i+2]
			flat.Triangles = append(flat.Triangles, TriangleRecord{
				V0: worldPos[i0], V1: worldPos[i1], V2: worldPos[i2],
				N0: worldNrm[i0], N1: worldNrm[i1], N2: worldNrm[i2],
				UV0: in.Mesh.UVs[i0], UV1: in.Mesh.UVs[i1], UV2: in.Mesh.UVs[i2],
				MaterialIndex: uint32(mi),
			})
		}

		center, radius := boundingSphere(worldPos)
		flat.Spheres = append(flat.Spheres, SphereRecord{
			Center:        center,
			Radius:        radius,
			FirstTriangle: first,
			TriangleCount: uint32(len(flat.Triangles)) - first,
		})

		flat.Materials = append(flat.Materials, MaterialRecord{
			Albedo:         in.Material.Albedo,
			Emission:       in.Material.Emission,
			Metalness:      in.Material.Metalness,
			Roughness:      in.Material.Roughness,
			AlbedoLayer:    layerFor(in.Material.AlbedoTexture),
			MetalnessLayer: layerFor(in.Material.MetalnessTexture),
			RoughnessLayer: layerFor(in.Material.RoughnessTexture),
		})
	}
	return flat, nil
}

// boundingSphere is centroid plus max distance, same construction the
// mesh upload uses but over world-space points.
func boundingSphere(points []mgl32.Vec3) (mgl32.Vec3, float32) {
	if len(points) == 0 {
		return mgl32.Vec3{}, 0
	}
	var center mgl32.Vec3
	for _, p := range points {
		center = center.Add(p)
	}
	center = center.Mul(1 / float32(len(points)))
	var radius float32
	for _, p := range points {
		if d := p.Sub(center).Len(); d > radius {
			radius = d
		}
	}
	return center, radius
}

// RayTracePass traces reflection chains through the flattened scene.
// Migrate rebuilds that scene from the uploaded meshes; Render launches
// one indirect dispatch sized by the seed-args kernel.
type RayTracePass struct {
	mgr    *Manager
	assets AssetSource
	state  passState

	pipeline  *wgpu.ComputePipeline
	bgl       *wgpu.BindGroupLayout
	bindGroup *wgpu.BindGroup

	trianglesBuf *wgpu.Buffer
	spheresBuf   *wgpu.Buffer
	materialsBuf *wgpu.Buffer
	paramsBuf    *wgpu.Buffer

	texArray     *wgpu.Texture
	texArrayView *wgpu.TextureView
	texSampler   *wgpu.Sampler

	flat            *FlatScene
	sceneReady      bool
	backfaceCulling bool
	lastMaxBounces  int
}

func NewRayTracePass(mgr *Manager, assets AssetSource) *RayTracePass {
	return &RayTracePass{mgr: mgr, assets: assets}
}

func (p *RayTracePass) MarkDirty() {
	if p.state == passInitialized {
		p.state = passDirty
	}
}

// Scene returns the flattened scene from the last migration, nil before
// the first one. The wireframe pass draws its bounding spheres.
func (p *RayTracePass) Scene() *FlatScene {
	return p.flat
}

func (p *RayTracePass) build(ctx *Context) error {
	p.destroyResources()

	if err := p.mgr.EnsureRayBuffers(ctx.Width, ctx.Height); err != nil {
		return err
	}

	shaderModule, err := ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "RaytraceShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.RaytraceWGSL},
	})
	if err != nil {
		return fmt.Errorf("raytrace shader: %w", err)
	}
	defer shaderModule.Release()

	p.bgl, err = ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "RaytraceBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
			{
				Binding:    3,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
			},
			{
				Binding:    4,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage},
			},
			{
				Binding:    5,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
			},
			{
				Binding:    6,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform, MinBindingSize: 16},
			},
			{
				Binding:    7,
				Visibility: wgpu.ShaderStageCompute,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2DArray,
				},
			},
			{
				Binding:    8,
				Visibility: wgpu.ShaderStageCompute,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		return err
	}

	layout, err := ctx.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.bgl},
	})
	if err != nil {
		return err
	}
	defer layout.Release()

	p.pipeline, err = ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   "RaytracePipeline",
		Layout:  layout,
		Compute: wgpu.ProgrammableStageDescriptor{Module: shaderModule, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("raytrace pipeline: %w", err)
	}

	p.texSampler, err = ctx.Device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "RaytraceTexSampler",
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

	_, err = p.mgr.ensureBuffer("RayParams", &p.paramsBuf, nil, wgpu.BufferUsageUniform, 16)
	if err != nil {
		return err
	}

	p.state = passInitialized
	return nil
}

// Migrate reads every referenced mesh back from GPU memory, flattens
// the scene in renderable order and uploads the result. Call whenever
// scene structure changes; frames in between reuse the uploaded scene.
func (p *RayTracePass) Migrate(ctx *Context, renderables core.RenderableList) error {
	if p.state != passInitialized {
		if err := p.build(ctx); err != nil {
			return err
		}
	}

	meshes := renderables.Meshes()
	inputs := make([]FlatMesh, 0, len(meshes))
	for _, el := range meshes {
		buf := p.mgr.Mesh(el.Mesh.Mesh)
		if buf == nil {
			ctx.Logger.Warnf("migrate: mesh %s not uploaded, excluded from ray scene", el.Mesh.Mesh)
			continue
		}

		vtxData, err := readBuffer(ctx, buf.Vertex, 0, uint64(buf.VertexCount)*VertexStride)
		if err != nil {
			return fmt.Errorf("migrate mesh %s vertices: %w", el.Mesh.Mesh, err)
		}
		idxData, err := readBuffer(ctx, buf.Index, 0, uint64(buf.IndexCount)*4)
		if err != nil {
			return fmt.Errorf("migrate mesh %s indices: %w", el.Mesh.Mesh, err)
		}
		mesh, err := DecodeVertices(vtxData, buf.VertexCount)
		if err != nil {
			return fmt.Errorf("migrate mesh %s: %w", el.Mesh.Mesh, err)
		}
		mesh.Indices, err = DecodeIndices(idxData, buf.IndexCount)
		if err != nil {
			return fmt.Errorf("migrate mesh %s: %w", el.Mesh.Mesh, err)
		}

		mat, ok := p.assets.Material(el.Mesh.Material)
		if !ok {
			def := core.DefaultMaterial()
			mat = &def
		}
		inputs = append(inputs, FlatMesh{Mesh: mesh, World: el.World, Material: *mat})
	}

	flat, err := FlattenScene(inputs)
	if err != nil {
		return err
	}

	if err := p.uploadScene(ctx, flat); err != nil {
		return err
	}
	p.flat = flat
	p.sceneReady = true
	ctx.Logger.Infof("ray scene migrated: %d meshes, %d triangles, %d texture layers",
		len(flat.Spheres), len(flat.Triangles), len(flat.TextureLayers))
	return nil
}

func (p *RayTracePass) uploadScene(ctx *Context, flat *FlatScene) error {
	triData := make([]byte, 0, len(flat.Triangles)*TriangleRecordSize)
	for _, t := range flat.Triangles {
		triData = append(triData, t.Marshal()...)
	}
	sphData := make([]byte, 0, len(flat.Spheres)*SphereRecordSize)
	for _, s := range flat.Spheres {
		sphData = append(sphData, s.Marshal()...)
	}
	matData := make([]byte, 0, len(flat.Materials)*MaterialRecordSize)
	for _, m := range flat.Materials {
		matData = append(matData, m.Marshal()...)
	}

	// Storage bindings reject empty buffers, so an empty scene uploads
	// one zeroed record; nr_spheres stays 0 and nothing reads it.
	if len(triData) == 0 {
		triData = make([]byte, TriangleRecordSize)
	}
	if len(sphData) == 0 {
		sphData = make([]byte, SphereRecordSize)
	}
	if len(matData) == 0 {
		matData = make([]byte, MaterialRecordSize)
	}

	rebind := false
	recreated, err := p.mgr.ensureBuffer("RayTriangles", &p.trianglesBuf, triData, wgpu.BufferUsageStorage, 0)
	if err != nil {
		return err
	}
	rebind = rebind || recreated
	recreated, err = p.mgr.ensureBuffer("RaySpheres", &p.spheresBuf, sphData, wgpu.BufferUsageStorage, 0)
	if err != nil {
		return err
	}
	rebind = rebind || recreated
	recreated, err = p.mgr.ensureBuffer("RayMaterials", &p.materialsBuf, matData, wgpu.BufferUsageStorage, 0)
	if err != nil {
		return err
	}
	rebind = rebind || recreated

	if err := p.uploadTextureArray(ctx, flat.TextureLayers); err != nil {
		return err
	}

	if p.bindGroup == nil || rebind {
		if err := p.createBindGroup(ctx); err != nil {
			return err
		}
	}
	return nil
}

// uploadTextureArray resamples every referenced texture to the shared
// layer size and rebuilds the array. Always at least one layer so the
// binding stays valid for texture-free scenes.
func (p *RayTracePass) uploadTextureArray(ctx *Context, ids []core.AssetId) error {
	layers := uint32(len(ids))
	if layers == 0 {
		layers = 1
	}

	if p.texArrayView != nil {
		p.texArrayView.Release()
		p.texArrayView = nil
	}
	if p.texArray != nil {
		p.texArray.Release()
		p.texArray = nil
	}

	tex, err := ctx.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "RayTextureArray",
		Size:          wgpu.Extent3D{Width: RTTextureSize, Height: RTTextureSize, DepthOrArrayLayers: layers},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatRGBA8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("ray texture array: %w", err)
	}

	white := image.NewRGBA(image.Rect(0, 0, 1, 1))
	white.Pix[0], white.Pix[1], white.Pix[2], white.Pix[3] = 255, 255, 255, 255

	for layer := uint32(0); layer < layers; layer++ {
		src := white
		if int(layer) < len(ids) {
			if img, ok := p.assets.Texture(ids[layer]); ok {
				src = img
			} else {
				ctx.Logger.Warnf("migrate: texture %s missing, layer %d stays white", ids[layer], layer)
			}
		}
		scaled := assets.ScaleRGBA(src, RTTextureSize, RTTextureSize)

		err = ctx.Queue.WriteTexture(
			&wgpu.ImageCopyTexture{
				Texture:  tex,
				MipLevel: 0,
				Origin:   wgpu.Origin3D{X: 0, Y: 0, Z: layer},
			},
			scaled.Pix,
			&wgpu.TextureDataLayout{BytesPerRow: 4 * RTTextureSize, RowsPerImage: RTTextureSize},
			&wgpu.Extent3D{Width: RTTextureSize, Height: RTTextureSize, DepthOrArrayLayers: 1})
		if err != nil {
			tex.Release()
			return fmt.Errorf("upload texture layer %d: %w", layer, err)
		}
	}

	view, err := tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           "RayTextureArray View",
		Format:          wgpu.TextureFormatRGBA8Unorm,
		Dimension:       wgpu.TextureViewDimension2DArray,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: layers,
	})
	if err != nil {
		tex.Release()
		return err
	}

	p.texArray = tex
	p.texArrayView = view

	// The view changed, so the bind group must follow.
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
	return nil
}

func (p *RayTracePass) createBindGroup(ctx *Context) error {
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
	bg, err := ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "RaytraceBG",
		Layout: p.bgl,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: p.trianglesBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: p.spheresBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: p.materialsBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: p.mgr.RayRecordsBuf, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: p.mgr.SeedCounterBuf, Size: wgpu.WholeSize},
			{Binding: 5, Buffer: p.mgr.SeedArgsBuf, Size: wgpu.WholeSize},
			{Binding: 6, Buffer: p.paramsBuf, Size: wgpu.WholeSize},
			{Binding: 7, TextureView: p.texArrayView},
			{Binding: 8, Sampler: p.texSampler},
		},
	})
	if err != nil {
		return err
	}
	p.bindGroup = bg
	return nil
}

// Render launches the ray kernel for the seeds of the current frame.
// Zero max bounces disables tracing entirely; an unmigrated scene
// migrates first.
func (p *RayTracePass) Render(ctx *Context, camera *core.Camera, renderables core.RenderableList, geometry *GeometryPass, maxBounces int) error {
	p.lastMaxBounces = maxBounces
	if maxBounces <= 0 {
		p.lastMaxBounces = 0
		return nil
	}
	if p.state != passInitialized {
		if err := p.build(ctx); err != nil {
			return err
		}
	}
	if !p.sceneReady {
		if err := p.Migrate(ctx, renderables); err != nil {
			return err
		}
	}
	if geometry.SeedCount() == 0 {
		return nil
	}

	params := make([]byte, 16)
	backface := uint32(0)
	if p.backfaceCulling {
		backface = 1
	}
	binary.LittleEndian.PutUint32(params[0:], uint32(len(p.flat.Spheres)))
	binary.LittleEndian.PutUint32(params[4:], uint32(maxBounces))
	binary.LittleEndian.PutUint32(params[8:], backface)
	ctx.Queue.WriteBuffer(p.paramsBuf, 0, params)

	encoder, err := ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, p.bindGroup, nil)
	pass.DispatchWorkgroupsIndirect(p.mgr.SeedArgsBuf, 0)
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

// SetBackfaceCulling switches the triangle test between one-sided and
// two-sided intersection for the following renders.
func (p *RayTracePass) SetBackfaceCulling(enabled bool) {
	p.backfaceCulling = enabled
}

// LastMaxBounces is the bounce cap of the last render call; the chain
// walk in the lighting resolve is bounded by it.
func (p *RayTracePass) LastMaxBounces() int {
	return p.lastMaxBounces
}

// ValidateChains reads the arena back and walks every chain seeded last
// frame, checking link integrity. Debug aid for the overlay; expensive.
func (p *RayTracePass) ValidateChains(ctx *Context, seedCount int, maxBounces int) (records int, broken int, err error) {
	if seedCount == 0 {
		return 0, 0, nil
	}

	countData, err := readBuffer(ctx, p.mgr.SeedCounterBuf, 0, 4)
	if err != nil {
		return 0, 0, err
	}
	total := binary.LittleEndian.Uint32(countData)
	if total > p.mgr.RayCapacity() {
		total = p.mgr.RayCapacity()
	}

	arena, err := readBuffer(ctx, p.mgr.RayRecordsBuf, 0, uint64(total)*RayRecordSize)
	if err != nil {
		return 0, 0, err
	}
	all := make([]RayRecord, total)
	for i := range all {
		all[i], err = UnmarshalRayRecord(arena[i*RayRecordSize:])
		if err != nil {
			return 0, 0, err
		}
	}

	for i := 0; i < seedCount && i < len(all); i++ {
		if _, werr := WalkChain(all, int32(i), maxBounces+1); werr != nil {
			broken++
		}
	}
	return int(total), broken, nil
}

func (p *RayTracePass) destroyResources() {
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
	if p.texArrayView != nil {
		p.texArrayView.Release()
		p.texArrayView = nil
	}
	if p.texArray != nil {
		p.texArray.Release()
		p.texArray = nil
	}
	if p.texSampler != nil {
		p.texSampler.Release()
		p.texSampler = nil
	}
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
	if p.bgl != nil {
		p.bgl.Release()
		p.bgl = nil
	}
	p.sceneReady = false
}

func (p *RayTracePass) Release() {
	p.destroyResources()
	for _, buf := range []**wgpu.Buffer{&p.trianglesBuf, &p.spheresBuf, &p.materialsBuf, &p.paramsBuf} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
	p.state = passUninitialized
}
