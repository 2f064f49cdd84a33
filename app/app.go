// Package app is the interactive shell around the render pipeline: it
// owns the window, the WebGPU device, the pass set and the frame loop.
package app

import (
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/prism3d/prism"
	"github.com/prism3d/prism/assets"
	"github.com/prism3d/prism/core"
	"github.com/prism3d/prism/gpu"
	"github.com/prism3d/prism/shaders"
)

// Config selects the window and the initial render settings. Zero
// values fall back to defaults.
type Config struct {
	Width    int
	Height   int
	Title    string
	Settings prism.RenderSettings
	Logger   prism.Logger
}

// App drives the deferred pipeline: shadow maps, G-buffer with ray
// seeding, traced reflections, lighting resolve, then the optional
// debug wireframe and text overlay straight onto the swapchain.
type App struct {
	Window   *glfw.Window
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration

	Log      prism.Logger
	Settings prism.RenderSettings

	Assets *assets.Server
	Scene  *core.Scene
	Camera *core.Camera

	Profiler *Profiler
	FPS      float64

	// Update, when set, runs every frame after input handling and
	// before rendering. dt is the frame delta in seconds.
	Update func(dt float64)

	// DebugMode turns on the wireframe overlay, debug logging and the
	// periodic reflection-chain validation.
	DebugMode bool

	ctx      *gpu.Context
	mgr      *gpu.Manager
	shadow   *gpu.ShadowPass
	geometry *gpu.GeometryPass
	raytrace *gpu.RayTracePass
	lighting *gpu.LightingPass
	wire     *gpu.WireframePass

	overlay         *TextOverlay
	textPipeline    *wgpu.RenderPipeline
	textBindGroup   *wgpu.BindGroup
	textAtlasView   *wgpu.TextureView
	textSampler     *wgpu.Sampler
	textVertexBuf   *wgpu.Buffer
	textVertexCount uint32
	textItems       []TextItem

	hasMigrated bool
	migratedGen uint64

	mouseCaptured          bool
	lastMouseX, lastMouseY float64

	seedCount    int
	chainInfo    string
	lastValidate float64

	lastTime       float64
	lastRenderTime float64
	frameCount     int
	fpsTime        float64

	warnedEmptyScene bool
}

func New(cfg Config) (*App, error) {
	runtime.LockOSThread()

	if cfg.Logger == nil {
		cfg.Logger = prism.NewDefaultLogger("prism", false)
	}
	cfg.Settings.Clamp()
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	if cfg.Title == "" {
		cfg.Title = "prism"
	}

	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("glfw init: %w", err)
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	window, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("create window: %w", err)
	}

	a := &App{
		Window:   window,
		Log:      cfg.Logger,
		Settings: cfg.Settings,
		Assets:   assets.NewServer(),
		Scene:    core.NewScene(),
		Camera:   core.NewCamera(),
		Profiler: NewProfiler(),
	}

	if err := a.initGPU(); err != nil {
		window.Destroy()
		glfw.Terminate()
		return nil, err
	}
	if err := a.initOverlay(); err != nil {
		a.Log.Warnf("text overlay disabled: %v", err)
	}
	a.installCallbacks()
	a.lastTime = glfw.GetTime()
	return a, nil
}

func (a *App) initGPU() error {
	a.Instance = wgpu.CreateInstance(nil)
	a.Surface = a.Instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(a.Window))

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return fmt.Errorf("request adapter: %w", err)
	}
	a.Adapter = adapter

	a.Device, err = adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	a.Queue = a.Device.GetQueue()

	width, height := a.Window.GetFramebufferSize()
	caps := a.Surface.GetCapabilities(adapter)
	a.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	a.Surface.Configure(adapter, a.Device, a.Config)

	a.ctx = gpu.NewContext(a.Device, a.Queue, a.Log, uint32(width), uint32(height))
	a.mgr = gpu.NewManager(a.Device, a.Queue)
	a.shadow = gpu.NewShadowPass(a.mgr, a.Settings.ShadowMapSize)
	a.geometry = gpu.NewGeometryPass(a.mgr, a.Assets)
	a.raytrace = gpu.NewRayTracePass(a.mgr, a.Assets)
	a.raytrace.SetBackfaceCulling(a.Settings.BackfaceCulling)
	a.lighting = gpu.NewLightingPass(a.mgr, a.Config.Format)
	a.wire = gpu.NewWireframePass(a.mgr, a.Config.Format)
	a.geometry.SetProjection(a.Camera.GetProjection(a.aspect()))
	return nil
}

func (a *App) aspect() float32 {
	if a.Config.Height == 0 {
		return 1
	}
	return float32(a.Config.Width) / float32(a.Config.Height)
}

func (a *App) initOverlay() error {
	overlay, err := NewTextOverlay(15)
	if err != nil {
		return err
	}

	w := overlay.Atlas.Bounds().Dx()
	h := overlay.Atlas.Bounds().Dy()
	tex, err := a.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "TextAtlas",
		Size:          wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatR8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("atlas texture: %w", err)
	}
	err = a.Queue.WriteTexture(tex.AsImageCopy(), overlay.Atlas.Pix,
		&wgpu.TextureDataLayout{BytesPerRow: uint32(w), RowsPerImage: uint32(h)},
		&wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1})
	tex.Release()
	if err != nil {
		return fmt.Errorf("atlas upload: %w", err)
	}
	a.textAtlasView, err = tex.CreateView(nil)
	if err != nil {
		return fmt.Errorf("atlas view: %w", err)
	}

	a.textSampler, err = a.Device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "TextSampler",
		MinFilter:     wgpu.FilterModeLinear,
		MagFilter:     wgpu.FilterModeLinear,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return fmt.Errorf("text sampler: %w", err)
	}

	module, err := a.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "TextShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.TextWGSL},
	})
	if err != nil {
		return fmt.Errorf("text shader: %w", err)
	}
	defer module.Release()

	a.textPipeline, err = a.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "TextPipeline",
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{{
				ArrayStride: uint64(unsafe.Sizeof(TextVertex{})),
				StepMode:    wgpu.VertexStepModeVertex,
				Attributes: []wgpu.VertexAttribute{
					{Format: wgpu.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
					{Format: wgpu.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1},
					{Format: wgpu.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 2},
				},
			}},
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format: a.Config.Format,
				Blend: &wgpu.BlendState{
					Color: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactorSrcAlpha,
						DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
						Operation: wgpu.BlendOperationAdd,
					},
					Alpha: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactorOne,
						DstFactor: wgpu.BlendFactorOne,
						Operation: wgpu.BlendOperationAdd,
					},
				},
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
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
		return fmt.Errorf("text pipeline: %w", err)
	}

	a.textBindGroup, err = a.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "TextBG",
		Layout: a.textPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: a.textAtlasView},
			{Binding: 1, Sampler: a.textSampler},
		},
	})
	if err != nil {
		return fmt.Errorf("text bind group: %w", err)
	}

	a.overlay = overlay
	return nil
}

func (a *App) installCallbacks() {
	a.Window.SetFramebufferSizeCallback(func(_ *glfw.Window, w, h int) {
		a.resize(w, h)
	})
	a.Window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyTab:
			a.setMouseCaptured(!a.mouseCaptured)
		case glfw.KeyF1:
			a.Settings.Overlay = !a.Settings.Overlay
		case glfw.KeyF2:
			a.SetDebugMode(!a.DebugMode)
		case glfw.KeyR:
			// Force a re-flatten so reflections pick up moved objects.
			a.Scene.Touch()
		}
	})
}

func (a *App) setMouseCaptured(captured bool) {
	a.mouseCaptured = captured
	if captured {
		a.Window.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
	} else {
		a.Window.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
	}
	a.lastMouseX, a.lastMouseY = a.Window.GetCursorPos()
}

func (a *App) SetDebugMode(on bool) {
	a.DebugMode = on
	a.Log.SetDebug(on)
}

func (a *App) resize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	a.Config.Width = uint32(w)
	a.Config.Height = uint32(h)
	a.Surface.Configure(a.Adapter, a.Device, a.Config)

	a.ctx.Width = uint32(w)
	a.ctx.Height = uint32(h)
	a.geometry.SetProjection(a.Camera.GetProjection(a.aspect()))

	// The G-buffer and ray arena are sized to the drawable; everything
	// reading them rebuilds. Shadow maps keep their own resolution.
	a.geometry.MarkDirty()
	a.raytrace.MarkDirty()
	a.lighting.MarkDirty()
	a.wire.MarkDirty()
}

func (a *App) keyDown(k glfw.Key) bool {
	return a.Window.GetKey(k) == glfw.Press
}

func (a *App) updateCamera(dt float64) {
	if a.mouseCaptured {
		mx, my := a.Window.GetCursorPos()
		dx := float32(mx - a.lastMouseX)
		dy := float32(my - a.lastMouseY)
		a.lastMouseX, a.lastMouseY = mx, my

		a.Camera.Yaw += dx * a.Camera.Sensitivity
		a.Camera.Pitch -= dy * a.Camera.Sensitivity
		limit := float32(math.Pi/2 - 0.01)
		if a.Camera.Pitch > limit {
			a.Camera.Pitch = limit
		}
		if a.Camera.Pitch < -limit {
			a.Camera.Pitch = -limit
		}
	}

	move := float32(dt) * a.Camera.Speed
	forward := a.Camera.GetForward()
	right := a.Camera.GetRight()
	if a.keyDown(glfw.KeyW) {
		a.Camera.Position = a.Camera.Position.Add(forward.Mul(move))
	}
	if a.keyDown(glfw.KeyS) {
		a.Camera.Position = a.Camera.Position.Sub(forward.Mul(move))
	}
	if a.keyDown(glfw.KeyA) {
		a.Camera.Position = a.Camera.Position.Sub(right.Mul(move))
	}
	if a.keyDown(glfw.KeyD) {
		a.Camera.Position = a.Camera.Position.Add(right.Mul(move))
	}
	up := mgl32.Vec3{0, 1, 0}
	if a.keyDown(glfw.KeySpace) {
		a.Camera.Position = a.Camera.Position.Add(up.Mul(move))
	}
	if a.keyDown(glfw.KeyLeftShift) {
		a.Camera.Position = a.Camera.Position.Sub(up.Mul(move))
	}
}

// Run is the frame loop. It returns when the window closes; per-frame
// errors are logged and the frame skipped.
func (a *App) Run() error {
	for !a.Window.ShouldClose() {
		glfw.PollEvents()

		now := glfw.GetTime()
		dt := now - a.lastTime
		a.lastTime = now

		a.updateCamera(dt)
		if a.Update != nil {
			a.Update(dt)
		}
		if err := a.Frame(); err != nil {
			a.Log.Errorf("frame: %v", err)
		}
	}
	return nil
}

// Frame renders one frame: scene sync, migration if the scene changed,
// then the pass chain onto the current swapchain image.
func (a *App) Frame() error {
	a.Profiler.Reset()
	a.ClearText()

	renderables, err := core.BuildRenderables(a.Scene)
	if err != nil {
		if !a.warnedEmptyScene {
			a.Log.Warnf("nothing to render: %v", err)
			a.warnedEmptyScene = true
		}
		return nil
	}
	a.warnedEmptyScene = false

	a.Profiler.BeginScope("sync")
	if err := a.syncScene(renderables); err != nil {
		return err
	}
	a.Profiler.EndScope("sync")

	if gen := a.Scene.Generation(); !a.hasMigrated || gen != a.migratedGen {
		a.Profiler.BeginScope("migrate")
		if err := a.raytrace.Migrate(a.ctx, renderables); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.Profiler.EndScope("migrate")
		a.hasMigrated = true
		a.migratedGen = gen
	}

	next, err := a.Surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("surface texture: %w", err)
	}
	defer next.Release()
	view, err := next.CreateView(nil)
	if err != nil {
		return fmt.Errorf("surface view: %w", err)
	}
	defer view.Release()

	a.Profiler.BeginScope("shadow")
	if err := a.shadow.Render(a.ctx, renderables); err != nil {
		return fmt.Errorf("shadow pass: %w", err)
	}
	a.Profiler.EndScope("shadow")

	a.Profiler.BeginScope("geometry")
	seeds, err := a.geometry.Render(a.ctx, a.Camera.GetViewMatrix(), renderables, a.Settings.RoughnessThreshold)
	if err != nil {
		return fmt.Errorf("geometry pass: %w", err)
	}
	a.seedCount = seeds
	a.Profiler.EndScope("geometry")

	a.Profiler.BeginScope("raytrace")
	if err := a.raytrace.Render(a.ctx, a.Camera, renderables, a.geometry, a.Settings.MaxBounces); err != nil {
		return fmt.Errorf("raytrace pass: %w", err)
	}
	a.Profiler.EndScope("raytrace")

	a.Profiler.BeginScope("lighting")
	if err := a.lighting.Render(a.ctx, a.geometry, a.shadow, a.raytrace, renderables, view); err != nil {
		return fmt.Errorf("lighting pass: %w", err)
	}
	a.Profiler.EndScope("lighting")

	a.Profiler.SetCount("rays", seeds)
	a.Profiler.SetCount("meshes", renderables.MeshCount())
	a.Profiler.SetCount("lights", renderables.LightCount)

	if a.DebugMode {
		if err := a.wire.Render(a.ctx, renderables, a.raytrace.Scene(), a.Settings.RoughnessThreshold, view); err != nil {
			a.Log.Errorf("wireframe pass: %v", err)
		}
		a.validateChains()
	}

	if a.Settings.Overlay {
		a.buildOverlayText()
	}
	a.renderText(view)

	a.Surface.Present()
	a.updateFPS()
	return nil
}

func (a *App) syncScene(renderables core.RenderableList) error {
	for _, el := range renderables.Meshes() {
		mesh, ok := a.Assets.Mesh(el.Mesh.Mesh)
		if !ok {
			a.Log.Warnf("scene references unknown mesh %s", el.Mesh.Mesh)
			continue
		}
		if _, err := a.mgr.EnsureMesh(el.Mesh.Mesh, mesh); err != nil {
			return fmt.Errorf("upload mesh %s: %w", el.Mesh.Mesh, err)
		}
	}
	return nil
}

// validateChains re-walks the ray arena about once a second; the
// result stays on the overlay until the next run.
func (a *App) validateChains() {
	now := glfw.GetTime()
	if now-a.lastValidate < 1.0 {
		return
	}
	a.lastValidate = now

	records, broken, err := a.raytrace.ValidateChains(a.ctx, a.seedCount, a.Settings.MaxBounces)
	if err != nil {
		a.chainInfo = fmt.Sprintf("chains: validation failed: %v", err)
		return
	}
	a.chainInfo = fmt.Sprintf("chains: %d records, %d broken", records, broken)
	if broken > 0 {
		a.Log.Errorf("%s", a.chainInfo)
	}
}

func (a *App) buildOverlayText() {
	white := [4]float32{1, 1, 1, 1}
	text := fmt.Sprintf("FPS %.1f\n%s", a.FPS, a.Profiler.StatsString())
	a.DrawText(text, 10, 10, 1, white)

	if a.DebugMode && a.chainInfo != "" {
		yellow := [4]float32{1, 0.9, 0.2, 1}
		_, h := a.overlayMeasure(text)
		a.DrawText(a.chainInfo, 10, 16+h, 1, yellow)
	}
}

func (a *App) overlayMeasure(text string) (float32, float32) {
	if a.overlay == nil {
		return 0, 0
	}
	return a.overlay.Measure(text, 1)
}

func (a *App) ClearText() {
	a.textItems = a.textItems[:0]
	a.textVertexCount = 0
}

// DrawText queues a text block for this frame, position in pixels from
// the top-left corner.
func (a *App) DrawText(text string, x, y, scale float32, color [4]float32) {
	a.textItems = append(a.textItems, TextItem{
		Text:     text,
		Position: [2]float32{x, y},
		Scale:    scale,
		Color:    color,
	})
}

func (a *App) renderText(view *wgpu.TextureView) {
	if a.overlay == nil || a.textPipeline == nil || len(a.textItems) == 0 {
		return
	}
	vertices := a.overlay.BuildVertices(a.textItems, int(a.Config.Width), int(a.Config.Height))
	if len(vertices) == 0 {
		return
	}

	raw := wgpu.ToBytes(vertices)
	if a.textVertexBuf == nil || a.textVertexBuf.GetSize() < uint64(len(raw)) {
		if a.textVertexBuf != nil {
			a.textVertexBuf.Release()
		}
		var err error
		a.textVertexBuf, err = a.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "TextVB",
			Size:  uint64(len(raw)),
			Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			a.Log.Errorf("text vertex buffer: %v", err)
			a.textVertexBuf = nil
			return
		}
	}
	a.Queue.WriteBuffer(a.textVertexBuf, 0, raw)
	a.textVertexCount = uint32(len(vertices))

	encoder, err := a.Device.CreateCommandEncoder(nil)
	if err != nil {
		a.Log.Errorf("text encoder: %v", err)
		return
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "TextPass",
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:    view,
			LoadOp:  wgpu.LoadOpLoad,
			StoreOp: wgpu.StoreOpStore,
		}},
	})
	pass.SetPipeline(a.textPipeline)
	pass.SetBindGroup(0, a.textBindGroup, nil)
	pass.SetVertexBuffer(0, a.textVertexBuf, 0, uint64(len(raw)))
	pass.Draw(a.textVertexCount, 1, 0, 0)
	if err := pass.End(); err != nil {
		a.Log.Errorf("text pass: %v", err)
		return
	}
	pass.Release()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		a.Log.Errorf("text encoder finish: %v", err)
		return
	}
	a.Queue.Submit(cmd)
}

func (a *App) updateFPS() {
	now := glfw.GetTime()
	if a.lastRenderTime > 0 {
		a.frameCount++
		a.fpsTime += now - a.lastRenderTime
		if a.fpsTime >= 1.0 {
			a.FPS = float64(a.frameCount) / a.fpsTime
			a.frameCount = 0
			a.fpsTime = 0
		}
	}
	a.lastRenderTime = now
}

// Destroy releases GPU resources and tears the window down. The app is
// unusable afterwards.
func (a *App) Destroy() {
	if a.textVertexBuf != nil {
		a.textVertexBuf.Release()
		a.textVertexBuf = nil
	}
	if a.textBindGroup != nil {
		a.textBindGroup.Release()
		a.textBindGroup = nil
	}
	if a.textPipeline != nil {
		a.textPipeline.Release()
		a.textPipeline = nil
	}
	if a.textAtlasView != nil {
		a.textAtlasView.Release()
		a.textAtlasView = nil
	}
	if a.textSampler != nil {
		a.textSampler.Release()
		a.textSampler = nil
	}

	if a.wire != nil {
		a.wire.Release()
	}
	if a.lighting != nil {
		a.lighting.Release()
	}
	if a.raytrace != nil {
		a.raytrace.Release()
	}
	if a.geometry != nil {
		a.geometry.Release()
	}
	if a.shadow != nil {
		a.shadow.Release()
	}
	if a.mgr != nil {
		a.mgr.Release()
	}
	if a.Instance != nil {
		a.Instance.Release()
	}
	if a.Window != nil {
		a.Window.Destroy()
	}
	glfw.Terminate()
}
