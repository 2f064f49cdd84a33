package shaders

import (
	_ "embed"
)

//go:embed shadow_map.wgsl
var ShadowMapWGSL string

//go:embed gbuffer.wgsl
var GBufferWGSL string

//go:embed seed_args.wgsl
var SeedArgsWGSL string

//go:embed raytrace.wgsl
var RaytraceWGSL string

//go:embed deferred_lighting.wgsl
var DeferredLightingWGSL string

//go:embed gizmo.wgsl
var GizmoWGSL string

//go:embed text.wgsl
var TextWGSL string
