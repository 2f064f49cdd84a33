package core

// MeshObject places a registered mesh asset in the world with a
// material and a transform.
type MeshObject struct {
	Transform Transform
	Mesh      AssetId
	Material  AssetId
}

func NewMeshObject(mesh, material AssetId) *MeshObject {
	return &MeshObject{
		Transform: NewTransform(),
		Mesh:      mesh,
		Material:  material,
	}
}

type Scene struct {
	Objects []*MeshObject
	Lights  []*Light

	generation uint64
}

func NewScene() *Scene {
	return &Scene{
		Objects: []*MeshObject{},
	}
}

// Generation counts structural/geometry edits. The renderer compares it
// against the last migrated value to decide when the flattened scene
// must be rebuilt.
func (s *Scene) Generation() uint64 {
	return s.generation
}

// Touch marks the scene geometry as changed without a structural edit
// (e.g. a transform was moved in place).
func (s *Scene) Touch() {
	s.generation++
}

func (s *Scene) AddObject(obj *MeshObject) {
	s.Objects = append(s.Objects, obj)
	s.generation++
}

func (s *Scene) RemoveObject(obj *MeshObject) {
	for i, o := range s.Objects {
		if o == obj {
			s.Objects = append(s.Objects[:i], s.Objects[i+1:]...)
			s.generation++
			return
		}
	}
}

func (s *Scene) AddLight(l *Light) {
	s.Lights = append(s.Lights, l)
	s.generation++
}

func (s *Scene) RemoveLight(l *Light) {
	for i, o := range s.Lights {
		if o == l {
			s.Lights = append(s.Lights[:i], s.Lights[i+1:]...)
			s.generation++
			return
		}
	}
}
