package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestTransformComposition(t *testing.T) {
	tr := NewTransform()
	tr.Position = mgl32.Vec3{10, 20, 30}
	tr.Rotation = mgl32.QuatRotate(1.2, mgl32.Vec3{0, 1, 0}.Normalize())
	tr.Scale = mgl32.Vec3{2, 2, 2}

	o2w := tr.ObjectToWorld()
	w2o := tr.WorldToObject()

	// Test that they are inverses
	identity := o2w.Mul4(w2o)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := float32(0)
			if i == j {
				want = 1
			}
			if !closeEnough(identity.At(i, j), want, 0.001) {
				t.Errorf("Identity element [%d,%d] should be %f, got %f", i, j, want, identity.At(i, j))
			}
		}
	}
}

func TestNormalMatrixNonUniformScale(t *testing.T) {
	tr := NewTransform()
	tr.Scale = mgl32.Vec3{2, 1, 1}

	// A plane with normal +X scaled 2x along X: the model matrix alone
	// would shrink nothing here, but a normal on a slanted surface
	// changes direction. Check against the slanted case.
	tr2 := NewTransform()
	tr2.Scale = mgl32.Vec3{1, 1, 4}

	n := mgl32.Vec3{0, 0.7071, 0.7071}
	nm := tr2.NormalMatrix()
	tn := nm.Mul3x1(n).Normalize()

	// Surface stretched along Z: normal should tilt toward Y
	if tn.Y() <= n.Y() {
		t.Errorf("Normal should tilt toward Y under Z stretch: got %v", tn)
	}

	// Uniform scale must leave directions unchanged
	tr3 := NewTransform()
	tr3.Scale = mgl32.Vec3{3, 3, 3}
	tn3 := tr3.NormalMatrix().Mul3x1(n).Normalize()
	if !closeEnough(tn3.X(), n.X(), 1e-4) || !closeEnough(tn3.Y(), n.Y(), 1e-4) || !closeEnough(tn3.Z(), n.Z(), 1e-4) {
		t.Errorf("Uniform scale should not change normal direction: got %v", tn3)
	}
}
