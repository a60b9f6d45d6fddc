package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/facecrop/pkg/types"
)

func TestTargetDimensions(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		ratio  types.AspectRatio
		expect Dimensions
	}{
		{"wide to square", 1000, 500, types.AspectRatio{Width: 1, Height: 1}, Dimensions{types.AxisWidth, 500, 500}},
		{"tall to square", 300, 900, types.AspectRatio{Width: 1, Height: 1}, Dimensions{types.AxisHeight, 300, 300}},
		{"landscape to widescreen", 400, 300, types.AspectRatio{Width: 16, Height: 9}, Dimensions{types.AxisHeight, 400, 225}},
		{"landscape to portrait", 400, 300, types.AspectRatio{Width: 3, Height: 4}, Dimensions{types.AxisWidth, 225, 300}},
		{"magnitude does not matter", 400, 300, types.AspectRatio{Width: 1.5, Height: 2}, Dimensions{types.AxisWidth, 225, 300}},
		{"rounds to nearest", 100, 100, types.AspectRatio{Width: 3, Height: 2}, Dimensions{types.AxisHeight, 100, 67}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dims, err := TargetDimensions(tt.w, tt.h, tt.ratio)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, dims)
		})
	}
}

func TestTargetDimensionsFallback(t *testing.T) {
	// a ratio so extreme the rounded height is zero
	dims, err := TargetDimensions(10, 10, types.AspectRatio{Width: 1000, Height: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFallback))
	assert.Equal(t, types.AxisHeight, dims.Axis)
	assert.Equal(t, 10, dims.Width)
	assert.Equal(t, 10, dims.Height, "height must fall back to the original")
}

func TestTargetDimensionsInvalidInput(t *testing.T) {
	_, err := TargetDimensions(0, 10, types.AspectRatio{Width: 1, Height: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = TargetDimensions(10, 10, types.AspectRatio{Width: 0, Height: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = TargetDimensions(10, 10, types.AspectRatio{Width: math.Inf(1), Height: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDefaultBounds(t *testing.T) {
	b := DefaultBounds(1000, 500, Dimensions{types.AxisWidth, 500, 500})
	assert.Equal(t, types.Bounds{MinX: 250, MaxX: 750, MinY: 0, MaxY: 500}, b)

	b = DefaultBounds(300, 900, Dimensions{types.AxisHeight, 300, 300})
	assert.Equal(t, types.Bounds{MinX: 0, MaxX: 300, MinY: 300, MaxY: 600}, b)
}

func TestUnionBounds(t *testing.T) {
	def := types.Bounds{MinX: 1, MaxX: 2, MinY: 3, MaxY: 4}
	assert.Equal(t, def, UnionBounds(def, nil))

	faces := []types.BoundingBox{
		{X: 800, Y: 100, Width: 100, Height: 100},
		{X: 20, Y: 300, Width: 50, Height: 40},
		{X: 800, Y: 100, Width: 100, Height: 100}, // duplicate
	}
	assert.Equal(t, types.Bounds{MinX: 20, MaxX: 900, MinY: 100, MaxY: 340}, UnionBounds(def, faces))
}

func TestComputeWorkedExample(t *testing.T) {
	faces := []types.BoundingBox{{X: 800, Y: 100, Width: 100, Height: 100}}
	plan, err := Compute(1000, 500, types.AspectRatio{Width: 1, Height: 1}, faces, PolicyHeadBias)
	require.NoError(t, err)

	assert.Equal(t, types.AxisWidth, plan.Axis)
	assert.Equal(t, types.Bounds{MinX: 800, MaxX: 900, MinY: 100, MaxY: 200}, plan.Bounds)
	assert.Equal(t, types.CropRectangle{X: 500, Y: 0, Width: 500, Height: 500}, plan.Rect)
	assert.False(t, plan.Fallback)
}

func TestComputeNoFacesCentres(t *testing.T) {
	for _, policy := range []Policy{PolicyHeadBias, PolicyCenter} {
		plan, err := Compute(300, 900, types.AspectRatio{Width: 1, Height: 1}, nil, policy)
		require.NoError(t, err)
		assert.Equal(t, types.CropRectangle{X: 0, Y: 300, Width: 300, Height: 300}, plan.Rect, policy.String())

		plan, err = Compute(1000, 500, types.AspectRatio{Width: 1, Height: 1}, nil, policy)
		require.NoError(t, err)
		assert.Equal(t, types.CropRectangle{X: 250, Y: 0, Width: 500, Height: 500}, plan.Rect, policy.String())
	}
}

func TestComputeFaceEqualToDefaultBounds(t *testing.T) {
	sizes := [][2]int{{300, 900}, {1000, 500}, {640, 480}, {123, 457}}
	ratio := types.AspectRatio{Width: 1, Height: 1}

	for _, policy := range []Policy{PolicyHeadBias, PolicyCenter} {
		for _, sz := range sizes {
			empty, err := Compute(sz[0], sz[1], ratio, nil, policy)
			require.NoError(t, err)

			def := DefaultBounds(sz[0], sz[1], empty.Dimensions)
			face := types.BoundingBox{X: def.MinX, Y: def.MinY, Width: def.MaxX - def.MinX, Height: def.MaxY - def.MinY}
			withFace, err := Compute(sz[0], sz[1], ratio, []types.BoundingBox{face}, policy)
			require.NoError(t, err)

			assert.Equal(t, empty.Rect, withFace.Rect, "%v %dx%d", policy, sz[0], sz[1])
		}
	}
}

func TestComputeHeadBias(t *testing.T) {
	// portrait image cropped to square, face near the top
	faces := []types.BoundingBox{{X: 100, Y: 200, Width: 100, Height: 100}}

	plan, err := Compute(300, 900, types.AspectRatio{Width: 1, Height: 1}, faces, PolicyHeadBias)
	require.NoError(t, err)
	assert.Equal(t, 200-300/5, plan.Rect.Y)

	plan, err = Compute(300, 900, types.AspectRatio{Width: 1, Height: 1}, faces, PolicyCenter)
	require.NoError(t, err)
	assert.Equal(t, (200+300-300)/2, plan.Rect.Y)
}

func TestComputeIdempotent(t *testing.T) {
	cases := []struct {
		w, h  int
		ratio types.AspectRatio
	}{
		{1920, 1080, types.AspectRatio{Width: 16, Height: 9}},
		{500, 500, types.AspectRatio{Width: 1, Height: 1}},
		{300, 400, types.AspectRatio{Width: 3, Height: 4}},
		{1000, 500, types.AspectRatio{Width: 2, Height: 1}},
	}
	faces := []types.BoundingBox{{X: 10, Y: 10, Width: 50, Height: 50}}

	for _, c := range cases {
		for _, f := range [][]types.BoundingBox{nil, faces} {
			plan, err := Compute(c.w, c.h, c.ratio, f, PolicyHeadBias)
			require.NoError(t, err)
			assert.Equal(t, types.CropRectangle{X: 0, Y: 0, Width: c.w, Height: c.h}, plan.Rect)
		}
	}
}

func TestComputeContainmentAndRatio(t *testing.T) {
	sizes := [][2]int{{1, 1}, {1, 700}, {700, 1}, {640, 480}, {480, 640}, {1000, 500}, {4032, 3024}, {37, 1013}}
	ratios := []types.AspectRatio{
		{Width: 1, Height: 1}, {Width: 16, Height: 9}, {Width: 9, Height: 16},
		{Width: 4, Height: 5}, {Width: 3, Height: 2}, {Width: 2.39, Height: 1},
	}
	faceSets := [][]types.BoundingBox{
		nil,
		{{X: -50, Y: -50, Width: 100, Height: 100}},
		{{X: 5000, Y: 5000, Width: 300, Height: 300}},
		{{X: -1000, Y: 10, Width: 9000, Height: 9000}},
		{{X: 10, Y: 10, Width: 0, Height: 0}, {X: 600, Y: 400, Width: 20, Height: 20}},
	}

	for _, sz := range sizes {
		for _, ratio := range ratios {
			for _, faces := range faceSets {
				for _, policy := range []Policy{PolicyHeadBias, PolicyCenter} {
					plan, err := Compute(sz[0], sz[1], ratio, faces, policy)
					if err != nil {
						require.ErrorIs(t, err, ErrFallback)
					}
					r := plan.Rect
					require.True(t, r.Within(sz[0], sz[1]), "crop %v outside %dx%d", r, sz[0], sz[1])

					if plan.Fallback {
						continue
					}
					// one-pixel rounding tolerance on the cropped axis
					if plan.Axis == types.AxisWidth {
						assert.InDelta(t, float64(r.Height)*ratio.Value(), float64(r.Width), 1.0)
					} else {
						assert.InDelta(t, float64(r.Width)/ratio.Value(), float64(r.Height), 1.0)
					}
				}
			}
		}
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyHeadBias, p)

	p, err = ParsePolicy("center")
	require.NoError(t, err)
	assert.Equal(t, PolicyCenter, p)

	_, err = ParsePolicy("thirds")
	assert.Error(t, err)
}

func BenchmarkCompute(b *testing.B) {
	faces := []types.BoundingBox{{X: 800, Y: 100, Width: 100, Height: 100}, {X: 200, Y: 300, Width: 80, Height: 80}}
	ratio := types.AspectRatio{Width: 4, Height: 5}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Compute(1920, 1080, ratio, faces, PolicyHeadBias)
	}
}
