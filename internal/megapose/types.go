package megapose

import (
	"encoding/json"
	"fmt"
	"image"

	"github.com/danmuck/posewire/internal/protocol/codec"
)

// Rect is an axis-aligned box in pixel coordinates. On the wire it is the
// array [left, top, right, bottom].
type Rect struct {
	Left, Top, Width, Height float64
}

func NewRect(left, top, width, height float64) Rect {
	return Rect{Left: left, Top: top, Width: width, Height: height}
}

func (r Rect) Right() float64 {
	return r.Left + r.Width
}

func (r Rect) Bottom() float64 {
	return r.Top + r.Height
}

func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{r.Left, r.Top, r.Right(), r.Bottom()})
}

func (r *Rect) UnmarshalJSON(b []byte) error {
	var v []float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if len(v) != 4 {
		return fmt.Errorf("megapose: box has %d values, want 4", len(v))
	}
	*r = Rect{Left: v[0], Top: v[1], Width: v[2] - v[0], Height: v[3] - v[1]}
	return nil
}

// CameraParameters are pinhole intrinsics without distortion.
type CameraParameters struct {
	Px, Py float64
	U0, V0 float64
}

// PoseEstimate is one object pose returned by the service.
type PoseEstimate struct {
	Label       string
	Pose        codec.Matrix4
	Score       *float64
	BoundingBox Rect
}

// EstimateRequest describes one pose estimation call. Detections and
// InitialPoses are optional; a nil slice means "not provided".
type EstimateRequest struct {
	Image  *image.RGBA
	Labels []string

	Detections   []Rect
	InitialPoses []codec.Matrix4

	// Depth is optional. When set, DepthToMeters must be positive.
	Depth         *image.Gray16
	DepthToMeters float64

	// RefinerIterations overrides the server default when non-nil.
	RefinerIterations *int
}

// View types understood by the service's renderer.
const (
	ViewFull      = "full"
	ViewWireframe = "wireframe"
	ViewOverlay   = "overlay"
)
