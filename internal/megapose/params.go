package megapose

import (
	"encoding/json"
	"fmt"

	"github.com/danmuck/posewire/internal/protocol/codec"
)

// Request parameter documents. They travel as one length-prefixed JSON
// string inside the binary payload.

// EstimateParams keeps Detections and InitialPoses behind pointers: a nil
// pointer omits the key, while a given but empty list is sent as [].
type EstimateParams struct {
	Labels            []string         `json:"labels"`
	Detections        *[]Rect          `json:"detections,omitempty"`
	InitialPoses      *[]codec.Matrix4 `json:"initial_cTos,omitempty"`
	RefinerIterations *int             `json:"refiner_iterations,omitempty"`
	UseDepth          bool             `json:"use_depth"`
	DepthScaleToM     float64          `json:"depth_scale_to_m,omitempty"`
}

func newEstimateParams(req EstimateRequest) EstimateParams {
	params := EstimateParams{
		Labels:   req.Labels,
		UseDepth: req.Depth != nil,
	}
	if params.Labels == nil {
		params.Labels = []string{}
	}
	if req.Detections != nil {
		params.Detections = &req.Detections
	}
	if req.InitialPoses != nil {
		params.InitialPoses = &req.InitialPoses
	}
	if req.RefinerIterations != nil && *req.RefinerIterations >= 0 {
		params.RefinerIterations = req.RefinerIterations
	}
	if req.Depth != nil {
		params.DepthScaleToM = req.DepthToMeters
	}
	return params
}

type ScoreParams struct {
	Poses  []codec.Matrix4 `json:"cTos"`
	Labels []string        `json:"labels"`
}

type ViewParams struct {
	Labels []string        `json:"labels"`
	Poses  []codec.Matrix4 `json:"poses"`
	Type   string          `json:"type"`
}

type IntrinsicsParams struct {
	Px     float64 `json:"px"`
	Py     float64 `json:"py"`
	U0     float64 `json:"u0"`
	V0     float64 `json:"v0"`
	Height int     `json:"h"`
	Width  int     `json:"w"`
}

type GridParams struct {
	SO3GridSize int `json:"so3_grid_size"`
}

// EstimateResult is one element of the RET_POSE document.
type EstimateResult struct {
	Label       string    `json:"label,omitempty"`
	Pose        []float64 `json:"cTo"`
	Score       *float64  `json:"score,omitempty"`
	BoundingBox Rect      `json:"boundingBox"`
}

func encodeParams(e *codec.Encoder, params any) error {
	doc, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("megapose: encode params: %w", err)
	}
	e.PutString(string(doc))
	return nil
}

// decodeDocument reads the JSON string that forms a reply payload.
func decodeDocument(payload []byte, out any) error {
	doc, err := codec.NewDecoder(payload).String()
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("%w: %w", ErrBadReply, err)
	}
	return nil
}

func (r EstimateResult) toEstimate(fallbackLabel string) (PoseEstimate, error) {
	var pose codec.Matrix4
	if len(r.Pose) != len(pose) {
		return PoseEstimate{}, fmt.Errorf("%w: cTo has %d values, want %d", ErrBadReply, len(r.Pose), len(pose))
	}
	copy(pose[:], r.Pose)
	label := r.Label
	if label == "" {
		label = fallbackLabel
	}
	return PoseEstimate{
		Label:       label,
		Pose:        pose,
		Score:       r.Score,
		BoundingBox: r.BoundingBox,
	}, nil
}
