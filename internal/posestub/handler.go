package posestub

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/danmuck/posewire/internal/megapose"
	"github.com/danmuck/posewire/internal/observability"
	"github.com/danmuck/posewire/internal/protocol"
	"github.com/danmuck/posewire/internal/protocol/codec"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoIntrinsics       = errors.New("camera intrinsics not set")
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// Grid sizes the coarse estimator accepts.
var so3GridSizes = map[int]bool{72: true, 512: true, 576: true, 4608: true}

const defaultSO3GridSize = 72

// Handle answers one request. Failures become an ERROR reply carrying the
// reason; Handle itself never fails.
func (s *Server) Handle(req protocol.Message) protocol.Message {
	s.requests.Add(1)
	reply, err := s.dispatch(req)
	status := "ok"
	if err != nil {
		status = "error"
		log.Warn().Err(err).Stringer("command", req.Command).Msg("posestub request rejected")
		reply = protocol.ErrorMessage(err.Error())
	}
	observability.RecordStubRequest(req.Command.String(), status)
	return reply
}

func (s *Server) dispatch(req protocol.Message) (protocol.Message, error) {
	switch req.Command {
	case protocol.CommandGetPose:
		return s.estimate(req.Payload)
	case protocol.CommandGetScore:
		return s.score(req.Payload)
	case protocol.CommandGetViz:
		return s.view(req.Payload)
	case protocol.CommandSetIntrinsics:
		return s.setIntrinsics(req.Payload)
	case protocol.CommandSetGridSize:
		return s.setGridSize(req.Payload)
	default:
		return protocol.Message{}, fmt.Errorf("%w %s", ErrUnsupportedCommand, req.Command)
	}
}

func (s *Server) estimate(payload []byte) (protocol.Message, error) {
	d := codec.NewDecoder(payload)
	img, err := d.ImageRGBA()
	if err != nil {
		return protocol.Message{}, fmt.Errorf("decode image: %w", err)
	}
	var params megapose.EstimateParams
	if err := readParams(d, &params); err != nil {
		return protocol.Message{}, err
	}
	cam, err := s.camera()
	if err != nil {
		return protocol.Message{}, err
	}
	if b := img.Bounds(); b.Dx() != cam.Width || b.Dy() != cam.Height {
		return protocol.Message{}, fmt.Errorf("image is %dx%d, intrinsics expect %dx%d", b.Dx(), b.Dy(), cam.Width, cam.Height)
	}

	n := len(params.Labels)
	if params.Detections == nil && params.InitialPoses == nil {
		return protocol.Message{}, fmt.Errorf("either detections or initial_cTos are required")
	}
	var detections []megapose.Rect
	if params.Detections != nil {
		if detections = *params.Detections; len(detections) != n {
			return protocol.Message{}, fmt.Errorf("%d detections for %d labels", len(detections), n)
		}
	}
	var initial []codec.Matrix4
	if params.InitialPoses != nil {
		if initial = *params.InitialPoses; len(initial) != n {
			return protocol.Message{}, fmt.Errorf("%d initial poses for %d labels", len(initial), n)
		}
	}

	var depth *image.Gray16
	if params.UseDepth {
		if params.DepthScaleToM <= 0 {
			return protocol.Message{}, fmt.Errorf("depth_scale_to_m must be positive")
		}
		if depth, err = d.ImageDepth16(); err != nil {
			return protocol.Message{}, fmt.Errorf("decode depth: %w", err)
		}
		if depth.Bounds() != img.Bounds() {
			return protocol.Message{}, fmt.Errorf("depth is %v, image is %v", depth.Bounds().Size(), img.Bounds().Size())
		}
	}
	if d.Remaining() != 0 {
		return protocol.Message{}, fmt.Errorf("%d trailing bytes after request", d.Remaining())
	}

	results := make([]megapose.EstimateResult, n)
	for i := range params.Labels {
		var pose codec.Matrix4
		var box megapose.Rect
		if initial != nil {
			pose = initial[i]
			if box, err = projectBox(cam, pose); err != nil {
				return protocol.Message{}, fmt.Errorf("initial pose %d: %w", i, err)
			}
		} else {
			box = detections[i]
			pose = backProject(cam, box, sampleDepth(depth, box, params.DepthScaleToM))
		}
		score := ScoreFor(pose)
		results[i] = megapose.EstimateResult{
			Pose:        append([]float64(nil), pose[:]...),
			Score:       &score,
			BoundingBox: box,
		}
	}
	return documentMessage(protocol.CommandRetPose, results)
}

func (s *Server) score(payload []byte) (protocol.Message, error) {
	d := codec.NewDecoder(payload)
	if _, err := d.ImageRGBA(); err != nil {
		return protocol.Message{}, fmt.Errorf("decode image: %w", err)
	}
	var params megapose.ScoreParams
	if err := readParams(d, &params); err != nil {
		return protocol.Message{}, err
	}
	if len(params.Poses) != len(params.Labels) {
		return protocol.Message{}, fmt.Errorf("%d poses for %d labels", len(params.Poses), len(params.Labels))
	}
	scores := make([]float64, len(params.Poses))
	for i, pose := range params.Poses {
		scores[i] = ScoreFor(pose)
	}
	return documentMessage(protocol.CommandRetScore, scores)
}

func (s *Server) view(payload []byte) (protocol.Message, error) {
	var params megapose.ViewParams
	if err := readParams(codec.NewDecoder(payload), &params); err != nil {
		return protocol.Message{}, err
	}
	if len(params.Poses) != len(params.Labels) {
		return protocol.Message{}, fmt.Errorf("%d poses for %d labels", len(params.Poses), len(params.Labels))
	}
	cam, err := s.camera()
	if err != nil {
		return protocol.Message{}, err
	}

	var background color.RGBA
	switch params.Type {
	case megapose.ViewFull, megapose.ViewWireframe:
		background = color.RGBA{A: 0xff}
	case megapose.ViewOverlay:
		background = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	default:
		return protocol.Message{}, fmt.Errorf("unknown visualization type %q", params.Type)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, cam.Width, cam.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	for i, pose := range params.Poses {
		box, err := projectBox(cam, pose)
		if err != nil {
			return protocol.Message{}, fmt.Errorf("pose %d: %w", i, err)
		}
		r := pixelRect(box).Intersect(canvas.Bounds())
		fill := image.NewUniform(labelColor(params.Labels[i]))
		if params.Type == megapose.ViewWireframe {
			drawOutline(canvas, r, fill)
			continue
		}
		draw.Draw(canvas, r, fill, image.Point{}, draw.Src)
	}

	e := codec.NewEncoder(12 + len(canvas.Pix))
	e.PutImageRGBA(canvas)
	return protocol.NewMessage(protocol.CommandRetViz, e.Bytes()), nil
}

func (s *Server) setIntrinsics(payload []byte) (protocol.Message, error) {
	var params megapose.IntrinsicsParams
	if err := readParams(codec.NewDecoder(payload), &params); err != nil {
		return protocol.Message{}, err
	}
	if params.Px <= 0 || params.Py <= 0 {
		return protocol.Message{}, fmt.Errorf("focal lengths must be positive")
	}
	if params.Height <= 0 || params.Width <= 0 {
		return protocol.Message{}, fmt.Errorf("image size %dx%d is invalid", params.Width, params.Height)
	}
	s.mu.Lock()
	s.intrinsics = &params
	s.mu.Unlock()
	log.Info().Float64("px", params.Px).Float64("py", params.Py).Int("w", params.Width).Int("h", params.Height).Msg("posestub intrinsics set")
	return protocol.NewMessage(protocol.CommandOK, nil), nil
}

func (s *Server) setGridSize(payload []byte) (protocol.Message, error) {
	var params megapose.GridParams
	if err := readParams(codec.NewDecoder(payload), &params); err != nil {
		return protocol.Message{}, err
	}
	if !so3GridSizes[params.SO3GridSize] {
		return protocol.Message{}, fmt.Errorf("unsupported so3 grid size %d", params.SO3GridSize)
	}
	s.mu.Lock()
	s.gridSize = params.SO3GridSize
	s.mu.Unlock()
	return protocol.NewMessage(protocol.CommandOK, nil), nil
}

func (s *Server) camera() (megapose.IntrinsicsParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intrinsics == nil {
		return megapose.IntrinsicsParams{}, ErrNoIntrinsics
	}
	return *s.intrinsics, nil
}

func readParams(d *codec.Decoder, out any) error {
	doc, err := d.String()
	if err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("parse params: %w", err)
	}
	return nil
}

func documentMessage(cmd protocol.Command, v any) (protocol.Message, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("encode reply: %w", err)
	}
	e := codec.NewEncoder(codec.LenSize + len(doc))
	e.PutString(string(doc))
	return protocol.NewMessage(cmd, e.Bytes()), nil
}

// ScoreFor is the stub's confidence for pose: it decays with the distance
// of the object from the camera.
func ScoreFor(pose codec.Matrix4) float64 {
	return 1 / (1 + math.Sqrt(pose[3]*pose[3]+pose[7]*pose[7]+pose[11]*pose[11]))
}

// backProject places the object at depth z on the ray through the box centre.
func backProject(cam megapose.IntrinsicsParams, box megapose.Rect, z float64) codec.Matrix4 {
	cx := box.Left + box.Width/2
	cy := box.Top + box.Height/2
	return codec.Translation((cx-cam.U0)*z/cam.Px, (cy-cam.V0)*z/cam.Py, z)
}

// projectBox is the square a 10 cm object at pose would cover.
func projectBox(cam megapose.IntrinsicsParams, pose codec.Matrix4) (megapose.Rect, error) {
	x, y, z := pose[3], pose[7], pose[11]
	if z <= 0 {
		return megapose.Rect{}, fmt.Errorf("object is behind the camera (z=%g)", z)
	}
	u := cam.Px*x/z + cam.U0
	v := cam.Py*y/z + cam.V0
	half := 0.05 * cam.Px / z
	return megapose.NewRect(u-half, v-half, 2*half, 2*half), nil
}

// sampleDepth reads the depth at the box centre in metres, or 1 when no
// usable depth is available.
func sampleDepth(depth *image.Gray16, box megapose.Rect, scale float64) float64 {
	if depth == nil {
		return 1
	}
	b := depth.Bounds()
	x := clamp(int(box.Left+box.Width/2), b.Min.X, b.Max.X-1)
	y := clamp(int(box.Top+box.Height/2), b.Min.Y, b.Max.Y-1)
	raw := depth.Gray16At(x, y).Y
	if raw == 0 {
		return 1
	}
	return float64(raw) * scale
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func pixelRect(box megapose.Rect) image.Rectangle {
	return image.Rect(
		int(math.Floor(box.Left)), int(math.Floor(box.Top)),
		int(math.Ceil(box.Right())), int(math.Ceil(box.Bottom())),
	)
}

func drawOutline(dst *image.RGBA, r image.Rectangle, src image.Image) {
	if r.Empty() {
		return
	}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
		image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y),
		image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

func labelColor(label string) color.RGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(label))
	sum := h.Sum32()
	return color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}
}
