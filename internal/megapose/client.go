package megapose

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/danmuck/posewire/internal/config"
	"github.com/danmuck/posewire/internal/observability"
	"github.com/danmuck/posewire/internal/protocol"
	"github.com/danmuck/posewire/internal/protocol/codec"
	"github.com/danmuck/posewire/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrValidation = errors.New("megapose: invalid request")
	ErrBadReply   = errors.New("megapose: malformed reply document")
)

//go:generate mockgen -destination conn_mock_test.go -package megapose . Conn

// Conn is one framed connection to the service. Callers hold the lock
// across a Send and the Receive that answers it.
type Conn interface {
	sync.Locker
	Send(msg protocol.Message) error
	Receive() (protocol.Message, error)
}

type Client struct {
	conn   Conn
	closer io.Closer
}

// NewClient uses conn without taking ownership of it.
func NewClient(conn Conn) *Client {
	return &Client{conn: conn}
}

// Dial opens a session to host:port and sends the camera intrinsics before
// returning, so the service is ready for estimation.
func Dial(ctx context.Context, host string, port int, cam CameraParameters, height, width int, cfg session.Config) (*Client, error) {
	s, err := session.Open(ctx, host, port, cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: s, closer: s}
	if err := c.SetIntrinsics(cam, height, width); err != nil {
		_ = s.Close()
		return nil, err
	}
	return c, nil
}

// DialConfig dials using a loaded client profile. A positive SO3GridSize is
// pushed after the intrinsics.
func DialConfig(ctx context.Context, cfg config.ClientConfig) (*Client, error) {
	scfg := session.DefaultConfig()
	scfg.ConnectTimeout = cfg.ConnectTimeout()
	if cfg.MaxPayloadBytes > 0 {
		scfg.MaxPayloadBytes = cfg.MaxPayloadBytes
	}
	cam := CameraParameters{Px: cfg.Camera.Px, Py: cfg.Camera.Py, U0: cfg.Camera.U0, V0: cfg.Camera.V0}
	c, err := Dial(ctx, cfg.Host, cfg.Port, cam, cfg.Camera.Height, cfg.Camera.Width, scfg)
	if err != nil {
		return nil, err
	}
	if cfg.SO3GridSize > 0 {
		if err := c.SetCoarseNumSamples(cfg.SO3GridSize); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Close releases a connection opened by Dial. Clients built with NewClient
// leave their Conn to the caller.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// EstimatePoses asks the service for one pose per label. Either detections
// or initial poses must be given; both must line up with the labels.
func (c *Client) EstimatePoses(req EstimateRequest) ([]PoseEstimate, error) {
	cmd := protocol.CommandGetPose
	start := time.Now()
	if err := validateEstimate(req); err != nil {
		return nil, c.fail(cmd, start, err)
	}

	params := newEstimateParams(req)
	e := codec.NewEncoder(rgbaSize(req.Image) + 256)
	e.PutImageRGBA(req.Image)
	if err := encodeParams(e, params); err != nil {
		return nil, c.fail(cmd, start, err)
	}
	if req.Depth != nil {
		e.PutImageDepth16(req.Depth)
	}

	reply, err := c.call(protocol.NewMessage(cmd, e.Bytes()), protocol.CommandRetPose)
	if err != nil {
		return nil, c.fail(cmd, start, err)
	}
	var results []EstimateResult
	if err := decodeDocument(reply.Payload, &results); err != nil {
		return nil, c.fail(cmd, start, err)
	}
	estimates := make([]PoseEstimate, 0, len(results))
	for i, r := range results {
		var fallback string
		if i < len(req.Labels) {
			fallback = req.Labels[i]
		}
		est, err := r.toEstimate(fallback)
		if err != nil {
			return nil, c.fail(cmd, start, err)
		}
		estimates = append(estimates, est)
	}
	c.done(cmd, start)
	return estimates, nil
}

// ScorePoses returns one confidence per (label, pose) pair.
func (c *Client) ScorePoses(img *image.RGBA, labels []string, poses []codec.Matrix4) ([]float64, error) {
	cmd := protocol.CommandGetScore
	start := time.Now()
	if img == nil {
		return nil, c.fail(cmd, start, fmt.Errorf("%w: image is required", ErrValidation))
	}
	if len(poses) != len(labels) {
		return nil, c.fail(cmd, start, fmt.Errorf("%w: %d poses for %d labels", ErrValidation, len(poses), len(labels)))
	}

	e := codec.NewEncoder(rgbaSize(img) + 256)
	e.PutImageRGBA(img)
	if err := encodeParams(e, ScoreParams{Poses: poses, Labels: labels}); err != nil {
		return nil, c.fail(cmd, start, err)
	}
	reply, err := c.call(protocol.NewMessage(cmd, e.Bytes()), protocol.CommandRetScore)
	if err != nil {
		return nil, c.fail(cmd, start, err)
	}
	var scores []float64
	if err := decodeDocument(reply.Payload, &scores); err != nil {
		return nil, c.fail(cmd, start, err)
	}
	c.done(cmd, start)
	return scores, nil
}

// ViewObjects renders the labelled objects at the given poses.
func (c *Client) ViewObjects(labels []string, poses []codec.Matrix4, viewType string) (*image.RGBA, error) {
	cmd := protocol.CommandGetViz
	start := time.Now()
	if len(poses) != len(labels) {
		return nil, c.fail(cmd, start, fmt.Errorf("%w: %d poses for %d labels", ErrValidation, len(poses), len(labels)))
	}

	e := codec.NewEncoder(256)
	if err := encodeParams(e, ViewParams{Labels: labels, Poses: poses, Type: viewType}); err != nil {
		return nil, c.fail(cmd, start, err)
	}
	reply, err := c.call(protocol.NewMessage(cmd, e.Bytes()), protocol.CommandRetViz)
	if err != nil {
		return nil, c.fail(cmd, start, err)
	}
	img, err := codec.NewDecoder(reply.Payload).ImageRGBA()
	if err != nil {
		return nil, c.fail(cmd, start, err)
	}
	c.done(cmd, start)
	return img, nil
}

func (c *Client) SetIntrinsics(cam CameraParameters, height, width int) error {
	cmd := protocol.CommandSetIntrinsics
	start := time.Now()
	if height <= 0 || width <= 0 {
		return c.fail(cmd, start, fmt.Errorf("%w: image size %dx%d", ErrValidation, width, height))
	}
	e := codec.NewEncoder(128)
	params := IntrinsicsParams{Px: cam.Px, Py: cam.Py, U0: cam.U0, V0: cam.V0, Height: height, Width: width}
	if err := encodeParams(e, params); err != nil {
		return c.fail(cmd, start, err)
	}
	if _, err := c.call(protocol.NewMessage(cmd, e.Bytes()), protocol.CommandOK); err != nil {
		return c.fail(cmd, start, err)
	}
	c.done(cmd, start)
	return nil
}

// SetCoarseNumSamples sets the size of the SO(3) grid used by the coarse
// estimator.
func (c *Client) SetCoarseNumSamples(n int) error {
	cmd := protocol.CommandSetGridSize
	start := time.Now()
	if n < 0 {
		return c.fail(cmd, start, fmt.Errorf("%w: negative grid size %d", ErrValidation, n))
	}
	e := codec.NewEncoder(32)
	if err := encodeParams(e, GridParams{SO3GridSize: n}); err != nil {
		return c.fail(cmd, start, err)
	}
	if _, err := c.call(protocol.NewMessage(cmd, e.Bytes()), protocol.CommandOK); err != nil {
		return c.fail(cmd, start, err)
	}
	c.done(cmd, start)
	return nil
}

func (c *Client) call(req protocol.Message, expected protocol.Command) (protocol.Message, error) {
	reply, err := c.exchange(req)
	if err != nil {
		return protocol.Message{}, err
	}
	if err := protocol.ValidateResponse(expected, reply); err != nil {
		return protocol.Message{}, err
	}
	return reply, nil
}

func (c *Client) exchange(req protocol.Message) (protocol.Message, error) {
	c.conn.Lock()
	defer c.conn.Unlock()
	if err := c.conn.Send(req); err != nil {
		return protocol.Message{}, err
	}
	return c.conn.Receive()
}

func (c *Client) done(cmd protocol.Command, start time.Time) {
	d := time.Since(start)
	observability.RecordRPC(cmd.String(), observability.OutcomeOK, d)
	log.Debug().Stringer("command", cmd).Dur("duration", d).Msg("megapose rpc")
}

func (c *Client) fail(cmd protocol.Command, start time.Time, err error) error {
	outcome := outcomeOf(err)
	observability.RecordRPC(cmd.String(), outcome, time.Since(start))
	log.Warn().Err(err).Stringer("command", cmd).Str("outcome", outcome).Msg("megapose rpc failed")
	return err
}

func outcomeOf(err error) string {
	var serverErr *protocol.ServerError
	var unexpected *protocol.UnexpectedMessageError
	switch {
	case errors.Is(err, ErrValidation):
		return observability.OutcomeValidation
	case errors.As(err, &serverErr):
		return observability.OutcomeServer
	case errors.As(err, &unexpected):
		return observability.OutcomeUnexpected
	case errors.Is(err, session.ErrIO), errors.Is(err, session.ErrConnection):
		return observability.OutcomeTransport
	default:
		return observability.OutcomeMalformed
	}
}

func validateEstimate(req EstimateRequest) error {
	if req.Image == nil {
		return fmt.Errorf("%w: image is required", ErrValidation)
	}
	if req.Detections == nil && req.InitialPoses == nil {
		return fmt.Errorf("%w: either detections or initial poses must be given", ErrValidation)
	}
	if req.Detections != nil && len(req.Detections) != len(req.Labels) {
		return fmt.Errorf("%w: %d detections for %d labels", ErrValidation, len(req.Detections), len(req.Labels))
	}
	if req.InitialPoses != nil && len(req.InitialPoses) != len(req.Labels) {
		return fmt.Errorf("%w: %d initial poses for %d labels", ErrValidation, len(req.InitialPoses), len(req.Labels))
	}
	if req.Depth != nil && req.DepthToMeters <= 0 {
		return fmt.Errorf("%w: depth needs a positive depth-to-meters scale", ErrValidation)
	}
	return nil
}

func rgbaSize(img *image.RGBA) int {
	b := img.Bounds()
	return 12 + b.Dx()*b.Dy()*4
}
