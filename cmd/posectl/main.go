package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/posewire/internal/config"
	"github.com/danmuck/posewire/internal/logging"
	"github.com/danmuck/posewire/internal/megapose"
)

type estimateOutput struct {
	Label       string        `json:"label"`
	Pose        [16]float64   `json:"cTo"`
	Score       *float64      `json:"score,omitempty"`
	BoundingBox megapose.Rect `json:"boundingBox"`
}

func main() {
	cfgPath := flag.String("config", "cmd/posectl/client.toml", "client TOML config")
	imagePath := flag.String("image", "", "PNG frame to estimate poses in")
	labels := flag.String("labels", "", "comma separated object labels")
	boxes := flag.String("boxes", "", "semicolon separated detections as left,top,width,height")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(*cfgPath, *imagePath, *labels, *boxes); err != nil {
		fmt.Fprintf(os.Stderr, "posectl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, imagePath, labelList, boxList string) error {
	cfg, err := config.LoadClientConfig(cfgPath)
	if err != nil {
		return err
	}
	img, err := loadRGBA(imagePath)
	if err != nil {
		return err
	}
	detections, err := parseBoxes(boxList)
	if err != nil {
		return err
	}

	client, err := megapose.DialConfig(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	estimates, err := client.EstimatePoses(megapose.EstimateRequest{
		Image:      img,
		Labels:     splitList(labelList, ","),
		Detections: detections,
	})
	if err != nil {
		return err
	}
	out := make([]estimateOutput, 0, len(estimates))
	for _, est := range estimates {
		out = append(out, estimateOutput{Label: est.Label, Pose: est.Pose, Score: est.Score, BoundingBox: est.BoundingBox})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func loadRGBA(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	src, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba, nil
	}
	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	return rgba, nil
}

func parseBoxes(list string) ([]megapose.Rect, error) {
	entries := splitList(list, ";")
	rects := make([]megapose.Rect, 0, len(entries))
	for _, entry := range entries {
		parts := splitList(entry, ",")
		if len(parts) != 4 {
			return nil, fmt.Errorf("box %q: want left,top,width,height", entry)
		}
		var v [4]float64
		for i, p := range parts {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("box %q: %w", entry, err)
			}
			v[i] = f
		}
		rects = append(rects, megapose.NewRect(v[0], v[1], v[2], v[3]))
	}
	return rects, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
