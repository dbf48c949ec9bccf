package render

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mattjoyce/rendergw/internal/composition"
	"github.com/mattjoyce/rendergw/internal/config"
	"github.com/mattjoyce/rendergw/internal/toolerr"
)

var outputFormatPattern = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// SystemParameters converts configured defaults into Parameters.
func SystemParameters(d config.RenderDefaults) Parameters {
	return Parameters{
		Width:            d.Width,
		Height:           d.Height,
		FPS:              d.FPS,
		DurationInFrames: d.DurationInFrames,
		OutputFormat:     d.OutputFormat,
		Quality:          d.Quality,
		Scale:            d.Scale,
		Concurrency:      d.Concurrency,
	}
}

// MergeParameters resolves user > composition > system. Keys that are not
// reserved render settings are carried in Extra untouched.
func MergeParameters(system Parameters, comp *composition.Info, user map[string]any) (Parameters, error) {
	p := system
	p.Extra = nil

	if comp != nil {
		if comp.Width > 0 {
			p.Width = comp.Width
		}
		if comp.Height > 0 {
			p.Height = comp.Height
		}
		if comp.FPS > 0 {
			p.FPS = comp.FPS
		}
		if comp.DurationInFrames > 0 {
			p.DurationInFrames = comp.DurationInFrames
		}
	}

	for key, raw := range user {
		if raw == nil {
			continue
		}
		var err error
		switch key {
		case "width":
			p.Width, err = intParam(key, raw)
		case "height":
			p.Height, err = intParam(key, raw)
		case "fps":
			p.FPS, err = intParam(key, raw)
		case "durationInFrames":
			p.DurationInFrames, err = intParam(key, raw)
		case "quality":
			p.Quality, err = intParam(key, raw)
		case "concurrency":
			p.Concurrency, err = intParam(key, raw)
		case "scale":
			p.Scale, err = floatParam(key, raw)
			if err == nil && p.Scale <= 0 {
				err = invalidParam(key, "must be positive")
			}
		case "outputFormat":
			s, ok := raw.(string)
			s = strings.ToLower(strings.TrimSpace(s))
			if !ok || !outputFormatPattern.MatchString(s) {
				err = invalidParam(key, "must be a short alphanumeric format such as mp4")
			}
			p.OutputFormat = s
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[key] = raw
		}
		if err != nil {
			return Parameters{}, err
		}
	}

	return p, nil
}

// EstimateDuration is a rough wall-clock guess in seconds: one second per
// frame, doubled above 1080p width, divided across concurrency.
func EstimateDuration(p Parameters) float64 {
	factor := 1
	if p.Width > 1920 {
		factor = 2
	}
	return float64(p.DurationInFrames*factor) / float64(max(p.Concurrency, 1))
}

func invalidParam(key, msg string) error {
	return toolerr.Processingf("render.params", toolerr.ReasonInvalidParameters, "params.%s %s", key, msg)
}

func intParam(key string, raw any) (int, error) {
	f, err := floatParam(key, raw)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, invalidParam(key, "must be an integer")
	}
	if f < 0 {
		return 0, invalidParam(key, "must not be negative")
	}
	return int(f), nil
}

func floatParam(key string, raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, invalidParam(key, "must be a number")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, invalidParam(key, "must be a number")
		}
		return f, nil
	default:
		return 0, invalidParam(key, fmt.Sprintf("must be a number (got %T)", raw))
	}
}
