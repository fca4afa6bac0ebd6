package dispatch

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/briangreenhill/cropadvisor/internal/advisory"
)

type cropView struct{}

func (cropView) Name() string  { return "crop" }
func (cropView) Title() string { return "Crop Recommendation" }

func (cropView) Render(ctx context.Context, api API, in Input) (string, error) {
	soil, err := parseSoil(in.Form)
	if err != nil {
		return "", err
	}
	if soil.Rainfall, err = optionalFloat(in.Form, "rainfall"); err != nil {
		return "", err
	}
	return pretty(api.RecommendCrop(ctx, soil))
}

type fertilizerView struct{}

func (fertilizerView) Name() string  { return "fert" }
func (fertilizerView) Title() string { return "Fertilizer Guidance" }

func (fertilizerView) Render(ctx context.Context, api API, in Input) (string, error) {
	crop := strings.TrimSpace(in.Form.Get("crop"))
	if crop == "" {
		return "", fmt.Errorf("%w: crop is required", ErrBadInput)
	}
	soil, err := parseSoil(in.Form)
	if err != nil {
		return "", err
	}
	return pretty(api.RecommendFertilizer(ctx, advisory.FertilizerInput{SoilInput: soil, Crop: crop}))
}

type diseaseView struct{}

func (diseaseView) Name() string  { return "disease" }
func (diseaseView) Title() string { return "Pest / Disease Detection" }

func (diseaseView) Render(ctx context.Context, api API, in Input) (string, error) {
	if in.File == nil {
		return "", fmt.Errorf("%w: an image file is required", ErrBadInput)
	}
	name := in.Filename
	if name == "" {
		name = "upload"
	}
	return pretty(api.DetectDisease(ctx, name, in.File))
}

type weatherView struct{}

func (weatherView) Name() string  { return "weather" }
func (weatherView) Title() string { return "Weather & Alerts" }

func (weatherView) Render(ctx context.Context, api API, in Input) (string, error) {
	pincode := strings.TrimSpace(in.Form.Get("pincode"))
	if pincode == "" {
		return "", fmt.Errorf("%w: pincode is required", ErrBadInput)
	}
	return pretty(api.Weather(ctx, pincode))
}

type marketView struct{}

func (marketView) Name() string  { return "market" }
func (marketView) Title() string { return "Market Prices" }

func (marketView) Render(ctx context.Context, api API, in Input) (string, error) {
	return pretty(api.Market(ctx, in.Form.Get("crop"), in.Form.Get("state")))
}

// parseSoil reads the N, P, K and ph fields every soil form carries.
func parseSoil(form url.Values) (advisory.SoilInput, error) {
	var (
		soil advisory.SoilInput
		err  error
	)
	fields := []struct {
		key string
		dst *float64
	}{
		{"N", &soil.N},
		{"P", &soil.P},
		{"K", &soil.K},
		{"ph", &soil.PH},
	}
	for _, f := range fields {
		if *f.dst, err = requiredFloat(form, f.key); err != nil {
			return advisory.SoilInput{}, err
		}
	}
	soil.SoilType = strings.TrimSpace(form.Get("soil_type"))
	soil.Location = strings.TrimSpace(form.Get("location"))
	return soil, nil
}

func requiredFloat(form url.Values, key string) (float64, error) {
	raw := strings.TrimSpace(form.Get(key))
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", ErrBadInput, key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", ErrBadInput, key, raw)
	}
	return v, nil
}

func optionalFloat(form url.Values, key string) (*float64, error) {
	if strings.TrimSpace(form.Get(key)) == "" {
		return nil, nil
	}
	v, err := requiredFloat(form, key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
