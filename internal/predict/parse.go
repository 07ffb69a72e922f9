package predict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iliyamo/fracture-records/internal/model"
)

// confidenceColumn is the index of the score in a YOLO xyxy,conf,cls row.
const confidenceColumn = 4

// outputKeys are the field names a predictor may use for the annotated
// image path, in order of preference.
var outputKeys = []string{"output_image_path", "processed_image_path", "image_path"}

// output is the JSON document a predictor writes.
type output struct {
	Boxes       [][]float64 `json:"boxes"`
	Confidences []float64   `json:"confidences"`
	Error       any         `json:"error"`
	Image       string      `json:"image"`

	OutputImagePath    string `json:"output_image_path"`
	ProcessedImagePath string `json:"processed_image_path"`
	ImagePath          string `json:"image_path"`
}

// firstObject returns the first well-formed JSON object embedded in out.
// Predictor scripts often print log lines before or after the result.
func firstObject(out []byte) (*output, bool) {
	for i := 0; i < len(out); i++ {
		if out[i] != '{' {
			continue
		}
		var raw json.RawMessage
		dec := json.NewDecoder(bytes.NewReader(out[i:]))
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		var o output
		if err := json.Unmarshal(raw, &o); err != nil {
			continue
		}
		return &o, true
	}
	return nil, false
}

// Parse extracts a Result from predictor output.
func Parse(out []byte) (*Result, error) {
	o, ok := firstObject(out)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in predictor output", ErrPrediction)
	}
	return o.result()
}

func (o *output) result() (*Result, error) {
	if msg := errorText(o.Error); msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrPrediction, msg)
	}
	p := model.Prediction{Boxes: o.Boxes, Confidences: o.Confidences}
	if p.Boxes == nil {
		p.Boxes = [][]float64{}
	}
	if p.Confidences == nil {
		p.Confidences = make([]float64, 0, len(p.Boxes))
		for _, b := range p.Boxes {
			if len(b) > confidenceColumn {
				p.Confidences = append(p.Confidences, b[confidenceColumn])
			}
		}
	}
	res := &Result{Prediction: p}
	for _, path := range []string{o.OutputImagePath, o.ProcessedImagePath, o.ImagePath} {
		if path != "" {
			res.OutputImage = path
			break
		}
	}
	return res, nil
}

// errorText renders the "error" field; false, null and "" mean no error.
func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(e)
	case bool:
		if e {
			return "predictor reported an error"
		}
		return ""
	default:
		b, _ := json.Marshal(e)
		return string(b)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
