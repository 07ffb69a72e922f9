package predict

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// maxRemoteResponse bounds the response body read from a remote predictor.
const maxRemoteResponse = 32 << 20

// Remote posts the image to an inference service. The service answers
// with the same JSON document a predictor script prints; an optional
// base64 "image" field carries the annotated image.
type Remote struct {
	url     string
	client  *http.Client
	fs      afero.Fs
	timeout time.Duration
	tmpDir  string
}

// NewRemote returns a remote predictor. fsys is where images are read
// from. Annotated images are written to a temporary directory on fsys,
// never next to the input.
func NewRemote(url string, client *http.Client, fsys afero.Fs, timeout time.Duration) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{url: url, client: client, fs: fsys, timeout: timeout,
		tmpDir: filepath.Join(os.TempDir(), "fracture-predict")}
}

func (r *Remote) Predict(ctx context.Context, imagePath string) (*Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	img, err := afero.ReadFile(r.fs, imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", ErrPrediction, err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(img); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrediction, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrPrediction, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrPrediction, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: remote returned %d: %s", ErrPrediction, resp.StatusCode,
			truncate(strings.TrimSpace(string(raw)), outputTruncateLength))
	}

	o, ok := firstObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in remote response", ErrPrediction)
	}
	res, err := o.result()
	if err != nil {
		return nil, err
	}
	if o.Image != "" {
		out, err := r.writeImage(imagePath, o.Image)
		if err != nil {
			return nil, err
		}
		res.OutputImage = out
	}
	return res, nil
}

// writeImage stores the decoded annotated image in the temp directory.
func (r *Remote) writeImage(imagePath, encoded string) (string, error) {
	// Accept data URLs as well as bare base64.
	if i := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && i > 0 {
		encoded = encoded[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: decode image: %v", ErrPrediction, err)
	}
	if err := r.fs.MkdirAll(r.tmpDir, 0o700); err != nil {
		return "", fmt.Errorf("annotated image dir: %w", err)
	}
	f, err := afero.TempFile(r.fs, r.tmpDir, "annotated-*"+filepath.Ext(imagePath))
	if err != nil {
		return "", fmt.Errorf("write annotated image: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = r.fs.Remove(f.Name())
		return "", fmt.Errorf("write annotated image: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = r.fs.Remove(f.Name())
		return "", fmt.Errorf("write annotated image: %w", err)
	}
	return f.Name(), nil
}
