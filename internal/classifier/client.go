// Package classifier talks to the remote classification endpoint and turns
// whatever happens into a typed Outcome. Exactly one request is made per
// Submit; nothing is retried.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/example/optic/internal/intake"
	"github.com/example/optic/internal/logging"
)

// FileField is the multipart field carrying the image.
const FileField = "file"

const maxResponseBytes = 1 << 20

// Client exposes the single operation the workflow needs.
type Client interface {
	Submit(ctx context.Context, file *intake.SelectedFile) Outcome
}

// HTTPClient posts images to <base-url>/predict.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

type predictResponse struct {
	IsLicit    *bool    `json:"is_licit"`
	Confidence *float64 `json:"confidence"`
	Label      string   `json:"label"`
}

// NewHTTPClient validates baseURL and builds a client. A nil httpClient uses
// http.DefaultClient; deadlines come from the context passed to Submit.
func NewHTTPClient(baseURL string, httpClient *http.Client, logger *zap.Logger) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, logging.NewOperationError("classifier.new_http_client", "", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, logging.NewOperationError("classifier.new_http_client", "", fmt.Errorf("invalid base url %q", baseURL))
	}
	u.Path = path.Join("/", u.Path, "predict")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		endpoint: u.String(),
		http:     httpClient,
		logger:   logger.Named("classifier"),
	}, nil
}

// Endpoint returns the resolved predict URL.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

// Submit sends file and maps the response into an Outcome.
func (c *HTTPClient) Submit(ctx context.Context, file *intake.SelectedFile) Outcome {
	log := c.logger.With(zap.String("file_id", file.ID.String()))

	body, contentType, err := encodeMultipart(file)
	if err != nil {
		log.Error("failed to encode request", zap.Error(err))
		return Failure(err.Error(), fmt.Errorf("%w: %v", ErrTransport, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		log.Error("failed to build request", zap.Error(err))
		return Failure(err.Error(), fmt.Errorf("%w: %v", ErrTransport, err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("classifier.submit", "", err)
		log.Warn("classification request failed", zap.Error(wrapped))
		return Failure(err.Error(), fmt.Errorf("%w: %w", ErrTransport, err))
	}
	defer resp.Body.Close()

	return c.interpret(resp, log)
}

func (c *HTTPClient) interpret(resp *http.Response, log *zap.Logger) Outcome {
	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		log.Warn("classification model not ready")
		return Failure(MessageModelNotReady, ErrServiceUnavailable)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		log.Warn("classification endpoint returned error status", zap.Int("status", resp.StatusCode))
		return Failure(MessageConnectionError, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode))
	}

	var payload predictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		log.Warn("failed to decode classification response", zap.Error(err))
		return Failure(err.Error(), fmt.Errorf("%w: %w", ErrTransport, err))
	}
	if payload.IsLicit == nil || payload.Confidence == nil {
		err := fmt.Errorf("classification response missing is_licit or confidence")
		log.Warn("incomplete classification response")
		return Failure(err.Error(), fmt.Errorf("%w: %w", ErrTransport, err))
	}

	confidence := *payload.Confidence
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		log.Error("classification confidence out of range", zap.Float64("confidence", confidence))
		return Failure(fmt.Sprintf("invalid confidence: %v", confidence), ErrInvalidConfidence)
	}

	log.Debug("classification succeeded",
		zap.Bool("is_licit", *payload.IsLicit),
		zap.Float64("confidence", confidence),
		zap.String("label", payload.Label),
	)
	return Success(*payload.IsLicit, confidence)
}

func encodeMultipart(file *intake.SelectedFile) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	name := file.Name
	if name == "" {
		name = "upload"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FileField, name))
	header.Set("Content-Type", file.MIMEType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
