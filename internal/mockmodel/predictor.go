// Package mockmodel serves a stand-in for the classification endpoint so the
// widget can be demonstrated without the real model. It honours the same
// contract: multipart field "file", 503 while the model is not loaded.
package mockmodel

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SampleSize is the edge of the grid sampled from the image.
const SampleSize = 64

// Prediction mirrors the classification endpoint's response body.
type Prediction struct {
	Filename   string  `json:"filename"`
	Label      string  `json:"label"`
	IsLicit    bool    `json:"is_licit"`
	Confidence float64 `json:"confidence"`
	RawScore   float64 `json:"raw_score"`
}

// Predictor scores images by mean luminance.
type Predictor struct {
	loaded   bool
	maxBytes int64
	logger   *zap.Logger
}

// New builds a Predictor. With loaded false every request gets a 503.
func New(loaded bool, maxBytes int64, logger *zap.Logger) *Predictor {
	return &Predictor{loaded: loaded, maxBytes: maxBytes, logger: logger.Named("mock_model")}
}

// RegisterRoutes mounts the predict endpoints.
func (p *Predictor) RegisterRoutes(router gin.IRoutes) {
	router.POST("/predict", p.handlePredict)
	router.POST("/api/predict", p.handlePredict)
}

func (p *Predictor) handlePredict(c *gin.Context) {
	if !p.loaded {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Model not loaded"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "file is required"})
		return
	}
	if p.maxBytes > 0 && header.Size > p.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "file is too large"})
		return
	}
	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("Invalid image: %v", err)})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to read image"})
		return
	}

	prediction, err := Predict(header.Filename, data)
	if err != nil {
		p.logger.Info("rejected undecodable image", zap.String("filename", header.Filename), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("Invalid image: %v", err)})
		return
	}
	c.JSON(http.StatusOK, prediction)
}

// Predict decodes data and derives a prediction from its luminance.
func Predict(filename string, data []byte) (Prediction, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Prediction{}, err
	}

	raw := Score(img)
	isLicit := raw > 0.5
	confidence := raw
	label := "Licit"
	if !isLicit {
		confidence = 1 - raw
		label = "Illicit"
	}
	return Prediction{
		Filename:   filename,
		Label:      label,
		IsLicit:    isLicit,
		Confidence: confidence,
		RawScore:   raw,
	}, nil
}

// Score returns the mean luminance in [0,1] over a SampleSize grid.
func Score(img image.Image) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}

	var sum float64
	for gy := 0; gy < SampleSize; gy++ {
		y := b.Min.Y + gy*b.Dy()/SampleSize
		for gx := 0; gx < SampleSize; gx++ {
			x := b.Min.X + gx*b.Dx()/SampleSize
			r, g, bl, _ := img.At(x, y).RGBA()
			sum += (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 0xffff
		}
	}
	score := sum / (SampleSize * SampleSize)
	if score > 1 {
		score = 1
	}
	return score
}
