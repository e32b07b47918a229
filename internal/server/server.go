// Package server exposes a trained classifier over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"digitforge/internal/inference"
	"digitforge/internal/vision"
)

// maxImageBytes bounds request bodies.
const maxImageBytes = 8 << 20

// Predictor classifies decoded images.
type Predictor interface {
	Predict(img *vision.Image) (*inference.Classifications, error)
}

// Server serves predictions for one model.
type Server struct {
	model          string
	predictor      Predictor
	topK           int
	allowedOrigins []string
	started        time.Time
}

// New returns a server answering with topK classes unless a request asks for
// another count.
func New(model string, p Predictor, topK int) *Server {
	if topK <= 0 {
		topK = 5
	}
	return &Server{model: model, predictor: p, topK: topK, started: time.Now()}
}

// AllowOrigins enables cross-origin requests from origins, which may contain
// wildcards.
func (s *Server) AllowOrigins(origins ...string) *Server {
	s.allowedOrigins = origins
	return s
}

// PredictResponse is the body of a successful prediction.
type PredictResponse struct {
	Model       string                     `json:"model"`
	Best        inference.Classification   `json:"best"`
	Predictions []inference.Classification `json:"predictions"`
}

// Routes returns the HTTP handler. It fails when an allowed origin is
// malformed.
func (s *Server) Routes() (http.Handler, error) {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.HandleMethodNotAllowed = true
	if len(s.allowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowWildcard = true
		corsConfig.AllowOrigins = s.allowedOrigins
		corsConfig.AllowHeaders = []string{"Content-Type", "Accept", "User-Agent"}
		// cors.New panics on a config Validate rejects.
		if err := corsConfig.Validate(); err != nil {
			return nil, fmt.Errorf("allow origins %v: %w", s.allowedOrigins, err)
		}
		r.Use(cors.New(corsConfig))
	}

	r.GET("/api/health", s.healthHandler)
	r.POST("/api/predict", s.predictHandler)
	return r, nil
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"model":  s.model,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) predictHandler(c *gin.Context) {
	topK := s.topK
	if q := c.Query("topk"); q != "" {
		k, err := strconv.Atoi(q)
		if err != nil || k <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid topk %q", q)})
			return
		}
		topK = k
	}

	data, err := readImage(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	img, err := vision.FromBytes(data)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("decode image: %v", err)})
		return
	}

	res, err := s.predictor.Predict(img)
	if err != nil {
		slog.Error("prediction failed", "model", s.model, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, PredictResponse{
		Model:       s.model,
		Best:        res.Best(),
		Predictions: res.TopK(topK),
	})
}

// readImage takes the multipart "image" field if present, the raw body
// otherwise.
func readImage(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImageBytes)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("multipart image field: %w", err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("missing image: send raw bytes or a multipart \"image\" field")
	}
	return data, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "latency", time.Since(start))
	}
}

// Serve handles requests on ln until ctx is cancelled. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	h, err := s.Routes()
	if err != nil {
		ln.Close()
		return err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	slog.Info("listening", "addr", ln.Addr().String(), "model", s.model)
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
