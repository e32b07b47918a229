package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digitforge/internal/inference"
	"digitforge/internal/vision"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePredictor struct {
	calls int
	err   error
}

func (f *fakePredictor) Predict(img *vision.Image) (*inference.Classifications, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	probs := make([]float64, 10)
	probs[img.Width()%10] = 0.91
	probs[(img.Width()+1)%10] = 0.09
	return inference.NewClassifications(inference.DigitSynset(), probs)
}

func pngBytes(t *testing.T, w int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, 4))))
	return buf.Bytes()
}

func routes(t *testing.T, s *Server) http.Handler {
	t.Helper()
	h, err := s.Routes()
	require.NoError(t, err)
	return h
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) PredictResponse {
	t.Helper()
	var resp PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s := New("mlpxxx", &fakePredictor{}, 0)
	rec := httptest.NewRecorder()
	routes(t, s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"model":"mlpxxx"`)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestPredictRawBody(t *testing.T) {
	fp := &fakePredictor{}
	s := New("mlpxxx", fp, 0)
	req := httptest.NewRequest(http.MethodPost, "/api/predict?topk=2", bytes.NewReader(pngBytes(t, 12)))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	routes(t, s).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Equal(t, "mlpxxx", resp.Model)
	assert.Equal(t, "2", resp.Best.ClassName)
	require.Len(t, resp.Predictions, 2)
	assert.Equal(t, "3", resp.Predictions[1].ClassName)
	assert.Equal(t, 1, fp.calls)
}

func TestPredictMultipart(t *testing.T) {
	s := New("mlpxxx", &fakePredictor{}, 3)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "digit.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t, 7))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	routes(t, s).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Equal(t, "7", resp.Best.ClassName)
	assert.Len(t, resp.Predictions, 3)
}

func TestPredictErrors(t *testing.T) {
	cases := []struct {
		name   string
		target string
		body   []byte
		pred   *fakePredictor
		status int
	}{
		{"empty body", "/api/predict", nil, &fakePredictor{}, http.StatusBadRequest},
		{"not an image", "/api/predict", []byte("hello"), &fakePredictor{}, http.StatusBadRequest},
		{"bad topk", "/api/predict?topk=zero", pngBytes(t, 4), &fakePredictor{}, http.StatusBadRequest},
		{"predictor failure", "/api/predict", pngBytes(t, 4), &fakePredictor{err: errors.New("boom")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New("mlpxxx", tc.pred, 0)
			rec := httptest.NewRecorder()
			routes(t, s).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.target, bytes.NewReader(tc.body)))
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}

	rec := httptest.NewRecorder()
	routes(t, New("mlpxxx", &fakePredictor{}, 0)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORS(t *testing.T) {
	h := routes(t, New("mlpxxx", &fakePredictor{}, 0).AllowOrigins("http://localhost:*"))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBadOrigins(t *testing.T) {
	cases := []struct {
		name    string
		origins []string
		wantErr bool
	}{
		{"scheme", []string{"https://digits.local"}, false},
		{"wildcard", []string{"*.digits.local"}, false},
		{"missing scheme", []string{"localhost:3000"}, true},
		{"one bad among good", []string{"http://localhost:3000", "digits.local"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New("mlpxxx", &fakePredictor{}, 0).AllowOrigins(tc.origins...)
			var h http.Handler
			var err error
			require.NotPanics(t, func() { h, err = s.Routes() })
			if tc.wantErr {
				assert.ErrorContains(t, err, "bad origin")
				assert.Nil(t, h)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, h)
		})
	}
}

func TestServeRejectsBadOrigins(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New("mlpxxx", &fakePredictor{}, 0).AllowOrigins("localhost:3000")
	err = s.Serve(context.Background(), ln)
	assert.ErrorContains(t, err, "bad origin")

	_, err = ln.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)
}
