// Package vision talks to the model inference server. All heavy lifting
// (CLIP, face detection, face embedding, age/gender) runs out of process;
// this client only moves tensors and crops over HTTP.
package vision

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

const defaultVisionURL = "http://localhost:8000"

// Client computes embeddings and detections using the inference server
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new inference client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultVisionURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

// embeddingResponse represents a single-vector response from the server
type embeddingResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// batchResponse represents a batched-vector response from the server
type batchResponse struct {
	Dim        int         `json:"dim"`
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
}

// detectResponse carries the flat detection tensor back from the server
type detectResponse struct {
	Output []float32 `json:"output"`
	Model  string    `json:"model"`
}

// AgeGender is the server's estimate for a single face crop. Gender is the
// raw model output in [0,1] (0 = male, 1 = female), left uninterpreted.
type AgeGender struct {
	Age    float32 `json:"age"`
	Gender float32 `json:"gender"`
}

// textEmbeddingRequest represents the request body for text embedding
type textEmbeddingRequest struct {
	Text string `json:"text"`
}

// EmbedText computes the CLIP embedding for a text query
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(textEmbeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/text", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}

	return embResp.Embedding, nil
}

// EmbedImageBatch computes CLIP embeddings for a batch of preprocessed
// image tensors. Every tensor must already be normalized channel-first
// data of the same size; they travel as one contiguous little-endian
// float32 buffer.
func (c *Client) EmbedImageBatch(ctx context.Context, tensors [][]float32) ([][]float32, error) {
	if len(tensors) == 0 {
		return nil, errors.New("empty batch")
	}
	perImage := len(tensors[0])
	for i, t := range tensors {
		if len(t) != perImage {
			return nil, fmt.Errorf("tensor %d has %d values, expected %d", i, len(t), perImage)
		}
	}

	buf := make([]float32, 0, len(tensors)*perImage)
	for _, t := range tensors {
		buf = append(buf, t...)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/image", bytes.NewReader(float32sToBytes(buf)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Batch-Size", strconv.Itoa(len(tensors)))

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var batchResp batchResponse
	if err := json.Unmarshal(body, &batchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(batchResp.Embeddings) != len(tensors) {
		return nil, fmt.Errorf("server returned %d embeddings for %d images", len(batchResp.Embeddings), len(tensors))
	}

	return batchResp.Embeddings, nil
}

// DetectRaw runs the face detection model on a preprocessed channel-first
// tensor and returns the flat output tensor. Width and height describe the
// tensor's spatial dimensions, not the original image.
func (c *Client) DetectRaw(ctx context.Context, input []float32, width, height int) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect/face", bytes.NewReader(float32sToBytes(input)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Input-Width", strconv.Itoa(width))
	req.Header.Set("X-Input-Height", strconv.Itoa(height))

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var detResp detectResponse
	if err := json.Unmarshal(body, &detResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(detResp.Output) == 0 {
		return nil, errors.New("empty detection tensor returned")
	}

	return detResp.Output, nil
}

// EmbedFace computes the recognition embedding for a single face crop
func (c *Client) EmbedFace(ctx context.Context, crop image.Image) ([]float32, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", crop)
	if err != nil {
		return nil, err
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}

	return embResp.Embedding, nil
}

// EstimateAgeGender estimates age and gender for a single face crop
func (c *Client) EstimateAgeGender(ctx context.Context, crop image.Image) (*AgeGender, error) {
	body, err := c.postMultipartImage(ctx, "/analyze/face", crop)
	if err != nil {
		return nil, err
	}

	var ag AgeGender
	if err := json.Unmarshal(body, &ag); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &ag, nil
}

// postMultipartImage encodes the crop as PNG and posts it as a multipart
// form to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "crop.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func float32sToBytes(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}
