// Package textdetect talks to the external OCR service used by the
// watermark policy and caches detected text by URI so an image is never
// OCR'd twice. Service failures are soft: a timeout or bad response reads
// as "no text detected" for that image.
package textdetect

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"sort"
	"strings"
	"time"

	"imagefliter/logging"
	"imagefliter/types"

	_ "golang.org/x/image/webp"
)

const (
	// DefaultAPIURL is the local UmiOCR endpoint.
	DefaultAPIURL  = "http://127.0.0.1:1224/api/ocr"
	DefaultTimeout = 30 * time.Second

	// lineMergeThreshold is the max vertical distance (px) between
	// fragment centers merged into one line.
	lineMergeThreshold = 10
)

// ServiceError reports a failed OCR call. Callers treat it as "no text
// found" for the affected image.
type ServiceError struct {
	URI string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("ocr %s: %v", e.URI, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Options configures the OCR client.
type Options struct {
	APIURL   string
	Language string // language hint sent with every request
	Timeout  time.Duration
}

// Client posts image payloads to the OCR endpoint and returns merged text
// lines. Construct once and share across workers; it is stateless apart
// from the injected cache store.
type Client struct {
	apiURL   string
	language string
	http     *http.Client
	store    *Store // may be nil: caching disabled
}

// NewClient builds an OCR client. store may be nil to disable caching.
func NewClient(opts Options, store *Store) *Client {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.Language == "" {
		opts.Language = "zh"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		apiURL:   opts.APIURL,
		language: opts.Language,
		http:     &http.Client{Timeout: opts.Timeout},
		store:    store,
	}
}

type ocrRequest struct {
	Base64  string     `json:"base64"`
	Options ocrOptions `json:"options"`
}

type ocrOptions struct {
	Language string `json:"language"`
	Model    string `json:"model"`
}

type ocrResponse struct {
	Code int `json:"code"`
	Data []struct {
		Text string        `json:"text"`
		Pos  [][2]float64  `json:"pos"`
	} `json:"data"`
}

// DetectText returns the text lines detected in the image. Cached results
// are served without a network call; only successful calls are cached.
func (c *Client) DetectText(ref types.ImageRef, data []byte) ([]string, error) {
	if c.store != nil {
		if texts, ok := c.store.Get(ref.URI); ok {
			logging.DebugLog("ocr cache hit: %s", ref.URI)
			return texts, nil
		}
	}

	payload, err := jpegBase64(data)
	if err != nil {
		return nil, &ServiceError{URI: ref.URI, Err: err}
	}

	body, err := json.Marshal(ocrRequest{
		Base64:  payload,
		Options: ocrOptions{Language: c.language, Model: "fast"},
	})
	if err != nil {
		return nil, &ServiceError{URI: ref.URI, Err: err}
	}

	resp, err := c.http.Post(c.apiURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, &ServiceError{URI: ref.URI, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{URI: ref.URI, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var parsed ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ServiceError{URI: ref.URI, Err: err}
	}
	texts := mergeLines(parsed)

	if c.store != nil {
		c.store.Put(ref.URI, texts)
	}
	return texts, nil
}

// mergeLines joins fragments whose vertical centers are within
// lineMergeThreshold into single lines, ordered top to bottom. Fragments
// without position information go last.
func mergeLines(resp ocrResponse) []string {
	if resp.Code != 100 {
		return nil
	}

	type block struct {
		text    string
		yCenter float64
		hasPos  bool
	}
	var blocks []block
	for _, item := range resp.Data {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		b := block{text: text}
		if len(item.Pos) >= 3 {
			b.yCenter = (item.Pos[0][1] + item.Pos[2][1]) / 2
			b.hasPos = true
		}
		blocks = append(blocks, b)
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].hasPos != blocks[j].hasPos {
			return blocks[i].hasPos
		}
		return blocks[i].yCenter < blocks[j].yCenter
	})

	var lines []string
	var current []string
	haveY := false
	var currentY float64
	for _, b := range blocks {
		switch {
		case !haveY:
			current = append(current, b.text)
			currentY = b.yCenter
			haveY = true
		case !b.hasPos || absDiff(b.yCenter, currentY) <= lineMergeThreshold:
			current = append(current, b.text)
		default:
			lines = append(lines, strings.Join(current, " "))
			current = []string{b.text}
			currentY = b.yCenter
		}
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}
	return lines
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// jpegBase64 re-encodes the image as JPEG and base64s it, so the service
// always receives a format it accepts. Undecodable bytes are sent as-is.
func jpegBase64(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return base64.StdEncoding.EncodeToString(data), nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
