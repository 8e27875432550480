package detection

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/models"
)

// Full method names served by the inference backend. Payloads are google.protobuf.Struct.
const (
	MethodDetect   = "/vision.v1.Inference/Detect"
	MethodEmbed    = "/vision.v1.Inference/Embed"
	MethodReadText = "/vision.v1.Inference/ReadText"
)

// Client talks to a remote inference service and implements the Detector, Embedder and
// TextReader capabilities. It is safe for concurrent use.
type Client struct {
	endpoint string
	timeout  time.Duration
	minScore float32

	mu   sync.RWMutex
	conn *grpc.ClientConn

	// Retry management
	lastFailTime     time.Time
	consecutiveFails int
	maxRetryBackoff  time.Duration
}

// NewClient prepares a client for endpoint. The connection is established lazily.
func NewClient(endpoint string, timeout time.Duration, minScore float32) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Client{
		endpoint:        endpoint,
		timeout:         timeout,
		minScore:        minScore,
		maxRetryBackoff: 30 * time.Second,
	}
}

// Connect establishes the gRPC connection if it is missing or broken.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		state := c.conn.GetState()
		if state != connectivity.TransientFailure && state != connectivity.Shutdown {
			return nil
		}
		c.conn.Close()
		c.conn = nil
	}

	target, creds, err := parseGRPCEndpoint(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to parse AI endpoint %s: %w", c.endpoint, err)
	}

	log.Info().
		Str("original_endpoint", c.endpoint).
		Str("normalized_endpoint", target).
		Bool("use_tls", creds.Info().SecurityProtocol == "tls").
		Msg("Connecting to inference gRPC service")

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("failed to connect to inference service at %s: %w", target, err)
	}
	c.conn = conn
	c.consecutiveFails = 0
	return nil
}

// Close releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	log.Info().Str("endpoint", c.endpoint).Msg("Inference gRPC connection closed")
	return err
}

// State returns the connection state, Shutdown when never connected.
func (c *Client) State() connectivity.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return connectivity.Shutdown
	}
	return c.conn.GetState()
}

func (c *Client) Detect(ctx context.Context, frame models.Frame, frameIndex int) ([]models.Detection, error) {
	if !frame.Valid() {
		return nil, apperr.InvalidInput("detection.Detect", "invalid frame %dx%d", frame.Width, frame.Height)
	}
	req, err := structpb.NewStruct(map[string]any{
		"frame":       encodeFrame(frame),
		"frame_index": frameIndex,
		"min_score":   float64(c.minScore),
	})
	if err != nil {
		return nil, fmt.Errorf("encode detect request: %w", err)
	}
	resp, err := c.invoke(ctx, MethodDetect, req)
	if err != nil {
		return nil, err
	}
	dets, err := decodeDetections(resp)
	if err != nil {
		return nil, err
	}
	out := dets[:0]
	for _, d := range dets {
		if d.Score >= c.minScore {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *Client) Embed(ctx context.Context, crops []models.Frame) ([][]float32, error) {
	if len(crops) == 0 {
		return nil, nil
	}
	items := make([]any, len(crops))
	for i, crop := range crops {
		items[i] = encodeFrame(crop)
	}
	req, err := structpb.NewStruct(map[string]any{"crops": items})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}
	resp, err := c.invoke(ctx, MethodEmbed, req)
	if err != nil {
		return nil, err
	}
	vecs, err := decodeEmbeddings(resp)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(crops) {
		return nil, fmt.Errorf("inference service returned %d embeddings for %d crops", len(vecs), len(crops))
	}
	return vecs, nil
}

func (c *Client) ReadText(ctx context.Context, crop models.Frame, trackID int) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"crop":     encodeFrame(crop),
		"track_id": trackID,
	})
	if err != nil {
		return "", fmt.Errorf("encode read_text request: %w", err)
	}
	resp, err := c.invoke(ctx, MethodReadText, req)
	if err != nil {
		return "", err
	}
	return resp.GetFields()["text"].GetStringValue(), nil
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	if !c.shouldRetry() {
		return nil, apperr.Unavailable(method, "in backoff period after %d consecutive failures", c.failures())
	}
	if err := c.Connect(); err != nil {
		c.recordFailure()
		return nil, apperr.Unavailable(method, "%v", err)
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, apperr.Unavailable(method, "inference client closed")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := conn.Invoke(callCtx, method, req, resp); err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("inference %s failed: %w", method, err)
	}

	c.mu.Lock()
	c.consecutiveFails = 0
	c.mu.Unlock()
	return resp, nil
}

// shouldRetry applies exponential backoff after failures: 1s, 2s, 4s ... capped.
func (c *Client) shouldRetry() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.consecutiveFails == 0 {
		return true
	}
	backoff := time.Duration(1<<uint(min(c.consecutiveFails-1, 10))) * time.Second
	if backoff > c.maxRetryBackoff {
		backoff = c.maxRetryBackoff
	}
	return time.Since(c.lastFailTime) >= backoff
}

func (c *Client) failures() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.consecutiveFails
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails++
	c.lastFailTime = time.Now()

	if c.consecutiveFails <= 5 {
		log.Warn().
			Str("endpoint", c.endpoint).
			Int("consecutive_fails", c.consecutiveFails).
			Msg("Inference call failure recorded")
	}
}

// parseGRPCEndpoint normalizes endpoint to host:port and picks TLS for https and the
// usual TLS ports, plaintext otherwise.
func parseGRPCEndpoint(endpoint string) (string, credentials.TransportCredentials, error) {
	if !strings.Contains(endpoint, "://") {
		if strings.Contains(endpoint, ".") && !strings.Contains(endpoint, ":") {
			endpoint = "https://" + endpoint + ":443"
		} else if strings.Contains(endpoint, ":") {
			parts := strings.Split(endpoint, ":")
			if len(parts) == 2 {
				if port, err := strconv.Atoi(parts[1]); err == nil {
					if port == 443 || port == 8443 || port == 9443 {
						endpoint = "https://" + endpoint
					} else {
						endpoint = "http://" + endpoint
					}
				} else {
					endpoint = "http://" + endpoint
				}
			}
		} else {
			endpoint = "https://" + endpoint + ":443"
		}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = u.Hostname() + ":443"
		case "http":
			host = u.Hostname() + ":80"
		default:
			return "", nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
		}
	}

	var creds credentials.TransportCredentials
	switch u.Scheme {
	case "https":
		creds = credentials.NewTLS(&tls.Config{ServerName: u.Hostname()})
	case "http":
		creds = insecure.NewCredentials()
	default:
		return "", nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	return host, creds, nil
}
