// Package valetudo is a client for the local REST API of a vacuum robot
// running Valetudo firmware.
package valetudo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// DefaultTimeout bounds every request, GET and PUT alike.
const DefaultTimeout = 2 * time.Second

// Result is a JSON object returned by the robot, passed through as parsed.
type Result map[string]any

// Client talks to one robot. It keeps no state about the robot and is safe
// for concurrent use.
type Client struct {
	address    string
	httpClient *http.Client
}

// NewClient returns a client for the robot at address (host or host:port).
// The address is not validated; a bad one fails on first use.
func NewClient(address string) *Client {
	return NewClientWithHTTPClient(address, &http.Client{Timeout: DefaultTimeout})
}

func NewClientWithHTTPClient(address string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		address:    address,
		httpClient: httpClient,
	}
}

func (c *Client) Address() string {
	return c.address
}

// Token returns the miio token of the robot.
func (c *Client) Token(ctx context.Context) (string, error) {
	res, err := c.doGet(ctx, EndpointToken)
	if err != nil {
		return "", err
	}
	token, ok := res["token"].(string)
	if !ok {
		return "", parseError(EndpointToken, fmt.Errorf("%w: token", ErrMissingField))
	}
	return token, nil
}

// Status returns battery, state, clean time and the other fields the robot
// reports, unchanged.
func (c *Client) Status(ctx context.Context) (Result, error) {
	return c.doGet(ctx, EndpointCurrentStatus)
}

// ConsumableStatus returns the elapsed work time of brushes, filter and sensors.
func (c *Client) ConsumableStatus(ctx context.Context) (Result, error) {
	return c.doGet(ctx, EndpointConsumableStatus)
}

func (c *Client) Volume(ctx context.Context) (Result, error) {
	return c.doGet(ctx, EndpointGetSoundVolume)
}

// SetVolume sets the sound volume, clamped to [0,100].
func (c *Client) SetVolume(ctx context.Context, volume int) (Result, error) {
	return c.doPut(ctx, EndpointSetSoundVolume, map[string]string{
		"volume": strconv.Itoa(clamp(volume, 0, 100)),
	})
}

// TestVolume plays a sound at the current volume.
func (c *Client) TestVolume(ctx context.Context) (Result, error) {
	return c.doPut(ctx, EndpointTestSoundVolume, nil)
}

// Find makes the robot play a locating tone at full volume.
func (c *Client) Find(ctx context.Context) (Result, error) {
	return c.doPut(ctx, EndpointFindRobot, nil)
}

func (c *Client) StartCleaning(ctx context.Context) (Result, error) {
	return c.doPut(ctx, EndpointStartCleaning, nil)
}

func (c *Client) PauseCleaning(ctx context.Context) (Result, error) {
	return c.doPut(ctx, EndpointPauseCleaning, nil)
}

func (c *Client) StopCleaning(ctx context.Context) (Result, error) {
	return c.doPut(ctx, EndpointStopCleaning, nil)
}

// SendHome stops cleaning and then drives the robot to its dock. If the stop
// fails its error is returned and drive_home is not sent.
func (c *Client) SendHome(ctx context.Context) (Result, error) {
	if _, err := c.StopCleaning(ctx); err != nil {
		return nil, err
	}
	return c.doPut(ctx, EndpointDriveHome, nil)
}

// GoTo sends the robot to map coordinates. GoTo(ctx, 0, 0) is the origin.
func (c *Client) GoTo(ctx context.Context, x, y int) (Result, error) {
	return c.doPut(ctx, EndpointGoTo, map[string]string{
		"x": strconv.Itoa(x),
		"y": strconv.Itoa(y),
	})
}

// SetFanSpeed sets the suction power, clamped to [0,100].
func (c *Client) SetFanSpeed(ctx context.Context, speed int) (Result, error) {
	return c.doPut(ctx, EndpointFanSpeed, map[string]string{
		"speed": strconv.Itoa(clamp(speed, 0, 100)),
	})
}

// StartSpotCleaning cleans around the robot's current position.
func (c *Client) StartSpotCleaning(ctx context.Context) (Result, error) {
	return c.doPut(ctx, EndpointSpotClean, nil)
}

func (c *Client) doGet(ctx context.Context, endpoint Endpoint) (Result, error) {
	return c.doRequest(ctx, http.MethodGet, endpoint, nil)
}

// doPut sends payload as a JSON object; a nil payload sends no body.
func (c *Client) doPut(ctx context.Context, endpoint Endpoint, payload map[string]string) (Result, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s payload: %w", endpoint, err)
		}
	}
	return c.doRequest(ctx, http.MethodPut, endpoint, body)
}

// ErrMethodMismatch is returned when a read endpoint is sent a PUT or a write
// endpoint a GET.
var ErrMethodMismatch = errors.New("method does not match endpoint")

func (c *Client) doRequest(ctx context.Context, method string, endpoint Endpoint, body []byte) (Result, error) {
	if endpoint.IsRead() != (method == http.MethodGet) {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, ErrMethodMismatch)
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), bodyReader)
	if err != nil {
		return nil, connectionError(endpoint, fmt.Errorf("creating request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connectionError(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, requestError(endpoint, resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, connectionError(endpoint, fmt.Errorf("reading response: %w", err))
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, parseError(endpoint, err)
	}
	if result == nil {
		return nil, parseError(endpoint, errors.New("response is not a JSON object"))
	}

	return result, nil
}

func (c *Client) url(endpoint Endpoint) string {
	return fmt.Sprintf("http://%s/api/%s", c.address, endpoint)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
