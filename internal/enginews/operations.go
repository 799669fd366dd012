package enginews

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tiroq/recordcore/internal/engine"
)

// StartRecording issues the start command. The engine acknowledges
// asynchronously; a rejection reaches the listener through OnError.
func (c *Client) StartRecording(ctx context.Context, cmd engine.StartCommand) error {
	return c.command(ctx, RequestStartRecording, cmd)
}

// StopRecording issues the stop command.
func (c *Client) StopRecording(ctx context.Context) error {
	return c.command(ctx, RequestStopRecording, nil)
}

// StopService asks the engine to shut its capture service down.
func (c *Client) StopService(ctx context.Context) error {
	return c.command(ctx, RequestStopService, nil)
}

func decode(resp *Response, v interface{}) error {
	if len(resp.ResponseData) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.ResponseData, v); err != nil {
		return fmt.Errorf("decode %s response: %w", resp.RequestType, err)
	}
	return nil
}

// GetRecordingState returns the engine's state string.
func (c *Client) GetRecordingState(ctx context.Context) (string, error) {
	resp, err := c.request(ctx, RequestGetRecordingState, nil)
	if err != nil {
		return "", err
	}
	var data struct {
		State string `json:"state"`
	}
	if err := decode(resp, &data); err != nil {
		return "", err
	}
	return data.State, nil
}

// GetOutputFilePath returns the last output file, or "" when there is none.
func (c *Client) GetOutputFilePath(ctx context.Context) (string, error) {
	resp, err := c.request(ctx, RequestGetOutputFilePath, nil)
	if err != nil {
		return "", err
	}
	var data struct {
		OutputPath string `json:"outputPath"`
	}
	if err := decode(resp, &data); err != nil {
		return "", err
	}
	return data.OutputPath, nil
}

func (c *Client) GetAvailableCodecs(ctx context.Context) ([]engine.Codec, error) {
	resp, err := c.request(ctx, RequestGetAvailableCodecs, nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		Codecs []engine.Codec `json:"codecs"`
	}
	if err := decode(resp, &data); err != nil {
		return nil, err
	}
	return data.Codecs, nil
}

func (c *Client) GetOptimalResolutions(ctx context.Context) ([]engine.Resolution, error) {
	resp, err := c.request(ctx, RequestGetOptimalResolutions, nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		Resolutions []engine.Resolution `json:"resolutions"`
	}
	if err := decode(resp, &data); err != nil {
		return nil, err
	}
	return data.Resolutions, nil
}

func (c *Client) GetRecommendedBitrate(ctx context.Context, width, height, frameRate int) (int, error) {
	resp, err := c.request(ctx, RequestGetRecommendedBitrate, map[string]interface{}{
		"width":     width,
		"height":    height,
		"frameRate": frameRate,
	})
	if err != nil {
		return 0, err
	}
	var data struct {
		Bitrate int `json:"bitrate"`
	}
	if err := decode(resp, &data); err != nil {
		return 0, err
	}
	return data.Bitrate, nil
}

// GetSupportedFrameRates is answered only by engines that know the request;
// others fail with an unsupported RequestError.
func (c *Client) GetSupportedFrameRates(ctx context.Context) ([]int, error) {
	resp, err := c.request(ctx, RequestGetSupportedFrameRates, nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		FrameRates []int `json:"frameRates"`
	}
	if err := decode(resp, &data); err != nil {
		return nil, err
	}
	return data.FrameRates, nil
}

// SetListener replaces the push listener; nil detaches it.
func (c *Client) SetListener(l engine.Listener) {
	c.listenerMu.Lock()
	c.listener = l
	c.listenerMu.Unlock()
}
