package prediction

import "context"

// RenderStandard runs the text-to-image recipe. Zero width or height uses the
// configured default size.
func (c *Client) RenderStandard(ctx context.Context, prompt string, width, height int) (string, error) {
	cfg := c.settings().Standard
	if width <= 0 {
		width = cfg.DefaultSize
	}
	if height <= 0 {
		height = cfg.DefaultSize
	}
	input := map[string]any{
		"prompt":          prompt,
		"num_outputs":     1,
		"width":           width,
		"height":          height,
		"refine":          cfg.Refine,
		"scheduler":       cfg.Scheduler,
		"lora_scale":      cfg.LoraScale,
		"guidance_scale":  cfg.GuidanceScale,
		"apply_watermark": cfg.ApplyWatermark,
		"high_noise_frac": cfg.HighNoiseFrac,
		"negative_prompt": cfg.NegativePrompt,
	}
	return c.SubmitForFirst(ctx, cfg.Version, input)
}

// RenderControlNet runs the edge-guided recipe on a reference image. The
// output resolution is the larger of width and height, or the configured
// default when either is unset.
func (c *Client) RenderControlNet(ctx context.Context, imageURI, prompt string, width, height int) (string, error) {
	cfg := c.settings().ControlNet
	resolution := cfg.DefaultResolution
	if width > 0 && height > 0 {
		resolution = max(width, height)
	}
	input := map[string]any{
		"image":            imageURI,
		"prompt":           prompt,
		"num_samples":      1,
		"image_resolution": resolution,
		"low_threshold":    cfg.LowThreshold,
		"high_threshold":   cfg.HighThreshold,
		"ddim_steps":       cfg.DDIMSteps,
		"scale":            cfg.Scale,
		"n_prompt":         cfg.NegativePrompt,
	}
	return c.SubmitForFirst(ctx, cfg.Version, input)
}
