// Package graphmutator builds ready-to-submit Renderer computation
// graphs by injecting per-segment values into a fixed template with
// stable node identifiers. A template bump is one file to change.
package graphmutator

import (
	"encoding/json"
	"strings"
)

// Node is one entry of a Renderer API-format graph: a class name plus
// an arbitrary input bag, where any input value of the form [nodeID,
// outputIndex] is a link to another node's output.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// Graph is a full API-format workflow: node ID to Node.
type Graph map[string]Node

// Fixed node IDs in the Wan2.2 image-to-video template. These must
// match the pre-converted template exactly; the Renderer addresses
// nodes by these string IDs.
const (
	nodeCLIPLoader        = "84"
	nodeSamplerLow        = "85" // KSamplerAdvanced, low-noise pass
	nodeSamplerHigh       = "86" // KSamplerAdvanced, high-noise pass, carries the seed
	nodeVAEDecode         = "87"
	nodeNegativePrompt    = "89"
	nodeVAELoader         = "90"
	nodePositivePrompt    = "93"
	nodeCreateVideo       = "94"
	nodeUNETHigh          = "95"
	nodeUNETLow           = "96"
	nodeLoadImage         = "97"
	nodeImageToVideo      = "98"
	nodeLightx2vHigh      = "101" // fixed acceleration LoRA, high pass
	nodeLightx2vLow       = "102" // fixed acceleration LoRA, low pass
	nodeModelSamplingLow  = "103"
	nodeModelSamplingHigh = "104"
	nodeFaceswap          = "105" // inserted only when faceswap is enabled
	nodeFaceswapImage     = "106" // source-face LoadImage, inserted with 105
	nodeSaveVideo         = "108"
)

// userLoRAHighIDs and userLoRALowIDs give the dynamic node IDs for up to two user LoRA
// pairs: index 0 is the first pair, index 1 the second.
var userLoRAHighIDs = [2]string{"118", "120"}
var userLoRALowIDs = [2]string{"119", "121"}

// Template holds the fixed Wan2.2 i2v API-format graph, matching
// video_wan2_2_14B_i2v.json converted to API form. Mutate never
// modifies Template itself; it deep-copies via MarshalJSON/UnmarshalJSON
// round-trip for correctness over the node-link nested structures.
var Template = Graph{
	nodeCLIPLoader: {
		ClassType: "CLIPLoader",
		Inputs: map[string]any{
			"clip_name": "umt5_xxl_fp8_e4m3fn_scaled.safetensors",
			"type":      "wan",
			"device":    "default",
		},
	},
	nodeSamplerLow: {
		ClassType: "KSamplerAdvanced",
		Inputs: map[string]any{
			"add_noise":                 "disable",
			"noise_seed":                0,
			"control_after_generate":    "fixed",
			"steps":                     4,
			"cfg":                       1,
			"sampler_name":              "euler",
			"scheduler":                 "simple",
			"start_at_step":             2,
			"end_at_step":               4,
			"return_with_leftover_noise": "disable",
			"model":                     link(nodeModelSamplingLow, 0),
			"positive":                  link(nodeImageToVideo, 0),
			"negative":                  link(nodeImageToVideo, 1),
			"latent_image":              link(nodeSamplerHigh, 0),
		},
	},
	nodeSamplerHigh: {
		ClassType: "KSamplerAdvanced",
		Inputs: map[string]any{
			"add_noise":                 "enable",
			"noise_seed":                138073435077572,
			"control_after_generate":    "randomize",
			"steps":                     4,
			"cfg":                       1,
			"sampler_name":              "euler",
			"scheduler":                 "simple",
			"start_at_step":             0,
			"end_at_step":               2,
			"return_with_leftover_noise": "enable",
			"model":                     link(nodeModelSamplingHigh, 0),
			"positive":                  link(nodeImageToVideo, 0),
			"negative":                  link(nodeImageToVideo, 1),
			"latent_image":              link(nodeImageToVideo, 2),
		},
	},
	nodeVAEDecode: {
		ClassType: "VAEDecode",
		Inputs: map[string]any{
			"samples": link(nodeSamplerLow, 0),
			"vae":     link(nodeVAELoader, 0),
		},
	},
	nodeNegativePrompt: {
		ClassType: "CLIPTextEncode",
		Inputs: map[string]any{
			"text": "色调艳丽，过曝，静态，细节模糊不清，字幕，风格，作品，画作，画面，静止，整体发灰，最差质量，低质量",
			"clip": link(nodeCLIPLoader, 0),
		},
	},
	nodeVAELoader: {
		ClassType: "VAELoader",
		Inputs: map[string]any{
			"vae_name": "wan_2.1_vae.safetensors",
		},
	},
	nodePositivePrompt: {
		ClassType: "CLIPTextEncode",
		Inputs: map[string]any{
			"text": "",
			"clip": link(nodeCLIPLoader, 0),
		},
	},
	nodeCreateVideo: {
		ClassType: "CreateVideo",
		Inputs: map[string]any{
			"fps":    16,
			"images": link(nodeVAEDecode, 0),
		},
	},
	nodeUNETHigh: {
		ClassType: "UNETLoader",
		Inputs: map[string]any{
			"unet_name":    "wan2.2_i2v_high_noise_14B_fp8_scaled.safetensors",
			"weight_dtype": "default",
		},
	},
	nodeUNETLow: {
		ClassType: "UNETLoader",
		Inputs: map[string]any{
			"unet_name":    "wan2.2_i2v_low_noise_14B_fp8_scaled.safetensors",
			"weight_dtype": "default",
		},
	},
	nodeLoadImage: {
		ClassType: "LoadImage",
		Inputs: map[string]any{
			"image":  "",
			"upload": "image",
		},
	},
	nodeImageToVideo: {
		ClassType: "WanImageToVideo",
		Inputs: map[string]any{
			"width":       640,
			"height":      640,
			"length":      81,
			"batch_size":  1,
			"positive":    link(nodePositivePrompt, 0),
			"negative":    link(nodeNegativePrompt, 0),
			"vae":         link(nodeVAELoader, 0),
			"start_image": link(nodeLoadImage, 0),
		},
	},
	nodeLightx2vHigh: {
		ClassType: "LoraLoaderModelOnly",
		Inputs: map[string]any{
			"lora_name":      "wan2.2_i2v_lightx2v_4steps_lora_v1_high_noise.safetensors",
			"strength_model": 1.0,
			"model":          link(nodeUNETHigh, 0),
		},
	},
	nodeLightx2vLow: {
		ClassType: "LoraLoaderModelOnly",
		Inputs: map[string]any{
			"lora_name":      "wan2.2_i2v_lightx2v_4steps_lora_v1_low_noise.safetensors",
			"strength_model": 1.0,
			"model":          link(nodeUNETLow, 0),
		},
	},
	nodeModelSamplingLow: {
		ClassType: "ModelSamplingSD3",
		Inputs: map[string]any{
			"shift": 5.0,
			"model": link(nodeLightx2vLow, 0),
		},
	},
	nodeModelSamplingHigh: {
		ClassType: "ModelSamplingSD3",
		Inputs: map[string]any{
			"shift": 5.0,
			"model": link(nodeLightx2vHigh, 0),
		},
	},
	nodeSaveVideo: {
		ClassType: "SaveVideo",
		Inputs: map[string]any{
			"filename_prefix": "video/ComfyUI",
			"format":          "auto",
			"codec":           "auto",
			"video":           link(nodeCreateVideo, 0),
		},
	},
}

// link builds a node-output reference, the [nodeID, outputIndex] pair
// the Renderer uses to wire node inputs to other nodes' outputs.
func link(nodeID string, outputIndex int) []any {
	return []any{nodeID, outputIndex}
}

// clone deep-copies the template via a JSON round trip. Mutate must
// never touch the package-level Template value directly.
func clone(g Graph) (Graph, error) {
	b, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	out := make(Graph)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// sanitizeOutputPrefix converts a job name into a filesystem-friendly
// SaveVideo filename_prefix: alphanumerics, dash and underscore only,
// collapsing runs of underscores, trimmed of leading/trailing ones.
func sanitizeOutputPrefix(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	safe := b.String()
	for strings.Contains(safe, "__") {
		safe = strings.ReplaceAll(safe, "__", "_")
	}
	return strings.Trim(safe, "_")
}
