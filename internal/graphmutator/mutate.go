package graphmutator

import "github.com/snappy-loop/storyreel/internal/models"

// Params carries every per-segment value the template mutation needs.
// Prompt, start image and LoRA selections vary per segment; the seed
// is the job's fixed seed, the same for every segment of a job.
type Params struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Frames         int
	StartImageFile string
	HighNoiseModel string
	LowNoiseModel  string
	Seed           uint64
	HighLoRAs      []models.LoRAEntry
	LowLoRAs       []models.LoRAEntry
	FPS            int
	OutputPrefix   string
	Faceswap       *models.FaceswapConfig
}

// Mutate deep-copies the fixed template and injects the given
// parameters in a fixed order: image, prompts, dimensions, models,
// seed, dynamic LoRA chain, faceswap, fps, output prefix. Identical
// inputs always produce an identical graph.
func Mutate(p Params) (Graph, error) {
	g, err := clone(Template)
	if err != nil {
		return nil, err
	}

	setInput(g, nodeLoadImage, "image", p.StartImageFile)
	setInput(g, nodePositivePrompt, "text", p.Prompt)
	if p.NegativePrompt != "" {
		setInput(g, nodeNegativePrompt, "text", p.NegativePrompt)
	}

	setInput(g, nodeImageToVideo, "width", p.Width)
	setInput(g, nodeImageToVideo, "height", p.Height)
	setInput(g, nodeImageToVideo, "length", p.Frames)

	if p.HighNoiseModel != "" {
		setInput(g, nodeUNETHigh, "unet_name", p.HighNoiseModel)
	}
	if p.LowNoiseModel != "" {
		setInput(g, nodeUNETLow, "unet_name", p.LowNoiseModel)
	}

	setInput(g, nodeSamplerHigh, "noise_seed", p.Seed)

	insertUserLoRAChain(g, p.HighLoRAs, p.LowLoRAs)
	insertFaceswap(g, p.Faceswap)

	if p.FPS > 0 {
		setInput(g, nodeCreateVideo, "fps", p.FPS)
	}

	if p.OutputPrefix != "" {
		setInput(g, nodeSaveVideo, "filename_prefix", sanitizeOutputPrefix(p.OutputPrefix))
	} else {
		setInput(g, nodeSaveVideo, "filename_prefix", "ComfyUI")
	}

	return g, nil
}

func setInput(g Graph, nodeID, field string, value any) {
	node := g[nodeID]
	node.Inputs[field] = value
	g[nodeID] = node
}

// insertUserLoRAChain wires 0-2 user-selected LoRA pairs between the
// UNET loaders and the fixed lightx2v acceleration LoRA, independently
// for the high and low noise passes. With no selections the template's
// existing UNET -> lightx2v wiring is left untouched. High and low
// sides can have different numbers of non-empty entries; each side's
// chain only advances where that side's file is set.
func insertUserLoRAChain(g Graph, highLoRAs, lowLoRAs []models.LoRAEntry) {
	lastHigh := nodeUNETHigh
	lastLow := nodeUNETLow

	max := len(highLoRAs)
	if len(lowLoRAs) > max {
		max = len(lowLoRAs)
	}
	if max > 2 {
		max = 2
	}

	for i := 0; i < max; i++ {
		if i < len(highLoRAs) && highLoRAs[i].File != "" {
			id := userLoRAHighIDs[i]
			g[id] = Node{
				ClassType: "LoraLoaderModelOnly",
				Inputs: map[string]any{
					"lora_name":      highLoRAs[i].File,
					"strength_model": weightOrDefault(highLoRAs[i].Weight),
					"model":          link(lastHigh, 0),
				},
				Meta: map[string]any{"title": "User LoRA high"},
			}
			lastHigh = id
		}
		if i < len(lowLoRAs) && lowLoRAs[i].File != "" {
			id := userLoRALowIDs[i]
			g[id] = Node{
				ClassType: "LoraLoaderModelOnly",
				Inputs: map[string]any{
					"lora_name":      lowLoRAs[i].File,
					"strength_model": weightOrDefault(lowLoRAs[i].Weight),
					"model":          link(lastLow, 0),
				},
				Meta: map[string]any{"title": "User LoRA low"},
			}
			lastLow = id
		}
	}

	if lastHigh != nodeUNETHigh {
		setInput(g, nodeLightx2vHigh, "model", link(lastHigh, 0))
	}
	if lastLow != nodeUNETLow {
		setInput(g, nodeLightx2vLow, "model", link(lastLow, 0))
	}
}

func weightOrDefault(w float64) float64 {
	if w == 0 {
		return 1.0
	}
	return w
}

// insertFaceswap wires a ReActor faceswap stage between the VAE decode
// and video creation when the job enables it. A disabled or absent
// config leaves the template's direct decode -> video wiring untouched,
// so the graph stays identical to the known-good template.
func insertFaceswap(g Graph, cfg *models.FaceswapConfig) {
	if cfg == nil || !cfg.Enabled || cfg.Image == "" {
		return
	}

	facesOrder := cfg.FacesOrder
	if facesOrder == "" {
		facesOrder = "large-small"
	}
	facesIndex := cfg.FacesIndex
	if facesIndex == "" {
		facesIndex = "0"
	}

	g[nodeFaceswapImage] = Node{
		ClassType: "LoadImage",
		Inputs: map[string]any{
			"image":  cfg.Image,
			"upload": "image",
		},
		Meta: map[string]any{"title": "Faceswap source"},
	}
	g[nodeFaceswap] = Node{
		ClassType: "ReActorFaceSwap",
		Inputs: map[string]any{
			"enabled":            true,
			"swap_model":         "inswapper_128.onnx",
			"facedetection":      "retinaface_resnet50",
			"face_restore_model": "none",
			"faces_order":        facesOrder,
			"input_faces_index":  facesIndex,
			"source_faces_index": "0",
			"input_image":        link(nodeVAEDecode, 0),
			"source_image":       link(nodeFaceswapImage, 0),
		},
		Meta: map[string]any{"title": "Faceswap"},
	}
	setInput(g, nodeCreateVideo, "images", link(nodeFaceswap, 0))
}
