package embeddings

import "strings"

// knownDimensions covers the local ONNX models and the hosted models askd
// is deployed with.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"text-embedding-3-small":                 1536,
	"text-embedding-ada-002":                 1536,
	"text-embedding-3-large":                 3072,
	"gemini-embedding-001":                   768,
	"text-embedding-004":                     768,
}

// defaultDimension is assumed for unknown models.
const defaultDimension = 384

// canonicalModel maps the short "fast-" aliases onto their Hugging Face
// names: fast-bge-small-en-v1.5 becomes BAAI/bge-small-en-v1.5.
func canonicalModel(name string) string {
	short, ok := strings.CutPrefix(name, "fast-")
	if !ok {
		return name
	}
	if strings.HasPrefix(short, "all-MiniLM") {
		return "sentence-transformers/" + short
	}
	return "BAAI/" + short
}

// detectDimensionFromModel returns the vector size produced by model.
func detectDimensionFromModel(model string) int {
	if dim, ok := knownDimensions[canonicalModel(model)]; ok {
		return dim
	}
	return defaultDimension
}
