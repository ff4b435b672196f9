// Package embeddings turns query text into vectors for the embed stage.
//
// Providers:
//   - openai: any OpenAI-compatible endpoint through langchaingo
//   - gemini: Google Gemini through the genai SDK
//   - fastembed: local ONNX models, available in cgo builds only
//
// NewProvider wraps the selected provider with a token-bucket limiter and
// OpenTelemetry instrumentation.
package embeddings
