package client

import (
	"context"

	"github.com/menta2k/facecrop/pkg/types"
)

// VisionClient is a vision-language model backend able to locate faces.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DetectFaces(ctx context.Context, model, prompt, imgB64 string) (*types.FaceAnalysis, error)
}
