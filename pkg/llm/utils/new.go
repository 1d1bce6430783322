// Package llmutils is the llm utility package
package llmutils

import (
	"fmt"
	"time"

	"github.com/engramlabs/engram/pkg/llm"
	"github.com/engramlabs/engram/pkg/llm/ollama"
	"github.com/engramlabs/engram/pkg/llm/static"
)

type NewProviderOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
	Timeout      time.Duration
}

func NewProvider(o *NewProviderOpts) (llm.Provider, error) {
	switch o.ProviderType {
	case "ollama":
		return ollama.NewProvider(ollama.Config{
			BaseURL: o.TargetURL,
			Model:   o.Model,
			Timeout: o.Timeout,
		})
	case "static":
		return static.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", o.ProviderType)
	}
}
