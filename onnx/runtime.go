package onnx

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeMu   sync.Mutex
	runtimeRefs int
)

// InitRuntime loads the onnxruntime shared library and initializes the
// environment. Calls are reference counted so several sessions can share one
// environment; each successful call must be paired with ReleaseRuntime.
func InitRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeRefs == 0 {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to init ONNX env: %w", err)
		}
		log.Debug().Str("library", libPath).Msg("onnxruntime initialized")
	}
	runtimeRefs++
	return nil
}

// ReleaseRuntime drops one reference and destroys the environment when the
// last one is gone.
func ReleaseRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeRefs == 0 {
		return nil
	}
	runtimeRefs--
	if runtimeRefs > 0 {
		return nil
	}
	return ort.DestroyEnvironment()
}
