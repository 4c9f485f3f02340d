package renderctx

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/types"
	"github.com/xaionaro-go/xsync"
)

// RenderOptions is the per-Render parameter set after parsing.
type RenderOptions struct {
	BlockForTargetTime bool
	SkipRendering      bool
	FlipY              bool
	SoftwareTarget     *SoftwareTarget
}

// API is one rendering backend of a Context. Render is always called
// from the embedder's render thread (never the VO worker).
type API interface {
	Name() string
	Render(ctx context.Context, f *frame.Frame, opts RenderOptions) error
	Close(ctx context.Context) error
}

// APIFactory constructs a backend from the construction parameter list.
type APIFactory func(ctx context.Context, params []Param) (API, error)

var (
	apisLocker xsync.Mutex
	apis       = map[string]APIFactory{}
)

// RegisterAPI makes a backend available under the given name; meant to
// be called from init functions.
func RegisterAPI(name string, factory APIFactory) {
	ctx := context.TODO()
	apisLocker.Do(ctx, func() {
		if _, ok := apis[name]; ok {
			panic(fmt.Errorf("a render API '%s' is already registered", name))
		}
		apis[name] = factory
	})
}

func getAPI(ctx context.Context, name string) (APIFactory, error) {
	return xsync.DoR2(ctx, &apisLocker, func() (APIFactory, error) {
		factory, ok := apis[name]
		if !ok {
			return nil, types.ErrNotImplemented{
				What: fmt.Sprintf("render API '%s'", name),
			}
		}
		return factory, nil
	})
}
