package encoder

import (
	"fmt"

	"go.uber.org/zap"
)

// Info describes an encoder implementation that can be probed
type Info struct {
	Name      string
	Layouts   []ColorLayout
	Available func() bool
	New       func(log *zap.Logger) Codec
}

// Supports reports whether the encoder accepts the layout
func (i Info) Supports(layout ColorLayout) bool {
	for _, l := range i.Layouts {
		if l == layout {
			return true
		}
	}
	return false
}

// Registry holds encoders in probing order
type Registry struct {
	infos []Info
}

// NewRegistry creates a registry probing encoders in the given order
func NewRegistry(infos ...Info) *Registry {
	return &Registry{infos: infos}
}

// DefaultRegistry returns the ffmpeg encoder followed by the in-process x264 encoder
func DefaultRegistry(ffmpegPath string) *Registry {
	return NewRegistry(FFmpegInfo(ffmpegPath), X264Info())
}

// Register appends an encoder to the probing order
func (r *Registry) Register(info Info) {
	r.infos = append(r.infos, info)
}

// Lookup returns the encoder with the given name
func (r *Registry) Lookup(name string) (Info, bool) {
	for _, info := range r.infos {
		if info.Name == name {
			return info, true
		}
	}
	return Info{}, false
}

// Select walks available encoders in order and returns the first one that
// supports a layout from preference, together with the best such layout.
func (r *Registry) Select(preference []ColorLayout) (Info, ColorLayout, error) {
	if len(preference) == 0 {
		preference = DefaultPreference
	}

	for _, info := range r.infos {
		if info.Available != nil && !info.Available() {
			continue
		}
		for _, layout := range preference {
			if info.Supports(layout) {
				return info, layout, nil
			}
		}
	}
	return Info{}, 0, fmt.Errorf("%w: no available H.264 encoder supports %v", ErrEncoderConfig, preference)
}

// SelectNamed picks a specific encoder, still honouring the layout preference
func (r *Registry) SelectNamed(name string, preference []ColorLayout) (Info, ColorLayout, error) {
	info, ok := r.Lookup(name)
	if !ok {
		return Info{}, 0, fmt.Errorf("%w: unknown encoder %q", ErrEncoderConfig, name)
	}
	return NewRegistry(info).Select(preference)
}
