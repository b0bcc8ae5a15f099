// Package jsoncodec implements the script payload codec (§4.1): the v1 and
// v2 wire shapes used when reading/writing a script's remote blob, grounded
// on the teacher's versioned-envelope persistence helpers (cmn/jsp).
package jsoncodec

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/aistore-sync/usersync/provider"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version identifies which wire shape Encode produces.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

type v2Envelope struct {
	Version int                    `json:"version"`
	Custom  map[string]interface{} `json:"custom,omitempty"`
	Config  map[string]interface{} `json:"config,omitempty"`
	Props   v2Props                `json:"props,omitempty"`
	Code    string                 `json:"code"`
}

type v2Props struct {
	LastUpdated int64 `json:"lastUpdated,omitempty"`
}

type v1Envelope struct {
	Version int    `json:"version"`
	More    v1More `json:"more"`
	Code    string `json:"code"`
}

type v1More struct {
	Custom      map[string]interface{} `json:"custom,omitempty"`
	Enabled     *bool                  `json:"enabled,omitempty"`
	Update      *bool                  `json:"update,omitempty"`
	LastUpdated int64                  `json:"lastUpdated,omitempty"`
}

// Encode serializes s into the requested wire version. Writes always use
// V1 for cross-client compatibility (§4.1); V2 is reserved for reads of
// sources that already prefer it (e.g. re-exporting a locally-held blob).
func Encode(s *provider.Script, version Version) ([]byte, error) {
	switch version {
	case V2:
		return json.Marshal(v2Envelope{
			Version: int(V2),
			Custom:  s.Custom,
			Config:  s.Config,
			Props:   v2Props{LastUpdated: s.Props.LastModified},
			Code:    s.Code,
		})
	default:
		env := v1Envelope{Version: int(V1), Code: s.Code}
		env.More.Custom = s.Custom
		env.More.LastUpdated = s.Props.LastModified
		if v, ok := s.Enabled(); ok {
			env.More.Enabled = &v
		}
		if v, ok := s.ShouldUpdate(); ok {
			env.More.Update = &v
		}
		return json.Marshal(env)
	}
}

// Decode parses a remote blob into a Script. If the bytes are not valid
// JSON at all, the whole blob is kept as Code (§4.1) so the reconciler can
// still import content a foreign client wrote in an unexpected shape.
func Decode(data []byte) *provider.Script {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return &provider.Script{Code: string(data)}
	}

	switch probe.Version {
	case int(V2):
		var env v2Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return &provider.Script{Code: string(data)}
		}
		return &provider.Script{
			Custom: env.Custom,
			Config: env.Config,
			Props:  provider.Props{LastModified: env.Props.LastUpdated},
			Code:   env.Code,
		}
	case int(V1):
		var env v1Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return &provider.Script{Code: string(data)}
		}
		s := &provider.Script{
			Custom: env.More.Custom,
			Props:  provider.Props{LastModified: env.More.LastUpdated},
			Code:   env.Code,
		}
		if env.More.Enabled != nil {
			s.SetEnabled(*env.More.Enabled)
		}
		if env.More.Update != nil {
			s.SetShouldUpdate(*env.More.Update)
		}
		return s
	default:
		// Unrecognized/absent version: fall back to code-only (§4.1).
		return &provider.Script{Code: string(data)}
	}
}
