// Package provider defines the data model (§3) and the provider/script-store
// contracts (§6.2, §6.3) the reconciler operates over. Concrete provider
// transports live in provider/backend; concrete script stores are an
// external collaborator (§1) supplied by the embedding application.
package provider

import "context"

// Props are the script properties the core cares about. Everything else
// about a local script (custom, config, code) is opaque except for the two
// config keys the reconciler inspects (§4.6): "enabled" and "shouldUpdate".
type Props struct {
	URI          string `json:"uri"`
	LastModified int64  `json:"lastModified,omitempty"`
	Position     int    `json:"position,omitempty"`
}

// Script is the local-collection unit the reconciler diffs by URI.
type Script struct {
	ID     string                 `json:"-"`
	Props  Props                  `json:"props"`
	Custom map[string]interface{} `json:"custom,omitempty"`
	Config map[string]interface{} `json:"config,omitempty"`
	Code   string                 `json:"code,omitempty"`
}

// Enabled reports the script's config.enabled flag, if set.
func (s *Script) Enabled() (v bool, ok bool) {
	if s.Config == nil {
		return false, false
	}
	b, ok := s.Config["enabled"].(bool)
	return b, ok
}

// SetEnabled sets config.enabled.
func (s *Script) SetEnabled(v bool) {
	if s.Config == nil {
		s.Config = make(map[string]interface{}, 1)
	}
	s.Config["enabled"] = v
}

// StripEnabled removes config.enabled, used by putLocal (§4.6) when the
// target store's syncScriptStatus option is false.
func (s *Script) StripEnabled() {
	if s.Config != nil {
		delete(s.Config, "enabled")
	}
}

// ShouldUpdate reports the script's config.shouldUpdate flag, if set.
func (s *Script) ShouldUpdate() (v bool, ok bool) {
	if s.Config == nil {
		return false, false
	}
	b, ok := s.Config["shouldUpdate"].(bool)
	return b, ok
}

// SetShouldUpdate sets config.shouldUpdate.
func (s *Script) SetShouldUpdate(v bool) {
	if s.Config == nil {
		s.Config = make(map[string]interface{}, 1)
	}
	s.Config["shouldUpdate"] = v
}

// RemoteObject is an opaque handle to an object in the provider's store
// (§3). The core never interprets anything beyond Name and URI.
type RemoteObject struct {
	Name string
	URI  string
	// ProviderFields carries transport-specific bookkeeping (etags,
	// revision ids, ...); the core round-trips it unexamined.
	ProviderFields map[string]interface{}
}

// InfoEntry is one entry of the remote meta file's "info" map (§3).
type InfoEntry struct {
	Modified int64 `json:"modified"`
	Position int   `json:"position,omitempty"`
}

// RemoteMeta is the parsed contents of the single remote meta-file blob.
type RemoteMeta struct {
	Timestamp int64                `json:"timestamp"`
	Info      map[string]InfoEntry `json:"info"`
}

// LocalMeta is the per-service bookkeeping persisted by the Config facade.
type LocalMeta struct {
	Timestamp int64 `json:"timestamp"`
	LastSync  int64 `json:"lastSync"`
}

// FirstSync reports whether this is the service's first-ever sync (§9 GQ a,
// invariant 3): the local meta carries no timestamp yet.
func (m LocalMeta) FirstSync() bool { return m.Timestamp == 0 }

// ScriptStore is the outbound script-plugin contract (§6.3); an external
// collaborator, never implemented by the core itself.
type ScriptStore interface {
	List(ctx context.Context) ([]*Script, error)
	Get(ctx context.Context, id string) (code string, err error)
	Update(ctx context.Context, data *Script) error
	Remove(ctx context.Context, id string) error
	// SortScripts re-normalizes local position ranks; reports whether any
	// script's position actually changed.
	SortScripts(ctx context.Context) (changed bool, err error)
	UpdateScriptInfo(ctx context.Context, id string, props Props) error
}

// Provider is the inbound provider contract (§6.2). Concrete transports
// (OAuth flows, vendor HTTP APIs) are out of scope for the core (§1); this
// interface is what service.Base and the reconciler drive.
type Provider interface {
	Name() string
	DisplayName() string
	Properties() map[string]interface{}

	// MetaFile is the remote meta-object name; "" means use the default
	// ("Violentmonkey").
	MetaFile() string
	// DelayTime is the minimum inter-request gap (§4.4); 0 means use the
	// default (1s).
	DelayTime() int64

	Authorize(ctx context.Context) error
	Revoke(ctx context.Context) error
	CheckAuth(ctx context.Context, url string) (bool, error)
	User(ctx context.Context) error

	List(ctx context.Context) ([]*RemoteObject, error)
	Get(ctx context.Context, obj *RemoteObject) ([]byte, error)
	Put(ctx context.Context, obj *RemoteObject, data []byte) (*RemoteObject, error)
	Remove(ctx context.Context, obj *RemoteObject) error

	AcquireLock(ctx context.Context) error
	ReleaseLock(ctx context.Context) error

	GetUserConfig(ctx context.Context) (map[string]interface{}, error)
	SetUserConfig(ctx context.Context, cfg map[string]interface{}) error

	// HandleMetaError lets a provider translate a "not found" transport
	// error into a nil error with an empty meta (the default, base
	// implementation, just rethrows).
	HandleMetaError(err error) error
}
