package models

// MatcherKind selects how a discovery rule matches candidate nodes.
type MatcherKind string

const (
	MatchNodeType     MatcherKind = "node_type"
	MatchNamePrefix   MatcherKind = "name_prefix"
	MatchNameContains MatcherKind = "name_contains"
	MatchService      MatcherKind = "service"
	MatchTag          MatcherKind = "tag"
	MatchDatacenter   MatcherKind = "datacenter"
)

// Matcher is a serializable node predicate. Values are compared
// case-insensitively; Key is only used by MatchTag.
type Matcher struct {
	Kind   MatcherKind `json:"kind" yaml:"kind"`
	Key    string      `json:"key,omitempty" yaml:"key,omitempty"`
	Values []string    `json:"values" yaml:"values"`
}

// FallbackStrategy selects nodes when the matcher finds none.
type FallbackStrategy string

const (
	FallbackNone        FallbackStrategy = "none"
	FallbackNodeType    FallbackStrategy = "node_type"
	FallbackAnyOnline   FallbackStrategy = "any_online"
	FallbackLeastLoaded FallbackStrategy = "least_loaded"
)

// Fallback describes the secondary selection applied on an empty match.
type Fallback struct {
	Strategy  FallbackStrategy `json:"strategy" yaml:"strategy"`
	NodeTypes []string         `json:"nodeTypes,omitempty" yaml:"nodeTypes,omitempty"`
	Limit     int              `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// ServiceMetadata describes what a logical service is.
type ServiceMetadata struct {
	Kind     string `json:"kind" yaml:"kind"`
	Port     int    `json:"port" yaml:"port"`
	Protocol string `json:"protocol" yaml:"protocol"`
	Engine   string `json:"engine,omitempty" yaml:"engine,omitempty"`
	Category string `json:"category" yaml:"category"`
}

// IsZero reports whether no metadata is known.
func (m ServiceMetadata) IsZero() bool {
	return m == ServiceMetadata{}
}

// DiscoveryRule maps a logical service name onto physical nodes.
type DiscoveryRule struct {
	Service  string          `json:"service" yaml:"service"`
	Matcher  Matcher         `json:"matcher" yaml:"matcher"`
	Fallback Fallback        `json:"fallback" yaml:"fallback"`
	Metadata ServiceMetadata `json:"metadata" yaml:"metadata"`
}
