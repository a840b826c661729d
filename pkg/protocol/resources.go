package protocol

// Resource represents a readable resource exposed by the server
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate describes a family of resources by URI template (RFC 6570)
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents contains the content of a resource. Exactly one of Text or
// Blob (base64) is set.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ListResourcesParams defines parameters for resources/list
type ListResourcesParams struct {
	PaginatedParams
}

// ListResourcesResult defines the response for resources/list
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
	PaginatedResult
}

// ListResourceTemplatesParams defines parameters for resources/templates/list
type ListResourceTemplatesParams struct {
	PaginatedParams
}

// ListResourceTemplatesResult defines the response for resources/templates/list
type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
	PaginatedResult
}

// ReadResourceParams defines parameters for resources/read
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult defines the response for resources/read
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// SubscribeParams defines parameters for resources/subscribe and resources/unsubscribe
type SubscribeParams struct {
	URI string `json:"uri"`
}

// ResourceUpdatedParams defines parameters for notifications/resources/updated
type ResourceUpdatedParams struct {
	URI string `json:"uri"`
}
