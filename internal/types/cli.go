package types

// OutputFormat selects how command results are rendered
type OutputFormat string

const (
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// GlobalFlags holds the persistent flags shared by every command
type GlobalFlags struct {
	Profile      string
	Backend      string
	SyncRoot     string
	Token        string
	OutputFormat OutputFormat
	Quiet        bool
	Verbose      bool
	Debug        bool
	Config       string
	LogFile      string
	DryRun       bool
	Yes          bool
	JSON         bool
	NoColor      bool
}

// CLIError is the stable, machine-readable error shape emitted by the CLI
type CLIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"httpStatus,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// CLIWarning is a non-fatal notice attached to command output
type CLIWarning struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// CLIOutput is the JSON envelope written for every command
type CLIOutput struct {
	SchemaVersion string       `json:"schemaVersion"`
	TraceID       string       `json:"traceId"`
	Command       string       `json:"command"`
	Data          interface{}  `json:"data"`
	Warnings      []CLIWarning `json:"warnings"`
	Errors        []CLIError   `json:"errors"`
}

// RequestType classifies outgoing API calls for logging and retry decisions
type RequestType string

const (
	RequestTypeListRoots    RequestType = "ListRoots"
	RequestTypeListChildren RequestType = "ListChildren"
	RequestTypeGetMetadata  RequestType = "GetMetadata"
	RequestTypeDownload     RequestType = "Download"
)

// RequestContext carries tracing information for a single logical API request
type RequestContext struct {
	Profile         string      `json:"profile"`
	Backend         string      `json:"backend"`
	InvolvedNodeIDs []string    `json:"involvedNodeIds"`
	RequestType     RequestType `json:"requestType"`
	TraceID         string      `json:"traceId"`
}
