package types

// TableRenderer is implemented by results that can be shown as a table
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
	EmptyMessage() string
}

// TableRenderable is implemented by results that provide a separate renderer
type TableRenderable interface {
	AsTableRenderer() TableRenderer
}
