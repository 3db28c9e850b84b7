package checker

// Kind selects a checker variant.
type Kind string

const (
	KindC        Kind = "c"
	KindCXX      Kind = "cxx"
	KindJava     Kind = "java"
	KindFortran  Kind = "fortran"
	KindCompiler Kind = "compiler"
	KindScript   Kind = "script"
)

// Definition is the authored configuration of one checker. It is read-only during a run.
type Definition struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	// Compiler fields. Empty values fall back to the kind's preset.
	Binary           string `json:"binary,omitempty"`
	Flags            string `json:"flags,omitempty"`
	OutputFlags      string `json:"output_flags,omitempty"`
	Libs             string `json:"libs,omitempty"`
	FilePattern      string `json:"file_pattern,omitempty"`
	ParseDiagnostics bool   `json:"parse_diagnostics,omitempty"`

	// Script fields. Script holds the content; ScriptKey names it in object storage and is
	// resolved into Script before the checker is built.
	Script      string `json:"script,omitempty"`
	ScriptKey   string `json:"script_key,omitempty"`
	ScriptName  string `json:"script_name,omitempty"`
	Remove      string `json:"remove,omitempty"`
	ReturnsHTML bool   `json:"returns_html,omitempty"`

	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}
